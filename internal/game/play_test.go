package game_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medquiz/kidneyrace/internal/domain"
	"github.com/medquiz/kidneyrace/internal/errors"
	"github.com/medquiz/kidneyrace/internal/event"
	"github.com/medquiz/kidneyrace/internal/game"
)

func TestService_StartGame(t *testing.T) {
	t.Run("should reject starting with no players", func(t *testing.T) {
		s, _ := makeService(t)
		sess, err := s.CreateSession(context.Background())
		require.NoError(t, err)

		err = s.StartGame(context.Background(), game.StartGameRequest{SessionID: sess.SessionID})
		require.True(t, errors.Is(err, errors.CodeFailedPrecondition), "got error: %v", err)
	})

	t.Run("should activate the first question", func(t *testing.T) {
		s, f := makeService(t)
		sess := makeStartedSession(t, s, "Ana")

		got, err := s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPlaying, got.Status)
		assert.Equal(t, 0, got.CurrentQuestion)
		assert.Equal(t, f.clock.Now(), got.QuestionStart)
		assert.Equal(t, 1, f.timers.liveCount(), "exactly the question expiry timer should be armed")
	})

	t.Run("should reject starting twice", func(t *testing.T) {
		s, _ := makeService(t)
		sess := makeStartedSession(t, s, "Ana")

		err := s.StartGame(context.Background(), game.StartGameRequest{SessionID: sess.SessionID})
		require.True(t, errors.Is(err, errors.CodeFailedPrecondition), "got error: %v", err)
	})
}

func TestService_SubmitAnswer(t *testing.T) {
	type inputs struct {
		advance time.Duration
		req     game.SubmitAnswerRequest
	}

	tests := map[string]struct {
		arrange func(sessionID, playerID string) inputs
		wantErr errors.Code
		assert  func(t *testing.T, resp *game.SubmitAnswerResponse)
	}{
		"correct answer at the opening instant scores full points": {
			arrange: func(sessionID, playerID string) inputs {
				return inputs{
					req: game.SubmitAnswerRequest{SessionID: sessionID, PlayerID: playerID, Question: 0, Option: 0},
				}
			},
			assert: func(t *testing.T, resp *game.SubmitAnswerResponse) {
				assert.True(t, resp.IsCorrect)
				assert.Equal(t, 15, resp.Points)
				assert.Equal(t, 15, resp.TotalScore)
			},
		},

		"correct answer after 2 of 20 seconds scores the decayed value": {
			arrange: func(sessionID, playerID string) inputs {
				return inputs{
					advance: 2 * time.Second,
					req:     game.SubmitAnswerRequest{SessionID: sessionID, PlayerID: playerID, Question: 0, Option: 0},
				}
			},
			assert: func(t *testing.T, resp *game.SubmitAnswerResponse) {
				assert.True(t, resp.IsCorrect)
				assert.Equal(t, 14, resp.Points)
			},
		},

		"wrong answer scores nothing": {
			arrange: func(sessionID, playerID string) inputs {
				return inputs{
					req: game.SubmitAnswerRequest{SessionID: sessionID, PlayerID: playerID, Question: 0, Option: 3},
				}
			},
			assert: func(t *testing.T, resp *game.SubmitAnswerResponse) {
				assert.False(t, resp.IsCorrect)
				assert.Zero(t, resp.Points)
				assert.Zero(t, resp.TotalScore)
			},
		},

		"stale question index is rejected": {
			arrange: func(sessionID, playerID string) inputs {
				return inputs{
					req: game.SubmitAnswerRequest{SessionID: sessionID, PlayerID: playerID, Question: 2, Option: 0},
				}
			},
			wantErr: errors.CodeFailedPrecondition,
		},

		"unknown player is rejected": {
			arrange: func(sessionID, playerID string) inputs {
				return inputs{
					req: game.SubmitAnswerRequest{SessionID: sessionID, PlayerID: "ghost", Question: 0, Option: 0},
				}
			},
			wantErr: errors.CodeNotFound,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			s, f := makeService(t)
			sess := makeStartedSession(t, s, "Ana", "Bob")

			got, err := s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
			require.NoError(t, err)

			in := tt.arrange(sess.SessionID, got.Players[0].PlayerID)
			f.clock.Advance(in.advance)

			resp, err := s.SubmitAnswer(context.Background(), in.req)
			if tt.wantErr != 0 {
				require.True(t, errors.Is(err, tt.wantErr), "got error: %v", err)
				return
			}
			require.NoError(t, err)
			tt.assert(t, resp)
		})
	}
}

func TestService_SubmitAnswer_FirstAnswerWins(t *testing.T) {
	s, _ := makeService(t)
	sess := makeStartedSession(t, s, "Ana", "Bob")

	got, err := s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)
	ana := got.Players[0].PlayerID

	resp, err := s.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		SessionID: sess.SessionID, PlayerID: ana, Question: 0, Option: 3,
	})
	require.NoError(t, err)
	require.False(t, resp.IsCorrect)

	// A second try, even a correct one, changes nothing.
	_, err = s.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		SessionID: sess.SessionID, PlayerID: ana, Question: 0, Option: 0,
	})
	require.True(t, errors.Is(err, errors.CodeAlreadyExists), "got error: %v", err)

	got, err = s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)
	assert.Zero(t, got.Players[0].Score)
	require.NotNil(t, got.Players[0].LastAnswer)
	assert.Equal(t, 3, got.Players[0].LastAnswer.Option)
}

func TestService_SubmitAnswer_ScoresStoredAtMostOnce(t *testing.T) {
	st := &recordingStore{}
	s, _ := makeService(t, withStore(st))
	sess := makeStartedSession(t, s, "Ana", "Bob")

	got, err := s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)
	ana, bob := got.Players[0].PlayerID, got.Players[1].PlayerID

	_, err = s.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		SessionID: sess.SessionID, PlayerID: ana, Question: 0, Option: 0,
	})
	require.NoError(t, err)

	_, err = s.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		SessionID: sess.SessionID, PlayerID: ana, Question: 0, Option: 0,
	})
	require.True(t, errors.Is(err, errors.CodeAlreadyExists))

	// A wrong answer is logged but never writes a score increment.
	_, err = s.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		SessionID: sess.SessionID, PlayerID: bob, Question: 0, Option: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, st.count("AddScore"))
	assert.Equal(t, 2, st.count("InsertAnswer"))
}

func TestService_TeamScoresSumPlayerScores(t *testing.T) {
	s, f := makeService(t)
	sess := makeStartedSession(t, s, "Ana", "Bob", "Cleo", "Dann")

	got, err := s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)

	for i, p := range got.Players {
		opt := 0
		if i%2 == 1 {
			opt = 3 // wrong on purpose
		}
		f.clock.Advance(time.Second)
		_, err := s.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
			SessionID: sess.SessionID, PlayerID: p.PlayerID, Question: 0, Option: opt,
		})
		require.NoError(t, err)
	}

	got, err = s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)

	byPlayer := make(map[string]int)
	for _, p := range got.Players {
		byPlayer[p.PlayerID] = p.Score
	}
	total := 0
	for _, team := range got.Teams {
		sum := 0
		for _, m := range team.Members {
			sum += byPlayer[m]
		}
		assert.Equal(t, sum, team.Score, "team %s", team.Name)
		total += team.Score
	}
	playerTotal := 0
	for _, sc := range byPlayer {
		playerTotal += sc
	}
	assert.Equal(t, playerTotal, total)
}

func TestService_AllAnsweredEndsQuestionAfterGrace(t *testing.T) {
	eb := event.NewBus()
	var (
		mu    sync.Mutex
		ended []domain.EventQuestionEnded
	)
	eb.Subscribe(domain.EventNameQuestionEnded, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		ended = append(ended, e.(domain.EventQuestionEnded))
		mu.Unlock()
		return nil
	})

	s, f := makeService(t, withEventBus(eb))
	sess := makeStartedSession(t, s, "Ana", "Bob")

	got, err := s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)

	for _, p := range got.Players {
		_, err := s.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
			SessionID: sess.SessionID, PlayerID: p.PlayerID, Question: 0, Option: 0,
		})
		require.NoError(t, err)
	}

	// Still on question 0 during the grace period.
	got, err = s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentQuestion)

	f.timers.fireLast(t) // grace expiry

	got, err = s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentQuestion)

	eb.Stop()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ended, 1)
	assert.Equal(t, 0, ended[0].Index)
	assert.Equal(t, 0, ended[0].Correct)
}

func TestService_TimerExpiryAdvances(t *testing.T) {
	s, f := makeService(t)
	sess := makeStartedSession(t, s, "Ana")

	f.clock.Advance(20 * time.Second)
	f.timers.fireLast(t) // question 0 expiry

	got, err := s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPlaying, got.Status)
	assert.Equal(t, 1, got.CurrentQuestion)
}

func TestService_AdvanceQuestion_StaleIndexIsNoOp(t *testing.T) {
	s, _ := makeService(t)
	sess := makeStartedSession(t, s, "Ana")

	err := s.AdvanceQuestion(context.Background(), game.AdvanceQuestionRequest{
		SessionID: sess.SessionID, FromQuestion: 0,
	})
	require.NoError(t, err)

	// A second trigger for the already-ended question must not skip ahead.
	err = s.AdvanceQuestion(context.Background(), game.AdvanceQuestionRequest{
		SessionID: sess.SessionID, FromQuestion: 0,
	})
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition), "got error: %v", err)

	got, err := s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentQuestion)
}

func TestService_GameFinishesAfterLastQuestion(t *testing.T) {
	eb := event.NewBus()
	var (
		mu    sync.Mutex
		final *domain.EventGameEnded
	)
	eb.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		ge := e.(domain.EventGameEnded)
		mu.Lock()
		final = &ge
		mu.Unlock()
		return nil
	})

	s, _ := makeService(t, withEventBus(eb))
	sess := makeStartedSession(t, s, "Ana")

	for q := 0; q < len(testQuestions()); q++ {
		err := s.AdvanceQuestion(context.Background(), game.AdvanceQuestionRequest{
			SessionID: sess.SessionID, FromQuestion: q,
		})
		require.NoError(t, err)
	}

	got, err := s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, got.Status)
	assert.Equal(t, len(testQuestions()), got.CurrentQuestion)

	// No answers are accepted once the game finished.
	_, err = s.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		SessionID: sess.SessionID, PlayerID: got.Players[0].PlayerID, Question: 2, Option: 0,
	})
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition))

	eb.Stop()
	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, final)
	assert.Equal(t, domain.StatusFinished, final.Session.Status)
}

func TestService_SingleQuestionDeck(t *testing.T) {
	s, f := makeService(t, withQuestions(testQuestions()[:1]))
	sess := makeStartedSession(t, s, "Ana")

	got, err := s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)

	_, err = s.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		SessionID: sess.SessionID, PlayerID: got.Players[0].PlayerID, Question: 0, Option: 0,
	})
	require.NoError(t, err)

	f.timers.fireLast(t) // grace after the only player answered

	got, err = s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, got.Status)
	assert.Equal(t, 1, got.CurrentQuestion)
}

func TestService_ResetGame(t *testing.T) {
	s, f := makeService(t)
	sess := makeStartedSession(t, s, "Ana", "Bob")

	got, err := s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)

	_, err = s.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		SessionID: sess.SessionID, PlayerID: got.Players[0].PlayerID, Question: 0, Option: 0,
	})
	require.NoError(t, err)

	err = s.ResetGame(context.Background(), game.ResetGameRequest{SessionID: sess.SessionID})
	require.NoError(t, err)

	got, err = s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, got.Status)
	assert.Equal(t, domain.NoQuestion, got.CurrentQuestion)
	require.Len(t, got.Players, 2, "roster survives the reset")
	for _, p := range got.Players {
		assert.Zero(t, p.Score)
		assert.Nil(t, p.LastAnswer)
	}
	for _, team := range got.Teams {
		assert.Zero(t, team.Score)
	}
	assert.Zero(t, f.timers.liveCount(), "reset disarms all timers")

	// Ended questions no longer advance after a reset.
	err = s.AdvanceQuestion(context.Background(), game.AdvanceQuestionRequest{
		SessionID: sess.SessionID, FromQuestion: 0,
	})
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition))
}

func TestService_DisconnectedPlayerDoesNotBlockQuestion(t *testing.T) {
	s, f := makeService(t)
	sess := makeStartedSession(t, s, "Ana", "Bob")

	got, err := s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)
	ana, bob := got.Players[0].PlayerID, got.Players[1].PlayerID

	_, err = s.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		SessionID: sess.SessionID, PlayerID: ana, Question: 0, Option: 0,
	})
	require.NoError(t, err)

	// Bob drops; Ana is now the only connected player and has answered.
	require.NoError(t, s.SetConnected(context.Background(), sess.SessionID, bob, false))

	f.timers.fireLast(t) // grace expiry armed by the disconnect

	got, err = s.GetSession(context.Background(), game.GetSessionRequest{SessionID: sess.SessionID})
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentQuestion)
}

// recordingStore counts store writes per operation.
type recordingStore struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recordingStore) record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[op]++
}

func (r *recordingStore) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *recordingStore) InsertSession(ctx context.Context, s *domain.Session) error {
	r.record("InsertSession")
	return nil
}

func (r *recordingStore) InsertPlayer(ctx context.Context, sessionID string, p domain.Player) error {
	r.record("InsertPlayer")
	return nil
}

func (r *recordingStore) RemovePlayer(ctx context.Context, sessionID, playerID string) error {
	r.record("RemovePlayer")
	return nil
}

func (r *recordingStore) SetPlayerConnected(ctx context.Context, sessionID, playerID string, connected bool) error {
	r.record("SetPlayerConnected")
	return nil
}

func (r *recordingStore) AddScore(ctx context.Context, sessionID, playerID string, team, points int) error {
	r.record("AddScore")
	return nil
}

func (r *recordingStore) InsertAnswer(ctx context.Context, rec domain.AnswerRecord) error {
	r.record("InsertAnswer")
	return nil
}

func (r *recordingStore) UpdateSessionState(ctx context.Context, sessionID string, status domain.Status, currentQuestion int) error {
	r.record("UpdateSessionState")
	return nil
}

func (r *recordingStore) ResetScores(ctx context.Context, sessionID string) error {
	r.record("ResetScores")
	return nil
}
