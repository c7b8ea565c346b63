package game

import (
	"context"
	"time"

	"github.com/medquiz/kidneyrace/internal/domain"
	"github.com/medquiz/kidneyrace/internal/errors"
)

type StartGameRequest struct {
	SessionID string
}

// StartGame moves a waiting session with at least one player into playing
// state and activates the first question.
func (s *Service) StartGame(ctx context.Context, req StartGameRequest) error {
	ss, err := s.lookup(req.SessionID, "")
	if err != nil {
		return err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.status != domain.StatusWaiting {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("cannot start a %s game", ss.status))
	}
	if len(ss.players) == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("at least 1 player is required to start"))
	}

	ss.status = domain.StatusPlaying
	s.startQuestionLocked(ctx, ss, 0)
	return nil
}

type SubmitAnswerRequest struct {
	SessionID string
	PlayerID  string
	Question  int
	Option    int

	// ClientElapsed is the client-reported time to answer. It is recorded
	// in the answer log only; scoring uses the server clock.
	ClientElapsed time.Duration
}

type SubmitAnswerResponse struct {
	IsCorrect  bool
	Points     int
	TotalScore int
	Answered   int
	Players    int
}

// SubmitAnswer grades a player's first answer to the current question.
// First answer per player per question wins; repeats are rejected without
// changing any score.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	ss, err := s.lookup(req.SessionID, "")
	if err != nil {
		return nil, err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.status != domain.StatusPlaying {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("game is not playing"))
	}

	p := ss.findPlayerLocked(req.PlayerID)
	if p == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: %s", req.PlayerID))
	}

	if req.Question != ss.current {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("stale submission for question %d, current is %d", req.Question, ss.current))
	}
	if _, ok := ss.answered[req.PlayerID]; ok {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("answer already submitted: player=%s question=%d", req.PlayerID, req.Question))
	}

	q := s.questions[ss.current]
	elapsed := s.now().Sub(ss.started)
	isCorrect := req.Option == q.Correct

	points := 0
	if isCorrect {
		points = SpeedAdjustedPoints(q.Points, q.TimeLimit, elapsed)
	}

	p.Score += points
	p.LastAnswer = &domain.LastAnswer{
		Question:   req.Question,
		Option:     req.Option,
		IsCorrect:  isCorrect,
		Points:     points,
		AnsweredAt: s.now(),
	}
	ss.answered[req.PlayerID] = struct{}{}

	responseTime := req.ClientElapsed
	if responseTime <= 0 {
		responseTime = elapsed
	}
	s.persist(ctx, "insert answer", func(ctx context.Context) error {
		return s.store.InsertAnswer(ctx, domain.AnswerRecord{
			SessionID:    ss.id,
			PlayerID:     req.PlayerID,
			Question:     req.Question,
			Option:       req.Option,
			IsCorrect:    isCorrect,
			ResponseTime: responseTime,
			Points:       points,
		})
	})
	if points > 0 {
		// The answered-set check above guarantees this increment is issued
		// at most once per (player, question); a replay would double-count.
		s.persist(ctx, "add score", func(ctx context.Context) error {
			return s.store.AddScore(ctx, ss.id, req.PlayerID, p.Team, points)
		})
	}

	snap := ss.snapshotLocked()
	s.publish(ctx, domain.EventSessionUpdated{Session: *snap})

	s.maybeFinishQuestionLocked(ctx, ss)

	return &SubmitAnswerResponse{
		IsCorrect:  isCorrect,
		Points:     points,
		TotalScore: p.Score,
		Answered:   len(ss.answered),
		Players:    len(ss.players),
	}, nil
}

type AdvanceQuestionRequest struct {
	SessionID string

	// FromQuestion names the question the caller intends to end. A stale
	// index is rejected, which is what keeps the timer-expiry and
	// all-answered triggers from double-advancing.
	FromQuestion int
}

// AdvanceQuestion moves the session past FromQuestion: on to the next
// question, or into finished state after the last one.
func (s *Service) AdvanceQuestion(ctx context.Context, req AdvanceQuestionRequest) error {
	return s.advance(ctx, req.SessionID, req.FromQuestion)
}

func (s *Service) advance(ctx context.Context, sessionID string, fromQuestion int) error {
	ss, err := s.lookup(sessionID, "")
	if err != nil {
		return err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.status != domain.StatusPlaying {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("game is not playing"))
	}
	if ss.current != fromQuestion {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("stale advance from question %d, current is %d", fromQuestion, ss.current))
	}

	if !ss.revealed {
		ss.revealed = true
		s.publish(ctx, domain.EventQuestionEnded{
			SessionID: ss.id,
			Index:     ss.current,
			Correct:   s.questions[ss.current].Correct,
		})
	}

	ss.stopTimersLocked()

	next := fromQuestion + 1
	if next >= len(s.questions) {
		ss.status = domain.StatusFinished
		ss.current = next

		s.persist(ctx, "finish session", func(ctx context.Context) error {
			return s.store.UpdateSessionState(ctx, ss.id, domain.StatusFinished, next)
		})
		s.publish(ctx, domain.EventGameEnded{Session: *ss.snapshotLocked()})
		return nil
	}

	s.startQuestionLocked(ctx, ss, next)
	return nil
}

type ResetGameRequest struct {
	SessionID string
}

// ResetGame returns the session to waiting: all scores and answer state
// cleared, roster and team assignments preserved.
func (s *Service) ResetGame(ctx context.Context, req ResetGameRequest) error {
	ss, err := s.lookup(req.SessionID, "")
	if err != nil {
		return err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	s.resetLocked(ctx, ss)
	return nil
}

func (s *Service) resetLocked(ctx context.Context, ss *session) {
	ss.stopTimersLocked()
	ss.status = domain.StatusWaiting
	ss.current = domain.NoQuestion
	ss.started = time.Time{}
	ss.answered = make(map[string]struct{})
	ss.revealed = false
	for _, p := range ss.players {
		p.Score = 0
		p.LastAnswer = nil
	}

	s.persist(ctx, "reset scores", func(ctx context.Context) error {
		return s.store.ResetScores(ctx, ss.id)
	})
	s.persist(ctx, "reset session state", func(ctx context.Context) error {
		return s.store.UpdateSessionState(ctx, ss.id, domain.StatusWaiting, domain.NoQuestion)
	})

	s.publish(ctx, domain.EventGameReset{Session: *ss.snapshotLocked()})
}

// startQuestionLocked activates question index: fresh answered-set, new
// start timestamp, armed expiry timer, countdown broadcast.
func (s *Service) startQuestionLocked(ctx context.Context, ss *session, index int) {
	ss.stopTimersLocked()

	q := s.questions[index]
	ss.current = index
	ss.started = s.now()
	ss.answered = make(map[string]struct{})
	ss.revealed = false
	for _, p := range ss.players {
		p.LastAnswer = nil
	}

	id := ss.id
	ss.questionTimer = s.newTimer(q.TimeLimit, func() {
		s.advanceFromTrigger(id, index)
	})

	stop := make(chan struct{})
	ss.tickStop = stop
	go s.runCountdown(id, ss.started.Add(q.TimeLimit), stop)

	s.persist(ctx, "update session state", func(ctx context.Context) error {
		return s.store.UpdateSessionState(ctx, ss.id, domain.StatusPlaying, index)
	})

	if index == 0 {
		s.publish(ctx, domain.EventGameStarted{SessionID: ss.id, Question: q, Index: index})
	} else {
		s.publish(ctx, domain.EventQuestionStarted{SessionID: ss.id, Question: q, Index: index})
	}
}

// maybeFinishQuestionLocked reveals the correct answer and arms the grace
// timer once every connected player has answered the current question.
func (s *Service) maybeFinishQuestionLocked(ctx context.Context, ss *session) {
	if ss.revealed || ss.status != domain.StatusPlaying {
		return
	}

	connected := 0
	waiting := 0
	for _, p := range ss.players {
		if !p.Connected {
			continue
		}
		connected++
		if _, ok := ss.answered[p.PlayerID]; !ok {
			waiting++
		}
	}
	if connected == 0 || waiting > 0 {
		return
	}

	ss.revealed = true
	s.publish(ctx, domain.EventQuestionEnded{
		SessionID: ss.id,
		Index:     ss.current,
		Correct:   s.questions[ss.current].Correct,
	})

	// The question is decided; its expiry timer has nothing left to do.
	if ss.questionTimer != nil {
		ss.questionTimer.Stop()
		ss.questionTimer = nil
	}
	if ss.tickStop != nil {
		close(ss.tickStop)
		ss.tickStop = nil
	}

	id, index := ss.id, ss.current
	ss.graceTimer = s.newTimer(s.grace, func() {
		s.advanceFromTrigger(id, index)
	})
}

// advanceFromTrigger is the entry point for timer callbacks. A trigger
// firing after the session already advanced, was reset, or was torn down
// is a no-op.
func (s *Service) advanceFromTrigger(sessionID string, fromQuestion int) {
	_ = s.advance(context.Background(), sessionID, fromQuestion)
}

func (s *Service) runCountdown(sessionID string, deadline time.Time, stop <-chan struct{}) {
	t := s.newTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C():
			remaining := int(deadline.Sub(s.now()).Round(time.Second) / time.Second)
			if remaining < 0 {
				return
			}
			s.publish(context.Background(), domain.EventTimerTick{
				SessionID: sessionID,
				Remaining: remaining,
			})
			if remaining == 0 {
				return
			}
		}
	}
}
