// Package game implements the session manager: admission control, question
// sequencing, scoring, and broadcast triggers for independent in-memory
// game sessions. The in-memory state is authoritative; the persistence
// store mirrors it on a best-effort basis.
package game

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medquiz/kidneyrace/internal/domain"
	"github.com/medquiz/kidneyrace/internal/errors"
	"github.com/medquiz/kidneyrace/internal/event"
)

const defaultGracePeriod = 3 * time.Second

// Store mirrors session state into durable storage. Implementations must
// tolerate at-least-once delivery for everything except score increments,
// which the service guarantees to issue at most once per answer.
type Store interface {
	InsertSession(ctx context.Context, s *domain.Session) error
	InsertPlayer(ctx context.Context, sessionID string, p domain.Player) error
	RemovePlayer(ctx context.Context, sessionID, playerID string) error
	SetPlayerConnected(ctx context.Context, sessionID, playerID string, connected bool) error
	AddScore(ctx context.Context, sessionID, playerID string, team, points int) error
	InsertAnswer(ctx context.Context, rec domain.AnswerRecord) error
	UpdateSessionState(ctx context.Context, sessionID string, status domain.Status, currentQuestion int) error
	ResetScores(ctx context.Context, sessionID string) error
}

// Timer is an armed deferred action.
type Timer interface {
	Stop() bool
}

// Ticker drives the once-per-second countdown broadcast.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type Config struct {
	EventBus  *event.Bus
	Store     Store // optional, nil disables mirroring
	Questions []domain.Question

	// GracePeriod delays auto-advancement after the last connected player
	// answered, so clients can render the correct answer. Defaults to 3s.
	GracePeriod time.Duration

	// Injection points for tests. All optional.
	Now           func() time.Time
	NewTimerFunc  func(d time.Duration, f func()) Timer
	NewTickerFunc func(d time.Duration) Ticker
	NewJoinCode   func() string
}

// Service owns every live session. It is safe for concurrent use; each
// session serializes its own mutations so the timer-expiry and
// all-answered advancement triggers can never double-advance.
type Service struct {
	eb        *event.Bus
	store     Store
	questions []domain.Question
	grace     time.Duration

	now         func() time.Time
	newTimer    func(d time.Duration, f func()) Timer
	newTicker   func(d time.Duration) Ticker
	newJoinCode func() string

	mu       sync.RWMutex
	sessions map[string]*session
	byCode   map[string]string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:          c.EventBus,
		store:       c.Store,
		questions:   c.Questions,
		grace:       c.GracePeriod,
		now:         c.Now,
		newTimer:    c.NewTimerFunc,
		newTicker:   c.NewTickerFunc,
		newJoinCode: c.NewJoinCode,
		sessions:    make(map[string]*session),
		byCode:      make(map[string]string),
	}

	if s.grace <= 0 {
		s.grace = defaultGracePeriod
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newTimer == nil {
		s.newTimer = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}
	if s.newTicker == nil {
		s.newTicker = func(d time.Duration) Ticker {
			return tickerAdapter{time.NewTicker(d)}
		}
	}
	if s.newJoinCode == nil {
		s.newJoinCode = NewJoinCode
	}

	return s
}

type tickerAdapter struct {
	t *time.Ticker
}

func (a tickerAdapter) C() <-chan time.Time { return a.t.C }
func (a tickerAdapter) Stop()               { a.t.Stop() }

// session is the live state of one game. Everything behind mu; timer
// callbacks re-enter through the service and take the lock themselves.
type session struct {
	mu sync.Mutex

	id       string
	joinCode string
	status   domain.Status
	current  int
	started  time.Time // when the current question became active
	players  []*domain.Player
	answered map[string]struct{}
	revealed bool // question_ended already emitted for current question

	questionTimer Timer
	graceTimer    Timer
	tickStop      chan struct{}
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewJoinCode samples 6 uppercase-alphanumeric characters uniformly. No
// collision check against existing codes; at this scale that risk is
// accepted.
func NewJoinCode() string {
	b := make([]byte, 6)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			panic(fmt.Sprintf("game: read random: %v", err))
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b)
}

// CreateSession allocates a new session in waiting state with its five
// empty teams and a fresh join code.
func (s *Service) CreateSession(ctx context.Context) (*domain.Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	ss := &session{
		id:       id.String(),
		joinCode: s.newJoinCode(),
		status:   domain.StatusWaiting,
		current:  domain.NoQuestion,
		answered: make(map[string]struct{}),
	}

	// Snapshot before the session is reachable through the maps; once it is
	// registered, concurrent lookups may touch it.
	snap := ss.snapshotLocked()

	s.mu.Lock()
	s.sessions[ss.id] = ss
	s.byCode[ss.joinCode] = ss.id
	s.mu.Unlock()

	s.persist(ctx, "insert session", func(ctx context.Context) error {
		return s.store.InsertSession(ctx, snap)
	})

	return snap, nil
}

type GetSessionRequest struct {
	SessionID string
	JoinCode  string
}

// GetSession returns a point-in-time snapshot, looked up by identifier or
// join code.
func (s *Service) GetSession(_ context.Context, req GetSessionRequest) (*domain.Session, error) {
	ss, err := s.lookup(req.SessionID, req.JoinCode)
	if err != nil {
		return nil, err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.snapshotLocked(), nil
}

// RemoveSession tears a session down: timers disarmed, in-memory record
// dropped. The persisted history stays readable through the store.
func (s *Service) RemoveSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	ss, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
		delete(s.byCode, ss.joinCode)
	}
	s.mu.Unlock()

	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", sessionID))
	}

	ss.mu.Lock()
	ss.stopTimersLocked()
	ss.mu.Unlock()
	return nil
}

func (s *Service) lookup(sessionID, joinCode string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id := sessionID
	if id == "" {
		id = s.byCode[joinCode]
	}

	ss, ok := s.sessions[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: id=%s code=%s", sessionID, joinCode))
	}
	return ss, nil
}

// persist runs a best-effort store write. Gameplay continues on the
// in-memory state when the collaborator is down; the failure is logged.
func (s *Service) persist(ctx context.Context, op string, fn func(ctx context.Context) error) {
	if s.store == nil {
		return
	}

	if err := fn(context.WithoutCancel(ctx)); err != nil {
		slog.ErrorContext(ctx, "game: store write failed", "op", op, "error", err)
	}
}

// snapshotLocked copies the session into its externally visible shape,
// deriving team rosters and aggregate scores from player state.
func (ss *session) snapshotLocked() *domain.Session {
	snap := &domain.Session{
		SessionID:       ss.id,
		JoinCode:        ss.joinCode,
		Status:          ss.status,
		CurrentQuestion: ss.current,
		QuestionStart:   ss.started,
		Teams:           domain.DefaultTeams(),
		Players:         make([]domain.Player, 0, len(ss.players)),
	}

	for _, p := range ss.players {
		cp := *p
		if p.LastAnswer != nil {
			la := *p.LastAnswer
			cp.LastAnswer = &la
		}
		snap.Players = append(snap.Players, cp)

		t := &snap.Teams[p.Team]
		t.Members = append(t.Members, p.PlayerID)
		t.Score += p.Score
	}

	return snap
}

func (ss *session) findPlayerLocked(playerID string) *domain.Player {
	for _, p := range ss.players {
		if p.PlayerID == playerID {
			return p
		}
	}
	return nil
}

func (ss *session) stopTimersLocked() {
	if ss.questionTimer != nil {
		ss.questionTimer.Stop()
		ss.questionTimer = nil
	}
	if ss.graceTimer != nil {
		ss.graceTimer.Stop()
		ss.graceTimer = nil
	}
	if ss.tickStop != nil {
		close(ss.tickStop)
		ss.tickStop = nil
	}
}

func (s *Service) publish(ctx context.Context, e event.Event) {
	if s.eb != nil {
		s.eb.Publish(ctx, e)
	}
}
