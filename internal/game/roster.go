package game

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/medquiz/kidneyrace/internal/domain"
	"github.com/medquiz/kidneyrace/internal/errors"
)

type JoinSessionRequest struct {
	SessionID string
	Name      string
	Team      int
}

type JoinSessionResponse struct {
	Player  domain.Player
	Session domain.Session
}

// JoinSession admits a player to a waiting session. The join is atomic:
// every check passes or nothing changes.
func (s *Service) JoinSession(ctx context.Context, req JoinSessionRequest) (*JoinSessionResponse, error) {
	ss, err := s.lookup(req.SessionID, "")
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.status != domain.StatusWaiting {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("game already %s, joins are closed", ss.status))
	}
	if utf8.RuneCountInString(name) < 2 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("name must have at least 2 characters"))
	}
	if req.Team < 0 || req.Team >= domain.TeamCount {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("team index %d out of range [0,%d)", req.Team, domain.TeamCount))
	}
	if len(ss.players) >= domain.MaxPlayers {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("session is full (max %d players)", domain.MaxPlayers))
	}

	teamSize := 0
	for _, p := range ss.players {
		if p.Team == req.Team {
			teamSize++
		}
		if p.Connected && strings.EqualFold(p.Name, name) {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("name %q is already taken", name))
		}
	}
	if teamSize >= domain.MaxTeamSize {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("team is full (max %d per team)", domain.MaxTeamSize))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate player ID: %w", err)
	}

	p := &domain.Player{
		PlayerID:  id.String(),
		Name:      name,
		Team:      req.Team,
		Connected: true,
		JoinedAt:  s.now(),
	}
	ss.players = append(ss.players, p)

	snap := ss.snapshotLocked()
	s.persist(ctx, "insert player", func(ctx context.Context) error {
		return s.store.InsertPlayer(ctx, ss.id, *p)
	})

	s.publish(ctx, domain.EventPlayerJoined{Session: *snap, Player: *p})

	return &JoinSessionResponse{Player: *p, Session: *snap}, nil
}

type LeaveSessionRequest struct {
	SessionID string
	PlayerID  string
}

// LeaveSession removes a player from the roster. An emptied session falls
// back to waiting with scores cleared.
func (s *Service) LeaveSession(ctx context.Context, req LeaveSessionRequest) error {
	ss, err := s.lookup(req.SessionID, "")
	if err != nil {
		return err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	idx := -1
	for i, p := range ss.players {
		if p.PlayerID == req.PlayerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: %s", req.PlayerID))
	}

	ss.players = append(ss.players[:idx], ss.players[idx+1:]...)
	delete(ss.answered, req.PlayerID)

	s.persist(ctx, "remove player", func(ctx context.Context) error {
		return s.store.RemovePlayer(ctx, ss.id, req.PlayerID)
	})

	if len(ss.players) == 0 {
		s.resetLocked(ctx, ss)
		return nil
	}

	snap := ss.snapshotLocked()
	s.publish(ctx, domain.EventPlayerLeft{Session: *snap, PlayerID: req.PlayerID})

	// The departed player may have been the last one holding up the
	// current question.
	if ss.status == domain.StatusPlaying {
		s.maybeFinishQuestionLocked(ctx, ss)
	}

	return nil
}

// SetConnected flips a player's connection flag, typically on websocket
// drop. Disconnected players keep their roster slot and score but are
// excluded from the duplicate-name check and the all-answered count.
func (s *Service) SetConnected(ctx context.Context, sessionID, playerID string, connected bool) error {
	ss, err := s.lookup(sessionID, "")
	if err != nil {
		return err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	p := ss.findPlayerLocked(playerID)
	if p == nil {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: %s", playerID))
	}
	if p.Connected == connected {
		return nil
	}
	p.Connected = connected

	s.persist(ctx, "set player connected", func(ctx context.Context) error {
		return s.store.SetPlayerConnected(ctx, ss.id, playerID, connected)
	})

	snap := ss.snapshotLocked()
	s.publish(ctx, domain.EventSessionUpdated{Session: *snap})

	if ss.status == domain.StatusPlaying {
		s.maybeFinishQuestionLocked(ctx, ss)
	}

	return nil
}
