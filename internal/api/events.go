package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medquiz/kidneyrace/internal/domain"
	"github.com/medquiz/kidneyrace/internal/event"
)

func (a *API) subscribe(eb *event.Bus) {
	eb.Subscribe(domain.EventNamePlayerJoined, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventPlayerJoined)
		return a.broadcast(ctx, ev.Session.SessionID, eventSessionUpdate, snapshot(ev.Session))
	})

	eb.Subscribe(domain.EventNamePlayerLeft, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventPlayerLeft)
		return a.broadcast(ctx, ev.Session.SessionID, eventSessionUpdate, snapshot(ev.Session))
	})

	eb.Subscribe(domain.EventNameSessionUpdated, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventSessionUpdated)
		return a.broadcast(ctx, ev.Session.SessionID, eventSessionUpdate, snapshot(ev.Session))
	})

	eb.Subscribe(domain.EventNameGameStarted, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventGameStarted)
		return a.broadcast(ctx, ev.SessionID, eventGameStarted, map[string]any{
			"question":       question(ev.Question),
			"question_index": ev.Index,
		})
	})

	eb.Subscribe(domain.EventNameQuestionStarted, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventQuestionStarted)
		return a.broadcast(ctx, ev.SessionID, eventNewQuestion, map[string]any{
			"question":       question(ev.Question),
			"question_index": ev.Index,
		})
	})

	eb.Subscribe(domain.EventNameTimerTick, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventTimerTick)
		return a.broadcast(ctx, ev.SessionID, eventTimerUpdate, ev.Remaining)
	})

	eb.Subscribe(domain.EventNameQuestionEnded, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventQuestionEnded)
		return a.broadcast(ctx, ev.SessionID, eventQuestionEnded, map[string]any{
			"question_index": ev.Index,
			"correct_answer": ev.Correct,
		})
	})

	eb.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventGameEnded)
		return a.broadcast(ctx, ev.Session.SessionID, eventGameEnded, snapshot(ev.Session))
	})

	eb.Subscribe(domain.EventNameGameReset, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventGameReset)
		return a.broadcast(ctx, ev.Session.SessionID, eventGameReset, snapshot(ev.Session))
	})
}

// broadcast fans a notification out to the session's websocket room and,
// when configured, mirrors it to the session's Redis channel.
func (a *API) broadcast(ctx context.Context, sessionID, event string, data any) error {
	b, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("broadcast: marshal %s: %v", event, err)
	}

	a.hub.Broadcast(sessionID, b)

	if a.redis == nil {
		return nil
	}
	return a.redis.Publish(ctx, a.sessionChannel(sessionID), b).Err()
}

func (a *API) sessionChannel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", a.prefix, sessionID)
}
