package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medquiz/kidneyrace/internal/domain"
	"github.com/medquiz/kidneyrace/internal/errors"
	"github.com/medquiz/kidneyrace/internal/game"
	"github.com/medquiz/kidneyrace/internal/ws"
)

// socketMessage is the single inbound frame shape. Type selects the
// action; the other fields are read as that action needs them.
type socketMessage struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Team      int    `json:"team"`
	PlayerID  string `json:"player_id,omitempty"`
	Question  int    `json:"question"`
	Option    int    `json:"option"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

func (a *API) handleSocket(c *gin.Context) {
	sessionID := c.Param("session")

	// Reject unknown sessions before paying for the upgrade.
	if _, err := a.game.GetSession(c.Request.Context(), game.GetSessionRequest{SessionID: sessionID}); err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "api: websocket upgrade failed", "error", err)
		return
	}

	client := a.hub.Add(sessionID, conn)
	defer a.dropClient(client)

	for {
		data, err := client.Read()
		if err != nil {
			return
		}

		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			a.sendError(client, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("malformed message"), errors.WithCause(err)))
			continue
		}

		a.dispatch(context.Background(), client, msg)
	}
}

func (a *API) dispatch(ctx context.Context, client *ws.Client, msg socketMessage) {
	sessionID := client.SessionID()

	var err error
	switch msg.Type {
	case "join_session":
		var resp *game.JoinSessionResponse
		resp, err = a.game.JoinSession(ctx, game.JoinSessionRequest{
			SessionID: sessionID,
			Name:      msg.Name,
			Team:      msg.Team,
		})
		if err == nil {
			client.PlayerID = resp.Player.PlayerID
			a.send(client, eventJoined, map[string]any{
				"player": playerList([]domain.Player{resp.Player})[0],
			})
		}

	case "identify":
		// Reconnect path: rebind an existing player to this connection.
		err = a.game.SetConnected(ctx, sessionID, msg.PlayerID, true)
		if err == nil {
			client.PlayerID = msg.PlayerID
		}

	case "leave_session":
		err = a.game.LeaveSession(ctx, game.LeaveSessionRequest{
			SessionID: sessionID,
			PlayerID:  client.PlayerID,
		})
		if err == nil {
			client.PlayerID = ""
		}

	case "start_game":
		err = a.game.StartGame(ctx, game.StartGameRequest{SessionID: sessionID})

	case "submit_answer":
		var resp *game.SubmitAnswerResponse
		resp, err = a.game.SubmitAnswer(ctx, game.SubmitAnswerRequest{
			SessionID:     sessionID,
			PlayerID:      client.PlayerID,
			Question:      msg.Question,
			Option:        msg.Option,
			ClientElapsed: time.Duration(msg.ElapsedMs) * time.Millisecond,
		})
		if err == nil {
			a.send(client, "answer_submitted", map[string]any{
				"is_correct": resp.IsCorrect,
				"points":     resp.Points,
				"new_score":  resp.TotalScore,
				"answered":   resp.Answered,
				"players":    resp.Players,
			})
		}

	case "next_question":
		err = a.game.AdvanceQuestion(ctx, game.AdvanceQuestionRequest{
			SessionID:    sessionID,
			FromQuestion: msg.Question,
		})

	case "reset_game":
		err = a.game.ResetGame(ctx, game.ResetGameRequest{SessionID: sessionID})

	default:
		err = errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown action: %q", msg.Type))
	}

	if err != nil {
		a.sendError(client, err)
	}
}

// dropClient runs when a connection goes away: the player keeps their
// roster slot but is flagged disconnected.
func (a *API) dropClient(client *ws.Client) {
	client.Close()

	if client.PlayerID == "" {
		return
	}
	if err := a.game.SetConnected(context.Background(), client.SessionID(), client.PlayerID, false); err != nil {
		slog.Error("api: mark player disconnected failed",
			"session", client.SessionID(),
			"player", client.PlayerID,
			"error", err,
		)
	}
}

// send delivers a notification to one connection only.
func (a *API) send(client *ws.Client, event string, data any) {
	b, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		slog.Error("api: marshal notification failed", "event", event, "error", err)
		return
	}
	client.Send(b)
}

func (a *API) sendError(client *ws.Client, err error) {
	e := errors.Convert(err)
	a.send(client, eventError, map[string]any{
		"message": e.Message,
	})
}
