// Package api exposes the session manager over HTTP and websocket rooms,
// and mirrors broadcast events to Redis pub/sub.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/medquiz/kidneyrace/internal/domain"
	"github.com/medquiz/kidneyrace/internal/errors"
	"github.com/medquiz/kidneyrace/internal/event"
	"github.com/medquiz/kidneyrace/internal/game"
	"github.com/medquiz/kidneyrace/internal/ws"
)

// History serves finished sessions whose in-memory record is gone.
type History interface {
	SessionByJoinCode(ctx context.Context, joinCode string) (*domain.Session, error)
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Game         *game.Service
	Hub          *ws.Hub
	History      History // optional
	Redis        Redis   // optional
	PubsubPrefix string
}

type API struct {
	game    *game.Service
	hub     *ws.Hub
	history History

	redis  Redis
	prefix string

	upgrader websocket.Upgrader
}

func New(c Config) *API {
	a := &API{
		game:    c.Game,
		hub:     c.Hub,
		history: c.History,
		redis:   c.Redis,
		prefix:  c.PubsubPrefix,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := c.Router
	r.GET("/api/health", a.health)
	r.POST("/api/sessions", a.createSession)
	r.GET("/api/sessions/:code", a.getSession)
	r.DELETE("/api/sessions/:id", a.removeSession)
	r.GET("/ws/:session", a.handleSocket)

	a.subscribe(c.EventBus)

	return a
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) createSession(c *gin.Context) {
	snap, err := a.game.CreateSession(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": sessionInfo(snap),
	})
}

// getSession resolves a join code against live sessions first, then the
// persisted history of torn-down games.
func (a *API) getSession(c *gin.Context) {
	code := c.Param("code")

	snap, err := a.game.GetSession(c.Request.Context(), game.GetSessionRequest{JoinCode: code})
	if err != nil && a.history != nil && errors.Is(err, errors.CodeNotFound) {
		snap, err = a.history.SessionByJoinCode(c.Request.Context(), code)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": sessionInfo(snap),
		"players": playerList(snap.Players),
		"teams":   teamList(snap.Teams),
	})
}

// removeSession is the operator teardown: the in-memory record and its
// websocket room go away, the persisted history stays readable by code.
func (a *API) removeSession(c *gin.Context) {
	id := c.Param("id")

	if err := a.game.RemoveSession(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	a.hub.CloseRoom(id)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"success": false,
		"error":   e.Message,
	})
}
