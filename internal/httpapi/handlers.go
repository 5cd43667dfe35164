package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cooldown-chess/internal/apperr"
	"github.com/park285/cooldown-chess/internal/chat"
	"github.com/park285/cooldown-chess/internal/msgcat"
	"github.com/park285/cooldown-chess/internal/room"
)

// Subscriber opens a pub/sub subscription; *store.Redis implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) *redis.PubSub
}

// Handler serves the room request surface.
type Handler struct {
	rooms        *room.Manager
	chat         *chat.Service
	msgs         *msgcat.Catalog
	sub          Subscriber
	pollInterval time.Duration
	dev          bool
}

func (h *Handler) listRooms(c *gin.Context) {
	rooms, err := h.rooms.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]*room.Room, len(rooms))
	for i, r := range rooms {
		out[i] = r.Public()
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getRoom(c *gin.Context) {
	r, err := h.rooms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r.Public())
}

func (h *Handler) createRoom(c *gin.Context) {
	var req createRoomRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.bindFail(c, err)
			return
		}
	}
	r, err := h.rooms.Create(c.Request.Context(), room.CreateParams{
		Config:    req.Config,
		IsPrivate: req.IsPrivate,
		AccessKey: req.AccessKey,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r.Public())
}

func (h *Handler) joinRoom(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	color, err := parseColor(req.Color)
	if err != nil {
		h.fail(c, err)
		return
	}
	r, err := h.rooms.Join(c.Request.Context(), c.Param("id"), room.JoinParams{
		Color:     color,
		Player:    req.Player,
		AccessKey: req.AccessKey,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r.Public())
}

func (h *Handler) patchRoom(c *gin.Context) {
	var fields map[string]json.RawMessage
	if err := c.ShouldBindJSON(&fields); err != nil {
		h.bindFail(c, err)
		return
	}
	if len(fields) == 0 {
		h.fail(c, apperr.Invalid("invalid_request", "no fields to update"))
		return
	}
	r, err := h.rooms.Patch(c.Request.Context(), c.Param("id"), fields)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r.Public())
}

func (h *Handler) deleteRoom(c *gin.Context) {
	id := c.Param("id")
	ok, err := h.rooms.Delete(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		h.fail(c, room.ErrRoomNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": id})
}

func (h *Handler) submitMove(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	p, err := req.params()
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.rooms.SubmitMove(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res.Room.Public())
}

func (h *Handler) endGame(c *gin.Context) {
	var req endRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	winner, outcome, err := req.resolve()
	if err != nil {
		h.fail(c, err)
		return
	}
	r, err := h.rooms.EndGame(c.Request.Context(), c.Param("id"), winner, outcome, req.Method)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r.Public())
}

func (h *Handler) offerRematch(c *gin.Context) {
	var req colorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	color, err := parseColor(req.Color)
	if err != nil {
		h.fail(c, err)
		return
	}
	r, err := h.rooms.OfferRematch(c.Request.Context(), c.Param("id"), color)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r.Public())
}

func (h *Handler) respondRematch(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	ctx := c.Request.Context()
	r, err := h.rooms.RespondRematch(ctx, c.Param("id"), req.Accepted)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := respondResponse{Room: r.Public()}
	if req.Accepted {
		next, err := h.rooms.SpawnRematch(ctx, r.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		if r, err = h.rooms.Get(ctx, r.ID); err == nil {
			out.Room = r.Public()
		}
		out.Next = next.Public()
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) presence(c *gin.Context) {
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	color, err := parseColor(req.Color)
	if err != nil {
		h.fail(c, err)
		return
	}
	r, err := h.rooms.UpdateDisconnection(c.Request.Context(), c.Param("id"), color, req.Disconnected)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r.Public())
}

func (h *Handler) listMessages(c *gin.Context) {
	msgs, err := h.chat.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) postMessage(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindFail(c, err)
		return
	}
	m, err := req.message()
	if err != nil {
		h.fail(c, err)
		return
	}
	m, err = h.chat.Post(c.Request.Context(), c.Param("id"), m)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"time":           time.Now().UTC().Format(time.RFC3339),
		"pollIntervalMs": h.pollInterval.Milliseconds(),
	})
}
