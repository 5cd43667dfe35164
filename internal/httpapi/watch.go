package httpapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cooldown-chess/internal/apperr"
	"github.com/park285/cooldown-chess/internal/metrics"
	"github.com/park285/cooldown-chess/internal/obslog"
	"github.com/park285/cooldown-chess/internal/room"
	"github.com/park285/cooldown-chess/internal/store"
)

const watchPingInterval = 30 * time.Second

// watch streams room events over a websocket: the current snapshot first, then
// every committed change until the room is deleted or the client goes away.
func (h *Handler) watch(c *gin.Context) {
	id := c.Param("id")

	// Subscribe before reading the snapshot so no change in between is lost.
	ps := h.sub.Subscribe(context.Background(), store.EventsChannel(id))
	defer ps.Close()
	if _, err := ps.Receive(c.Request.Context()); err != nil {
		h.fail(c, apperr.Store("subscribe", err))
		return
	}
	r, err := h.rooms.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: h.dev,
		CompressionMode:    websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("watch_accept_error", zap.String("room_id", id), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	metrics.WatchConnections.Inc()
	defer metrics.WatchConnections.Dec()
	obslog.L().Info("watch_open", zap.String("room_id", id))

	ctx := conn.CloseRead(context.Background())

	if err := wsjson.Write(ctx, conn, room.Event{Type: room.EventSnapshot, ID: id, Room: r.Public()}); err != nil {
		return
	}

	ping := time.NewTicker(watchPingInterval)
	defer ping.Stop()
	events := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("watch_close", zap.String("room_id", id))
			return
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case msg, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(wctx, websocket.MessageText, []byte(msg.Payload))
			cancel()
			if err != nil {
				return
			}
			var ev room.Event
			if json.Unmarshal([]byte(msg.Payload), &ev) == nil && ev.Type == room.EventDeleted {
				conn.Close(websocket.StatusNormalClosure, "room deleted")
				return
			}
		}
	}
}
