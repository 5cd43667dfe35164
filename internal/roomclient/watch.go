package roomclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cooldown-chess/internal/obslog"
	"github.com/park285/cooldown-chess/internal/room"
)

// ErrRoomDeleted ends a Watch when the server reports the room gone.
var ErrRoomDeleted = errors.New("room deleted")

// Watch follows the push feed of a room, reconnecting up to maxReconnect times
// with backoff. It returns when ctx ends, the room is deleted, or reconnects
// are exhausted.
func (c *Client) Watch(ctx context.Context, id string, maxReconnect int, onEvent func(room.Event)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + roomPath(id) + "/watch"
	attempt := 0
	for {
		err := c.watchOnce(ctx, wsURL, onEvent)
		if err == nil || errors.Is(err, ErrRoomDeleted) || ctx.Err() != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		attempt++
		if attempt > maxReconnect {
			return err
		}
		obslog.L().Warn("watch_reconnect", zap.String("room_id", id), zap.Int("attempt", attempt), zap.Error(err))
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return sleepErr
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, wsURL string, onEvent func(room.Event)) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(),
	})
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "close")

	for {
		var ev room.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return ErrRoomDeleted
			}
			return err
		}
		if onEvent != nil {
			onEvent(ev)
		}
		if ev.Type == room.EventDeleted {
			return ErrRoomDeleted
		}
	}
}

func (c *Client) buildHeaders() http.Header {
	hdr := http.Header{}
	if c.headers == nil {
		return hdr
	}
	for k, v := range c.headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
