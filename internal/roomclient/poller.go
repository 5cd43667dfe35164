package roomclient

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cooldown-chess/internal/chat"
	"github.com/park285/cooldown-chess/internal/obslog"
	"github.com/park285/cooldown-chess/internal/room"
)

const DefaultPollInterval = 2 * time.Second

// Poller re-fetches a room (and optionally its chat) on a fixed interval and
// reports changes. Staleness is bounded by the interval.
type Poller struct {
	client   *Client
	roomID   string
	interval time.Duration

	OnRoom func(*room.Room)
	OnChat func([]chat.Message)

	lastRevision int64
	lastChat     chatMark
	chatSeen     bool
}

// chatMark identifies a history window. A capped list keeps its length, so the
// window edges carry the change.
type chatMark struct {
	n           int
	first, last chat.Message
}

func NewPoller(c *Client, roomID string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{client: c, roomID: roomID, interval: interval}
}

// Run polls until ctx is done or the room disappears. Transient errors are logged
// and the next tick retries.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.Poll(ctx); err != nil {
		if isGone(err) {
			return err
		}
		obslog.L().Warn("poll_error", zap.String("room_id", p.roomID), zap.Error(err))
	}
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := p.Poll(ctx); err != nil {
				if isGone(err) {
					return err
				}
				obslog.L().Warn("poll_error", zap.String("room_id", p.roomID), zap.Error(err))
			}
		}
	}
}

// Poll performs a single fetch and fires callbacks for changes since the previous one.
func (p *Poller) Poll(ctx context.Context) error {
	r, err := p.client.GetRoom(ctx, p.roomID)
	if err != nil {
		return err
	}
	if r.Revision != p.lastRevision {
		p.lastRevision = r.Revision
		if p.OnRoom != nil {
			p.OnRoom(r)
		}
	}
	if p.OnChat == nil {
		return nil
	}
	msgs, err := p.client.Messages(ctx, p.roomID)
	if err != nil {
		return err
	}
	mark := chatMark{n: len(msgs)}
	if len(msgs) > 0 {
		mark.first, mark.last = msgs[0], msgs[len(msgs)-1]
	}
	if !p.chatSeen || mark != p.lastChat {
		p.lastChat, p.chatSeen = mark, true
		p.OnChat(msgs)
	}
	return nil
}

func isGone(err error) bool {
	return errors.Is(err, room.ErrRoomNotFound)
}
