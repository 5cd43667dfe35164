package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/park285/cooldown-chess/internal/apperr"
	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/metrics"
	"github.com/park285/cooldown-chess/internal/obslog"
	"github.com/park285/cooldown-chess/internal/room"
	"github.com/park285/cooldown-chess/internal/store"
)

const (
	DefaultLimit  = 50
	MaxTextLength = 500
)

var (
	ErrMissingFields = apperr.New(apperr.Validation, "chat_missing_fields", "author, color and text are required")
	ErrTooLong       = apperr.New(apperr.Validation, "chat_too_long", "message too long")
)

// TooLongError reports the limit a message exceeded.
type TooLongError struct {
	Max int
}

func (e *TooLongError) Error() string           { return fmt.Sprintf("%s (max %d)", ErrTooLong, e.Max) }
func (e *TooLongError) Unwrap() error           { return ErrTooLong }
func (e *TooLongError) Details() map[string]any { return map[string]any{"max": e.Max} }

// Message is one chat line.
type Message struct {
	Author    string      `json:"author"`
	Color     board.Color `json:"color"`
	Text      string      `json:"text"`
	Timestamp int64       `json:"timestamp"` // unix ms
}

// ListStore is the capped-list half of the store; *store.Redis implements it.
type ListStore interface {
	Append(ctx context.Context, listKey string, value []byte, limit int) error
	RangeLast(ctx context.Context, listKey string, n int) ([][]byte, error)
}

// RoomLookup reports whether a room exists.
type RoomLookup func(ctx context.Context, id string) (bool, error)

type Service struct {
	st     ListStore
	exists RoomLookup
	limit  int
	now    func() time.Time
}

type Option func(*Service)

// WithLimit sets how many messages a room keeps.
func WithLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the chat log. exists may be nil, in which case any room id is accepted.
func NewService(st ListStore, exists RoomLookup, opts ...Option) *Service {
	s := &Service{st: st, exists: exists, limit: DefaultLimit, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Limit() int { return s.limit }

func (s *Service) checkRoom(ctx context.Context, roomID string) error {
	if s.exists == nil {
		return nil
	}
	ok, err := s.exists(ctx, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", room.ErrRoomNotFound, roomID)
	}
	return nil
}

// Post validates and appends a message, evicting the oldest beyond the limit.
func (s *Service) Post(ctx context.Context, roomID string, m Message) (Message, error) {
	m.Author = strings.TrimSpace(m.Author)
	m.Text = strings.TrimSpace(m.Text)
	if m.Author == "" || m.Text == "" || m.Color == "" {
		return Message{}, ErrMissingFields
	}
	if utf8.RuneCountInString(m.Text) > MaxTextLength {
		return Message{}, &TooLongError{Max: MaxTextLength}
	}
	if !m.Color.Valid() {
		return Message{}, room.ErrInvalidColor
	}
	if err := s.checkRoom(ctx, roomID); err != nil {
		return Message{}, err
	}
	m.Timestamp = s.now().UnixMilli()
	raw, err := json.Marshal(m)
	if err != nil {
		return Message{}, apperr.Store("encode chat message", err)
	}
	if err := s.st.Append(ctx, store.ChatKey(roomID), raw, s.limit); err != nil {
		return Message{}, err
	}
	metrics.ChatMessagesTotal.Inc()
	obslog.L().Debug("chat_post",
		zap.String("room_id", roomID),
		zap.String("author", m.Author),
		zap.Int("length", len(m.Text)),
	)
	return m, nil
}

// History returns up to the newest limit messages, oldest first. Undecodable entries are skipped.
func (s *Service) History(ctx context.Context, roomID string) ([]Message, error) {
	if err := s.checkRoom(ctx, roomID); err != nil {
		return nil, err
	}
	raws, err := s.st.RangeLast(ctx, store.ChatKey(roomID), s.limit)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			obslog.L().Warn("chat_decode_skip", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
