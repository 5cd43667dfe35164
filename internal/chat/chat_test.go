package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cooldown-chess/internal/apperr"
	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/room"
	"github.com/park285/cooldown-chess/internal/store"
)

func newTestService(t *testing.T, exists RoomLookup) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	tick := int64(0)
	clock := func() time.Time {
		tick++
		return time.UnixMilli(tick)
	}
	return NewService(store.New(rdb), exists, WithClock(clock)), mr
}

func TestPostKeepsNewestFifty(t *testing.T) {
	s, _ := newTestService(t, nil)
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		if _, err := s.Post(ctx, "r1", Message{Author: "a", Color: board.White, Text: fmt.Sprintf("m%02d", i)}); err != nil {
			t.Fatalf("Post %d: %v", i, err)
		}
	}
	got, err := s.History(ctx, "r1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("expected 50 messages, got %d", len(got))
	}
	for i, m := range got {
		if want := fmt.Sprintf("m%02d", i+10); m.Text != want {
			t.Fatalf("index %d: got %q want %q", i, m.Text, want)
		}
	}
	if got[0].Timestamp >= got[49].Timestamp {
		t.Fatalf("messages out of order")
	}
}

func TestPostValidation(t *testing.T) {
	s, mr := newTestService(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		msg  Message
		code string
	}{
		{"no author", Message{Text: "hi"}, "chat_missing_fields"},
		{"blank text", Message{Author: "a", Color: board.White, Text: "   "}, "chat_missing_fields"},
		{"no color", Message{Author: "a", Text: "hi"}, "chat_missing_fields"},
		{"too long", Message{Author: "a", Color: board.White, Text: strings.Repeat("x", MaxTextLength+1)}, "chat_too_long"},
		{"bad color", Message{Author: "a", Text: "hi", Color: "green"}, "invalid_color"},
	}
	for _, tc := range cases {
		_, err := s.Post(ctx, "r1", tc.msg)
		if apperr.KindOf(err) != apperr.Validation || apperr.CodeOf(err) != tc.code {
			t.Fatalf("%s: got %v", tc.name, err)
		}
	}
	if mr.Exists(store.ChatKey("r1")) {
		t.Fatalf("rejected messages must not be stored")
	}

	_, err := s.Post(ctx, "r1", Message{Author: "a", Color: board.White, Text: strings.Repeat("x", MaxTextLength+1)})
	var tl *TooLongError
	if !errors.As(err, &tl) || tl.Details()["max"] != MaxTextLength {
		t.Fatalf("too-long detail missing: %v", err)
	}
}

func TestUnknownRoom(t *testing.T) {
	known := map[string]bool{"live": true}
	s, _ := newTestService(t, func(_ context.Context, id string) (bool, error) { return known[id], nil })
	ctx := context.Background()

	if _, err := s.Post(ctx, "gone", Message{Author: "a", Color: board.Black, Text: "hi"}); !errors.Is(err, room.ErrRoomNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.History(ctx, "gone"); !errors.Is(err, room.ErrRoomNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	m, err := s.Post(ctx, "live", Message{Author: " a ", Color: board.Black, Text: " hi "})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if m.Author != "a" || m.Text != "hi" || m.Timestamp == 0 {
		t.Fatalf("unexpected stored message: %+v", m)
	}
	hist, _ := s.History(ctx, "live")
	if len(hist) != 1 || hist[0] != m {
		t.Fatalf("history mismatch: %+v", hist)
	}
}

func TestHistorySkipsGarbage(t *testing.T) {
	s, mr := newTestService(t, nil)
	ctx := context.Background()
	if _, err := mr.RPush(store.ChatKey("r1"), "{not json"); err != nil {
		t.Fatalf("RPush: %v", err)
	}
	if _, err := s.Post(ctx, "r1", Message{Author: "a", Color: board.White, Text: "ok"}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	got, err := s.History(ctx, "r1")
	if err != nil || len(got) != 1 || got[0].Text != "ok" {
		t.Fatalf("History: %v %+v", err, got)
	}
}

func TestEmptyHistory(t *testing.T) {
	s, _ := newTestService(t, nil)
	got, err := s.History(context.Background(), "r1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestWithLimit(t *testing.T) {
	s, _ := newTestService(t, nil)
	s = NewService(s.st, nil, WithLimit(3))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = s.Post(ctx, "r1", Message{Author: "a", Color: board.White, Text: fmt.Sprint(i)})
	}
	got, _ := s.History(ctx, "r1")
	if len(got) != 3 || got[0].Text != "2" {
		t.Fatalf("unexpected history: %+v", got)
	}
}
