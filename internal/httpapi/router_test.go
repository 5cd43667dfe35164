package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/chat"
	"github.com/park285/cooldown-chess/internal/room"
	"github.com/park285/cooldown-chess/internal/store"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(ms int64) {
	c.mu.Lock()
	c.t = time.UnixMilli(ms)
	c.mu.Unlock()
}

type testEnv struct {
	router http.Handler
	rooms  *room.Manager
	clock  *testClock
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := store.New(rdb)
	clock := &testClock{t: time.UnixMilli(0)}
	rooms := room.NewManager(st, room.WithClock(clock.Now))
	d := Deps{
		Rooms:        rooms,
		Chat:         chat.NewService(st, rooms.Exists),
		Events:       st,
		PollInterval: 2 * time.Second,
		Dev:          true,
	}
	if mutate != nil {
		mutate(&d)
	}
	r, stop := NewRouter(d)
	t.Cleanup(stop)
	return &testEnv{router: r, rooms: rooms, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	Kind         string `json:"kind"`
	RetryAfterMs int64  `json:"retryAfterMs"`
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	body := decodeBody[errorBody](t, w)
	if body.Code != code {
		t.Fatalf("expected code %s, got %+v", code, body)
	}
	if body.Error == "" {
		t.Fatalf("error message missing: %+v", body)
	}
	return body
}

func (e *testEnv) startedRoom(t *testing.T, cfg *room.Config) *room.Room {
	t.Helper()
	w := e.do(t, http.MethodPost, "/rooms", gin.H{"config": cfg})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	r := decodeBody[room.Room](t, w)
	for _, seat := range []struct{ color, id string }{{"white", "A"}, {"black", "B"}} {
		w = e.do(t, http.MethodPost, "/rooms/"+r.ID+"/join", gin.H{
			"color":  seat.color,
			"player": gin.H{"id": seat.id, "displayName": seat.id},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("join %s: %d %s", seat.color, w.Code, w.Body.String())
		}
	}
	return ptr(decodeBody[room.Room](t, w))
}

func ptr[T any](v T) *T { return &v }

func TestHealthz(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody[map[string]any](t, w)
	if body["status"] != "ok" || body["pollIntervalMs"] != float64(2000) {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestCreateDefaultsAndJoin(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, http.MethodPost, "/rooms", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	r := decodeBody[room.Room](t, w)
	if r.State != room.StateWaiting || r.Config.Mode != room.ModeBlitz || r.Config.PerPlayerTimeMs != 300000 {
		t.Fatalf("unexpected defaults: %+v", r)
	}

	w = e.do(t, http.MethodPost, "/rooms/"+r.ID+"/join", gin.H{"color": "white", "player": gin.H{"id": "A"}})
	if got := decodeBody[room.Room](t, w); w.Code != http.StatusOK || got.State != room.StateWaiting {
		t.Fatalf("join white: %d %s", w.Code, w.Body.String())
	}
	w = e.do(t, http.MethodPost, "/rooms/"+r.ID+"/join", gin.H{"color": "white", "player": gin.H{"id": "B"}})
	body := expectError(t, w, http.StatusConflict, "slot_occupied")
	if body.Error != "The white seat is already taken." {
		t.Fatalf("unexpected message: %q", body.Error)
	}
	w = e.do(t, http.MethodPost, "/rooms/"+r.ID+"/join", gin.H{"color": "black", "player": gin.H{"id": "B"}})
	if got := decodeBody[room.Room](t, w); w.Code != http.StatusOK || got.State != room.StatePlaying || got.Board == nil {
		t.Fatalf("join black: %d %s", w.Code, w.Body.String())
	}
	expectError(t, e.do(t, http.MethodPost, "/rooms/"+r.ID+"/join", gin.H{"color": "red"}), http.StatusBadRequest, "invalid_color")
}

func TestPrivateRoomKeyIsRedacted(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, http.MethodPost, "/rooms", gin.H{"isPrivate": true, "accessKey": "k"})
	if w.Code != http.StatusCreated || strings.Contains(w.Body.String(), `"accessKey"`) {
		t.Fatalf("create private: %d %s", w.Code, w.Body.String())
	}
	r := decodeBody[room.Room](t, w)
	expectError(t, e.do(t, http.MethodPost, "/rooms/"+r.ID+"/join", gin.H{"color": "white", "accessKey": "x"}), http.StatusForbidden, "access_denied")
	if w := e.do(t, http.MethodPost, "/rooms/"+r.ID+"/join", gin.H{"color": "white", "accessKey": "k"}); w.Code != http.StatusOK {
		t.Fatalf("join with key: %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodGet, "/rooms", nil); strings.Contains(w.Body.String(), `"accessKey"`) {
		t.Fatalf("list leaks access key: %s", w.Body.String())
	}
	expectError(t, e.do(t, http.MethodPost, "/rooms", gin.H{"isPrivate": true}), http.StatusBadRequest, "invalid_config")
}

func TestUnknownRoom(t *testing.T) {
	e := newTestEnv(t, nil)
	cases := []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/rooms/nope", nil},
		{http.MethodDelete, "/rooms/nope", nil},
		{http.MethodPost, "/rooms/nope/join", gin.H{"color": "white"}},
		{http.MethodPost, "/rooms/nope/moves", gin.H{"color": "white", "notation": "e2e4"}},
		{http.MethodGet, "/rooms/nope/messages", nil},
		{http.MethodGet, "/api/rooms/nope", nil},
	}
	for _, tc := range cases {
		body := expectError(t, e.do(t, tc.method, tc.path, tc.body), http.StatusNotFound, "room_not_found")
		if body.Kind != "not_found" {
			t.Fatalf("%s %s: kind %q", tc.method, tc.path, body.Kind)
		}
	}
}

func TestMoveCooldownOverHTTP(t *testing.T) {
	e := newTestEnv(t, nil)
	r := e.startedRoom(t, &room.Config{CooldownMs: map[board.PieceType]int64{board.Pawn: 1000}})
	path := "/rooms/" + r.ID + "/moves"

	e.clock.Set(0)
	w := e.do(t, http.MethodPost, path, gin.H{"color": "white", "from": "e2", "to": gin.H{"x": 4, "y": 5}})
	if w.Code != http.StatusOK {
		t.Fatalf("first move: %d %s", w.Code, w.Body.String())
	}
	got := decodeBody[room.Room](t, w)
	if len(got.MoveLog) != 1 || got.MoveLog[0].Notation != "e2e3" {
		t.Fatalf("move not logged: %+v", got.MoveLog)
	}

	e.clock.Set(500)
	w = e.do(t, http.MethodPost, path, gin.H{"color": "white", "notation": "e3e4"})
	body := expectError(t, w, http.StatusConflict, "cooldown_active")
	if body.RetryAfterMs != 500 || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("retry hint missing: %+v header=%q", body, w.Header().Get("Retry-After"))
	}
	if !strings.Contains(body.Error, "500 ms") {
		t.Fatalf("message should name the wait: %q", body.Error)
	}

	e.clock.Set(1000)
	if w := e.do(t, http.MethodPost, path, gin.H{"color": "white", "notation": "e3e4"}); w.Code != http.StatusOK {
		t.Fatalf("move at t=1000: %d %s", w.Code, w.Body.String())
	}

	expectError(t, e.do(t, http.MethodPost, path, gin.H{"color": "white", "from": "a2", "to": "a5"}), http.StatusConflict, "illegal_destination")
	expectError(t, e.do(t, http.MethodPost, path, gin.H{"color": "white", "notation": "e2"}), http.StatusBadRequest, "invalid_notation")
	expectError(t, e.do(t, http.MethodPost, path, gin.H{"color": "white", "from": "z9", "to": "a3"}), http.StatusBadRequest, "invalid_square")
	expectError(t, e.do(t, http.MethodPost, path, gin.H{"color": "black", "notation": "d2d4"}), http.StatusConflict, "not_your_piece")
}

func TestWrongTurnIsDistinct(t *testing.T) {
	e := newTestEnv(t, nil)
	r := e.startedRoom(t, &room.Config{EnforceTurn: true})
	w := e.do(t, http.MethodPost, "/rooms/"+r.ID+"/moves", gin.H{"color": "black", "notation": "e7e5"})
	body := expectError(t, w, http.StatusConflict, "wrong_turn")
	if body.RetryAfterMs != 0 {
		t.Fatalf("wrong turn carries no retry hint: %+v", body)
	}
}

func TestEndGameAndRematch(t *testing.T) {
	e := newTestEnv(t, nil)
	r := e.startedRoom(t, nil)
	base := "/rooms/" + r.ID

	w := e.do(t, http.MethodPost, base+"/end", gin.H{"winner": "white", "outcome": "victory"})
	got := decodeBody[room.Room](t, w)
	if w.Code != http.StatusOK || got.State != room.StateFinished || got.Result.Winner != board.White {
		t.Fatalf("end: %d %s", w.Code, w.Body.String())
	}
	expectError(t, e.do(t, http.MethodPost, base+"/end", gin.H{"winner": "black"}), http.StatusConflict, "already_finished")

	expectError(t, e.do(t, http.MethodPost, base+"/rematch/respond", gin.H{"accepted": true}), http.StatusConflict, "no_rematch_offer")
	if w := e.do(t, http.MethodPost, base+"/rematch", gin.H{"color": "black"}); w.Code != http.StatusOK {
		t.Fatalf("offer: %d %s", w.Code, w.Body.String())
	}
	w = e.do(t, http.MethodPost, base+"/rematch/respond", gin.H{"accepted": true})
	if w.Code != http.StatusOK {
		t.Fatalf("respond: %d %s", w.Code, w.Body.String())
	}
	resp := decodeBody[respondResponse](t, w)
	if resp.Next == nil || resp.Next.ID == r.ID || resp.Next.State != room.StatePlaying {
		t.Fatalf("successor missing: %s", w.Body.String())
	}
	if resp.Room.Rematch.NextRoomID != resp.Next.ID || resp.Next.Players.White.ID != "B" {
		t.Fatalf("successor not linked or colors not swapped: %s", w.Body.String())
	}
}

func TestPresenceAndPatch(t *testing.T) {
	e := newTestEnv(t, nil)
	r := e.startedRoom(t, nil)
	base := "/rooms/" + r.ID

	w := e.do(t, http.MethodPost, base+"/presence", gin.H{"color": "black", "disconnected": true})
	if got := decodeBody[room.Room](t, w); w.Code != http.StatusOK || !got.Disconnected.Black {
		t.Fatalf("presence: %d %s", w.Code, w.Body.String())
	}

	body := expectError(t, e.do(t, http.MethodPut, base, gin.H{"id": "other"}), http.StatusBadRequest, "immutable_field")
	if body.Error != "The field id cannot be changed." {
		t.Fatalf("unexpected message %q", body.Error)
	}
	w = e.do(t, http.MethodPut, base, gin.H{"disconnected": gin.H{"white": false, "black": false}})
	if got := decodeBody[room.Room](t, w); w.Code != http.StatusOK || got.Disconnected.Black {
		t.Fatalf("patch: %d %s", w.Code, w.Body.String())
	}
}

func TestChatEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(t, http.MethodPost, "/rooms", nil)
	r := decodeBody[room.Room](t, w)
	path := "/rooms/" + r.ID + "/messages"

	if w := e.do(t, http.MethodPost, path, gin.H{"author": "A", "color": "white", "text": "gl hf"}); w.Code != http.StatusCreated {
		t.Fatalf("post: %d %s", w.Code, w.Body.String())
	}
	expectError(t, e.do(t, http.MethodPost, path, gin.H{"author": "A"}), http.StatusBadRequest, "chat_missing_fields")
	expectError(t, e.do(t, http.MethodPost, path, gin.H{"author": "A", "text": "no side"}), http.StatusBadRequest, "chat_missing_fields")
	body := expectError(t, e.do(t, http.MethodPost, path, gin.H{"author": "A", "color": "white", "text": strings.Repeat("x", chat.MaxTextLength+1)}), http.StatusBadRequest, "chat_too_long")
	if !strings.Contains(body.Error, "500") {
		t.Fatalf("limit not rendered: %q", body.Error)
	}

	w = e.do(t, http.MethodGet, "/api"+path, nil)
	msgs := decodeBody[[]chat.Message](t, w)
	if w.Code != http.StatusOK || len(msgs) != 1 || msgs[0].Text != "gl hf" || msgs[0].Color != board.White {
		t.Fatalf("history: %d %s", w.Code, w.Body.String())
	}
}

func TestDeleteRoom(t *testing.T) {
	e := newTestEnv(t, nil)
	r := decodeBody[room.Room](t, e.do(t, http.MethodPost, "/rooms", nil))
	w := e.do(t, http.MethodDelete, "/rooms/"+r.ID, nil)
	if got := decodeBody[map[string]any](t, w); w.Code != http.StatusOK || got["deleted"] != true {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	expectError(t, e.do(t, http.MethodDelete, "/rooms/"+r.ID, nil), http.StatusNotFound, "room_not_found")
	if list := decodeBody[[]room.Room](t, e.do(t, http.MethodGet, "/rooms", nil)); len(list) != 0 {
		t.Fatalf("room still listed: %+v", list)
	}
}

func TestMalformedBody(t *testing.T) {
	e := newTestEnv(t, nil)
	r := decodeBody[room.Room](t, e.do(t, http.MethodPost, "/rooms", nil))
	req := httptest.NewRequest(http.MethodPost, "/rooms/"+r.ID+"/join", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	expectError(t, w, http.StatusBadRequest, "invalid_request")
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, func(d *Deps) {
		d.RateLimit = 0.001
		d.Burst = 1
	})
	if w := e.do(t, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	expectError(t, e.do(t, http.MethodGet, "/healthz", nil), http.StatusTooManyRequests, "rate_limited")
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/rooms", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatalf("preflight: %d %v", w.Code, w.Header())
	}
}

func TestWatchStreamsSnapshots(t *testing.T) {
	e := newTestEnv(t, nil)
	srv := httptest.NewServer(e.router)
	t.Cleanup(srv.Close)
	r := e.startedRoom(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rooms/" + r.ID + "/watch"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var first room.Event
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != room.EventSnapshot || first.Room == nil || first.Room.Revision != r.Revision {
		t.Fatalf("unexpected first event: %+v", first)
	}

	if _, err := e.rooms.SubmitMove(ctx, r.ID, room.MoveParams{Color: board.White, From: board.Square{X: 6, Y: 7}, To: board.Square{X: 5, Y: 5}}); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	var next room.Event
	if err := wsjson.Read(ctx, conn, &next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Room == nil || next.Room.Revision != r.Revision+1 || len(next.Room.MoveLog) != 1 {
		t.Fatalf("unexpected update: %+v", next)
	}

	if _, err := e.rooms.Delete(ctx, r.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var gone room.Event
	if err := wsjson.Read(ctx, conn, &gone); err != nil {
		t.Fatalf("read delete: %v", err)
	}
	if gone.Type != room.EventDeleted {
		t.Fatalf("expected deleted event, got %+v", gone)
	}
}
