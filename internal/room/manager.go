package room

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cooldown-chess/internal/apperr"
	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/cooldown"
	"github.com/park285/cooldown-chess/internal/engine"
	"github.com/park285/cooldown-chess/internal/metrics"
	"github.com/park285/cooldown-chess/internal/movegen"
	"github.com/park285/cooldown-chess/internal/obslog"
	"github.com/park285/cooldown-chess/internal/store"
)

// Store is the persistence the manager needs; *store.Redis implements it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	SetNX(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	AddToSet(ctx context.Context, setKey, member string) error
	RemoveFromSet(ctx context.Context, setKey, member string) error
	Members(ctx context.Context, setKey string) ([]string, error)
	Update(ctx context.Context, key string, fn store.UpdateFunc) ([]byte, error)
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ResultSink archives finished games.
type ResultSink interface {
	SaveResult(ctx context.Context, r *Room) error
}

// Manager runs every room operation as an optimistic read-modify-write against
// the store.
type Manager struct {
	st       Store
	now      func() time.Time
	realtime *engine.Engine
	turns    *engine.Engine
	sink     ResultSink
}

type Option func(*Manager)

// WithClock overrides wall-clock time.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithOracles replaces the destination oracles for real-time and turn-based rooms.
func WithOracles(realtime, turns movegen.Oracle) Option {
	return func(m *Manager) {
		m.realtime = engine.New(realtime)
		m.turns = engine.New(turns)
	}
}

func NewManager(st Store, opts ...Option) *Manager {
	m := &Manager{
		st:       st,
		now:      time.Now,
		realtime: engine.New(movegen.Pseudo{}),
		turns:    engine.New(movegen.NewStandard()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AttachResultSink wires an archive for finished games.
func (m *Manager) AttachResultSink(s ResultSink) {
	if m != nil {
		m.sink = s
	}
}

func (m *Manager) engineFor(cfg Config) *engine.Engine {
	if cfg.EnforceTurn {
		return m.turns
	}
	return m.realtime
}

// NormalizeConfig fills defaults and checks a requested config.
func NormalizeConfig(in *Config) (Config, error) {
	cfg := Config{PerPlayerTimeMs: DefaultPerPlayerTimeMs, Mode: ModeBlitz}
	if in != nil {
		cfg.EnforceTurn = in.EnforceTurn
		if in.PerPlayerTimeMs < 0 {
			return Config{}, fmt.Errorf("%w: negative time", ErrInvalidConfig)
		}
		if in.PerPlayerTimeMs > 0 {
			cfg.PerPlayerTimeMs = in.PerPlayerTimeMs
		}
		if mode := strings.ToLower(strings.TrimSpace(in.Mode)); mode != "" {
			cfg.Mode = mode
		}
		cfg.CooldownMs = in.CooldownMs.Clone()
	}
	switch cfg.Mode {
	case ModeBullet, ModeBlitz, ModeRapid, ModeClassical:
	default:
		return Config{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, cfg.Mode)
	}
	if cfg.EnforceTurn {
		cfg.CooldownMs = cooldown.Table{}
		return cfg, nil
	}
	if len(cfg.CooldownMs) == 0 {
		cfg.CooldownMs = cooldown.DefaultTable()
	}
	for pt, ms := range cfg.CooldownMs {
		if !pt.Valid() || ms < 0 {
			return Config{}, fmt.Errorf("%w: cooldown %s=%d", ErrInvalidConfig, pt, ms)
		}
	}
	return cfg, nil
}

func (m *Manager) newRoom(id string, cfg Config, now time.Time) *Room {
	return &Room{
		ID:        id,
		State:     StateWaiting,
		TurnColor: board.White,
		MoveLog:   []Move{},
		Result:    Result{State: ResultPending},
		Config:    cfg,
		Cooldowns: cooldown.Tracker{},
		Rematch:   Rematch{State: RematchPending},
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Create allocates a fresh id and stores an empty waiting room.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Room, error) {
	cfg, err := NormalizeConfig(p.Config)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(p.AccessKey)
	if p.IsPrivate && key == "" {
		return nil, fmt.Errorf("%w: private room needs an access key", ErrInvalidConfig)
	}
	r := m.newRoom("", cfg, m.now().UTC())
	r.IsPrivate = p.IsPrivate
	if p.IsPrivate {
		r.AccessKey = key
	}
	if err := m.insert(ctx, r); err != nil {
		return nil, err
	}
	obslog.L().Info("room_create",
		zap.String("room_id", r.ID),
		zap.String("mode", r.Config.Mode),
		zap.Bool("enforce_turn", r.Config.EnforceTurn),
		zap.Bool("private", r.IsPrivate),
	)
	return r, nil
}

// insert stores r under a freshly generated id and indexes it.
func (m *Manager) insert(ctx context.Context, r *Room) error {
	for attempt := 0; attempt < 3; attempt++ {
		r.ID = uuid.NewString()
		ok, err := m.put(ctx, r)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return apperr.Store("allocate room id", errors.New("id collision"))
}

// put writes r only if its id is free.
func (m *Manager) put(ctx context.Context, r *Room) (bool, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return false, apperr.Store("encode room", err)
	}
	ok, err := m.st.SetNX(ctx, store.RoomKey(r.ID), raw)
	if err != nil || !ok {
		return false, err
	}
	if err := m.st.AddToSet(ctx, store.RoomsSetKey, r.ID); err != nil {
		return false, err
	}
	metrics.RoomsCreatedTotal.Inc()
	m.publish(ctx, r)
	return true, nil
}

// Get loads one room.
func (m *Manager) Get(ctx context.Context, id string) (*Room, error) {
	raw, ok, err := m.st.Get(ctx, store.RoomKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return decode(raw)
}

// Exists reports whether id is a live room.
func (m *Manager) Exists(ctx context.Context, id string) (bool, error) {
	_, ok, err := m.st.Get(ctx, store.RoomKey(id))
	return ok, err
}

// List returns every indexed room, oldest first. Index entries whose room is gone are skipped.
func (m *Manager) List(ctx context.Context) ([]*Room, error) {
	ids, err := m.st.Members(ctx, store.RoomsSetKey)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = store.RoomKey(id)
	}
	raws, err := m.st.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	out := make([]*Room, 0, len(raws))
	for _, raw := range raws {
		r, err := decode(raw)
		if err != nil {
			obslog.L().Warn("room_decode_skip", zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func decode(raw []byte) (*Room, error) {
	var r Room
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, apperr.Store("decode room", err)
	}
	return &r, nil
}

// mutate는 낙관적 트랜잭션 안에서 fn을 적용. fn은 여러 번 실행될 수 있으므로 r만 수정할 것.
// 커밋마다 Revision/UpdatedAt 갱신.
func (m *Manager) mutate(ctx context.Context, id string, fn func(r *Room, now time.Time) error) (*Room, error) {
	var out *Room
	_, err := m.st.Update(ctx, store.RoomKey(id), func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
		}
		r, err := decode(cur)
		if err != nil {
			return nil, err
		}
		now := m.now().UTC()
		if err := fn(r, now); err != nil {
			return nil, err
		}
		r.Revision++
		r.UpdatedAt = now
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, apperr.Store("encode room", err)
		}
		out = r
		return raw, nil
	})
	if err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			metrics.StoreConflictsTotal.Inc()
		}
		return nil, err
	}
	m.publish(ctx, out)
	return out, nil
}

func (m *Manager) publish(ctx context.Context, r *Room) {
	m.emit(ctx, Event{Type: EventSnapshot, ID: r.ID, Room: r.Public()})
}

func (m *Manager) emit(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := m.st.Publish(ctx, store.EventsChannel(ev.ID), raw); err != nil {
		obslog.L().Warn("room_publish_error", zap.String("room_id", ev.ID), zap.Error(err))
	}
}

// Join은 플레이어를 착석시킨다. 두 자리가 모두 차면 대국 시작.
func (m *Manager) Join(ctx context.Context, id string, p JoinParams) (*Room, error) {
	if !p.Color.Valid() {
		return nil, ErrInvalidColor
	}
	pl := p.Player
	pl.DisplayName = strings.TrimSpace(pl.DisplayName)
	if strings.TrimSpace(pl.ID) == "" {
		pl.ID = uuid.NewString()
	}
	r, err := m.mutate(ctx, id, func(r *Room, now time.Time) error {
		if r.IsPrivate && subtle.ConstantTimeCompare([]byte(r.AccessKey), []byte(strings.TrimSpace(p.AccessKey))) != 1 {
			return ErrAccessDenied
		}
		if r.Players.Seat(p.Color) != nil {
			return seatErr(p.Color, ErrSlotOccupied)
		}
		seated := pl
		if seated.RemainingTimeMs <= 0 {
			seated.RemainingTimeMs = r.Config.PerPlayerTimeMs
		}
		r.Players.setSeat(p.Color, &seated)
		r.LastPing.set(p.Color, now.UnixMilli())
		if r.State == StateWaiting && r.Players.Full() {
			r.start()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("room_join",
		zap.String("room_id", r.ID),
		zap.String("color", string(p.Color)),
		zap.String("player_id", pl.ID),
		zap.String("state", string(r.State)),
	)
	return r, nil
}

// start lays out the opening position.
func (r *Room) start() {
	r.State = StatePlaying
	r.Board = board.Standard()
	r.TurnColor = board.White
	r.Cooldowns = cooldown.Tracker{}
}

// SubmitMove validates a move through the room's engine and records it.
func (m *Manager) SubmitMove(ctx context.Context, id string, p MoveParams) (*MoveResult, error) {
	if !p.Color.Valid() {
		return nil, ErrInvalidColor
	}
	var res MoveResult
	r, err := m.mutate(ctx, id, func(r *Room, now time.Time) error {
		res = MoveResult{}
		if r.State != StatePlaying || r.Board == nil {
			return ErrNotPlaying
		}
		if r.Players.Seat(p.Color) == nil {
			return seatErr(p.Color, ErrNotSeated)
		}
		if pc, ok := r.Board.At(p.From); ok && pc.Color != p.Color {
			return ErrNotYourPiece
		}
		out, err := m.engineFor(r.Config).TryMove(r.Board, r.Cooldowns, engine.Request{
			From:        p.From,
			To:          p.To,
			Now:         now,
			EnforceTurn: r.Config.EnforceTurn,
			Cooldowns:   r.Config.CooldownMs,
		})
		if err != nil {
			return err
		}
		out.Tracker.Sweep(now)
		r.Board = out.Board
		r.Cooldowns = out.Tracker
		r.TurnColor = out.Board.Turn
		r.MoveLog = append(r.MoveLog, Move{Player: p.Color, Notation: out.Notation, Timestamp: now.UnixMilli()})
		if out.Captured != nil && out.Captured.Type == board.King {
			r.finish(Result{State: ResultVictory, Winner: p.Color, Method: "king_capture"})
		}
		res.Captured = out.Captured
		res.CooldownUntil = out.CooldownUntil
		return nil
	})
	if err != nil {
		metrics.MovesTotal.WithLabelValues(apperr.CodeOf(err)).Inc()
		obslog.L().Debug("room_move_rejected",
			zap.String("room_id", id),
			zap.String("color", string(p.Color)),
			zap.String("from", p.From.String()),
			zap.String("to", p.To.String()),
			zap.String("code", apperr.CodeOf(err)),
		)
		return nil, err
	}
	metrics.MovesTotal.WithLabelValues("accepted").Inc()
	res.Room = r
	last := r.MoveLog[len(r.MoveLog)-1]
	obslog.L().Info("room_move",
		zap.String("room_id", r.ID),
		zap.String("color", string(last.Player)),
		zap.String("notation", last.Notation),
		zap.Int64("cooldown_until", res.CooldownUntil),
		zap.String("state", string(r.State)),
	)
	if r.State == StateFinished {
		m.archive(ctx, r)
	}
	return &res, nil
}

func (r *Room) finish(res Result) {
	r.Result = res
	r.State = StateFinished
	r.Rematch = Rematch{State: RematchPending}
}

// EndGame은 진행 중인 대국의 결과를 기록. 결과는 한 번만 기록되며 두 번째 호출은 거부.
func (m *Manager) EndGame(ctx context.Context, id string, winner board.Color, outcome ResultState, method string) (*Room, error) {
	switch outcome {
	case ResultVictory:
		if !winner.Valid() {
			return nil, ErrInvalidColor
		}
	case ResultDraw:
		winner = ""
	default:
		return nil, apperr.Invalid("invalid_request", "outcome must be victory or draw")
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = string(outcome)
	}
	r, err := m.mutate(ctx, id, func(r *Room, _ time.Time) error {
		if r.Result.State != ResultPending {
			return ErrAlreadyFinished
		}
		if r.State != StatePlaying {
			return ErrNotPlaying
		}
		r.finish(Result{State: outcome, Winner: winner, Method: method})
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("room_end",
		zap.String("room_id", r.ID),
		zap.String("outcome", string(outcome)),
		zap.String("winner", string(winner)),
		zap.String("method", method),
	)
	m.archive(ctx, r)
	return r, nil
}

func (m *Manager) archive(ctx context.Context, r *Room) {
	metrics.GamesFinishedTotal.WithLabelValues(string(r.Result.State)).Inc()
	if m.sink == nil {
		return
	}
	if err := m.sink.SaveResult(ctx, r); err != nil {
		obslog.L().Error("room_result_persist_error", zap.String("room_id", r.ID), zap.Error(err))
		return
	}
	obslog.L().Info("room_result_persist", zap.String("room_id", r.ID), zap.String("outcome", string(r.Result.State)))
}

// UpdateDisconnection records a presence flag and refreshes the seat's ping time.
// It never pauses the game.
func (m *Manager) UpdateDisconnection(ctx context.Context, id string, c board.Color, disconnected bool) (*Room, error) {
	if !c.Valid() {
		return nil, ErrInvalidColor
	}
	return m.mutate(ctx, id, func(r *Room, now time.Time) error {
		r.Disconnected.set(c, disconnected)
		r.LastPing.set(c, now.UnixMilli())
		return nil
	})
}

// Delete removes the room, its chat and its index entry. It reports whether the room existed.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	n, err := m.st.Delete(ctx, store.RoomKey(id))
	if err != nil {
		return false, err
	}
	if _, err := m.st.Delete(ctx, store.ChatKey(id)); err != nil {
		return false, err
	}
	if err := m.st.RemoveFromSet(ctx, store.RoomsSetKey, id); err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	m.emit(ctx, Event{Type: EventDeleted, ID: id})
	obslog.L().Info("room_delete", zap.String("room_id", id))
	return true, nil
}
