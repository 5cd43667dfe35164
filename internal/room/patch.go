package room

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cooldown-chess/internal/apperr"
	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/obslog"
)

// Fields a partial overwrite may never change. revision and updatedAt are stamped by the server.
var immutableFields = map[string]bool{
	"id":        true,
	"createdAt": true,
	"revision":  true,
	"updatedAt": true,
}

// Patch overwrites the given top-level fields of a room snapshot. Fields are the
// JSON names used in the snapshot; the merged result must still be a valid room.
func (m *Manager) Patch(ctx context.Context, id string, fields map[string]json.RawMessage) (*Room, error) {
	for k := range fields {
		if immutableFields[k] {
			return nil, &FieldError{Field: k}
		}
	}
	r, err := m.mutate(ctx, id, func(r *Room, _ time.Time) error {
		merged, err := mergeFields(r, fields)
		if err != nil {
			return err
		}
		if err := checkTransition(r, merged); err != nil {
			return err
		}
		if r.State == StateWaiting && merged.State == StatePlaying && merged.Board == nil {
			merged.start()
		}
		if _, ok := fields["turnColor"]; ok && merged.Board != nil {
			merged.Board.Turn = merged.TurnColor
		}
		if err := merged.validate(); err != nil {
			return err
		}
		*r = *merged
		return nil
	})
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	obslog.L().Info("room_patch", zap.String("room_id", r.ID), zap.Strings("fields", keys))
	return r, nil
}

func mergeFields(r *Room, fields map[string]json.RawMessage) (*Room, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, apperr.Store("encode room", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.Store("decode room", err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, apperr.Invalid("invalid_request", "patch: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	var out Room
	if err := dec.Decode(&out); err != nil {
		return nil, apperr.Invalid("invalid_request", "patch: %v", err)
	}
	return &out, nil
}

// checkTransition: 결과는 EndGame으로만 한 번 기록되고, 찬 자리의 플레이어는 바뀌지 않는다.
func checkTransition(cur, next *Room) error {
	if cur.Result.State != ResultPending {
		if next.Result != cur.Result || next.State != cur.State {
			return ErrAlreadyFinished
		}
	} else if next.Result.State != ResultPending {
		return ErrResultReadOnly
	}
	for _, c := range []board.Color{board.White, board.Black} {
		was := cur.Players.Seat(c)
		if was == nil {
			continue
		}
		if now := next.Players.Seat(c); now == nil || now.ID != was.ID {
			return seatErr(c, ErrSlotOccupied)
		}
	}
	return nil
}

// validate checks the lifecycle invariants of a snapshot.
func (r *Room) validate() error {
	if !r.State.Valid() {
		return apperr.Invalid("invalid_request", "unknown state %q", r.State)
	}
	if r.TurnColor != "" && !r.TurnColor.Valid() {
		return ErrInvalidColor
	}
	if err := r.Board.Validate(); err != nil {
		return err
	}
	switch r.Result.State {
	case ResultPending, ResultDraw:
	case ResultVictory:
		if !r.Result.Winner.Valid() {
			return ErrInvalidColor
		}
	default:
		return apperr.Invalid("invalid_request", "unknown result %q", r.Result.State)
	}
	finished := r.Result.State != ResultPending
	if finished != (r.State == StateFinished) {
		return apperr.Invalid("invalid_request", "state %s does not match result %s", r.State, r.Result.State)
	}
	if r.State == StatePlaying && !r.Players.Full() {
		return apperr.Invalid("invalid_request", "playing room needs both seats")
	}
	if r.State == StatePlaying && r.Board == nil {
		return apperr.Invalid("invalid_request", "playing room needs a board")
	}
	if r.State == StateWaiting && r.Players.Full() {
		return apperr.Invalid("invalid_request", "room with both seats filled cannot be waiting")
	}
	if r.Rematch.OfferedBy != "" && !r.Rematch.OfferedBy.Valid() {
		return ErrInvalidColor
	}
	for _, mv := range r.MoveLog {
		if !mv.Player.Valid() {
			return fmt.Errorf("%w: move log entry %q", ErrInvalidColor, mv.Notation)
		}
	}
	if r.IsPrivate && r.AccessKey == "" {
		return fmt.Errorf("%w: private room needs an access key", ErrInvalidConfig)
	}
	return nil
}
