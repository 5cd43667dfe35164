package room

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/obslog"
)

// OfferRematch records an offer from a seated color on a finished game.
func (m *Manager) OfferRematch(ctx context.Context, id string, c board.Color) (*Room, error) {
	if !c.Valid() {
		return nil, ErrInvalidColor
	}
	r, err := m.mutate(ctx, id, func(r *Room, _ time.Time) error {
		if r.Result.State == ResultPending {
			return ErrNotFinished
		}
		if r.Players.Seat(c) == nil {
			return seatErr(c, ErrNotSeated)
		}
		if r.Rematch.OfferedBy != "" && r.Rematch.State != RematchRejected {
			return ErrRematchPending
		}
		r.Rematch = Rematch{OfferedBy: c, State: RematchPending}
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("room_rematch_offer", zap.String("room_id", r.ID), zap.String("offered_by", string(c)))
	return r, nil
}

// RespondRematch records the answer to a pending offer. It does not create the
// successor room; see SpawnRematch.
func (m *Manager) RespondRematch(ctx context.Context, id string, accepted bool) (*Room, error) {
	r, err := m.mutate(ctx, id, func(r *Room, _ time.Time) error {
		if r.Rematch.OfferedBy == "" || r.Rematch.State != RematchPending {
			return ErrNoRematchOffer
		}
		if accepted {
			r.Rematch.State = RematchAccepted
		} else {
			r.Rematch.State = RematchRejected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("room_rematch_respond", zap.String("room_id", r.ID), zap.Bool("accepted", accepted))
	return r, nil
}

// SpawnRematch creates the successor of an accepted rematch under a new id: colors
// swapped, same config, already playing. Repeated calls return the same successor.
func (m *Manager) SpawnRematch(ctx context.Context, id string) (*Room, error) {
	candidate := uuid.NewString()
	prev, err := m.mutate(ctx, id, func(r *Room, _ time.Time) error {
		if r.Rematch.State != RematchAccepted {
			return ErrRematchNotAccepted
		}
		if r.Rematch.NextRoomID == "" {
			r.Rematch.NextRoomID = candidate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	nextID := prev.Rematch.NextRoomID

	next := m.successor(prev, nextID, m.now().UTC())
	created, err := m.put(ctx, next)
	if err != nil {
		return nil, err
	}
	if !created {
		return m.Get(ctx, nextID)
	}
	obslog.L().Info("room_rematch_spawn",
		zap.String("room_id", prev.ID),
		zap.String("next_room_id", next.ID),
	)
	return next, nil
}

func (m *Manager) successor(prev *Room, id string, now time.Time) *Room {
	cfg := prev.Config
	cfg.CooldownMs = cfg.CooldownMs.Clone()
	next := m.newRoom(id, cfg, now)
	next.IsPrivate = prev.IsPrivate
	next.AccessKey = prev.AccessKey
	next.PrevRoomID = prev.ID
	next.Players = Players{White: reseat(prev.Players.Black, prev.Config), Black: reseat(prev.Players.White, prev.Config)}
	if next.Players.Full() {
		next.start()
	}
	return next
}

func reseat(p *Player, cfg Config) *Player {
	if p == nil {
		return nil
	}
	cp := *p
	cp.RemainingTimeMs = cfg.PerPlayerTimeMs
	return &cp
}
