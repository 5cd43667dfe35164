package engine

import (
	"fmt"
	"time"

	"github.com/park285/cooldown-chess/internal/apperr"
	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/cooldown"
	"github.com/park285/cooldown-chess/internal/movegen"
)

var (
	ErrCooldownActive     = apperr.New(apperr.Conflict, "cooldown_active", "piece is on cooldown")
	ErrIllegalDestination = apperr.New(apperr.Conflict, "illegal_destination", "destination not reachable")
	ErrWrongTurn          = apperr.New(apperr.Conflict, "wrong_turn", "not this side's turn")
	ErrNoPiece            = apperr.New(apperr.Validation, "no_piece", "no piece on origin square")
)

// CooldownError carries when the blocked piece becomes eligible.
// It unwraps to ErrCooldownActive.
type CooldownError struct {
	PieceKey string
	Until    int64 // unix ms
	Retry    time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("piece %s is on cooldown for %dms", e.PieceKey, e.Retry.Milliseconds())
}

func (e *CooldownError) Unwrap() error { return ErrCooldownActive }

func (e *CooldownError) Details() map[string]any {
	return map[string]any{"piece": e.PieceKey, "until": e.Until, "retryAfterMs": e.Retry.Milliseconds()}
}

// Request is one proposed move.
type Request struct {
	From        board.Square
	To          board.Square
	Now         time.Time
	EnforceTurn bool
	Cooldowns   cooldown.Table
}

// Outcome is the result of an accepted move. Board and Tracker are fresh copies.
type Outcome struct {
	Board         *board.Board
	Tracker       cooldown.Tracker
	Moved         board.Piece
	Captured      *board.Piece
	Notation      string
	CooldownUntil int64
}

// Engine validates and applies moves against an Oracle.
type Engine struct {
	oracle movegen.Oracle
}

func New(oracle movegen.Oracle) *Engine {
	if oracle == nil {
		oracle = movegen.Pseudo{}
	}
	return &Engine{oracle: oracle}
}

// TryMove checks cooldown, destination and turn in that order, then applies the
// move on clones. On error neither b nor tracker is touched.
func (e *Engine) TryMove(b *board.Board, tracker cooldown.Tracker, req Request) (*Outcome, error) {
	if b == nil {
		return nil, apperr.Invalid("invalid_board", "board not initialized")
	}
	if !req.From.Valid() || !req.To.Valid() {
		return nil, apperr.Invalid("invalid_square", "square out of range")
	}
	mover, ok := b.At(req.From)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPiece, req.From)
	}

	key := mover.Key()
	if tracker.IsOnCooldown(key, req.Now) {
		until, _ := tracker.Until(key)
		return nil, &CooldownError{PieceKey: key, Until: until, Retry: tracker.Remaining(key, req.Now)}
	}

	if req.From == req.To || !movegen.Contains(e.oracle.Destinations(b, mover), req.To) {
		return nil, fmt.Errorf("%w: %s%s", ErrIllegalDestination, req.From, req.To)
	}
	target, occupied := b.At(req.To)
	if occupied && target.Color == mover.Color {
		return nil, fmt.Errorf("%w: %s holds own piece", ErrIllegalDestination, req.To)
	}

	if req.EnforceTurn && mover.Color != b.Turn {
		return nil, fmt.Errorf("%w: %s to move", ErrWrongTurn, b.Turn)
	}

	next := b.Clone()
	nextTracker := tracker.Clone()
	out := &Outcome{Board: next, Tracker: nextTracker, Notation: req.From.String() + req.To.String()}

	if occupied {
		captured, _ := next.Remove(req.To)
		nextTracker.Delete(captured.Key())
		out.Captured = &captured
	}
	moved, err := next.Relocate(req.From, req.To)
	if err != nil {
		return nil, err
	}
	out.Moved = moved

	// Position-keyed pieces carry their entry to the new square.
	if moved.ID == "" {
		nextTracker.Delete(req.From.Key())
	}
	out.CooldownUntil = nextTracker.Set(moved.Key(), req.Cooldowns.For(moved.Type), req.Now)

	if req.EnforceTurn {
		next.Turn = next.Turn.Opponent()
		next.TurnCount++
	}
	return out, nil
}

// Destinations exposes the oracle for callers that want to show candidates.
func (e *Engine) Destinations(b *board.Board, from board.Square) ([]board.Square, error) {
	p, ok := b.At(from)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPiece, from)
	}
	return e.oracle.Destinations(b, p), nil
}
