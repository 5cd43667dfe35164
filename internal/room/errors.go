package room

import (
	"fmt"

	"github.com/park285/cooldown-chess/internal/apperr"
	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/store"
)

var (
	ErrRoomNotFound       = apperr.New(apperr.NotFound, "room_not_found", "room not found")
	ErrSlotOccupied       = apperr.New(apperr.Conflict, "slot_occupied", "seat already taken")
	ErrAccessDenied       = apperr.New(apperr.Conflict, "access_denied", "access key mismatch")
	ErrNotPlaying         = apperr.New(apperr.Conflict, "not_playing", "game not in progress")
	ErrNotSeated          = apperr.New(apperr.Conflict, "not_seated", "seat is empty")
	ErrNotYourPiece       = apperr.New(apperr.Conflict, "not_your_piece", "piece belongs to the other side")
	ErrAlreadyFinished    = apperr.New(apperr.Conflict, "already_finished", "game already has a result")
	ErrNotFinished        = apperr.New(apperr.Conflict, "not_finished", "game still running")
	ErrResultReadOnly     = apperr.New(apperr.Conflict, "result_read_only", "result is set by ending the game")
	ErrNoRematchOffer     = apperr.New(apperr.Conflict, "no_rematch_offer", "no pending rematch offer")
	ErrRematchPending     = apperr.New(apperr.Conflict, "rematch_pending", "rematch offer already pending")
	ErrRematchNotAccepted = apperr.New(apperr.Conflict, "rematch_not_accepted", "rematch not accepted")
	ErrConcurrentUpdate   = store.ErrContention

	ErrInvalidColor  = apperr.New(apperr.Validation, "invalid_color", "color must be white or black")
	ErrInvalidConfig = apperr.New(apperr.Validation, "invalid_config", "invalid room config")
	ErrImmutable     = apperr.New(apperr.Validation, "immutable_field", "field cannot be changed")
)

// SeatError attaches the seat a rejection refers to.
type SeatError struct {
	Color board.Color
	err   error
}

func seatErr(c board.Color, err error) error { return &SeatError{Color: c, err: err} }

func (e *SeatError) Error() string { return fmt.Sprintf("%s: %s", e.err, e.Color) }
func (e *SeatError) Unwrap() error { return e.err }

func (e *SeatError) Details() map[string]any { return map[string]any{"color": string(e.Color)} }

// FieldError names the field a patch tried to change.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string           { return fmt.Sprintf("%s: %s", ErrImmutable, e.Field) }
func (e *FieldError) Unwrap() error           { return ErrImmutable }
func (e *FieldError) Details() map[string]any { return map[string]any{"field": e.Field} }
