package room

import (
	"time"

	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/cooldown"
)

// State is the room lifecycle.
type State string

const (
	StateWaiting  State = "waiting"
	StatePlaying  State = "playing"
	StateFinished State = "finished"
)

func (s State) Valid() bool {
	return s == StateWaiting || s == StatePlaying || s == StateFinished
}

// Time-control labels accepted in Config.Mode.
const (
	ModeBullet    = "bullet"
	ModeBlitz     = "blitz"
	ModeRapid     = "rapid"
	ModeClassical = "classical"
)

const DefaultPerPlayerTimeMs int64 = 300_000

// Config selects the time control and the single move-engine configuration of a room.
// EnforceTurn rooms alternate strictly and carry an empty cooldown table; the others
// play in real time gated only by CooldownMs.
type Config struct {
	PerPlayerTimeMs int64          `json:"perPlayerTimeMs"`
	Mode            string         `json:"mode"`
	EnforceTurn     bool           `json:"enforceTurn"`
	CooldownMs      cooldown.Table `json:"cooldownMs"`
}

type Player struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	Rating          int    `json:"rating"`
	RemainingTimeMs int64  `json:"remainingTimeMs"`
}

// Players holds the two seats; nil means the seat is empty.
type Players struct {
	White *Player `json:"white"`
	Black *Player `json:"black"`
}

func (p *Players) Seat(c board.Color) *Player {
	if c == board.White {
		return p.White
	}
	return p.Black
}

func (p *Players) setSeat(c board.Color, pl *Player) {
	if c == board.White {
		p.White = pl
	} else {
		p.Black = pl
	}
}

func (p *Players) Full() bool { return p.White != nil && p.Black != nil }

// Move is one entry of the append-only move log.
type Move struct {
	Player    board.Color `json:"player"`
	Notation  string      `json:"notation"`
	Timestamp int64       `json:"timestamp"` // unix ms
}

type ResultState string

const (
	ResultPending ResultState = "pending"
	ResultVictory ResultState = "victory"
	ResultDraw    ResultState = "draw"
)

type Result struct {
	State  ResultState `json:"state"`
	Winner board.Color `json:"winner,omitempty"`
	Method string      `json:"method,omitempty"`
}

type RematchState string

const (
	RematchPending  RematchState = "pending"
	RematchAccepted RematchState = "accepted"
	RematchRejected RematchState = "rejected"
)

// Rematch tracks the post-game offer. An empty OfferedBy means no offer was made.
type Rematch struct {
	OfferedBy  board.Color  `json:"offeredBy"`
	State      RematchState `json:"state"`
	NextRoomID string       `json:"nextRoomId,omitempty"`
}

type ColorFlags struct {
	White bool `json:"white"`
	Black bool `json:"black"`
}

func (f *ColorFlags) set(c board.Color, v bool) {
	if c == board.White {
		f.White = v
	} else {
		f.Black = v
	}
}

type ColorStamps struct {
	White int64 `json:"white"`
	Black int64 `json:"black"`
}

func (s *ColorStamps) set(c board.Color, v int64) {
	if c == board.White {
		s.White = v
	} else {
		s.Black = v
	}
}

// Room is the persisted aggregate under room:<id>.
type Room struct {
	ID           string           `json:"id"`
	State        State            `json:"state"`
	Players      Players          `json:"players"`
	TurnColor    board.Color      `json:"turnColor"`
	Board        *board.Board     `json:"board"`
	MoveLog      []Move           `json:"moveLog"`
	Result       Result           `json:"result"`
	IsPrivate    bool             `json:"isPrivate"`
	AccessKey    string           `json:"accessKey,omitempty"`
	Config       Config           `json:"config"`
	Cooldowns    cooldown.Tracker `json:"cooldowns"`
	Rematch      Rematch          `json:"rematch"`
	Disconnected ColorFlags       `json:"disconnected"`
	LastPing     ColorStamps      `json:"lastPing"`
	PrevRoomID   string           `json:"prevRoomId,omitempty"`
	Revision     int64            `json:"revision"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Public returns a copy safe to hand to clients (no access key).
func (r *Room) Public() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	cp.AccessKey = ""
	return &cp
}

// EventType names a push-feed event.
type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventDeleted  EventType = "deleted"
)

// Event is published on room:<id>:events after each committed change.
type Event struct {
	Type EventType `json:"type"`
	ID   string    `json:"id"`
	Room *Room     `json:"room,omitempty"`
}

// CreateParams is the body of a create request. A nil Config means defaults.
type CreateParams struct {
	Config    *Config
	IsPrivate bool
	AccessKey string
}

type JoinParams struct {
	Color     board.Color
	Player    Player
	AccessKey string
}

type MoveParams struct {
	Color board.Color
	From  board.Square
	To    board.Square
}

// MoveResult reports an accepted move.
type MoveResult struct {
	Room          *Room
	Captured      *board.Piece
	CooldownUntil int64
}
