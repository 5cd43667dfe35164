package httpapi

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/park285/cooldown-chess/internal/apperr"
	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/chat"
	"github.com/park285/cooldown-chess/internal/room"
)

// SquareParam accepts either algebraic ("e2") or coordinate ({"x":4,"y":6}) form.
type SquareParam struct {
	board.Square
	set bool
}

func (s *SquareParam) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		sq, err := board.ParseSquare(raw)
		if err != nil {
			return err
		}
		s.Square, s.set = sq, true
		return nil
	}
	var sq board.Square
	if err := json.Unmarshal(b, &sq); err != nil {
		return err
	}
	if !sq.Valid() {
		return apperr.Invalid("invalid_square", "square %d,%d out of range", sq.X, sq.Y)
	}
	s.Square, s.set = sq, true
	return nil
}

type createRoomRequest struct {
	Config    *room.Config `json:"config"`
	IsPrivate bool         `json:"isPrivate"`
	AccessKey string       `json:"accessKey"`
}

type joinRequest struct {
	Player    room.Player `json:"player"`
	Color     string      `json:"color"`
	AccessKey string      `json:"accessKey"`
}

type moveRequest struct {
	Color    string      `json:"color"`
	From     SquareParam `json:"from"`
	To       SquareParam `json:"to"`
	Notation string      `json:"notation"`
}

// params resolves the move either from from/to or from coordinate notation ("e2e4").
func (m moveRequest) params() (room.MoveParams, error) {
	c, err := parseColor(m.Color)
	if err != nil {
		return room.MoveParams{}, err
	}
	if m.From.set && m.To.set {
		return room.MoveParams{Color: c, From: m.From.Square, To: m.To.Square}, nil
	}
	n := strings.ToLower(strings.TrimSpace(m.Notation))
	if len(n) != 4 {
		return room.MoveParams{}, apperr.Invalid("invalid_notation", "expected from/to or notation like e2e4")
	}
	from, err := board.ParseSquare(n[:2])
	if err != nil {
		return room.MoveParams{}, err
	}
	to, err := board.ParseSquare(n[2:])
	if err != nil {
		return room.MoveParams{}, err
	}
	return room.MoveParams{Color: c, From: from, To: to}, nil
}

type endRequest struct {
	Winner  string `json:"winner"`
	Outcome string `json:"outcome"`
	Method  string `json:"method"`
}

func (e endRequest) resolve() (board.Color, room.ResultState, error) {
	outcome := room.ResultState(strings.ToLower(strings.TrimSpace(e.Outcome)))
	var winner board.Color
	if strings.TrimSpace(e.Winner) != "" {
		c, err := parseColor(e.Winner)
		if err != nil {
			return "", "", err
		}
		winner = c
	}
	if outcome == "" {
		outcome = room.ResultDraw
		if winner != "" {
			outcome = room.ResultVictory
		}
	}
	return winner, outcome, nil
}

type colorRequest struct {
	Color string `json:"color"`
}

type respondRequest struct {
	Accepted bool `json:"accepted"`
}

type presenceRequest struct {
	Color        string `json:"color"`
	Disconnected bool   `json:"disconnected"`
}

type chatRequest struct {
	Author string `json:"author"`
	Color  string `json:"color"`
	Text   string `json:"text"`
}

func (r chatRequest) message() (chat.Message, error) {
	m := chat.Message{Author: r.Author, Text: r.Text}
	if strings.TrimSpace(r.Color) != "" {
		c, err := parseColor(r.Color)
		if err != nil {
			return chat.Message{}, err
		}
		m.Color = c
	}
	return m, nil
}

type respondResponse struct {
	Room *room.Room `json:"room"`
	Next *room.Room `json:"next,omitempty"`
}

func parseColor(s string) (board.Color, error) {
	c, ok := board.ParseColor(s)
	if !ok {
		return "", room.ErrInvalidColor
	}
	return c, nil
}
