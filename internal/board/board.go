package board

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/cooldown-chess/internal/apperr"
)

// Color identifies a side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Valid() bool { return c == White || c == Black }

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// ParseColor accepts "white"/"black" and the short forms "w"/"b".
func ParseColor(s string) (Color, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, true
	case "black", "b":
		return Black, true
	}
	return "", false
}

// PieceType is the kind of a chess piece.
type PieceType string

const (
	Pawn   PieceType = "pawn"
	Knight PieceType = "knight"
	Bishop PieceType = "bishop"
	Rook   PieceType = "rook"
	Queen  PieceType = "queen"
	King   PieceType = "king"
)

var pieceLetters = map[PieceType]byte{
	Pawn:   'p',
	Knight: 'n',
	Bishop: 'b',
	Rook:   'r',
	Queen:  'q',
	King:   'k',
}

func (t PieceType) Valid() bool {
	_, ok := pieceLetters[t]
	return ok
}

// Letter returns the lowercase FEN letter.
func (t PieceType) Letter() byte { return pieceLetters[t] }

// Square is a board coordinate. X is the file (0=a), Y the row counted from
// black's back rank (0 = rank 8, 7 = rank 1).
type Square struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (s Square) Valid() bool { return s.X >= 0 && s.X < 8 && s.Y >= 0 && s.Y < 8 }

// String renders algebraic notation such as "e2".
func (s Square) String() string {
	if !s.Valid() {
		return fmt.Sprintf("(%d,%d)", s.X, s.Y)
	}
	return string(rune('a'+s.X)) + strconv.Itoa(8-s.Y)
}

// Key is the positional identity used when a piece carries no id.
func (s Square) Key() string { return strconv.Itoa(s.X) + "," + strconv.Itoa(s.Y) }

// ParseSquare parses algebraic notation ("e2").
func ParseSquare(raw string) (Square, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return Square{}, apperr.Invalid("invalid_square", "invalid square %q", raw)
	}
	return Square{X: int(s[0] - 'a'), Y: 8 - int(s[1]-'0')}, nil
}

// Piece is an immutable value inside one board snapshot.
type Piece struct {
	ID    string    `json:"id,omitempty"`
	Type  PieceType `json:"type"`
	Color Color     `json:"color"`
	Pos   Square    `json:"position"`
}

// Key identifies the piece for cooldown bookkeeping: its stable id when present,
// otherwise its current square.
func (p Piece) Key() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Pos.Key()
}

// Board is one snapshot of the game position.
type Board struct {
	Pieces    []Piece `json:"pieces"`
	Turn      Color   `json:"turn"`
	TurnCount int     `json:"turnCount"`
}

// Clone returns a deep copy; snapshots are never mutated after being handed out.
func (b *Board) Clone() *Board {
	if b == nil {
		return nil
	}
	out := &Board{Turn: b.Turn, TurnCount: b.TurnCount, Pieces: make([]Piece, len(b.Pieces))}
	copy(out.Pieces, b.Pieces)
	return out
}

func (b *Board) index(sq Square) int {
	for i, p := range b.Pieces {
		if p.Pos == sq {
			return i
		}
	}
	return -1
}

// At returns the piece on sq.
func (b *Board) At(sq Square) (Piece, bool) {
	if b == nil {
		return Piece{}, false
	}
	if i := b.index(sq); i >= 0 {
		return b.Pieces[i], true
	}
	return Piece{}, false
}

// Find returns the piece with the given stable id.
func (b *Board) Find(id string) (Piece, bool) {
	if b == nil || id == "" {
		return Piece{}, false
	}
	for _, p := range b.Pieces {
		if p.ID == id {
			return p, true
		}
	}
	return Piece{}, false
}

// King returns the king of color c if it is still on the board.
func (b *Board) King(c Color) (Piece, bool) {
	if b == nil {
		return Piece{}, false
	}
	for _, p := range b.Pieces {
		if p.Type == King && p.Color == c {
			return p, true
		}
	}
	return Piece{}, false
}

// Remove deletes the piece on sq in place and returns it.
func (b *Board) Remove(sq Square) (Piece, bool) {
	i := b.index(sq)
	if i < 0 {
		return Piece{}, false
	}
	p := b.Pieces[i]
	b.Pieces = append(b.Pieces[:i], b.Pieces[i+1:]...)
	return p, true
}

// Relocate moves the piece on from to the empty square to, in place.
func (b *Board) Relocate(from, to Square) (Piece, error) {
	i := b.index(from)
	if i < 0 {
		return Piece{}, apperr.Invalid("no_piece", "no piece on %s", from)
	}
	if b.index(to) >= 0 {
		return Piece{}, apperr.Invalid("square_occupied", "square %s is occupied", to)
	}
	b.Pieces[i].Pos = to
	return b.Pieces[i], nil
}

// Validate checks coordinates and the one-piece-per-square invariant.
func (b *Board) Validate() error {
	if b == nil {
		return nil
	}
	seen := make(map[Square]struct{}, len(b.Pieces))
	for _, p := range b.Pieces {
		if !p.Pos.Valid() {
			return apperr.Invalid("invalid_board", "piece off board at %s", p.Pos)
		}
		if !p.Type.Valid() || !p.Color.Valid() {
			return apperr.Invalid("invalid_board", "unknown piece %s/%s at %s", p.Color, p.Type, p.Pos)
		}
		if _, dup := seen[p.Pos]; dup {
			return apperr.Invalid("invalid_board", "two pieces on %s", p.Pos)
		}
		seen[p.Pos] = struct{}{}
	}
	return nil
}

var backRank = [8]PieceType{Rook, Knight, Bishop, Queen, King, Bishop, Knight, Rook}

// Standard lays out the initial chess position with stable piece ids
// ("w-p-e" is the white pawn that starts on the e-file).
func Standard() *Board {
	b := &Board{Turn: White, Pieces: make([]Piece, 0, 32)}
	for x := 0; x < 8; x++ {
		file := string(rune('a' + x))
		b.Pieces = append(b.Pieces,
			Piece{ID: "b-" + string(backRank[x].Letter()) + "-" + file, Type: backRank[x], Color: Black, Pos: Square{X: x, Y: 0}},
			Piece{ID: "b-p-" + file, Type: Pawn, Color: Black, Pos: Square{X: x, Y: 1}},
			Piece{ID: "w-p-" + file, Type: Pawn, Color: White, Pos: Square{X: x, Y: 6}},
			Piece{ID: "w-" + string(backRank[x].Letter()) + "-" + file, Type: backRank[x], Color: White, Pos: Square{X: x, Y: 7}},
		)
	}
	return b
}

// FEN renders the position with the given side to move. Castling and en passant
// are never available.
func (b *Board) FEN(toMove Color) string {
	var grid [8][8]byte
	for _, p := range b.Pieces {
		if !p.Pos.Valid() {
			continue
		}
		l := p.Type.Letter()
		if p.Color == White {
			l -= 'a' - 'A'
		}
		grid[p.Pos.Y][p.Pos.X] = l
	}
	var sb strings.Builder
	for y := 0; y < 8; y++ {
		empty := 0
		for x := 0; x < 8; x++ {
			if grid[y][x] == 0 {
				empty++
				continue
			}
			if empty > 0 {
				sb.WriteString(strconv.Itoa(empty))
				empty = 0
			}
			sb.WriteByte(grid[y][x])
		}
		if empty > 0 {
			sb.WriteString(strconv.Itoa(empty))
		}
		if y < 7 {
			sb.WriteByte('/')
		}
	}
	side := "w"
	if toMove == Black {
		side = "b"
	}
	fullmove := b.TurnCount/2 + 1
	return fmt.Sprintf("%s %s - - 0 %d", sb.String(), side, fullmove)
}
