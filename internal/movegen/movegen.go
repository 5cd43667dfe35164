package movegen

import (
	"github.com/park285/cooldown-chess/internal/board"
)

// Oracle returns the squares a piece may move to on a board.
type Oracle interface {
	Destinations(b *board.Board, p board.Piece) []board.Square
}

// Contains reports whether sq is in dsts.
func Contains(dsts []board.Square, sq board.Square) bool {
	for _, d := range dsts {
		if d == sq {
			return true
		}
	}
	return false
}

// Pseudo generates pseudo-legal destinations: piece movement and blocking only,
// no check, castling, en passant or promotion. Kings may be captured.
type Pseudo struct{}

var (
	knightSteps = [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps   = [][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	rookRays    = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	bishopRays  = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

func (Pseudo) Destinations(b *board.Board, p board.Piece) []board.Square {
	if b == nil || !p.Pos.Valid() {
		return nil
	}
	switch p.Type {
	case board.Pawn:
		return pawnDestinations(b, p)
	case board.Knight:
		return steps(b, p, knightSteps)
	case board.King:
		return steps(b, p, kingSteps)
	case board.Rook:
		return rays(b, p, rookRays)
	case board.Bishop:
		return rays(b, p, bishopRays)
	case board.Queen:
		return append(rays(b, p, rookRays), rays(b, p, bishopRays)...)
	}
	return nil
}

func pawnDestinations(b *board.Board, p board.Piece) []board.Square {
	dir, start := -1, 6
	if p.Color == board.Black {
		dir, start = 1, 1
	}
	var out []board.Square
	one := board.Square{X: p.Pos.X, Y: p.Pos.Y + dir}
	if one.Valid() {
		if _, occupied := b.At(one); !occupied {
			out = append(out, one)
			two := board.Square{X: p.Pos.X, Y: p.Pos.Y + 2*dir}
			if p.Pos.Y == start {
				if _, occupied := b.At(two); !occupied {
					out = append(out, two)
				}
			}
		}
	}
	for _, dx := range []int{-1, 1} {
		diag := board.Square{X: p.Pos.X + dx, Y: p.Pos.Y + dir}
		if !diag.Valid() {
			continue
		}
		if q, ok := b.At(diag); ok && q.Color != p.Color {
			out = append(out, diag)
		}
	}
	return out
}

func steps(b *board.Board, p board.Piece, deltas [][2]int) []board.Square {
	var out []board.Square
	for _, d := range deltas {
		sq := board.Square{X: p.Pos.X + d[0], Y: p.Pos.Y + d[1]}
		if !sq.Valid() {
			continue
		}
		if q, ok := b.At(sq); ok && q.Color == p.Color {
			continue
		}
		out = append(out, sq)
	}
	return out
}

func rays(b *board.Board, p board.Piece, dirs [][2]int) []board.Square {
	var out []board.Square
	for _, d := range dirs {
		sq := board.Square{X: p.Pos.X + d[0], Y: p.Pos.Y + d[1]}
		for sq.Valid() {
			if q, ok := b.At(sq); ok {
				if q.Color != p.Color {
					out = append(out, sq)
				}
				break
			}
			out = append(out, sq)
			sq = board.Square{X: sq.X + d[0], Y: sq.Y + d[1]}
		}
	}
	return out
}
