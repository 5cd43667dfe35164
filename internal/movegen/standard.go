package movegen

import (
	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/obslog"
)

// Standard asks the chess library for legal destinations, with the piece's
// side to move. It is used by turn-based rooms. Positions the library cannot
// load (a king already captured, say) fall back to Pseudo.
type Standard struct {
	Fallback Oracle
}

func NewStandard() *Standard { return &Standard{Fallback: Pseudo{}} }

func (s *Standard) Destinations(b *board.Board, p board.Piece) (out []board.Square) {
	if b == nil || !p.Pos.Valid() {
		return nil
	}
	if _, ok := b.King(board.White); !ok {
		return s.fallback(b, p)
	}
	if _, ok := b.King(board.Black); !ok {
		return s.fallback(b, p)
	}
	fen := b.FEN(p.Color)
	opt, err := nchess.FEN(fen)
	if err != nil {
		obslog.L().Debug("movegen_fen_rejected", zap.String("fen", fen), zap.Error(err))
		return s.fallback(b, p)
	}
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Warn("movegen_library_panic", zap.String("fen", fen), zap.Any("panic", r))
			out = s.fallback(b, p)
		}
	}()

	game := nchess.NewGame(opt)
	from := toLibSquare(p.Pos)
	seen := make(map[board.Square]struct{})
	for _, mv := range game.ValidMoves() {
		if mv.S1() != from {
			continue
		}
		dst := fromLibSquare(mv.S2())
		if _, dup := seen[dst]; dup {
			continue
		}
		seen[dst] = struct{}{}
		out = append(out, dst)
	}
	return out
}

func (s *Standard) fallback(b *board.Board, p board.Piece) []board.Square {
	if s.Fallback == nil {
		return Pseudo{}.Destinations(b, p)
	}
	return s.Fallback.Destinations(b, p)
}

func toLibSquare(sq board.Square) nchess.Square {
	return nchess.NewSquare(nchess.File(sq.X), nchess.Rank(7-sq.Y))
}

func fromLibSquare(sq nchess.Square) board.Square {
	return board.Square{X: int(sq.File()), Y: 7 - int(sq.Rank())}
}
