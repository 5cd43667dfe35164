package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cooldown-chess/internal/board"
	"github.com/park285/cooldown-chess/internal/room"
)

const schema = `CREATE TABLE IF NOT EXISTS room_results (
    room_id       TEXT PRIMARY KEY,
    prev_room_id  TEXT NOT NULL DEFAULT '',
    white_id      TEXT NOT NULL DEFAULT '',
    white_name    TEXT NOT NULL DEFAULT '',
    black_id      TEXT NOT NULL DEFAULT '',
    black_name    TEXT NOT NULL DEFAULT '',
    mode          TEXT NOT NULL,
    enforce_turn  BOOLEAN NOT NULL,
    result        TEXT NOT NULL,
    winner        TEXT NOT NULL DEFAULT '',
    result_method TEXT NOT NULL DEFAULT '',
    moves         JSONB NOT NULL,
    pgn           TEXT NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    ended_at      TIMESTAMPTZ NOT NULL,
    duration_ms   BIGINT NOT NULL
)`

// Repository archives finished rooms in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates the results table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// SaveResult upserts the final state of a finished room.
func (r *Repository) SaveResult(ctx context.Context, rm *room.Room) error {
	if r == nil || r.db == nil || rm == nil {
		return nil
	}
	rec := recordFor(rm)
	movesRaw, err := json.Marshal(rm.MoveLog)
	if err != nil {
		return err
	}

	q := `INSERT INTO room_results (
        room_id, prev_room_id, white_id, white_name, black_id, black_name,
        mode, enforce_turn, result, winner, result_method, moves, pgn,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
      ) ON CONFLICT (room_id) DO UPDATE SET
        white_id=EXCLUDED.white_id,
        white_name=EXCLUDED.white_name,
        black_id=EXCLUDED.black_id,
        black_name=EXCLUDED.black_name,
        result=EXCLUDED.result,
        winner=EXCLUDED.winner,
        result_method=EXCLUDED.result_method,
        moves=EXCLUDED.moves,
        pgn=EXCLUDED.pgn,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		rm.ID, rm.PrevRoomID,
		rec.whiteID, rec.whiteName,
		rec.blackID, rec.blackName,
		rm.Config.Mode, rm.Config.EnforceTurn,
		string(rm.Result.State), string(rm.Result.Winner), rm.Result.Method,
		string(movesRaw), buildPGN(rm),
		rm.CreatedAt, rm.UpdatedAt, rec.durationMs,
	)
	return err
}

type record struct {
	whiteID, whiteName string
	blackID, blackName string
	durationMs         int64
}

func recordFor(rm *room.Room) record {
	var rec record
	if p := rm.Players.White; p != nil {
		rec.whiteID, rec.whiteName = p.ID, p.DisplayName
	}
	if p := rm.Players.Black; p != nil {
		rec.blackID, rec.blackName = p.ID, p.DisplayName
	}
	rec.durationMs = rm.UpdatedAt.Sub(rm.CreatedAt).Milliseconds()
	if rec.durationMs < 0 {
		rec.durationMs = 0
	}
	return rec
}

func mapResultToPGN(res room.Result) string {
	switch res.State {
	case room.ResultDraw:
		return "1/2-1/2"
	case room.ResultVictory:
		switch res.Winner {
		case board.White:
			return "1-0"
		case board.Black:
			return "0-1"
		}
	}
	return "*"
}

// buildPGN renders the move log as PGN-like text. Turn-based rooms use regular
// move-pair numbering; real-time rooms number every move and tag its side,
// since either side may move several times in a row.
func buildPGN(rm *room.Room) string {
	if rm == nil {
		return ""
	}
	pgnResult := mapResultToPGN(rm.Result)
	var b strings.Builder
	date := rm.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Cooldown Chess\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"room %s\"]\n", sanitizePGN(rm.ID)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(seatName(rm.Players.White))))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(seatName(rm.Players.Black))))
	if mode := strings.TrimSpace(rm.Config.Mode); mode != "" {
		b.WriteString(fmt.Sprintf("[TimeControl \"%s\"]\n", sanitizePGN(mode)))
	}
	if method := strings.TrimSpace(rm.Result.Method); method != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(method))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	if rm.Config.EnforceTurn {
		for i := 0; i < len(rm.MoveLog); i += 2 {
			b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(rm.MoveLog[i].Notation)))
			if i+1 < len(rm.MoveLog) {
				b.WriteString(" ")
				b.WriteString(strings.TrimSpace(rm.MoveLog[i+1].Notation))
			}
			b.WriteString(" ")
		}
	} else {
		for i, mv := range rm.MoveLog {
			b.WriteString(fmt.Sprintf("%d. %s {%s} ", i+1, strings.TrimSpace(mv.Notation), mv.Player))
		}
	}
	b.WriteString(pgnResult)
	return b.String()
}

func seatName(p *room.Player) string {
	if p == nil {
		return "?"
	}
	if strings.TrimSpace(p.DisplayName) != "" {
		return p.DisplayName
	}
	return p.ID
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
