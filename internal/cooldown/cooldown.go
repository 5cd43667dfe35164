package cooldown

import (
	"time"

	"github.com/park285/cooldown-chess/internal/board"
)

// Table maps a piece type to its cooldown in milliseconds.
type Table map[board.PieceType]int64

// DefaultTable grows with piece power.
func DefaultTable() Table {
	return Table{
		board.Pawn:   1000,
		board.Knight: 2000,
		board.Bishop: 3000,
		board.Rook:   4000,
		board.Queen:  5000,
		board.King:   6000,
	}
}

// For returns the cooldown for t; unknown types and a nil table yield zero.
func (t Table) For(pt board.PieceType) time.Duration {
	return time.Duration(t[pt]) * time.Millisecond
}

// Clone copies the table.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Tracker maps a piece key to the unix-millisecond instant its cooldown ends.
// It serializes as a plain JSON object and lives inside the room snapshot.
type Tracker map[string]int64

// IsOnCooldown reports whether key may not move yet. A piece is eligible again
// at exactly its expiry instant.
func (t Tracker) IsOnCooldown(key string, now time.Time) bool {
	exp, ok := t[key]
	return ok && now.UnixMilli() < exp
}

// Until returns the expiry for key when an entry exists.
func (t Tracker) Until(key string) (int64, bool) {
	exp, ok := t[key]
	return exp, ok
}

// Remaining is the time left before key becomes eligible, zero if it already is.
func (t Tracker) Remaining(key string, now time.Time) time.Duration {
	exp, ok := t[key]
	if !ok {
		return 0
	}
	left := exp - now.UnixMilli()
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * time.Millisecond
}

// Set starts a cooldown of d for key. Non-positive durations clear the entry.
func (t *Tracker) Set(key string, d time.Duration, now time.Time) int64 {
	if d <= 0 {
		delete(*t, key)
		return 0
	}
	if *t == nil {
		*t = Tracker{}
	}
	exp := now.Add(d).UnixMilli()
	(*t)[key] = exp
	return exp
}

// Delete drops the entry for key.
func (t Tracker) Delete(key string) { delete(t, key) }

// Sweep prunes expired entries and returns how many were removed.
func (t Tracker) Sweep(now time.Time) int {
	ms := now.UnixMilli()
	n := 0
	for k, exp := range t {
		if ms >= exp {
			delete(t, k)
			n++
		}
	}
	return n
}

// Clone copies the tracker so callers can mutate without touching a snapshot.
func (t Tracker) Clone() Tracker {
	out := make(Tracker, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
