// Package history keeps the append-only local record of finished games.
// Aggregate statistics are always a fold over the entry list, never stored,
// so they cannot drift from it.
package history

import (
	"database/sql"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Outcome of one finished game from this player's perspective.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// Entry is one finished game. NetAmount is the sats delta: payout minus bet
// on a win, minus the bet on a loss, zero on a draw.
type Entry struct {
	ID        string
	Timestamp time.Time
	BetAmount int64
	Outcome   Outcome
	NetAmount int64
}

// Stats is the aggregate fold over the ledger. Streak is the current run:
// positive for consecutive wins, negative for consecutive losses; draws
// leave it untouched.
type Stats struct {
	Wins    int
	Losses  int
	Draws   int
	Net     int64
	Streak  int
	WinRate int // percent of decided games won
}

// DefaultCap bounds the ledger to the most recent entries.
const DefaultCap = 100

// Ledger is the newest-first entry list. With a database it persists every
// append; without one (or after a storage failure) it silently continues
// in-memory for the session.
type Ledger struct {
	db  *sql.DB
	cap int

	mu      sync.Mutex
	entries []Entry
}

// Open loads the persisted ledger. db may be nil for in-memory-only use; a
// load failure logs once and degrades the same way.
func Open(db *sql.DB, capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	l := &Ledger{db: db, cap: capacity}
	if db == nil {
		return l
	}

	rows, err := db.Query(
		`SELECT id, ts, bet_sats, outcome, net_sats FROM history ORDER BY ts DESC LIMIT ?`, capacity)
	if err != nil {
		log.Warn().Err(err).Msg("history load failed; continuing in-memory")
		l.db = nil
		return l
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.BetAmount, &e.Outcome, &e.NetAmount); err != nil {
			log.Warn().Err(err).Msg("history row scan failed; continuing in-memory")
			l.db = nil
			l.entries = nil
			return l
		}
		e.Timestamp = time.UnixMilli(ts)
		l.entries = append(l.entries, e)
	}
	return l
}

// Append prepends e, trims to the cap, and best-effort persists.
func (l *Ledger) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append([]Entry{e}, l.entries...)
	if len(l.entries) > l.cap {
		l.entries = l.entries[:l.cap]
	}

	if l.db == nil {
		return
	}
	if _, err := l.db.Exec(
		`INSERT INTO history (id, ts, bet_sats, outcome, net_sats) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixMilli(), e.BetAmount, string(e.Outcome), e.NetAmount,
	); err != nil {
		log.Warn().Err(err).Msg("history persist failed; continuing in-memory")
		l.db = nil
		return
	}
	// The table is trimmed lazily; reads are capped anyway.
	if _, err := l.db.Exec(
		`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY ts DESC LIMIT ?)`, l.cap,
	); err != nil {
		log.Warn().Err(err).Msg("history trim failed")
	}
}

// Entries returns a copy of the ledger, newest first.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the number of retained entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stats folds the ledger into aggregates. Entries are newest-first, so the
// fold walks backwards to compute the streak chronologically.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var s Stats
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		s.Net += e.NetAmount
		switch e.Outcome {
		case OutcomeWin:
			s.Wins++
			if s.Streak >= 0 {
				s.Streak++
			} else {
				s.Streak = 1
			}
		case OutcomeLoss:
			s.Losses++
			if s.Streak <= 0 {
				s.Streak--
			} else {
				s.Streak = -1
			}
		case OutcomeDraw:
			s.Draws++
		}
	}

	if decided := s.Wins + s.Losses; decided > 0 {
		s.WinRate = int(math.Round(float64(s.Wins) / float64(decided) * 100))
	}
	return s
}
