// Package prefs persists the small set of local toggles: accepted terms,
// last-used bet, theme, sound and haptics. Loaded once at startup, written
// on each mutation, degrading silently to in-memory when storage fails.
package prefs

import (
	"database/sql"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	keyAcceptedTerms = "accepted_terms"
	keyLastBet       = "last_bet"
	keyTheme         = "theme"
	keySound         = "sound"
	keyHaptics       = "haptics"
)

// Store is a string key-value store with typed accessors.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	cache map[string]string
}

// Open loads all preferences. db may be nil for in-memory-only use.
func Open(db *sql.DB) *Store {
	s := &Store{db: db, cache: make(map[string]string)}
	if db == nil {
		return s
	}

	rows, err := db.Query(`SELECT key, value FROM prefs`)
	if err != nil {
		log.Warn().Err(err).Msg("prefs load failed; continuing in-memory")
		s.db = nil
		return s
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			log.Warn().Err(err).Msg("prefs row scan failed")
			continue
		}
		s.cache[k] = v
	}
	return s
}

func (s *Store) get(key, fallback string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.cache[key]; ok {
		return v
	}
	return fallback
}

func (s *Store) set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = value

	if s.db == nil {
		return
	}
	if _, err := s.db.Exec(
		`INSERT INTO prefs (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("prefs persist failed; continuing in-memory")
		s.db = nil
	}
}

func (s *Store) AcceptedTerms() bool {
	return s.get(keyAcceptedTerms, "0") == "1"
}

func (s *Store) SetAcceptedTerms(accepted bool) {
	s.set(keyAcceptedTerms, boolValue(accepted))
}

// LastBet returns the last-used bet amount in sats, or fallback when unset.
func (s *Store) LastBet(fallback int64) int64 {
	v := s.get(keyLastBet, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Store) SetLastBet(amount int64) {
	s.set(keyLastBet, strconv.FormatInt(amount, 10))
}

func (s *Store) Theme() string {
	return s.get(keyTheme, "simple")
}

func (s *Store) SetTheme(theme string) {
	s.set(keyTheme, theme)
}

func (s *Store) SoundEnabled() bool {
	return s.get(keySound, "1") == "1"
}

func (s *Store) SetSoundEnabled(enabled bool) {
	s.set(keySound, boolValue(enabled))
}

func (s *Store) HapticsEnabled() bool {
	return s.get(keyHaptics, "1") == "1"
}

func (s *Store) SetHapticsEnabled(enabled bool) {
	s.set(keyHaptics, boolValue(enabled))
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
