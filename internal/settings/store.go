// Package settings stores per-user generation defaults behind an explicit
// key-value store object. There is no ambient global state: handlers receive
// a Store and read through a read-mostly in-memory cache.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Settings is one user's channel profile for generation requests. Records
// are written atomically as a whole; there are no partial-field updates.
type Settings struct {
	UserID         string    `json:"user_id"`
	VoiceID        string    `json:"voice_id"`
	CaptionStyle   string    `json:"caption_style"`
	PitchUp        bool      `json:"pitch_up"`
	BackgroundPool string    `json:"background_pool"`
	SubtitleSize   int       `json:"subtitle_size"`
	SubtitleStroke string    `json:"subtitle_stroke"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Store interface {
	// Get returns a user's settings, or nil when none are stored.
	Get(ctx context.Context, userID string) (*Settings, error)
	// Put stores a whole settings record, last write wins.
	Put(ctx context.Context, s *Settings) error
}

// SQLiteStore persists settings in sqlite and caches whole records in memory
// keyed by user id. Concurrent jobs share the cache safely: each key is
// replaced atomically under the lock.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Settings
}

func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: logger,
		cache:  make(map[string]*Settings),
	}
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (*Settings, error) {
	s.mu.RLock()
	if cached, ok := s.cache[userID]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE user_id = ?", userID).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read settings for %s: %w", userID, err)
	}

	var settings Settings
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		return nil, fmt.Errorf("corrupt settings record for %s: %w", userID, err)
	}

	s.mu.Lock()
	s.cache[userID] = &settings
	s.mu.Unlock()

	return &settings, nil
}

func (s *SQLiteStore) Put(ctx context.Context, settings *Settings) error {
	if settings.UserID == "" {
		return fmt.Errorf("settings require a user id")
	}
	settings.UpdatedAt = time.Now().UTC()

	value, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("cannot encode settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (user_id, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, settings.UserID, string(value), settings.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("cannot write settings for %s: %w", settings.UserID, err)
	}

	s.mu.Lock()
	s.cache[settings.UserID] = settings
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("settings updated", "user_id", settings.UserID)
	}
	return nil
}
