package background

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dgraph-io/badger/v3"
)

// ClipCache persists probed clip durations keyed by clip URL, so pools that
// are reused across jobs are not re-probed on every draw.
type ClipCache struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenClipCache opens (creating if needed) the badger store at dir.
func OpenClipCache(dir string, logger *slog.Logger) (*ClipCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cannot open clip cache at %s: %w", dir, err)
	}
	return &ClipCache{db: db, logger: logger}, nil
}

func (c *ClipCache) Close() error {
	return c.db.Close()
}

// Get returns a cached duration in seconds, if present.
func (c *ClipCache) Get(url string) (float64, bool) {
	var seconds float64
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(url))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, err := strconv.ParseFloat(string(val), 64)
			if err != nil {
				return err
			}
			seconds = parsed
			return nil
		})
	})
	if err != nil {
		return 0, false
	}
	return seconds, true
}

// Put stores a probed duration. Cache writes are best-effort.
func (c *ClipCache) Put(url string, seconds float64) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(url), []byte(strconv.FormatFloat(seconds, 'f', -1, 64)))
	})
	if err != nil && c.logger != nil {
		c.logger.Warn("failed to cache clip duration", "clip", url, "error", err)
	}
}
