// Package background assembles ordered background clip sequences whose total
// duration covers the narration length.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shortcast/shortcast-server/internal/media"
)

// ErrEmptyPool is returned when a background pool has no clips.
var ErrEmptyPool = errors.New("background pool is empty")

var clipExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// Clip is one background video with its measured duration.
type Clip struct {
	URL               string  `json:"url"`
	DurationInFrames  int     `json:"durationInFrames"`
	DurationInSeconds float64 `json:"durationInSeconds"`
}

// Sequence is an ordered clip list covering a required duration. The draw
// order is preserved so downstream composition plays clips back-to-back.
type Sequence struct {
	Clips                 []Clip `json:"clips"`
	TotalDurationInFrames int    `json:"totalDurationInFrames"`
}

// DurationProber measures a clip's real duration. Satisfied by *media.Tool.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Sequencer draws shuffled clips from a pool until the accumulated duration
// meets the requirement. Clips may repeat across shuffle passes but never
// play twice in a row. One Sequencer is shared by all concurrent jobs, so
// the rng sits behind its own lock.
type Sequencer struct {
	prober DurationProber
	cache  *ClipCache // optional; nil disables caching
	rngMu  sync.Mutex
	rng    *rand.Rand
	logger *slog.Logger
}

func NewSequencer(prober DurationProber, cache *ClipCache, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		prober: prober,
		cache:  cache,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}
}

// Build returns a sequence covering requiredSeconds of narration. Metadata
// durations are never trusted; every accepted clip is measured (through the
// cache) first.
func (s *Sequencer) Build(ctx context.Context, pool []string, requiredSeconds float64) (*Sequence, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}

	requiredFrames := int(math.Ceil(requiredSeconds * media.FramesPerSecond))

	seq := &Sequence{}
	lastDrawn := -1
	for seq.TotalDurationInFrames < requiredFrames {
		s.rngMu.Lock()
		perm := s.rng.Perm(len(pool))
		s.rngMu.Unlock()
		// A fresh shuffle may start with the clip that just played; swap it
		// away so repeats are never consecutive.
		if len(perm) > 1 && perm[0] == lastDrawn {
			perm[0], perm[1] = perm[1], perm[0]
		}

		accepted := 0
		for _, idx := range perm {
			if seq.TotalDurationInFrames >= requiredFrames {
				break
			}

			seconds, err := s.duration(ctx, pool[idx])
			if err != nil {
				s.logger.Warn("skipping unprobeable background clip",
					"clip", pool[idx], "error", err)
				continue
			}
			if seconds <= 0 {
				continue
			}

			clip := Clip{
				URL:               pool[idx],
				DurationInSeconds: seconds,
				DurationInFrames:  media.SecondsToFrames(seconds),
			}
			seq.Clips = append(seq.Clips, clip)
			seq.TotalDurationInFrames += clip.DurationInFrames
			lastDrawn = idx
			accepted++
		}

		if accepted == 0 {
			return nil, fmt.Errorf("no usable clips in pool of %d", len(pool))
		}
	}

	s.logger.Info("background sequence built",
		"clips", len(seq.Clips),
		"required_frames", requiredFrames,
		"total_frames", seq.TotalDurationInFrames,
	)
	return seq, nil
}

func (s *Sequencer) duration(ctx context.Context, url string) (float64, error) {
	if s.cache != nil {
		if seconds, ok := s.cache.Get(url); ok {
			return seconds, nil
		}
	}

	seconds, err := s.prober.ProbeDuration(ctx, url)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		s.cache.Put(url, seconds)
	}
	return seconds, nil
}

// ResolvePool lists the clip files of a named pool under the backgrounds
// root, sorted for stable shuffling input.
func ResolvePool(backgroundsDir, poolID string) ([]string, error) {
	dir := filepath.Join(backgroundsDir, filepath.Base(poolID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read pool %q: %w", poolID, err)
	}

	var clips []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if clipExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			clips = append(clips, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(clips)
	return clips, nil
}
