package media

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultCapsTTL = 5 * time.Minute

// Capabilities reports what the installed audio tooling can do.
type Capabilities struct {
	HasFFmpeg      bool      `json:"has_ffmpeg"`
	HasFFprobe     bool      `json:"has_ffprobe"`
	FFmpegVersion  string    `json:"ffmpeg_version,omitempty"`
	FFprobeVersion string    `json:"ffprobe_version,omitempty"`
	ProbedAt       time.Time `json:"probed_at"`
}

// Doctor probes audio tool availability. Satisfied by *Tool via ProbeDoctor.
type Doctor interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// ToolDoctor probes the resolved ffmpeg/ffprobe binaries.
type ToolDoctor struct {
	tool *Tool
}

func NewToolDoctor(tool *Tool) *ToolDoctor {
	return &ToolDoctor{tool: tool}
}

func (d *ToolDoctor) Probe(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{ProbedAt: time.Now()}

	if v, err := d.tool.Version(ctx, false); err == nil {
		caps.HasFFmpeg = true
		caps.FFmpegVersion = v
	}
	if v, err := d.tool.Version(ctx, true); err == nil {
		caps.HasFFprobe = true
		caps.FFprobeVersion = v
	}

	return caps, nil
}

// CachedDoctor wraps a Doctor to cache probe results with a TTL, so status
// requests do not spawn version subprocesses on every call.
type CachedDoctor struct {
	doctor Doctor
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around capability probes.
func NewCachedDoctor(doctor Doctor, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		doctor: doctor,
		ttl:    defaultCapsTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.doctor.Probe(ctx)
	if err != nil {
		d.logger.Warn("capability probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
