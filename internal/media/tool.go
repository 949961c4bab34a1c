package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	defaultTransformTimeout = 5 * time.Minute
	defaultProbeTimeout     = 30 * time.Second
)

// ToolConfig holds the audio tool runner's configuration.
type ToolConfig struct {
	FFmpegPath       string // path to ffmpeg binary; empty = auto-detect
	FFprobePath      string // path to ffprobe binary; empty = auto-detect
	TransformTimeout time.Duration
	ProbeTimeout     time.Duration
	Logger           *slog.Logger
}

// DefaultToolConfig returns production-ready defaults.
func DefaultToolConfig(logger *slog.Logger) ToolConfig {
	return ToolConfig{
		TransformTimeout: defaultTransformTimeout,
		ProbeTimeout:     defaultProbeTimeout,
		Logger:           logger,
	}
}

// Tool executes ffmpeg/ffprobe as subprocesses. It is the single
// implementation of the audio transform contract used throughout the server.
type Tool struct {
	cfg     ToolConfig
	ffmpeg  string // resolved ffmpeg path
	ffprobe string // resolved ffprobe path
}

// NewTool creates a Tool, resolving the ffmpeg and ffprobe binary paths.
func NewTool(cfg ToolConfig) (*Tool, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffmpeg: %w", err)
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffprobe: %w", err)
	}

	if cfg.TransformTimeout <= 0 {
		cfg.TransformTimeout = defaultTransformTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}

	cfg.Logger.Info("audio tool initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)

	return &Tool{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe}, nil
}

// Filter runs ffmpeg over inputPath with an audio filter chain, writing the
// result to outputPath. A non-zero exit surfaces as *ToolError.
func (t *Tool) Filter(ctx context.Context, inputPath, outputPath, filter string) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.TransformTimeout)
	defer cancel()

	_, err := t.run(ctx, t.ffmpeg,
		"-y",
		"-i", inputPath,
		"-af", filter,
		outputPath,
	)
	return err
}

// ProbeDuration measures a media file's real duration in seconds.
func (t *Tool) ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	defer cancel()

	out, err := t.run(ctx, t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	dur, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse ffprobe duration %q: %w", strings.TrimSpace(out), err)
	}
	return dur, nil
}

// ProbeSampleRate reads the sample rate of the first audio stream.
func (t *Tool) ProbeSampleRate(ctx context.Context, path string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	defer cancel()

	out, err := t.run(ctx, t.ffprobe,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=sample_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	rate, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("cannot parse ffprobe sample rate %q: %w", strings.TrimSpace(out), err)
	}
	return rate, nil
}

// Version reports the first line of `<binary> -version` output.
func (t *Tool) Version(ctx context.Context, probe bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	defer cancel()

	bin := t.ffmpeg
	if probe {
		bin = t.ffprobe
	}
	out, err := t.run(ctx, bin, "-version")
	if err != nil {
		return "", err
	}
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return strings.TrimSpace(out), nil
}

// run is the core subprocess execution helper.
func (t *Tool) run(ctx context.Context, bin string, args ...string) (string, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	var stdoutBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf

	t.cfg.Logger.Debug("executing audio tool", "bin", bin, "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}

		stderrTail := truncateTail(stderrBuf.String(), 512)
		t.cfg.Logger.Warn("audio tool failed",
			"bin", bin,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", stderrTail,
		)
		return "", &ToolError{
			Tool:       bin,
			ExitCode:   exitCode,
			StderrTail: stderrTail,
			Duration:   elapsed,
		}
	}

	t.cfg.Logger.Debug("audio tool succeeded",
		"bin", bin,
		"duration_ms", elapsed.Milliseconds(),
	)
	return stdoutBuf.String(), nil
}

// resolveBinary finds a usable binary on PATH unless a path is configured.
func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("no %s binary found on PATH", name)
}

func truncateTail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
