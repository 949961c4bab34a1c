// Package render is the video compositing collaborator client: composed
// timings, background sequence and audio URLs in, a rendered video file out.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shortcast/shortcast-server/internal/background"
	"github.com/shortcast/shortcast-server/internal/captions"
)

// Input is the full composition the render service needs. Subtitle styling is
// opaque to the pipeline and passed through unchanged.
type Input struct {
	HookAudioURL     string                `json:"hookAudioUrl"`
	ScriptAudioURL   string                `json:"scriptAudioUrl"`
	HookWords        []captions.WordTiming `json:"hookWords"`
	ScriptWords      []captions.WordTiming `json:"scriptWords"`
	Background       background.Sequence   `json:"background"`
	DurationInFrames int                   `json:"durationInFrames"`
	Subtitle         json.RawMessage       `json:"subtitle,omitempty"`
}

// Client calls the render service. The render stage is the only pipeline
// stage with an explicit timeout; everything else relies on transport
// timeouts and bounded retries.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		// Per-render deadline is enforced via context, not the client.
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Render posts the composition and streams the produced video to outPath.
func (c *Client) Render(ctx context.Context, input Input, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal render input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("render requested",
		"duration_frames", input.DurationInFrames,
		"clips", len(input.Background.Clips),
		"hook_words", len(input.HookWords),
		"script_words", len(input.ScriptWords),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("render service returned HTTP %d: %s", resp.StatusCode, tail)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("cannot create output dir: %w", err)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("cannot create output file: %w", err)
	}
	defer out.Close()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		return fmt.Errorf("cannot write rendered video: %w", err)
	}

	c.logger.Info("render complete",
		"bytes", written,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
