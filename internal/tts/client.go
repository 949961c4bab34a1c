// Package tts is the speech synthesis collaborator client: narration text in,
// an audio file on disk out.
package tts

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

	"github.com/shortcast/shortcast-server/internal/logging"
)

// Client calls an ElevenLabs-style synthesis endpoint and streams the
// returned audio to disk.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

// Synthesize converts text to speech with the given voice and writes the
// audio to outPath.
func (c *Client) Synthesize(ctx context.Context, text, voiceID, outPath string) error {
	payload, err := json.Marshal(synthesizeRequest{Text: text})
	if err != nil {
		return fmt.Errorf("marshal synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("xi-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("synthesis service returned HTTP %d: %s", resp.StatusCode, tail)
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
		return fmt.Errorf("cannot write synthesized audio: %w", err)
	}

	c.logger.Info("speech synthesized",
		"voice", voiceID,
		"chars", len(text),
		"bytes", written,
		"path", logging.SanitizePath(outPath),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
