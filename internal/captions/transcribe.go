package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shortcast/shortcast-server/internal/media"
	"github.com/shortcast/shortcast-server/internal/retry"
)

var supportedContainers = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".ogg":  true,
	".flac": true,
}

// WordTimingService is the speech-to-text collaborator contract: an audio
// file in, per-word second offsets out.
type WordTimingService interface {
	Words(ctx context.Context, audioPath, model string) ([]TranscriptWord, error)
}

// Transcriber obtains word-level timings for narration audio. It never fails
// outward: validation failures short-circuit, and exhausted retries degrade,
// to the deterministic fallback generator.
type Transcriber struct {
	service       WordTimingService
	policy        retry.Policy
	maxAudioBytes int64
	logger        *slog.Logger
}

func NewTranscriber(service WordTimingService, policy retry.Policy, maxAudioBytes int64, logger *slog.Logger) *Transcriber {
	return &Transcriber{
		service:       service,
		policy:        policy,
		maxAudioBytes: maxAudioBytes,
		logger:        logger,
	}
}

// Transcribe returns word timings for the asset, converting service offsets
// to the 30 fps clock, or synthesizing fallback timings from sourceText.
func (t *Transcriber) Transcribe(ctx context.Context, audio media.Asset, style Style, sourceText string) []WordTiming {
	totalFrames := audio.DurationFrames()

	if err := t.validate(audio.Path); err != nil {
		t.logger.Warn("audio failed transcription validation, using fallback timings",
			"path", filepath.Base(audio.Path), "error", err)
		return FallbackTimings(sourceText, style, totalFrames)
	}

	var words []TranscriptWord
	err := t.policy.Do(ctx, func(attempt int, model string) error {
		result, err := t.service.Words(ctx, audio.Path, model)
		if err != nil {
			t.logger.Warn("transcription attempt failed",
				"attempt", attempt+1, "model", model, "error", err)
			return err
		}
		words = result
		return nil
	})
	if err != nil || len(words) == 0 {
		t.logger.Warn("transcription unavailable, using fallback timings",
			"error", err, "words", len(words))
		return FallbackTimings(sourceText, style, totalFrames)
	}

	return framesFromWords(words, totalFrames)
}

func (t *Transcriber) validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("audio file not readable: %w", err)
	}
	if t.maxAudioBytes > 0 && info.Size() > t.maxAudioBytes {
		return fmt.Errorf("audio file %d bytes exceeds ceiling %d", info.Size(), t.maxAudioBytes)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedContainers[ext] {
		return fmt.Errorf("unsupported audio container %q", ext)
	}
	return nil
}

// framesFromWords converts second offsets to frame numbers, enforcing the
// timing invariants: monotonic non-decreasing starts, endFrame > startFrame,
// and the last endFrame never past the narration's total frame count.
func framesFromWords(words []TranscriptWord, totalFrames int) []WordTiming {
	timings := make([]WordTiming, 0, len(words))
	prevStart := 0
	for _, w := range words {
		if strings.TrimSpace(w.Text) == "" {
			continue
		}
		start := media.SecondsToFrames(w.Start)
		end := media.SecondsToFrames(w.End)

		if start < prevStart {
			start = prevStart
		}
		if end <= start {
			end = start + 1
		}
		if totalFrames > 0 && end > totalFrames {
			end = totalFrames
			if start >= end {
				start = end - 1
			}
		}

		timings = append(timings, WordTiming{
			Text:       w.Text,
			StartFrame: start,
			EndFrame:   end,
			Color:      ColorWhite,
		})
		prevStart = start
	}
	return timings
}

// HTTPWordTimingService calls a whisper-style transcription endpoint with a
// multipart file upload and parses `{text, words: [{text, start, end}]}`.
type HTTPWordTimingService struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPWordTimingService(baseURL, apiKey string, logger *slog.Logger) *HTTPWordTimingService {
	return &HTTPWordTimingService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

type wordTimingResponse struct {
	Text  string           `json:"text"`
	Words []TranscriptWord `json:"words"`
}

func (s *HTTPWordTimingService) Words(ctx context.Context, audioPath, model string) ([]TranscriptWord, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy audio into form: %w", err)
	}
	if model != "" {
		writer.WriteField("model", model)
	}
	writer.WriteField("timestamp_granularities", "word")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	url := s.baseURL + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("transcription service returned HTTP %d: %s", resp.StatusCode, tail)
	}

	var parsed wordTimingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("malformed transcription response: %w", err)
	}

	s.logger.Debug("transcription complete",
		"model", model, "words", len(parsed.Words), "chars", len(parsed.Text))
	return parsed.Words, nil
}
