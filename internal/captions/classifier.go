package captions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shortcast/shortcast-server/internal/retry"
)

// ChatService is the text-classification collaborator contract: a prompt and
// source text in, a chat-style response body out.
type ChatService interface {
	Complete(ctx context.Context, model, prompt, text string) (string, error)
}

// Classifier assigns emphasis colors to words. It never fails outward:
// exhausted retries degrade to all-white default assignments.
type Classifier struct {
	chat   ChatService
	policy retry.Policy
	logger *slog.Logger
}

func NewClassifier(chat ChatService, policy retry.Policy, logger *slog.Logger) *Classifier {
	return &Classifier{chat: chat, policy: policy, logger: logger}
}

// Classify returns one assignment per emphasized word. Unmatched words stay
// white downstream, so an empty result is a valid degraded outcome.
func (c *Classifier) Classify(ctx context.Context, text string, style Style) []ColorAssignment {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	prompt := classifierPrompt(style)

	var assignments []ColorAssignment
	err := c.policy.Do(ctx, func(attempt int, model string) error {
		raw, err := c.chat.Complete(ctx, model, prompt, text)
		if err != nil {
			c.logger.Warn("classification attempt failed",
				"attempt", attempt+1, "model", model, "error", err)
			return err
		}

		parsed := ParseAssignments(raw)
		if len(parsed) == 0 {
			c.logger.Warn("classification response yielded no assignments",
				"attempt", attempt+1, "model", model, "response_len", len(raw))
			return fmt.Errorf("no parsable assignments in response")
		}

		assignments = parsed
		return nil
	})
	if err != nil {
		c.logger.Warn("classification unavailable, defaulting all words to white", "error", err)
		return DefaultAssignments(text)
	}

	return assignments
}

func classifierPrompt(style Style) string {
	unit := "word"
	if style == StyleGrouped {
		unit = "short phrase of up to three words"
	}
	return fmt.Sprintf(`You color-code narration captions for emphasis. For each important %s in the text, assign one color from this exact palette: white, yellow, red, green, purple.

Rules:
- The large majority of words must stay white; only genuinely emphatic %ss get a non-white color.
- yellow = key facts, red = danger or urgency, green = positive outcomes or money, purple = surprising or dramatic moments.
- Respond with ONLY a JSON array of {"word": "...", "color": "..."} objects, nothing else.`, unit, unit)
}

// ApplyColors annotates timings with classifier assignments. Matching is
// case-insensitive and ignores surrounding punctuation; unmatched words keep
// their existing color.
func ApplyColors(timings []WordTiming, assignments []ColorAssignment) []WordTiming {
	if len(assignments) == 0 {
		return timings
	}

	colors := make(map[string]Color, len(assignments))
	for _, a := range assignments {
		key := foldWord(a.Word)
		if key == "" || a.Color == ColorWhite {
			continue
		}
		// First non-white assignment for a word wins.
		if _, ok := colors[key]; !ok {
			colors[key] = a.Color
		}
	}

	out := make([]WordTiming, len(timings))
	for i, timing := range timings {
		out[i] = timing
		if color, ok := colors[foldWord(timing.Text)]; ok {
			out[i].Color = color
		}
	}
	return out
}

// HTTPChatService calls an OpenAI-style chat completions endpoint.
type HTTPChatService struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPChatService(baseURL, apiKey string, logger *slog.Logger) *HTTPChatService {
	return &HTTPChatService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (s *HTTPChatService) Complete(ctx context.Context, model, prompt, text string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := s.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chat service returned HTTP %d: %s", resp.StatusCode, tail)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("malformed chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response contained no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}
