// Package storage is the object storage collaborator client: a buffer and a
// path in, a public URL out.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortcast/shortcast-server/internal/logging"
)

// UploadError represents an error from the object storage endpoint.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("object upload failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and network errors.
// Client errors (4xx) are considered permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// Client uploads artifacts to the object storage service over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
	logger.Debug("object storage client configured",
		"base_url", c.baseURL,
		"token", logging.SanitizeToken(token),
	)
	return c
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload stores a buffer under the given object path and returns its public URL.
func (c *Client) Upload(ctx context.Context, data []byte, objectPath string) (string, error) {
	url := fmt.Sprintf("%s/objects/%s", c.baseURL, strings.TrimLeft(objectPath, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Info("uploading object", "path", objectPath, "bytes", len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		tail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &UploadError{StatusCode: resp.StatusCode, Body: string(tail)}
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.URL == "" {
		// Services that return an empty body imply the canonical object URL.
		return url, nil
	}
	return parsed.URL, nil
}

// UploadFile reads a file from disk and uploads it under objectPath.
func (c *Client) UploadFile(ctx context.Context, filePath, objectPath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", filePath, err)
	}
	return c.Upload(ctx, data, objectPath)
}
