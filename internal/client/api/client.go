// Package api is the REST side of the client: the one-shot content fetch used while the
// channel is reconnecting and the window geometry restore.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"notepad-sync/internal/domain"
)

var ErrNotFound = errors.New("not found")

// envelope mirrors the server's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetNote fetches the authoritative snapshot of a note.
func (c *Client) GetNote(ctx context.Context, token, noteID string) (*domain.NoteResponse, error) {
	var note domain.NoteResponse
	path := fmt.Sprintf("/api/v1/notes/%s", url.PathEscape(noteID))
	if err := c.doRequest(ctx, http.MethodGet, path, token, nil, &note); err != nil {
		return nil, fmt.Errorf("get note request failed: %w", err)
	}
	return &note, nil
}

// GetPresence lists who the server currently sees on a note.
func (c *Client) GetPresence(ctx context.Context, token, noteID string) ([]domain.Member, error) {
	var members []domain.Member
	path := fmt.Sprintf("/api/v1/notes/%s/presence", url.PathEscape(noteID))
	if err := c.doRequest(ctx, http.MethodGet, path, token, nil, &members); err != nil {
		return nil, fmt.Errorf("get presence request failed: %w", err)
	}
	return members, nil
}

// GetWindowPosition returns ErrNotFound when the user never saved one.
func (c *Client) GetWindowPosition(ctx context.Context, token string) (*domain.WindowPosition, error) {
	var pos domain.WindowPosition
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/window-position", token, nil, &pos); err != nil {
		return nil, fmt.Errorf("get window position request failed: %w", err)
	}
	return &pos, nil
}

func (c *Client) SaveWindowPosition(ctx context.Context, token string, req domain.UpdateWindowPositionRequest) (*domain.WindowPosition, error) {
	var pos domain.WindowPosition
	if err := c.doRequest(ctx, http.MethodPut, "/api/v1/window-position", token, req, &pos); err != nil {
		return nil, fmt.Errorf("save window position request failed: %w", err)
	}
	return &pos, nil
}

func (c *Client) doRequest(ctx context.Context, method, path, token string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && env.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, env.Error)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}

	return nil
}
