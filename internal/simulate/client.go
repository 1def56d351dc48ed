package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/proctor/internal/adapters/feed"
	"github.com/okian/proctor/internal/report"
)

const maxErrorBody = 4 << 10

// Client calls the proctor HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

// Start begins a session and returns its id.
func (c *Client) Start(ctx context.Context) (string, error) {
	var out startResponse
	if err := c.post(ctx, "/session/start", nil, http.StatusCreated, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// Stop ends the session and returns the final report.
func (c *Client) Stop(ctx context.Context) (report.Report, error) {
	var rep report.Report
	if err := c.post(ctx, "/session/stop", nil, http.StatusOK, &rep); err != nil {
		return report.Report{}, err
	}
	return rep, nil
}

// PostFrame submits one landmark frame.
func (c *Client) PostFrame(ctx context.Context, p feed.FramePayload) error {
	return c.post(ctx, "/feed/frames", p, http.StatusAccepted, nil)
}

// PostAudio submits one audio block.
func (c *Client) PostAudio(ctx context.Context, p feed.AudioPayload) error {
	return c.post(ctx, "/feed/audio", p, http.StatusAccepted, nil)
}

func (c *Client) post(ctx context.Context, route string, body any, want int, out any) error {
	var rd io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("simulate: marshal %s: %w", route, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+route, rd)
	if err != nil {
		return fmt.Errorf("simulate: build %s: %w", route, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("simulate: %s: %w", route, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s: %d %s", ErrServer, route, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("simulate: decode %s: %w", route, err)
	}
	return nil
}
