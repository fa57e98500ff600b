package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig holds the CLI's connection settings.
type ClientConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client talks to a running contest-core instance.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates an API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8888"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		base: cfg.BaseURL,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (string, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("encode request failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return "", fmt.Errorf("build request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(data))
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		return pretty.String(), nil
	}
	return string(data), nil
}

// GetStatus fetches the last known status of a judge task.
func (c *Client) GetStatus(ctx context.Context, taskID string) (string, error) {
	return c.do(ctx, http.MethodGet, "/api/v1/judge/status/"+taskID, nil)
}

// GetRanklist fetches a contest's standing.
func (c *Client) GetRanklist(ctx context.Context, contestID int64) (string, error) {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/contests/%d/ranklist", contestID), nil)
}

// GetPlayerDetail fetches a player's per-problem standing in a contest.
func (c *Client) GetPlayerDetail(ctx context.Context, contestID, userID int64) (string, error) {
	return c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/contests/%d/players/%d", contestID, userID), nil)
}

// RebuildRanklist replays the contest's verdicts from scratch.
func (c *Client) RebuildRanklist(ctx context.Context, contestID int64) (string, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/contests/%d/ranklist/rebuild", contestID), struct{}{})
}

// ChangeRuleSet switches a contest's scoring rule set.
func (c *Client) ChangeRuleSet(ctx context.Context, contestID int64, ruleSet string) (string, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/contests/%d/ruleset", contestID),
		map[string]string{"ruleSet": ruleSet})
}

// Submit enqueues a submission for judging.
func (c *Client) Submit(ctx context.Context, body map[string]interface{}) (string, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/judge/submit", body)
}
