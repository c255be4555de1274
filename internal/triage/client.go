package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the remote triage service over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

type classifyRequest struct {
	Message string   `json:"message"`
	Context []string `json:"context"`
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Classify sends the raw user message to the triage service. The auxiliary
// list is forwarded as-is; callers currently pass an empty list.
func (c *Client) Classify(ctx context.Context, message string, auxiliary []string) (Result, error) {
	if auxiliary == nil {
		auxiliary = []string{}
	}
	bodyBytes, err := json.Marshal(classifyRequest{Message: message, Context: auxiliary})
	if err != nil {
		return Result{}, fmt.Errorf("marshal triage request failed: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/triage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("build triage request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("triage request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read triage response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("triage response status %d: %s", resp.StatusCode, string(raw))
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, fmt.Errorf("parse triage json failed: %w", err)
	}
	return result, nil
}
