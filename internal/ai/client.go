package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxSuggestions = 3

// Client is the HTTP JSON client of the AI service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type moderateRequest struct {
	Text string `json:"text"`
}

type suggestRequest struct {
	Text    string   `json:"text"`
	Context []string `json:"context"`
}

func (c *Client) Moderate(ctx context.Context, text string) (Verdict, error) {
	var verdict Verdict
	if err := c.post(ctx, "/v1/moderate", moderateRequest{Text: text}, &verdict); err != nil {
		return Verdict{}, err
	}
	return verdict, nil
}

func (c *Client) SuggestReplies(ctx context.Context, text string, history []string) (Suggestions, error) {
	if history == nil {
		history = []string{}
	}
	var out Suggestions
	if err := c.post(ctx, "/v1/suggest-replies", suggestRequest{Text: text, Context: history}, &out); err != nil {
		return Suggestions{}, err
	}
	if len(out.Suggestions) > maxSuggestions {
		out.Suggestions = out.Suggestions[:maxSuggestions]
	}
	if out.Suggestions == nil {
		out.Suggestions = []string{}
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("ai request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return nil
}
