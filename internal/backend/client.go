// Package backend is the HTTP client for the course platform's assistant
// endpoints: augmented chat, per-principal AI configuration, the remote chat
// history replica, and the trusted network time source.
//
// The client attaches the session token transparently; callers never deal
// with auth headers. All methods honor the passed context.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coursepilot/assistant/internal/conversation"
)

// Sentinel errors for backend operations.
var (
	// ErrEmptyIdentity indicates a history or config call without a principal.
	ErrEmptyIdentity = errors.New("empty identity")

	// ErrEmptyAnswer indicates the chat endpoint returned no usable text.
	ErrEmptyAnswer = errors.New("backend returned empty answer")
)

// Client talks to the platform backend.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *slog.Logger
}

// New creates a backend client. A nil logger falls back to slog.Default().
func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Authenticated reports whether a backend session token is present.
func (c *Client) Authenticated() bool {
	return c != nil && c.token != ""
}

// HistoryItem is one turn in the wire shape the chat endpoint expects.
type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /chat-with-search.
type ChatRequest struct {
	Identity      string        `json:"identity"`
	Message       string        `json:"message"`
	History       []HistoryItem `json:"history"`
	Model         string        `json:"model"`
	UseWebSearch  bool          `json:"use_web_search"`
	AutoWebSearch bool          `json:"auto_web_search"`
	SearchLimit   int           `json:"search_limit"`
}

// SearchDecision is the backend's record of whether it chose to search.
type SearchDecision struct {
	NeedWebSearch bool   `json:"need_web_search"`
	Reason        string `json:"reason"`
}

// ChatResponse is the body returned by POST /chat-with-search.
type ChatResponse struct {
	Answer              string                      `json:"answer"`
	SearchProvider      string                      `json:"search_provider,omitempty"`
	SearchResolvedQuery string                      `json:"search_resolved_query,omitempty"`
	SearchResults       []conversation.SearchResult `json:"search_results,omitempty"`
	SearchError         string                      `json:"search_error,omitempty"`
	SearchDecision      *SearchDecision             `json:"search_decision,omitempty"`
}

// ChatWithSearch calls the augmented chat endpoint.
func (c *Client) ChatWithSearch(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat-with-search", nil, req, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Answer) == "" {
		return nil, ErrEmptyAnswer
	}
	return &resp, nil
}

// AIConfig is the per-principal model/provider configuration held server-side.
// ProviderKey may be empty there and merged from the locally cached key.
type AIConfig struct {
	ChatModel      string `json:"chat_model"`
	DeepThinkModel string `json:"deep_think_model"`
	BaseURL        string `json:"base_url"`
	SystemPrompt   string `json:"system_prompt"`
	ProviderKey    string `json:"provider_key"`
}

// FetchAIConfig retrieves the principal's AI configuration.
func (c *Client) FetchAIConfig(ctx context.Context, identity string) (*AIConfig, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}
	var cfg AIConfig
	q := url.Values{"username": {identity}}
	if err := c.do(ctx, http.MethodGet, "/ai/config", q, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PutAIConfig stores the principal's AI configuration.
func (c *Client) PutAIConfig(ctx context.Context, identity string, cfg AIConfig) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	body := struct {
		Username string `json:"username"`
		AIConfig
	}{Username: identity, AIConfig: cfg}
	return c.do(ctx, http.MethodPut, "/ai/config", nil, body, nil)
}

// historyEnvelope is the wire shape of the remote history replica.
type historyEnvelope struct {
	Username string                 `json:"username"`
	Messages []conversation.Message `json:"messages"`
}

// FetchHistory reads the remote history replica for identity.
// Implements history.Remote.
func (c *Client) FetchHistory(ctx context.Context, identity string) ([]conversation.Message, error) {
	if identity == "" {
		return nil, ErrEmptyIdentity
	}
	var env historyEnvelope
	q := url.Values{"username": {identity}}
	if err := c.do(ctx, http.MethodGet, "/ai/chat-history", q, nil, &env); err != nil {
		return nil, err
	}
	return conversation.Normalize(env.Messages), nil
}

// PushHistory writes the remote history replica for identity.
// Implements history.Remote.
func (c *Client) PushHistory(ctx context.Context, identity string, msgs []conversation.Message) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	env := historyEnvelope{Username: identity, Messages: conversation.Normalize(msgs)}
	return c.do(ctx, http.MethodPut, "/ai/chat-history", nil, env, nil)
}

// NetworkTime is the trusted time reading used by the deterministic date/time
// path. Source distinguishes a network-derived reading from the server clock.
type NetworkTime struct {
	Local  time.Time
	Source string
}

// networkTimeResponse mirrors GET /ai/network-time.
type networkTimeResponse struct {
	NetworkTime struct {
		LocalISO string `json:"local_iso"`
		Source   string `json:"source"`
	} `json:"network_time"`
	SystemTime struct {
		LocalISO string `json:"local_iso"`
	} `json:"system_time"`
}

// FetchNetworkTime returns the backend's time reading, preferring the
// network-derived value and falling back to the server clock.
func (c *Client) FetchNetworkTime(ctx context.Context) (*NetworkTime, error) {
	var resp networkTimeResponse
	if err := c.do(ctx, http.MethodGet, "/ai/network-time", nil, nil, &resp); err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, resp.NetworkTime.LocalISO); err == nil {
		source := resp.NetworkTime.Source
		if source == "" {
			source = "network"
		}
		return &NetworkTime{Local: t, Source: source}, nil
	}
	if t, err := time.Parse(time.RFC3339, resp.SystemTime.LocalISO); err == nil {
		return &NetworkTime{Local: t, Source: "server-clock"}, nil
	}
	return nil, fmt.Errorf("no parsable time in response")
}

// do performs one JSON request/response round trip.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}
