// Package chat orchestrates answer generation for the assistant.
//
// For each user turn the orchestrator appends the turn to history, builds the
// bounded context window, and walks an ordered list of provider strategies —
// deterministic date/time, authenticated backend with optional web search,
// direct third-party provider — returning on the first success. Respond never
// fails its caller: every failure path resolves to an assistant-role message
// describing the failure, so the transcript itself documents what went wrong.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/coursepilot/assistant/internal/attachment"
	"github.com/coursepilot/assistant/internal/backend"
	"github.com/coursepilot/assistant/internal/conversation"
	"github.com/coursepilot/assistant/internal/history"
	"github.com/coursepilot/assistant/internal/provider"
)

// ModelConfig holds the two selectable models. Selection is binary: the
// deep-think model is used only when the user toggles it on.
type ModelConfig struct {
	Chat      string
	DeepThink string
}

// DefaultModels returns the default model pair.
func DefaultModels() ModelConfig {
	return ModelConfig{
		Chat:      "deepseek-chat",
		DeepThink: "deepseek-reasoner",
	}
}

// Select returns the model for the given toggle state.
func (m ModelConfig) Select(deepThink bool) string {
	if deepThink && m.DeepThink != "" {
		return m.DeepThink
	}
	return m.Chat
}

// Backend is the subset of the platform client the orchestrator needs.
type Backend interface {
	Authenticated() bool
	ChatWithSearch(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error)
	FetchNetworkTime(ctx context.Context) (*backend.NetworkTime, error)
}

// Provider is the subset of the direct-provider client the orchestrator needs.
type Provider interface {
	Configured() bool
	Complete(ctx context.Context, model string, messages []provider.Message) (string, error)
}

// noPathMessage is the terminal answer when no strategy is available at all.
const noPathMessage = "当前没有可用的 AI 通道：未登录平台账号，也未配置模型 API Key。请先登录或在设置中填写 API Key。"

// TurnInput is one user turn: text plus already-ingested attachments and the
// per-request toggles.
type TurnInput struct {
	Text        string
	Attachments []attachment.Attachment
	DeepThink   bool
	WebSearch   bool
	AutoSearch  bool
}

// Config assembles an Orchestrator.
type Config struct {
	History      *history.Store
	Backend      Backend  // optional
	Provider     Provider // optional
	Logger       *slog.Logger
	Window       conversation.WindowConfig // zero = DefaultWindowConfig
	Models       ModelConfig               // zero fields filled from DefaultModels
	SystemPrompt string                    // direct-provider system prompt
	SearchLimit  int                       // results requested from backend search
	RateLimiter  *rate.Limiter             // nil = default 5 rps, burst 10
	Retry        RetryConfig               // zero = DefaultRetryConfig
}

// Orchestrator produces assistant turns. All configuration is captured
// immutably at construction.
type Orchestrator struct {
	hist         *history.Store
	backend      Backend
	provider     Provider
	logger       *slog.Logger
	window       conversation.WindowConfig
	models       ModelConfig
	systemPrompt string
	searchLimit  int
	limiter      *rate.Limiter
	retry        RetryConfig
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.History == nil {
		return nil, errors.New("history store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Window.MaxChars == 0 {
		cfg.Window = conversation.DefaultWindowConfig()
	}
	defaults := DefaultModels()
	if cfg.Models.Chat == "" {
		cfg.Models.Chat = defaults.Chat
	}
	if cfg.Models.DeepThink == "" {
		cfg.Models.DeepThink = defaults.DeepThink
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 5
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = rate.NewLimiter(5, 10)
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Orchestrator{
		hist:         cfg.History,
		backend:      cfg.Backend,
		provider:     cfg.Provider,
		logger:       cfg.Logger,
		window:       cfg.Window,
		models:       cfg.Models,
		systemPrompt: cfg.SystemPrompt,
		searchLimit:  cfg.SearchLimit,
		limiter:      cfg.RateLimiter,
		retry:        cfg.Retry,
	}, nil
}

// strategy is one way of producing an assistant message. Strategies are tried
// in order; the first success wins. terminal marks the last resort whose
// failure ends the chain.
type strategy struct {
	name     string
	terminal bool
	run      func(ctx context.Context, model string, window []conversation.Message) (conversation.Message, error)
}

// Respond handles one user turn end to end: append the user message, build
// the window, walk the strategies, append and return the assistant message.
// It never returns an error to the caller.
func (o *Orchestrator) Respond(ctx context.Context, identity string, in TurnInput) conversation.Message {
	logger := o.logger.With("request_id", uuid.NewString()[:8], "identity", identity)

	userMsg := composeUserMessage(in)
	messages, err := o.hist.Append(identity, userMsg)
	if err != nil {
		// Nothing was persisted; report without touching the transcript.
		logger.Error("appending user turn", "error", err)
		return conversation.Message{
			Role:    conversation.RoleAssistant,
			Content: fmt.Sprintf("消息保存失败：%v", err),
		}
	}

	window := conversation.BuildWindow(messages, o.window)
	model := o.models.Select(in.DeepThink)
	logger.Debug("responding",
		"model", model,
		"web_search", in.WebSearch,
		"window_len", len(window),
		"attachments", len(in.Attachments))

	answer := o.answer(ctx, identity, in, model, window, logger)

	if _, err := o.hist.Append(identity, answer); err != nil {
		// Best-effort: the answer is still shown even if persistence failed.
		logger.Warn("appending assistant turn", "error", err)
	}
	return answer
}

// answer walks the strategy chain and turns the final failure, if any, into
// an assistant message.
func (o *Orchestrator) answer(ctx context.Context, identity string, in TurnInput, model string, window []conversation.Message, logger *slog.Logger) conversation.Message {
	strategies := o.strategies(identity, in)
	if len(strategies) == 0 {
		return conversation.Message{Role: conversation.RoleAssistant, Content: noPathMessage}
	}

	var notes []string
	var lastErr error
	for _, s := range strategies {
		msg, err := s.run(ctx, model, window)
		if err == nil {
			if len(notes) > 0 {
				msg.Content = strings.Join(notes, "\n") + "\n\n" + msg.Content
			}
			logger.Debug("strategy succeeded", "strategy", s.name)
			return msg
		}
		lastErr = err
		logger.Warn("strategy failed", "strategy", s.name, "error", err)
		if s.name == "network-time" {
			// Deterministic path degraded; the model answers instead, with a
			// note explaining why the clock is unverified.
			notes = append(notes, "（时间服务暂不可用，以下回答未经可信时钟校验。）")
		}
		if s.terminal {
			break
		}
	}

	return conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: fmt.Sprintf("回答生成失败：%v。请稍后重试。", lastErr),
	}
}

// strategies builds the ordered provider chain for one request. The order is
// fixed and auditable: date/time short-circuit, backend, direct provider.
func (o *Orchestrator) strategies(identity string, in TurnInput) []strategy {
	var chain []strategy

	providerReady := o.provider != nil && o.provider.Configured()
	backendReady := o.backend != nil && o.backend.Authenticated()

	if in.WebSearch && o.backend != nil && isTimeQuery(in.Text) {
		chain = append(chain, strategy{name: "network-time", run: o.runNetworkTime})
	}
	if backendReady && (in.WebSearch || !providerReady) {
		chain = append(chain, strategy{
			name:     "backend",
			terminal: !providerReady,
			run: func(ctx context.Context, model string, window []conversation.Message) (conversation.Message, error) {
				return o.runBackend(ctx, identity, in, model, window)
			},
		})
	}
	if providerReady {
		chain = append(chain, strategy{name: "provider", terminal: true, run: o.runProvider})
	}
	return chain
}

// runNetworkTime answers a date/time question from the trusted time source,
// bypassing the model entirely.
func (o *Orchestrator) runNetworkTime(ctx context.Context, _ string, _ []conversation.Message) (conversation.Message, error) {
	nt, err := o.backend.FetchNetworkTime(ctx)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("fetching network time: %w", err)
	}
	return conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: formatTimeAnswer(nt),
	}, nil
}

// runBackend calls the platform's augmented chat endpoint and attaches the
// returned search provenance to the assistant message.
func (o *Orchestrator) runBackend(ctx context.Context, identity string, in TurnInput, model string, window []conversation.Message) (conversation.Message, error) {
	message, historyItems := splitWindow(window)
	req := backend.ChatRequest{
		Identity:      identity,
		Message:       message,
		History:       historyItems,
		Model:         model,
		UseWebSearch:  in.WebSearch,
		AutoWebSearch: in.AutoSearch,
		SearchLimit:   o.searchLimit,
	}

	var resp *backend.ChatResponse
	err := o.callWithRetry(ctx, "backend chat", func(ctx context.Context) error {
		var cerr error
		resp, cerr = o.backend.ChatWithSearch(ctx, req)
		return cerr
	})
	if err != nil {
		return conversation.Message{}, fmt.Errorf("backend chat: %w", err)
	}

	answer := sanitizeAnswer(resp.Answer)
	if answer == "" {
		return conversation.Message{}, backend.ErrEmptyAnswer
	}
	return conversation.Message{
		Role:                conversation.RoleAssistant,
		Content:             answer,
		SearchResults:       resp.SearchResults,
		SearchProvider:      resp.SearchProvider,
		SearchResolvedQuery: resp.SearchResolvedQuery,
	}, nil
}

// runProvider calls the user's own chat-completion endpoint directly.
func (o *Orchestrator) runProvider(ctx context.Context, model string, window []conversation.Message) (conversation.Message, error) {
	messages := make([]provider.Message, 0, len(window)+1)
	if o.systemPrompt != "" {
		messages = append(messages, provider.Message{Role: conversation.RoleSystem, Content: o.systemPrompt})
	}
	for _, m := range window {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.APIText()})
	}

	var answer string
	err := o.callWithRetry(ctx, "provider completion", func(ctx context.Context) error {
		var cerr error
		answer, cerr = o.provider.Complete(ctx, model, messages)
		return cerr
	})
	if err != nil {
		return conversation.Message{}, fmt.Errorf("direct provider: %w", err)
	}
	return conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: sanitizeAnswer(answer),
	}, nil
}

// composeUserMessage folds the ingested attachments into a user message:
// display text stays attachment-free, while APIContent appends each ready
// attachment's extracted text for the model-facing copy. Failed attachments
// stay out of the turn entirely.
func composeUserMessage(in TurnInput) conversation.Message {
	msg := conversation.Message{Role: conversation.RoleUser, Content: in.Text}

	var sb strings.Builder
	for _, a := range in.Attachments {
		if a.Status != attachment.StatusReady {
			continue
		}
		msg.Attachments = append(msg.Attachments, a.Ref())
		if a.ExtractedText == "" {
			continue // images: referenced, not read
		}
		fmt.Fprintf(&sb, "\n\n[附件: %s]\n%s", a.Name, a.ExtractedText)
	}
	if sb.Len() > 0 {
		msg.APIContent = in.Text + sb.String()
	}
	return msg
}

// splitWindow separates the current user turn (the window's last message)
// from the prior history, in the wire shape the backend expects.
func splitWindow(window []conversation.Message) (message string, items []backend.HistoryItem) {
	if len(window) == 0 {
		return "", nil
	}
	last := window[len(window)-1]
	prior := window[:len(window)-1]
	items = make([]backend.HistoryItem, 0, len(prior))
	for _, m := range prior {
		items = append(items, backend.HistoryItem{Role: m.Role, Content: m.APIText()})
	}
	return last.APIText(), items
}
