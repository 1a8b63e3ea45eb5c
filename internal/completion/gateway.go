package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/litlabs-admin/daddyjohn/internal/observability"
	"github.com/litlabs-admin/daddyjohn/internal/reliability"
)

const (
	DefaultBaseURL     = "https://openrouter.ai/api/v1/"
	DefaultModel       = "mistralai/mistral-7b-instruct"
	DefaultSiteURL     = "http://localhost:5000"
	DefaultAppTitle    = "Daddy John Chatbot"
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.7
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = time.Second
	ChatTimeout        = 25 * time.Second
	SummaryTimeout     = 30 * time.Second
)

// Message is one role/content pair of a prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer sends a prompt upstream and returns the raw reply text.
type Completer interface {
	Complete(ctx context.Context, messages []Message, timeout time.Duration, maxRetries int) (string, error)
}

// Config controls gateway construction. Zero values fall back to the
// OpenRouter defaults above.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	SiteURL     string
	AppTitle    string
	MaxTokens   int64
	Temperature float64
	RetryDelay  time.Duration
	HTTPClient  *http.Client
}

// Gateway calls an OpenAI-compatible chat completions endpoint with a
// fixed-delay retry policy.
type Gateway struct {
	client     openai.Client
	configured bool
	model      string
	maxTokens  int64
	temp       float64
	retryDelay time.Duration
	logger     *zap.Logger
	metrics    *observability.Metrics
}

func NewGateway(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	siteURL := strings.TrimSpace(cfg.SiteURL)
	if siteURL == "" {
		siteURL = DefaultSiteURL
	}
	title := cfg.AppTitle
	if title == "" {
		title = DefaultAppTitle
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	g := &Gateway{
		configured: strings.TrimSpace(cfg.APIKey) != "",
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		temp:       cfg.Temperature,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
		metrics:    metrics,
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	if g.temp == 0 {
		g.temp = DefaultTemperature
	}
	if g.retryDelay == 0 {
		g.retryDelay = DefaultRetryDelay
	}

	g.client = openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithHeader("HTTP-Referer", siteURL),
		option.WithHeader("X-Title", title),
	)
	return g
}

// Complete runs up to maxRetries attempts, each bounded by timeout.
func (g *Gateway) Complete(ctx context.Context, messages []Message, timeout time.Duration, maxRetries int) (string, error) {
	if !g.configured {
		g.logger.Error("completion API key is not configured")
		g.observeAttempt(string(NotConfigured))
		return "", &UpstreamError{Kind: NotConfigured, Err: errors.New("OPENROUTER_API_KEY not set")}
	}
	if timeout <= 0 {
		timeout = ChatTimeout
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	params := openai.ChatCompletionNewParams{
		Model:       g.model,
		Messages:    toParams(messages),
		MaxTokens:   openai.Int(g.maxTokens),
		Temperature: openai.Float(g.temp),
	}

	var reply string
	attempts, err := reliability.Do(ctx, reliability.Policy{
		Attempts: maxRetries,
		Delay:    g.retryDelay,
		OnRetry: func(attempt int, err error) {
			g.logger.Warn("completion attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.String("kind", string(KindOf(err))),
				zap.Error(err),
			)
		},
	}, isRetryable, func(ctx context.Context, attempt int) error {
		text, err := g.attempt(ctx, params, timeout)
		if err != nil {
			g.observeAttempt(string(KindOf(err)))
			return err
		}
		g.observeAttempt("ok")
		reply = text
		return nil
	})
	if err != nil {
		var ue *UpstreamError
		if errors.As(err, &ue) {
			ue.Attempts = attempts
		}
		g.logger.Error("completion failed",
			zap.Int("attempts", attempts),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
		return "", err
	}
	return reply, nil
}

func (g *Gateway) attempt(ctx context.Context, params openai.ChatCompletionNewParams, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(attemptCtx, params)
	if g.metrics != nil {
		g.metrics.ObserveUpstreamLatency(time.Since(start))
	}
	if err != nil {
		return "", &UpstreamError{Kind: classify(err), Attempts: 1, Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &UpstreamError{Kind: MalformedSuccess, Attempts: 1, Err: errEmptyChoices}
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *Gateway) observeAttempt(result string) {
	if g.metrics == nil {
		return
	}
	g.metrics.UpstreamAttempts.WithLabelValues(result).Inc()
}

func classify(err error) Kind {
	if reliability.IsTimeout(err) {
		return Timeout
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return TransportFailure
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return MalformedSuccess
	}
	return TransportFailure
}

func isRetryable(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.retryable()
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
