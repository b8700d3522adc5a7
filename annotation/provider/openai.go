package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/theimaginaryfoundation/tag-o-bot/annotation"
)

// RetryPolicy bounds how often a prompt is re-sent and how long to wait between tries.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy mirrors the annotator's historical behavior: five tries, five seconds apart.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Delay: 5 * time.Second}

// ClientConfig selects the endpoint. AzureEndpoint takes precedence over BaseURL.
type ClientConfig struct {
	APIKey          string
	BaseURL         string
	AzureEndpoint   string
	AzureAPIVersion string
}

// NewClient builds an OpenAI (or Azure OpenAI) chat client with SDK-level retries disabled.
func NewClient(cfg ClientConfig) openai.Client {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	switch {
	case cfg.AzureEndpoint != "":
		opts = append(opts,
			azure.WithEndpoint(cfg.AzureEndpoint, cfg.AzureAPIVersion),
			azure.WithAPIKey(cfg.APIKey),
		)
	default:
		if cfg.APIKey != "" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}
	return openai.NewClient(opts...)
}

// ChatSender sends prompts as a single user message over the Chat Completions API.
type ChatSender struct {
	client *openai.Client
	policy RetryPolicy
	logger *log.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

var _ annotation.Sender = (*ChatSender)(nil)

func NewChatSender(client *openai.Client, policy RetryPolicy, logger *log.Logger) (*ChatSender, error) {
	if client == nil {
		return nil, errors.New("NewChatSender: client is nil")
	}
	if policy.MaxAttempts <= 0 {
		return nil, fmt.Errorf("NewChatSender: max attempts must be > 0, got %d", policy.MaxAttempts)
	}
	if policy.Delay < 0 {
		return nil, fmt.Errorf("NewChatSender: delay must be >= 0, got %s", policy.Delay)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ChatSender{client: client, policy: policy, logger: logger, sleep: sleepContext}, nil
}

// Send returns the first choice's text. Every failure (transport, API status, empty content) uses one
// attempt; when the policy runs out the last cause is returned wrapped in ErrSenderExhausted.
func (s *ChatSender) Send(ctx context.Context, prompt string, opts annotation.SendOptions) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: opts.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature:      openai.Float(opts.Temperature),
		TopP:             openai.Float(1),
		FrequencyPenalty: openai.Float(0),
		PresencePenalty:  openai.Float(0),
	}
	if opts.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxOutputTokens))
	}

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		text, err := s.once(ctx, params)
		if err == nil {
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		lastErr = err
		s.logger.Warn("chat completion failed",
			"attempt", attempt,
			"max_attempts", s.policy.MaxAttempts,
			"kind", errorKind(err),
			"error", err,
		)
		if attempt == s.policy.MaxAttempts {
			break
		}
		if err := s.sleep(ctx, s.policy.Delay); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %w", annotation.ErrSenderExhausted, s.policy.MaxAttempts, lastErr)
}

func (s *ChatSender) once(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	completion, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no completion choices")
	}
	content := completion.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", errors.New("empty completion content")
	}
	return content, nil
}

func errorKind(err error) string {
	switch {
	case isRateLimitError(err):
		return "rate_limit"
	case isServerError(err):
		return "server"
	default:
		return "other"
	}
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
