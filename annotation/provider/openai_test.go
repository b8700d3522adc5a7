package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theimaginaryfoundation/tag-o-bot/annotation"
)

func completionJSON(content string) string {
	b, _ := json.Marshal(content)
	return fmt.Sprintf(`{"id":"chatcmpl-1","object":"chat.completion","created":0,"model":"gpt-4",`+
		`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%s}}]}`, b)
}

func newTestSender(t *testing.T, handler http.HandlerFunc, policy RetryPolicy) (*ChatSender, *[]time.Duration) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1/"})
	s, err := NewChatSender(&client, policy, log.New(io.Discard))
	require.NoError(t, err)

	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return s, &sleeps
}

func TestChatSender_SendsSingleUserMessage(t *testing.T) {
	var body map[string]any
	s, sleeps := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON("[domain]x\n[summary]y\n[task type]z"))
	}, DefaultRetryPolicy)

	text, err := s.Send(context.Background(), "PROMPT", annotation.SendOptions{Model: "gpt-4", Temperature: 0.4, MaxOutputTokens: 800})
	require.NoError(t, err)
	assert.Equal(t, "[domain]x\n[summary]y\n[task type]z", text)
	assert.Empty(t, *sleeps)

	assert.Equal(t, "gpt-4", body["model"])
	assert.InDelta(t, 0.4, body["temperature"], 1e-9)
	assert.EqualValues(t, 800, body["max_tokens"])
	assert.EqualValues(t, 1, body["top_p"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]any)
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "PROMPT", msg["content"])
}

func TestChatSender_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	s, sleeps := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}
		_, _ = io.WriteString(w, completionJSON("ok"))
	}, RetryPolicy{MaxAttempts: 5, Delay: 5 * time.Second})

	text, err := s.Send(context.Background(), "p", annotation.SendOptions{Model: "gpt-4"})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, *sleeps)
}

func TestChatSender_ExhaustedWrapsSentinel(t *testing.T) {
	var calls atomic.Int32
	s, sleeps := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
	}, RetryPolicy{MaxAttempts: 3, Delay: time.Second})

	_, err := s.Send(context.Background(), "p", annotation.SendOptions{Model: "gpt-4"})
	require.ErrorIs(t, err, annotation.ErrSenderExhausted)
	assert.True(t, isRateLimitError(err))
	assert.EqualValues(t, 3, calls.Load())
	assert.Len(t, *sleeps, 2, "no wait after the final attempt")
}

func TestChatSender_EmptyContentIsAFailedAttempt(t *testing.T) {
	var calls atomic.Int32
	s, _ := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":0,"model":"gpt-4","choices":[]}`)
			return
		}
		if calls.Load() == 2 {
			_, _ = io.WriteString(w, completionJSON("  "))
			return
		}
		_, _ = io.WriteString(w, completionJSON("answer"))
	}, RetryPolicy{MaxAttempts: 3})

	text, err := s.Send(context.Background(), "p", annotation.SendOptions{Model: "gpt-4"})
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
	assert.EqualValues(t, 3, calls.Load())
}

func TestChatSender_CancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _ := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, RetryPolicy{MaxAttempts: 5, Delay: time.Hour})
	s.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := s.Send(ctx, "p", annotation.SendOptions{Model: "gpt-4"})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, annotation.ErrSenderExhausted)
}

func TestChatSender_AzureEndpoint(t *testing.T) {
	var path, version, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		version = r.URL.Query().Get("api-version")
		key = r.Header.Get("Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON("ok"))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{APIKey: "azure-key", AzureEndpoint: srv.URL, AzureAPIVersion: "2023-03-15-preview"})
	s, err := NewChatSender(&client, DefaultRetryPolicy, nil)
	require.NoError(t, err)

	text, err := s.Send(context.Background(), "p", annotation.SendOptions{Model: "gpt-4"})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Contains(t, path, "/deployments/gpt-4/chat/completions")
	assert.Equal(t, "2023-03-15-preview", version)
	assert.Equal(t, "azure-key", key)
}

func TestNewChatSender_Validation(t *testing.T) {
	client := NewClient(ClientConfig{APIKey: "k"})

	_, err := NewChatSender(nil, DefaultRetryPolicy, nil)
	require.Error(t, err)
	_, err = NewChatSender(&client, RetryPolicy{MaxAttempts: 0}, nil)
	require.Error(t, err)
	_, err = NewChatSender(&client, RetryPolicy{MaxAttempts: 1, Delay: -time.Second}, nil)
	require.Error(t, err)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.New("429 Too Many Requests"), "rate_limit"},
		{errors.New("Rate limit reached for gpt-4"), "rate_limit"},
		{errors.New("500 Internal Server Error"), "server"},
		{errors.New("dial tcp: connection refused"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorKind(tt.err), tt.err.Error())
	}
	assert.False(t, isRateLimitError(nil))
	assert.False(t, isServerError(nil))
}
