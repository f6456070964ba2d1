package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aletheia/internal/errors"
	"aletheia/ports"
)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{Model: "m"})
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))

	_, err = NewClient(Config{APIKey: "k"})
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))

	c, err := NewClient(Config{APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1", c.cfg.BaseURL)
	assert.Equal(t, "openai", c.cfg.Provider)
}

func TestComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-test-0613",
			"choices": [{"message": {"role": "assistant", "content": "hello"}}],
			"usage": {"prompt_tokens": 1000, "completion_tokens": 500, "total_tokens": 1500}
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "secret", BaseURL: srv.URL + "/v1/", Model: "gpt-test", PromptPricePer1K: 0.01, CompletionPricePer1K: 0.03})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), []ports.Message{
		{Role: ports.RoleSystem, Content: "sys"},
		{Role: ports.RoleUser, Content: "hi"},
	}, 200, 0.2)
	require.NoError(t, err)

	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, 1500, out.Usage.TotalTokens)
	assert.Equal(t, "gpt-test-0613", out.Usage.Model)
	assert.Equal(t, "openai", out.Usage.Provider)
	assert.InDelta(t, 0.025, out.Cost, 1e-9)

	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, 200, got.MaxTokens)
	assert.Equal(t, 0.2, got.Temperature)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "sys", got.Messages[0].Content)
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusServiceUnavailable, `{"error":"overloaded"}`},
		{"no choices", http.StatusOK, `{"choices": []}`},
		{"bad json", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Model: "m"})
			require.NoError(t, err)
			_, err = c.Complete(context.Background(), []ports.Message{{Role: ports.RoleUser, Content: "x"}}, 10, 0)
			assert.Error(t, err)
		})
	}
}

func TestComplete_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Model: "m", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Complete(context.Background(), []ports.Message{{Role: ports.RoleUser, Content: "x"}}, 10, 0)
	assert.True(t, errors.HasCode(err, errors.CodeExternalService))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestComplete_NoMessages(t *testing.T) {
	c, err := NewClient(Config{APIKey: "k", Model: "m"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), nil, 10, 0)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}
