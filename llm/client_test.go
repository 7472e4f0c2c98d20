package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientComplete(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"안녕하세요"}}],"usage":{"total_tokens":12}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "key", "test-model", WithDefaults(0.3, 500))
	text, err := c.Complete(context.Background(), Request{
		Purpose: "story_link",
		System:  "sys",
		Prompt:  "user",
	})
	require.NoError(t, err)
	assert.Equal(t, "안녕하세요", text)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 0.3, got.Temperature)
	assert.Equal(t, 500, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Content)
}

func TestClientRequestOverridesDefaults(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "m")
	_, err := c.Complete(context.Background(), Request{Prompt: "p", Temperature: 0.9, MaxTokens: 42})
	require.NoError(t, err)

	assert.Equal(t, 0.9, got.Temperature)
	assert.Equal(t, 42, got.MaxTokens)
	require.Len(t, got.Messages, 1)
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"bad json", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "", "m").Complete(context.Background(), Request{Prompt: "p"})
			require.Error(t, err)
			if tt.status != http.StatusOK {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, tt.status, apiErr.StatusCode)
			}
		})
	}
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	_, err := NewProvider(context.Background(), Settings{Provider: "mystery"}, nil)
	assert.Error(t, err)
}

func TestNewProviderDefaultsToOpenAI(t *testing.T) {
	p, err := NewProvider(context.Background(), Settings{Model: "m"}, nil)
	require.NoError(t, err)
	c, ok := p.(*Client)
	require.True(t, ok)
	assert.Equal(t, DefaultEndpoint, c.endpoint)
}
