package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCompletion(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     string
		wantStatus  int
		wantContent string
		wantTokens  int
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body: `{
				"id": "gen-123",
				"model": "openai/gpt-4o-mini",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"title\":\"Acme\"}"}}],
				"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
			}`,
			wantContent: `{"title":"Acme"}`,
			wantTokens:  15,
		},
		{
			name:       "rate_limit",
			status:     http.StatusTooManyRequests,
			body:       `{"error": {"message": "rate limit exceeded"}}`,
			wantErr:    "unexpected status 429",
			wantStatus: 429,
		},
		{
			name:       "bad_request",
			status:     http.StatusBadRequest,
			body:       `{"error": {"message": "response_format not supported"}}`,
			wantErr:    "unexpected status 400",
			wantStatus: 400,
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{invalid json`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/chat/completions", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient("test-key", WithBaseURL(srv.URL))
			resp, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
				Model:    "openai/gpt-4o-mini",
				Messages: []Message{{Role: "user", Content: "Hi"}},
			})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, resp)
				if tt.wantStatus != 0 {
					var se *StatusError
					require.True(t, errors.As(err, &se))
					assert.Equal(t, tt.wantStatus, se.StatusCode)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantContent, resp.Content())
			assert.Equal(t, tt.wantTokens, resp.Usage.TotalTokens)
		})
	}
}

func TestChatCompletion_RequestBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))

		assert.Equal(t, "google/gemini-2.5-flash-image", req["model"])
		assert.Equal(t, map[string]any{"type": "json_object"}, req["response_format"])
		assert.Equal(t, []any{"image", "text"}, req["modalities"])
		assert.Equal(t, "https://seo.example", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "seo-pipeline", r.Header.Get("X-Title"))

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","images":[{"type":"image_url","image_url":{"url":"data:image/png;base64,iVBORw0K"}}]}}]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithAppInfo("https://seo.example", "seo-pipeline"))
	resp, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Model:          "google/gemini-2.5-flash-image",
		Messages:       []Message{{Role: "user", Content: "draw"}},
		ResponseFormat: JSONObject,
		Modalities:     []string{"image", "text"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	require.Len(t, resp.Choices[0].Message.Images, 1)
	assert.Equal(t, "data:image/png;base64,iVBORw0K", resp.Choices[0].Message.Images[0].ImageURL.URL)
	assert.Empty(t, resp.Content())
}

func TestChatCompletion_OmitsOptionalFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NotContains(t, string(body), "response_format")
		assert.NotContains(t, string(body), "modalities")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), ChatCompletionRequest{
		Model:    "perplexity/sonar",
		Messages: []Message{{Role: "user", Content: "Hi"}},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Content())
}

func TestChatCompletion_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient("k", WithBaseURL(srv.URL)).ChatCompletion(ctx, ChatCompletionRequest{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send request")
}

func TestChatCompletion_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(1000, 1), WithTimeout(5*time.Second))
	for i := 0; i < 3; i++ {
		_, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{Model: "m"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestContent_NilResponse(t *testing.T) {
	var r *ChatCompletionResponse
	assert.Empty(t, r.Content())
}
