package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"resty.dev/v3"

	"github.com/at-ishikawa/phrasebook/internal/inference"
)

func writeCompletion(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	mockResponse := ChatCompletionResponse{
		ID:      "chatcmpl-123",
		Object:  "chat.completion",
		Created: 1677652288,
		Model:   "gpt-4",
		Choices: []Choice{
			{
				Index:        0,
				Message:      ChoiceMessage{Role: RoleAssistant, Content: content},
				FinishReason: "stop",
			},
		},
		Usage: Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	require.NoError(t, json.NewEncoder(w).Encode(mockResponse))
}

func TestClient_GeneratePhrases(t *testing.T) {
	request := inference.GeneratePhrasesRequest{
		Language:       "Japanese",
		NativeLanguage: "English",
		Topic:          "greetings",
		Count:          2,
		Avoid:          []string{"こんにちは"},
	}

	tests := []struct {
		name              string
		request           inference.GeneratePhrasesRequest
		mockServerHandler func(t *testing.T, w http.ResponseWriter, r *http.Request)

		wantResponse    inference.GeneratePhrasesResponse
		wantCalls       int32
		wantError       bool
		wantErrorString string
	}{
		{
			name:    "success",
			request: request,
			mockServerHandler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/chat/completions", r.URL.Path)

				var reqBody ChatCompletionRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
				assert.Equal(t, "gpt-4", reqBody.Model)
				require.Len(t, reqBody.Messages, 2)
				assert.Equal(t, RoleSystem, reqBody.Messages[0].Role)
				require.NotNil(t, reqBody.ResponseFormat)
				assert.Equal(t, "json_object", reqBody.ResponseFormat.Type)

				var params inference.GeneratePhrasesRequest
				require.NoError(t, json.Unmarshal([]byte(reqBody.Messages[1].Content), &params))
				assert.Equal(t, request, params)

				writeCompletion(t, w, `{"phrases": [
					{"sentence": "おはよう", "meaning": "good morning", "pronunciation": "ohayou", "tags": ["greeting"]},
					{"sentence": " おやすみ ", "meaning": "good night"},
					{"sentence": "", "meaning": "dropped"}
				]}`)
			},
			wantResponse: inference.GeneratePhrasesResponse{
				Phrases: []inference.GeneratedPhrase{
					{Sentence: "おはよう", Meaning: "good morning", Pronunciation: "ohayou", Tags: []string{"greeting"}},
					{Sentence: "おやすみ", Meaning: "good night"},
				},
			},
			wantCalls: 1,
		},
		{
			name:    "zero count makes no request",
			request: inference.GeneratePhrasesRequest{Topic: "food"},
			mockServerHandler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				t.Error("unexpected request")
			},
			wantResponse: inference.GeneratePhrasesResponse{},
			wantCalls:    0,
		},
		{
			name:    "count over the maximum",
			request: inference.GeneratePhrasesRequest{Topic: "food", Count: inference.MaxGeneratedPhrases + 1},
			mockServerHandler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				t.Error("unexpected request")
			},
			wantError:       true,
			wantErrorString: "exceeds the maximum",
		},
		{
			name:    "bad request is not retried",
			request: request,
			mockServerHandler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error": {"message": "invalid model"}}`))
			},
			wantCalls:       1,
			wantError:       true,
			wantErrorString: "response error 400",
		},
		{
			name:    "server error is retried",
			request: request,
			mockServerHandler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantCalls:       2,
			wantError:       true,
			wantErrorString: "response error 503",
		},
		{
			name:    "invalid JSON content",
			request: request,
			mockServerHandler: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				writeCompletion(t, w, `{"phrases": [`)
			},
			wantCalls:       2,
			wantError:       true,
			wantErrorString: "json.Unmarshal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.mockServerHandler(t, w, r)
			}))
			defer server.Close()

			client := &Client{
				httpClient:       resty.New().SetBaseURL(server.URL),
				model:            "gpt-4",
				maxRetryAttempts: 1,
			}

			gotResponse, gotErr := client.GeneratePhrases(context.Background(), tt.request)
			assert.Equal(t, tt.wantCalls, calls.Load())

			if tt.wantError {
				require.Error(t, gotErr)
				if tt.wantErrorString != "" {
					assert.Contains(t, gotErr.Error(), tt.wantErrorString)
				}
				return
			}

			require.NoError(t, gotErr)
			require.Equal(t, tt.wantResponse, gotResponse)
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "unrelated", err: assert.AnError, want: false},
		{name: "rate limit", err: errString("response error 429: slow down"), want: true},
		{name: "server", err: errString("response error 500: oops"), want: true},
		{name: "client", err: errString("response error 401: unauthorized"), want: false},
		{name: "timeout", err: errString("dial tcp: i/o timeout"), want: true},
		{name: "truncated", err: errString("json.Unmarshal({) > unexpected EOF"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
