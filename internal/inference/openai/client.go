package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"resty.dev/v3"

	"github.com/at-ishikawa/phrasebook/internal/inference"
)

type Client struct {
	httpClient       *resty.Client
	model            string
	maxRetryAttempts uint
}

func NewClient(apiKey, model string, retryAttempts uint) *Client {
	client := resty.New()
	client.SetBaseURL("https://api.openai.com/v1")
	client.SetHeader("Authorization", "Bearer "+apiKey)
	client.SetHeader("Content-Type", "application/json")

	return &Client{
		httpClient:       client,
		model:            model,
		maxRetryAttempts: retryAttempts,
	}
}

func (client Client) Close() error {
	return client.httpClient.Close()
}

// GetModel returns the model name configured for this client
func (client Client) GetModel() string {
	return client.model
}

type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float32         `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type ChoiceMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Retry on JSON parsing errors as they might be due to incomplete responses
	errStr := err.Error()
	if strings.Contains(errStr, "json.Unmarshal") || strings.Contains(errStr, "unexpected end of JSON input") {
		return true
	}

	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "i/o timeout") {
		return true
	}

	if strings.Contains(errStr, "response error 5") {
		return true
	}

	if strings.Contains(errStr, "response error 429") {
		return true
	}

	return false
}

const generatePhrasesPrompt = `You write example phrases for a language learner.

Return ONLY a JSON object of this shape, with no text outside it:
{"phrases": [{"sentence": string, "meaning": string, "pronunciation": string, "memo": string, "tags": [string]}]}

- "sentence" is a natural, everyday sentence in the learned language.
- "meaning" is its translation into the learner's native language.
- "pronunciation" is a romanization or reading when the script is not Latin, otherwise empty.
- "memo" is a one-line note on grammar or nuance, or empty.
- "tags" are 1-3 short lowercase topic words.
- Never repeat a sentence listed in "avoid" and never repeat a sentence within the response.
- Return exactly "count" phrases.`

// GeneratePhrases implements the inference.Client interface
func (client *Client) GeneratePhrases(
	ctx context.Context,
	params inference.GeneratePhrasesRequest,
) (inference.GeneratePhrasesResponse, error) {
	if params.Count <= 0 {
		return inference.GeneratePhrasesResponse{}, nil
	}
	if params.Count > inference.MaxGeneratedPhrases {
		return inference.GeneratePhrasesResponse{}, fmt.Errorf("count %d exceeds the maximum of %d", params.Count, inference.MaxGeneratedPhrases)
	}

	var result inference.GeneratePhrasesResponse
	if err := retry.Do(
		func() error {
			response, err := client.generatePhrases(ctx, params)
			if err != nil {
				if !isRetryableError(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			result = response
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(client.maxRetryAttempts+1),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
	); err != nil {
		return inference.GeneratePhrasesResponse{}, err
	}
	return result, nil
}

func (client *Client) generatePhrases(
	ctx context.Context,
	params inference.GeneratePhrasesRequest,
) (inference.GeneratePhrasesResponse, error) {
	input, err := json.Marshal(params)
	if err != nil {
		return inference.GeneratePhrasesResponse{}, fmt.Errorf("json.Marshal(params) > %w", err)
	}
	requestBody := ChatCompletionRequest{
		Model: client.model,
		Messages: []Message{
			{Role: RoleSystem, Content: generatePhrasesPrompt},
			{Role: RoleUser, Content: string(input)},
		},
		Temperature:    0.8,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}

	content, err := client.complete(ctx, requestBody)
	if err != nil {
		return inference.GeneratePhrasesResponse{}, err
	}

	var decoded struct {
		Phrases []inference.GeneratedPhrase `json:"phrases"`
	}
	if err := json.NewDecoder(strings.NewReader(content)).Decode(&decoded); err != nil {
		slog.Default().Error("Failed to parse OpenAI response as JSON",
			"topic", params.Topic,
			"count", params.Count,
			"error", err)
		return inference.GeneratePhrasesResponse{}, fmt.Errorf("json.Unmarshal(%s) > %w", content, err)
	}

	phrases := make([]inference.GeneratedPhrase, 0, len(decoded.Phrases))
	for _, p := range decoded.Phrases {
		p.Sentence = strings.TrimSpace(p.Sentence)
		p.Meaning = strings.TrimSpace(p.Meaning)
		if p.Sentence == "" || p.Meaning == "" {
			slog.Default().Debug("skipping incomplete generated phrase", "phrase", p)
			continue
		}
		phrases = append(phrases, p)
	}
	return inference.GeneratePhrasesResponse{Phrases: phrases}, nil
}

// complete sends one chat completion and returns the first choice's content.
func (client *Client) complete(ctx context.Context, requestBody ChatCompletionRequest) (string, error) {
	response, err := client.httpClient.R().
		SetContext(ctx).
		SetBody(requestBody).
		SetResult(&ChatCompletionResponse{}).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("httpClient.Post > %w", err)
	}
	if response.IsError() {
		return "", fmt.Errorf("response error %d: %s", response.StatusCode(), response.String())
	}

	responseBody := response.Result().(*ChatCompletionResponse)
	if responseBody == nil || len(responseBody.Choices) == 0 {
		return "", fmt.Errorf("empty response body or choices: %s", response.String())
	}

	content := responseBody.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty response content: %s", response.String())
	}
	slog.Default().Debug("openai response content",
		"model", responseBody.Model,
		"totalTokens", responseBody.Usage.TotalTokens,
	)
	return content, nil
}
