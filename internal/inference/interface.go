package inference

import (
	"context"
)

//go:generate mockgen -source=interface.go -destination=../mocks/inference/mock_client.go -package=mock_inference

// Client generates learning content. Generated phrases enter the collection as
// ordinary new phrases.
type Client interface {
	GeneratePhrases(ctx context.Context, params GeneratePhrasesRequest) (GeneratePhrasesResponse, error)
}

// GeneratePhrasesRequest describes the phrases to generate.
type GeneratePhrasesRequest struct {
	// Language is the language being learned, e.g. "Japanese".
	Language string `json:"language"`
	// NativeLanguage is the language meanings are written in.
	NativeLanguage string `json:"native_language"`
	Topic          string `json:"topic"`
	Level          string `json:"level,omitempty"`
	Count          int    `json:"count"`
	// Avoid lists sentences the learner already has.
	Avoid []string `json:"avoid,omitempty"`
}

type GeneratePhrasesResponse struct {
	Phrases []GeneratedPhrase
}

// GeneratedPhrase is one phrase as returned by the model.
type GeneratedPhrase struct {
	Sentence      string   `json:"sentence"`
	Meaning       string   `json:"meaning"`
	Pronunciation string   `json:"pronunciation,omitempty"`
	Memo          string   `json:"memo,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

const (
	DefaultMaxRetryAttempts = 3
	MaxGeneratedPhrases     = 50
)
