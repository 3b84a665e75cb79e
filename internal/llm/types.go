// Package llm defines the generation-service interface and its providers.
// Providers are interchangeable behind Generator; the pipeline only depends
// on the request/response contract.
package llm

import (
	"context"
)

// Thinking is the reasoning budget requested for a call.
type Thinking string

const (
	ThinkingLow    Thinking = "low"
	ThinkingMedium Thinking = "medium"
	ThinkingHigh   Thinking = "high"
)

// Budget returns the reasoning token budget for the level.
func (t Thinking) Budget() int {
	switch t {
	case ThinkingLow:
		return 1024
	case ThinkingHigh:
		return 24576
	default:
		return 8192
	}
}

// Image is an inline binary payload, typically the uploaded diagram.
type Image struct {
	MIMEType string
	Data     []byte
}

// Request is the input to a Generate call.
type Request struct {
	Stage    string // caller-side label, used for logging and fakes
	System   string
	Prompt   string
	Image    *Image
	Schema   string // JSON shape the response should satisfy; empty means free text
	Thinking Thinking
}

// Response is returned by Generate.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Generator is the core abstraction for generation backends.
// Implementations: GeminiProvider, AnthropicProvider.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the current model identifier string.
	ModelID() string
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

func (f GeneratorFunc) ModelID() string { return "func" }

// PromptWithSchema appends the declared output shape to the prompt text.
func PromptWithSchema(req Request) string {
	if req.Schema == "" {
		return req.Prompt
	}
	return req.Prompt + "\n\nRespond with JSON only, matching this shape:\n" + req.Schema
}
