package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-pro"

// contentGenerator is the slice of *genai.Models the provider needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider implements Generator on top of the Gemini API.
type GeminiProvider struct {
	models contentGenerator
	model  string
	logger zerolog.Logger
}

// NewGeminiProvider creates a provider backed by a genai client.
func NewGeminiProvider(ctx context.Context, apiKey, model string, logger zerolog.Logger) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGeminiProvider(client.Models, model, logger), nil
}

func newGeminiProvider(models contentGenerator, model string, logger zerolog.Logger) *GeminiProvider {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiProvider{
		models: models,
		model:  model,
		logger: logger.With().Str("component", "llm.gemini").Logger(),
	}
}

func (p *GeminiProvider) ModelID() string { return p.model }

func (p *GeminiProvider) buildRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	var parts []*genai.Part
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(PromptWithSchema(req)))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Schema != "" {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.Thinking != "" {
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(int32(req.Thinking.Budget())),
		}
	}
	return contents, cfg
}

// Generate sends a single generateContent call and concatenates the
// non-thought text parts of the first candidate.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	contents, cfg := p.buildRequest(req)
	resp, err := p.models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out := &Response{}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		var sb strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
		out.Text = sb.String()
	}

	p.logger.Debug().
		Str("stage", req.Stage).
		Str("model", p.model).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("gemini generate")
	return out, nil
}
