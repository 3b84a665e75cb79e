package llm

import (
	"context"
	"strings"
	"testing"
)

func TestThinkingBudget(t *testing.T) {
	cases := map[Thinking]int{
		ThinkingLow:    1024,
		ThinkingMedium: 8192,
		ThinkingHigh:   24576,
		"":             8192,
	}
	for level, want := range cases {
		if got := level.Budget(); got != want {
			t.Errorf("Budget(%q) = %d, want %d", level, got, want)
		}
	}
}

func TestPromptWithSchema(t *testing.T) {
	plain := PromptWithSchema(Request{Prompt: "describe"})
	if plain != "describe" {
		t.Errorf("expected prompt unchanged, got %q", plain)
	}

	withSchema := PromptWithSchema(Request{Prompt: "describe", Schema: `{"summary":"string"}`})
	if !strings.HasPrefix(withSchema, "describe") {
		t.Errorf("expected prompt prefix, got %q", withSchema)
	}
	if !strings.Contains(withSchema, `{"summary":"string"}`) {
		t.Errorf("expected schema in prompt, got %q", withSchema)
	}
}

func TestGeneratorFunc(t *testing.T) {
	var g Generator = GeneratorFunc(func(_ context.Context, req Request) (*Response, error) {
		return &Response{Text: "echo:" + req.Prompt}, nil
	})
	resp, err := g.Generate(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "echo:hi" {
		t.Errorf("got %q", resp.Text)
	}
}
