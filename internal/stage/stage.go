// Package stage implements the contract every generation task satisfies:
// build a request from typed input, call the generator, extract the JSON
// payload from the reply and validate it against the output type.
//
// Each definition declares one of two failure policies. Fatal stages return
// the first error to the caller. Contained stages replace errors and panics
// with the stage's default value; RunContained also reports the failure in
// the returned Outcome, never propagating it.
package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/infragen/internal/errors"
	"github.com/p-blackswan/infragen/internal/extract"
	"github.com/p-blackswan/infragen/internal/llm"
	"github.com/p-blackswan/infragen/internal/metrics"
	"github.com/p-blackswan/infragen/internal/project"
	"github.com/p-blackswan/infragen/internal/prompts"
)

// Policy selects how a stage failure is handled.
type Policy int

const (
	Fatal Policy = iota
	Contained
)

func (p Policy) String() string {
	if p == Contained {
		return "contained"
	}
	return "fatal"
}

// Input is implemented by every stage input. The configuration snapshot
// drives the system prompt and the thinking budget.
type Input interface {
	StageConfig() project.AgentConfig
}

// Common carries the run configuration; embed it in stage inputs.
type Common struct {
	Config project.AgentConfig
}

func (c Common) StageConfig() project.AgentConfig { return c.Config }

// Definition describes one generation task.
type Definition[I Input, O any] struct {
	Name   string
	Policy Policy
	// Schema is the JSON shape appended to the prompt.
	Schema string
	// Image returns the binary payload sent with the prompt, if any.
	Image func(I) *llm.Image
	// Skip short-circuits the stage without calling the generator.
	Skip func(I) (O, bool)
	// Default is the safe value used by the Contained policy.
	Default func() O
}

func (d Definition[I, O]) fallback() O {
	if d.Default == nil {
		var zero O
		return zero
	}
	return d.Default()
}

// Outcome is the tagged result of a contained stage: either the real value
// or the default together with the failure that replaced it.
type Outcome[O any] struct {
	Value O
	Err   error
}

// Degraded reports whether Value is a fallback default.
func (o Outcome[O]) Degraded() bool { return o.Err != nil }

// Runner holds the collaborators shared by every stage.
type Runner struct {
	gen      llm.Generator
	prompts  *prompts.Catalog
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewRunner creates a stage runner. m may be nil.
func NewRunner(gen llm.Generator, catalog *prompts.Catalog, m *metrics.Metrics, logger zerolog.Logger) *Runner {
	return &Runner{
		gen:      gen,
		prompts:  catalog,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  m,
		logger:   logger.With().Str("component", "stage").Logger(),
	}
}

// Run executes def according to its policy. A Fatal stage returns its
// first error as a *errors.StageError naming the stage. A Contained stage
// never fails: the failure is logged and the stage default returned.
func Run[I Input, O any](ctx context.Context, r *Runner, def Definition[I, O], in I) (O, error) {
	if def.Policy == Contained {
		return RunContained(ctx, r, def, in).Value, nil
	}

	out, skipped, err := execute(ctx, r, def, in)
	switch {
	case skipped:
		r.metrics.RecordStage(def.Name, metrics.OutcomeSkipped)
	case err != nil:
		r.logger.Error().
			Err(err).
			Str("stage", def.Name).
			Bool("transient", perrors.IsTransient(err)).
			Msg("stage failed")
		r.metrics.RecordStage(def.Name, metrics.OutcomeFailed)
	default:
		r.metrics.RecordStage(def.Name, metrics.OutcomeSuccess)
	}
	return out, err
}

// RunContained executes a Contained definition. It never fails: errors and
// panics yield the stage default and are recorded in the Outcome. A Fatal
// definition is rejected with ErrPolicyMismatch without calling the generator.
func RunContained[I Input, O any](ctx context.Context, r *Runner, def Definition[I, O], in I) (res Outcome[O]) {
	if def.Policy != Contained {
		return Outcome[O]{Value: def.fallback(), Err: perrors.NewStageError(def.Name, perrors.ErrPolicyMismatch)}
	}

	defer func() {
		if p := recover(); p != nil {
			res = Outcome[O]{Value: def.fallback(), Err: perrors.NewStageError(def.Name, fmt.Errorf("panic: %v", p))}
		}
		if res.Err != nil {
			r.logger.Warn().
				Err(res.Err).
				Str("stage", def.Name).
				Bool("transient", perrors.IsTransient(res.Err)).
				Msg("stage degraded to default")
			r.metrics.RecordStage(def.Name, metrics.OutcomeDegraded)
		}
	}()

	out, skipped, err := execute(ctx, r, def, in)
	if err != nil {
		return Outcome[O]{Value: def.fallback(), Err: err}
	}
	if skipped {
		r.metrics.RecordStage(def.Name, metrics.OutcomeSkipped)
	} else {
		r.metrics.RecordStage(def.Name, metrics.OutcomeSuccess)
	}
	return Outcome[O]{Value: out}
}

func execute[I Input, O any](ctx context.Context, r *Runner, def Definition[I, O], in I) (O, bool, error) {
	if def.Skip != nil {
		if out, ok := def.Skip(in); ok {
			r.logger.Debug().Str("stage", def.Name).Msg("stage skipped")
			return out, true, nil
		}
	}

	start := time.Now()
	out, err := call(ctx, r, def, in)
	elapsed := time.Since(start)
	r.metrics.ObserveStage(def.Name, elapsed.Seconds())

	if err != nil {
		return out, false, perrors.NewStageError(def.Name, err)
	}
	r.logger.Info().Str("stage", def.Name).Dur("duration", elapsed).Msg("stage completed")
	return out, false, nil
}

func call[I Input, O any](ctx context.Context, r *Runner, def Definition[I, O], in I) (O, error) {
	var out O

	req, err := r.request(def.Name, def.Schema, in)
	if err != nil {
		return out, err
	}
	if def.Image != nil {
		req.Image = def.Image(in)
	}

	resp, err := r.gen.Generate(ctx, req)
	if err != nil {
		return out, err
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return out, perrors.ErrEmptyResponse
	}

	if err := extract.Into(resp.Text, &out); err != nil {
		return out, err
	}
	if err := r.validate.Struct(out); err != nil {
		return out, fmt.Errorf("%w: %v", perrors.ErrSchemaViolation, err)
	}
	return out, nil
}

func (r *Runner) request(name, schema string, in Input) (llm.Request, error) {
	system, err := r.prompts.System(in)
	if err != nil {
		return llm.Request{}, err
	}
	prompt, err := r.prompts.Render(name, in)
	if err != nil {
		return llm.Request{}, err
	}
	return llm.Request{
		Stage:    name,
		System:   system,
		Prompt:   prompt,
		Schema:   schema,
		Thinking: llm.Thinking(in.StageConfig().ThinkingLevel),
	}, nil
}
