// Package pipeline drives a project through its lifecycle: module loading,
// the four ordered stages, the concurrent enrichment phase and the chat
// refinement loop. The Engine owns the single active Project; every
// mutation goes through it and readers only ever see deep copies.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/infragen/internal/errors"
	"github.com/p-blackswan/infragen/internal/llm"
	"github.com/p-blackswan/infragen/internal/metrics"
	"github.com/p-blackswan/infragen/internal/project"
	"github.com/p-blackswan/infragen/internal/stage"
)

// publishTimeout bounds recording and notifying a finished run.
const publishTimeout = 10 * time.Second

// ModuleLoader turns an uploaded archive into module context files.
type ModuleLoader interface {
	Load(data []byte) ([]project.TerraformFile, error)
}

// Recorder persists finished runs.
type Recorder interface {
	SaveRun(ctx context.Context, p *project.Project, degraded []string) error
}

// Notifier announces finished runs.
type Notifier interface {
	NotifyRun(ctx context.Context, p *project.Project, degraded []string) error
}

// RunRequest is the input of one pipeline run.
type RunRequest struct {
	Diagram  llm.Image
	ImageRef string
	Modules  []byte
	Config   project.AgentConfig
}

// Engine runs pipelines and chat turns against the active project.
type Engine struct {
	runner   *stage.Runner
	modules  ModuleLoader
	recorder Recorder
	notifier Notifier
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string

	mu        sync.Mutex
	current   *project.Project
	version   int
	lastStamp time.Time

	chatMu sync.Mutex
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

func WithModuleLoader(l ModuleLoader) Option { return func(e *Engine) { e.modules = l } }
func WithRecorder(r Recorder) Option         { return func(e *Engine) { e.recorder = r } }
func WithNotifier(n Notifier) Option         { return func(e *Engine) { e.notifier = n } }
func WithMetrics(m *metrics.Metrics) Option  { return func(e *Engine) { e.metrics = m } }
func WithClock(now func() time.Time) Option  { return func(e *Engine) { e.now = now } }

// New creates an engine with no active project.
func New(runner *stage.Runner, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		runner:   runner,
		validate: validator.New(),
		logger:   logger.With().Str("component", "pipeline").Logger(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Current returns a snapshot of the active project, or nil before the first run.
func (e *Engine) Current() *project.Project {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Clone()
}

// Run executes a whole pipeline and blocks until it reaches a terminal
// state. The returned error is the fatal stage error, if any.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*project.Project, error) {
	p, err := e.begin(req)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, p.Version, req)
}

// Start replaces the active project and runs the pipeline in the
// background. ctx governs the background run, not just this call.
func (e *Engine) Start(ctx context.Context, req RunRequest) (*project.Project, error) {
	p, err := e.begin(req)
	if err != nil {
		return nil, err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.execute(ctx, p.Version, req); err != nil {
			e.logger.Debug().Err(err).Str("project_id", p.ID).Msg("background run ended with error")
		}
	}()
	return p, nil
}

// Wait blocks until every background run has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) begin(req RunRequest) (*project.Project, error) {
	if len(req.Diagram.Data) == 0 {
		return nil, fmt.Errorf("%w: diagram is required", perrors.ErrInvalidInput)
	}
	if !strings.HasPrefix(req.Diagram.MIMEType, "image/") {
		return nil, fmt.Errorf("%w: diagram must be an image, got %q", perrors.ErrInvalidInput, req.Diagram.MIMEType)
	}
	if err := e.validate.Struct(req.Config); err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrInvalidInput, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.version++
	e.current = project.New(e.newID(), e.version, req.ImageRef, req.Config, e.stampLocked())
	e.logger.Info().Str("project_id", e.current.ID).Int("version", e.version).Msg("project created")
	return e.current.Clone(), nil
}

func (e *Engine) execute(ctx context.Context, version int, req RunRequest) (*project.Project, error) {
	e.metrics.RunStarted()
	defer e.metrics.RunFinished()

	common := stage.Common{Config: req.Config}
	modules := e.loadModules(version, req.Modules)

	code, err := e.runSequential(ctx, version, common, &req.Diagram, modules)
	if err != nil {
		return e.abort(ctx, version, err)
	}

	report, err := e.runEnrichment(ctx, version, common, code)
	if err != nil {
		return e.abort(ctx, version, err)
	}
	return e.finish(ctx, version, report.DegradedStages()), nil
}

func (e *Engine) loadModules(version int, archive []byte) []project.TerraformFile {
	if len(archive) == 0 || e.modules == nil {
		return nil
	}
	files, err := e.modules.Load(archive)
	if err != nil {
		e.logger.Warn().Err(err).Msg("module context unavailable")
		_ = e.update(version, func(p *project.Project) error {
			p.AddLog("Warning: could not load custom modules, continuing without them: " + err.Error())
			return nil
		})
		return nil
	}
	_ = e.update(version, func(p *project.Project) error {
		p.CustomModules = project.CloneFiles(files)
		p.AddLog(fmt.Sprintf("Loaded %d custom module files for context.", len(files)))
		return nil
	})
	return files
}

// abort records a fatal failure. A run whose project was replaced just
// stops: the new project must not inherit its error.
func (e *Engine) abort(ctx context.Context, version int, cause error) (*project.Project, error) {
	err := e.update(version, func(p *project.Project) error {
		return p.Fail(cause)
	})
	if err != nil {
		e.logger.Info().Err(cause).Int("version", version).Msg("stale run stopped")
		return nil, perrors.ErrProjectReplaced
	}
	e.logger.Error().Err(cause).Int("version", version).Msg("pipeline aborted")
	return e.finish(ctx, version, nil), cause
}

// finish publishes a terminal project to metrics, history and notifications.
func (e *Engine) finish(ctx context.Context, version int, degraded []string) *project.Project {
	e.mu.Lock()
	var snap *project.Project
	if e.current != nil && e.current.Version == version {
		snap = e.current.Clone()
	}
	e.mu.Unlock()
	if snap == nil {
		return nil
	}

	e.metrics.RecordPipeline(string(snap.Status))

	// A cancelled run is still published.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if e.recorder != nil {
		if err := e.recorder.SaveRun(ctx, snap, degraded); err != nil {
			e.logger.Warn().Err(err).Str("project_id", snap.ID).Msg("recording run failed")
		}
	}
	if e.notifier != nil {
		if err := e.notifier.NotifyRun(ctx, snap, degraded); err != nil {
			e.logger.Warn().Err(err).Str("project_id", snap.ID).Msg("run notification failed")
		}
	}
	return snap
}

// update applies fn to the active project if it is still the given version.
func (e *Engine) update(version int, fn func(p *project.Project) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.Version != version {
		return perrors.ErrProjectReplaced
	}
	return fn(e.current)
}

// advance moves the project to next and appends the log lines.
func (e *Engine) advance(version int, next project.Status, lines ...string) error {
	return e.update(version, func(p *project.Project) error {
		if err := p.Advance(next); err != nil {
			return err
		}
		for _, l := range lines {
			p.AddLog(l)
		}
		e.logger.Info().Str("project_id", p.ID).Str("status", string(next)).Msg("status changed")
		return nil
	})
}

// stampLocked returns a timestamp strictly after the previous one.
func (e *Engine) stampLocked() time.Time {
	t := e.now()
	if !t.After(e.lastStamp) {
		t = e.lastStamp.Add(time.Nanosecond)
	}
	e.lastStamp = t
	return t
}
