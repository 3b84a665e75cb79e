package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/infragen/internal/errors"
	"github.com/p-blackswan/infragen/internal/llm"
	"github.com/p-blackswan/infragen/internal/project"
	"github.com/p-blackswan/infragen/internal/prompts"
	"github.com/p-blackswan/infragen/internal/stage"
)

type replyFunc func(req llm.Request) (*llm.Response, error)

func text(s string) replyFunc {
	return func(llm.Request) (*llm.Response, error) { return &llm.Response{Text: s}, nil }
}

func fail(msg string) replyFunc {
	return func(llm.Request) (*llm.Response, error) { return nil, errors.New(msg) }
}

// fakeGen answers by stage name and counts calls.
type fakeGen struct {
	mu      sync.Mutex
	calls   map[string]int
	prompts map[string]string
	replies map[string]replyFunc
}

func newFakeGen() *fakeGen {
	return &fakeGen{
		calls:   map[string]int{},
		prompts: map[string]string{},
		replies: map[string]replyFunc{
			stage.NameAnalysis:      text(`{"summary":"Web app","components":[{"name":"api","type":"lambda"},{"name":"db","type":"dynamodb"}],"connections":[{"from":"api","to":"db"}]}`),
			stage.NameGeneration:    text("Here you go:\n```json\n[{\"filename\":\"main.tf\",\"content\":\"resource a\"},{\"filename\":\"variables.tf\",\"content\":\"variable x\"}]\n```"),
			stage.NameReview:        text(`{"isValid":false,"score":80,"issues":["missing tags"],"suggestions":["add tags"]}`),
			stage.NameFinalization:  text(`{"files":[{"filename":"main.tf","content":"resource a tagged"},{"filename":"variables.tf","content":"variable x"}]}`),
			stage.NameDocumentation: text(`{"filename":"README.md","content":"# Web app"}`),
			stage.NameCost:          text(`{"totalMonthlyCost":"$42.00","currency":"USD","breakdown":[{"resource":"lambda","cost":"$2.00"}]}`),
			stage.NameSecurity:      text(`[{"severity":"LOW","title":"Access logs","description":"enable access logging","compliance":["CIS"]}]`),
			stage.NameDiagram:       text(`{"mermaid":"graph TD; api-->db"}`),
			stage.NameDevOps:        text(`[{"filename":".github/workflows/terraform.yml","content":"on: push"}]`),
			stage.NameRefinement:    text(`{"explanation":"Added versioning.","files":[{"filename":"main.tf","content":"new"},{"filename":"versioning.tf","content":"v"}]}`),
		},
	}
}

func (f *fakeGen) set(name string, fn replyFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[name] = fn
}

func (f *fakeGen) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGen) prompt(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[name]
}

func (f *fakeGen) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.calls[req.Stage]++
	f.prompts[req.Stage] = req.Prompt
	fn := f.replies[req.Stage]
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("unexpected stage %q", req.Stage)
	}
	return fn(req)
}

func (f *fakeGen) ModelID() string { return "fake" }

type fakeRecorder struct {
	mu       sync.Mutex
	runs     []*project.Project
	degraded [][]string
	ctxErrs  []error
}

func (r *fakeRecorder) SaveRun(ctx context.Context, p *project.Project, degraded []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, p)
	r.degraded = append(r.degraded, degraded)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return nil
}

type fakeLoader struct {
	files []project.TerraformFile
	err   error
}

func (l fakeLoader) Load([]byte) ([]project.TerraformFile, error) { return l.files, l.err }

func newTestEngine(t *testing.T, gen *fakeGen, opts ...Option) *Engine {
	t.Helper()
	catalog, err := prompts.Default()
	require.NoError(t, err)
	return New(stage.NewRunner(gen, catalog, nil, zerolog.Nop()), zerolog.Nop(), opts...)
}

func runRequest(cfg project.AgentConfig) RunRequest {
	return RunRequest{
		Diagram:  llm.Image{MIMEType: "image/png", Data: []byte("\x89PNG")},
		ImageRef: "architecture.png",
		Config:   cfg,
	}
}

func cicdConfig() project.AgentConfig {
	cfg := project.DefaultAgentConfig()
	cfg.GenerateCICD = true
	return cfg
}

var allStages = []string{
	stage.NameAnalysis, stage.NameGeneration, stage.NameReview, stage.NameFinalization,
	stage.NameDocumentation, stage.NameCost, stage.NameSecurity, stage.NameDiagram, stage.NameDevOps,
}

func TestRun_Completes(t *testing.T) {
	gen := newFakeGen()
	rec := &fakeRecorder{}
	e := newTestEngine(t, gen, WithRecorder(rec))

	p, err := e.Run(context.Background(), runRequest(cicdConfig()))
	require.NoError(t, err)

	assert.Equal(t, project.StatusCompleted, p.Status)
	assert.Empty(t, p.Error)
	assert.Equal(t, "architecture.png", p.ImageRef)
	assert.Equal(t, []string{"main.tf", "variables.tf", ".github/workflows/terraform.yml", "README.md"}, project.Filenames(p.Code))
	assert.Equal(t, "resource a tagged", p.Code[0].Content)
	require.NotNil(t, p.Cost)
	assert.Equal(t, "$42.00", p.Cost.TotalMonthlyCost)
	require.Len(t, p.Security, 1)
	assert.Equal(t, project.SeverityLow, p.Security[0].Severity)
	assert.Equal(t, "graph TD; api-->db", p.Diagram)
	require.NotNil(t, p.Validation)
	assert.Equal(t, 80, p.Validation.Score)

	for _, name := range allStages {
		assert.Equal(t, 1, gen.count(name), name)
	}
	assert.Equal(t, "Analyzing architecture diagram...", p.Logs[0])
	assert.Equal(t, "Pipeline completed successfully.", p.Logs[len(p.Logs)-1])

	require.Len(t, rec.runs, 1)
	assert.Equal(t, project.StatusCompleted, rec.runs[0].Status)
	assert.Empty(t, rec.degraded[0])

	assert.Equal(t, p, e.Current())
}

func TestRun_CancelledRunIsStillRecorded(t *testing.T) {
	rec := &fakeRecorder{}
	e := newTestEngine(t, newFakeGen(), WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, runRequest(project.DefaultAgentConfig()))
	require.NoError(t, err)

	require.Len(t, rec.runs, 1)
	assert.NoError(t, rec.ctxErrs[0])
}

func TestRun_StatusPerStage(t *testing.T) {
	gen := newFakeGen()
	e := newTestEngine(t, gen)

	var mu sync.Mutex
	seen := map[string]project.Status{}
	for name, fn := range gen.replies {
		name, fn := name, fn
		gen.replies[name] = func(req llm.Request) (*llm.Response, error) {
			mu.Lock()
			seen[name] = e.Current().Status
			mu.Unlock()
			return fn(req)
		}
	}

	_, err := e.Run(context.Background(), runRequest(cicdConfig()))
	require.NoError(t, err)

	assert.Equal(t, map[string]project.Status{
		stage.NameAnalysis:      project.StatusAnalyzing,
		stage.NameGeneration:    project.StatusGenerating,
		stage.NameReview:        project.StatusReviewing,
		stage.NameFinalization:  project.StatusFinalizing,
		stage.NameDocumentation: project.StatusPostProcessing,
		stage.NameCost:          project.StatusPostProcessing,
		stage.NameSecurity:      project.StatusPostProcessing,
		stage.NameDiagram:       project.StatusPostProcessing,
		stage.NameDevOps:        project.StatusPostProcessing,
	}, seen)
}

func TestRun_AnalysisFailureAborts(t *testing.T) {
	gen := newFakeGen()
	gen.set(stage.NameAnalysis, text(""))
	rec := &fakeRecorder{}
	e := newTestEngine(t, gen, WithRecorder(rec))

	p, err := e.Run(context.Background(), runRequest(cicdConfig()))
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrEmptyResponse)

	assert.Equal(t, project.StatusError, p.Status)
	assert.Empty(t, p.Code)
	assert.Equal(t, err.Error(), p.Error)
	assert.Equal(t, "analysis stage failed: generation service returned no text", p.Error)
	assert.Equal(t, "CRITICAL ERROR: "+p.Error, p.Logs[len(p.Logs)-1])

	assert.Equal(t, 1, gen.count(stage.NameAnalysis))
	for _, name := range allStages[1:] {
		assert.Zero(t, gen.count(name), name)
	}
	require.Len(t, rec.runs, 1)
	assert.Equal(t, project.StatusError, rec.runs[0].Status)
}

func TestRun_SequentialFailureStopsLaterStages(t *testing.T) {
	for i, failing := range allStages[1:4] {
		t.Run(failing, func(t *testing.T) {
			gen := newFakeGen()
			gen.set(failing, fail("quota exceeded"))
			e := newTestEngine(t, gen)

			p, err := e.Run(context.Background(), runRequest(cicdConfig()))
			require.Error(t, err)
			assert.Equal(t, project.StatusError, p.Status)
			assert.Equal(t, failing+" stage failed: quota exceeded", p.Error)

			for j, name := range allStages {
				want := 0
				if j <= i+1 {
					want = 1
				}
				assert.Equal(t, want, gen.count(name), name)
			}
		})
	}
}

func TestRun_PerfectReviewSkipsFinalization(t *testing.T) {
	gen := newFakeGen()
	gen.set(stage.NameReview, text(`{"isValid":true,"score":100,"issues":[],"suggestions":["consider modules"]}`))
	e := newTestEngine(t, gen)

	p, err := e.Run(context.Background(), runRequest(project.DefaultAgentConfig()))
	require.NoError(t, err)

	assert.Zero(t, gen.count(stage.NameFinalization))
	assert.Equal(t, project.StatusCompleted, p.Status)
	assert.Contains(t, p.Logs, "Code passed review with a perfect score. No fixes necessary.")
	assert.Equal(t, "resource a", p.Code[0].Content)
}

func TestRun_CostAndSecurityFailuresAreContained(t *testing.T) {
	gen := newFakeGen()
	gen.set(stage.NameCost, fail("cost service down"))
	gen.set(stage.NameSecurity, func(llm.Request) (*llm.Response, error) { panic("security exploded") })
	rec := &fakeRecorder{}
	e := newTestEngine(t, gen, WithRecorder(rec))

	p, err := e.Run(context.Background(), runRequest(cicdConfig()))
	require.NoError(t, err)

	assert.Equal(t, project.StatusCompleted, p.Status)
	assert.Equal(t, "N/A", p.Cost.TotalMonthlyCost)
	assert.Equal(t, []project.SecurityFinding{}, p.Security)
	assert.Equal(t, "graph TD; api-->db", p.Diagram)
	readme, ok := project.FindFile(p.Code, "README.md")
	require.True(t, ok)
	assert.Equal(t, "# Web app", readme.Content)
	_, ok = project.FindFile(p.Code, ".github/workflows/terraform.yml")
	assert.True(t, ok)

	assert.Equal(t, []string{stage.NameCost, stage.NameSecurity}, rec.degraded[0])
	assert.Empty(t, p.Error)
}

func TestRun_AllEnrichmentFailuresStillComplete(t *testing.T) {
	gen := newFakeGen()
	for _, name := range allStages[4:] {
		gen.set(name, text("not json at all"))
	}
	e := newTestEngine(t, gen)

	p, err := e.Run(context.Background(), runRequest(cicdConfig()))
	require.NoError(t, err)

	assert.Equal(t, project.StatusCompleted, p.Status)
	assert.Equal(t, []string{"main.tf", "variables.tf", "README.md"}, project.Filenames(p.Code))
	readme, _ := project.FindFile(p.Code, "README.md")
	assert.Equal(t, stage.DocumentationFallback, readme.Content)
	assert.Equal(t, "N/A", p.Cost.TotalMonthlyCost)
	assert.Empty(t, p.Security)
	assert.Empty(t, p.Diagram)
}

func TestRun_MergeOrderIgnoresCompletionOrder(t *testing.T) {
	gen := newFakeGen()
	devops := gen.replies[stage.NameDevOps]
	gen.set(stage.NameDevOps, func(req llm.Request) (*llm.Response, error) {
		time.Sleep(30 * time.Millisecond)
		return devops(req)
	})
	e := newTestEngine(t, gen)

	p, err := e.Run(context.Background(), runRequest(cicdConfig()))
	require.NoError(t, err)
	assert.Equal(t, []string{"main.tf", "variables.tf", ".github/workflows/terraform.yml", "README.md"}, project.Filenames(p.Code))
}

func TestRun_DocumentationNeverReplacesCode(t *testing.T) {
	tests := []struct {
		name      string
		docReply  string
		finalized string
		wantNames []string
		wantDoc   string
	}{
		{
			name:      "terraform filename from reply",
			docReply:  `{"filename":"main.tf","content":"# docs"}`,
			wantNames: []string{"main.tf", "variables.tf", "README.md"},
			wantDoc:   "README.md",
		},
		{
			name:      "markdown name clashing with generated file",
			docReply:  `{"filename":"README.md","content":"# docs"}`,
			finalized: `{"files":[{"filename":"main.tf","content":"resource a tagged"},{"filename":"README.md","content":"module readme"}]}`,
			wantNames: []string{"main.tf", "README.md", "DOCUMENTATION.md"},
			wantDoc:   "DOCUMENTATION.md",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newFakeGen()
			gen.set(stage.NameDocumentation, text(tt.docReply))
			if tt.finalized != "" {
				gen.set(stage.NameFinalization, text(tt.finalized))
			}
			e := newTestEngine(t, gen)

			p, err := e.Run(context.Background(), runRequest(project.DefaultAgentConfig()))
			require.NoError(t, err)
			assert.Equal(t, tt.wantNames, project.Filenames(p.Code))

			main, ok := project.FindFile(p.Code, "main.tf")
			require.True(t, ok)
			assert.Equal(t, "resource a tagged", main.Content)
			doc, ok := project.FindFile(p.Code, tt.wantDoc)
			require.True(t, ok)
			assert.Equal(t, "# docs", doc.Content)
		})
	}
}

func TestRun_DevOpsSkippedWithoutRequest(t *testing.T) {
	gen := newFakeGen()
	e := newTestEngine(t, gen)

	p, err := e.Run(context.Background(), runRequest(project.DefaultAgentConfig()))
	require.NoError(t, err)
	assert.Zero(t, gen.count(stage.NameDevOps))
	assert.Equal(t, []string{"main.tf", "variables.tf", "README.md"}, project.Filenames(p.Code))
}

func TestRun_ModuleContext(t *testing.T) {
	gen := newFakeGen()
	modules := []project.TerraformFile{{Filename: "modules/vpc/main.tf", Content: "module vpc"}}
	e := newTestEngine(t, gen, WithModuleLoader(fakeLoader{files: modules}))

	req := runRequest(project.DefaultAgentConfig())
	req.Modules = []byte("zip")
	p, err := e.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, modules, p.CustomModules)
	assert.Contains(t, p.Logs, "Loaded 1 custom module files for context.")
	assert.Contains(t, gen.prompt(stage.NameGeneration), "modules/vpc/main.tf")
}

func TestRun_ModuleFailureIsNotFatal(t *testing.T) {
	gen := newFakeGen()
	e := newTestEngine(t, gen, WithModuleLoader(fakeLoader{err: fmt.Errorf("%w: zip: not a valid zip file", perrors.ErrModuleExtraction)}))

	req := runRequest(project.DefaultAgentConfig())
	req.Modules = []byte("garbage")
	p, err := e.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, project.StatusCompleted, p.Status)
	assert.Empty(t, p.CustomModules)
	assert.True(t, strings.HasPrefix(p.Logs[0], "Warning: could not load custom modules"))
	assert.NotContains(t, gen.prompt(stage.NameGeneration), "Reuse these existing modules")
}

func TestRun_InvalidInput(t *testing.T) {
	e := newTestEngine(t, newFakeGen())

	req := runRequest(project.DefaultAgentConfig())
	req.Diagram.Data = nil
	_, err := e.Run(context.Background(), req)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	req = runRequest(project.DefaultAgentConfig())
	req.Diagram.MIMEType = "application/pdf"
	_, err = e.Run(context.Background(), req)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	req = runRequest(project.AgentConfig{Template: "monolith", ThinkingLevel: project.ThinkingLow})
	_, err = e.Run(context.Background(), req)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	assert.Nil(t, e.Current())
}

func TestRun_NewRunReplacesProject(t *testing.T) {
	gen := newFakeGen()
	e := newTestEngine(t, gen)

	first, err := e.Run(context.Background(), runRequest(project.DefaultAgentConfig()))
	require.NoError(t, err)
	second, err := e.Run(context.Background(), runRequest(project.DefaultAgentConfig()))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Version+1, second.Version)
	assert.Equal(t, second.ID, e.Current().ID)
}

func TestStart_RunsInBackground(t *testing.T) {
	gen := newFakeGen()
	release := make(chan struct{})
	analysis := gen.replies[stage.NameAnalysis]
	gen.set(stage.NameAnalysis, func(req llm.Request) (*llm.Response, error) {
		<-release
		return analysis(req)
	})
	e := newTestEngine(t, gen)

	snap, err := e.Start(context.Background(), runRequest(project.DefaultAgentConfig()))
	require.NoError(t, err)
	assert.Equal(t, project.StatusIdle, snap.Status)

	close(release)
	e.Wait()
	assert.Equal(t, project.StatusCompleted, e.Current().Status)
}

func TestStart_StaleRunStops(t *testing.T) {
	gen := newFakeGen()
	release := make(chan struct{})
	analysis := gen.replies[stage.NameAnalysis]
	var first atomic.Bool
	gen.set(stage.NameAnalysis, func(req llm.Request) (*llm.Response, error) {
		if first.CompareAndSwap(false, true) {
			<-release
		}
		return analysis(req)
	})
	rec := &fakeRecorder{}
	e := newTestEngine(t, gen, WithRecorder(rec))

	_, err := e.Start(context.Background(), runRequest(project.DefaultAgentConfig()))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return gen.count(stage.NameAnalysis) == 1 }, time.Second, 5*time.Millisecond)

	second, err := e.Start(context.Background(), runRequest(project.DefaultAgentConfig()))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.Current().Status == project.StatusCompleted }, time.Second, 5*time.Millisecond)
	close(release)
	e.Wait()

	assert.Equal(t, second.ID, e.Current().ID)
	assert.Equal(t, 1, gen.count(stage.NameGeneration))
	require.Len(t, rec.runs, 1)
	assert.Equal(t, second.ID, rec.runs[0].ID)
}
