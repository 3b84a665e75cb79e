package pipeline

import (
	"context"
	"sync"

	"github.com/p-blackswan/infragen/internal/project"
	"github.com/p-blackswan/infragen/internal/stage"
)

// EnrichmentReport records which enrichment stages fell back to their
// default value, in the fixed Document, Cost, Security, Diagram, DevOps order.
type EnrichmentReport struct {
	Failures []StageFailure
}

// StageFailure is a contained stage error.
type StageFailure struct {
	Stage string
	Err   error
}

// DegradedStages returns the names of the stages that failed.
func (r EnrichmentReport) DegradedStages() []string {
	names := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		names = append(names, f.Stage)
	}
	return names
}

type enrichment struct {
	doc      stage.Outcome[stage.Documentation]
	cost     stage.Outcome[project.CostEstimate]
	security stage.Outcome[stage.SecurityReport]
	diagram  stage.Outcome[stage.Diagram]
	devops   stage.Outcome[stage.GeneratedCode]
}

// enrich runs the five contained stages concurrently and waits for all of
// them. It has no error path: each stage already yields a default on failure.
func (e *Engine) enrich(ctx context.Context, in stage.EnrichInput) (enrichment, EnrichmentReport) {
	var (
		res enrichment
		wg  sync.WaitGroup
	)
	wg.Add(5)
	go func() {
		defer wg.Done()
		res.doc = stage.RunContained(ctx, e.runner, stage.Document, in)
	}()
	go func() {
		defer wg.Done()
		res.cost = stage.RunContained(ctx, e.runner, stage.Cost, in)
	}()
	go func() {
		defer wg.Done()
		res.security = stage.RunContained(ctx, e.runner, stage.Security, in)
	}()
	go func() {
		defer wg.Done()
		res.diagram = stage.RunContained(ctx, e.runner, stage.Visualize, in)
	}()
	go func() {
		defer wg.Done()
		res.devops = stage.RunContained(ctx, e.runner, stage.DevOps, in)
	}()
	wg.Wait()

	var report EnrichmentReport
	for _, f := range []StageFailure{
		{stage.NameDocumentation, res.doc.Err},
		{stage.NameCost, res.cost.Err},
		{stage.NameSecurity, res.security.Err},
		{stage.NameDiagram, res.diagram.Err},
		{stage.NameDevOps, res.devops.Err},
	} {
		if f.Err != nil {
			report.Failures = append(report.Failures, f)
		}
	}
	return res, report
}

// runEnrichment moves the project into POST_PROCESSING, runs the barrier
// and merges every result in one update before completing.
func (e *Engine) runEnrichment(ctx context.Context, version int, common stage.Common, code []project.TerraformFile) (EnrichmentReport, error) {
	var analysis project.Analysis
	err := e.update(version, func(p *project.Project) error {
		if p.Analysis != nil {
			analysis = *p.Analysis
		}
		return nil
	})
	if err != nil {
		return EnrichmentReport{}, err
	}

	if err := e.advance(version, project.StatusPostProcessing,
		"Running documentation, cost, security, diagram and DevOps stages in parallel..."); err != nil {
		return EnrichmentReport{}, err
	}

	res, report := e.enrich(ctx, stage.EnrichInput{Common: common, Analysis: analysis, Code: code})
	for _, f := range report.Failures {
		e.logger.Warn().Err(f.Err).Str("stage", f.Stage).Msg("enrichment stage used default")
	}

	err = e.update(version, func(p *project.Project) error {
		files := project.MergeFiles(p.Code, res.devops.Value.Files)
		p.Code = append(files, res.doc.Value.FileAmong(files))

		cost := res.cost.Value
		p.Cost = &cost
		p.Security = res.security.Value.Findings
		if p.Security == nil {
			p.Security = []project.SecurityFinding{}
		}
		p.Diagram = res.diagram.Value.Mermaid

		if err := p.Advance(project.StatusCompleted); err != nil {
			return err
		}
		p.AddLog("Post-processing complete.")
		p.AddLog("Pipeline completed successfully.")
		return nil
	})
	return report, err
}
