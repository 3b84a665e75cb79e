package pipeline

import (
	"context"
	"fmt"

	"github.com/p-blackswan/infragen/internal/llm"
	"github.com/p-blackswan/infragen/internal/project"
	"github.com/p-blackswan/infragen/internal/stage"
)

// runSequential executes analysis, generation, review and finalization in
// order and returns the finalized code. The first error stops the run; no
// later stage is invoked.
func (e *Engine) runSequential(ctx context.Context, version int, common stage.Common, diagram *llm.Image, modules []project.TerraformFile) ([]project.TerraformFile, error) {
	if err := e.advance(version, project.StatusAnalyzing, "Analyzing architecture diagram..."); err != nil {
		return nil, err
	}
	analysis, err := stage.Run(ctx, e.runner, stage.Analyze, stage.AnalyzeInput{Common: common, Diagram: diagram})
	if err != nil {
		return nil, err
	}
	err = e.update(version, func(p *project.Project) error {
		p.Analysis = &analysis
		p.AddLog(fmt.Sprintf("Analysis complete: identified %d components and %d connections.", len(analysis.Components), len(analysis.Connections)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	genLog := "Generating Terraform code..."
	if len(modules) > 0 {
		genLog = fmt.Sprintf("Generating Terraform code using %d custom module files...", len(modules))
	}
	if err := e.advance(version, project.StatusGenerating, genLog); err != nil {
		return nil, err
	}
	generated, err := stage.Run(ctx, e.runner, stage.Generate, stage.GenerateInput{Common: common, Analysis: analysis, Modules: modules})
	if err != nil {
		return nil, err
	}
	code := project.MergeFiles(nil, generated.Files)
	err = e.update(version, func(p *project.Project) error {
		p.Code = project.CloneFiles(code)
		p.AddLog(fmt.Sprintf("Generated %d files.", len(code)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.advance(version, project.StatusReviewing, "Reviewing generated code..."); err != nil {
		return nil, err
	}
	review, err := stage.Run(ctx, e.runner, stage.Review, stage.ReviewInput{Common: common, Code: code})
	if err != nil {
		return nil, err
	}
	err = e.update(version, func(p *project.Project) error {
		p.Validation = &review
		p.AddLog(fmt.Sprintf("Review complete: score %d/100, %d issues found.", review.Score, len(review.Issues)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	finLog := "Applying review fixes..."
	if review.Perfect() {
		finLog = "Code passed review with a perfect score. No fixes necessary."
	}
	if err := e.advance(version, project.StatusFinalizing, finLog); err != nil {
		return nil, err
	}
	final, err := stage.Run(ctx, e.runner, stage.Finalize, stage.FinalizeInput{Common: common, Code: code, Review: review})
	if err != nil {
		return nil, err
	}
	code = project.MergeFiles(nil, final.Files)
	err = e.update(version, func(p *project.Project) error {
		p.Code = project.CloneFiles(code)
		if !review.Perfect() {
			p.AddLog(fmt.Sprintf("Finalization complete: %d files.", len(code)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}
