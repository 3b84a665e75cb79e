package stage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/p-blackswan/infragen/internal/llm"
	"github.com/p-blackswan/infragen/internal/project"
)

// Stage names. They double as prompt catalog keys and metric labels.
const (
	NameAnalysis      = "analysis"
	NameGeneration    = "generation"
	NameReview        = "review"
	NameFinalization  = "finalization"
	NameDocumentation = "documentation"
	NameCost          = "cost"
	NameSecurity      = "security"
	NameDiagram       = "diagram"
	NameDevOps        = "devops"
	NameRefinement    = "refinement"
)

// ---- inputs ----

type AnalyzeInput struct {
	Common
	Diagram *llm.Image
}

type GenerateInput struct {
	Common
	Analysis project.Analysis
	Modules  []project.TerraformFile
}

type ReviewInput struct {
	Common
	Code []project.TerraformFile
}

type FinalizeInput struct {
	Common
	Code   []project.TerraformFile
	Review project.ValidationResult
}

// EnrichInput is shared by the five enrichment stages.
type EnrichInput struct {
	Common
	Analysis project.Analysis
	Code     []project.TerraformFile
}

type RefineInput struct {
	Common
	Code    []project.TerraformFile
	History []project.ChatMessage
	Message string
}

// ---- outputs ----

// GeneratedCode is a file set. The generator may answer with a bare array
// or with an object holding a "files" array; both decode the same way.
type GeneratedCode struct {
	Files []project.TerraformFile `json:"files" validate:"required,min=1,dive"`
}

func (g *GeneratedCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &g.Files)
	}
	var w struct {
		Files []project.TerraformFile `json:"files"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	g.Files = w.Files
	return nil
}

// Documentation is the generated README.
type Documentation struct {
	Filename string `json:"filename,omitempty"`
	Content  string `json:"content" validate:"required"`
}

// File returns the documentation as a project file. Only Markdown names
// are accepted from the reply; anything else becomes README.md.
func (d Documentation) File() project.TerraformFile {
	name := strings.TrimSpace(d.Filename)
	if !strings.EqualFold(path.Ext(name), ".md") {
		name = "README.md"
	}
	return project.TerraformFile{Filename: name, Content: d.Content}
}

// FileAmong returns the documentation file under a name not used by
// existing, so appending it never replaces generated code. A clashing name
// falls back to README.md, then DOCUMENTATION.md, then DOCUMENTATION-<n>.md.
func (d Documentation) FileAmong(existing []project.TerraformFile) project.TerraformFile {
	f := d.File()
	taken := func(name string) bool {
		_, ok := project.FindFile(existing, name)
		return ok
	}
	for i := 1; taken(f.Filename); i++ {
		switch i {
		case 1:
			f.Filename = "README.md"
		case 2:
			f.Filename = "DOCUMENTATION.md"
		default:
			f.Filename = fmt.Sprintf("DOCUMENTATION-%d.md", i-1)
		}
	}
	return f
}

// SecurityReport wraps the findings list; like GeneratedCode it accepts a
// bare array.
type SecurityReport struct {
	Findings []project.SecurityFinding `json:"findings" validate:"dive"`
}

func (s *SecurityReport) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &s.Findings)
	}
	var w struct {
		Findings []project.SecurityFinding `json:"findings"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Findings = w.Findings
	return nil
}

// Diagram is Mermaid source describing the generated infrastructure.
type Diagram struct {
	Mermaid string `json:"mermaid" validate:"required"`
}

// RefineResult is one chat turn: an explanation plus the changed files.
type RefineResult struct {
	Explanation string                  `json:"explanation" validate:"required"`
	Files       []project.TerraformFile `json:"files" validate:"omitempty,dive"`
}

// ---- output shapes sent with the prompt ----

const (
	analysisSchema = `{"summary": string, "cloudProvider": string, "components": [{"name": string, "type": string, "description": string}], "connections": [{"from": string, "to": string, "description": string}]}`
	filesSchema    = `{"files": [{"filename": string, "content": string}]}`
	reviewSchema   = `{"isValid": boolean, "score": integer 0-100, "issues": [string], "suggestions": [string]}`
	docSchema      = `{"filename": "README.md", "content": string}`
	costSchema     = `{"totalMonthlyCost": string, "currency": string, "breakdown": [{"resource": string, "cost": string, "notes": string}]}`
	securitySchema = `{"findings": [{"severity": "CRITICAL"|"HIGH"|"MEDIUM"|"LOW", "title": string, "description": string, "compliance": [string]}]}`
	diagramSchema  = `{"mermaid": string}`
	refineSchema   = `{"explanation": string, "files": [{"filename": string, "content": string}]}`
)

// ---- definitions ----

var Analyze = Definition[AnalyzeInput, project.Analysis]{
	Name:   NameAnalysis,
	Policy: Fatal,
	Schema: analysisSchema,
	Image:  func(in AnalyzeInput) *llm.Image { return in.Diagram },
}

var Generate = Definition[GenerateInput, GeneratedCode]{
	Name:   NameGeneration,
	Policy: Fatal,
	Schema: filesSchema,
}

var Review = Definition[ReviewInput, project.ValidationResult]{
	Name:   NameReview,
	Policy: Fatal,
	Schema: reviewSchema,
}

// Finalize returns the code unchanged, without a generator call, when the
// review found nothing to fix.
var Finalize = Definition[FinalizeInput, GeneratedCode]{
	Name:   NameFinalization,
	Policy: Fatal,
	Schema: filesSchema,
	Skip: func(in FinalizeInput) (GeneratedCode, bool) {
		if in.Review.Perfect() {
			return GeneratedCode{Files: project.CloneFiles(in.Code)}, true
		}
		return GeneratedCode{}, false
	},
}

// DocumentationFallback is the README used when documentation fails.
const DocumentationFallback = "# Documentation\n\nDocumentation generation failed."

var Document = Definition[EnrichInput, Documentation]{
	Name:    NameDocumentation,
	Policy:  Contained,
	Schema:  docSchema,
	Default: func() Documentation { return Documentation{Filename: "README.md", Content: DocumentationFallback} },
}

var Cost = Definition[EnrichInput, project.CostEstimate]{
	Name:   NameCost,
	Policy: Contained,
	Schema: costSchema,
	Default: func() project.CostEstimate {
		return project.CostEstimate{TotalMonthlyCost: "N/A", Currency: "USD", Breakdown: []project.CostItem{}}
	},
}

var Security = Definition[EnrichInput, SecurityReport]{
	Name:    NameSecurity,
	Policy:  Contained,
	Schema:  securitySchema,
	Default: func() SecurityReport { return SecurityReport{Findings: []project.SecurityFinding{}} },
}

var Visualize = Definition[EnrichInput, Diagram]{
	Name:    NameDiagram,
	Policy:  Contained,
	Schema:  diagramSchema,
	Default: func() Diagram { return Diagram{} },
}

// DevOps is skipped when neither CI/CD nor Ansible output was requested.
var DevOps = Definition[EnrichInput, GeneratedCode]{
	Name:   NameDevOps,
	Policy: Contained,
	Schema: filesSchema,
	Skip: func(in EnrichInput) (GeneratedCode, bool) {
		if !in.Config.WantsDevOps() {
			return GeneratedCode{Files: []project.TerraformFile{}}, true
		}
		return GeneratedCode{}, false
	},
	Default: func() GeneratedCode { return GeneratedCode{Files: []project.TerraformFile{}} },
}

var Refine = Definition[RefineInput, RefineResult]{
	Name:   NameRefinement,
	Policy: Fatal,
	Schema: refineSchema,
}
