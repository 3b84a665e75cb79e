package project

import (
	"time"
)

// Template selects the architectural style of the generated code.
type Template string

const (
	TemplateStandard      Template = "standard"
	TemplateMicroservices Template = "microservices"
	TemplateServerless    Template = "serverless"
)

// ThinkingLevel controls how much reasoning budget each stage gets.
type ThinkingLevel string

const (
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// AgentConfig is the configuration snapshot captured when a run starts.
type AgentConfig struct {
	Template           Template      `json:"template" validate:"required,oneof=standard microservices serverless"`
	ThinkingLevel      ThinkingLevel `json:"thinkingLevel" validate:"required,oneof=low medium high"`
	CustomInstructions string        `json:"customInstructions,omitempty"`
	GenerateCICD       bool          `json:"generateCICD"`
	GenerateAnsible    bool          `json:"generateAnsible"`
}

// DefaultAgentConfig returns the configuration used when a caller supplies none.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{Template: TemplateStandard, ThinkingLevel: ThinkingMedium}
}

// WantsDevOps reports whether any DevOps artifacts were requested.
func (c AgentConfig) WantsDevOps() bool {
	return c.GenerateCICD || c.GenerateAnsible
}

// TerraformFile is a single generated file. Filenames are unique within a collection.
type TerraformFile struct {
	Filename string `json:"filename" validate:"required"`
	Content  string `json:"content"`
}

// Component is one element identified on the architecture diagram.
type Component struct {
	Name        string `json:"name" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Description string `json:"description,omitempty"`
}

// Connection is a directed relationship between two components.
type Connection struct {
	From        string `json:"from" validate:"required"`
	To          string `json:"to" validate:"required"`
	Description string `json:"description,omitempty"`
}

// Analysis is the structured reading of the uploaded diagram.
type Analysis struct {
	Summary       string       `json:"summary" validate:"required"`
	CloudProvider string       `json:"cloudProvider,omitempty"`
	Components    []Component  `json:"components" validate:"required,min=1,dive"`
	Connections   []Connection `json:"connections,omitempty" validate:"omitempty,dive"`
}

// ValidationResult is the review stage's verdict on the generated code.
type ValidationResult struct {
	IsValid     bool     `json:"isValid"`
	Score       int      `json:"score" validate:"gte=0,lte=100"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// Perfect reports whether the review found nothing to fix.
func (v ValidationResult) Perfect() bool {
	return v.Score == 100 && len(v.Issues) == 0
}

// CostItem is one line of a cost breakdown.
type CostItem struct {
	Resource string `json:"resource" validate:"required"`
	Cost     string `json:"cost" validate:"required"`
	Notes    string `json:"notes,omitempty"`
}

// CostEstimate is the monthly cost projection for the generated infrastructure.
type CostEstimate struct {
	TotalMonthlyCost string     `json:"totalMonthlyCost" validate:"required"`
	Currency         string     `json:"currency" validate:"required"`
	Breakdown        []CostItem `json:"breakdown" validate:"omitempty,dive"`
}

// Severity of a security finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// SecurityFinding is one issue reported by the security stage.
type SecurityFinding struct {
	Severity    Severity `json:"severity" validate:"required,oneof=CRITICAL HIGH MEDIUM LOW"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Compliance  []string `json:"compliance"`
}

// Role of a chat participant.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ChatMessage is one entry of the refinement conversation.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Project is the state of a single pipeline run.
type Project struct {
	ID            string            `json:"id"`
	Version       int               `json:"version"`
	CreatedAt     time.Time         `json:"createdAt"`
	ImageRef      string            `json:"imageRef"`
	Status        Status            `json:"status"`
	Analysis      *Analysis         `json:"analysis,omitempty"`
	Code          []TerraformFile   `json:"code"`
	CustomModules []TerraformFile   `json:"customModules"`
	Validation    *ValidationResult `json:"validation,omitempty"`
	Cost          *CostEstimate     `json:"cost,omitempty"`
	Security      []SecurityFinding `json:"security"`
	Diagram       string            `json:"diagram,omitempty"`
	Chat          []ChatMessage     `json:"chat"`
	Error         string            `json:"error,omitempty"`
	Logs          []string          `json:"logs"`
	Config        AgentConfig       `json:"config"`
}

// New creates an idle project for a fresh run.
func New(id string, version int, imageRef string, cfg AgentConfig, now time.Time) *Project {
	return &Project{
		ID:            id,
		Version:       version,
		CreatedAt:     now,
		ImageRef:      imageRef,
		Status:        StatusIdle,
		Code:          []TerraformFile{},
		CustomModules: []TerraformFile{},
		Security:      []SecurityFinding{},
		Chat:          []ChatMessage{},
		Logs:          []string{},
		Config:        cfg,
	}
}

// AddLog appends a status line to the project's log trail.
func (p *Project) AddLog(line string) {
	p.Logs = append(p.Logs, line)
}

// LastLogs returns up to n trailing log lines.
func (p *Project) LastLogs(n int) []string {
	if n <= 0 || len(p.Logs) == 0 {
		return nil
	}
	if n > len(p.Logs) {
		n = len(p.Logs)
	}
	out := make([]string, n)
	copy(out, p.Logs[len(p.Logs)-n:])
	return out
}

// Clone returns a deep copy safe to hand to readers.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	c := *p
	if p.Analysis != nil {
		a := *p.Analysis
		a.Components = append([]Component(nil), p.Analysis.Components...)
		a.Connections = append([]Connection(nil), p.Analysis.Connections...)
		c.Analysis = &a
	}
	if p.Validation != nil {
		v := *p.Validation
		v.Issues = append([]string(nil), p.Validation.Issues...)
		v.Suggestions = append([]string(nil), p.Validation.Suggestions...)
		c.Validation = &v
	}
	if p.Cost != nil {
		ce := *p.Cost
		ce.Breakdown = append([]CostItem(nil), p.Cost.Breakdown...)
		c.Cost = &ce
	}
	c.Code = CloneFiles(p.Code)
	c.CustomModules = CloneFiles(p.CustomModules)
	c.Security = make([]SecurityFinding, len(p.Security))
	for i, f := range p.Security {
		f.Compliance = append([]string(nil), f.Compliance...)
		c.Security[i] = f
	}
	c.Chat = append([]ChatMessage{}, p.Chat...)
	c.Logs = append([]string{}, p.Logs...)
	return &c
}
