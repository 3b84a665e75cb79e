package api

import (
	"github.com/p-blackswan/infragen/internal/health"
	"github.com/p-blackswan/infragen/internal/project"
	"github.com/p-blackswan/infragen/internal/store"
)

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// ProjectResponse wraps a project snapshot.
type ProjectResponse struct {
	Project *project.Project `json:"project"`
}

// FilesResponse lists the generated files.
type FilesResponse struct {
	Files []project.TerraformFile `json:"files"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is one refinement turn.
type ChatResponse struct {
	Explanation string                  `json:"explanation"`
	Files       []project.TerraformFile `json:"files"`
	Project     *project.Project        `json:"project"`
}

// RunListResponse is the run history.
type RunListResponse struct {
	Runs []*store.Run `json:"runs"`
}

// RunResponse is one recorded run.
type RunResponse struct {
	Run *store.Run `json:"run"`
}

// ReadinessResponse is returned by /readyz.
type ReadinessResponse struct {
	Status string                   `json:"status"`
	Checks map[string]health.Status `json:"checks"`
}
