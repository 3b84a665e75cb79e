package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/infragen/internal/errors"
	"github.com/p-blackswan/infragen/internal/health"
	"github.com/p-blackswan/infragen/internal/llm"
	"github.com/p-blackswan/infragen/internal/pipeline"
	"github.com/p-blackswan/infragen/internal/project"
	"github.com/p-blackswan/infragen/internal/store"
)

// Handlers holds the HTTP handler methods.
type Handlers struct {
	pipeline Pipeline
	history  History
	checker  *health.Checker
	defaults project.AgentConfig
	runCtx   context.Context
	logger   zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, logger zerolog.Logger) *Handlers {
	runCtx := deps.RunContext
	if runCtx == nil {
		runCtx = context.Background()
	}
	return &Handlers{
		pipeline: deps.Pipeline,
		history:  deps.History,
		checker:  deps.Checker,
		defaults: deps.Defaults,
		runCtx:   runCtx,
		logger:   logger.With().Str("component", "api_handlers").Logger(),
	}
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if h.checker == nil {
		return c.JSON(ReadinessResponse{Status: "ready", Checks: map[string]health.Status{}})
	}
	report := h.checker.Evaluate(c.Context())
	if !report.Ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ReadinessResponse{
			Status: "not_ready",
			Checks: report.Checks,
		})
	}
	return c.JSON(ReadinessResponse{Status: "ready", Checks: report.Checks})
}

// StartRun handles POST /api/v1/runs. The body is multipart: a required
// "diagram" image, an optional "modules" zip archive and config fields.
func (h *Handlers) StartRun(c *fiber.Ctx) error {
	fh, err := c.FormFile("diagram")
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_diagram", "Bad Request",
			"A diagram image is required in the \"diagram\" form field")
	}
	data, err := readFormFile(fh)
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_diagram", "Bad Request",
			"Could not read diagram: "+err.Error())
	}

	cfg, err := h.agentConfig(c)
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_config", "Bad Request", err.Error())
	}

	req := pipeline.RunRequest{
		Diagram:  llm.Image{MIMEType: fh.Header.Get(fiber.HeaderContentType), Data: data},
		ImageRef: fh.Filename,
		Config:   cfg,
	}

	if mf, err := c.FormFile("modules"); err == nil {
		archive, err := readFormFile(mf)
		if err != nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_modules", "Bad Request",
				"Could not read module archive: "+err.Error())
		}
		req.Modules = archive
	}

	p, err := h.pipeline.Start(h.runCtx, req)
	if err != nil {
		if errors.Is(err, perrors.ErrInvalidInput) {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_input", "Bad Request", err.Error())
		}
		return err
	}

	h.logger.Info().Str("project_id", p.ID).Str("image", p.ImageRef).Msg("run started")
	return c.Status(fiber.StatusAccepted).JSON(ProjectResponse{Project: p})
}

func (h *Handlers) agentConfig(c *fiber.Ctx) (project.AgentConfig, error) {
	cfg := h.defaults
	if v := c.FormValue("template"); v != "" {
		cfg.Template = project.Template(v)
	}
	if v := c.FormValue("thinking_level"); v != "" {
		cfg.ThinkingLevel = project.ThinkingLevel(v)
	}
	cfg.CustomInstructions = strings.TrimSpace(c.FormValue("custom_instructions"))

	var err error
	if cfg.GenerateCICD, err = formBool(c, "generate_cicd"); err != nil {
		return cfg, err
	}
	if cfg.GenerateAnsible, err = formBool(c, "generate_ansible"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func formBool(c *fiber.Ctx, key string) (bool, error) {
	v := c.FormValue(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ListRuns handles GET /api/v1/runs. Without a history store the list is empty.
func (h *Handlers) ListRuns(c *fiber.Ctx) error {
	if h.history == nil {
		return c.JSON(RunListResponse{Runs: []*store.Run{}})
	}
	runs, err := h.history.ListRuns(c.Context(), store.RunFilter{
		Status: strings.ToUpper(c.Query("status")),
		Limit:  c.QueryInt("limit", 50),
	})
	if err != nil {
		return err
	}
	return c.JSON(RunListResponse{Runs: runs})
}

// GetRun handles GET /api/v1/runs/:id.
func (h *Handlers) GetRun(c *fiber.Ctx) error {
	if h.history == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"run_not_found", "Not Found",
			"Run history is not enabled")
	}
	id := c.Params("id")
	run, err := h.history.GetRun(c.Context(), id)
	if err != nil {
		return err
	}
	if run == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"run_not_found", "Not Found",
			"No recorded run with id "+id)
	}
	return c.JSON(RunResponse{Run: run})
}

// GetProject handles GET /api/v1/project.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	p := h.pipeline.Current()
	if p == nil {
		return noProject(c)
	}
	return c.JSON(ProjectResponse{Project: p})
}

// ListFiles handles GET /api/v1/project/files.
func (h *Handlers) ListFiles(c *fiber.Ctx) error {
	p := h.pipeline.Current()
	if p == nil {
		return noProject(c)
	}
	return c.JSON(FilesResponse{Files: p.Code})
}

// DownloadFile handles GET /api/v1/project/files/*.
func (h *Handlers) DownloadFile(c *fiber.Ctx) error {
	name, err := url.PathUnescape(c.Params("*"))
	if err != nil || name == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_filename", "Bad Request",
			"A file name is required")
	}
	p := h.pipeline.Current()
	if p == nil {
		return noProject(c)
	}
	f, ok := project.FindFile(p.Code, name)
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"file_not_found", "Not Found",
			"No generated file named "+name)
	}
	c.Attachment(f.Filename)
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(f.Content)
}

// Chat handles POST /api/v1/chat.
func (h *Handlers) Chat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	res, err := h.pipeline.Chat(c.UserContext(), req.Message)
	switch {
	case err == nil:
	case errors.Is(err, perrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_input", "Bad Request", err.Error())
	case errors.Is(err, perrors.ErrNotReady):
		return problemResponse(c, fiber.StatusConflict,
			"not_ready", "Conflict", err.Error())
	case errors.Is(err, perrors.ErrProjectReplaced):
		return problemResponse(c, fiber.StatusConflict,
			"project_replaced", "Conflict", err.Error())
	default:
		if _, ok := perrors.StageOf(err); ok {
			return problemResponse(c, fiber.StatusBadGateway,
				"refinement_failed", "Bad Gateway", err.Error())
		}
		return err
	}

	return c.JSON(ChatResponse{
		Explanation: res.Explanation,
		Files:       res.Files,
		Project:     res.Project,
	})
}

func noProject(c *fiber.Ctx) error {
	return problemResponse(c, fiber.StatusNotFound,
		"no_project", "Not Found",
		"No run has been started yet")
}
