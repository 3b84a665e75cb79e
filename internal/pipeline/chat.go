package pipeline

import (
	"context"
	"fmt"
	"strings"

	perrors "github.com/p-blackswan/infragen/internal/errors"
	"github.com/p-blackswan/infragen/internal/project"
	"github.com/p-blackswan/infragen/internal/stage"
)

// ChatResult is the outcome of one refinement turn.
type ChatResult struct {
	Explanation string
	Files       []project.TerraformFile // files the turn added or replaced
	Project     *project.Project
}

// Chat runs one refinement turn against the active project. Turns are
// serialized. The user message is recorded before the generator call and
// the model's reply after it. If a new run replaced the project meanwhile,
// the result is discarded and ErrProjectReplaced returned.
func (e *Engine) Chat(ctx context.Context, message string) (*ChatResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is empty", perrors.ErrInvalidInput)
	}

	e.chatMu.Lock()
	defer e.chatMu.Unlock()

	e.mu.Lock()
	p := e.current
	if p == nil || len(p.Code) == 0 {
		e.mu.Unlock()
		e.metrics.RecordChat("not_ready")
		return nil, perrors.ErrNotReady
	}
	version := p.Version
	in := stage.RefineInput{
		Common:  stage.Common{Config: p.Config},
		Code:    project.CloneFiles(p.Code),
		History: append([]project.ChatMessage(nil), p.Chat...),
		Message: message,
	}
	p.Chat = append(p.Chat, project.ChatMessage{Role: project.RoleUser, Text: message, Timestamp: e.stampLocked()})
	e.mu.Unlock()

	out, err := stage.Run(ctx, e.runner, stage.Refine, in)

	e.mu.Lock()
	defer e.mu.Unlock()
	p = e.current
	if p == nil || p.Version != version {
		e.metrics.RecordChat("replaced")
		return nil, perrors.ErrProjectReplaced
	}
	if err != nil {
		p.Chat = append(p.Chat, project.ChatMessage{
			Role:      project.RoleModel,
			Text:      "Sorry, I could not apply that change: " + err.Error(),
			Timestamp: e.stampLocked(),
		})
		e.metrics.RecordChat("failed")
		e.logger.Warn().Err(err).Str("project_id", p.ID).Msg("refinement failed")
		return nil, err
	}

	updated := project.MergeFiles(nil, out.Files)
	p.Code = project.MergeFiles(p.Code, updated)
	p.Chat = append(p.Chat, project.ChatMessage{Role: project.RoleModel, Text: out.Explanation, Timestamp: e.stampLocked()})
	e.metrics.RecordChat("ok")
	e.logger.Info().Str("project_id", p.ID).Int("files_changed", len(updated)).Msg("refinement applied")

	return &ChatResult{
		Explanation: out.Explanation,
		Files:       updated,
		Project:     p.Clone(),
	}, nil
}
