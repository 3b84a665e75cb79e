// Package notify posts run summaries to Slack.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/infragen/internal/project"
)

// failureLogLines is how many trailing log lines accompany a failure.
const failureLogLines = 3

// SlackAPI is the minimal Slack API surface needed by the notifier.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier announces finished runs in one channel.
type SlackNotifier struct {
	api     SlackAPI
	channel string
	logger  zerolog.Logger
}

// NewSlackNotifier creates a notifier from a bot token.
func NewSlackNotifier(token, channel string, logger zerolog.Logger) *SlackNotifier {
	return NewSlackNotifierWithAPI(slack.New(token), channel, logger)
}

// NewSlackNotifierWithAPI creates a notifier around an existing client.
func NewSlackNotifierWithAPI(api SlackAPI, channel string, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		api:     api,
		channel: channel,
		logger:  logger.With().Str("component", "notify.slack").Logger(),
	}
}

// NotifyRun posts a summary of a terminal project. Non-terminal projects
// are ignored.
func (n *SlackNotifier) NotifyRun(ctx context.Context, p *project.Project, degraded []string) error {
	if p == nil || !p.Status.Terminal() {
		return nil
	}
	text := Summary(p, degraded)
	_, ts, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post run summary: %w", err)
	}
	n.logger.Debug().Str("project_id", p.ID).Str("ts", ts).Msg("run summary posted")
	return nil
}

// Summary renders the Slack mrkdwn text for a finished run.
func Summary(p *project.Project, degraded []string) string {
	var b strings.Builder
	if p.Status == project.StatusError {
		fmt.Fprintf(&b, ":x: Run `%s` failed: %s", p.ID, p.Error)
		if lines := p.LastLogs(failureLogLines); len(lines) > 0 {
			b.WriteString("\n```\n")
			b.WriteString(strings.Join(lines, "\n"))
			b.WriteString("\n```")
		}
		return b.String()
	}

	fmt.Fprintf(&b, ":white_check_mark: Run `%s` completed: %d files", p.ID, len(p.Code))
	if p.Cost != nil {
		fmt.Fprintf(&b, ", estimated %s %s/month", p.Cost.TotalMonthlyCost, p.Cost.Currency)
	}
	fmt.Fprintf(&b, ", %d security findings", len(p.Security))
	if n := countSevere(p.Security); n > 0 {
		fmt.Fprintf(&b, " (%d critical or high)", n)
	}
	b.WriteString(".")
	if len(degraded) > 0 {
		fmt.Fprintf(&b, "\n_Fallback values used for: %s._", strings.Join(degraded, ", "))
	}
	return b.String()
}

func countSevere(findings []project.SecurityFinding) int {
	n := 0
	for _, f := range findings {
		if f.Severity == project.SeverityCritical || f.Severity == project.SeverityHigh {
			n++
		}
	}
	return n
}
