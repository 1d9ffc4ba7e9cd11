// Package notify sends a best-effort completion notice when a brainstorm
// session finishes, grounded on the teacher pack's Slack integration
// (shubh-37-linkedin-ghostwriter/internal/slack) but adapted to the
// simpler incoming-webhook shape SPEC_FULL.md's NotifyConfig describes.
package notify

import (
	"fmt"
	"io"
	"log"

	"github.com/slack-go/slack"
)

// Notifier is told when a session finishes. Failures are the notifier's own
// business; a session's completion is never blocked or failed by a
// notification error.
type Notifier interface {
	NotifyComplete(sessionID, request string, branchCount, doneCount int)
}

// NoopNotifier is the default when no notification target is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyComplete(string, string, int, int) {}

// SlackNotifier posts a completion message to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	Logger     *log.Logger
}

// NewSlackNotifier constructs a SlackNotifier, defaulting to a discard
// logger so a caller that doesn't care about delivery failures doesn't have
// to plumb one through.
func NewSlackNotifier(webhookURL string, logger *log.Logger) *SlackNotifier {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &SlackNotifier{WebhookURL: webhookURL, Logger: logger}
}

func (n *SlackNotifier) NotifyComplete(sessionID, request string, branchCount, doneCount int) {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("brainstorm complete: %q (%d/%d branches done, session %s)",
			request, doneCount, branchCount, sessionID),
	}
	if err := slack.PostWebhook(n.WebhookURL, msg); err != nil {
		n.Logger.Printf("notify: slack webhook failed: %v", err)
	}
}
