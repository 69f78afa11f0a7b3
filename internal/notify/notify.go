// Package notify posts ambient operational notifications (human
// escalations, sign-off failures) to Slack. It is not the dashboard UI
// the spec excludes -- just a paging channel for events a human must act
// on (spec §4.3.2, §4.3.7).
package notify

import (
	"context"

	"github.com/slack-go/slack"

	"hive/internal/markdown"
)

// Notifier is the interface the Manager Daemon pushes alerts through.
type Notifier interface {
	EscalationCreated(ctx context.Context, escalationID, reason string) error
	SignOffFailed(ctx context.Context, requirementID string) error
}

// NopNotifier is used when no Slack token is configured; every call is a
// silent no-op, matching the "degrades silently when none configured"
// posture spec §4.6 requires of connectors.
type NopNotifier struct{}

func (NopNotifier) EscalationCreated(ctx context.Context, escalationID, reason string) error {
	return nil
}
func (NopNotifier) SignOffFailed(ctx context.Context, requirementID string) error { return nil }

// SlackNotifier posts to a configured Slack channel via a bot token.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier builds a Notifier. If token is empty, a NopNotifier is
// returned instead so callers never need to branch on configuration.
func NewSlackNotifier(token, channel string) Notifier {
	if token == "" {
		return NopNotifier{}
	}
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

func (n *SlackNotifier) EscalationCreated(ctx context.Context, escalationID, reason string) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(":rotating_light: escalation "+escalationID+": "+markdown.ToPlainText(reason), false))
	return err
}

func (n *SlackNotifier) SignOffFailed(ctx context.Context, requirementID string) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(":x: feature sign-off failed for "+requirementID, false))
	return err
}
