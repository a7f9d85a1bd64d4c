package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// slackPoster is the subset of the Slack client used here.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts notifications into a Slack channel or thread.
type SlackNotifier struct {
	client slackPoster
}

// NewSlackNotifier wraps a Slack API client.
func NewSlackNotifier(client *slack.Client) *SlackNotifier {
	return &SlackNotifier{client: client}
}

// Send posts the notification; Recipient is the Slack channel ID and
// ThreadID, when set, the parent message timestamp to reply under.
func (s *SlackNotifier) Send(ctx context.Context, n Notification) (string, error) {
	text := n.Body
	if n.Subject != "" {
		text = "*" + n.Subject + "*\n" + n.Body
	}

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if n.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(n.ThreadID))
	}

	_, ts, err := s.client.PostMessageContext(ctx, n.Recipient, opts...)
	if err != nil {
		return "", fmt.Errorf("notify.SlackNotifier.Send: %w", err)
	}
	return ts, nil
}
