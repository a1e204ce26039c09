package capabilities

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackNotifier posts user-visible comments to a Slack channel, used
// when the notifier is configured to mirror issue commentary into chat
// in addition to (or instead of) the issue tracker itself.
type SlackNotifier struct {
	client    *slack.Client
	channelID string
}

// NewSlackNotifier returns a Notifier posting to channelID with token.
func NewSlackNotifier(token, channelID string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channelID: channelID}
}

func (s *SlackNotifier) Comment(ctx context.Context, issueID string, body string, runID, title string) error {
	text := body
	if title != "" {
		text = fmt.Sprintf("*%s* (issue %s)\n%s", title, issueID, body)
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack notifier: post message for issue %s: %w", issueID, err)
	}
	return nil
}
