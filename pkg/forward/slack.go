package forward

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/vapormail/vapormail/pkg/domain"
)

const slackSectionLimit = 3000

// sendSlack posts a block-kit payload to a Slack incoming webhook. The
// message is marshaled and posted through the shared client so custom
// headers and the redirect policy apply.
func (d *Dispatcher) sendSlack(ctx context.Context, dest domain.Destination, msg Message) DispatchResult {
	body := truncate(msg.TextBody, slackSectionLimit)

	payload := slack.WebhookMessage{
		Text: msg.Subject,
		Blocks: &slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, msg.Subject, false, false)),
				slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil),
			},
		},
	}

	return d.postJSON(ctx, dest, payload)
}
