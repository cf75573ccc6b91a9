package forward

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/vapormail/vapormail/pkg/domain"
)

const discordDescriptionLimit = 4096

// sendDiscord posts an embed payload to a Discord webhook URL. The URL is
// operator-supplied, so it goes through the egress check like any webhook.
func (d *Dispatcher) sendDiscord(ctx context.Context, dest domain.Destination, msg Message) DispatchResult {
	description := truncate(msg.TextBody, discordDescriptionLimit)

	payload := discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:       msg.Subject,
				Description: description,
			},
		},
	}

	return d.postJSON(ctx, dest, payload)
}
