package forward

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vapormail/vapormail/pkg/domain"
)

// sendTelegram talks to the fixed api.telegram.org host. The destination
// host is not operator-supplied, so no egress validation applies. The bot
// API's request path is not context-aware: an in-flight send outlives ctx
// cancellation and is bounded only by the shared client's 10s timeout.
func (d *Dispatcher) sendTelegram(ctx context.Context, dest domain.Destination, msg Message) DispatchResult {
	chatID, err := strconv.ParseInt(dest.ChatID, 10, 64)
	if err != nil {
		return DispatchResult{Success: false, Message: fmt.Sprintf("invalid chat id %q", dest.ChatID)}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(dest.Token, tgbotapi.APIEndpoint, d.client)
	if err != nil {
		failure := fmt.Errorf("%w: failed to authenticate bot: %v", domain.ErrUpstream, err)
		return DispatchResult{Success: false, Message: failure.Error()}
	}

	text := fmt.Sprintf("*%s*\n\n%s", escapeMarkdown(msg.Subject), msg.TextBody)

	message := tgbotapi.NewMessage(chatID, text)
	message.ParseMode = tgbotapi.ModeMarkdown

	sent, err := bot.Send(message)
	if err != nil {
		failure := fmt.Errorf("%w: failed to send message: %v", domain.ErrUpstream, err)
		return DispatchResult{Success: false, Message: failure.Error()}
	}

	return DispatchResult{Success: true, Message: fmt.Sprintf("message %d sent", sent.MessageID)}
}

func escapeMarkdown(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
