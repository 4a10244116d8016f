package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fitclub_comms/internal/domain/communication"
	tgdomain "fitclub_comms/internal/domain/telegram"
	"fitclub_comms/internal/infra/channels"
	"fitclub_comms/internal/infra/retry"

	"gopkg.in/telebot.v3"
)

// maxChatsPerCall keeps one chunk under Telegram's ~30 messages/second bot limit.
const maxChatsPerCall = 25

// PushGateway delivers push content as Telegram messages. The recipient
// address is the member's numeric chat id.
type PushGateway struct {
	client tgdomain.Client
}

func NewPushGateway(client tgdomain.Client) *PushGateway {
	return &PushGateway{client: client}
}

func (g *PushGateway) Name() string  { return "telegram" }
func (g *PushGateway) MaxBatch() int { return maxChatsPerCall }

func (g *PushGateway) SendPush(ctx context.Context, chatIDs []string, content communication.RenderedContent) []channels.PushResult {
	out := make([]channels.PushResult, len(chatIDs))
	text := messageText(content)
	for i, raw := range chatIDs {
		if err := ctx.Err(); err != nil {
			out[i].Err = err
			continue
		}
		chatID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			out[i].Err = retry.Bounce(fmt.Errorf("telegram: invalid chat id %q", raw))
			continue
		}
		msgID, err := g.client.SendMessage(chatID, text, &telebot.SendOptions{DisableWebPagePreview: true})
		if err != nil {
			out[i].Err = classifyTelegram(err)
			continue
		}
		out[i].MessageID = strconv.Itoa(msgID)
	}
	return out
}

func messageText(content communication.RenderedContent) string {
	if content.Subject == "" {
		return content.Text
	}
	return content.Subject + "\n\n" + content.Text
}

func classifyTelegram(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, telebot.ErrBlockedByUser),
		errors.Is(err, telebot.ErrUserIsDeactivated),
		errors.Is(err, telebot.ErrChatNotFound):
		return retry.Bounce(err)
	}

	var flood telebot.FloodError
	if errors.As(err, &flood) {
		return retry.After(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var apiErr *telebot.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 500 {
			return err
		}
		return retry.Permanent(err)
	}
	// Network failures carry no API code.
	return err
}
