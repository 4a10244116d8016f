package telegram

import "gopkg.in/telebot.v3"

// Client sends messages through a Telegram bot.
// It returns the Telegram message id so deliveries can be traced.
type Client interface {
	SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) (int, error)
}
