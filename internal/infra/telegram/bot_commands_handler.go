// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterBotCommands registers /start and /help. Members learn their chat id,
// which staff store as the push address of their profile.
func RegisterBotCommands(b *telebot.Bot, adminTelegramID int64, baseLogger *logrus.Entry) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if senderID == adminTelegramID {
			return c.Send(fmt.Sprintf("Hi %s! The communications bot is running. Use /help for commands.", c.Sender().FirstName))
		}
		return c.Send(memberGreeting(c.Sender().FirstName, c.Chat().ID))
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID).Info("Processing /help command")

		if senderID == adminTelegramID {
			return c.Send(adminHelp(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
		}
		return c.Send(memberGreeting(c.Sender().FirstName, c.Chat().ID))
	})
}

func memberGreeting(name string, chatID int64) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s! Club announcements will arrive in this chat.\nYour chat id is %d; give it to the front desk to link your profile.", name, chatID)
}

func adminHelp() string {
	var helpText strings.Builder
	helpText.WriteString("Staff commands:\n\n")
	helpText.WriteString("`/check_stuck [id]`\n - Fail communications stuck in sending past the threshold.\n\n")
	helpText.WriteString("`/dispatch_due`\n - Start scheduled communications whose time has come.\n\n")
	helpText.WriteString("`/comm <id>`\n - Show status and delivery breakdown.\n\n")
	helpText.WriteString("`/help`\n - Show this message.")
	return helpText.String()
}
