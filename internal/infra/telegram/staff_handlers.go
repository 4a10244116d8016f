package telegram

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// commandTimeout bounds the work behind one bot command.
const commandTimeout = 30 * time.Second

// RegisterStaffHandlers registers the operational commands.
// Only adminTelegramID may run them.
func RegisterStaffHandlers(b *telebot.Bot, cmds *StaffCommands, adminTelegramID int64, baseLogger *logrus.Entry) {
	guard := func(name string, run func(ctx context.Context, args []string) string) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			handlerLogger := baseLogger.WithFields(logrus.Fields{
				"handler":   name,
				"sender_id": c.Sender().ID,
			})
			handlerLogger.Info("Command received")

			if c.Sender().ID != adminTelegramID {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send("Error: you are not allowed to run this command.")
			}

			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			return c.Send(run(ctx, c.Args()))
		}
	}

	b.Handle("/check_stuck", guard("/check_stuck", cmds.CheckStuck))
	b.Handle("/dispatch_due", guard("/dispatch_due", func(ctx context.Context, _ []string) string {
		return cmds.DispatchDue(ctx)
	}))
	b.Handle("/comm", guard("/comm", cmds.Communication))
}
