package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fitclub_comms/internal/app"
	"fitclub_comms/internal/domain/communication"

	"github.com/sirupsen/logrus"
)

type stuckChecker interface {
	CheckStuck(ctx context.Context, q app.StuckQuery) (*app.StuckReport, error)
}

type dueDispatcher interface {
	DispatchDue(ctx context.Context) (*app.DueReport, error)
}

// StaffCommands implements the admin bot commands as plain functions of their
// arguments, so handlers stay thin.
type StaffCommands struct {
	watchdog stuckChecker
	due      dueDispatcher
	repo     communication.Repository
	log      *logrus.Entry
}

func NewStaffCommands(watchdog stuckChecker, due dueDispatcher, repo communication.Repository, log *logrus.Entry) *StaffCommands {
	return &StaffCommands{watchdog: watchdog, due: due, repo: repo, log: log}
}

// CheckStuck runs a watchdog sweep, optionally for one communication id.
func (s *StaffCommands) CheckStuck(ctx context.Context, args []string) string {
	if len(args) > 1 {
		return "Usage: /check_stuck [communication_id]"
	}
	q := app.StuckQuery{}
	if len(args) == 1 {
		q.CommunicationID = args[0]
	}
	rep, err := s.watchdog.CheckStuck(ctx, q)
	if err != nil {
		s.log.WithError(err).Error("Watchdog sweep from bot failed")
		return "Error: the stuck check failed, see server logs."
	}
	return formatStuckReport(rep)
}

// DispatchDue starts every scheduled communication whose time has come.
func (s *StaffCommands) DispatchDue(ctx context.Context) string {
	rep, err := s.due.DispatchDue(ctx)
	if err != nil {
		s.log.WithError(err).Error("Due dispatch from bot failed")
		return "Error: dispatching due communications failed, see server logs."
	}
	return formatDueReport(rep)
}

// Communication shows status and delivery breakdown of one communication.
func (s *StaffCommands) Communication(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: /comm <communication_id>"
	}
	c, err := s.repo.GetByID(ctx, args[0])
	if errors.Is(err, communication.ErrNotFound) {
		return fmt.Sprintf("Communication %s not found.", args[0])
	}
	if err != nil {
		s.log.WithError(err).WithField("communication_id", args[0]).Error("Failed to load communication for bot")
		return "Error: failed to load the communication."
	}
	summary, err := s.repo.SummarizeAttempts(ctx, c.ID)
	if err != nil {
		s.log.WithError(err).WithField("communication_id", c.ID).Error("Failed to summarize attempts for bot")
		return "Error: failed to load delivery attempts."
	}
	return formatCommunication(c, summary)
}

func formatStuckReport(rep *app.StuckReport) string {
	if rep.Found == 0 {
		return "No stuck communications."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d stuck, reset %d:\n", rep.Found, rep.Reset)
	for _, c := range rep.Communications {
		fmt.Fprintf(&b, "- %s %q, sending since %s\n", c.ID, c.Title, c.WasStuckSince.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatDueReport(rep *app.DueReport) string {
	if rep.Found == 0 {
		return "Nothing is due."
	}
	msg := fmt.Sprintf("Due: %d, started: %d, skipped: %d.", rep.Found, len(rep.Started), rep.Skipped)
	if len(rep.Started) > 0 {
		msg += "\n" + strings.Join(rep.Started, "\n")
	}
	return msg
}

func formatCommunication(c *communication.Communication, s communication.AttemptSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", c.Title, c.Type)
	fmt.Fprintf(&b, "Status: %s\n", c.Status)
	if c.ScheduledAt != nil {
		fmt.Fprintf(&b, "Scheduled: %s\n", c.ScheduledAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Attempts: %d (sent %d, failed %d, bounced %d)", s.Total, s.Sent, s.Failed, s.Bounced)
	if reason, ok := c.Metadata[communication.MetaError].(string); ok && reason != "" {
		fmt.Fprintf(&b, "\nError: %s", reason)
	}
	if _, ok := c.Metadata[communication.MetaCancelRequestedAt]; ok && c.Status == communication.StatusSending {
		b.WriteString("\nCancel requested, finishing in-flight batches.")
	}
	return b.String()
}
