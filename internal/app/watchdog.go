package app

import (
	"context"
	"fmt"
	"time"

	"fitclub_comms/internal/domain/communication"

	"github.com/sirupsen/logrus"
)

// DefaultStuckThreshold is how long a communication may sit in sending
// without a status change before the watchdog fails it.
const DefaultStuckThreshold = 10 * time.Minute

// StuckTimeoutReason is stored in metadata.error for watchdog-failed sends.
const StuckTimeoutReason = "send timed out"

// StuckCommunication is one communication found stuck in sending.
type StuckCommunication struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	WasStuckSince time.Time `json:"was_stuck_since"`
}

// StuckReport is the result of one watchdog sweep.
type StuckReport struct {
	Found          int                  `json:"found"`
	Reset          int                  `json:"reset"`
	Communications []StuckCommunication `json:"communications"`
}

// StuckQuery narrows a sweep. Empty fields mean "any".
type StuckQuery struct {
	OrgID           string
	CommunicationID string
}

// Watchdog force-fails communications wedged in sending.
type Watchdog struct {
	repo      communication.Repository
	threshold time.Duration
	now       func() time.Time
	log       *logrus.Entry
}

func NewWatchdog(repo communication.Repository, threshold time.Duration, log *logrus.Entry) *Watchdog {
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Watchdog{
		repo:      repo,
		threshold: threshold,
		now:       time.Now,
		log:       log.WithField("component", "watchdog"),
	}
}

// WithClock returns the watchdog using now as its time source.
func (w *Watchdog) WithClock(now func() time.Time) *Watchdog {
	w.now = now
	return w
}

// CheckStuck finds sending communications whose updated_at is older than the
// threshold and moves them to failed. Each reset is a conditional update, so a
// send finishing concurrently wins and a second sweep finds nothing.
func (w *Watchdog) CheckStuck(ctx context.Context, q StuckQuery) (*StuckReport, error) {
	now := w.now().UTC()
	stuck, err := w.repo.ListStuck(ctx, now.Add(-w.threshold), q.CommunicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck communications: %w", err)
	}

	rep := &StuckReport{Communications: []StuckCommunication{}}
	for _, c := range stuck {
		if q.OrgID != "" && c.OrgID != q.OrgID {
			continue
		}
		rep.Found++
		since := c.UpdatedAt.UTC()
		rep.Communications = append(rep.Communications, StuckCommunication{ID: c.ID, Title: c.Title, WasStuckSince: since})

		ok, err := w.repo.TransitionStatus(ctx, c.ID, []communication.Status{communication.StatusSending}, communication.StatusFailed, communication.Metadata{
			communication.MetaError:           StuckTimeoutReason,
			communication.MetaStuckDetectedAt: now.Format(time.RFC3339),
			communication.MetaWasStuckSince:   since.Format(time.RFC3339),
		})
		if err != nil {
			return rep, fmt.Errorf("failed to reset stuck communication %s: %w", c.ID, err)
		}
		entry := w.log.WithFields(logrus.Fields{
			"communication_id": c.ID,
			"org_id":           c.OrgID,
			"stuck_since":      since,
		})
		if !ok {
			entry.Info("Stuck communication settled before reset")
			continue
		}
		rep.Reset++
		entry.Warn("Stuck communication forced to failed")
	}
	return rep, nil
}
