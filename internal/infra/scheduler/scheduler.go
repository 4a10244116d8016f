package scheduler

import (
	"context"
	"fmt"
	"time"

	"fitclub_comms/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	dispatchJobTimeout   = 1 * time.Minute
	stuckCheckJobTimeout = 2 * time.Minute
)

type dueDispatcher interface {
	DispatchDue(ctx context.Context) (*app.DueReport, error)
}

type stuckChecker interface {
	CheckStuck(ctx context.Context, q app.StuckQuery) (*app.StuckReport, error)
}

// CommunicationScheduler runs the due-dispatch and watchdog ticks in process.
// Replicas may each run one; the claim and reset updates are conditional.
type CommunicationScheduler struct {
	cronEngine         *cron.Cron
	service            dueDispatcher
	watchdog           stuckChecker
	logger             *logrus.Entry
	cronSpecDispatch   string
	cronSpecStuckCheck string
}

func NewCommunicationScheduler(
	service dueDispatcher,
	watchdog stuckChecker,
	logger *logrus.Entry,
	cronSpecDispatch string, // e.g., "* * * * *" (every minute)
	cronSpecStuckCheck string, // e.g., "*/5 * * * *" (every 5 minutes)
) *CommunicationScheduler {
	logger = logger.WithField("component", "scheduler")
	return &CommunicationScheduler{
		cronEngine: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.PrintfLogger(logger)), cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		service:            service,
		watchdog:           watchdog,
		logger:             logger,
		cronSpecDispatch:   cronSpecDispatch,
		cronSpecStuckCheck: cronSpecStuckCheck,
	}
}

// Start registers both jobs and starts the cron engine.
func (s *CommunicationScheduler) Start() error {
	s.logger.Info("Starting communication scheduler...")

	if _, err := s.cronEngine.AddFunc(s.cronSpecDispatch, func() {
		s.logger.Debug("Cron job triggered for due communications.")
		ctx, cancel := context.WithTimeout(context.Background(), dispatchJobTimeout)
		defer cancel()
		if _, err := s.RunDispatchDue(ctx); err != nil {
			s.logger.WithError(err).Error("Error during due communication dispatch")
		}
	}); err != nil {
		return fmt.Errorf("could not add dispatch cron job %q: %w", s.cronSpecDispatch, err)
	}

	if _, err := s.cronEngine.AddFunc(s.cronSpecStuckCheck, func() {
		s.logger.Debug("Cron job triggered for stuck communication check.")
		ctx, cancel := context.WithTimeout(context.Background(), stuckCheckJobTimeout)
		defer cancel()
		if _, err := s.RunStuckCheck(ctx); err != nil {
			s.logger.WithError(err).Error("Error during stuck communication check")
		}
	}); err != nil {
		return fmt.Errorf("could not add stuck-check cron job %q: %w", s.cronSpecStuckCheck, err)
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{
		"dispatch":    s.cronSpecDispatch,
		"stuck_check": s.cronSpecStuckCheck,
	}).Info("Communication scheduler started with jobs.")
	return nil
}

// RunDispatchDue performs one due-dispatch tick.
func (s *CommunicationScheduler) RunDispatchDue(ctx context.Context) (*app.DueReport, error) {
	return s.service.DispatchDue(ctx)
}

// RunStuckCheck performs one system-wide watchdog sweep.
func (s *CommunicationScheduler) RunStuckCheck(ctx context.Context) (*app.StuckReport, error) {
	rep, err := s.watchdog.CheckStuck(ctx, app.StuckQuery{})
	if err != nil {
		return nil, err
	}
	if rep.Reset > 0 {
		s.logger.WithFields(logrus.Fields{"found": rep.Found, "reset": rep.Reset}).Warn("Stuck communications were reset")
	}
	return rep, nil
}

func (s *CommunicationScheduler) Stop() {
	s.logger.Info("Stopping communication scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.logger.Info("Communication scheduler gracefully stopped.")
}
