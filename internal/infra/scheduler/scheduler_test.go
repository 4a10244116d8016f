package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"fitclub_comms/internal/app"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingService struct{ calls atomic.Int32 }

func (c *countingService) DispatchDue(ctx context.Context) (*app.DueReport, error) {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("job context has no deadline")
	}
	return &app.DueReport{Started: []string{}}, nil
}

type countingWatchdog struct {
	calls atomic.Int32
	last  app.StuckQuery
	err   error
}

func (c *countingWatchdog) CheckStuck(_ context.Context, q app.StuckQuery) (*app.StuckReport, error) {
	c.calls.Add(1)
	c.last = q
	if c.err != nil {
		return nil, c.err
	}
	return &app.StuckReport{Found: 2, Reset: 1}, nil
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestStart_RejectsInvalidSpec(t *testing.T) {
	s := NewCommunicationScheduler(&countingService{}, &countingWatchdog{}, quietLog(), "not a spec", "*/5 * * * *")
	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch")

	s = NewCommunicationScheduler(&countingService{}, &countingWatchdog{}, quietLog(), "* * * * *", "61 * * * *")
	err = s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck-check")
}

func TestStart_RunsJobsOnSchedule(t *testing.T) {
	svc := &countingService{}
	wd := &countingWatchdog{}
	s := NewCommunicationScheduler(svc, wd, quietLog(), "@every 1s", "@every 1s")
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return svc.calls.Load() > 0 && wd.calls.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRunStuckCheck_IsSystemWide(t *testing.T) {
	wd := &countingWatchdog{}
	s := NewCommunicationScheduler(&countingService{}, wd, quietLog(), "* * * * *", "* * * * *")

	rep, err := s.RunStuckCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reset)
	assert.Equal(t, app.StuckQuery{}, wd.last)

	wd.err = errors.New("db down")
	_, err = s.RunStuckCheck(context.Background())
	assert.Error(t, err)
}
