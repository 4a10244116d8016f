package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fitclub_comms/internal/domain/communication"

	"github.com/sirupsen/logrus"
)

// Trigger names recorded in metadata.triggered_by for non-user sends.
const TriggerScheduler = "scheduler"

// DispatchResult summarizes one finished send.
type DispatchResult struct {
	CommunicationID string
	Status          communication.Status
	Summary         communication.AttemptSummary
	Dropped         int
	Unreachable     int
	CancelRequested bool
	// ProviderMessages counts attempts the provider acknowledged with an id.
	ProviderMessages int
	// Overridden is set when the row was no longer sending at finalization,
	// typically because the watchdog already failed it.
	Overridden bool
}

// SendNow claims the communication for sending and dispatches it synchronously.
// A caller losing the claim race gets ErrAlreadySending.
func (s *Service) SendNow(ctx context.Context, caller *Caller, id string) (*DispatchResult, error) {
	c, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := s.claim(ctx, c, caller.UserID); err != nil {
		return nil, err
	}
	return s.Dispatch(ctx, c)
}

// StartSend claims the communication and dispatches it in the background,
// returning as soon as the claim succeeded.
func (s *Service) StartSend(ctx context.Context, caller *Caller, id string) (*communication.Communication, error) {
	c, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := s.claim(ctx, c, caller.UserID); err != nil {
		return nil, err
	}
	s.dispatchAsync(c)
	return s.repo.GetByID(ctx, id)
}

func (s *Service) dispatchAsync(c *communication.Communication) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if _, err := s.Dispatch(s.bg, c); err != nil {
			s.log.WithError(err).WithField("communication_id", c.ID).Error("Background dispatch failed")
		}
	}()
}

// Wait blocks until background dispatches finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// claim performs the single-flight draft|scheduled -> sending transition.
func (s *Service) claim(ctx context.Context, c *communication.Communication, triggeredBy string) error {
	switch {
	case c.Status == communication.StatusSending:
		return ErrAlreadySending
	case !communication.CanTransition(c.Status, communication.StatusSending):
		return fmt.Errorf("%w: cannot send a %s communication", ErrInvalidTransition, c.Status)
	}

	ok, err := s.repo.TransitionStatus(ctx, c.ID, communication.SendableStatuses, communication.StatusSending, communication.Metadata{
		communication.MetaStartedAt:   s.now().UTC().Format(time.RFC3339),
		communication.MetaTriggeredBy: triggeredBy,
	})
	if err != nil {
		return fmt.Errorf("failed to claim communication for sending: %w", err)
	}
	if !ok {
		cur, err := s.repo.GetByID(ctx, c.ID)
		if err == nil && cur.Status != communication.StatusSending {
			return fmt.Errorf("%w: communication is %s", ErrInvalidTransition, cur.Status)
		}
		s.log.WithField("communication_id", c.ID).Info("Send already claimed by another trigger")
		return ErrAlreadySending
	}
	c.Status = communication.StatusSending
	return nil
}

// Dispatch runs a claimed communication to completion: resolve, render, fan
// out per channel, then finalize from the persisted attempt log.
func (s *Service) Dispatch(ctx context.Context, c *communication.Communication) (*DispatchResult, error) {
	log := s.log.WithFields(logrus.Fields{"communication_id": c.ID, "org_id": c.OrgID, "type": c.Type})
	result := &DispatchResult{CommunicationID: c.ID}
	ch := c.Type.Channel()

	res, err := s.resolver.Resolve(ctx, c.RecipientFilter, c.OrgID, ch)
	if err != nil {
		log.WithError(err).Error("Recipient resolution failed")
		return s.abort(ctx, c, result, fmt.Sprintf("recipient resolution failed: %v", err))
	}
	result.Dropped, result.Unreachable = res.Dropped, res.Unreachable
	if _, err := s.repo.PatchMetadata(ctx, c.ID, communication.StatusSending, communication.Metadata{
		"recipients":                        len(res.Recipients),
		communication.MetaDroppedRecipients: res.Dropped,
		communication.MetaUnreachable:       res.Unreachable,
	}); err != nil {
		log.WithError(err).Warn("Failed to record resolution counts")
	}
	log.WithFields(logrus.Fields{
		"recipients":  len(res.Recipients),
		"dropped":     res.Dropped,
		"unreachable": res.Unreachable,
	}).Info("Recipients resolved")

	if len(res.Recipients) > 0 {
		if err := s.fanOut(ctx, c, res.Recipients, result, log); err != nil {
			return s.abort(ctx, c, result, err.Error())
		}
	}

	return s.finalize(ctx, c, result, log)
}

// fanOut hands every channel's recipients to its sender concurrently and
// returns once all of them settled.
func (s *Service) fanOut(ctx context.Context, c *communication.Communication, recipients []communication.Recipient, result *DispatchResult, log *logrus.Entry) error {
	byChannel := make(map[communication.Channel][]communication.Recipient)
	for _, r := range recipients {
		byChannel[r.Channel] = append(byChannel[r.Channel], r)
	}

	type job struct {
		sender  Sender
		batch   []communication.Recipient
		content communication.RenderedContent
	}
	jobs := make([]job, 0, len(byChannel))
	for _, ch := range communication.AllChannels {
		batch, ok := byChannel[ch]
		if !ok {
			continue
		}
		sender, ok := s.senders[ch]
		if !ok {
			s.recordUnsendable(ctx, c.ID, batch, fmt.Sprintf("channel %s is not configured", ch), log)
			continue
		}
		content, err := s.renderer.Render(c, ch)
		if err != nil {
			return fmt.Errorf("rendering %s content: %w", ch, err)
		}
		jobs = append(jobs, job{sender: sender, batch: batch, content: content})
	}

	stop := make(chan struct{})
	watchDone := make(chan struct{})
	cancelSeen := make(chan bool, 1)
	if s.cancelRequested(ctx, c.ID) {
		close(stop)
		cancelSeen <- true
	} else {
		go func() {
			cancelSeen <- s.watchCancel(ctx, c.ID, stop, watchDone)
		}()
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		acked int
	)
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			n := 0
			for _, a := range j.sender.Send(ctx, c.ID, j.batch, j.content, stop) {
				if a.ProviderMessageID != "" {
					n++
				}
			}
			mu.Lock()
			acked += n
			mu.Unlock()
		}(j)
	}
	wg.Wait()
	result.ProviderMessages = acked

	close(watchDone)
	result.CancelRequested = <-cancelSeen
	return nil
}

// watchCancel polls for a cancel request until done is closed, closing stop
// when one is seen. stop is always closed before it returns.
func (s *Service) watchCancel(ctx context.Context, id string, stop chan struct{}, done <-chan struct{}) bool {
	defer close(stop)
	ticker := time.NewTicker(s.cfg.CancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return false
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if s.cancelRequested(ctx, id) {
				return true
			}
		}
	}
}

func (s *Service) cancelRequested(ctx context.Context, id string) bool {
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.log.WithError(err).WithField("communication_id", id).Warn("Cancel poll failed")
		return false
	}
	if _, requested := cur.Metadata[communication.MetaCancelRequestedAt]; requested {
		s.log.WithField("communication_id", id).Info("Cancel requested, skipping undispatched batches")
		return true
	}
	return false
}

// recordUnsendable logs a failed attempt for recipients no sender can serve,
// so the attempt log stays complete.
func (s *Service) recordUnsendable(ctx context.Context, id string, batch []communication.Recipient, reason string, log *logrus.Entry) {
	now := s.now().UTC()
	attempts := make([]communication.DeliveryAttempt, len(batch))
	for i, r := range batch {
		attempts[i] = communication.DeliveryAttempt{
			ID:              s.newID(),
			CommunicationID: id,
			UserID:          r.UserID,
			Channel:         r.Channel,
			Status:          communication.AttemptFailed,
			Error:           reason,
			AttemptedAt:     now,
		}
	}
	if err := s.repo.AppendAttempts(context.WithoutCancel(ctx), attempts); err != nil {
		log.WithError(err).Error("Failed to record unsendable recipients")
	}
	log.WithField("recipients", len(batch)).Warn(reason)
}

// finalize computes the terminal status from the attempt log and applies it
// only if the row is still sending.
func (s *Service) finalize(ctx context.Context, c *communication.Communication, result *DispatchResult, log *logrus.Entry) (*DispatchResult, error) {
	ctx = context.WithoutCancel(ctx)
	summary, err := s.repo.SummarizeAttempts(ctx, c.ID)
	if err != nil {
		// The row stays in sending; the watchdog resolves it.
		return nil, fmt.Errorf("failed to summarize attempts: %w", err)
	}
	result.Summary = summary

	status, reason := s.cfg.Policy.Decide(summary)
	patch := communication.Metadata{
		communication.MetaBreakdown:        summary,
		communication.MetaFinishedAt:       s.now().UTC().Format(time.RFC3339),
		communication.MetaProviderMessages: result.ProviderMessages,
	}
	if reason != "" {
		patch[communication.MetaError] = reason
	}
	return s.settle(ctx, c, result, status, patch, log)
}

func (s *Service) abort(ctx context.Context, c *communication.Communication, result *DispatchResult, reason string) (*DispatchResult, error) {
	ctx = context.WithoutCancel(ctx)
	summary, err := s.repo.SummarizeAttempts(ctx, c.ID)
	if err == nil {
		result.Summary = summary
	}
	patch := communication.Metadata{
		communication.MetaError:      reason,
		communication.MetaBreakdown:  result.Summary,
		communication.MetaFinishedAt: s.now().UTC().Format(time.RFC3339),
	}
	return s.settle(ctx, c, result, communication.StatusFailed, patch, s.log.WithField("communication_id", c.ID))
}

func (s *Service) settle(ctx context.Context, c *communication.Communication, result *DispatchResult, status communication.Status, patch communication.Metadata, log *logrus.Entry) (*DispatchResult, error) {
	ok, err := s.repo.TransitionStatus(ctx, c.ID, []communication.Status{communication.StatusSending}, status, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize communication: %w", err)
	}
	result.Status = status
	if !ok {
		result.Overridden = true
		if cur, gerr := s.repo.GetByID(ctx, c.ID); gerr == nil {
			result.Status = cur.Status
		}
		log.WithField("status", result.Status).Warn("Communication was resolved elsewhere before finalization")
		return result, nil
	}

	entry := log.WithFields(logrus.Fields{
		"status":  status,
		"total":   result.Summary.Total,
		"sent":    result.Summary.Sent,
		"failed":  result.Summary.Failed,
		"bounced": result.Summary.Bounced,
	})
	if status == communication.StatusFailed {
		entry.WithField("reason", patch[communication.MetaError]).Warn("Communication send failed")
	} else {
		entry.Info("Communication sent")
	}
	return result, nil
}

// DueReport describes one scheduler tick.
type DueReport struct {
	Found   int      `json:"found"`
	Started []string `json:"started"`
	Skipped int      `json:"skipped"`
}

// DispatchDue claims scheduled communications whose time has come and
// dispatches each in the background. Claims lost to another replica are skipped.
func (s *Service) DispatchDue(ctx context.Context) (*DueReport, error) {
	due, err := s.repo.ListDueScheduled(ctx, s.now(), s.cfg.DueBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due communications: %w", err)
	}
	rep := &DueReport{Found: len(due), Started: []string{}}
	for _, c := range due {
		if err := s.claim(ctx, c, TriggerScheduler); err != nil {
			if errors.Is(err, ErrAlreadySending) || errors.Is(err, ErrInvalidTransition) {
				rep.Skipped++
				continue
			}
			return rep, err
		}
		rep.Started = append(rep.Started, c.ID)
		s.dispatchAsync(c)
	}
	if rep.Found > 0 {
		s.log.WithFields(logrus.Fields{
			"found":   rep.Found,
			"started": len(rep.Started),
			"skipped": rep.Skipped,
		}).Info("Scheduled communications dispatched")
	}
	return rep, nil
}
