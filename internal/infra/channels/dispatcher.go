// Package channels wraps external delivery providers (push, email, SMS) behind
// a uniform Sender contract. Each sender chunks, throttles and retries on its
// own; callers hand it the full recipient list for its channel.
package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/infra/retry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrCancelledBeforeDispatch is recorded for recipients skipped after a stop request.
var ErrCancelledBeforeDispatch = errors.New("cancelled before dispatch")

// Sender delivers one communication's content to recipients on one channel.
//
// Send returns exactly one terminal attempt per recipient and has already
// appended them to the attempt log when it returns. Closing stop prevents new
// chunks from starting; chunks already in flight complete.
type Sender interface {
	Channel() communication.Channel
	Send(ctx context.Context, communicationID string, batch []communication.Recipient, content communication.RenderedContent, stop <-chan struct{}) []communication.DeliveryAttempt
}

// AttemptRecorder is the append-only delivery log.
type AttemptRecorder interface {
	AppendAttempts(ctx context.Context, attempts []communication.DeliveryAttempt) error
}

// Limits sizes a sender to its provider.
type Limits struct {
	BatchSize   int           // recipients per provider call or connection
	RatePerSec  float64       // sustained throughput, in cost units per second
	Burst       int           // limiter burst
	Concurrency int           // chunks in flight
	CallTimeout time.Duration // per chunk delivery attempt
}

func (l Limits) withDefaults() Limits {
	if l.BatchSize <= 0 {
		l.BatchSize = 1
	}
	if l.Concurrency <= 0 {
		l.Concurrency = 1
	}
	if l.CallTimeout <= 0 {
		l.CallTimeout = 15 * time.Second
	}
	if l.RatePerSec > 0 && l.Burst <= 0 {
		l.Burst = 1
	}
	return l
}

// outcome is the provider result for one recipient.
type outcome struct {
	MessageID string
	Err       error
}

// deliverFunc performs one provider call for a chunk; it must return one
// outcome per recipient, in order.
type deliverFunc func(ctx context.Context, chunk []communication.Recipient, content communication.RenderedContent) []outcome

// dispatcher holds the chunk/throttle/retry/record loop shared by all senders.
type dispatcher struct {
	channel       communication.Channel
	limits        Limits
	limiter       *rate.Limiter
	perRecipient  bool // limiter cost is the chunk size rather than one call
	policy        retry.Policy
	recorder      AttemptRecorder
	log           *logrus.Entry
	now           func() time.Time
	recordTimeout time.Duration
}

func newDispatcher(ch communication.Channel, limits Limits, perRecipient bool, policy retry.Policy, rec AttemptRecorder, log *logrus.Entry) *dispatcher {
	limits = limits.withDefaults()
	var lim *rate.Limiter
	if limits.RatePerSec > 0 {
		burst := limits.Burst
		if perRecipient && burst < limits.BatchSize {
			burst = limits.BatchSize
		}
		lim = rate.NewLimiter(rate.Limit(limits.RatePerSec), burst)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &dispatcher{
		channel:       ch,
		limits:        limits,
		limiter:       lim,
		perRecipient:  perRecipient,
		policy:        policy,
		recorder:      rec,
		log:           log.WithField("channel", string(ch)),
		now:           time.Now,
		recordTimeout: 30 * time.Second,
	}
}

func (d *dispatcher) chunks(recipients []communication.Recipient) [][]communication.Recipient {
	size := d.limits.BatchSize
	out := make([][]communication.Recipient, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		out = append(out, recipients[start:end])
	}
	return out
}

func stopped(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// run chunks recipients and delivers them concurrently, returning attempts in
// recipient order once every chunk has settled.
func (d *dispatcher) run(ctx context.Context, communicationID string, recipients []communication.Recipient, content communication.RenderedContent, stop <-chan struct{}, deliver deliverFunc) []communication.DeliveryAttempt {
	parts := d.chunks(recipients)
	results := make([][]communication.DeliveryAttempt, len(parts))
	sem := make(chan struct{}, d.limits.Concurrency)

	start := d.now()
	d.log.WithFields(logrus.Fields{
		"communication_id": communicationID,
		"recipients":       len(recipients),
		"chunks":           len(parts),
	}).Info("Channel send started")

	var wg sync.WaitGroup
	for i, part := range parts {
		// Acquire before checking stop so a stop arriving while we wait for a
		// free slot still prevents this chunk from starting.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil || stopped(stop) {
			if ctx.Err() == nil {
				<-sem
			}
			reason := ErrCancelledBeforeDispatch
			if ctx.Err() != nil {
				reason = ctx.Err()
			}
			for j := i; j < len(parts); j++ {
				results[j] = d.finalize(communicationID, parts[j], failAll(len(parts[j]), reason))
				d.record(ctx, communicationID, results[j])
			}
			break
		}

		wg.Add(1)
		go func(i int, part []communication.Recipient) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = d.deliverChunk(ctx, communicationID, part, content, deliver)
			d.record(ctx, communicationID, results[i])
		}(i, part)
	}
	wg.Wait()

	out := make([]communication.DeliveryAttempt, 0, len(recipients))
	var summary communication.AttemptSummary
	for _, r := range results {
		for _, a := range r {
			summary.Add(a.Status)
		}
		out = append(out, r...)
	}
	d.log.WithFields(logrus.Fields{
		"communication_id": communicationID,
		"sent":             summary.Sent,
		"failed":           summary.Failed,
		"bounced":          summary.Bounced,
		"took":             d.now().Sub(start).String(),
	}).Info("Channel send finished")
	return out
}

// deliverChunk calls the provider, retrying only the retryable recipients.
func (d *dispatcher) deliverChunk(ctx context.Context, communicationID string, chunk []communication.Recipient, content communication.RenderedContent, deliver deliverFunc) []communication.DeliveryAttempt {
	final := make([]outcome, len(chunk))
	pending := make([]int, len(chunk))
	for i := range chunk {
		pending[i] = i
	}

	maxAttempts := d.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; len(pending) > 0; attempt++ {
		sub := make([]communication.Recipient, len(pending))
		for i, idx := range pending {
			sub[i] = chunk[idx]
		}

		var outs []outcome
		if err := d.wait(ctx, len(sub)); err != nil {
			outs = failAll(len(sub), err)
		} else {
			outs = d.call(ctx, sub, content, deliver)
		}

		var next []int
		var hint error
		for i, idx := range pending {
			o := outs[i]
			final[idx] = o
			if o.Err != nil && retry.IsRetryable(o.Err) && attempt < maxAttempts && ctx.Err() == nil {
				next = append(next, idx)
				if hint == nil {
					hint = o.Err
				}
			}
		}
		if len(next) == 0 {
			break
		}

		delay := d.policy.DelayFor(attempt, hint)
		d.log.WithFields(logrus.Fields{
			"communication_id": communicationID,
			"retrying":         len(next),
			"attempt":          attempt + 1,
			"delay":            delay.String(),
		}).WithError(hint).Debug("Retrying transient delivery failures")
		if err := retry.Sleep(ctx, delay); err != nil {
			break // final already holds the last error for each pending recipient
		}
		pending = next
	}

	return d.finalize(communicationID, chunk, final)
}

func (d *dispatcher) wait(ctx context.Context, n int) error {
	if d.limiter == nil {
		return ctx.Err()
	}
	cost := 1
	if d.perRecipient {
		cost = n
	}
	return d.limiter.WaitN(ctx, cost)
}

func (d *dispatcher) call(ctx context.Context, sub []communication.Recipient, content communication.RenderedContent, deliver deliverFunc) []outcome {
	cctx, cancel := context.WithTimeout(ctx, d.limits.CallTimeout)
	defer cancel()
	outs := deliver(cctx, sub, content)
	if len(outs) != len(sub) {
		err := fmt.Errorf("provider returned %d results for %d recipients", len(outs), len(sub))
		d.log.WithError(err).Error("Provider result mismatch")
		return failAll(len(sub), err)
	}
	return outs
}

func (d *dispatcher) finalize(communicationID string, chunk []communication.Recipient, outs []outcome) []communication.DeliveryAttempt {
	now := d.now().UTC()
	attempts := make([]communication.DeliveryAttempt, len(chunk))
	for i, r := range chunk {
		a := communication.DeliveryAttempt{
			ID:              uuid.NewString(),
			CommunicationID: communicationID,
			UserID:          r.UserID,
			Channel:         d.channel,
			AttemptedAt:     now,
		}
		switch err := outs[i].Err; {
		case err == nil:
			a.Status = communication.AttemptSent
			a.ProviderMessageID = outs[i].MessageID
		case retry.IsBounce(err):
			a.Status = communication.AttemptBounced
			a.Error = err.Error()
		default:
			a.Status = communication.AttemptFailed
			a.Error = err.Error()
		}
		attempts[i] = a
	}
	return attempts
}

// record appends attempts even when the caller's context is already done, so
// the finalization step always sees complete data.
func (d *dispatcher) record(ctx context.Context, communicationID string, attempts []communication.DeliveryAttempt) {
	if d.recorder == nil || len(attempts) == 0 {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.recordTimeout)
	defer cancel()
	if err := d.recorder.AppendAttempts(rctx, attempts); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"communication_id": communicationID,
			"attempts":         len(attempts),
		}).Error("Failed to record delivery attempts")
	}
}

func failAll(n int, err error) []outcome {
	outs := make([]outcome, n)
	for i := range outs {
		outs[i] = outcome{Err: err}
	}
	return outs
}
