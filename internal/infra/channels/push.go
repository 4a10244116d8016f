package channels

import (
	"context"

	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/infra/retry"

	"github.com/sirupsen/logrus"
)

// PushGateway is a raw push transport (FCM, Telegram).
type PushGateway interface {
	Name() string
	// MaxBatch is the provider's limit of addresses per call.
	MaxBatch() int
	// SendPush delivers to every address and returns one outcome per address.
	SendPush(ctx context.Context, addresses []string, content communication.RenderedContent) []PushResult
}

// PushResult is the gateway outcome for one address.
type PushResult struct {
	MessageID string
	Err       error
}

type PushSender struct {
	gateway PushGateway
	d       *dispatcher
}

func NewPushSender(gateway PushGateway, limits Limits, policy retry.Policy, rec AttemptRecorder, log *logrus.Entry) *PushSender {
	if max := gateway.MaxBatch(); max > 0 && (limits.BatchSize <= 0 || limits.BatchSize > max) {
		limits.BatchSize = max
	}
	d := newDispatcher(communication.ChannelPush, limits, false, policy, rec, log)
	d.log = d.log.WithField("provider", gateway.Name())
	return &PushSender{gateway: gateway, d: d}
}

func (s *PushSender) Channel() communication.Channel { return communication.ChannelPush }

func (s *PushSender) Send(ctx context.Context, communicationID string, batch []communication.Recipient, content communication.RenderedContent, stop <-chan struct{}) []communication.DeliveryAttempt {
	return s.d.run(ctx, communicationID, batch, content, stop, s.deliver)
}

func (s *PushSender) deliver(ctx context.Context, chunk []communication.Recipient, content communication.RenderedContent) []outcome {
	addrs := make([]string, len(chunk))
	for i, r := range chunk {
		addrs[i] = r.Address
	}
	res := s.gateway.SendPush(ctx, addrs, content)
	outs := make([]outcome, len(res))
	for i, r := range res {
		outs[i] = outcome{MessageID: r.MessageID, Err: r.Err}
	}
	return outs
}
