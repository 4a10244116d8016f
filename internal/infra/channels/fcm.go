package channels

import (
	"context"
	"fmt"

	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/infra/retry"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// fcmMaxTokens is the FCM multicast limit.
const fcmMaxTokens = 500

type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMGateway sends push notifications through Firebase Cloud Messaging.
type FCMGateway struct {
	client multicastClient
}

// NewFCMGateway initialises the Firebase app from a service-account file.
func NewFCMGateway(ctx context.Context, projectID, credentialsPath string) (*FCMGateway, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}
	return &FCMGateway{client: client}, nil
}

func (g *FCMGateway) Name() string  { return "fcm" }
func (g *FCMGateway) MaxBatch() int { return fcmMaxTokens }

func (g *FCMGateway) SendPush(ctx context.Context, tokens []string, content communication.RenderedContent) []PushResult {
	out := make([]PushResult, len(tokens))
	resp, err := g.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: content.Subject,
			Body:  content.Text,
		},
	})
	if err != nil {
		err = classifyFCM(err)
		for i := range out {
			out[i].Err = err
		}
		return out
	}
	for i := range out {
		if i >= len(resp.Responses) || resp.Responses[i] == nil {
			out[i].Err = fmt.Errorf("fcm: missing response for token %d", i)
			continue
		}
		r := resp.Responses[i]
		if r.Success {
			out[i].MessageID = r.MessageID
			continue
		}
		out[i].Err = classifyFCM(r.Error)
	}
	return out
}

func classifyFCM(err error) error {
	switch {
	case err == nil:
		return nil
	case messaging.IsUnregistered(err):
		return retry.Bounce(err)
	case messaging.IsQuotaExceeded(err), messaging.IsUnavailable(err), messaging.IsInternal(err):
		return err
	case messaging.IsInvalidArgument(err), messaging.IsSenderIDMismatch(err), messaging.IsThirdPartyAuthError(err):
		return retry.Permanent(err)
	}
	// Transport-level failures (DNS, timeouts) carry no FCM error code.
	return err
}
