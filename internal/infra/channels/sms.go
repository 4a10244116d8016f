package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/infra/retry"

	"github.com/sirupsen/logrus"
)

// smsMaxRunes keeps a message within a single GSM segment.
const smsMaxRunes = 160

// SMSGateway is a raw SMS transport.
type SMSGateway interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// SMSGatewayConfig configures the HTTP SMS gateway.
type SMSGatewayConfig struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

// HTTPSMSGateway posts messages to a JSON SMS gateway API.
type HTTPSMSGateway struct {
	cfg    SMSGatewayConfig
	client *http.Client
}

func NewHTTPSMSGateway(cfg SMSGatewayConfig) *HTTPSMSGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSMSGateway{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

type smsResponse struct {
	ID      string `json:"id"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (g *HTTPSMSGateway) SendSMS(ctx context.Context, to, body string) (string, error) {
	payload, err := json.Marshal(smsRequest{To: to, From: g.cfg.From, Body: body})
	if err != nil {
		return "", retry.Permanent(err)
	}

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed smsResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return parsed.ID, nil
	}
	return "", classifySMSStatus(resp.StatusCode, resp.Header.Get("Retry-After"), parsed, raw)
}

func classifySMSStatus(code int, retryAfter string, parsed smsResponse, raw []byte) error {
	detail := parsed.Error
	if detail == "" {
		detail = parsed.Message
	}
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}
	err := fmt.Errorf("sms gateway returned status %d: %s", code, detail)

	switch {
	case code == http.StatusTooManyRequests:
		if secs, perr := strconv.Atoi(strings.TrimSpace(retryAfter)); perr == nil {
			return retry.After(err, time.Duration(secs)*time.Second)
		}
		return err
	case code >= 500:
		return err
	case code == http.StatusBadRequest, code == http.StatusNotFound, code == http.StatusUnprocessableEntity:
		return retry.Bounce(err)
	default:
		return retry.Permanent(err)
	}
}

type SMSSender struct {
	gateway SMSGateway
	d       *dispatcher
}

func NewSMSSender(gateway SMSGateway, limits Limits, policy retry.Policy, rec AttemptRecorder, log *logrus.Entry) *SMSSender {
	return &SMSSender{
		gateway: gateway,
		d:       newDispatcher(communication.ChannelSMS, limits, true, policy, rec, log),
	}
}

func (s *SMSSender) Channel() communication.Channel { return communication.ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, communicationID string, batch []communication.Recipient, content communication.RenderedContent, stop <-chan struct{}) []communication.DeliveryAttempt {
	return s.d.run(ctx, communicationID, batch, content, stop, s.deliver)
}

func (s *SMSSender) deliver(ctx context.Context, chunk []communication.Recipient, content communication.RenderedContent) []outcome {
	body := TruncateSMS(content.Text)
	outs := make([]outcome, len(chunk))
	for i, r := range chunk {
		if err := ctx.Err(); err != nil {
			outs[i].Err = err
			continue
		}
		id, err := s.gateway.SendSMS(ctx, r.Address, body)
		outs[i] = outcome{MessageID: id, Err: err}
	}
	return outs
}

// TruncateSMS cuts text to a single SMS segment on a rune boundary.
func TruncateSMS(text string) string {
	r := []rune(text)
	if len(r) <= smsMaxRunes {
		return text
	}
	return string(r[:smsMaxRunes])
}
