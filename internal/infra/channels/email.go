package channels

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"

	"fitclub_comms/internal/domain/communication"
	"fitclub_comms/internal/infra/retry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// MailTransport sends a batch of messages and returns one error per message.
type MailTransport interface {
	SendBatch(ctx context.Context, msgs []OutgoingMail) []error
}

// OutgoingMail is a rendered message for one address.
type OutgoingMail struct {
	To        string
	MessageID string
	Message   *gomail.Message
}

// SMTPTransport is a MailTransport over gomail's SMTP dialer. Every message
// gets its own session; retries belong to the dispatcher.
type SMTPTransport struct {
	dialer gomail.Dialer
	from   string
}

func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	return &SMTPTransport{
		dialer: *gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (t *SMTPTransport) SendBatch(ctx context.Context, msgs []OutgoingMail) []error {
	errs := make([]error, len(msgs))
	var dialErr error
	for i, m := range msgs {
		switch {
		case ctx.Err() != nil:
			errs[i] = ctx.Err()
		case dialErr != nil:
			// The server refused a session; don't hammer it for the rest of the chunk.
			errs[i] = dialErr
		default:
			var dialed bool
			dialed, errs[i] = t.sendOne(m)
			if !dialed {
				dialErr = errs[i]
			}
		}
	}
	return errs
}

// sendOne delivers m over a fresh session. dialed is false when no session
// could be opened.
func (t *SMTPTransport) sendOne(m OutgoingMail) (dialed bool, err error) {
	d := t.dialer // Dial stores the negotiated auth on the dialer
	sc, err := d.Dial()
	if err != nil {
		return false, fmt.Errorf("smtp dial: %w", classifySMTP(err))
	}
	defer sc.Close()
	return true, classifySMTP(sc.Send(t.from, []string{m.To}, m.Message))
}

// classifySMTP maps SMTP replies onto retry markers: 550/551/553 are hard
// bounces, other 5xx are terminal except 503, which only reports a broken
// command sequence. 4xx and network errors are retryable.
func classifySMTP(err error) error {
	if err == nil {
		return nil
	}
	var tp *textproto.Error
	if errors.As(err, &tp) {
		switch {
		case tp.Code == 550 || tp.Code == 551 || tp.Code == 553:
			return retry.Bounce(err)
		case tp.Code == 503:
			return err
		case tp.Code >= 500:
			return retry.Permanent(err)
		default:
			return err
		}
	}
	return err
}

type EmailSender struct {
	transport MailTransport
	cfg       SMTPConfig
	domain    string
	d         *dispatcher
}

func NewEmailSender(transport MailTransport, cfg SMTPConfig, limits Limits, policy retry.Policy, rec AttemptRecorder, log *logrus.Entry) *EmailSender {
	domain := "localhost"
	if at := strings.LastIndex(cfg.From, "@"); at >= 0 && at < len(cfg.From)-1 {
		domain = cfg.From[at+1:]
	}
	return &EmailSender{
		transport: transport,
		cfg:       cfg,
		domain:    domain,
		d:         newDispatcher(communication.ChannelEmail, limits, true, policy, rec, log),
	}
}

func (s *EmailSender) Channel() communication.Channel { return communication.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, communicationID string, batch []communication.Recipient, content communication.RenderedContent, stop <-chan struct{}) []communication.DeliveryAttempt {
	return s.d.run(ctx, communicationID, batch, content, stop, s.deliver)
}

func (s *EmailSender) deliver(ctx context.Context, chunk []communication.Recipient, content communication.RenderedContent) []outcome {
	msgs := make([]OutgoingMail, len(chunk))
	for i, r := range chunk {
		msgs[i] = s.compose(r.Address, content)
	}
	errs := s.transport.SendBatch(ctx, msgs)
	outs := make([]outcome, len(chunk))
	for i := range chunk {
		if i >= len(errs) {
			outs[i].Err = fmt.Errorf("mail transport returned %d results for %d messages", len(errs), len(chunk))
			continue
		}
		if errs[i] != nil {
			outs[i].Err = errs[i]
			continue
		}
		outs[i].MessageID = msgs[i].MessageID
	}
	return outs
}

func (s *EmailSender) compose(to string, content communication.RenderedContent) OutgoingMail {
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.domain)
	m := gomail.NewMessage()
	if s.cfg.FromName != "" {
		m.SetAddressHeader("From", s.cfg.From, s.cfg.FromName)
	} else {
		m.SetHeader("From", s.cfg.From)
	}
	m.SetHeader("To", to)
	m.SetHeader("Subject", content.Subject)
	m.SetHeader("Message-ID", id)
	m.SetBody("text/plain", content.Text)
	if content.HTML != "" {
		m.AddAlternative("text/html", content.HTML)
	}
	return OutgoingMail{To: to, MessageID: id, Message: m}
}
