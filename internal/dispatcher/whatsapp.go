package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/credential"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
	"github.com/jmehdipour/daily-coordinator/internal/model"
)

const whatsappPrefix = "whatsapp:"

// MessageCreator is the Twilio messages endpoint.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioFactory builds a MessageCreator from the Twilio secret.
type TwilioFactory func(cred credential.Credential) (MessageCreator, error)

type twilioSecret struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
}

// TwilioClient expects a JSON secret {"account_sid": ..., "auth_token": ...}.
func TwilioClient(cred credential.Credential) (MessageCreator, error) {
	var s twilioSecret
	if err := cred.Decode(&s); err != nil {
		return nil, err
	}
	if s.AccountSID == "" || s.AuthToken == "" {
		return nil, errors.New("twilio secret is missing account_sid or auth_token")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: s.AccountSID,
		Password: s.AuthToken,
	})
	return client.Api, nil
}

// Delivery is the per-recipient outcome.
type Delivery struct {
	Recipient string `json:"recipient"`
	SID       string `json:"sid,omitempty"`
	Status    string `json:"status"` // sent | failed
	Error     string `json:"error,omitempty"`
}

// WhatsAppChannel sends run updates to a fixed list of recipients via Twilio.
type WhatsAppChannel struct {
	secret  SecretProvider
	factory TwilioFactory
	from    string
	to      []string

	mu          sync.Mutex
	client      MessageCreator
	fingerprint string
}

func NewWhatsAppChannel(secret SecretProvider, factory TwilioFactory, from string, to []string) *WhatsAppChannel {
	if factory == nil {
		factory = TwilioClient
	}
	recipients := make([]string, 0, len(to))
	for _, r := range to {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, NormalizeRecipient(r))
		}
	}
	return &WhatsAppChannel{secret: secret, factory: factory, from: from, to: recipients}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

// Configured reports whether any recipient is set.
func (c *WhatsAppChannel) Configured() bool { return len(c.to) > 0 }

func (c *WhatsAppChannel) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, d := range c.SendEvent(ctx, a.Event) {
		if d.Status != "sent" {
			errs = append(errs, fmt.Errorf("%s: %s", d.Recipient, d.Error))
		}
	}
	return errors.Join(errs...)
}

// SendEvent formats ev once and sends it to every recipient.
func (c *WhatsAppChannel) SendEvent(ctx context.Context, ev model.Event) []Delivery {
	out := make([]Delivery, 0, len(c.to))
	if len(c.to) == 0 {
		return out
	}

	client, err := c.clientFor(ctx)
	if err != nil {
		for _, r := range c.to {
			out = append(out, Delivery{Recipient: r, Status: "failed", Error: err.Error()})
		}
		return out
	}

	body := FormatWhatsApp(ev)
	for _, r := range c.to {
		params := &twilioApi.CreateMessageParams{}
		params.SetFrom(c.from)
		params.SetTo(r)
		params.SetBody(body)

		msg, err := client.CreateMessage(params)
		if err != nil {
			logger.Log.Error("whatsapp send failed", zap.String("recipient", r), zap.Error(err))
			out = append(out, Delivery{Recipient: r, Status: "failed", Error: err.Error()})
			continue
		}
		sid := ""
		if msg != nil && msg.Sid != nil {
			sid = *msg.Sid
		}
		logger.Log.Info("whatsapp sent", zap.String("recipient", r), zap.String("sid", sid))
		out = append(out, Delivery{Recipient: r, SID: sid, Status: "sent"})
	}
	return out
}

func (c *WhatsAppChannel) clientFor(ctx context.Context) (MessageCreator, error) {
	cred, err := c.secret.Get(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.fingerprint == cred.Fingerprint() {
		return c.client, nil
	}
	client, err := c.factory(cred)
	if err != nil {
		return nil, err
	}
	c.client, c.fingerprint = client, cred.Fingerprint()
	return client, nil
}

// NormalizeRecipient adds the whatsapp: scheme when missing.
func NormalizeRecipient(r string) string {
	if strings.HasPrefix(r, whatsappPrefix) {
		return r
	}
	return whatsappPrefix + r
}

func statusEmoji(s model.EventStatus) string {
	switch s {
	case model.EventSuccess:
		return "✅"
	case model.EventFailed:
		return "❌"
	case model.EventPartial:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// FormatWhatsApp renders the message body. Individual errors are listed only
// when there are at most three.
func FormatWhatsApp(ev model.Event) string {
	id := ev.CoordinatorID
	if id == "" {
		id = "Unknown"
	}
	status := ev.Status.String()
	if status == "" {
		status = "unknown"
	}

	lines := []string{
		statusEmoji(ev.Status) + " *Daily Coordinator Update*",
		"",
		"*ID:* " + id,
		"*Status:* " + strings.ToUpper(status),
		fmt.Sprintf("*Tasks:* %d", ev.TasksProcessed),
	}
	if n := len(ev.Errors); n > 0 {
		lines = append(lines, fmt.Sprintf("*Errors:* %d", n))
		if n <= 3 {
			for _, e := range ev.Errors {
				lines = append(lines, "  • "+e)
			}
		}
	}
	if ev.Timestamp != "" {
		lines = append(lines, "*Time:* "+ev.Timestamp)
	}
	return strings.Join(lines, "\n")
}
