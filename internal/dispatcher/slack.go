package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/credential"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
)

const (
	defaultSummaryTask   = "Daily Coordinator"
	defaultSummaryStatus = "updated"
)

// Summary is the condensed view of an alert rendered into Slack.
type Summary struct {
	Task    string `json:"task"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// SummaryFromAlert summarizes an alert raised in-process.
func SummaryFromAlert(a Alert) Summary {
	s := Summary{Task: defaultSummaryTask, Status: defaultSummaryStatus, Subject: a.Subject, Details: a.Message}
	if a.Event.CoordinatorID != "" {
		s.Task = a.Event.CoordinatorID
	}
	if a.Event.Status != "" {
		s.Status = a.Event.Status.String()
	}
	return s
}

// ExtractSummary summarizes a lambda payload: either an SNS notification
// (first aws:sns record wins) or a direct invocation object.
func ExtractSummary(payload []byte) Summary {
	s := Summary{Task: defaultSummaryTask, Status: defaultSummaryStatus}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return s
	}

	if _, ok := probe["Records"]; ok {
		var ev events.SNSEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return s
		}
		for _, rec := range ev.Records {
			if rec.EventSource != "aws:sns" {
				continue
			}
			s.Subject = rec.SNS.Subject
			s.Details = rec.SNS.Message

			var decoded map[string]any
			if json.Unmarshal([]byte(rec.SNS.Message), &decoded) == nil {
				s.Task = firstString(decoded, s.Task, "task_name", "task")
				s.Status = firstString(decoded, s.Status, "status")
				s.Details = firstString(decoded, s.Details, "details", "message")
			}
			break
		}
		return s
	}

	var direct map[string]any
	if err := json.Unmarshal(payload, &direct); err != nil {
		return s
	}
	s.Task = firstString(direct, s.Task, "task_name", "task", "coordinator_id")
	s.Status = firstString(direct, s.Status, "status")
	s.Details = firstString(direct, s.Details, "details", "message")
	return s
}

func firstString(m map[string]any, fallback string, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return fallback
}

// RenderSlack renders the message text under prefix.
func RenderSlack(prefix string, s Summary) string {
	lines := []string{
		prefix,
		"*Task:* " + s.Task,
		"*Status:* " + s.Status,
	}
	if s.Subject != "" {
		lines = append(lines, "*Subject:* "+s.Subject)
	}
	if s.Details != "" {
		lines = append(lines, "*Details:* "+s.Details)
	}
	return strings.Join(lines, "\n")
}

type slackPayload struct {
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

type SlackOptions struct {
	Channel   string
	Username  string
	IconEmoji string
	Prefix    string
	Timeout   time.Duration
}

// SecretProvider hands out a cached secret; credential.Cache implements it.
type SecretProvider interface {
	Get(ctx context.Context) (credential.Credential, error)
}

// SlackChannel posts alerts to an incoming webhook whose URL is a secret.
type SlackChannel struct {
	webhook SecretProvider
	opts    SlackOptions
	client  *http.Client
}

func NewSlackChannel(webhook SecretProvider, opts SlackOptions) *SlackChannel {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &SlackChannel{
		webhook: webhook,
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, a Alert) error {
	return c.Post(ctx, SummaryFromAlert(a))
}

// Post renders s and delivers it to the webhook.
func (c *SlackChannel) Post(ctx context.Context, s Summary) error {
	cred, err := c.webhook.Get(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(slackPayload{
		Text:      RenderSlack(c.opts.Prefix, s),
		Username:  c.opts.Username,
		IconEmoji: c.opts.IconEmoji,
		Channel:   c.opts.Channel,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, string(cred.Bytes()), bytes.NewReader(body))
	if err != nil {
		return errors.New("slack webhook url is malformed")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		// url.Error quotes the webhook URL, which is the secret.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("slack webhook unreachable: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		logger.Log.Error("slack webhook rejected message",
			zap.Int("status", res.StatusCode),
			zap.String("body", string(msg)),
		)
		return fmt.Errorf("slack webhook status=%d", res.StatusCode)
	}
	return nil
}
