package lambda

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/dispatcher"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
	"github.com/jmehdipour/daily-coordinator/internal/model"
)

// Response is the API-Gateway style result every handler returns.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

func respond(code int, body any) Response {
	b, err := json.Marshal(body)
	if err != nil {
		return Response{StatusCode: http.StatusInternalServerError, Body: `{"error":"encode response"}`}
	}
	return Response{StatusCode: code, Body: string(b)}
}

type Coordinator interface {
	Run(ctx context.Context) model.Event
}

// CoordinatorHandler runs one coordination pass per scheduled event.
func CoordinatorHandler(coord Coordinator) func(context.Context, events.CloudWatchEvent) (Response, error) {
	return func(ctx context.Context, ev events.CloudWatchEvent) (Response, error) {
		defer logger.Sync()
		logger.Log.Info("scheduled event received",
			zap.String("id", ev.ID),
			zap.String("source", ev.Source),
			zap.String("detail_type", ev.DetailType),
		)

		result := coord.Run(ctx)
		return respond(http.StatusOK, result), nil
	}
}

type SlackPoster interface {
	Post(ctx context.Context, s dispatcher.Summary) error
}

// SlackHandler forwards an SNS notification or direct payload to Slack.
// Delivery failures are returned so the invocation is retried.
func SlackHandler(slack SlackPoster) func(context.Context, json.RawMessage) (Response, error) {
	return func(ctx context.Context, payload json.RawMessage) (Response, error) {
		defer logger.Sync()

		summary := dispatcher.ExtractSummary(payload)
		logger.Log.Info("slack notification requested",
			zap.String("task", summary.Task),
			zap.String("status", summary.Status),
		)

		if err := slack.Post(ctx, summary); err != nil {
			logger.Log.Error("slack notification failed", zap.Error(err))
			return Response{}, err
		}
		return respond(http.StatusOK, map[string]any{
			"message": "Slack notification sent",
			"summary": summary,
		}), nil
	}
}

type WhatsAppSender interface {
	Configured() bool
	SendEvent(ctx context.Context, ev model.Event) []dispatcher.Delivery
}

// WhatsAppHandler sends the event carried by an SNS notification (or a
// direct invocation) to every configured recipient.
func WhatsAppHandler(wa WhatsAppSender) func(context.Context, json.RawMessage) (Response, error) {
	return func(ctx context.Context, payload json.RawMessage) (Response, error) {
		defer logger.Sync()

		ev, ok := eventFromPayload(payload)
		if !ok {
			return respond(http.StatusBadRequest, map[string]string{"error": "No event data"}), nil
		}
		if wa == nil || !wa.Configured() {
			logger.Log.Warn("whatsapp recipients not configured, skipping")
			return respond(http.StatusOK, map[string]string{"message": "WhatsApp not configured"}), nil
		}

		results := wa.SendEvent(ctx, ev)
		return respond(http.StatusOK, map[string]any{
			"message": "WhatsApp alerts processed",
			"results": results,
		}), nil
	}
}

// eventFromPayload reads the event from the first aws:sns record, or from the
// payload itself. A non-JSON SNS message still counts as data.
func eventFromPayload(payload []byte) (model.Event, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil || len(probe) == 0 {
		return model.Event{}, false
	}

	body := []byte(payload)
	if _, ok := probe["Records"]; ok {
		var sns events.SNSEvent
		if err := json.Unmarshal(payload, &sns); err != nil {
			return model.Event{}, false
		}
		found := false
		for _, rec := range sns.Records {
			if rec.EventSource == "aws:sns" {
				body, found = []byte(rec.SNS.Message), true
				break
			}
		}
		if !found {
			return model.Event{}, false
		}
	}

	ev, err := model.DecodeEvent(body)
	if err != nil {
		return model.Event{Errors: []string{}}, true
	}
	return ev, true
}
