package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type EventStatus string

const (
	EventSuccess EventStatus = "success"
	EventPartial EventStatus = "partial"
	EventFailed  EventStatus = "failed"
)

func (s EventStatus) String() string { return string(s) }

func (s EventStatus) Valid() bool {
	return s == EventSuccess || s == EventPartial || s == EventFailed
}

// ParseEventStatus normalizes input.
// Returns (value, true) if valid; otherwise ("", false).
func ParseEventStatus(s string) (EventStatus, bool) {
	st := EventStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", false
	}
	return st, true
}

var ErrInvalidEvent = errors.New("invalid event")

// Event is the coordinator run outcome relayed to the remote topic.
// Field names are the wire format.
type Event struct {
	CoordinatorID  string      `json:"coordinator_id"`
	Timestamp      string      `json:"timestamp"` // RFC 3339, UTC
	Status         EventStatus `json:"status"`
	TasksProcessed int         `json:"tasks_processed"`
	Errors         []string    `json:"errors"`
}

// NewEvent builds a validated event stamped at ts.
func NewEvent(coordinatorID string, ts time.Time, status EventStatus, tasks int, errs []string) (Event, error) {
	e := Event{
		CoordinatorID:  coordinatorID,
		Timestamp:      FormatTimestamp(ts),
		Status:         status,
		TasksProcessed: tasks,
		Errors:         append([]string{}, errs...),
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// FormatTimestamp renders the canonical event timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Time parses the event timestamp.
func (e Event) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, e.Timestamp)
}

// Validate enforces the status/errors invariants.
func (e Event) Validate() error {
	if strings.TrimSpace(e.CoordinatorID) == "" {
		return fmt.Errorf("%w: coordinator_id is empty", ErrInvalidEvent)
	}
	if _, err := e.Time(); err != nil {
		return fmt.Errorf("%w: timestamp %q is not RFC 3339", ErrInvalidEvent, e.Timestamp)
	}
	if e.TasksProcessed < 0 {
		return fmt.Errorf("%w: tasks_processed is negative", ErrInvalidEvent)
	}
	switch e.Status {
	case EventSuccess:
		if len(e.Errors) > 0 {
			return fmt.Errorf("%w: success event carries %d errors", ErrInvalidEvent, len(e.Errors))
		}
	case EventFailed:
		if len(e.Errors) == 0 {
			return fmt.Errorf("%w: failed event without errors", ErrInvalidEvent)
		}
	case EventPartial:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, e.Status)
	}
	return nil
}

// MarshalJSON keeps errors an array even when empty.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire Event
	w := wire(e)
	if w.Errors == nil {
		w.Errors = []string{}
	}
	return json.Marshal(w)
}

// EncodeEvent serializes e to the UTF-8 JSON wire body.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a wire body. It does not validate.
func DecodeEvent(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Errors == nil {
		e.Errors = []string{}
	}
	return e, nil
}
