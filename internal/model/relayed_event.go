package model

import "time"

// RelayedEvent is an Event as seen by the consumer side, together with the
// transport metadata it arrived with.
type RelayedEvent struct {
	MessageID  string
	Event      Event
	Source     string
	EventType  string
	ReceivedAt time.Time
}

// EventRow is the ClickHouse projection of a relayed event.
type EventRow struct {
	MessageID      string    `db:"message_id"     json:"message_id"`
	CoordinatorID  string    `db:"coordinator_id" json:"coordinator_id"`
	Status         string    `db:"status"         json:"status"`
	TasksProcessed int64     `db:"tasks_processed" json:"tasks_processed"`
	Errors         []string  `db:"errors"         json:"errors"`
	EventTime      time.Time `db:"event_time"     json:"event_time"`
	Source         string    `db:"source"         json:"source"`
	ReceivedAt     time.Time `db:"received_at"    json:"received_at"`
}

// Row projects r for the analytics store. An unparsable timestamp falls
// back to the receive time.
func (r RelayedEvent) Row() EventRow {
	ts, err := r.Event.Time()
	if err != nil {
		ts = r.ReceivedAt
	}
	errs := r.Event.Errors
	if errs == nil {
		errs = []string{}
	}
	return EventRow{
		MessageID:      r.MessageID,
		CoordinatorID:  r.Event.CoordinatorID,
		Status:         r.Event.Status.String(),
		TasksProcessed: int64(r.Event.TasksProcessed),
		Errors:         errs,
		EventTime:      ts.UTC(),
		Source:         r.Source,
		ReceivedAt:     r.ReceivedAt.UTC(),
	}
}
