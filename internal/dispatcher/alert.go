package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmehdipour/daily-coordinator/internal/model"
)

const (
	SubjectSuccess = "Daily Coordinator - Success"
	SubjectPartial = "Daily Coordinator - Partial Success"
	SubjectFailed  = "Daily Coordinator - Failed"
)

// Alert is one run notification fanned out to every channel.
type Alert struct {
	Subject string
	Message string
	Event   model.Event
}

// Channel delivers alerts to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// NewRunAlert builds the notification for a finished run. cause is the
// unexpected failure that aborted the run, if any.
func NewRunAlert(ev model.Event, cause string) Alert {
	a := Alert{Event: ev}
	switch {
	case ev.Status == model.EventFailed:
		a.Subject = SubjectFailed
		if cause == "" && len(ev.Errors) > 0 {
			cause = ev.Errors[len(ev.Errors)-1]
		}
		a.Message = "Error: " + cause
	case len(ev.Errors) > 0:
		a.Subject = SubjectPartial
		a.Message = fmt.Sprintf("Daily Coordinator completed with %d errors:\n%s",
			len(ev.Errors), strings.Join(ev.Errors, "\n"))
	default:
		a.Subject = SubjectSuccess
		a.Message = "Daily coordination completed successfully at " + ev.Timestamp
	}
	return a
}
