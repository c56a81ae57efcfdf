// Package transport hands serialized events to a remote messaging primitive.
package transport

import (
	"context"
	"errors"

	"github.com/jmehdipour/daily-coordinator/internal/credential"
)

// Every Send failure wraps exactly one of these.
var (
	ErrTransport     = errors.New("transport error")
	ErrAuthorization = errors.New("authorization error")
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// Attribute keys carried next to the body for downstream filtering.
const (
	AttrSource        = "source"
	AttrEventType     = "event_type"
	AttrCoordinatorID = "coordinator_id"
)

// Message is one wire body plus its string attributes.
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// Transport performs a single delivery attempt.
type Transport interface {
	Name() string
	Send(ctx context.Context, cred credential.Credential, msg Message) (string, error)
	Close() error
}
