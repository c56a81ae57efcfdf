// Package relay moves one coordinator Event across to the remote topic.
// Delivery is best-effort: every failure comes back as a *PublishError value
// and is logged, and nothing is retried.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/credential"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
	"github.com/jmehdipour/daily-coordinator/internal/metrics"
	"github.com/jmehdipour/daily-coordinator/internal/model"
	"github.com/jmehdipour/daily-coordinator/internal/transport"
)

type Kind string

const (
	KindInvalidEvent          Kind = "invalid_event"
	KindCredentialUnavailable Kind = "credential_unavailable"
	KindTransport             Kind = "transport"
	KindAuthorization         Kind = "authorization"
	KindQuotaExceeded         Kind = "quota_exceeded"
)

// PublishError is the only error type returned by Publish.
type PublishError struct {
	Kind Kind
	Err  error
}

func (e *PublishError) Error() string { return fmt.Sprintf("relay %s: %v", e.Kind, e.Err) }
func (e *PublishError) Unwrap() error { return e.Err }

// KindOf reports the kind of a Publish error, or "" for other errors.
func KindOf(err error) Kind {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// CredentialProvider is satisfied by *credential.Cache.
type CredentialProvider interface {
	Get(ctx context.Context) (credential.Credential, error)
	Invalidate()
}

type Options struct {
	Source  string        // "source" attribute, default "daily-coordinator"
	Timeout time.Duration // per publish, default 10s
	Logger  *zap.Logger
}

type Publisher struct {
	transport transport.Transport
	creds     CredentialProvider
	source    string
	timeout   time.Duration
	log       *zap.Logger
}

// NewPublisher wires a transport and its credential provider. A nil provider
// sends with an empty credential (unauthenticated brokers).
func NewPublisher(t transport.Transport, creds CredentialProvider, opts Options) *Publisher {
	if opts.Source == "" {
		opts.Source = "daily-coordinator"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Log
	}
	return &Publisher{
		transport: t,
		creds:     creds,
		source:    opts.Source,
		timeout:   opts.Timeout,
		log:       opts.Logger,
	}
}

// Attributes builds the filtering attributes sent next to the body.
func Attributes(source string, ev model.Event) map[string]string {
	return map[string]string{
		transport.AttrSource:        source,
		transport.AttrEventType:     ev.Status.String(),
		transport.AttrCoordinatorID: ev.CoordinatorID,
	}
}

// Publish makes one delivery attempt for ev and returns the remote message id.
func (p *Publisher) Publish(ctx context.Context, ev model.Event) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			id = ""
			err = p.fail(ev, KindTransport, fmt.Errorf("%w: panic during publish: %v", transport.ErrTransport, r))
		}
	}()

	if err := ev.Validate(); err != nil {
		return "", p.fail(ev, KindInvalidEvent, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var cred credential.Credential
	if p.creds != nil {
		cred, err = p.creds.Get(ctx)
		if err != nil {
			return "", p.fail(ev, KindCredentialUnavailable, err)
		}
	}

	body, err := model.EncodeEvent(ev)
	if err != nil {
		return "", p.fail(ev, KindInvalidEvent, err)
	}

	id, err = p.transport.Send(ctx, cred, transport.Message{
		Data:       body,
		Attributes: Attributes(p.source, ev),
	})
	if err != nil {
		kind := sendKind(err)
		if kind == KindAuthorization && p.creds != nil {
			p.creds.Invalidate()
		}
		return "", p.fail(ev, kind, err)
	}

	metrics.RelayPublishTotal.WithLabelValues(p.transport.Name(), "published").Inc()
	p.log.Info("relay: event published",
		zap.String("transport", p.transport.Name()),
		zap.String("message_id", id),
		zap.String("coordinator_id", ev.CoordinatorID),
		zap.String("status", ev.Status.String()),
	)
	return id, nil
}

func sendKind(err error) Kind {
	switch {
	case errors.Is(err, transport.ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, transport.ErrQuotaExceeded):
		return KindQuotaExceeded
	default:
		return KindTransport
	}
}

func (p *Publisher) fail(ev model.Event, kind Kind, err error) error {
	metrics.RelayPublishTotal.WithLabelValues(p.transport.Name(), string(kind)).Inc()
	p.log.Warn("relay: publish failed",
		zap.String("transport", p.transport.Name()),
		zap.String("kind", string(kind)),
		zap.String("coordinator_id", ev.CoordinatorID),
		zap.String("status", ev.Status.String()),
		zap.Error(err),
	)
	return &PublishError{Kind: kind, Err: err}
}

// Close releases the transport.
func (p *Publisher) Close() error { return p.transport.Close() }
