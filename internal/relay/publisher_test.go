package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jmehdipour/daily-coordinator/internal/credential"
	"github.com/jmehdipour/daily-coordinator/internal/model"
	"github.com/jmehdipour/daily-coordinator/internal/transport"
)

const expiredKey = `{"type":"service_account","private_key":"EXPIRED-KEY-MATERIAL"}`

type stubTransport struct {
	sendFn func(ctx context.Context, cred credential.Credential, msg transport.Message) (string, error)
	calls  int
	last   transport.Message
	cred   credential.Credential
}

func (s *stubTransport) Name() string { return "stub" }
func (s *stubTransport) Close() error { return nil }

func (s *stubTransport) Send(ctx context.Context, cred credential.Credential, msg transport.Message) (string, error) {
	s.calls++
	s.last = msg
	s.cred = cred
	return s.sendFn(ctx, cred, msg)
}

type stubCreds struct {
	cred        credential.Credential
	err         error
	invalidated int
}

func (s *stubCreds) Get(ctx context.Context) (credential.Credential, error) { return s.cred, s.err }
func (s *stubCreds) Invalidate()                                             { s.invalidated++ }

func successEvent(t *testing.T) model.Event {
	t.Helper()
	e, err := model.NewEvent("daily-coordinator-001", time.Date(2025, 11, 18, 10, 0, 0, 0, time.UTC), model.EventSuccess, 3, nil)
	require.NoError(t, err)
	return e
}

func newObserved(tr transport.Transport, creds CredentialProvider) (*Publisher, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewPublisher(tr, creds, Options{Logger: zap.New(core)}), logs
}

func TestPublish_SuccessScenario(t *testing.T) {
	tr := &stubTransport{sendFn: func(context.Context, credential.Credential, transport.Message) (string, error) {
		return "msg-1", nil
	}}
	creds := &stubCreds{cred: credential.New([]byte(`{"type":"service_account"}`))}
	p, _ := newObserved(tr, creds)

	id, err := p.Publish(context.Background(), successEvent(t))
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, creds.cred.Fingerprint(), tr.cred.Fingerprint())

	var body map[string]any
	require.NoError(t, json.Unmarshal(tr.last.Data, &body))
	assert.Equal(t, map[string]any{
		"coordinator_id":  "daily-coordinator-001",
		"timestamp":       "2025-11-18T10:00:00Z",
		"status":          "success",
		"tasks_processed": float64(3),
		"errors":          []any{},
	}, body)
	assert.Equal(t, map[string]string{
		"source":         "daily-coordinator",
		"event_type":     "success",
		"coordinator_id": "daily-coordinator-001",
	}, tr.last.Attributes)
}

func TestPublish_AlwaysFailingTransportReturnsError(t *testing.T) {
	tr := &stubTransport{sendFn: func(context.Context, credential.Credential, transport.Message) (string, error) {
		return "", fmt.Errorf("%w: connection reset", transport.ErrTransport)
	}}
	p, _ := newObserved(tr, &stubCreds{cred: credential.New([]byte("k"))})
	ev := successEvent(t)

	for i := 0; i < 100; i++ {
		id, err := p.Publish(context.Background(), ev)
		require.Error(t, err)
		assert.Empty(t, id)
		assert.Equal(t, KindTransport, KindOf(err))
	}
	assert.Equal(t, 100, tr.calls, "exactly one attempt per call")
}

func TestPublish_CredentialUnavailable(t *testing.T) {
	tr := &stubTransport{sendFn: func(context.Context, credential.Credential, transport.Message) (string, error) {
		t.Fatal("transport must not be called without a credential")
		return "", nil
	}}
	creds := &stubCreds{err: fmt.Errorf("%w: secret %q not found", credential.ErrUnavailable, "gcp/pubsub")}
	p, logs := newObserved(tr, creds)

	_, err := p.Publish(context.Background(), successEvent(t))
	require.Error(t, err)
	assert.Equal(t, KindCredentialUnavailable, KindOf(err))
	assert.ErrorIs(t, err, credential.ErrUnavailable)
	assert.Equal(t, 1, logs.FilterMessage("relay: publish failed").Len())
}

func TestPublish_AuthorizationWithExpiredCredential(t *testing.T) {
	tr := &stubTransport{sendFn: func(_ context.Context, cred credential.Credential, _ transport.Message) (string, error) {
		return "", fmt.Errorf("%w: rpc error: code = Unauthenticated desc = invalid JWT signature", transport.ErrAuthorization)
	}}
	creds := &stubCreds{cred: credential.New([]byte(expiredKey))}
	p, logs := newObserved(tr, creds)

	_, err := p.Publish(context.Background(), successEvent(t))
	require.Error(t, err)
	assert.Equal(t, KindAuthorization, KindOf(err))
	assert.ErrorIs(t, err, transport.ErrAuthorization)
	assert.Equal(t, 1, creds.invalidated)

	entries := logs.FilterMessage("relay: publish failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "authorization", fields["kind"])
	assert.Equal(t, "daily-coordinator-001", fields["coordinator_id"])

	for _, e := range logs.All() {
		assert.NotContains(t, fmt.Sprint(e.ContextMap()), "EXPIRED-KEY-MATERIAL")
	}
	assert.NotContains(t, err.Error(), "EXPIRED-KEY-MATERIAL")
}

func TestPublish_QuotaExceeded(t *testing.T) {
	tr := &stubTransport{sendFn: func(context.Context, credential.Credential, transport.Message) (string, error) {
		return "", fmt.Errorf("%w: throttled", transport.ErrQuotaExceeded)
	}}
	creds := &stubCreds{cred: credential.New([]byte("k"))}
	p, _ := newObserved(tr, creds)

	_, err := p.Publish(context.Background(), successEvent(t))
	assert.Equal(t, KindQuotaExceeded, KindOf(err))
	assert.Zero(t, creds.invalidated)
}

func TestPublish_RejectsInvalidEvent(t *testing.T) {
	tr := &stubTransport{sendFn: func(context.Context, credential.Credential, transport.Message) (string, error) {
		return "id", nil
	}}
	p, _ := newObserved(tr, nil)

	bad := model.Event{CoordinatorID: "c", Timestamp: "2025-11-18T10:00:00Z", Status: model.EventFailed}
	_, err := p.Publish(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, KindInvalidEvent, KindOf(err))
	assert.ErrorIs(t, err, model.ErrInvalidEvent)
	assert.Zero(t, tr.calls)
}

func TestPublish_RecoversTransportPanic(t *testing.T) {
	tr := &stubTransport{sendFn: func(context.Context, credential.Credential, transport.Message) (string, error) {
		panic("nil topic")
	}}
	p, _ := newObserved(tr, nil)

	var err error
	assert.NotPanics(t, func() {
		_, err = p.Publish(context.Background(), successEvent(t))
	})
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestPublish_FailsFastOnTimeout(t *testing.T) {
	tr := &stubTransport{sendFn: func(ctx context.Context, _ credential.Credential, _ transport.Message) (string, error) {
		<-ctx.Done()
		return "", fmt.Errorf("%w: %v", transport.ErrTransport, ctx.Err())
	}}
	core, _ := observer.New(zap.DebugLevel)
	p := NewPublisher(tr, nil, Options{Timeout: 20 * time.Millisecond, Logger: zap.New(core)})

	start := time.Now()
	_, err := p.Publish(context.Background(), successEvent(t))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestKindOf_ForeignError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("x")))
}
