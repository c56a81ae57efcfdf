package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmehdipour/daily-coordinator/internal/credential"
)

// ClientFactory builds a Pub/Sub client authenticated with cred.
type ClientFactory func(ctx context.Context, projectID string, cred credential.Credential) (*pubsub.Client, error)

const defaultTokenTimeout = 10 * time.Second

// ServiceAccountClient authenticates with a service-account key JSON. The
// first access token is fetched here: the client would otherwise retry a
// rejected key as Unavailable until the publish deadline.
func ServiceAccountClient(ctx context.Context, projectID string, cred credential.Credential) (*pubsub.Client, error) {
	if os.Getenv("PUBSUB_EMULATOR_HOST") != "" {
		// the emulator accepts no credentials
		return pubsub.NewClient(ctx, projectID)
	}

	cfg, err := google.JWTConfigFromJSON(cred.Bytes(), pubsub.ScopePubSub)
	if err != nil {
		return nil, fmt.Errorf("%w: parse service account key: %v", ErrAuthorization, err)
	}

	timeout := defaultTokenTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: fetch access token: %v", ErrTransport, context.DeadlineExceeded)
	}

	first := &http.Client{Timeout: timeout}
	tok, err := cfg.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, first)).Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}

	// refreshes happen long after this call's context is gone
	later := &http.Client{Timeout: defaultTokenTimeout}
	refresh := cfg.TokenSource(context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, later))
	return pubsub.NewClient(ctx, projectID, option.WithTokenSource(oauth2.ReuseTokenSource(tok, refresh)))
}

// classifyTokenError maps a token endpoint rejection (expired, revoked or
// disabled key) and signing failures to ErrAuthorization. Failing to reach
// the endpoint at all is a transport error.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return fmt.Errorf("%w: token endpoint rejected key: %v", ErrAuthorization, err)
	}
	// the jwt source flattens HTTP failures into this prefix
	if strings.HasPrefix(err.Error(), "oauth2: cannot fetch token") {
		return fmt.Errorf("%w: fetch access token: %v", ErrTransport, err)
	}
	return fmt.Errorf("%w: sign token request: %v", ErrAuthorization, err)
}

// PubSub publishes to one GCP topic. The client is rebuilt only when the
// credential fingerprint changes.
type PubSub struct {
	projectID string
	topicID   string
	timeout   time.Duration
	factory   ClientFactory

	mu          sync.Mutex
	client      *pubsub.Client
	topic       *pubsub.Topic
	fingerprint string
}

// NewPubSub bounds the client's own publish retries by timeout, so a failed
// publish does not keep Close waiting past it. Zero keeps the library default.
func NewPubSub(projectID, topicID string, timeout time.Duration, factory ClientFactory) *PubSub {
	if factory == nil {
		factory = ServiceAccountClient
	}
	return &PubSub{projectID: projectID, topicID: topicID, timeout: timeout, factory: factory}
}

func (p *PubSub) Name() string { return "pubsub" }

func (p *PubSub) Send(ctx context.Context, cred credential.Credential, msg Message) (string, error) {
	topic, err := p.topicFor(ctx, cred)
	if err != nil {
		return "", err
	}

	res := topic.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	id, err := res.Get(ctx)
	if err != nil {
		return "", classifyGRPC(fmt.Errorf("publish to %s: %w", p.topicID, err))
	}
	return id, nil
}

func (p *PubSub) topicFor(ctx context.Context, cred credential.Credential) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fp := cred.Fingerprint()
	if p.topic != nil && p.fingerprint == fp {
		return p.topic, nil
	}
	p.closeLocked()

	client, err := p.factory(ctx, p.projectID, cred)
	if err != nil {
		if errors.Is(err, ErrAuthorization) || errors.Is(err, ErrTransport) {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		return nil, fmt.Errorf("%w: build pubsub client: %v", ErrAuthorization, err)
	}
	t := client.Topic(p.topicID)
	// single message per invocation; do not hold it back for batching
	t.PublishSettings.CountThreshold = 1
	if p.timeout > 0 {
		t.PublishSettings.Timeout = p.timeout
	}

	p.client, p.topic, p.fingerprint = client, t, fp
	return t, nil
}

func (p *PubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *PubSub) closeLocked() error {
	if p.client == nil {
		return nil
	}
	p.topic.Stop()
	err := p.client.Close()
	p.client, p.topic, p.fingerprint = nil, nil, ""
	return err
}

func classifyGRPC(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	// FromError also matches a status wrapped further down the chain
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %v", ErrAuthorization, err)
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
}
