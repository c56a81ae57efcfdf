package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/jmehdipour/daily-coordinator/internal/credential"
)

// kafka-go has no name for error code 89.
const throttlingQuotaExceeded kafka.Error = 89

// MessageWriter is the subset of *kafka.Writer used by Kafka.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// WriterFactory builds a writer for topic, authenticated with cred when it
// is non-empty.
type WriterFactory func(brokers []string, topic string, cred credential.Credential) (MessageWriter, error)

type saslPlain struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SASLWriter builds a *kafka.Writer; cred, when present, is a JSON document
// {"username": ..., "password": ...} used for SASL/PLAIN.
func SASLWriter(brokers []string, topic string, cred credential.Credential) (MessageWriter, error) {
	tr := &kafka.Transport{DialTimeout: 5 * time.Second}
	if !cred.IsZero() {
		var sp saslPlain
		if err := cred.Decode(&sp); err != nil {
			return nil, err
		}
		tr.SASL = plain.Mechanism{Username: sp.Username, Password: sp.Password}
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Transport:    tr,
		// at most one attempt per publish call
		MaxAttempts: 1,
	}, nil
}

// Kafka writes each event to one topic, keyed by coordinator id, with the
// attributes as record headers.
type Kafka struct {
	brokers []string
	topic   string
	factory WriterFactory

	mu          sync.Mutex
	w           MessageWriter
	fingerprint string
}

func NewKafka(brokers []string, topic string, factory WriterFactory) *Kafka {
	if factory == nil {
		factory = SASLWriter
	}
	return &Kafka{brokers: brokers, topic: topic, factory: factory}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Send(ctx context.Context, cred credential.Credential, msg Message) (string, error) {
	w, err := k.writerFor(cred)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	headers := make([]kafka.Header, 0, len(msg.Attributes)+1)
	headers = append(headers, kafka.Header{Key: "message_id", Value: []byte(id)})
	for key, v := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(v)})
	}

	err = w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.Attributes[AttrCoordinatorID]),
		Value:   msg.Data,
		Headers: headers,
	})
	if err != nil {
		return "", classifyKafka(fmt.Errorf("write to %s: %w", k.topic, err))
	}
	return id, nil
}

func (k *Kafka) writerFor(cred credential.Credential) (MessageWriter, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	fp := cred.Fingerprint()
	if k.w != nil && k.fingerprint == fp {
		return k.w, nil
	}
	if k.w != nil {
		_ = k.w.Close()
		k.w = nil
	}

	w, err := k.factory(k.brokers, k.topic, cred)
	if err != nil {
		return nil, fmt.Errorf("%w: build kafka writer: %v", ErrAuthorization, err)
	}
	k.w, k.fingerprint = w, fp
	return w, nil
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.w == nil {
		return nil
	}
	err := k.w.Close()
	k.w = nil
	return err
}

func classifyKafka(err error) error {
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		for _, we := range werrs {
			if we != nil {
				return classifyKafka(fmt.Errorf("%v: %w", err, we))
			}
		}
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) {
		switch kerr {
		case kafka.TopicAuthorizationFailed,
			kafka.GroupAuthorizationFailed,
			kafka.ClusterAuthorizationFailed,
			kafka.SASLAuthenticationFailed:
			return fmt.Errorf("%w: %v", ErrAuthorization, err)
		case throttlingQuotaExceeded:
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
