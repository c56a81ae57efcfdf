// Package app builds the coordinator and its collaborators from configuration.
// The CLI commands and the Lambda handlers share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/config"
	"github.com/jmehdipour/daily-coordinator/internal/coordinator"
	"github.com/jmehdipour/daily-coordinator/internal/credential"
	"github.com/jmehdipour/daily-coordinator/internal/db"
	"github.com/jmehdipour/daily-coordinator/internal/dispatcher"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
	"github.com/jmehdipour/daily-coordinator/internal/relay"
	"github.com/jmehdipour/daily-coordinator/internal/repository"
	"github.com/jmehdipour/daily-coordinator/internal/transport"
)

// AWS holds the service clients built from one aws.Config.
type AWS struct {
	Secrets  *secretsmanager.Client
	DynamoDB *dynamodb.Client
	S3       *s3.Client
	SNS      *sns.Client
}

func NewAWS(ctx context.Context, cfg config.Config) (*AWS, error) {
	ac, err := db.LoadAWS(ctx, cfg.AWS.Region)
	if err != nil {
		return nil, err
	}
	return &AWS{
		Secrets:  secretsmanager.NewFromConfig(ac),
		DynamoDB: dynamodb.NewFromConfig(ac),
		S3:       s3.NewFromConfig(ac),
		SNS:      sns.NewFromConfig(ac),
	}, nil
}

// NewPublisher returns nil when relaying is disabled.
func NewPublisher(cfg config.Config, secrets credential.SecretsManagerAPI) (*relay.Publisher, error) {
	if !cfg.Relay.Enabled {
		return nil, nil
	}

	var (
		t     transport.Transport
		creds relay.CredentialProvider
	)
	if cfg.Credential.SecretName != "" {
		creds = credential.NewCache(credential.NewSecretsManagerSource(secrets, cfg.Credential.SecretName), cfg.Credential.TTL)
	}

	switch cfg.Relay.Transport {
	case "pubsub":
		t = transport.NewPubSub(cfg.GCP.ProjectID, cfg.Relay.Topic, cfg.Relay.PublishTimeout, transport.ServiceAccountClient)
	case "kafka":
		t = transport.NewKafka(cfg.Kafka.Brokers, cfg.Relay.Topic, transport.SASLWriter)
	default:
		return nil, fmt.Errorf("unknown relay.transport %q", cfg.Relay.Transport)
	}

	return relay.NewPublisher(t, creds, relay.Options{
		Source:  cfg.Relay.Source,
		Timeout: cfg.Relay.PublishTimeout,
	}), nil
}

// NewStateRepository picks the state backend; mysqlDB is only used for
// state.backend=mysql.
func NewStateRepository(cfg config.Config, aws *AWS, mysqlDB *sqlx.DB) (repository.StateRepository, error) {
	switch cfg.State.Backend {
	case "", "dynamodb":
		return repository.NewDynamoStateRepository(aws.DynamoDB, cfg.State.Table), nil
	case "mysql":
		if mysqlDB == nil {
			return nil, fmt.Errorf("state.backend=mysql needs a mysql connection")
		}
		return repository.NewMySQLStateRepository(mysqlDB), nil
	default:
		return nil, fmt.Errorf("unknown state.backend %q", cfg.State.Backend)
	}
}

// NewSlackChannel returns nil when no webhook secret is configured.
func NewSlackChannel(cfg config.SlackConfig, secrets credential.SecretsManagerAPI, ttl time.Duration) *dispatcher.SlackChannel {
	if cfg.SecretName == "" {
		return nil
	}
	webhook := credential.NewCache(credential.NewSecretsManagerSource(secrets, cfg.SecretName, cfg.SecretKey, "webhook_url"), ttl)
	return dispatcher.NewSlackChannel(webhook, dispatcher.SlackOptions{
		Channel:   cfg.Channel,
		Username:  cfg.Username,
		IconEmoji: cfg.IconEmoji,
		Prefix:    cfg.Prefix,
		Timeout:   time.Duration(cfg.TimeoutMs) * time.Millisecond,
	})
}

// NewWhatsAppChannel returns nil when Twilio is not configured.
func NewWhatsAppChannel(cfg config.WhatsAppConfig, secrets credential.SecretsManagerAPI, ttl time.Duration) *dispatcher.WhatsAppChannel {
	if cfg.SecretName == "" {
		return nil
	}
	twilio := credential.NewCache(credential.NewSecretsManagerSource(secrets, cfg.SecretName), ttl)
	return dispatcher.NewWhatsAppChannel(twilio, dispatcher.TwilioClient, cfg.From, cfg.To)
}

// NewDispatcher wires every configured alert channel.
func NewDispatcher(cfg config.Config, aws *AWS) *dispatcher.Dispatcher {
	var chans []dispatcher.Channel
	if cfg.Alerts.SNSTopicARN != "" {
		chans = append(chans, dispatcher.NewSNSChannel(aws.SNS, cfg.Alerts.SNSTopicARN))
	}
	if ch := NewSlackChannel(cfg.Alerts.Slack, aws.Secrets, cfg.Credential.TTL); ch != nil {
		chans = append(chans, ch)
	}
	if ch := NewWhatsAppChannel(cfg.Alerts.WhatsApp, aws.Secrets, cfg.Credential.TTL); ch != nil && ch.Configured() {
		chans = append(chans, ch)
	}
	return dispatcher.NewDispatcher(
		cfg.Alerts.Breaker.FailThreshold,
		time.Duration(cfg.Alerts.Breaker.OpenForMs)*time.Millisecond,
		chans...,
	)
}

// Coordinator is a fully wired coordinator plus what must be released after use.
type Coordinator struct {
	*coordinator.Coordinator
	publisher *relay.Publisher
	mysql     *sqlx.DB
}

func (c *Coordinator) Close() error {
	if c.publisher != nil {
		_ = c.publisher.Close()
	}
	if c.mysql != nil {
		return c.mysql.Close()
	}
	return nil
}

// NewCoordinator builds the coordinator from cfg.
func NewCoordinator(ctx context.Context, cfg config.Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	aws, err := NewAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}

	out := &Coordinator{}
	if cfg.State.Backend == "mysql" {
		out.mysql, err = db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return nil, fmt.Errorf("mysql connect: %w", err)
		}
	}
	state, err := NewStateRepository(cfg, aws, out.mysql)
	if err != nil {
		_ = out.Close()
		return nil, err
	}

	out.publisher, err = NewPublisher(cfg, aws.Secrets)
	if err != nil {
		_ = out.Close()
		return nil, err
	}

	deps := coordinator.Deps{
		State:  state,
		Cache:  repository.NewS3CacheRepository(aws.S3, cfg.Cache.Bucket, cfg.Cache.Prefix),
		Alerts: NewDispatcher(cfg, aws),
	}
	if cfg.Coordinator.AppSecretName != "" {
		deps.Secrets = credential.NewSecretsManagerSource(aws.Secrets, cfg.Coordinator.AppSecretName)
	}
	if out.publisher != nil {
		deps.Relay = out.publisher
	}

	out.Coordinator = coordinator.New(deps, coordinator.Options{
		ID:           cfg.Coordinator.ID,
		TasksCount:   cfg.Coordinator.TasksCount,
		CacheEntries: cfg.Coordinator.CacheEntries,
	})

	logger.Log.Info("coordinator wired",
		zap.String("coordinator_id", cfg.Coordinator.ID),
		zap.String("state_backend", cfg.State.Backend),
		zap.Bool("relay", out.publisher != nil),
		zap.String("transport", cfg.Relay.Transport),
	)
	return out, nil
}
