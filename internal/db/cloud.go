package db

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"google.golang.org/api/option"
)

// LoadAWS resolves the default AWS credential chain for region.
func LoadAWS(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// NewFirestoreClient opens the consumer-side Firestore client with
// application default credentials unless opts say otherwise.
func NewFirestoreClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error) {
	if projectID == "" {
		return nil, errors.New("gcp.project_id is required for firestore")
	}
	return firestore.NewClient(ctx, projectID, opts...)
}

// NewPubSubClient opens the consumer-side Pub/Sub client. The publishing side
// builds its own clients from the relay credential.
func NewPubSubClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, errors.New("gcp.project_id is required for pubsub")
	}
	return pubsub.NewClient(ctx, projectID, opts...)
}
