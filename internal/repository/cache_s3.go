package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jmehdipour/daily-coordinator/internal/model"
)

// CacheRepository stores the per-day cache snapshot.
type CacheRepository interface {
	Upload(ctx context.Context, day time.Time, snap model.CacheSnapshot) (key string, err error)
}

// S3API is the subset of the S3 client we call.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3CacheRepository struct {
	client S3API
	bucket string
	prefix string
}

func NewS3CacheRepository(client S3API, bucket, prefix string) *S3CacheRepository {
	if prefix == "" {
		prefix = "cache"
	}
	return &S3CacheRepository{client: client, bucket: bucket, prefix: prefix}
}

var _ CacheRepository = (*S3CacheRepository)(nil)

// CacheKey is <prefix>/<coordinator_id>/<YYYY-MM-DD>.json.
func CacheKey(prefix, coordinatorID string, day time.Time) string {
	return path.Join(prefix, coordinatorID, day.UTC().Format("2006-01-02")+".json")
}

func (r *S3CacheRepository) Upload(ctx context.Context, day time.Time, snap model.CacheSnapshot) (string, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal cache snapshot: %w", err)
	}
	key := CacheKey(r.prefix, snap.CoordinatorID, day)
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(r.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", err
	}
	return key, nil
}
