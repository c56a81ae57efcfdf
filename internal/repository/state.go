package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jmehdipour/daily-coordinator/internal/model"
)

// StateRepository persists one coordinator state row per save.
type StateRepository interface {
	Save(ctx context.Context, st model.CoordinatorState) error
}

// StateRecord is the stored row. Timestamp is epoch milliseconds (numeric
// sort key); UpdatedAt is the ISO-8601 rendering of the same instant.
type StateRecord struct {
	CoordinatorID string `dynamodbav:"coordinator_id" db:"coordinator_id"`
	Timestamp     int64  `dynamodbav:"timestamp"      db:"timestamp_ms"`
	RunID         string `dynamodbav:"run_id"         db:"run_id"`
	Status        string `dynamodbav:"status"         db:"status"`
	Data          string `dynamodbav:"data"           db:"data"`
	UpdatedAt     string `dynamodbav:"updated_at"     db:"updated_at"`
}

// NewStateRecord converts a state into its stored form.
func NewStateRecord(st model.CoordinatorState) (StateRecord, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return StateRecord{}, fmt.Errorf("marshal state: %w", err)
	}
	at := st.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	return StateRecord{
		CoordinatorID: st.CoordinatorID,
		Timestamp:     at.UnixMilli(),
		RunID:         st.RunID,
		Status:        st.Status.String(),
		Data:          string(data),
		UpdatedAt:     at.Format(time.RFC3339Nano),
	}, nil
}

// DynamoDBAPI is the subset of the DynamoDB client we call.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type DynamoStateRepository struct {
	client DynamoDBAPI
	table  string
}

func NewDynamoStateRepository(client DynamoDBAPI, table string) *DynamoStateRepository {
	return &DynamoStateRepository{client: client, table: table}
}

var _ StateRepository = (*DynamoStateRepository)(nil)

func (r *DynamoStateRepository) Save(ctx context.Context, st model.CoordinatorState) error {
	rec, err := NewStateRecord(st)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal state item: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	})
	return err
}
