package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/store"
)

// DefaultKeyAttribute is the partition key attribute name used when none is configured.
const DefaultKeyAttribute = "key"

// timeLayout is fixed width so that string comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// item is the DynamoDB attribute layout of a record. The partition key
// attribute is renamed to the configured name on the way in and out.
type item struct {
	Key             string `dynamodbav:"key"`
	SourceLocator   string `dynamodbav:"source_locator"`
	TaskID          string `dynamodbav:"task_id"`
	Processing      bool   `dynamodbav:"processing"`
	ProcessingError string `dynamodbav:"processing_error"`
	Summary         string `dynamodbav:"summary"`
	DerivedHash     string `dynamodbav:"derived_hash,omitempty"`
	ManualUpload    bool   `dynamodbav:"manual_upload"`
	Request         string `dynamodbav:"request,omitempty"`
	CreatedAt       string `dynamodbav:"created_at,omitempty"`
	UpdatedAt       string `dynamodbav:"updated_at,omitempty"`
}

// RecordStore implements store.RecordStore on a DynamoDB table.
type RecordStore struct {
	client  dynamodbiface.DynamoDBAPI
	table   string
	keyAttr string
	clock   clock.Clock
}

var _ store.RecordStore = (*RecordStore)(nil)

// NewRecordStore creates a RecordStore for table. An empty keyAttr uses
// DefaultKeyAttribute; a nil clock uses wall time.
func NewRecordStore(client dynamodbiface.DynamoDBAPI, table, keyAttr string, clk clock.Clock) *RecordStore {
	if keyAttr == "" {
		keyAttr = DefaultKeyAttribute
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RecordStore{
		client:  client,
		table:   table,
		keyAttr: keyAttr,
		clock:   clk,
	}
}

func (s *RecordStore) now() string {
	return formatTime(s.clock.Now())
}

func (s *RecordStore) keyOf(key string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		s.keyAttr: {S: aws.String(key)},
	}
}

// Get reads a record with strong consistency.
func (s *RecordStore) Get(ctx context.Context, key string) (*domain.Record, error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, store.NewStoreError("get", key, err)
	}
	if len(out.Item) == 0 {
		return nil, store.NewStoreError("get", key, store.ErrNotFound)
	}

	record, err := s.decode(out.Item)
	if err != nil {
		return nil, store.NewStoreError("get", key, err)
	}
	return record, nil
}

// Create puts the record only if no item with the same key exists.
func (s *RecordStore) Create(ctx context.Context, record *domain.Record) error {
	if err := record.Validate(); err != nil {
		return store.NewStoreError("create", record.Key, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err))
	}

	av, err := s.encode(record)
	if err != nil {
		return store.NewStoreError("create", record.Key, err)
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]*string{"#k": aws.String(s.keyAttr)},
	})
	if isConditionFailed(err) {
		return store.NewStoreError("create", record.Key, store.ErrDuplicate)
	}
	if err != nil {
		return store.NewStoreError("create", record.Key, err)
	}
	return nil
}

// Reopen flips a failed record back in flight under a new task ID.
func (s *RecordStore) Reopen(ctx context.Context, key, taskID string) error {
	_, err := s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              s.keyOf(key),
		UpdateExpression: aws.String("SET processing = :t, task_id = :tid, processing_error = :empty, updated_at = :now"),
		ConditionExpression: aws.String(
			"attribute_exists(#k) AND processing = :f AND processing_error <> :empty"),
		ExpressionAttributeNames: map[string]*string{"#k": aws.String(s.keyAttr)},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":t":     {BOOL: aws.Bool(true)},
			":f":     {BOOL: aws.Bool(false)},
			":tid":   {S: aws.String(taskID)},
			":empty": {S: aws.String("")},
			":now":   {S: aws.String(s.now())},
		},
	})
	if err == nil {
		return nil
	}
	if !isConditionFailed(err) {
		return store.NewStoreError("reopen", key, err)
	}

	// The condition failed: tell a missing record from a state conflict.
	if _, getErr := s.Get(ctx, key); errors.Is(getErr, store.ErrNotFound) {
		return store.NewStoreError("reopen", key, store.ErrNotFound)
	}
	return store.NewStoreError("reopen", key, store.ErrConflict)
}

// MarkProcessing upserts the in-flight flag and owning task.
func (s *RecordStore) MarkProcessing(ctx context.Context, key, sourceLocator, taskID string) error {
	now := s.now()
	update := "SET processing = :t, updated_at = :now, " +
		"source_locator = if_not_exists(source_locator, :src), " +
		"created_at = if_not_exists(created_at, :now)"
	values := map[string]*dynamodb.AttributeValue{
		":t":   {BOOL: aws.Bool(true)},
		":now": {S: aws.String(now)},
		":src": {S: aws.String(sourceLocator)},
	}
	if taskID != "" {
		update += ", task_id = :tid"
		values[":tid"] = &dynamodb.AttributeValue{S: aws.String(taskID)}
	}

	_, err := s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.keyOf(key),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return store.NewStoreError("mark_processing", key, err)
	}
	return nil
}

// SetDerivedHash stores the content fingerprint.
func (s *RecordStore) SetDerivedHash(ctx context.Context, key, hash string) error {
	return s.updateExisting(ctx, "set_derived_hash", key,
		"SET derived_hash = :hash, updated_at = :now",
		map[string]*dynamodb.AttributeValue{
			":hash": {S: aws.String(hash)},
		})
}

// Complete stores the summary and ends the attempt successfully.
func (s *RecordStore) Complete(ctx context.Context, key, summary string) error {
	return s.updateExisting(ctx, "complete", key,
		"SET summary = :sum, processing = :f, processing_error = :empty, updated_at = :now",
		map[string]*dynamodb.AttributeValue{
			":sum":   {S: aws.String(summary)},
			":f":     {BOOL: aws.Bool(false)},
			":empty": {S: aws.String("")},
		})
}

// Fail stores the failure detail and ends the attempt.
func (s *RecordStore) Fail(ctx context.Context, key, message string) error {
	return s.updateExisting(ctx, "fail", key,
		"SET processing = :f, processing_error = :err, summary = :empty, updated_at = :now",
		map[string]*dynamodb.AttributeValue{
			":f":     {BOOL: aws.Bool(false)},
			":err":   {S: aws.String(message)},
			":empty": {S: aws.String("")},
		})
}

// Abandon fails the record only while it is in flight under taskID.
func (s *RecordStore) Abandon(ctx context.Context, key, taskID, message string) error {
	_, err := s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              s.keyOf(key),
		UpdateExpression: aws.String("SET processing = :f, processing_error = :err, summary = :empty, updated_at = :now"),
		ConditionExpression: aws.String(
			"attribute_exists(#k) AND processing = :t AND task_id = :tid"),
		ExpressionAttributeNames: map[string]*string{"#k": aws.String(s.keyAttr)},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":t":     {BOOL: aws.Bool(true)},
			":f":     {BOOL: aws.Bool(false)},
			":tid":   {S: aws.String(taskID)},
			":err":   {S: aws.String(message)},
			":empty": {S: aws.String("")},
			":now":   {S: aws.String(s.now())},
		},
	})
	if err == nil {
		return nil
	}
	if !isConditionFailed(err) {
		return store.NewStoreError("abandon", key, err)
	}

	if _, getErr := s.Get(ctx, key); errors.Is(getErr, store.ErrNotFound) {
		return store.NewStoreError("abandon", key, store.ErrNotFound)
	}
	return store.NewStoreError("abandon", key, store.ErrConflict)
}

// ListStale scans for in-flight records last updated before the cutoff.
func (s *RecordStore) ListStale(ctx context.Context, before time.Time) ([]*domain.Record, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("processing = :t AND updated_at < :cutoff"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":t":      {BOOL: aws.Bool(true)},
			":cutoff": {S: aws.String(formatTime(before))},
		},
		ConsistentRead: aws.Bool(true),
	}

	var (
		records []*domain.Record
		decErr  error
	)
	err := s.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, _ bool) bool {
		for _, av := range page.Items {
			record, err := s.decode(av)
			if err != nil {
				decErr = err
				return false
			}
			records = append(records, record)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan stale records: %w", err)
	}
	if decErr != nil {
		return nil, fmt.Errorf("failed to decode stale record: %w", decErr)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})
	return records, nil
}

// updateExisting applies update to an existing item, adding :now to values.
// A missing item yields ErrNotFound instead of an implicit insert.
func (s *RecordStore) updateExisting(
	ctx context.Context,
	operation, key, update string,
	values map[string]*dynamodb.AttributeValue,
) error {
	values[":now"] = &dynamodb.AttributeValue{S: aws.String(s.now())}

	_, err := s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.keyOf(key),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames:  map[string]*string{"#k": aws.String(s.keyAttr)},
		ExpressionAttributeValues: values,
	})
	if isConditionFailed(err) {
		return store.NewStoreError(operation, key, store.ErrNotFound)
	}
	if err != nil {
		return store.NewStoreError(operation, key, err)
	}
	return nil
}

func (s *RecordStore) encode(record *domain.Record) (map[string]*dynamodb.AttributeValue, error) {
	now := s.now()
	createdAt := now
	if !record.CreatedAt.IsZero() {
		createdAt = formatTime(record.CreatedAt)
	}

	av, err := dynamodbattribute.MarshalMap(item{
		Key:             record.Key,
		SourceLocator:   record.SourceLocator,
		TaskID:          record.TaskID,
		Processing:      record.Processing,
		ProcessingError: record.ProcessingError,
		Summary:         record.Summary,
		DerivedHash:     record.DerivedHash,
		ManualUpload:    record.ManualUpload,
		Request:         string(record.Request),
		CreatedAt:       createdAt,
		UpdatedAt:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	if s.keyAttr != DefaultKeyAttribute {
		av[s.keyAttr] = av[DefaultKeyAttribute]
		delete(av, DefaultKeyAttribute)
	}
	return av, nil
}

func (s *RecordStore) decode(av map[string]*dynamodb.AttributeValue) (*domain.Record, error) {
	if s.keyAttr != DefaultKeyAttribute {
		copied := make(map[string]*dynamodb.AttributeValue, len(av))
		for k, v := range av {
			copied[k] = v
		}
		copied[DefaultKeyAttribute] = av[s.keyAttr]
		av = copied
	}

	var it item
	if err := dynamodbattribute.UnmarshalMap(av, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	record := &domain.Record{
		Key:             it.Key,
		SourceLocator:   it.SourceLocator,
		TaskID:          it.TaskID,
		Processing:      it.Processing,
		ProcessingError: it.ProcessingError,
		Summary:         it.Summary,
		DerivedHash:     it.DerivedHash,
		ManualUpload:    it.ManualUpload,
		CreatedAt:       parseTime(it.CreatedAt),
		UpdatedAt:       parseTime(it.UpdatedAt),
	}
	if it.Request != "" {
		record.Request = []byte(it.Request)
	}
	return record, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts the stored layout and plain RFC 3339; anything else is zero.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isConditionFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}
