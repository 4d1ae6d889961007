package dynamo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/phrazzld/papersum/internal/clock"
	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/platform/dynamo"
	"github.com/phrazzld/papersum/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo records requests and returns programmed responses.
type fakeDynamo struct {
	dynamodbiface.DynamoDBAPI

	GetItemFn    func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	PutItemFn    func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	UpdateItemFn func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	ScanOutputs  []*dynamodb.ScanOutput

	puts    []*dynamodb.PutItemInput
	updates []*dynamodb.UpdateItemInput
	scans   []*dynamodb.ScanInput
}

func (f *fakeDynamo) GetItemWithContext(
	_ aws.Context, in *dynamodb.GetItemInput, _ ...request.Option,
) (*dynamodb.GetItemOutput, error) {
	if f.GetItemFn == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.GetItemFn(in)
}

func (f *fakeDynamo) PutItemWithContext(
	_ aws.Context, in *dynamodb.PutItemInput, _ ...request.Option,
) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	if f.PutItemFn == nil {
		return &dynamodb.PutItemOutput{}, nil
	}
	return f.PutItemFn(in)
}

func (f *fakeDynamo) UpdateItemWithContext(
	_ aws.Context, in *dynamodb.UpdateItemInput, _ ...request.Option,
) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	if f.UpdateItemFn == nil {
		return &dynamodb.UpdateItemOutput{}, nil
	}
	return f.UpdateItemFn(in)
}

func (f *fakeDynamo) ScanPagesWithContext(
	_ aws.Context, in *dynamodb.ScanInput, fn func(*dynamodb.ScanOutput, bool) bool, _ ...request.Option,
) error {
	f.scans = append(f.scans, in)
	for i, page := range f.ScanOutputs {
		if !fn(page, i == len(f.ScanOutputs)-1) {
			break
		}
	}
	return nil
}

var conditionFailed = awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "condition failed", nil)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(client *fakeDynamo) *dynamo.RecordStore {
	return dynamo.NewRecordStore(client, "PaperSummaries", "arxiv_id", clock.NewFake(testNow))
}

func storedItem(key string, processing bool, processingError string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"arxiv_id":         {S: aws.String(key)},
		"source_locator":   {S: aws.String("https://arxiv.org/pdf/" + key)},
		"task_id":          {S: aws.String("task-1")},
		"processing":       {BOOL: aws.Bool(processing)},
		"processing_error": {S: aws.String(processingError)},
		"summary":          {S: aws.String("")},
		"manual_upload":    {BOOL: aws.Bool(false)},
		"request":          {S: aws.String(`{"key":"` + key + `"}`)},
		"created_at":       {S: aws.String("2025-03-01T11:00:00.000000000Z")},
		"updated_at":       {S: aws.String("2025-03-01T11:30:00.000000000Z")},
	}
}

func TestRecordStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("conditional put under configured key attribute", func(t *testing.T) {
		client := &fakeDynamo{}
		s := newStore(client)

		record, err := domain.NewRecord("2401.00001", "https://arxiv.org/pdf/2401.00001", "task-1", []byte(`{}`), testNow)
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, record))

		require.Len(t, client.puts, 1)
		put := client.puts[0]
		assert.Equal(t, "PaperSummaries", aws.StringValue(put.TableName))
		assert.Equal(t, "attribute_not_exists(#k)", aws.StringValue(put.ConditionExpression))
		assert.Equal(t, "arxiv_id", aws.StringValue(put.ExpressionAttributeNames["#k"]))
		assert.Equal(t, "2401.00001", aws.StringValue(put.Item["arxiv_id"].S))
		assert.NotContains(t, put.Item, "key")
		assert.True(t, aws.BoolValue(put.Item["processing"].BOOL))
		assert.Equal(t, "2025-03-01T12:00:00.000000000Z", aws.StringValue(put.Item["updated_at"].S))
	})

	t.Run("condition failure is a duplicate", func(t *testing.T) {
		client := &fakeDynamo{
			PutItemFn: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
				return nil, conditionFailed
			},
		}
		record, err := domain.NewRecord("k", "https://x/k.pdf", "t", nil, testNow)
		require.NoError(t, err)

		err = newStore(client).Create(ctx, record)
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("invalid record is rejected before the call", func(t *testing.T) {
		client := &fakeDynamo{}
		err := newStore(client).Create(ctx, &domain.Record{Key: "k"})
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.Empty(t, client.puts)
	})
}

func TestRecordStore_Get(t *testing.T) {
	ctx := context.Background()

	client := &fakeDynamo{
		GetItemFn: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			assert.True(t, aws.BoolValue(in.ConsistentRead))
			if aws.StringValue(in.Key["arxiv_id"].S) == "known" {
				return &dynamodb.GetItemOutput{Item: storedItem("known", false, "boom")}, nil
			}
			return &dynamodb.GetItemOutput{}, nil
		},
	}
	s := newStore(client)

	record, err := s.Get(ctx, "known")
	require.NoError(t, err)
	assert.Equal(t, "known", record.Key)
	assert.Equal(t, domain.RecordStateFailed, record.State())
	assert.JSONEq(t, `{"key":"known"}`, string(record.Request))
	assert.Equal(t, time.Date(2025, 3, 1, 11, 30, 0, 0, time.UTC), record.UpdatedAt)

	_, err = s.Get(ctx, "unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordStore_Reopen(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		client := &fakeDynamo{}
		require.NoError(t, newStore(client).Reopen(ctx, "k", "task-2"))

		require.Len(t, client.updates, 1)
		update := client.updates[0]
		assert.Contains(t, aws.StringValue(update.ConditionExpression), "processing = :f")
		assert.Contains(t, aws.StringValue(update.ConditionExpression), "processing_error <> :empty")
		assert.Equal(t, "task-2", aws.StringValue(update.ExpressionAttributeValues[":tid"].S))
	})

	t.Run("condition failure on existing record is a conflict", func(t *testing.T) {
		client := &fakeDynamo{
			UpdateItemFn: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
				return nil, conditionFailed
			},
			GetItemFn: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
				return &dynamodb.GetItemOutput{Item: storedItem("k", true, "")}, nil
			},
		}
		assert.ErrorIs(t, newStore(client).Reopen(ctx, "k", "task-2"), store.ErrConflict)
	})

	t.Run("condition failure on missing record is not found", func(t *testing.T) {
		client := &fakeDynamo{
			UpdateItemFn: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
				return nil, conditionFailed
			},
		}
		assert.ErrorIs(t, newStore(client).Reopen(ctx, "k", "task-2"), store.ErrNotFound)
	})
}

func TestRecordStore_Abandon(t *testing.T) {
	ctx := context.Background()

	t.Run("conditional on the owning task", func(t *testing.T) {
		client := &fakeDynamo{}
		require.NoError(t, newStore(client).Abandon(ctx, "k", "task-1", "attempt abandoned"))

		require.Len(t, client.updates, 1)
		update := client.updates[0]
		assert.Contains(t, aws.StringValue(update.ConditionExpression), "processing = :t")
		assert.Contains(t, aws.StringValue(update.ConditionExpression), "task_id = :tid")
		assert.Equal(t, "task-1", aws.StringValue(update.ExpressionAttributeValues[":tid"].S))
		assert.Contains(t, aws.StringValue(update.UpdateExpression), "summary = :empty")
	})

	t.Run("finished record is a conflict", func(t *testing.T) {
		client := &fakeDynamo{
			UpdateItemFn: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
				return nil, conditionFailed
			},
			GetItemFn: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
				return &dynamodb.GetItemOutput{Item: storedItem("k", false, "")}, nil
			},
		}
		assert.ErrorIs(t, newStore(client).Abandon(ctx, "k", "task-1", "x"), store.ErrConflict)
	})

	t.Run("missing record", func(t *testing.T) {
		client := &fakeDynamo{
			UpdateItemFn: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
				return nil, conditionFailed
			},
		}
		assert.ErrorIs(t, newStore(client).Abandon(ctx, "k", "task-1", "x"), store.ErrNotFound)
	})
}

func TestRecordStore_TerminalWrites(t *testing.T) {
	ctx := context.Background()

	client := &fakeDynamo{}
	s := newStore(client)

	require.NoError(t, s.Complete(ctx, "k", "a summary"))
	require.NoError(t, s.Fail(ctx, "k", "extraction failed"))
	require.NoError(t, s.SetDerivedHash(ctx, "k", "abc"))
	require.Len(t, client.updates, 3)

	complete := client.updates[0]
	assert.Equal(t, "attribute_exists(#k)", aws.StringValue(complete.ConditionExpression))
	assert.Equal(t, "a summary", aws.StringValue(complete.ExpressionAttributeValues[":sum"].S))
	assert.False(t, aws.BoolValue(complete.ExpressionAttributeValues[":f"].BOOL))
	assert.Contains(t, aws.StringValue(complete.UpdateExpression), "processing_error = :empty")

	fail := client.updates[1]
	assert.Equal(t, "extraction failed", aws.StringValue(fail.ExpressionAttributeValues[":err"].S))
	assert.Contains(t, aws.StringValue(fail.UpdateExpression), "summary = :empty")
	assert.Equal(t, "", aws.StringValue(fail.ExpressionAttributeValues[":empty"].S))

	missing := &fakeDynamo{
		UpdateItemFn: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, conditionFailed
		},
	}
	assert.ErrorIs(t, newStore(missing).Complete(ctx, "k", "x"), store.ErrNotFound)

	broken := &fakeDynamo{
		UpdateItemFn: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	err := newStore(broken).Fail(ctx, "k", "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestRecordStore_MarkProcessingUpserts(t *testing.T) {
	ctx := context.Background()

	client := &fakeDynamo{}
	s := newStore(client)

	require.NoError(t, s.MarkProcessing(ctx, "k", "https://x/k.pdf", "task-1"))
	require.NoError(t, s.MarkProcessing(ctx, "k", "https://x/k.pdf", ""))
	require.Len(t, client.updates, 2)

	withTask := client.updates[0]
	assert.Nil(t, withTask.ConditionExpression)
	assert.Contains(t, aws.StringValue(withTask.UpdateExpression), "task_id = :tid")
	assert.Contains(t, aws.StringValue(withTask.UpdateExpression), "if_not_exists(source_locator, :src)")

	withoutTask := client.updates[1]
	assert.NotContains(t, aws.StringValue(withoutTask.UpdateExpression), "task_id")
	assert.NotContains(t, withoutTask.ExpressionAttributeValues, ":tid")
}

func TestRecordStore_ListStale(t *testing.T) {
	ctx := context.Background()

	newer := storedItem("newer", true, "")
	newer["updated_at"] = &dynamodb.AttributeValue{S: aws.String("2025-03-01T11:45:00.000000000Z")}

	client := &fakeDynamo{
		ScanOutputs: []*dynamodb.ScanOutput{
			{Items: []map[string]*dynamodb.AttributeValue{newer}},
			{Items: []map[string]*dynamodb.AttributeValue{storedItem("older", true, "")}},
		},
	}

	records, err := newStore(client).ListStale(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "older", records[0].Key)
	assert.Equal(t, "newer", records[1].Key)

	require.Len(t, client.scans, 1)
	assert.Equal(t, "2025-03-01T12:00:00.000000000Z",
		aws.StringValue(client.scans[0].ExpressionAttributeValues[":cutoff"].S))
}
