package logger_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs/cloudwatchlogsiface"
	"github.com/phrazzld/papersum/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloudWatch struct {
	cloudwatchlogsiface.CloudWatchLogsAPI

	mu       sync.Mutex
	groups   []string
	streams  []string
	puts     []*cloudwatchlogs.PutLogEventsInput
	putErr   error
	groupErr error
}

func (f *fakeCloudWatch) CreateLogGroupWithContext(
	_ aws.Context, in *cloudwatchlogs.CreateLogGroupInput, _ ...request.Option,
) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, aws.StringValue(in.LogGroupName))
	return &cloudwatchlogs.CreateLogGroupOutput{}, f.groupErr
}

func (f *fakeCloudWatch) CreateLogStreamWithContext(
	_ aws.Context, in *cloudwatchlogs.CreateLogStreamInput, _ ...request.Option,
) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, aws.StringValue(in.LogStreamName))
	return &cloudwatchlogs.CreateLogStreamOutput{}, nil
}

func (f *fakeCloudWatch) PutLogEventsWithContext(
	_ aws.Context, in *cloudwatchlogs.PutLogEventsInput, _ ...request.Option,
) (*cloudwatchlogs.PutLogEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.puts = append(f.puts, in)
	return &cloudwatchlogs.PutLogEventsOutput{}, nil
}

func TestCloudWatchWriter_FlushShipsEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := &fakeCloudWatch{}
	w, err := logger.NewCloudWatchWriter(ctx, fake, "/ec2/papersum", "node-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"/ec2/papersum"}, fake.groups)
	assert.Equal(t, []string{"node-1"}, fake.streams)

	log := slog.New(logger.NewJSONHandler(w, slog.LevelInfo))
	log.Info("first")
	log.Info("second")

	require.NoError(t, w.Flush(ctx))
	require.Len(t, fake.puts, 1)
	put := fake.puts[0]
	assert.Equal(t, "/ec2/papersum", aws.StringValue(put.LogGroupName))
	assert.Equal(t, "node-1", aws.StringValue(put.LogStreamName))
	require.Len(t, put.LogEvents, 2)
	assert.Contains(t, aws.StringValue(put.LogEvents[0].Message), `"msg":"first"`)
	assert.NotContains(t, aws.StringValue(put.LogEvents[0].Message), "\n")

	// Nothing buffered: no call.
	require.NoError(t, w.Flush(ctx))
	assert.Len(t, fake.puts, 1)
}

func TestCloudWatchWriter_ExistingGroupIsFine(t *testing.T) {
	t.Parallel()

	fake := &fakeCloudWatch{
		groupErr: awserr.New(cloudwatchlogs.ErrCodeResourceAlreadyExistsException, "exists", nil),
	}
	_, err := logger.NewCloudWatchWriter(context.Background(), fake, "g", "s", 0)
	assert.NoError(t, err)
}

func TestCloudWatchWriter_ErrorsSurface(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := &fakeCloudWatch{groupErr: errors.New("access denied")}
	_, err := logger.NewCloudWatchWriter(ctx, fake, "g", "s", 0)
	assert.Error(t, err)

	_, err = logger.NewCloudWatchWriter(ctx, &fakeCloudWatch{}, "", "s", 0)
	assert.Error(t, err)

	failing := &fakeCloudWatch{putErr: errors.New("throttled")}
	w, err := logger.NewCloudWatchWriter(ctx, failing, "g", "s", 0)
	require.NoError(t, err)
	_, _ = w.Write([]byte("line\n"))
	assert.Error(t, w.Flush(ctx))
}

func TestCloudWatchWriter_CloseFlushes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fake := &fakeCloudWatch{}
	w, err := logger.NewCloudWatchWriter(ctx, fake, "g", "s", 0)
	require.NoError(t, err)

	_, _ = w.Write([]byte("pending line\n"))
	require.NoError(t, w.Close(ctx))
	require.Len(t, fake.puts, 1)
	assert.Equal(t, "pending line", aws.StringValue(fake.puts[0].LogEvents[0].Message))
}
