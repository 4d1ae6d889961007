// Package sqs implements queue.Queue on Amazon SQS with aws-sdk-go.
package sqs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awssqs "github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/phrazzld/papersum/internal/queue"
)

// maxWaitSeconds is the SQS long-poll ceiling.
const maxWaitSeconds = 20

// Queue is a queue.Queue backed by one SQS queue URL.
type Queue struct {
	client     sqsiface.SQSAPI
	url        string
	visibility time.Duration
}

var _ queue.Queue = (*Queue)(nil)

// New creates a Queue. visibility is applied to every receive.
func New(client sqsiface.SQSAPI, url string, visibility time.Duration) *Queue {
	return &Queue{client: client, url: url, visibility: visibility}
}

// Send enqueues body as the message body.
func (q *Queue) Send(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return queue.ErrEmptyBody
	}

	_, err := q.client.SendMessageWithContext(ctx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to max messages.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Delivery, error) {
	waitSeconds := int64(wait / time.Second)
	if waitSeconds > maxWaitSeconds {
		waitSeconds = maxWaitSeconds
	}

	input := &awssqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: aws.Int64(int64(queue.ClampBatch(max))),
		WaitTimeSeconds:     aws.Int64(waitSeconds),
	}
	if q.visibility > 0 {
		input.VisibilityTimeout = aws.Int64(int64(q.visibility / time.Second))
	}

	out, err := q.client.ReceiveMessageWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	deliveries := make([]queue.Delivery, 0, len(out.Messages))
	for _, msg := range out.Messages {
		deliveries = append(deliveries, queue.Delivery{
			Body:    []byte(aws.StringValue(msg.Body)),
			Receipt: aws.StringValue(msg.ReceiptHandle),
		})
	}
	return deliveries, nil
}

// Delete acknowledges a message by receipt handle.
func (q *Queue) Delete(ctx context.Context, receipt string) error {
	_, err := q.client.DeleteMessageWithContext(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Depth reads the approximate visible and not-visible counts.
func (q *Queue) Depth(ctx context.Context) (queue.Depth, error) {
	out, err := q.client.GetQueueAttributesWithContext(ctx, &awssqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.url),
		AttributeNames: aws.StringSlice([]string{
			awssqs.QueueAttributeNameApproximateNumberOfMessages,
			awssqs.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		}),
	})
	if err != nil {
		return queue.Depth{}, fmt.Errorf("failed to get queue attributes: %w", err)
	}

	visible, err := intAttribute(out.Attributes, awssqs.QueueAttributeNameApproximateNumberOfMessages)
	if err != nil {
		return queue.Depth{}, err
	}
	inFlight, err := intAttribute(out.Attributes, awssqs.QueueAttributeNameApproximateNumberOfMessagesNotVisible)
	if err != nil {
		return queue.Depth{}, err
	}

	return queue.Depth{Visible: visible, InFlight: inFlight}, nil
}

func intAttribute(attrs map[string]*string, name string) (int64, error) {
	raw, ok := attrs[name]
	if !ok || raw == nil {
		return 0, nil
	}
	n, err := strconv.ParseInt(*raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s attribute %q: %w", name, *raw, err)
	}
	return n, nil
}
