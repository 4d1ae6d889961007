package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message is the queue wire payload. It references a record by key and
// carries the attempt's task ID.
type Message struct {
	Key           string `json:"key"`
	SourceLocator string `json:"source_locator"`
	TaskID        string `json:"task_id"`
	Timestamp     string `json:"timestamp"`
}

// NewMessage builds the message for a new attempt.
func NewMessage(key, sourceLocator, taskID string, now time.Time) Message {
	return Message{
		Key:           key,
		SourceLocator: sourceLocator,
		TaskID:        taskID,
		Timestamp:     now.UTC().Format(time.RFC3339),
	}
}

// Encode serializes the message body.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes a message body and checks the required fields.
// Every failure wraps ErrMalformedInput.
func ParseMessage(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedInput, err)
	}

	msg.Key = strings.TrimSpace(msg.Key)
	msg.SourceLocator = strings.TrimSpace(msg.SourceLocator)

	if msg.Key == "" {
		return Message{}, fmt.Errorf("%w: missing key", ErrMalformedInput)
	}
	if msg.SourceLocator == "" {
		return Message{}, fmt.Errorf("%w: missing source_locator", ErrMalformedInput)
	}

	return msg, nil
}

// Job is a parsed message paired with the receipt used to acknowledge it.
// The receipt is never persisted.
type Job struct {
	Message
	Receipt string
}
