// Package dynamo implements store.RecordStore on an Amazon DynamoDB table
// using aws-sdk-go. Conditional expressions provide the create-if-absent and
// reopen-if-failed guarantees the enqueue gateway depends on.
package dynamo
