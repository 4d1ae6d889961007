// Package s3archive writes finished summaries to S3 as plain text objects.
package s3archive

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Archive stores summaries under a key prefix in one bucket.
type Archive struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// New creates an Archive. An empty prefix uses "summaries".
func New(client s3iface.S3API, bucket, prefix string) *Archive {
	if prefix == "" {
		prefix = "summaries"
	}
	return &Archive{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// ObjectKey builds "{prefix}/{filename}_{taskID}_{timestamp}.txt", where
// filename is the last path segment of the source locator without a .pdf
// extension.
func (a *Archive) ObjectKey(sourceLocator, taskID string, at time.Time) string {
	name := path.Base(sourceLocator)
	if ext := path.Ext(name); strings.EqualFold(ext, ".pdf") {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" || name == "." || name == "/" {
		name = "document"
	}
	return fmt.Sprintf("%s/%s_%s_%s.txt", a.prefix, name, taskID, at.UTC().Format("20060102-150405"))
}

// Put uploads summary and returns the object key.
func (a *Archive) Put(ctx context.Context, sourceLocator, taskID, summary string, at time.Time) (string, error) {
	key := a.ObjectKey(sourceLocator, taskID, at)

	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(summary),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive summary to s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}
