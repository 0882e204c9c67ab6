package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/listening-workshop/internal/config"
	"github.com/oszuidwest/listening-workshop/internal/util"
)

const connectionTestTimeout = 30 * time.Second

// ErrNotConfigured is returned when bucket or credentials are missing.
var ErrNotConfigured = errors.New("S3 export is not configured")

// objectStore is the subset of the S3 API used for export.
type objectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

func isConfigured(cfg config.S3Config) bool {
	return util.IsConfigured(cfg.Bucket, cfg.AccessKeyID, cfg.SecretAccessKey)
}

// newS3Client creates an S3 client with static credentials. A custom
// endpoint switches to path-style addressing for S3-compatible stores.
func newS3Client(cfg config.S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

func putObject(ctx context.Context, store objectStore, bucket, key, contentType string, body []byte) error {
	_, err := store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	return err
}

// TestConnection uploads and deletes a probe object in the configured bucket.
func TestConnection(ctx context.Context, cfg config.S3Config) error {
	if !isConfigured(cfg) {
		return ErrNotConfigured
	}
	return testConnection(ctx, newS3Client(cfg), cfg)
}

func testConnection(ctx context.Context, store objectStore, cfg config.S3Config) error {
	ctx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
	defer cancel()

	key := joinKey(cfg.Prefix, fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano()))
	if err := putObject(ctx, store, cfg.Bucket, key, "text/plain", []byte("listening workshop connection test")); err != nil {
		return util.WrapError("upload test object", err)
	}

	_, err := store.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Warn("failed to delete test object", "key", key, "error", err)
	}

	return nil
}
