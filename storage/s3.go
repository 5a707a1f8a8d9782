package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: MinIO, R2, Spaces
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// S3Archiver keeps a copy of every raw upstream page for replay and audits.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "raw"
	}

	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// PageKey is the object key for the page fetched at offset during run runID.
func PageKey(prefix, runID string, offset int) string {
	return fmt.Sprintf("%s/%s/%d.json", prefix, runID, offset)
}

func (a *S3Archiver) ArchivePage(ctx context.Context, runID string, offset int, body []byte) error {
	key := PageKey(a.prefix, runID, offset)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
