// Package blob archives uploaded essay scans in S3-compatible storage.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Options configures the archive. An empty Bucket disables archiving.
type Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Archive stores scans under scans/<user>/<date>/<uuid><ext>.
type S3Archive struct {
	client *s3.Client
	bucket string
	now    func() time.Time
}

// NewS3Archive builds the S3 client. Static credentials and a custom
// endpoint are used when set, so MinIO works as well as AWS.
func NewS3Archive(ctx context.Context, opts Options) (*S3Archive, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return &S3Archive{now: time.Now}, nil
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archive{client: client, bucket: opts.Bucket, now: time.Now}, nil
}

// Enabled reports whether a bucket is configured.
func (a *S3Archive) Enabled() bool {
	return a != nil && a.client != nil
}

// Store uploads the scan and returns its object key. It returns an empty key
// when archiving is disabled.
func (a *S3Archive) Store(ctx context.Context, userID string, body []byte, contentType string) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	key := ObjectKey(userID, a.now(), contentType, uuid.NewString())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put scan: %w", err)
	}
	return key, nil
}

// ObjectKey builds the archive key of a scan.
func ObjectKey(userID string, at time.Time, contentType, id string) string {
	return path.Join("scans", userID, at.UTC().Format("2006-01-02"), id+extension(contentType))
}

// OwnedBy reports whether key is a scan key ObjectKey produced for userID.
func OwnedBy(key, userID string) bool {
	if userID == "" || key == "" || path.Clean(key) != key {
		return false
	}
	return strings.HasPrefix(key, path.Join("scans", userID)+"/")
}

func extension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}
