package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/allureboard/pkg/config"
)

// Compile-time interface check.
var _ Reader = (*s3Reader)(nil)

type s3Reader struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Reader creates a Reader backed by S3-compatible storage.
func NewS3Reader(
	cfg *config.StorageConfig, creds config.S3Credentials,
) Reader {
	return &s3Reader{
		client: NewS3Client(&cfg.S3, creds),
		bucket: cfg.S3.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}
}

// ListRunIDs lists run IDs (common prefixes) under {prefix}/.
func (r *s3Reader) ListRunIDs(ctx context.Context) ([]string, error) {
	prefix := r.prefix + "/"
	if r.prefix == "" {
		prefix = ""
	}

	paginator := s3.NewListObjectsV2Paginator(
		r.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(r.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		},
	)

	var ids []string

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf(
				"listing run prefixes under %q: %w", prefix, err,
			)
		}

		for _, cp := range page.CommonPrefixes {
			if cp.Prefix != nil {
				// "reports/abc123/" -> "abc123"
				ids = append(ids, path.Base(strings.TrimRight(*cp.Prefix, "/")))
			}
		}
	}

	return ids, nil
}

// ListRunObjects lists every key under {prefix}/{runID}/.
func (r *s3Reader) ListRunObjects(
	ctx context.Context, runID string,
) ([]Object, error) {
	if !ValidRunID(runID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}

	prefix := RunPrefix(r.prefix, runID)

	paginator := s3.NewListObjectsV2Paginator(
		r.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(r.bucket),
			Prefix: aws.String(prefix),
		},
	)

	var objects []Object

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects under %q: %w", prefix, err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}

			o := Object{Key: *obj.Key}
			if obj.Size != nil {
				o.Size = *obj.Size
			}

			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}

			objects = append(objects, o)
		}
	}

	return objects, nil
}

// GetObject reads a key from S3.
// Returns (nil, nil) when the key does not exist.
func (r *s3Reader) GetObject(
	ctx context.Context, key string,
) ([]byte, error) {
	body, err := r.OpenObject(ctx, key)
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}

		return nil, err
	}

	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}

	return data, nil
}

// OpenObject returns the body of a key; the caller closes it.
func (r *s3Reader) OpenObject(
	ctx context.Context, key string,
) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting object %q: %w", key, err)
	}

	return out.Body, nil
}

// isS3NotFound returns true if the error indicates the object does not exist.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// Some S3-compatible implementations return a generic error with
	// "NoSuchKey" in the message rather than the typed error.
	return strings.Contains(err.Error(), "NoSuchKey")
}

// NewS3Client constructs an S3 client with static credentials.
func NewS3Client(cfg *config.S3Config, creds config.S3Credentials) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = config.DefaultRegion
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					creds.AccessKeyID, creds.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}
