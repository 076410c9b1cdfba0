// Package s3 provides an S3-compatible blob store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/logging"
	"github.com/filedrift/filedrift/internal/metrics"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// Store implements blob.Store on S3/MinIO. All tenants share one physical
// S3 bucket; objects are keyed tenant/bucket/key.
type Store struct {
	client *s3.Client
	bucket string
}

// New creates an S3 blob store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	store := &Store{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}
	return store, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, createErr)
	}
	logging.Info("created S3 bucket", zap.String("bucket", s.bucket))
	return nil
}

func objectKey(parts ...string) string {
	return strings.Join(parts, "/")
}

// Put uploads exactly length bytes to a fresh key. The returned hash is
// the object ETag, which S3 computes as the content MD5 for single-part
// uploads.
func (s *Store) Put(ctx context.Context, tenant, bucket string, r io.Reader, length int64) (*blob.PutResult, error) {
	start := time.Now()
	key := uuid.NewString()

	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey(tenant, bucket, key)),
		Body:          blob.ExactReader(r, length),
		ContentLength: aws.Int64(length),
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	metrics.RecordBlobOperation(blob.TypeS3, "put", time.Since(start))
	return &blob.PutResult{
		Key:  key,
		Hash: strings.Trim(aws.ToString(out.ETag), `"`),
	}, nil
}

// Get opens an object for reading.
func (s *Store) Get(ctx context.Context, tenant, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(tenant, bucket, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, nil
}

// Exists checks object existence with a HEAD request.
func (s *Store) Exists(ctx context.Context, tenant, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(tenant, bucket, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", key, err)
	}
	return true, nil
}

// ListKeys pages through the bucket prefix with continuation tokens.
func (s *Store) ListKeys(ctx context.Context, tenant, bucket string, fn func(key string) error) error {
	prefix := objectKey(tenant, bucket) + "/"
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			MaxKeys:           aws.Int32(1000),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range out.Contents {
			if err := fn(strings.TrimPrefix(aws.ToString(obj.Key), prefix)); err != nil {
				return err
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		token = out.NextContinuationToken
	}
}

// Delete removes a single object.
func (s *Store) Delete(ctx context.Context, tenant, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(tenant, bucket, key)),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// DeleteBucket removes every object under tenant/bucket in batches.
func (s *Store) DeleteBucket(ctx context.Context, tenant, bucket string) error {
	return s.deletePrefix(ctx, objectKey(tenant, bucket)+"/")
}

// DeleteAll removes every object under the tenant in batches.
func (s *Store) DeleteAll(ctx context.Context, tenant string) error {
	return s.deletePrefix(ctx, tenant+"/")
}

func (s *Store) deletePrefix(ctx context.Context, prefix string) error {
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			MaxKeys:           aws.Int32(1000),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("list objects for delete: %w", err)
		}
		if len(out.Contents) > 0 {
			objects := make([]types.ObjectIdentifier, 0, len(out.Contents))
			for _, obj := range out.Contents {
				objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
			}
			_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &types.Delete{Objects: objects},
			})
			if err != nil {
				return fmt.Errorf("delete objects: %w", err)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		token = out.NextContinuationToken
	}
}

// Type returns "s3".
func (s *Store) Type() string { return blob.TypeS3 }

// Close is a no-op for S3 stores.
func (s *Store) Close() error { return nil }

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "NoSuchBucket"
	}
	return false
}
