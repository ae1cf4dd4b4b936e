// Package objectstore is the bucket-facing boundary: create a bucket, put
// an object under an optional "don't clobber" precondition, fetch one back,
// and list keys under a prefix. The concrete implementation talks to S3
// (or an S3-compatible endpoint) via aws-sdk-go-v2; an in-memory Fake
// satisfies the same interface for tests that never need a real bucket.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/saworbit/zfsbackup/internal/backuperr"
)

// StorageClass selects the S3 storage tier a part is written at. Named here
// rather than re-exporting the SDK's own type so callers never need to
// import aws-sdk-go-v2 directly.
type StorageClass string

const (
	StorageClassStandard    StorageClass = "STANDARD"
	StorageClassGlacier     StorageClass = "GLACIER"
	StorageClassDeepGlacier StorageClass = "DEEP_ARCHIVE"
)

// PutOptions configures a PutObject call.
type PutOptions struct {
	// IfNoneMatch, when "*", asks the store to reject the write if the key
	// already exists. A rejection is reported as
	// backuperr.ErrObjectExistsPrecondition, which callers treat as success:
	// writing the exact same part twice after a crash-and-resume is
	// idempotent, not an error.
	IfNoneMatch  string
	StorageClass StorageClass
}

// Store is everything the backup pipeline needs from the bucket.
type Store interface {
	CreateBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, body io.Reader, length int64, opts PutOptions) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// S3Store is the production Store, backed by an AWS SDK v2 S3 client.
type S3Store struct {
	client *s3.Client
}

// NewS3Store loads SDK configuration the standard way (environment, shared
// config file, EC2/ECS role) for the given region and constructs a Store.
func NewS3Store(ctx context.Context, region string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("objectstore: loading AWS config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg)}, nil
}

// NewS3StoreWithClient wraps an already-constructed client, letting callers
// point at an S3-compatible endpoint via custom client options.
func NewS3StoreWithClient(client *s3.Client) *S3Store {
	return &S3Store{client: client}
}

func (s *S3Store) CreateBucket(ctx context.Context, bucket string) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("%w: create bucket %s: %v", backuperr.ErrObjectStoreFatal, bucket, err)
	}
	return nil
}

func (s *S3Store) PutObject(ctx context.Context, bucket, key string, body io.Reader, length int64, opts PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(length),
	}
	if opts.IfNoneMatch != "" {
		input.IfNoneMatch = aws.String(opts.IfNoneMatch)
	}
	if opts.StorageClass != "" {
		input.StorageClass = types.StorageClass(opts.StorageClass)
	}

	_, err := s.client.PutObject(ctx, input)
	if err == nil {
		return nil
	}

	if isPreconditionFailed(err) {
		return fmt.Errorf("%w: %s/%s", backuperr.ErrObjectExistsPrecondition, bucket, key)
	}
	if isTransient(err) {
		return fmt.Errorf("%w: put %s/%s: %v", backuperr.ErrObjectStoreTransient, bucket, key, err)
	}
	return fmt.Errorf("%w: put %s/%s: %v", backuperr.ErrObjectStoreFatal, bucket, key, err)
}

func (s *S3Store) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s/%s", backuperr.ErrObjectStoreFatal, bucket, key)
		}
		if isTransient(err) {
			return nil, fmt.Errorf("%w: get %s/%s: %v", backuperr.ErrObjectStoreTransient, bucket, key, err)
		}
		return nil, fmt.Errorf("%w: get %s/%s: %v", backuperr.ErrObjectStoreFatal, bucket, key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, fmt.Errorf("%w: reading body of %s/%s: %v", backuperr.ErrObjectStoreTransient, bucket, key, err)
	}
	return buf.Bytes(), nil
}

func (s *S3Store) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s/%s*: %v", backuperr.ErrObjectStoreTransient, bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func isPreconditionFailed(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 412
	}
	return false
}

func isTransient(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	return true
}
