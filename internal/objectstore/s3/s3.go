// Package s3 is the production objectstore.Store backend: an S3-compatible
// client (AWS S3 or a MinIO-style endpoint) from the AWS SDK for Go v2.
package s3

import (
	"context"
	"errors"
	"io"
	"iter"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/crashvault/crashvault/internal/apperrors"
	"github.com/crashvault/crashvault/internal/objectstore"
)

// Config describes how to reach the bucket.
type Config struct {
	Bucket string
	Region string
	// Endpoint overrides the default AWS endpoint resolution, for
	// S3-compatible backends such as MinIO. Empty means use AWS directly.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible backends.
	UsePathStyle bool
}

// Store wraps an s3.Client bound to a single bucket.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// New builds a Store from cfg, resolving credentials and endpoint the way
// the AWS SDK v2 expects: an explicit static credential provider when
// AccessKeyID is set, the default provider chain otherwise.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, apperrors.Storage(err, "load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          r,
		ContentLength: &size,
	})
	if err != nil {
		return apperrors.Storage(err, "put %q", key)
	}

	return nil
}

// PutStream uploads r to key without requiring its length upfront. The
// manager.Uploader splits r into bounded part-sized chunks and uploads them
// as an S3 multipart upload (falling back to a single PutObject for small
// bodies), so the object body is never buffered whole in memory.
func (s *Store) PutStream(ctx context.Context, key string, r io.Reader) (int64, error) {
	counter := &countingReader{r: r}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   counter,
	})
	if err != nil {
		return 0, apperrors.Storage(err, "put %q", key)
	}

	return counter.n, nil
}

// countingReader tracks bytes read so PutStream can report a final size;
// manager.Uploader.Upload itself never returns one.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, apperrors.Storage(err, "object %q not found", key)
		}
		return nil, apperrors.Storage(err, "get %q", key)
	}

	return out.Body, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return apperrors.Storage(err, "delete %q", key)
	}

	return nil
}

func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[objectstore.ObjectInfo, error] {
	return func(yield func(objectstore.ObjectInfo, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: &s.bucket,
			Prefix: &prefix,
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(objectstore.ObjectInfo{}, apperrors.Storage(err, "list %q", prefix))
				return
			}

			for _, obj := range page.Contents {
				info := objectstore.ObjectInfo{}
				if obj.Key != nil {
					info.Key = *obj.Key
				}
				if obj.Size != nil {
					info.Size = *obj.Size
				}
				if !yield(info, nil) {
					return
				}
			}
		}
	}
}
