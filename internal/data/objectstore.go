package data

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/openvidu/openvidu-meet/internal/config"
	"github.com/openvidu/openvidu-meet/internal/errs"
)

// ObjectStore is the authoritative storage tier. List cursors are opaque
// continuation tokens; an empty cursor starts from the beginning and an
// empty returned cursor means the listing is exhausted.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	GetRange(ctx context.Context, key string, start, end int64) (data []byte, total int64, err error)
	Head(ctx context.Context, key string) (size int64, err error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	List(ctx context.Context, prefix string, limit int, cursor string) (keys []string, next string, err error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// S3Store implements ObjectStore on S3 (or any S3-compatible store such as
// MinIO via endpoint + path-style).
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	bucket   string
}

func NewS3Store(ctx context.Context, cfg config.S3) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Bucket,
	}, nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapStoreErr(key, err)
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.Unavailable("OBJECT_STORE_UNAVAILABLE", "read object body: "+key, err)
	}
	return raw, nil
}

// GetRange reads [start, end] (inclusive), clamping end to the object size.
// start at or past the end of the object is RangeNotSatisfiable.
func (s *S3Store) GetRange(ctx context.Context, key string, start, end int64) ([]byte, int64, error) {
	total, err := s.Head(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	if start < 0 || start >= total {
		return nil, total, errs.RangeNotSatisfiable(fmt.Sprintf("range start %d outside object of %d bytes", start, total))
	}
	if end >= total {
		end = total - 1
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return nil, total, mapStoreErr(key, err)
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, total, errs.Unavailable("OBJECT_STORE_UNAVAILABLE", "read object range: "+key, err)
	}
	return raw, total, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, mapStoreErr(key, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return mapStoreErr(key, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapStoreErr(key, err)
	}
	return nil
}

// DeletePrefix removes every object below prefix in batches of 1000 (the
// DeleteObjects ceiling).
func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) error {
	cursor := ""
	for {
		keys, next, err := s.List(ctx, prefix, 1000, cursor)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			objects := make([]types.ObjectIdentifier, len(keys))
			for i, key := range keys {
				objects[i] = types.ObjectIdentifier{Key: aws.String(key)}
			}
			_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return mapStoreErr(prefix, err)
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

func (s *S3Store) List(ctx context.Context, prefix string, limit int, cursor string) ([]string, string, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(limit)),
	}
	if cursor != "" {
		in.ContinuationToken = aws.String(cursor)
	}
	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, "", mapStoreErr(prefix, err)
	}
	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return keys, aws.ToString(out.NextContinuationToken), nil
}

func (s *S3Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", mapStoreErr(key, err)
	}
	return req.URL, nil
}

func mapStoreErr(key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return errs.NotFound("OBJECT_NOT_FOUND", "object not found: "+key)
	}
	return errs.Unavailable("OBJECT_STORE_UNAVAILABLE", "object store request failed: "+key, err)
}
