package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"asisaid.cn/versync/internal/common/errors"
)

// S3Config holds configuration for the S3 backend.
type S3Config struct {
	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// KeyPrefix is prepended to all keys. A trailing "/" is added if missing.
	KeyPrefix string

	// ForcePathStyle forces path-style addressing (required for MinIO).
	ForcePathStyle bool
}

// S3API is the subset of the S3 client used by the backend.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Backend implements Backend on an S3 bucket. Directories are key
// prefixes; an explicit directory is a zero-length object whose key ends
// in "/".
type S3Backend struct {
	client    S3API
	bucket    string
	keyPrefix string
	closed    bool
	mu        sync.RWMutex
}

// NewS3Backend creates a new S3 backend with an existing client.
func NewS3Backend(client S3API, cfg S3Config) *S3Backend {
	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Backend{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: prefix,
	}
}

// NewS3BackendFromConfig creates a new S3 backend, building the client from
// the default AWS credential chain.
func NewS3BackendFromConfig(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3Backend(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// Exists checks if a blob or directory exists.
func (b *S3Backend) Exists(ctx context.Context, kind Kind, key string) (bool, error) {
	if err := b.checkOpen(); err != nil {
		return false, err
	}

	key = cleanKey(key)
	if kind == KindFile {
		_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.fullKey(key)),
		})
		if err != nil {
			if isNotFoundError(err) {
				return false, nil
			}
			return false, errors.E("S3Backend.Exists", errors.ErrStorage, err)
		}
		return true, nil
	}

	found, err := b.prefixExists(ctx, key)
	if err != nil {
		return false, errors.E("S3Backend.Exists", errors.ErrStorage, err)
	}
	return found, nil
}

// Read retrieves a blob.
func (b *S3Backend) Read(ctx context.Context, key string) ([]byte, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	key = cleanKey(key)
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fullKey(key)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, errors.E("S3Backend.Read", errors.ErrNotFound, nil, key)
		}
		return nil, errors.E("S3Backend.Read", errors.ErrStorage, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E("S3Backend.Read", errors.ErrStorage, err)
	}
	return data, nil
}

// Persist stores a blob or a directory marker.
func (b *S3Backend) Persist(ctx context.Context, kind Kind, key string, data []byte) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	key = cleanKey(key)
	if key == "" {
		return errors.E("S3Backend.Persist", errors.ErrInvalidInput, nil, "empty key")
	}

	fullKey := b.fullKey(key)
	if kind == KindDirectory {
		fullKey += "/"
		data = nil
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(fullKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.E("S3Backend.Persist", errors.ErrStorage, err)
	}
	return nil
}

// Delete removes a blob or every object below a directory prefix.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	key = cleanKey(key)
	if key == "" {
		return errors.E("S3Backend.Delete", errors.ErrInvalidInput, nil, "refusing to delete backend root")
	}

	isFile, err := b.Exists(ctx, KindFile, key)
	if err != nil {
		return err
	}
	if isFile {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.fullKey(key)),
		})
		if err != nil {
			return errors.E("S3Backend.Delete", errors.ErrStorage, err)
		}
		return nil
	}

	deleted := 0
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.fullKey(key) + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return errors.E("S3Backend.Delete", errors.ErrStorage, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		// Batch delete (up to 1000 per call)
		objects := make([]types.ObjectIdentifier, len(page.Contents))
		for i, obj := range page.Contents {
			objects[i] = types.ObjectIdentifier{Key: obj.Key}
		}
		_, err = b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: objects},
		})
		if err != nil {
			return errors.E("S3Backend.Delete", errors.ErrStorage, err)
		}
		deleted += len(objects)
	}

	if deleted == 0 {
		return errors.E("S3Backend.Delete", errors.ErrNotFound, nil, key)
	}
	return nil
}

// List lists the direct children of a directory.
func (b *S3Backend) List(ctx context.Context, dir string) ([]*FileInfo, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	dir = cleanKey(dir)
	prefix := b.keyPrefix
	if dir != "" {
		prefix = b.fullKey(dir) + "/"
	}

	var result []*FileInfo
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.E("S3Backend.List", errors.ErrStorage, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			result = append(result, &FileInfo{Key: joinKey(dir, name), IsDir: true})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.HasSuffix(name, "/") {
				continue // the directory marker itself
			}
			result = append(result, &FileInfo{
				Key:     joinKey(dir, name),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}

	if len(result) == 0 && dir != "" {
		found, err := b.prefixExists(ctx, dir)
		if err != nil {
			return nil, errors.E("S3Backend.List", errors.ErrStorage, err)
		}
		if !found {
			return nil, errors.E("S3Backend.List", errors.ErrNotFound, nil, dir)
		}
	}
	return result, nil
}

// Stat returns blob or directory information.
func (b *S3Backend) Stat(ctx context.Context, key string) (*FileInfo, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	key = cleanKey(key)
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.fullKey(key)),
	})
	if err == nil {
		return &FileInfo{
			Key:     key,
			Size:    aws.ToInt64(head.ContentLength),
			ModTime: aws.ToTime(head.LastModified),
		}, nil
	}
	if !isNotFoundError(err) {
		return nil, errors.E("S3Backend.Stat", errors.ErrStorage, err)
	}

	found, err := b.prefixExists(ctx, key)
	if err != nil {
		return nil, errors.E("S3Backend.Stat", errors.ErrStorage, err)
	}
	if !found {
		return nil, errors.E("S3Backend.Stat", errors.ErrNotFound, nil, key)
	}
	return &FileInfo{Key: key, IsDir: true}, nil
}

// RootDir returns the s3:// location of the backend.
func (b *S3Backend) RootDir() string {
	return "s3://" + b.bucket + "/" + strings.TrimSuffix(b.keyPrefix, "/")
}

// Close marks the backend as closed.
func (b *S3Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return nil
}

func (b *S3Backend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.ErrStoreClosed
	}
	return nil
}

// fullKey returns the full S3 key for a backend key.
func (b *S3Backend) fullKey(key string) string {
	return b.keyPrefix + key
}

func (b *S3Backend) prefixExists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return true, nil
	}
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.fullKey(key) + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0, nil
}

// isNotFoundError checks if an error is an S3 not found error.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}

var _ Backend = (*S3Backend)(nil)
