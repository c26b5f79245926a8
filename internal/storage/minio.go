package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinioOptions configures the object store connection
type MinioOptions struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
	UseSSL          bool
	Quota           int64
}

// MinioBinaryStore implements BinaryStore on a MinIO / S3 bucket.
// PutObject only makes an object visible once the upload has completed.
type MinioBinaryStore struct {
	client *minio.Client
	bucket string
	prefix string
	quota  int64
}

// NewMinioBinaryStore connects and ensures the bucket exists
func NewMinioBinaryStore(ctx context.Context, opts MinioOptions) (*MinioBinaryStore, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		log.Info().Str("bucket", opts.Bucket).Msg("Creating binary store bucket")
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", opts.Bucket, err)
		}
	}

	return &MinioBinaryStore{
		client: client,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
		quota:  opts.Quota,
	}, nil
}

func (m *MinioBinaryStore) object(key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return m.prefix + key, nil
}

// Save uploads data under key
func (m *MinioBinaryStore) Save(ctx context.Context, key string, data []byte) error {
	name, err := m.object(key)
	if err != nil {
		return err
	}
	_, err = m.client.PutObject(ctx, m.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/dicom"})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Load downloads the object under key
func (m *MinioBinaryStore) Load(ctx context.Context, key string) ([]byte, error) {
	name, err := m.object(key)
	if err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if an object exists
func (m *MinioBinaryStore) Exists(ctx context.Context, key string) (bool, error) {
	name, err := m.object(key)
	if err != nil {
		return false, err
	}
	_, err = m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

// Delete removes an object
func (m *MinioBinaryStore) Delete(ctx context.Context, key string) error {
	name, err := m.object(key)
	if err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// ListKeys returns every key under the store prefix
func (m *MinioBinaryStore) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: m.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		keys = append(keys, obj.Key[len(m.prefix):])
	}
	sort.Strings(keys)
	return keys, nil
}

// ClearAll removes every object under the store prefix
func (m *MinioBinaryStore) ClearAll(ctx context.Context) error {
	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: m.prefix, Recursive: true})
	var errs []error
	for result := range m.client.RemoveObjects(ctx, m.bucket, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", result.ObjectName, result.Err))
		}
	}
	return errors.Join(errs...)
}

// UsageInfo sums object sizes under the store prefix
func (m *MinioBinaryStore) UsageInfo(ctx context.Context) (Usage, error) {
	var used int64
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: m.prefix, Recursive: true}) {
		if obj.Err != nil {
			return Usage{}, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		used += obj.Size
	}
	return Usage{Used: used, Quota: m.quota}, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
