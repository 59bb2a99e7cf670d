package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"musicaltracker/api/internal/config"
	"musicaltracker/api/internal/media"
)

// objectClient is the part of *minio.Client the store uses.
type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketPolicy(ctx context.Context, bucketName, policy string) error
}

// ObjectStore writes processed images to an S3-compatible bucket and hands
// back their public URLs. It neither retries nor caches.
type ObjectStore struct {
	client   objectClient
	cfg      config.StorageConfig
	endpoint string
	secure   bool
	// misconfigured is returned, wrapped, from every call when required
	// settings are absent.
	misconfigured error
}

// NewObjectStore never fails on missing settings: the store is still built so
// that each upload reports "server misconfigured" instead of the process
// refusing to boot. Ready exposes the problem for startup logging.
func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint, secure, err := resolveEndpoint(cfg)
	if err != nil {
		return nil, err
	}
	s := &ObjectStore{cfg: cfg, endpoint: endpoint, secure: secure}

	if err := cfg.Validate(); err != nil {
		s.misconfigured = err
		return s, nil
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	s.client = client

	return s, nil
}

func newWithClient(client objectClient, cfg config.StorageConfig) *ObjectStore {
	endpoint, secure, _ := resolveEndpoint(cfg)
	return &ObjectStore{client: client, cfg: cfg, endpoint: endpoint, secure: secure, misconfigured: cfg.Validate()}
}

func resolveEndpoint(cfg config.StorageConfig) (string, bool, error) {
	endpoint := cfg.Endpoint
	secure := cfg.UseSSL

	if endpoint == "" && cfg.Region != "" {
		return fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region), true, nil
	}
	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		secure = u.Scheme == "https"
	}
	return endpoint, secure, nil
}

// Ready reports whether the store has everything it needs to talk to the bucket.
func (s *ObjectStore) Ready() error {
	return s.misconfigured
}

// EnsureBucket creates the bucket when absent and installs an anonymous
// read policy so object URLs resolve without signing.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	if s.misconfigured != nil {
		return s.misconfigured
	}
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", s.cfg.Bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
		}
	}
	if err := s.client.SetBucketPolicy(ctx, s.cfg.Bucket, publicReadPolicy(s.cfg.Bucket)); err != nil {
		return fmt.Errorf("set bucket policy %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// Put stores data under key with an explicit content type and a public-read
// ACL, and returns the object's public URL.
func (s *ObjectStore) Put(ctx context.Context, data []byte, key, contentType string, attrs map[string]string) (string, error) {
	if s.misconfigured != nil {
		return "", media.NewError(media.KindStorage, media.ReasonMisconfigured, s.misconfigured)
	}
	if contentType == "" {
		return "", &media.Error{Kind: media.KindInvalidRequest, Detail: "content type required for " + key}
	}

	meta := map[string]string{"x-amz-acl": "public-read"}
	for k, v := range attrs {
		meta[metaKey(k)] = v
	}

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return "", classify(ctx, "put object "+key, err)
	}
	return s.PublicURL(key), nil
}

// Delete removes key. A key that does not exist is not an error.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	if s.misconfigured != nil {
		return media.NewError(media.KindStorage, media.ReasonMisconfigured, s.misconfigured)
	}
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{})
	if err == nil || minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil
	}
	return classify(ctx, "remove object "+key, err)
}

// PublicURL derives the object URL from configuration and key alone.
func (s *ObjectStore) PublicURL(key string) string {
	if base := strings.TrimSuffix(s.cfg.PublicBaseURL, "/"); base != "" {
		return base + "/" + key
	}
	scheme := "http"
	if s.secure {
		scheme = "https"
	}
	if s.cfg.PathStyle {
		return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.cfg.Bucket, key)
	}
	return fmt.Sprintf("%s://%s.%s/%s", scheme, s.cfg.Bucket, s.endpoint, key)
}

var configurationCodes = map[string]struct{}{
	"AccessDenied":          {},
	"InvalidAccessKeyId":    {},
	"SignatureDoesNotMatch": {},
	"NoSuchBucket":          {},
	"InvalidBucketName":     {},
}

// classify inspects the raw client error; ToErrorResponse does not unwrap.
func classify(ctx context.Context, op string, err error) *media.Error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return media.NewError(media.KindCancelled, "", wrapped)
	}
	if _, ok := configurationCodes[minio.ToErrorResponse(err).Code]; ok {
		return media.NewError(media.KindStorage, media.ReasonMisconfigured, wrapped)
	}
	return media.NewError(media.KindStorage, media.ReasonTransient, wrapped)
}

func metaKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(k), "_", "-"))
}

func publicReadPolicy(bucket string) string {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect":    "Allow",
				"Principal": map[string]interface{}{"AWS": []string{"*"}},
				"Action":    []string{"s3:GetObject"},
				"Resource":  []string{fmt.Sprintf("arn:aws:s3:::%s/*", bucket)},
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}
