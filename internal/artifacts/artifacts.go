// Package artifacts stores and retrieves job outputs in an S3-compatible
// bucket. Every upload records size and sha256, every fetch verifies them.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/camforge/camforge/internal/store/model"
)

type StoreOpts func(c *storeConfig)

type storeConfig struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
	maxFetchBytes   int64
}

func newConfig(opts ...StoreOpts) *storeConfig {
	cfg := &storeConfig{
		useSSL:        false,
		maxFetchBytes: 200 << 20,
	}

	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

type Store struct {
	cfg    *storeConfig
	client *minio.Client
}

func NewStore(opts ...StoreOpts) (*Store, error) {
	cfg := newConfig(opts...)

	minioClient, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, err
	}

	return &Store{cfg: cfg, client: minioClient}, nil
}

// Upload streams the reader into the bucket and returns the artefact record
// with size and checksum filled in.
func (s *Store) Upload(ctx context.Context, key string, size int64, kind string, r io.Reader) (*model.Artefact, error) {
	hasher := sha256.New()
	tee := io.TeeReader(r, hasher)

	info, err := s.client.PutObject(ctx, s.cfg.bucket, key, tee, size, minio.PutObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("upload artefact %s: %w", key, err)
	}

	return &model.Artefact{
		Key:      key,
		Size:     info.Size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
		Kind:     kind,
	}, nil
}

// Fetch downloads the artefact into dst, enforcing the configured size cap
// and verifying the recorded checksum. A mismatch fails the fetch.
func (s *Store) Fetch(ctx context.Context, artefact model.Artefact, dst io.Writer) error {
	object, err := s.client.GetObject(ctx, s.cfg.bucket, artefact.Key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("fetch artefact %s: %w", artefact.Key, err)
	}
	defer object.Close()

	objInfo, err := object.Stat()
	if err != nil {
		return fmt.Errorf("stat artefact %s: %w", artefact.Key, err)
	}
	if objInfo.Size > s.cfg.maxFetchBytes {
		return fmt.Errorf("artefact %s is %d bytes, above the %d byte fetch limit",
			artefact.Key, objInfo.Size, s.cfg.maxFetchBytes)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(dst, hasher), io.LimitReader(object, s.cfg.maxFetchBytes+1))
	if err != nil {
		return fmt.Errorf("download artefact %s: %w", artefact.Key, err)
	}
	if written > s.cfg.maxFetchBytes {
		return fmt.Errorf("artefact %s exceeded the %d byte fetch limit", artefact.Key, s.cfg.maxFetchBytes)
	}
	if artefact.Size > 0 && written != artefact.Size {
		return fmt.Errorf("artefact %s size mismatch: expected %d got %d", artefact.Key, artefact.Size, written)
	}

	if err := VerifyChecksum(artefact.Checksum, hasher.Sum(nil)); err != nil {
		return fmt.Errorf("artefact %s: %w", artefact.Key, err)
	}
	return nil
}

// PresignedURL returns a time-limited download link for an artefact.
func (s *Store) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.cfg.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign artefact %s: %w", key, err)
	}
	return u.String(), nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.cfg.bucket, minio.MakeBucketOptions{})
}

// VerifyChecksum compares a recorded hex checksum with a computed digest.
// An empty recorded checksum passes, old records predate checksumming.
func VerifyChecksum(recorded string, digest []byte) error {
	if recorded == "" {
		return nil
	}
	computed := hex.EncodeToString(digest)
	if recorded != computed {
		return fmt.Errorf("checksum mismatch: recorded %s computed %s", recorded, computed)
	}
	return nil
}

func WithEndpoint(endpoint string) StoreOpts {
	return func(c *storeConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) StoreOpts {
	return func(c *storeConfig) {
		c.bucket = bucket
	}
}

func WithAccessKey(accessKey string) StoreOpts {
	return func(c *storeConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) StoreOpts {
	return func(c *storeConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) StoreOpts {
	return func(c *storeConfig) {
		c.useSSL = useSSL
	}
}

func WithMaxFetchMB(mb int64) StoreOpts {
	return func(c *storeConfig) {
		if mb > 0 {
			c.maxFetchBytes = mb << 20
		}
	}
}
