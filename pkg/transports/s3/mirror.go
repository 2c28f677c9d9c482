// Package s3 copies backup artifacts to an S3 compatible object store.
package s3

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/upkeep/pkg/backup"
)

// Config describes the bucket backups are copied into.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return errors.New("access key and secret key must be set together")
	}
	return nil
}

// objectStore is the part of *minio.Client the mirror uses.
type objectStore interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Mirror uploads backups as <prefix>/<backup name>/<file> objects.
type Mirror struct {
	store  objectStore
	bucket string
	prefix string
}

var _ backup.Mirror = (*Mirror)(nil)

// NewMirror creates a mirror backed by a minio client.
func NewMirror(cfg Config) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return newMirror(client, cfg.Bucket, cfg.Prefix), nil
}

func newMirror(store objectStore, bucket, prefix string) *Mirror {
	return &Mirror{store: store, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Name implements backup.Mirror.
func (m *Mirror) Name() string {
	return "s3"
}

// ObjectKey returns the key of one backup file.
func (m *Mirror) ObjectKey(backupName, file string) string {
	return path.Join(m.prefix, backupName, file)
}

func (m *Mirror) listPrefix() string {
	if m.prefix == "" {
		return ""
	}
	return m.prefix + "/"
}

// Upload implements backup.Mirror.
func (m *Mirror) Upload(ctx context.Context, artifact *backup.Artifact) error {
	for _, name := range artifact.Files {
		key := m.ObjectKey(artifact.Name, name)
		info, err := m.store.FPutObject(ctx, m.bucket, key, filepath.Join(artifact.Dir, name), minio.PutObjectOptions{
			ContentType: contentType(name),
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		log.Debug().Str("bucket", m.bucket).Str("key", key).Int64("bytes", info.Size).Msg("backup object uploaded")
	}
	return nil
}

// Prune implements backup.Mirror.
func (m *Mirror) Prune(ctx context.Context, keep int) error {
	var names []string
	for obj := range m.store.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: m.listPrefix()}) {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", m.bucket, obj.Err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, m.listPrefix()), "/")
		if name != "" && !strings.Contains(name, "/") {
			names = append(names, name)
		}
	}

	for _, name := range backup.ExpiredNames(names, keep) {
		dir := path.Join(m.prefix, name) + "/"
		for obj := range m.store.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: dir, Recursive: true}) {
			if obj.Err != nil {
				return fmt.Errorf("list %s: %w", dir, obj.Err)
			}
			if err := m.store.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
				return fmt.Errorf("remove %s: %w", obj.Key, err)
			}
		}
	}
	return nil
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".tar.gz"):
		return "application/gzip"
	default:
		return "text/plain"
	}
}
