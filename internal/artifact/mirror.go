package artifact

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MirrorConfig locates an S3-compatible bucket.
type MirrorConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
}

// Enabled reports whether a mirror is configured.
func (c MirrorConfig) Enabled() bool {
	return c.Endpoint != ""
}

// MinioMirror uploads snapshot directories to object storage.
type MinioMirror struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioMirror creates a mirror client. No request is made until Upload.
func NewMinioMirror(cfg MirrorConfig) (*MinioMirror, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("mirror needs an endpoint and a bucket")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}
	return &MinioMirror{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Upload copies the blobs and then the manifest, so a mirrored manifest
// always refers to blobs that are already present.
func (m *MinioMirror) Upload(ctx context.Context, dir string, man Manifest) error {
	files := []struct {
		name        string
		contentType string
	}{
		{man.Vectors.File, "application/zstd"},
		{man.Catalog.File, "application/octet-stream"},
		{ManifestFileName, "application/json"},
	}
	for _, f := range files {
		key := path.Join(m.prefix, man.SnapshotID, f.name)
		_, err := m.client.FPutObject(ctx, m.bucket, key, filepath.Join(dir, f.name),
			minio.PutObjectOptions{ContentType: f.contentType})
		if err != nil {
			return fmt.Errorf("uploading %s: %w", key, err)
		}
	}
	return nil
}
