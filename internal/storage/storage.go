package storage

import (
	"context"
	"fmt"
	"io"
)

// Storage is where chat media blobs live. Keys are slash separated and
// relative to the backend root (bucket or base directory).
type Storage interface {
	Save(ctx context.Context, key string, reader io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns the address clients use to fetch the blob.
	URL(key string) string
	Provider() string
}

type Config struct {
	Type      string // local, s3, cloudflare_r2
	BasePath  string // local only
	BaseURL   string // public URL prefix
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string // custom S3 endpoint or R2 account endpoint
	UseSSL    bool
	// PublicRead uploads objects with the public-read ACL (S3 only).
	PublicRead bool
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "local", "":
		return NewLocalStorage(cfg)
	case "s3":
		return NewS3Storage(cfg)
	case "cloudflare_r2":
		return NewCloudflareR2Storage(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
