// Package storage holds the blob store capability and its adapters.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// BlobStore stores rendered documents under stable keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// Object is a stored blob with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// Reader is implemented by stores whose signed URLs are served by this process.
type Reader interface {
	Open(ctx context.Context, token string) (key string, object Object, err error)
}
