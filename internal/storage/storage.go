package storage

import (
	"context"
	"io"
	"time"
)

type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

// Downloader fetches raw object bytes; the image workers use it to pull
// uploaded payloads back before extraction.
type Downloader interface {
	Download(ctx context.Context, objectName string) ([]byte, error)
}

type Signer interface {
	SignedGetURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}

// Store is the full blob contract the ingestion and retrieval pipelines need.
type Store interface {
	Uploader
	Downloader
	Signer
}
