package checkin

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxThumbnailBytes is the encoded size ceiling for thumbnails
const DefaultMaxThumbnailBytes = 70000

// ErrThumbnailTooLarge marks a thumbnail dropped at ingestion. It is logged
// and counted, never returned to callers.
var ErrThumbnailTooLarge = errors.New("thumbnail exceeds size limit")

// ThumbnailStore is the primary thumbnail backend. Get returns "" when no
// thumbnail exists; Delete of a missing thumbnail succeeds.
type ThumbnailStore interface {
	Put(ctx context.Context, checkInID, data string) error
	Get(ctx context.Context, checkInID string) (string, error)
	Delete(ctx context.Context, checkInID string) error
}

// ThumbnailSource is one lookup strategy in a LookupChain
type ThumbnailSource interface {
	Get(ctx context.Context, checkInID string) (string, error)
}

// ThumbnailSourceFunc adapts a function to ThumbnailSource
type ThumbnailSourceFunc func(ctx context.Context, checkInID string) (string, error)

// Get calls f
func (f ThumbnailSourceFunc) Get(ctx context.Context, checkInID string) (string, error) {
	return f(ctx, checkInID)
}

// LookupChain asks each source in order and returns the first non-empty
// thumbnail. An error stops the chain.
type LookupChain []ThumbnailSource

// Get implements ThumbnailSource
func (c LookupChain) Get(ctx context.Context, checkInID string) (string, error) {
	for i, src := range c {
		data, err := src.Get(ctx, checkInID)
		if err != nil {
			return "", fmt.Errorf("thumbnail source %d: %w", i, err)
		}
		if data != "" {
			return data, nil
		}
	}
	return "", nil
}

// SizeLimitError describes a dropped thumbnail
type SizeLimitError struct {
	Size  int
	Limit int
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s: %d bytes, limit %d", ErrThumbnailTooLarge, e.Size, e.Limit)
}

// Unwrap lets errors.Is match ErrThumbnailTooLarge
func (e *SizeLimitError) Unwrap() error {
	return ErrThumbnailTooLarge
}
