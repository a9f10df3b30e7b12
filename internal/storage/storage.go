// Package storage is the opaque blob store behind incident images and chat
// media. Callers upload bytes and get back a public URL; where the bytes live
// is this package's concern.
package storage

import (
	"context"
	"io"
)

type Store interface {
	// Upload persists the blob under a generated name and returns its public URL
	// together with the stored name.
	Upload(ctx context.Context, originalName string, r io.Reader) (url, storedName string, err error)
	// Open returns the blob for serving. The caller closes it.
	Open(storedName string) (io.ReadCloser, error)
	PublicURL(storedName string) string
}
