// Package archive defines the blob-store boundary for raw page bodies.
package archive

import "context"

// BlobStore writes a raw artifact and returns a URI pointing at it.
type BlobStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}
