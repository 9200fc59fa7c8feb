// Package blob defines the external-collaborator contract for raw file
// storage (§5's blob store: PUT/GET/delete by uri). Production wiring
// supplies a Store backed by whatever object store an operator chooses;
// this package's interface is shaped to be satisfied by it directly.
package blob

import "context"

// Store is the full external-collaborator contract the file_processing
// handler (internal/worker) and the upload API surface depend on.
type Store interface {
	Put(ctx context.Context, uri string, data []byte) error
	Get(ctx context.Context, uri string) ([]byte, error)
	Delete(ctx context.Context, uri string) error
}
