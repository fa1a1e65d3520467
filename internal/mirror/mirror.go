// Package mirror pushes finished archive files to an off-site copy and
// fetches them back. Backends are plain blob stores keyed by file name;
// encryption, when enabled, happens before bytes reach a backend.
package mirror

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get for names the mirror does not hold.
var ErrNotFound = errors.New("mirror object not found")

// Mirror stores named blobs. Put overwrites: archives grow, and the
// mirror always reflects the latest pushed state.
type Mirror interface {
	Put(ctx context.Context, name string, r io.Reader) error
	Get(ctx context.Context, name string, w io.Writer) error
	// List returns the stored names in unspecified order.
	List(ctx context.Context) ([]string, error)
	// ValidateSetup verifies the backend is reachable and writable
	// enough to accept pushes.
	ValidateSetup(ctx context.Context) error
}
