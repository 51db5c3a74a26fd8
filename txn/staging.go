package txn

import (
	"context"
	"fmt"
	"path"
)

// StagingLocation is where a bulk-mode transaction stages its output before
// promotion: a revision-tagged directory under the table's location.
func StagingLocation(tableLocation string, revision uint64) string {
	return path.Join(tableLocation, fmt.Sprintf("REVISION_%d", revision))
}

// Promoter moves staged bulk-load output into the store. Promote must be
// atomic from the store's point of view: either all staged data of the
// transaction becomes readable or none of it does. The manager only marks a
// bulk transaction committed after Promote returns nil; until then readers
// keep computing safe revisions that exclude it.
type Promoter interface {
	Promote(ctx context.Context, txn *WriteTransaction, location string) error
}
