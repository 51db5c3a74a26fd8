// Package coordination abstracts the durable, linearizable coordination store
// the revision ledger persists its state in. Nodes form a hierarchy addressed
// by slash-separated paths; every node carries a version that increments on
// each update, which is the handle for compare-and-set.
package coordination

import (
	"context"

	"github.com/pingcap/errors"
)

// Node-level errors. These are preconditions of a single store operation,
// not connectivity failures, so the retry helper never retries them.
var (
	// ErrNodeExists is returned by Create when the node is already present.
	ErrNodeExists = errors.New("node already exists")
	// ErrNodeNotFound is returned when the addressed node does not exist.
	ErrNodeNotFound = errors.New("node not found")
	// ErrVersionConflict is returned by a conditional update or delete whose
	// expected version no longer matches. Callers re-read and retry.
	ErrVersionConflict = errors.New("node version conflict")
)

// Node is a snapshot of one stored node.
type Node struct {
	Path    string
	Data    []byte
	Version int64
}

// EventType describes a watch notification.
type EventType int

const (
	EventPut EventType = iota
	EventDelete
)

// Event is delivered on a watch channel when a node under the watched prefix
// changes.
type Event struct {
	Type EventType
	Node Node
}

// Store is the durable coordination store. All mutations are linearizable:
// a successful Create or Update is visible to every subsequent Get on any
// client before the call returns.
type Store interface {
	// Create stores a new node. Fails with ErrNodeExists if present.
	Create(ctx context.Context, path string, data []byte) error
	// Get reads a node. Fails with ErrNodeNotFound if absent.
	Get(ctx context.Context, path string) (*Node, error)
	// Update replaces a node's data if its current version equals version.
	// Fails with ErrVersionConflict on a mismatch and ErrNodeNotFound if the
	// node is gone.
	Update(ctx context.Context, path string, data []byte, version int64) error
	// Delete removes a node. A non-positive version deletes unconditionally;
	// otherwise the delete is conditional like Update.
	Delete(ctx context.Context, path string, version int64) error
	// List returns all nodes whose path starts with prefix, ordered by path.
	List(ctx context.Context, prefix string) ([]*Node, error)
	// DeletePrefix removes every node under prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// Watch streams events for nodes under prefix until ctx is done.
	Watch(ctx context.Context, prefix string) (<-chan Event, error)
	// Close releases the underlying client.
	Close() error
}

// FamilyNodeRegistrar is the capability of maintaining per-table family nodes
// in the coordination store. The table lifecycle manager depends on this
// interface rather than on a concrete ledger implementation, so backends that
// keep no durable registration state can supply a no-op.
type FamilyNodeRegistrar interface {
	RegisterFamilyNodes(ctx context.Context, table string, families []string) error
	DeleteFamilyNodes(ctx context.Context, table string) error
}
