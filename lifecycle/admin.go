// Package lifecycle validates and provisions the store-side schema of catalog
// tables and keeps it in step with the revision ledger's registration nodes.
package lifecycle

import (
	"context"
	"math"
)

// UnboundedVersions is the version-retention setting every managed column
// family must be created with. The revision ledger relies on the store
// preserving full row history across revisions; a family with bounded
// retention silently breaks snapshot correctness.
const UnboundedVersions = math.MaxInt32

// FamilySchema describes one column family in the store.
type FamilySchema struct {
	Name        string
	MaxVersions int
}

// TableSchema describes a store-side table.
type TableSchema struct {
	Name     string
	Families []FamilySchema
}

// HasFamily reports whether the schema contains a family with this name.
func (s *TableSchema) HasFamily(name string) bool {
	for _, f := range s.Families {
		if f.Name == name {
			return true
		}
	}
	return false
}

// StoreAdmin is the store's administrative client, an external collaborator.
// Implementations wrap whatever admin API the column-family store exposes.
type StoreAdmin interface {
	TableExists(ctx context.Context, name string) (bool, error)
	CreateTable(ctx context.Context, schema TableSchema) error
	Schema(ctx context.Context, name string) (*TableSchema, error)
	DeleteTable(ctx context.Context, name string) error
	EnableTable(ctx context.Context, name string) error
	DisableTable(ctx context.Context, name string) error
	TableEnabled(ctx context.Context, name string) (bool, error)
}
