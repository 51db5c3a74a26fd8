package lifecycle

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"github.com/tabrev-incubator/tabrev/taberr"
)

// MemAdmin is an in-memory StoreAdmin for tests and local tooling. It keeps
// only schema-level state; no row data.
type MemAdmin struct {
	mu      sync.Mutex
	tables  map[string]*memTable
	failOps map[string]error
}

type memTable struct {
	schema  TableSchema
	enabled bool
}

// NewMemAdmin creates an empty MemAdmin.
func NewMemAdmin() *MemAdmin {
	return &MemAdmin{tables: make(map[string]*memTable), failOps: make(map[string]error)}
}

// FailOp makes the named operation ("create", "delete", ...) return err once.
func (a *MemAdmin) FailOp(op string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failOps[op] = err
}

func (a *MemAdmin) takeFailure(op string) error {
	if err, ok := a.failOps[op]; ok {
		delete(a.failOps, op)
		return err
	}
	return nil
}

// TableExists implements StoreAdmin.
func (a *MemAdmin) TableExists(ctx context.Context, name string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.takeFailure("exists"); err != nil {
		return false, err
	}
	_, ok := a.tables[name]
	return ok, nil
}

// CreateTable implements StoreAdmin. New tables start enabled.
func (a *MemAdmin) CreateTable(ctx context.Context, schema TableSchema) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.takeFailure("create"); err != nil {
		return err
	}
	if _, ok := a.tables[schema.Name]; ok {
		return errors.Annotate(taberr.ErrAlreadyExists, schema.Name)
	}
	a.tables[schema.Name] = &memTable{schema: schema, enabled: true}
	return nil
}

// Schema implements StoreAdmin.
func (a *MemAdmin) Schema(ctx context.Context, name string) (*TableSchema, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tables[name]
	if !ok {
		return nil, errors.Annotate(taberr.ErrTableNotFound, name)
	}
	schema := t.schema
	schema.Families = append([]FamilySchema(nil), t.schema.Families...)
	return &schema, nil
}

// DeleteTable implements StoreAdmin. The table must be disabled first.
func (a *MemAdmin) DeleteTable(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.takeFailure("delete"); err != nil {
		return err
	}
	t, ok := a.tables[name]
	if !ok {
		return errors.Annotate(taberr.ErrTableNotFound, name)
	}
	if t.enabled {
		return errors.Errorf("table %s must be disabled before delete", name)
	}
	delete(a.tables, name)
	return nil
}

// EnableTable implements StoreAdmin.
func (a *MemAdmin) EnableTable(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tables[name]
	if !ok {
		return errors.Annotate(taberr.ErrTableNotFound, name)
	}
	t.enabled = true
	return nil
}

// DisableTable implements StoreAdmin.
func (a *MemAdmin) DisableTable(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tables[name]
	if !ok {
		return errors.Annotate(taberr.ErrTableNotFound, name)
	}
	t.enabled = false
	return nil
}

// TableEnabled implements StoreAdmin.
func (a *MemAdmin) TableEnabled(ctx context.Context, name string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tables[name]
	if !ok {
		return false, errors.Annotate(taberr.ErrTableNotFound, name)
	}
	return t.enabled, nil
}
