package lifecycle

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/tabrev-incubator/tabrev/coordination"
	"github.com/tabrev-incubator/tabrev/taberr"
	"go.uber.org/zap"
)

// Manager creates, validates, and tears down the store-side schema of catalog
// tables and registers them with the revision ledger. Create and drop are
// all-or-nothing: a failure after the store table was created rolls the
// schema back before the error surfaces, so the catalog never ends up holding
// a table with partial backing state.
type Manager struct {
	admin     StoreAdmin
	registrar coordination.FamilyNodeRegistrar
}

// NewManager wires a lifecycle manager to the store's admin client and the
// ledger's registration capability.
func NewManager(admin StoreAdmin, registrar coordination.FamilyNodeRegistrar) *Manager {
	return &Manager{admin: admin, registrar: registrar}
}

// RegisterTable provisions a catalog table. For a managed (non-external)
// table the store table is created with every mapped family at unlimited
// version retention; for an external table the pre-existing store schema is
// validated against the declared mapping. In both cases the table's family
// nodes are then registered in the ledger.
func (m *Manager) RegisterTable(ctx context.Context, desc *TableDescriptor) error {
	mapping, err := desc.Mapping()
	if err != nil {
		return err
	}
	name := desc.QualifiedName()
	families := mapping.DataFamilies()

	exists, err := m.admin.TableExists(ctx, name)
	if err != nil {
		return errors.Annotate(err, "checking store table")
	}

	createdHere := false
	switch {
	case !exists && desc.External:
		return errors.Annotatef(taberr.ErrTableNotFound,
			"store table %s missing but declared external", name)
	case !exists:
		schema := TableSchema{Name: name}
		for _, family := range families {
			schema.Families = append(schema.Families, FamilySchema{
				Name: family,
				// Unlimited retention is required: snapshots read historical
				// revisions and a bounded family would drop them silently.
				MaxVersions: UnboundedVersions,
			})
		}
		if err := m.admin.CreateTable(ctx, schema); err != nil {
			return errors.Annotatef(err, "creating store table %s", name)
		}
		createdHere = true
		log.Info("created store table", zap.String("table", name), zap.Strings("families", families))
	case !desc.External:
		return errors.Annotatef(taberr.ErrAlreadyExists,
			"store table %s exists; declare the table external to register it", name)
	default:
		if err := m.validateExternalSchema(ctx, name, families); err != nil {
			return err
		}
	}

	if err := m.ensureEnabled(ctx, name); err != nil {
		m.rollbackCreated(ctx, name, createdHere)
		return err
	}

	if err := m.registrar.RegisterFamilyNodes(ctx, name, families); err != nil {
		// Nodes that already exist belong to an earlier successful
		// registration, with live revision state the retry must not touch;
		// only a registration that failed partway leaves nodes to clear.
		if !taberr.IsAlreadyExists(err) {
			if derr := m.registrar.DeleteFamilyNodes(ctx, name); derr != nil {
				log.Error("rollback of ledger nodes failed", zap.String("table", name), zap.Error(derr))
			}
		}
		m.rollbackCreated(ctx, name, createdHere)
		return errors.Annotatef(err, "registering ledger nodes for %s", name)
	}
	return nil
}

// ValidateExistingSchema checks that the store table backing an external
// table covers every declared family except the key pseudo-family.
func (m *Manager) ValidateExistingSchema(ctx context.Context, desc *TableDescriptor) error {
	mapping, err := desc.Mapping()
	if err != nil {
		return err
	}
	return m.validateExternalSchema(ctx, desc.QualifiedName(), mapping.DataFamilies())
}

func (m *Manager) validateExternalSchema(ctx context.Context, name string, families []string) error {
	schema, err := m.admin.Schema(ctx, name)
	if err != nil {
		return errors.Annotatef(err, "reading schema of %s", name)
	}
	for _, family := range families {
		if !schema.HasFamily(family) {
			return errors.Annotatef(taberr.ErrSchemaMismatch,
				"column family %s is not defined in store table %s", family, name)
		}
	}
	return nil
}

// DropTable deletes the table's ledger entries, and the store-side table too
// unless the table is external.
func (m *Manager) DropTable(ctx context.Context, desc *TableDescriptor) error {
	name := desc.QualifiedName()
	if err := m.registrar.DeleteFamilyNodes(ctx, name); err != nil {
		return errors.Annotatef(err, "deleting ledger nodes for %s", name)
	}
	if desc.External {
		return nil
	}
	exists, err := m.admin.TableExists(ctx, name)
	if err != nil {
		return errors.Annotate(err, "checking store table")
	}
	if !exists {
		return nil
	}
	if err := m.deleteStoreTable(ctx, name); err != nil {
		return err
	}
	log.Info("dropped store table", zap.String("table", name))
	return nil
}

// RollbackFailedCreate undoes whatever a failed RegisterTable left behind.
// It tolerates partially created state and never touches an external table's
// store-side schema.
func (m *Manager) RollbackFailedCreate(ctx context.Context, desc *TableDescriptor) error {
	err := m.DropTable(ctx, desc)
	if taberr.IsTableNotFound(err) {
		return nil
	}
	return err
}

func (m *Manager) ensureEnabled(ctx context.Context, name string) error {
	enabled, err := m.admin.TableEnabled(ctx, name)
	if err != nil {
		return errors.Annotatef(err, "checking whether %s is enabled", name)
	}
	if enabled {
		return nil
	}
	return errors.Annotatef(m.admin.EnableTable(ctx, name), "enabling %s", name)
}

func (m *Manager) deleteStoreTable(ctx context.Context, name string) error {
	enabled, err := m.admin.TableEnabled(ctx, name)
	if err != nil {
		return errors.Annotatef(err, "checking whether %s is enabled", name)
	}
	if enabled {
		if err := m.admin.DisableTable(ctx, name); err != nil {
			return errors.Annotatef(err, "disabling %s", name)
		}
	}
	return errors.Annotatef(m.admin.DeleteTable(ctx, name), "deleting store table %s", name)
}

// rollbackCreated removes a store table created earlier in the same
// operation. Rollback failures are logged, not returned: the original error
// is the one the catalog needs to see.
func (m *Manager) rollbackCreated(ctx context.Context, name string, createdHere bool) {
	if !createdHere {
		return
	}
	if err := m.deleteStoreTable(ctx, name); err != nil {
		log.Error("rollback of created store table failed",
			zap.String("table", name), zap.Error(err))
		return
	}
	log.Warn("rolled back store table after failed create", zap.String("table", name))
}
