// Package jobprops translates catalog job descriptors into the store-specific
// properties a distributed job needs: the target table, the column projection
// to scan, the snapshot to read, or the transaction to write into. It is thin
// glue around the transaction manager; all coordination lives below it.
package jobprops

import (
	"context"
	"strings"

	"github.com/pingcap/errors"
	"github.com/tabrev-incubator/tabrev/lifecycle"
	"github.com/tabrev-incubator/tabrev/txn"
)

// Property keys injected into job configurations.
const (
	PropInputTable    = "tabrev.mapreduce.inputTable"
	PropScanColumns   = "tabrev.mapreduce.scanColumns"
	PropTableSnapshot = "tabrev.table.snapshot"
	PropOutputTable   = "tabrev.mapreduce.outputTable"
	PropWriteTxn      = "tabrev.write.transaction"
	PropStagingOutput = "tabrev.bulk.outputLocation"
)

// InputJobInfo describes a read job as submitted by the catalog.
type InputJobInfo struct {
	// OutputColumns restricts the projection; empty means every data column.
	OutputColumns []string
	// Properties carries state across job-setup calls; an existing serialized
	// snapshot there is reused instead of taking a new one.
	Properties map[string]string
}

// OutputJobInfo describes a write job as submitted by the catalog.
type OutputJobInfo struct {
	BulkMode bool
	// Properties carries state across job-setup calls; an existing serialized
	// transaction there is reused instead of beginning a new one.
	Properties map[string]string
}

// Adapter produces job properties for read and write jobs.
type Adapter struct {
	txns *txn.Manager
}

// NewAdapter creates an Adapter on top of a transaction manager.
func NewAdapter(txns *txn.Manager) *Adapter {
	return &Adapter{txns: txns}
}

// ConfigureInput returns the properties of a read job: target table, scan
// projection, and a serialized snapshot pinning what the job may observe.
// The snapshot is taken once per job; re-invocations reuse the serialized one.
func (a *Adapter) ConfigureInput(ctx context.Context, desc *lifecycle.TableDescriptor, info *InputJobInfo) (map[string]string, error) {
	mapping, err := desc.Mapping()
	if err != nil {
		return nil, err
	}
	name := desc.QualifiedName()

	props := map[string]string{PropInputTable: name}
	props[PropScanColumns], err = ScanColumns(desc, mapping, info.OutputColumns)
	if err != nil {
		return nil, err
	}

	if ser := info.Properties[PropTableSnapshot]; ser != "" {
		props[PropTableSnapshot] = ser
		return props, nil
	}
	snap, err := a.txns.ReadSnapshot(ctx, name)
	if err != nil {
		return nil, errors.Annotatef(err, "configuring read job on %s", name)
	}
	props[PropTableSnapshot], err = snap.Serialize()
	if err != nil {
		return nil, err
	}
	return props, nil
}

// ConfigureOutput returns the properties of a write job: target table and a
// serialized write transaction, plus the staging directory in bulk mode.
// The transaction is begun once per job; re-invocations reuse the serialized
// one so a job never holds two revisions.
func (a *Adapter) ConfigureOutput(ctx context.Context, desc *lifecycle.TableDescriptor, info *OutputJobInfo) (map[string]string, error) {
	mapping, err := desc.Mapping()
	if err != nil {
		return nil, err
	}
	name := desc.QualifiedName()
	props := map[string]string{PropOutputTable: name}

	var t *txn.WriteTransaction
	if ser := info.Properties[PropWriteTxn]; ser != "" {
		if t, err = txn.ParseTransaction(ser); err != nil {
			return nil, err
		}
		props[PropWriteTxn] = ser
	} else {
		if info.BulkMode {
			t, err = a.txns.BeginBulkWrite(ctx, name, mapping.DataFamilies(), desc.Location)
		} else {
			t, err = a.txns.BeginWrite(ctx, name, mapping.DataFamilies())
		}
		if err != nil {
			return nil, errors.Annotatef(err, "configuring write job on %s", name)
		}
		if props[PropWriteTxn], err = t.Serialize(); err != nil {
			return nil, err
		}
	}

	if t.BulkMode {
		props[PropStagingOutput] = t.StagingLocation
	}
	return props, nil
}

// ScanColumns renders the projection of a read job as space-separated
// "family:qualifier" entries, skipping the row-key pseudo-column. With no
// requested columns every data column is scanned.
func ScanColumns(desc *lifecycle.TableDescriptor, mapping *lifecycle.ColumnMapping, requested []string) (string, error) {
	indexes := make([]int, 0, len(mapping.Families))
	if len(requested) == 0 {
		for i := range mapping.Families {
			indexes = append(indexes, i)
		}
	} else {
		for _, column := range requested {
			i, err := columnIndex(desc, column)
			if err != nil {
				return "", err
			}
			indexes = append(indexes, i)
		}
	}

	var parts []string
	for _, i := range indexes {
		if i == mapping.KeyIndex {
			continue
		}
		parts = append(parts, mapping.Families[i]+":"+mapping.Qualifiers[i])
	}
	return strings.Join(parts, " "), nil
}

func columnIndex(desc *lifecycle.TableDescriptor, column string) (int, error) {
	for i, name := range desc.Columns {
		if name == column {
			return i, nil
		}
	}
	return 0, errors.Errorf("column %s is not declared on table %s", column, desc.QualifiedName())
}
