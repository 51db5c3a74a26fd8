// Package ledger maintains the durable revision bookkeeping for every managed
// (table, column family) pair: the next revision number to issue and the open
// and committed write records needed to compute the latest revision a reader
// may safely observe. All state lives in the coordination store and is only
// mutated through per-node compare-and-set, so concurrent workers in separate
// processes serialize through the store rather than any in-process lock.
package ledger

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/tabrev-incubator/tabrev/coordination"
	"github.com/tabrev-incubator/tabrev/taberr"
	"go.uber.org/zap"
)

// casMaxRetries bounds how often a compare-and-set loop re-reads after losing
// a race. Losing this many times in a row means something is spinning on the
// same family document and backing off to the caller is safer.
const casMaxRetries = 100

// RevisionLedger issues revision numbers and tracks write records per
// (table, family). It is safe for concurrent use from multiple goroutines and
// multiple processes.
type RevisionLedger struct {
	store    coordination.Store
	rootPath string
	retry    coordination.RetryConfig
}

// NewRevisionLedger creates a ledger rooted at rootPath in the given store.
func NewRevisionLedger(store coordination.Store, rootPath string, retry coordination.RetryConfig) *RevisionLedger {
	return &RevisionLedger{store: store, rootPath: rootPath, retry: retry}
}

func (l *RevisionLedger) tablesPath() string {
	return path.Join(l.rootPath, "tables") + "/"
}

func (l *RevisionLedger) tablePath(table string) string {
	return path.Join(l.rootPath, "tables", table)
}

func (l *RevisionLedger) familyPath(table, family string) string {
	return path.Join(l.rootPath, "tables", table, family)
}

// Bootstrap registers a table: a marker node recording its families plus one
// state document per family. Fails with taberr.ErrAlreadyExists if the table
// is already registered.
func (l *RevisionLedger) Bootstrap(ctx context.Context, table string, families []string) error {
	info := tableInfo{Families: append([]string(nil), families...), CreatedAt: time.Now()}
	sort.Strings(info.Families)
	data, err := marshalTableInfo(&info)
	if err != nil {
		return err
	}
	err = coordination.WithRetry(ctx, l.retry, func() error {
		return l.store.Create(ctx, l.tablePath(table), data)
	})
	if errors.Cause(err) == coordination.ErrNodeExists {
		return errors.Annotate(taberr.ErrAlreadyExists, "ledger entry for table "+table)
	}
	if err != nil {
		return err
	}
	for _, family := range info.Families {
		st := newFamilyState()
		data, err := st.encode()
		if err != nil {
			return err
		}
		err = coordination.WithRetry(ctx, l.retry, func() error {
			return l.store.Create(ctx, l.familyPath(table, family), data)
		})
		if err != nil && errors.Cause(err) != coordination.ErrNodeExists {
			return err
		}
	}
	log.Info("registered table in revision ledger",
		zap.String("table", table), zap.Strings("families", info.Families))
	return nil
}

// Teardown deletes every ledger node of a table. It is idempotent.
func (l *RevisionLedger) Teardown(ctx context.Context, table string) error {
	err := coordination.WithRetry(ctx, l.retry, func() error {
		return l.store.DeletePrefix(ctx, l.tablePath(table))
	})
	if err != nil {
		return err
	}
	log.Info("deleted revision ledger entries", zap.String("table", table))
	return nil
}

// RegisterFamilyNodes implements coordination.FamilyNodeRegistrar.
func (l *RevisionLedger) RegisterFamilyNodes(ctx context.Context, table string, families []string) error {
	return l.Bootstrap(ctx, table, families)
}

// DeleteFamilyNodes implements coordination.FamilyNodeRegistrar.
func (l *RevisionLedger) DeleteFamilyNodes(ctx context.Context, table string) error {
	return l.Teardown(ctx, table)
}

// Tables returns the names of all registered tables.
func (l *RevisionLedger) Tables(ctx context.Context) ([]string, error) {
	var nodes []*coordination.Node
	err := coordination.WithRetry(ctx, l.retry, func() error {
		var lerr error
		nodes, lerr = l.store.List(ctx, l.tablesPath())
		return lerr
	})
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, node := range nodes {
		rel := strings.TrimPrefix(node.Path, l.tablesPath())
		if !strings.Contains(rel, "/") {
			tables = append(tables, rel)
		}
	}
	return tables, nil
}

// Families returns the registered column families of a table.
func (l *RevisionLedger) Families(ctx context.Context, table string) ([]string, error) {
	var node *coordination.Node
	err := coordination.WithRetry(ctx, l.retry, func() error {
		var gerr error
		node, gerr = l.store.Get(ctx, l.tablePath(table))
		return gerr
	})
	if errors.Cause(err) == coordination.ErrNodeNotFound {
		return nil, errors.Annotate(taberr.ErrTableNotFound, table)
	}
	if err != nil {
		return nil, err
	}
	info, err := parseTableInfo(node.Data)
	if err != nil {
		return nil, err
	}
	return info.Families, nil
}

// NextRevision atomically increments and returns the revision counter of
// (table, family). Numbers are issued exactly once and strictly increase in
// issuance order across all callers.
func (l *RevisionLedger) NextRevision(ctx context.Context, table, family string) (uint64, error) {
	var issued uint64
	err := l.mutate(ctx, table, family, func(st *familyState) error {
		issued = st.NextRevision
		st.NextRevision++
		return nil
	})
	if err != nil {
		revisionCounter.WithLabelValues(table, "err").Inc()
		return 0, err
	}
	revisionCounter.WithLabelValues(table, "ok").Inc()
	return issued, nil
}

// RecordOpen durably appends an open write record. The record is visible to
// every ledger reader once RecordOpen returns.
func (l *RevisionLedger) RecordOpen(ctx context.Context, table, family string, rec WriteRecord) error {
	return l.mutate(ctx, table, family, func(st *familyState) error {
		if st.findOpen(rec.TxnID) >= 0 {
			return nil
		}
		st.Open = append(st.Open, rec)
		sort.Slice(st.Open, func(i, j int) bool { return st.Open[i].Revision < st.Open[j].Revision })
		return nil
	})
}

// RecordCommitted moves a record from open to committed. Committing an
// already committed record is a no-op; committing one that was aborted (or
// never opened) fails with taberr.ErrInvalidTransactionState.
func (l *RevisionLedger) RecordCommitted(ctx context.Context, table, family, txnID string) error {
	return l.mutate(ctx, table, family, func(st *familyState) error {
		i := st.findOpen(txnID)
		if i < 0 {
			if st.findCommitted(txnID) >= 0 {
				return nil
			}
			return errors.Annotatef(taberr.ErrInvalidTransactionState,
				"commit: transaction %s not open on %s/%s", txnID, table, family)
		}
		rec := st.Open[i]
		st.Open = append(st.Open[:i], st.Open[i+1:]...)
		st.Committed = append(st.Committed, rec)
		sort.Slice(st.Committed, func(a, b int) bool { return st.Committed[a].Revision < st.Committed[b].Revision })
		return nil
	})
}

// RecordAborted removes a record from the open list. Aborting a record that
// is no longer open is a no-op unless it committed, which fails with
// taberr.ErrInvalidTransactionState.
func (l *RevisionLedger) RecordAborted(ctx context.Context, table, family, txnID string) error {
	return l.mutate(ctx, table, family, func(st *familyState) error {
		i := st.findOpen(txnID)
		if i < 0 {
			if st.findCommitted(txnID) >= 0 {
				return errors.Annotatef(taberr.ErrInvalidTransactionState,
					"abort: transaction %s already committed on %s/%s", txnID, table, family)
			}
			return nil
		}
		st.Open = append(st.Open[:i], st.Open[i+1:]...)
		return nil
	})
}

// SafeRevision returns the newest revision a reader may observe for
// (table, family): one less than the lowest open revision if any write is in
// flight, otherwise the highest committed revision. The store may apply the
// rows of one logical revision non-atomically, so a reader must never be
// given a revision for which an older-or-equal write is still open.
func (l *RevisionLedger) SafeRevision(ctx context.Context, table, family string) (uint64, error) {
	st, _, err := l.read(ctx, table, family)
	if err != nil {
		return 0, err
	}
	if min := st.minOpenRevision(); min > 0 {
		return min - 1, nil
	}
	return st.maxCommittedRevision(), nil
}

// OpenRecords returns the in-flight write records of (table, family),
// ordered by revision.
func (l *RevisionLedger) OpenRecords(ctx context.Context, table, family string) ([]WriteRecord, error) {
	st, _, err := l.read(ctx, table, family)
	if err != nil {
		return nil, err
	}
	return append([]WriteRecord(nil), st.Open...), nil
}

// CommittedRecords returns the retained committed write records of the
// family, oldest first.
func (l *RevisionLedger) CommittedRecords(ctx context.Context, table, family string) ([]WriteRecord, error) {
	st, _, err := l.read(ctx, table, family)
	if err != nil {
		return nil, err
	}
	return append([]WriteRecord(nil), st.Committed...), nil
}

// PruneCommitted drops committed records beyond the newest keep entries.
// The newest committed record is always retained: SafeRevision depends on it
// when no write is open.
func (l *RevisionLedger) PruneCommitted(ctx context.Context, table, family string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	return l.mutate(ctx, table, family, func(st *familyState) error {
		if excess := len(st.Committed) - keep; excess > 0 {
			st.Committed = append([]WriteRecord(nil), st.Committed[excess:]...)
		}
		return nil
	})
}

// read fetches and decodes a family document.
func (l *RevisionLedger) read(ctx context.Context, table, family string) (*familyState, int64, error) {
	var node *coordination.Node
	err := coordination.WithRetry(ctx, l.retry, func() error {
		var gerr error
		node, gerr = l.store.Get(ctx, l.familyPath(table, family))
		return gerr
	})
	if errors.Cause(err) == coordination.ErrNodeNotFound {
		return nil, 0, errors.Annotatef(taberr.ErrTableNotFound, "%s/%s", table, family)
	}
	if err != nil {
		return nil, 0, err
	}
	st, err := parseFamilyState(node.Data)
	if err != nil {
		return nil, 0, err
	}
	return st, node.Version, nil
}

// mutate runs fn against the current family document and writes the result
// back conditionally, re-reading whenever another worker won the race.
func (l *RevisionLedger) mutate(ctx context.Context, table, family string, fn func(*familyState) error) error {
	for attempt := 0; attempt < casMaxRetries; attempt++ {
		st, version, err := l.read(ctx, table, family)
		if err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
		data, err := st.encode()
		if err != nil {
			return err
		}
		err = coordination.WithRetry(ctx, l.retry, func() error {
			return l.store.Update(ctx, l.familyPath(table, family), data, version)
		})
		if errors.Cause(err) == coordination.ErrVersionConflict {
			casConflictCounter.WithLabelValues(table).Inc()
			continue
		}
		return err
	}
	return errors.Annotatef(taberr.ErrCoordinationUnavailable,
		"gave up after %d compare-and-set conflicts on %s/%s", casMaxRetries, table, family)
}
