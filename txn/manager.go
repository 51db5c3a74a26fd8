package txn

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/tabrev-incubator/tabrev/ledger"
	"github.com/tabrev-incubator/tabrev/taberr"
	"go.uber.org/zap"
)

// Manager issues write transactions and read snapshots for managed tables.
// It holds no state of its own; every transition goes through the ledger, so
// any number of Manager instances across processes stay consistent.
type Manager struct {
	ledger   *ledger.RevisionLedger
	promoter Promoter

	// now is replaceable for tests.
	now func() time.Time
}

// NewManager creates a Manager. promoter may be nil when bulk mode is unused.
func NewManager(l *ledger.RevisionLedger, promoter Promoter) *Manager {
	return &Manager{ledger: l, promoter: promoter, now: time.Now}
}

// BeginWrite opens a write transaction on the given column families. Each
// family gets its own revision number; the shared transaction id correlates
// them so commit and abort cover the whole job.
func (m *Manager) BeginWrite(ctx context.Context, table string, families []string) (*WriteTransaction, error) {
	return m.begin(ctx, table, families)
}

// BeginBulkWrite opens a bulk-mode write transaction. Staged output goes to a
// revision-tagged directory under tableLocation and is only promoted into the
// store at commit time.
func (m *Manager) BeginBulkWrite(ctx context.Context, table string, families []string, tableLocation string) (*WriteTransaction, error) {
	txn, err := m.begin(ctx, table, families)
	if err != nil {
		return nil, err
	}
	txn.BulkMode = true
	txn.StagingLocation = StagingLocation(tableLocation, txn.MaxRevision())
	return txn, nil
}

func (m *Manager) begin(ctx context.Context, table string, families []string) (*WriteTransaction, error) {
	if len(families) == 0 {
		return nil, errors.New("begin write: no column families given")
	}
	ordered := append([]string(nil), families...)
	sort.Strings(ordered)

	txn := &WriteTransaction{
		ID:        uuid.New().String(),
		Table:     table,
		Revisions: make(map[string]uint64, len(ordered)),
		Status:    StatusOpen,
		StartedAt: m.now().UTC(),
	}
	var opened []string
	for _, family := range ordered {
		rev, err := m.ledger.NextRevision(ctx, table, family)
		if err != nil {
			m.rollbackPartialBegin(ctx, txn, opened)
			return nil, errors.Annotatef(err, "begin write on %s/%s", table, family)
		}
		rec := ledger.WriteRecord{
			TxnID:    txn.ID,
			Revision: rev,
			Families: ordered,
			OpenedAt: txn.StartedAt,
		}
		if err := m.ledger.RecordOpen(ctx, table, family, rec); err != nil {
			m.rollbackPartialBegin(ctx, txn, opened)
			return nil, errors.Annotatef(err, "begin write on %s/%s", table, family)
		}
		txn.Revisions[family] = rev
		opened = append(opened, family)
	}
	txnCounter.WithLabelValues("begin", "ok").Inc()
	log.Info("write transaction opened",
		zap.String("txn", txn.ID), zap.String("table", table), zap.Strings("families", ordered))
	return txn, nil
}

// rollbackPartialBegin releases records opened before a begin failed partway.
// Failures here are only logged: the stale sweep will collect leftovers.
func (m *Manager) rollbackPartialBegin(ctx context.Context, txn *WriteTransaction, opened []string) {
	txnCounter.WithLabelValues("begin", "err").Inc()
	for _, family := range opened {
		if err := m.ledger.RecordAborted(ctx, txn.Table, family, txn.ID); err != nil {
			log.Warn("failed to roll back partially opened transaction",
				zap.String("txn", txn.ID), zap.String("table", txn.Table),
				zap.String("family", family), zap.Error(err))
		}
	}
}

// Commit marks every family record of txn committed. Committing an already
// committed transaction is a no-op; committing an aborted one fails with
// taberr.ErrInvalidTransactionState. For bulk transactions the staged data is
// promoted first: if promotion fails the transaction stays OPEN and remains
// invisible to readers until the commit is retried or the sweep aborts it.
func (m *Manager) Commit(ctx context.Context, txn *WriteTransaction) error {
	switch txn.Status {
	case StatusCommitted:
		return nil
	case StatusAborted:
		return errors.Annotatef(taberr.ErrInvalidTransactionState,
			"commit: transaction %s already aborted", txn.ID)
	}
	if txn.BulkMode {
		if m.promoter == nil {
			return errors.Errorf("commit: bulk transaction %s but no promoter configured", txn.ID)
		}
		// The sweep may have aborted this transaction while the bulk job ran.
		// Once promoted, staged rows become reader-visible as soon as newer
		// commits push the safe revision past them, so check the ledger
		// before moving any data. A sweep that lands between this check and
		// the promote can still race; the RecordCommitted below is what
		// catches that, at the cost of an orphaned promotion.
		promote, err := m.promotionPending(ctx, txn)
		if err != nil {
			txnCounter.WithLabelValues("commit", "err").Inc()
			return err
		}
		if promote {
			if err := m.promoter.Promote(ctx, txn, txn.StagingLocation); err != nil {
				txnCounter.WithLabelValues("commit", "promote_err").Inc()
				return errors.Annotatef(err, "commit: promoting staged data of %s", txn.ID)
			}
		}
	}
	for _, family := range sortedFamilies(txn) {
		if err := m.ledger.RecordCommitted(ctx, txn.Table, family, txn.ID); err != nil {
			txnCounter.WithLabelValues("commit", "err").Inc()
			return errors.Annotatef(err, "commit %s on %s/%s", txn.ID, txn.Table, family)
		}
	}
	txn.Status = StatusCommitted
	txnCounter.WithLabelValues("commit", "ok").Inc()
	log.Info("write transaction committed", zap.String("txn", txn.ID), zap.String("table", txn.Table))
	return nil
}

// promotionPending reports whether a bulk transaction's staged data still
// needs promoting. Every family open in the ledger means a first commit
// attempt: promote. A family already committed means an earlier attempt
// promoted before crashing mid-commit: don't promote again. A family neither
// open nor committed was aborted (typically by the stale sweep) and the
// commit must fail before any data moves.
func (m *Manager) promotionPending(ctx context.Context, txn *WriteTransaction) (bool, error) {
	promote := true
	for _, family := range sortedFamilies(txn) {
		open, err := m.ledger.OpenRecords(ctx, txn.Table, family)
		if err != nil {
			return false, errors.Annotatef(err, "commit %s: reading records of %s/%s",
				txn.ID, txn.Table, family)
		}
		if containsTxn(open, txn.ID) {
			continue
		}
		committed, err := m.ledger.CommittedRecords(ctx, txn.Table, family)
		if err != nil {
			return false, errors.Annotatef(err, "commit %s: reading records of %s/%s",
				txn.ID, txn.Table, family)
		}
		if !containsTxn(committed, txn.ID) {
			return false, errors.Annotatef(taberr.ErrInvalidTransactionState,
				"commit: transaction %s no longer open on %s/%s", txn.ID, txn.Table, family)
		}
		promote = false
	}
	return promote, nil
}

func containsTxn(records []ledger.WriteRecord, txnID string) bool {
	for _, rec := range records {
		if rec.TxnID == txnID {
			return true
		}
	}
	return false
}

// Abort marks every family record of txn aborted. It is safe to call whether
// or not any data was written: un-promoted or partially written rows are
// simply never exposed through a snapshot. Aborting an already aborted
// transaction is a no-op; aborting a committed one fails with
// taberr.ErrInvalidTransactionState.
func (m *Manager) Abort(ctx context.Context, txn *WriteTransaction) error {
	switch txn.Status {
	case StatusAborted:
		return nil
	case StatusCommitted:
		return errors.Annotatef(taberr.ErrInvalidTransactionState,
			"abort: transaction %s already committed", txn.ID)
	}
	for _, family := range sortedFamilies(txn) {
		if err := m.ledger.RecordAborted(ctx, txn.Table, family, txn.ID); err != nil {
			txnCounter.WithLabelValues("abort", "err").Inc()
			return errors.Annotatef(err, "abort %s on %s/%s", txn.ID, txn.Table, family)
		}
	}
	txn.Status = StatusAborted
	txnCounter.WithLabelValues("abort", "ok").Inc()
	log.Info("write transaction aborted", zap.String("txn", txn.ID), zap.String("table", txn.Table))
	return nil
}

// ReadSnapshot computes an immutable snapshot of the table: for every family
// the newest revision with no older-or-equal write still in flight.
func (m *Manager) ReadSnapshot(ctx context.Context, table string) (*Snapshot, error) {
	families, err := m.ledger.Families(ctx, table)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Table:     table,
		Revisions: make(map[string]uint64, len(families)),
		TakenAt:   m.now().UTC(),
	}
	for _, family := range families {
		rev, err := m.ledger.SafeRevision(ctx, table, family)
		if err != nil {
			return nil, errors.Annotatef(err, "snapshot of %s/%s", table, family)
		}
		snap.Revisions[family] = rev
	}
	snapshotCounter.Inc()
	return snap, nil
}

// SweepStale aborts every open record of the table older than maxAge. It
// returns the number of records aborted. Each stale transaction is logged;
// silently dropping one would leave safe revisions pinned forever.
func (m *Manager) SweepStale(ctx context.Context, table string, maxAge time.Duration) (int, error) {
	families, err := m.ledger.Families(ctx, table)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-maxAge)
	swept := 0
	var lastErr error
	for _, family := range families {
		records, err := m.ledger.OpenRecords(ctx, table, family)
		if err != nil {
			lastErr = err
			continue
		}
		for _, rec := range records {
			if !rec.OpenedAt.Before(cutoff) {
				continue
			}
			if err := m.ledger.RecordAborted(ctx, table, family, rec.TxnID); err != nil {
				lastErr = errors.Annotatef(err, "sweeping %s on %s/%s", rec.TxnID, table, family)
				continue
			}
			swept++
			sweptCounter.WithLabelValues(table).Inc()
			log.Warn("aborted stale transaction",
				zap.String("txn", rec.TxnID),
				zap.String("table", table),
				zap.String("family", family),
				zap.Uint64("revision", rec.Revision),
				zap.Time("opened-at", rec.OpenedAt),
				zap.Error(taberr.ErrStaleTransaction))
		}
	}
	return swept, lastErr
}

// PruneCommitted garbage-collects retained committed records of the table,
// keeping the newest keep entries per family. Snapshots only ever name the
// newest committed revision, so older records are dead weight once every
// job that could have observed them is gone.
func (m *Manager) PruneCommitted(ctx context.Context, table string, keep int) error {
	families, err := m.ledger.Families(ctx, table)
	if err != nil {
		return err
	}
	for _, family := range families {
		if err := m.ledger.PruneCommitted(ctx, table, family, keep); err != nil {
			return errors.Annotatef(err, "pruning %s/%s", table, family)
		}
	}
	return nil
}

func sortedFamilies(txn *WriteTransaction) []string {
	families := txn.Families()
	sort.Strings(families)
	return families
}
