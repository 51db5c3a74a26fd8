package ledger

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabrev-incubator/tabrev/coordination"
	"github.com/tabrev-incubator/tabrev/taberr"
)

var testRetry = coordination.RetryConfig{Budget: 2, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func newTestLedger(t *testing.T) (*RevisionLedger, *coordination.MemStore) {
	store := coordination.NewMemStore()
	l := NewRevisionLedger(store, "/tabrev", testRetry)
	require.NoError(t, l.Bootstrap(context.Background(), "users", []string{"cf1", "cf2"}))
	return l, store
}

func openRecord(txnID string, rev uint64) WriteRecord {
	return WriteRecord{TxnID: txnID, Revision: rev, Families: []string{"cf1"}, OpenedAt: time.Now()}
}

func TestBootstrapAndFamilies(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	families, err := l.Families(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"cf1", "cf2"}, families)

	tables, err := l.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, tables)

	err = l.Bootstrap(ctx, "users", []string{"cf1"})
	assert.True(t, taberr.IsAlreadyExists(err))

	_, err = l.Families(ctx, "unknown")
	assert.True(t, taberr.IsTableNotFound(err))
}

func TestTeardownRemovesEverything(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t)

	require.NoError(t, l.Teardown(ctx, "users"))
	nodes, err := store.List(ctx, "/tabrev/tables/users")
	require.NoError(t, err)
	assert.Empty(t, nodes)

	// Idempotent.
	require.NoError(t, l.Teardown(ctx, "users"))
}

func TestNextRevisionStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	var prev uint64
	for i := 0; i < 10; i++ {
		rev, err := l.NextRevision(ctx, "users", "cf1")
		require.NoError(t, err)
		assert.True(t, rev > prev, "revision %d not greater than %d", rev, prev)
		prev = rev
	}

	// Counters are independent per family.
	rev, err := l.NextRevision(ctx, "users", "cf2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)
}

func TestNextRevisionConcurrentUniqueness(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	const writers = 8
	const perWriter = 25
	var mu sync.Mutex
	var revisions []uint64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				rev, err := l.NextRevision(ctx, "users", "cf1")
				assert.NoError(t, err)
				mu.Lock()
				revisions = append(revisions, rev)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, revisions, writers*perWriter)
	sort.Slice(revisions, func(i, j int) bool { return revisions[i] < revisions[j] })
	for i, rev := range revisions {
		assert.Equal(t, uint64(i+1), rev, "revisions must be dense and unique")
	}
}

func TestSafeRevisionRules(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	// No writes at all.
	safe, err := l.SafeRevision(ctx, "users", "cf1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), safe)

	// Writer A at revision 1, open.
	require.NoError(t, l.RecordOpen(ctx, "users", "cf1", openRecord("A", 1)))
	safe, err = l.SafeRevision(ctx, "users", "cf1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), safe)

	// A commits: its revision becomes visible.
	require.NoError(t, l.RecordCommitted(ctx, "users", "cf1", "A"))
	safe, err = l.SafeRevision(ctx, "users", "cf1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), safe)

	// B opens at 5 while C opens at 6: the bound is min(open)-1.
	require.NoError(t, l.RecordOpen(ctx, "users", "cf1", openRecord("B", 5)))
	require.NoError(t, l.RecordOpen(ctx, "users", "cf1", openRecord("C", 6)))
	safe, err = l.SafeRevision(ctx, "users", "cf1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), safe)

	// C committing first must not expose revision 6 while 5 is in flight.
	require.NoError(t, l.RecordCommitted(ctx, "users", "cf1", "C"))
	safe, err = l.SafeRevision(ctx, "users", "cf1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), safe)

	// B aborts: nothing older in flight, highest committed wins.
	require.NoError(t, l.RecordAborted(ctx, "users", "cf1", "B"))
	safe, err = l.SafeRevision(ctx, "users", "cf1")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), safe)
}

func TestRecordTransitions(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	require.NoError(t, l.RecordOpen(ctx, "users", "cf1", openRecord("A", 1)))

	// Commit is idempotent.
	require.NoError(t, l.RecordCommitted(ctx, "users", "cf1", "A"))
	require.NoError(t, l.RecordCommitted(ctx, "users", "cf1", "A"))

	// Abort after commit is invalid.
	err := l.RecordAborted(ctx, "users", "cf1", "A")
	assert.True(t, taberr.IsInvalidTransactionState(err))

	// Commit of a never-opened transaction is invalid.
	err = l.RecordCommitted(ctx, "users", "cf1", "ghost")
	assert.True(t, taberr.IsInvalidTransactionState(err))

	// Abort of a never-opened transaction is a no-op (crash recovery may
	// abort a transaction that wrote nothing).
	require.NoError(t, l.RecordAborted(ctx, "users", "cf1", "ghost"))

	// Commit after abort is invalid.
	require.NoError(t, l.RecordOpen(ctx, "users", "cf1", openRecord("B", 2)))
	require.NoError(t, l.RecordAborted(ctx, "users", "cf1", "B"))
	err = l.RecordCommitted(ctx, "users", "cf1", "B")
	assert.True(t, taberr.IsInvalidTransactionState(err))
}

func TestPruneCommittedKeepsNewest(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	for i := uint64(1); i <= 5; i++ {
		rec := openRecord(string(rune('A'+i-1)), i)
		require.NoError(t, l.RecordOpen(ctx, "users", "cf1", rec))
		require.NoError(t, l.RecordCommitted(ctx, "users", "cf1", rec.TxnID))
	}

	require.NoError(t, l.PruneCommitted(ctx, "users", "cf1", 2))
	st, _, err := l.read(ctx, "users", "cf1")
	require.NoError(t, err)
	require.Len(t, st.Committed, 2)

	// SafeRevision still reports the newest committed revision.
	safe, err := l.SafeRevision(ctx, "users", "cf1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), safe)

	// keep < 1 still retains the newest record.
	require.NoError(t, l.PruneCommitted(ctx, "users", "cf1", 0))
	safe, err = l.SafeRevision(ctx, "users", "cf1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), safe)
}

func TestCoordinationFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	store := coordination.NewMemStore()
	l := NewRevisionLedger(store, "/tabrev", coordination.RetryConfig{Budget: 0, Backoff: time.Millisecond})
	require.NoError(t, l.Bootstrap(ctx, "users", []string{"cf1"}))

	store.FailNext = assert.AnError
	_, err := l.NextRevision(ctx, "users", "cf1")
	assert.True(t, taberr.IsCoordinationUnavailable(err))
}
