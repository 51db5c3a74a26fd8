package ledger

import (
	"encoding/json"
	"time"

	"github.com/pingcap/errors"
)

// WriteRecord is the durable trace of one write transaction within a single
// column family. Its status is positional: a record sits either in the open
// or the committed list of its family document, and an aborted record is
// removed entirely.
type WriteRecord struct {
	TxnID    string    `json:"txn_id"`
	Revision uint64    `json:"revision"`
	Families []string  `json:"families"`
	OpenedAt time.Time `json:"opened_at"`
}

// familyState is the per (table, family) document persisted in the
// coordination store. It is only ever mutated through compare-and-set.
type familyState struct {
	// NextRevision is the next revision number to issue. Starts at 1.
	NextRevision uint64 `json:"next_revision"`
	// Open holds records of in-flight transactions, ordered by revision.
	Open []WriteRecord `json:"open"`
	// Committed holds retained committed records, ordered by revision. The
	// newest entry is always kept so SafeRevision stays correct after pruning.
	Committed []WriteRecord `json:"committed"`
}

func newFamilyState() *familyState {
	return &familyState{NextRevision: 1}
}

func parseFamilyState(data []byte) (*familyState, error) {
	st := new(familyState)
	if err := json.Unmarshal(data, st); err != nil {
		return nil, errors.Annotate(err, "corrupt ledger state")
	}
	return st, nil
}

func (st *familyState) encode() ([]byte, error) {
	data, err := json.Marshal(st)
	return data, errors.WithStack(err)
}

// minOpenRevision returns the lowest open revision, or 0 if none are open.
func (st *familyState) minOpenRevision() uint64 {
	var min uint64
	for _, rec := range st.Open {
		if min == 0 || rec.Revision < min {
			min = rec.Revision
		}
	}
	return min
}

// maxCommittedRevision returns the highest committed revision, or 0.
func (st *familyState) maxCommittedRevision() uint64 {
	var max uint64
	for _, rec := range st.Committed {
		if rec.Revision > max {
			max = rec.Revision
		}
	}
	return max
}

func (st *familyState) findOpen(txnID string) int {
	for i, rec := range st.Open {
		if rec.TxnID == txnID {
			return i
		}
	}
	return -1
}

func (st *familyState) findCommitted(txnID string) int {
	for i, rec := range st.Committed {
		if rec.TxnID == txnID {
			return i
		}
	}
	return -1
}

// tableInfo is the table marker document, recording which families were
// registered so readers do not need to parse node paths.
type tableInfo struct {
	Families  []string  `json:"families"`
	CreatedAt time.Time `json:"created_at"`
}

func marshalTableInfo(info *tableInfo) ([]byte, error) {
	data, err := json.Marshal(info)
	return data, errors.WithStack(err)
}

func parseTableInfo(data []byte) (*tableInfo, error) {
	info := new(tableInfo)
	if err := json.Unmarshal(data, info); err != nil {
		return nil, errors.Annotate(err, "corrupt table registration")
	}
	return info, nil
}
