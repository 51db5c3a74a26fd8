// Package txn issues write transactions and read snapshots over the revision
// ledger, and runs the recovery sweep that aborts transactions whose writer
// died. It is the only layer that transitions ledger records.
package txn

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pingcap/errors"
)

// Status is the lifecycle state of a WriteTransaction. OPEN is the only
// non-terminal state; a transaction transitions exactly once, to either
// COMMITTED or ABORTED.
type Status int32

const (
	StatusOpen Status = iota
	StatusCommitted
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusCommitted:
		return "COMMITTED"
	case StatusAborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// WriteTransaction is the writer-side handle of one logical write. All column
// families touched by a job share one transaction id but carry independent
// per-family revision numbers; commit and abort apply to every family, so the
// job's write is atomic from a reader's point of view.
type WriteTransaction struct {
	ID        string            `json:"id"`
	Table     string            `json:"table"`
	Revisions map[string]uint64 `json:"revisions"` // family -> revision
	Status    Status            `json:"status"`
	StartedAt time.Time         `json:"started_at"`

	// Bulk mode: data is staged under StagingLocation and must be promoted
	// before the transaction may become COMMITTED.
	BulkMode        bool   `json:"bulk_mode,omitempty"`
	StagingLocation string `json:"staging_location,omitempty"`
}

// Families returns the column families this transaction writes, in no
// particular order.
func (t *WriteTransaction) Families() []string {
	families := make([]string, 0, len(t.Revisions))
	for family := range t.Revisions {
		families = append(families, family)
	}
	return families
}

// Revision returns the revision number issued for one family.
func (t *WriteTransaction) Revision(family string) (uint64, bool) {
	rev, ok := t.Revisions[family]
	return rev, ok
}

// MaxRevision returns the highest revision number issued to this transaction
// across its families. It tags the bulk staging location.
func (t *WriteTransaction) MaxRevision() uint64 {
	var max uint64
	for _, rev := range t.Revisions {
		if rev > max {
			max = rev
		}
	}
	return max
}

// Serialize encodes the transaction for distribution inside job properties.
func (t *WriteTransaction) Serialize() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ParseTransaction decodes a transaction produced by Serialize.
func ParseTransaction(s string) (*WriteTransaction, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Annotate(err, "malformed serialized transaction")
	}
	t := new(WriteTransaction)
	if err := json.Unmarshal(data, t); err != nil {
		return nil, errors.Annotate(err, "malformed serialized transaction")
	}
	return t, nil
}
