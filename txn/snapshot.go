package txn

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pingcap/errors"
)

// Snapshot is an immutable per-family read bound for one table. A reader
// filters store queries to revisions at or below the family's safe revision,
// so it only ever sees fully committed data. A snapshot never changes after
// it is computed, even when later writes commit.
type Snapshot struct {
	Table     string            `json:"table"`
	Revisions map[string]uint64 `json:"revisions"` // family -> latest safe revision
	TakenAt   time.Time         `json:"taken_at"`
}

// SafeRevision returns the read bound for one family.
func (s *Snapshot) SafeRevision(family string) (uint64, bool) {
	rev, ok := s.Revisions[family]
	return rev, ok
}

// Serialize encodes the snapshot for distribution inside job properties.
func (s *Snapshot) Serialize() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ParseSnapshot decodes a snapshot produced by Serialize.
func ParseSnapshot(str string) (*Snapshot, error) {
	data, err := base64.StdEncoding.DecodeString(str)
	if err != nil {
		return nil, errors.Annotate(err, "malformed serialized snapshot")
	}
	s := new(Snapshot)
	if err := json.Unmarshal(data, s); err != nil {
		return nil, errors.Annotate(err, "malformed serialized snapshot")
	}
	return s, nil
}
