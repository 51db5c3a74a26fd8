package lifecycle

import (
	"sort"
	"strings"

	"github.com/pingcap/errors"
)

// KeyColumnSpec marks the catalog column that maps to the store's row key
// instead of a real column family.
const KeyColumnSpec = ":key"

// DefaultDatabase is the catalog database whose name is omitted from
// qualified table names.
const DefaultDatabase = "default"

// ColumnMapping is a parsed column-mapping declaration: one entry per catalog
// column, positionally aligned with the table's declared columns. Entries
// have the form "family:qualifier", except the single ":key" entry naming the
// row-key column.
type ColumnMapping struct {
	Families   []string
	Qualifiers []string
	KeyIndex   int
}

// ParseColumnMapping parses a comma-separated mapping declaration such as
// "cf1:q1,:key,cf2:q2". Exactly one ":key" entry is required.
func ParseColumnMapping(spec string) (*ColumnMapping, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, errors.New("no column mapping declared in table properties")
	}
	parts := strings.Split(spec, ",")
	m := &ColumnMapping{
		Families:   make([]string, len(parts)),
		Qualifiers: make([]string, len(parts)),
		KeyIndex:   -1,
	}
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == KeyColumnSpec {
			if m.KeyIndex >= 0 {
				return nil, errors.Errorf("column mapping declares %s twice", KeyColumnSpec)
			}
			m.KeyIndex = i
			m.Families[i] = KeyColumnSpec
			continue
		}
		idx := strings.Index(part, ":")
		if idx <= 0 {
			return nil, errors.Errorf("malformed column mapping entry %q", part)
		}
		m.Families[i] = part[:idx]
		m.Qualifiers[i] = part[idx+1:]
	}
	if m.KeyIndex < 0 {
		return nil, errors.Errorf("column mapping must declare a %s column", KeyColumnSpec)
	}
	return m, nil
}

// DataFamilies returns the distinct column families of the mapping, sorted,
// excluding the key pseudo-family.
func (m *ColumnMapping) DataFamilies() []string {
	seen := make(map[string]struct{})
	var families []string
	for i, family := range m.Families {
		if i == m.KeyIndex {
			continue
		}
		if _, ok := seen[family]; ok {
			continue
		}
		seen[family] = struct{}{}
		families = append(families, family)
	}
	sort.Strings(families)
	return families
}

// TableDescriptor is what the metadata catalog hands over at create/drop time
// and at job submission.
type TableDescriptor struct {
	Database string
	Table    string
	// Columns are the catalog's declared column names, positionally aligned
	// with MappingSpec entries.
	Columns     []string
	MappingSpec string
	External    bool
	// Location is the table's storage location, used for bulk-mode staging.
	Location string
}

// QualifiedName returns "database.table", omitting the default database the
// way the catalog does.
func (d *TableDescriptor) QualifiedName() string {
	if d.Database == "" || d.Database == DefaultDatabase {
		return d.Table
	}
	return d.Database + "." + d.Table
}

// Mapping parses the descriptor's column-mapping declaration.
func (d *TableDescriptor) Mapping() (*ColumnMapping, error) {
	m, err := ParseColumnMapping(d.MappingSpec)
	if err != nil {
		return nil, err
	}
	if len(d.Columns) > 0 && len(d.Columns) != len(m.Families) {
		return nil, errors.Errorf("column mapping declares %d entries for %d columns",
			len(m.Families), len(d.Columns))
	}
	return m, nil
}
