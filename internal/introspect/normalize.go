package introspect

import (
	"sort"
	"strings"
)

// CanonicalType maps backend table-type vocabulary onto TABLE / VIEW.
// Anything not recognized passes through trimmed; an empty value becomes
// TABLE so the type is never blank.
func CanonicalType(raw string) string {
	t := strings.TrimSpace(raw)
	switch strings.ToUpper(t) {
	case "", "BASE TABLE", "TABLE", "REGULAR TABLE":
		return TypeTable
	case "VIEW", "SYSTEM VIEW":
		return TypeView
	default:
		return t
	}
}

// AssignOrdinals gives columns synthetic 1-based positions in slice order.
func AssignOrdinals(cols []Column) {
	for i := range cols {
		cols[i].OrdinalPosition = i + 1
	}
}

// SortColumns orders columns by ordinal position. If any position is
// missing or repeated, positions are re-synthesized from catalog order.
func SortColumns(cols []Column) {
	seen := make(map[int]bool, len(cols))
	valid := true
	for _, c := range cols {
		if c.OrdinalPosition <= 0 || seen[c.OrdinalPosition] {
			valid = false
			break
		}
		seen[c.OrdinalPosition] = true
	}
	if !valid {
		AssignOrdinals(cols)
		return
	}
	sort.SliceStable(cols, func(i, j int) bool {
		return cols[i].OrdinalPosition < cols[j].OrdinalPosition
	})
}

// Normalize finalizes an extraction result: duplicate (schema, name)
// pairs are dropped keeping the first, nil column slices become empty,
// column order follows ordinal position and the table type is never blank.
// It returns the number of dropped duplicates.
func Normalize(s *Schema) int {
	type key struct{ schema, name string }
	seen := make(map[key]bool, len(s.Tables))
	out := make([]Table, 0, len(s.Tables))
	dropped := 0
	for _, t := range s.Tables {
		k := key{t.Schema, t.Name}
		if seen[k] {
			dropped++
			continue
		}
		seen[k] = true
		if t.Columns == nil {
			t.Columns = []Column{}
		}
		if t.Type == "" {
			t.Type = TypeTable
		}
		SortColumns(t.Columns)
		for i := range t.Columns {
			if t.Columns[i].ColumnProperties == nil {
				t.Columns[i].ColumnProperties = []ColumnProperty{}
			}
		}
		out = append(out, t)
	}
	s.Tables = out
	return dropped
}
