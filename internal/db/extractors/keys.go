package extractors

import (
	"strings"

	"schemascan/internal/introspect"
)

// keyColumn is one column of a primary key constraint.
type keyColumn struct {
	Table    string `db:"table_name"`
	Column   string `db:"column_name"`
	Position int    `db:"position"`
}

// fkColumn is one column of a foreign key constraint.
type fkColumn struct {
	Table     string `db:"table_name"`
	Column    string `db:"column_name"`
	Name      string `db:"constraint_name"`
	RefSchema string `db:"ref_schema"`
	RefTable  string `db:"ref_table"`
	RefColumn string `db:"ref_column"`
}

// markPrimaryKeys flags the key columns of one table. Positions come from
// the constraint definition; a zero position falls back to key order.
func markPrimaryKeys(cols []introspect.Column, keys []keyColumn) {
	for i, k := range keys {
		seq := k.Position
		if seq <= 0 {
			seq = i + 1
		}
		for j := range cols {
			if strings.EqualFold(cols[j].Name, k.Column) {
				cols[j].PrimaryKey = true
				cols[j].PrimaryKeySequenceID = seq
			}
		}
	}
}

// attachForeignKeys copies references onto the referencing columns of the
// tables of one schema.
func attachForeignKeys(tables []introspect.Table, schema string, fks []fkColumn) {
	byTable := make(map[string]int, len(tables))
	for i, t := range tables {
		if t.Schema == schema {
			byTable[strings.ToLower(t.Name)] = i
		}
	}
	for _, fk := range fks {
		i, ok := byTable[strings.ToLower(fk.Table)]
		if !ok {
			continue
		}
		cols := tables[i].Columns
		for j := range cols {
			if strings.EqualFold(cols[j].Name, fk.Column) {
				cols[j].ForeignKeys = append(cols[j].ForeignKeys, introspect.ForeignKey{
					Name:             fk.Name,
					ReferencedSchema: fk.RefSchema,
					ReferencedTable:  fk.RefTable,
					ReferencedColumn: fk.RefColumn,
				})
			}
		}
	}
}

// pkByTable groups key columns of a whole schema by table name.
func pkByTable(keys []keyColumn) map[string][]keyColumn {
	out := make(map[string][]keyColumn)
	for _, k := range keys {
		out[strings.ToLower(k.Table)] = append(out[strings.ToLower(k.Table)], k)
	}
	return out
}
