package extractors

import (
	"database/sql"
	"strings"

	"schemascan/internal/introspect"
)

// Oracle reports unquoted aliases in upper case.
type oraTable struct {
	Name string `db:"TABLE_NAME"`
	Type string `db:"TABLE_TYPE"`
}

type oraColumn struct {
	Table     string         `db:"TABLE_NAME"`
	Name      string         `db:"COLUMN_NAME"`
	DataType  string         `db:"DATA_TYPE"`
	Ordinal   int            `db:"COLUMN_ID"`
	Nullable  string         `db:"NULLABLE"`
	Identity  sql.NullString `db:"IDENTITY_COLUMN"`
	CharLen   sql.NullInt64  `db:"CHAR_LENGTH"`
	Precision sql.NullInt64  `db:"DATA_PRECISION"`
	Scale     sql.NullInt64  `db:"DATA_SCALE"`
	Comment   sql.NullString `db:"COMMENTS"`
}

type oraKey struct {
	Table     string         `db:"TABLE_NAME"`
	Column    string         `db:"COLUMN_NAME"`
	Position  sql.NullInt64  `db:"POSITION"`
	Name      string         `db:"CONSTRAINT_NAME"`
	RefSchema sql.NullString `db:"REF_SCHEMA"`
	RefTable  sql.NullString `db:"REF_TABLE"`
	RefColumn sql.NullString `db:"REF_COLUMN"`
}

func (r oraColumn) column() introspect.Column {
	col := introspect.Column{
		Name:              r.Name,
		TypeName:          r.DataType,
		OrdinalPosition:   r.Ordinal,
		ColumnDisplaySize: int(r.CharLen.Int64),
		Precision:         int(r.Precision.Int64),
		Scale:             int(r.Scale.Int64),
		Nullable:          r.Nullable == "Y",
		Autoincrement:     r.Identity.String == "YES",
	}
	col.AddProperty("description", r.Comment.String)
	return col
}

// oraTables assembles one owner's tables from its bulk catalog rows. Any of
// cols, pkRows and fkRows may be nil when that query failed.
func oraTables(schema string, rows []oraTable, cols []oraColumn, pkRows, fkRows []oraKey) []introspect.Table {
	byTable := make(map[string][]introspect.Column)
	for _, r := range cols {
		name := strings.ToLower(r.Table)
		byTable[name] = append(byTable[name], r.column())
	}

	keys := make([]keyColumn, 0, len(pkRows))
	for _, k := range pkRows {
		keys = append(keys, keyColumn{Table: k.Table, Column: k.Column, Position: int(k.Position.Int64)})
	}
	pks := pkByTable(keys)

	tables := make([]introspect.Table, 0, len(rows))
	for _, r := range rows {
		name := strings.ToLower(r.Name)
		tcols := byTable[name]
		markPrimaryKeys(tcols, pks[name])
		tables = append(tables, tableRef{Name: r.Name, Type: r.Type}.table(schema, tcols))
	}

	fks := make([]fkColumn, 0, len(fkRows))
	for _, k := range fkRows {
		fks = append(fks, fkColumn{
			Table:     k.Table,
			Column:    k.Column,
			Name:      k.Name,
			RefSchema: k.RefSchema.String,
			RefTable:  k.RefTable.String,
			RefColumn: k.RefColumn.String,
		})
	}
	attachForeignKeys(tables, schema, fks)
	return tables
}
