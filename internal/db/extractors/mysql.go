package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"schemascan/internal/db"
	"schemascan/internal/introspect"
	"schemascan/pkg/config"
)

// myExtractor implements db.Extractor for MySQL and MariaDB
// (information_schema).
type myExtractor struct {
	session
	cfg config.Connection
}

func newMySQL(conn config.Connection, opts db.Options) (db.Extractor, error) {
	return &myExtractor{session: newSession(config.MySQL, opts), cfg: conn}, nil
}

func (e *myExtractor) Connect(ctx context.Context) error {
	driver, dsn, err := config.BuildDriverAndDSN(e.cfg)
	if err != nil {
		return err
	}
	return e.open(ctx, driver, dsn)
}

// ExtractSchema reads every user database as a schema. A schema whose
// table query fails is skipped; column and key failures leave the tables
// in place.
func (e *myExtractor) ExtractSchema(ctx context.Context) (introspect.Schema, error) {
	var s introspect.Schema
	if err := e.ready(); err != nil {
		return s, err
	}

	var schemas []string
	if err := e.selectRows(ctx, &schemas, `
        SELECT schema_name AS schema_name
        FROM information_schema.schemata
        WHERE schema_name NOT IN ('mysql','information_schema','performance_schema','sys')
        ORDER BY schema_name`); err != nil {
		return s, fmt.Errorf("query schemas: %w", err)
	}

	for _, schema := range schemas {
		tables, err := e.schemaTables(ctx, schema)
		if ierr := db.Interrupted(ctx, "schema "+schema); ierr != nil {
			return introspect.Schema{}, ierr
		}
		if err != nil {
			e.log().WithField("schema", schema).Warnf("skipping schema: %v", err)
			continue
		}
		s.Tables = append(s.Tables, tables...)
	}
	return s, nil
}

type myColumn struct {
	Table      string         `db:"table_name"`
	Name       string         `db:"column_name"`
	ColumnType string         `db:"column_type"`
	Ordinal    int            `db:"ordinal_position"`
	IsNullable string         `db:"is_nullable"`
	Extra      sql.NullString `db:"extra"`
	MaxLength  sql.NullInt64  `db:"character_maximum_length"`
	Precision  sql.NullInt64  `db:"numeric_precision"`
	Scale      sql.NullInt64  `db:"numeric_scale"`
	Comment    sql.NullString `db:"column_comment"`
}

func (e *myExtractor) schemaTables(ctx context.Context, schema string) ([]introspect.Table, error) {
	var refs []tableRef
	if err := e.selectRows(ctx, &refs, `
        SELECT table_name AS table_name, table_type AS table_type
        FROM information_schema.tables
        WHERE table_schema = ?
        ORDER BY table_name`, schema); err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}

	byTable := make(map[string][]introspect.Column)
	var rows []myColumn
	if err := e.selectRows(ctx, &rows, `
        SELECT table_name AS table_name, column_name AS column_name, column_type AS column_type,
               ordinal_position AS ordinal_position, is_nullable AS is_nullable, extra AS extra,
               character_maximum_length AS character_maximum_length,
               numeric_precision AS numeric_precision, numeric_scale AS numeric_scale,
               column_comment AS column_comment
        FROM information_schema.columns
        WHERE table_schema = ?
        ORDER BY table_name, ordinal_position`, schema); err != nil {
		e.log().WithField("schema", schema).Warnf("columns unavailable: %v", err)
		rows = nil
	}
	for _, r := range rows {
		col := introspect.Column{
			Name:              r.Name,
			TypeName:          r.ColumnType,
			OrdinalPosition:   r.Ordinal,
			ColumnDisplaySize: int(r.MaxLength.Int64),
			Precision:         int(r.Precision.Int64),
			Scale:             int(r.Scale.Int64),
			Nullable:          strings.EqualFold(r.IsNullable, "YES"),
			Autoincrement:     strings.Contains(strings.ToLower(r.Extra.String), "auto_increment"),
		}
		col.AddProperty("description", r.Comment.String)
		byTable[strings.ToLower(r.Table)] = append(byTable[strings.ToLower(r.Table)], col)
	}

	var keys []keyColumn
	if err := e.selectRows(ctx, &keys, `
        SELECT k.table_name AS table_name, k.column_name AS column_name, k.ordinal_position AS position
        FROM information_schema.key_column_usage k
        JOIN information_schema.table_constraints tc
          ON k.constraint_name = tc.constraint_name
         AND k.table_schema = tc.table_schema
         AND k.table_name = tc.table_name
        WHERE tc.constraint_type = 'PRIMARY KEY' AND k.table_schema = ?
        ORDER BY k.table_name, k.ordinal_position`, schema); err != nil {
		e.log().WithField("schema", schema).Warnf("primary keys unavailable: %v", err)
		keys = nil
	}
	pks := pkByTable(keys)

	tables := make([]introspect.Table, 0, len(refs))
	for _, ref := range refs {
		cols := byTable[strings.ToLower(ref.Name)]
		markPrimaryKeys(cols, pks[strings.ToLower(ref.Name)])
		tables = append(tables, ref.table(schema, cols))
	}

	var fks []fkColumn
	if err := e.selectRows(ctx, &fks, `
        SELECT table_name AS table_name, column_name AS column_name, constraint_name AS constraint_name,
               referenced_table_schema AS ref_schema, referenced_table_name AS ref_table,
               referenced_column_name AS ref_column
        FROM information_schema.key_column_usage
        WHERE referenced_table_name IS NOT NULL AND table_schema = ?
        ORDER BY table_name, constraint_name, ordinal_position`, schema); err != nil {
		e.log().WithField("schema", schema).Warnf("foreign keys unavailable: %v", err)
		fks = nil
	}
	attachForeignKeys(tables, schema, fks)
	return tables, nil
}

func init() {
	db.Register(config.MySQL, newMySQL)
}
