package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"schemascan/internal/db"
	"schemascan/internal/introspect"
	"schemascan/pkg/config"
)

// pgExtractor implements db.Extractor using information_schema queries.
// Unlike the other backends it does not absorb per-table failures: any
// query error fails the whole pull.
type pgExtractor struct {
	session
	cfg config.Connection
}

func newPostgres(conn config.Connection, opts db.Options) (db.Extractor, error) {
	return &pgExtractor{session: newSession(config.Postgres, opts), cfg: conn}, nil
}

var pg = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func (e *pgExtractor) Connect(ctx context.Context) error {
	driver, dsn, err := config.BuildDriverAndDSN(e.cfg)
	if err != nil {
		return err
	}
	return e.open(ctx, driver, dsn)
}

// ExtractSchema walks schemas, tables and columns. Any query error fails
// the pass.
func (e *pgExtractor) ExtractSchema(ctx context.Context) (introspect.Schema, error) {
	var s introspect.Schema
	if err := e.ready(); err != nil {
		return s, err
	}

	schemas, err := e.schemas(ctx)
	if err != nil {
		return s, fmt.Errorf("query schemas: %w", err)
	}

	for _, schema := range schemas {
		refs, err := e.tables(ctx, schema)
		if err != nil {
			return s, fmt.Errorf("query tables for %s: %w", schema, err)
		}
		for _, ref := range refs {
			cols, err := e.columns(ctx, schema, ref.Name)
			if err != nil {
				return s, fmt.Errorf("query columns for %s.%s: %w", schema, ref.Name, err)
			}
			s.Tables = append(s.Tables, ref.table(schema, cols))
		}
	}
	return s, nil
}

func (e *pgExtractor) schemas(ctx context.Context) ([]string, error) {
	query, args, err := pg.Select("schema_name").
		From("information_schema.schemata").
		Where(sq.NotEq{"schema_name": []string{"pg_catalog", "information_schema", "pg_toast"}}).
		Where(sq.NotLike{"schema_name": "pg_temp_%"}).
		Where(sq.NotLike{"schema_name": "pg_toast_temp_%"}).
		OrderBy("schema_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	var names []string
	if err := e.selectRows(ctx, &names, query, args...); err != nil {
		return nil, err
	}
	return names, nil
}

func (e *pgExtractor) tables(ctx context.Context, schema string) ([]tableRef, error) {
	var refs []tableRef

	query, args, err := pg.Select("table_name").
		From("information_schema.tables").
		Where(sq.Eq{"table_schema": schema, "table_type": "BASE TABLE"}).
		OrderBy("table_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	var tables []string
	if err := e.selectRows(ctx, &tables, query, args...); err != nil {
		return nil, err
	}
	for _, name := range tables {
		refs = append(refs, tableRef{Name: name, Type: introspect.TypeTable})
	}

	query, args, err = pg.Select("table_name").
		From("information_schema.views").
		Where(sq.Eq{"table_schema": schema}).
		OrderBy("table_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	var views []string
	if err := e.selectRows(ctx, &views, query, args...); err != nil {
		return nil, err
	}
	for _, name := range views {
		refs = append(refs, tableRef{Name: name, Type: introspect.TypeView})
	}
	return refs, nil
}

type pgColumn struct {
	Name       string         `db:"column_name"`
	DataType   string         `db:"data_type"`
	Ordinal    int            `db:"ordinal_position"`
	IsNullable string         `db:"is_nullable"`
	Default    sql.NullString `db:"column_default"`
	MaxLength  sql.NullInt64  `db:"character_maximum_length"`
	Precision  sql.NullInt64  `db:"numeric_precision"`
	Scale      sql.NullInt64  `db:"numeric_scale"`
	IsPrimary  bool           `db:"is_primary"`
}

const pgIsPrimary = `EXISTS (
		SELECT 1
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		 AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = c.table_schema
		  AND tc.table_name = c.table_name
		  AND kcu.column_name = c.column_name
	) AS is_primary`

func (e *pgExtractor) columns(ctx context.Context, schema, table string) ([]introspect.Column, error) {
	query, args, err := pg.Select(
		"c.column_name",
		"c.data_type",
		"c.ordinal_position",
		"c.is_nullable",
		"c.column_default",
		"c.character_maximum_length",
		"c.numeric_precision",
		"c.numeric_scale",
		pgIsPrimary,
	).
		From("information_schema.columns c").
		Where(sq.Eq{"c.table_schema": schema, "c.table_name": table}).
		OrderBy("c.ordinal_position").
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []pgColumn
	if err := e.selectRows(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	cols := make([]introspect.Column, 0, len(rows))
	for i, r := range rows {
		col := introspect.Column{
			Name:              r.Name,
			TypeName:          r.DataType,
			OrdinalPosition:   r.Ordinal,
			ColumnDisplaySize: int(r.MaxLength.Int64),
			Precision:         int(r.Precision.Int64),
			Scale:             int(r.Scale.Int64),
			Nullable:          strings.EqualFold(r.IsNullable, "YES"),
			PrimaryKey:        r.IsPrimary,
			Autoincrement:     r.Default.Valid && strings.Contains(r.Default.String, "nextval"),
		}
		// sequence follows the ordinal-sorted row index, not the PK clause order
		if r.IsPrimary {
			col.PrimaryKeySequenceID = i + 1
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func init() {
	db.Register(config.Postgres, newPostgres)
}
