package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/snowflakedb/gosnowflake"
	"golang.org/x/sync/errgroup"

	"schemascan/internal/db"
	"schemascan/internal/introspect"
	"schemascan/pkg/config"
)

// sfExtractor implements db.Extractor for Snowflake. Round trips are
// expensive, so each schema costs exactly two queries (tables, then all of
// its columns at once) and schemas are processed concurrently.
type sfExtractor struct {
	session
	cfg config.Connection
}

func newSnowflake(conn config.Connection, opts db.Options) (db.Extractor, error) {
	e := &sfExtractor{session: newSession(config.Snowflake, opts), cfg: conn}
	e.maxConns = e.opts.MaxConcurrency
	return e, nil
}

func (e *sfExtractor) Connect(ctx context.Context) error {
	driver, dsn, err := config.BuildDriverAndDSN(e.cfg)
	if err != nil {
		return err
	}
	return e.open(ctx, driver, dsn)
}

// ExtractSchema lists schemas once, then processes up to MaxConcurrency
// schemas at a time. A schema whose table query fails is skipped; the pass
// fails only on the schema list or on a cancelled ctx.
func (e *sfExtractor) ExtractSchema(ctx context.Context) (introspect.Schema, error) {
	var s introspect.Schema
	if err := e.ready(); err != nil {
		return s, err
	}

	schemas, err := e.schemas(ctx)
	if err != nil {
		return s, fmt.Errorf("query schemas: %w", err)
	}

	results := make([][]introspect.Table, len(schemas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrency)
	for i, schema := range schemas {
		g.Go(func() error {
			tables, err := e.schemaTables(gctx, schema)
			if err != nil {
				if ierr := db.Interrupted(gctx, "schema "+schema); ierr != nil {
					return ierr
				}
				e.log().WithField("schema", schema).Warnf("skipping schema: %v", err)
				return nil
			}
			results[i] = tables
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return s, err
	}
	if err := db.Interrupted(ctx, "extract"); err != nil {
		return s, err
	}

	// merge in discovery order, independent of completion order
	for _, tables := range results {
		s.Tables = append(s.Tables, tables...)
	}
	return s, nil
}

func (e *sfExtractor) schemas(ctx context.Context) ([]string, error) {
	query, args, err := sq.Select("SCHEMA_NAME").
		From("INFORMATION_SCHEMA.SCHEMATA").
		Where(sq.NotEq{"SCHEMA_NAME": "INFORMATION_SCHEMA"}).
		OrderBy("SCHEMA_NAME").
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

type sfTable struct {
	Name string `db:"TABLE_NAME"`
	Type string `db:"TABLE_TYPE"`
}

type sfColumn struct {
	Table      string         `db:"TABLE_NAME"`
	Name       string         `db:"COLUMN_NAME"`
	DataType   string         `db:"DATA_TYPE"`
	Ordinal    sql.NullInt64  `db:"ORDINAL_POSITION"`
	IsNullable string         `db:"IS_NULLABLE"`
	IsIdentity sql.NullString `db:"IS_IDENTITY"`
	MaxLength  sql.NullInt64  `db:"CHARACTER_MAXIMUM_LENGTH"`
	Precision  sql.NullInt64  `db:"NUMERIC_PRECISION"`
	Scale      sql.NullInt64  `db:"NUMERIC_SCALE"`
	Comment    sql.NullString `db:"COMMENT"`
}

func (e *sfExtractor) schemaTables(ctx context.Context, schema string) ([]introspect.Table, error) {
	query, args, err := sq.Select("TABLE_NAME", "TABLE_TYPE").
		From("INFORMATION_SCHEMA.TABLES").
		Where(sq.Eq{"TABLE_SCHEMA": schema}).
		OrderBy("TABLE_NAME").
		ToSql()
	if err != nil {
		return nil, err
	}
	var tables []sfTable
	if err := e.selectRows(ctx, &tables, query, args...); err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}

	query, args, err = sq.Select(
		"TABLE_NAME",
		"COLUMN_NAME",
		"DATA_TYPE",
		"ORDINAL_POSITION",
		"IS_NULLABLE",
		"IS_IDENTITY",
		"CHARACTER_MAXIMUM_LENGTH",
		"NUMERIC_PRECISION",
		"NUMERIC_SCALE",
		"COMMENT",
	).
		From("INFORMATION_SCHEMA.COLUMNS").
		Where(sq.Eq{"TABLE_SCHEMA": schema}).
		OrderBy("TABLE_NAME", "ORDINAL_POSITION").
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []sfColumn
	if err := e.selectRows(ctx, &rows, query, args...); err != nil {
		if ierr := db.Interrupted(ctx, "query columns"); ierr != nil {
			return nil, ierr
		}
		e.log().WithField("schema", schema).Warnf("columns unavailable: %v", err)
		rows = nil
	}

	byTable := make(map[string][]introspect.Column, len(tables))
	for _, r := range rows {
		col := introspect.Column{
			Name:              r.Name,
			TypeName:          r.DataType,
			OrdinalPosition:   int(r.Ordinal.Int64),
			ColumnDisplaySize: int(r.MaxLength.Int64),
			Precision:         int(r.Precision.Int64),
			Scale:             int(r.Scale.Int64),
			Nullable:          strings.EqualFold(r.IsNullable, "YES"),
			Autoincrement:     strings.EqualFold(r.IsIdentity.String, "YES"),
		}
		col.AddProperty("description", r.Comment.String)
		byTable[r.Table] = append(byTable[r.Table], col)
	}

	out := make([]introspect.Table, 0, len(tables))
	for _, t := range tables {
		ref := tableRef{Name: t.Name, Type: t.Type}
		out = append(out, ref.table(schema, byTable[t.Name]))
	}
	return out, nil
}

func init() {
	db.Register(config.Snowflake, newSnowflake)
}
