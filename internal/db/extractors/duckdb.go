package extractors

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/sirupsen/logrus"

	"schemascan/internal/db"
	"schemascan/internal/introspect"
	"schemascan/pkg/config"
)

const duckSchema = "main"

// duckExtractor implements db.Extractor for a local DuckDB file. Depending
// on the driver and engine version catalog rows arrive either keyed by
// column name or only positionally, so everything goes through db.Record.
type duckExtractor struct {
	session
	cfg config.Connection
}

func newDuckDB(conn config.Connection, opts db.Options) (db.Extractor, error) {
	return &duckExtractor{session: newSession(config.DuckDB, opts), cfg: conn}, nil
}

func (e *duckExtractor) Connect(ctx context.Context) error {
	driver, dsn, err := config.BuildDriverAndDSN(e.cfg)
	if err != nil {
		return err
	}
	return e.open(ctx, driver, dsn)
}

// ExtractSchema reads base tables, then views, then each relation's columns
// from the main schema.
func (e *duckExtractor) ExtractSchema(ctx context.Context) (introspect.Schema, error) {
	var s introspect.Schema
	if err := e.ready(); err != nil {
		return s, err
	}

	refs, err := e.tables(ctx)
	if err != nil {
		return introspect.Schema{}, fmt.Errorf("query tables: %w", err)
	}
	views, err := e.views(ctx)
	if err != nil {
		return introspect.Schema{}, fmt.Errorf("query views: %w", err)
	}
	refs = append(refs, views...)
	for _, ref := range refs {
		cols, err := e.columns(ctx, ref.Name)
		if err != nil {
			return introspect.Schema{}, fmt.Errorf("query columns for %s: %w", ref.Name, err)
		}
		s.Tables = append(s.Tables, ref.table(duckSchema, cols))
	}
	return s, nil
}

func duckCatalogTables(tableType string) (string, []interface{}) {
	query, args, _ := sq.Select("table_name").
		From("information_schema.tables").
		Where(sq.Eq{"table_schema": duckSchema, "table_type": tableType}).
		OrderBy("table_name").
		ToSql()
	return query, args
}

func (e *duckExtractor) tables(ctx context.Context) ([]tableRef, error) {
	query, args := duckCatalogTables("BASE TABLE")
	parse := func(recs []db.Record) []tableRef {
		return duckRefs(recs, introspect.TypeTable)
	}
	return db.FirstNonEmpty(ctx, e.conn, e.opts.QueryTimeout, e.log(), []db.Candidate[tableRef]{
		{Name: "information_schema", Query: query, Args: args, Parse: parse},
		{Name: "show tables", Query: "SHOW TABLES", Parse: parse},
	})
}

func (e *duckExtractor) views(ctx context.Context) ([]tableRef, error) {
	query, args := duckCatalogTables("VIEW")
	recs, err := e.records(ctx, query, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log().Warnf("views unavailable: %v", err)
		return nil, nil
	}
	return duckRefs(recs, introspect.TypeView), nil
}

func duckRefs(recs []db.Record, tableType string) []tableRef {
	var out []tableRef
	for _, r := range recs {
		if name := r.String(0, "table_name", "name"); name != "" {
			out = append(out, tableRef{Name: name, Type: tableType})
		}
	}
	return out
}

func (e *duckExtractor) columns(ctx context.Context, table string) ([]introspect.Column, error) {
	query, args, _ := sq.Select("column_name", "data_type", "ordinal_position", "is_nullable", "column_default").
		From("information_schema.columns").
		Where(sq.Eq{"table_schema": duckSchema, "table_name": table}).
		OrderBy("ordinal_position").
		ToSql()

	describe := `DESCRIBE "` + strings.ReplaceAll(table, `"`, `""`) + `"`
	log := e.log().WithFields(logrus.Fields{"schema": duckSchema, "table": table})
	return db.FirstNonEmpty(ctx, e.conn, e.opts.QueryTimeout, log, []db.Candidate[introspect.Column]{
		{Name: "information_schema", Query: query, Args: args, Parse: parseDuckColumns},
		{Name: "describe", Query: describe, Parse: parseDuckDescribe},
	})
}

func parseDuckColumns(recs []db.Record) []introspect.Column {
	var out []introspect.Column
	for _, r := range recs {
		name := r.String(0, "column_name")
		if name == "" {
			continue
		}
		pos := r.Int(2, "ordinal_position")
		if pos <= 0 {
			pos = len(out) + 1
		}
		out = append(out, introspect.Column{
			Name:            name,
			TypeName:        r.String(1, "data_type"),
			OrdinalPosition: pos,
			Nullable:        r.Bool(3, "is_nullable"),
			Autoincrement:   strings.Contains(r.String(4, "column_default"), "nextval"),
		})
	}
	return out
}

// parseDuckDescribe reads DESCRIBE output: name, type, null, key, default,
// extra.
func parseDuckDescribe(recs []db.Record) []introspect.Column {
	var out []introspect.Column
	for _, r := range recs {
		name := r.String(0, "column_name")
		if name == "" {
			continue
		}
		out = append(out, introspect.Column{
			Name:            name,
			TypeName:        r.String(1, "column_type"),
			OrdinalPosition: len(out) + 1,
			Nullable:        r.Bool(2, "null"),
			PrimaryKey:      strings.EqualFold(r.String(3, "key"), "PRI"),
			Autoincrement:   strings.Contains(r.String(4, "default"), "nextval"),
		})
	}
	assignDescribePK(out)
	return out
}

func assignDescribePK(cols []introspect.Column) {
	seq := 0
	for i := range cols {
		if cols[i].PrimaryKey {
			seq++
			cols[i].PrimaryKeySequenceID = seq
		}
	}
}

func init() {
	db.Register(config.DuckDB, newDuckDB)
}
