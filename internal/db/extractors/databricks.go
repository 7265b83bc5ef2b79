package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	dbsql "github.com/databricks/databricks-sql-go"
	"github.com/jmoiron/sqlx"

	"schemascan/internal/db"
	"schemascan/internal/introspect"
	"schemascan/pkg/config"
)

// dbxExtractor implements db.Extractor for Databricks SQL warehouses.
// Unity Catalog and legacy hive metastores expose different catalog
// surfaces, so every discovery phase tries an ordered list of queries and
// keeps the first one that yields rows.
type dbxExtractor struct {
	session
	cfg config.DatabricksParams
}

func newDatabricks(conn config.Connection, opts db.Options) (db.Extractor, error) {
	return &dbxExtractor{session: newSession(config.Databricks, opts), cfg: *conn.Databricks}, nil
}

func (e *dbxExtractor) Connect(ctx context.Context) error {
	host := strings.TrimPrefix(strings.TrimPrefix(e.cfg.Host, "https://"), "http://")
	host = strings.TrimSuffix(host, "/")

	opts := []dbsql.ConnOption{
		dbsql.WithServerHostname(host),
		dbsql.WithPort(443),
		dbsql.WithHTTPPath(e.cfg.Path),
		dbsql.WithAccessToken(e.cfg.Token),
	}
	if e.cfg.Catalog != "" || e.cfg.Schema != "" {
		opts = append(opts, dbsql.WithInitialNamespace(e.cfg.Catalog, e.cfg.Schema))
	}
	connector, err := dbsql.NewConnector(opts...)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", db.ErrConnectionFailed, config.Databricks, err)
	}
	return e.attach(ctx, sqlx.NewDb(sql.OpenDB(connector), "databricks"))
}

// ExtractSchema walks schemas, tables and columns, each through its own
// fallback chain. Exhausted chains yield empty results; only a cancelled or
// expired ctx fails the pass.
func (e *dbxExtractor) ExtractSchema(ctx context.Context) (introspect.Schema, error) {
	var s introspect.Schema
	if err := e.ready(); err != nil {
		return s, err
	}

	schemas, err := e.schemas(ctx)
	if err != nil {
		return introspect.Schema{}, fmt.Errorf("query schemas: %w", err)
	}
	for _, schema := range schemas {
		refs, err := e.tables(ctx, schema)
		if err != nil {
			return introspect.Schema{}, fmt.Errorf("query tables for %s: %w", schema, err)
		}
		for _, ref := range refs {
			cols, err := e.columns(ctx, schema, ref.Name)
			if err != nil {
				return introspect.Schema{}, fmt.Errorf("query columns for %s.%s: %w", schema, ref.Name, err)
			}
			s.Tables = append(s.Tables, ref.table(schema, cols))
		}
	}
	return s, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func (e *dbxExtractor) schemas(ctx context.Context) ([]string, error) {
	cat := e.cfg.Catalog
	var list []db.Candidate[string]
	if cat != "" {
		list = append(list, db.Candidate[string]{
			Name: "catalog information_schema", Query: "SELECT schema_name FROM " + quoteIdent(cat) + ".information_schema.schemata ORDER BY schema_name", Parse: parseDbxSchemas,
		})
	}
	list = append(list, db.Candidate[string]{
		Name: "information_schema", Query: "SELECT schema_name FROM information_schema.schemata ORDER BY schema_name", Parse: parseDbxSchemas,
	})
	if cat != "" {
		list = append(list, db.Candidate[string]{
			Name: "show schemas in catalog", Query: "SHOW SCHEMAS IN " + quoteIdent(cat), Parse: parseDbxSchemas,
		})
	}
	list = append(list, db.Candidate[string]{
		Name: "show schemas", Query: "SHOW SCHEMAS", Parse: parseDbxSchemas,
	})

	all, err := db.FirstNonEmpty(ctx, e.conn, e.opts.QueryTimeout, e.log(), list)
	if err != nil {
		return nil, err
	}
	return filterSchemas(all, e.cfg.Schema), nil
}

// filterSchemas narrows names to target. A target of "default" or one
// that matches nothing leaves the list as discovered.
func filterSchemas(names []string, target string) []string {
	if target == "" || strings.EqualFold(target, "default") {
		return names
	}
	var out []string
	for _, n := range names {
		if strings.EqualFold(n, target) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return names
	}
	return out
}

func parseDbxSchemas(recs []db.Record) []string {
	var out []string
	for _, r := range recs {
		if name := r.String(0, "schema_name", "databaseName", "namespace"); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (e *dbxExtractor) tables(ctx context.Context, schema string) ([]tableRef, error) {
	cat := e.cfg.Catalog
	var list []db.Candidate[tableRef]
	where := " WHERE table_schema = " + quoteLiteral(schema) + " ORDER BY table_name"
	if cat != "" {
		list = append(list, db.Candidate[tableRef]{
			Name: "catalog information_schema", Query: "SELECT table_name, table_type FROM " + quoteIdent(cat) + ".information_schema.tables" + where, Parse: parseDbxTables,
		})
	}
	list = append(list, db.Candidate[tableRef]{
		Name: "information_schema", Query: "SELECT table_name, table_type FROM information_schema.tables" + where, Parse: parseDbxTables,
	})
	if cat != "" {
		list = append(list, db.Candidate[tableRef]{
			Name: "show tables in catalog", Query: "SHOW TABLES IN " + quoteIdent(cat) + "." + quoteIdent(schema), Parse: parseDbxTables,
		})
	}
	list = append(list, db.Candidate[tableRef]{
		Name: "show tables", Query: "SHOW TABLES IN " + quoteIdent(schema), Parse: parseDbxTables,
	})
	return db.FirstNonEmpty(ctx, e.conn, e.opts.QueryTimeout, e.log().WithField("schema", schema), list)
}

func parseDbxTables(recs []db.Record) []tableRef {
	var out []tableRef
	for _, r := range recs {
		var ref tableRef
		switch {
		case r.Has("table_name"):
			ref = tableRef{Name: r.String(-1, "table_name"), Type: r.String(-1, "table_type")}
			if ref.Type == "" {
				ref.Type = "BASE TABLE"
			}
		case r.Has("tableName"):
			ref = tableRef{Name: r.String(-1, "tableName"), Type: "BASE TABLE"}
			if r.Bool(-1, "isTemporary") {
				ref.Type = introspect.TypeView
			}
		default:
			ref = tableRef{Name: r.String(0), Type: "BASE TABLE"}
		}
		if ref.Name != "" {
			out = append(out, ref)
		}
	}
	return out
}

func (e *dbxExtractor) columns(ctx context.Context, schema, table string) ([]introspect.Column, error) {
	cat := e.cfg.Catalog
	var list []db.Candidate[introspect.Column]
	where := " WHERE table_schema = " + quoteLiteral(schema) +
		" AND table_name = " + quoteLiteral(table) + " ORDER BY ordinal_position"
	const sel = "SELECT column_name, data_type, ordinal_position, is_nullable FROM "
	if cat != "" {
		list = append(list, db.Candidate[introspect.Column]{
			Name: "catalog information_schema", Query: sel + quoteIdent(cat) + ".information_schema.columns" + where, Parse: parseDbxColumns,
		})
	}
	list = append(list, db.Candidate[introspect.Column]{
		Name: "information_schema", Query: sel + "information_schema.columns" + where, Parse: parseDbxColumns,
	})
	if cat != "" {
		list = append(list, db.Candidate[introspect.Column]{
			Name: "describe in catalog", Query: "DESCRIBE " + quoteIdent(cat) + "." + quoteIdent(schema) + "." + quoteIdent(table), Parse: parseDbxColumns,
		})
	}
	list = append(list, db.Candidate[introspect.Column]{
		Name: "describe", Query: "DESCRIBE " + quoteIdent(schema) + "." + quoteIdent(table), Parse: parseDbxColumns,
	})

	log := e.log().WithField("schema", schema).WithField("table", table)
	return db.FirstNonEmpty(ctx, e.conn, e.opts.QueryTimeout, log, list)
}

func parseDbxColumns(recs []db.Record) []introspect.Column {
	var out []introspect.Column
	for _, r := range recs {
		col := introspect.Column{OrdinalPosition: len(out) + 1, Nullable: true}
		switch {
		case r.Has("column_name"):
			col.Name = r.String(-1, "column_name")
			col.TypeName = r.String(-1, "data_type")
			if r.Has("ordinal_position") {
				if pos := r.Int(-1, "ordinal_position"); pos > 0 {
					col.OrdinalPosition = pos
				}
			}
			if r.Has("is_nullable") {
				col.Nullable = r.Bool(-1, "is_nullable")
			}
		case r.Has("col_name"):
			col.Name = strings.TrimSpace(r.String(-1, "col_name"))
			// partition and detail sections follow the column list
			if col.Name == "" || strings.HasPrefix(col.Name, "#") {
				return out
			}
			col.TypeName = r.String(-1, "data_type")
			if comment := r.String(-1, "comment"); comment != "" {
				col.AddProperty("description", comment)
			}
		default:
			col.Name = r.String(0)
			col.TypeName = r.String(1)
		}
		if col.Name == "" {
			continue
		}
		out = append(out, col)
	}
	return out
}

func init() {
	db.Register(config.Databricks, newDatabricks)
}
