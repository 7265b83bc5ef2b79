package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"schemascan/internal/db"
	"schemascan/internal/introspect"
	"schemascan/pkg/config"
)

const sqliteSchema = "main"

// sqliteExtractor implements db.Extractor for SQLite files, opened
// read-only.
type sqliteExtractor struct {
	session
	cfg config.Connection
}

func newSQLite(conn config.Connection, opts db.Options) (db.Extractor, error) {
	return &sqliteExtractor{session: newSession(config.SQLite, opts), cfg: conn}, nil
}

func (e *sqliteExtractor) Connect(ctx context.Context) error {
	driver, dsn, err := config.BuildDriverAndDSN(e.cfg)
	if err != nil {
		return err
	}
	return e.open(ctx, driver, dsn)
}

type sqliteObject struct {
	Name string         `db:"name"`
	Type string         `db:"type"`
	SQL  sql.NullString `db:"sql"`
}

type sqliteColumn struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull int            `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

func (e *sqliteExtractor) ExtractSchema(ctx context.Context) (introspect.Schema, error) {
	var s introspect.Schema
	if err := e.ready(); err != nil {
		return s, err
	}

	var objects []sqliteObject
	if err := e.selectRows(ctx, &objects, `
	    SELECT name, type, sql
	    FROM sqlite_master
	    WHERE type IN ('table', 'view')
	      AND name NOT LIKE 'sqlite_%'
	    ORDER BY type, name`); err != nil {
		return s, fmt.Errorf("query tables: %w", err)
	}

	for _, o := range objects {
		if err := db.Interrupted(ctx, "table "+o.Name); err != nil {
			return introspect.Schema{}, err
		}
		log := e.log().WithFields(logrus.Fields{"schema": sqliteSchema, "table": o.Name})
		ref := tableRef{Name: o.Name, Type: o.Type}

		var rows []sqliteColumn
		if err := e.selectRows(ctx, &rows, `SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, o.Name); err != nil {
			log.Warnf("columns unavailable: %v", err)
			s.Tables = append(s.Tables, ref.table(sqliteSchema, nil))
			continue
		}

		autoinc := strings.Contains(strings.ToUpper(o.SQL.String), "AUTOINCREMENT")
		cols := make([]introspect.Column, 0, len(rows))
		for _, r := range rows {
			col := introspect.Column{
				Name:            r.Name,
				TypeName:        r.Type,
				OrdinalPosition: r.CID + 1,
				Nullable:        r.NotNull == 0,
				PrimaryKey:      r.PK > 0,
			}
			if r.PK > 0 {
				col.PrimaryKeySequenceID = r.PK
				col.Autoincrement = autoinc && strings.EqualFold(r.Type, "INTEGER")
			}
			col.AddProperty("default", r.Default.String)
			cols = append(cols, col)
		}
		t := ref.table(sqliteSchema, cols)

		if o.Type == "table" {
			var fks []fkColumn
			if err := e.selectRows(ctx, &fks, `
			    SELECT "from" AS column_name, "table" AS ref_table, COALESCE("to", '') AS ref_column
			    FROM pragma_foreign_key_list(?)
			    ORDER BY id, seq`, o.Name); err != nil {
				log.Warnf("foreign keys unavailable: %v", err)
				fks = nil
			}
			for i := range fks {
				fks[i].Table = o.Name
			}
			tables := []introspect.Table{t}
			attachForeignKeys(tables, sqliteSchema, fks)
			t = tables[0]
		}
		s.Tables = append(s.Tables, t)
	}
	if err := db.Interrupted(ctx, "extract"); err != nil {
		return introspect.Schema{}, err
	}
	return s, nil
}

func init() {
	db.Register(config.SQLite, newSQLite)
}
