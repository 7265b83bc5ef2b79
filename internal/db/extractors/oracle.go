//go:build oracle
// +build oracle

package extractors

import (
	"context"
	"fmt"

	_ "github.com/godror/godror"

	"schemascan/internal/db"
	"schemascan/internal/introspect"
	"schemascan/pkg/config"
)

// oracleExtractor implements db.Extractor for Oracle. Users that are not
// Oracle maintained act as schemas.
type oracleExtractor struct {
	session
	cfg config.Connection
}

func newOracle(conn config.Connection, opts db.Options) (db.Extractor, error) {
	return &oracleExtractor{session: newSession(config.Oracle, opts), cfg: conn}, nil
}

func (e *oracleExtractor) Connect(ctx context.Context) error {
	driver, dsn, err := config.BuildDriverAndDSN(e.cfg)
	if err != nil {
		return err
	}
	return e.open(ctx, driver, dsn)
}

// ExtractSchema reads every non-maintained user as a schema.
func (e *oracleExtractor) ExtractSchema(ctx context.Context) (introspect.Schema, error) {
	var s introspect.Schema
	if err := e.ready(); err != nil {
		return s, err
	}

	var schemas []string
	if err := e.selectRows(ctx, &schemas, `
	    SELECT username
	    FROM all_users
	    WHERE oracle_maintained = 'N'
	    ORDER BY username`); err != nil {
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

func (e *oracleExtractor) schemaTables(ctx context.Context, schema string) ([]introspect.Table, error) {
	log := e.log().WithField("schema", schema)

	var rows []oraTable
	if err := e.selectRows(ctx, &rows, `
	    SELECT table_name, 'TABLE' AS table_type FROM all_tables WHERE owner = :1
	    UNION ALL
	    SELECT view_name, 'VIEW' FROM all_views WHERE owner = :2
	    ORDER BY 2, 1`, schema, schema); err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}

	var cols []oraColumn
	if err := e.selectRows(ctx, &cols, `
	    SELECT c.table_name, c.column_name, c.data_type, c.column_id, c.nullable,
	           c.identity_column, c.char_length, c.data_precision, c.data_scale, cc.comments
	    FROM all_tab_columns c
	    LEFT JOIN all_col_comments cc
	      ON cc.owner = c.owner
	     AND cc.table_name = c.table_name
	     AND cc.column_name = c.column_name
	    WHERE c.owner = :1
	    ORDER BY c.table_name, c.column_id`, schema); err != nil {
		log.Warnf("columns unavailable: %v", err)
		cols = nil
	}

	var pkRows []oraKey
	if err := e.selectRows(ctx, &pkRows, `
	    SELECT acc.table_name, acc.column_name, acc.position, ac.constraint_name
	    FROM all_cons_columns acc
	    JOIN all_constraints ac
	      ON acc.owner = ac.owner
	     AND acc.constraint_name = ac.constraint_name
	    WHERE ac.constraint_type = 'P' AND acc.owner = :1
	    ORDER BY acc.table_name, acc.position`, schema); err != nil {
		log.Warnf("primary keys unavailable: %v", err)
		pkRows = nil
	}

	var fkRows []oraKey
	if err := e.selectRows(ctx, &fkRows, `
	    SELECT a.table_name, acc.column_name, acc.position, a.constraint_name,
	           rcc.owner AS ref_schema, rcc.table_name AS ref_table, rcc.column_name AS ref_column
	    FROM all_constraints a
	    JOIN all_cons_columns acc
	      ON a.owner = acc.owner
	     AND a.constraint_name = acc.constraint_name
	    JOIN all_cons_columns rcc
	      ON a.r_owner = rcc.owner
	     AND a.r_constraint_name = rcc.constraint_name
	     AND nvl(acc.position, 0) = nvl(rcc.position, 0)
	    WHERE a.constraint_type = 'R' AND a.owner = :1
	    ORDER BY a.table_name, a.constraint_name, acc.position`, schema); err != nil {
		log.Warnf("foreign keys unavailable: %v", err)
		fkRows = nil
	}
	return oraTables(schema, rows, cols, pkRows, fkRows), nil
}

func init() {
	db.Register(config.Oracle, newOracle)
}
