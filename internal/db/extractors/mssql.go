package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/denisenkom/go-mssqldb"

	"schemascan/internal/db"
	"schemascan/internal/introspect"
	"schemascan/pkg/config"
)

// mssqlExtractor implements db.Extractor for Microsoft SQL Server.
type mssqlExtractor struct {
	session
	cfg config.Connection
}

func newSQLServer(conn config.Connection, opts db.Options) (db.Extractor, error) {
	return &mssqlExtractor{session: newSession(config.SQLServer, opts), cfg: conn}, nil
}

func (e *mssqlExtractor) Connect(ctx context.Context) error {
	driver, dsn, err := config.BuildDriverAndDSN(e.cfg)
	if err != nil {
		return err
	}
	return e.open(ctx, driver, dsn)
}

func (e *mssqlExtractor) ExtractSchema(ctx context.Context) (introspect.Schema, error) {
	var s introspect.Schema
	if err := e.ready(); err != nil {
		return s, err
	}

	// schema ids from 16384 up belong to the fixed database roles
	var schemas []string
	if err := e.selectRows(ctx, &schemas, `
        SELECT s.name
        FROM sys.schemas AS s
        WHERE s.name NOT IN ('sys', 'INFORMATION_SCHEMA', 'guest')
          AND s.schema_id < 16384
        ORDER BY s.name`); err != nil {
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

type mssqlColumn struct {
	Table      string         `db:"table_name"`
	Name       string         `db:"column_name"`
	DataType   string         `db:"data_type"`
	Ordinal    int            `db:"ordinal_position"`
	IsNullable string         `db:"is_nullable"`
	IsIdentity sql.NullInt64  `db:"is_identity"`
	MaxLength  sql.NullInt64  `db:"character_maximum_length"`
	Precision  sql.NullInt64  `db:"numeric_precision"`
	Scale      sql.NullInt64  `db:"numeric_scale"`
	Comment    sql.NullString `db:"comment"`
}

func (e *mssqlExtractor) schemaTables(ctx context.Context, schema string) ([]introspect.Table, error) {
	named := sql.Named("schema", schema)
	log := e.log().WithField("schema", schema)

	var refs []tableRef
	if err := e.selectRows(ctx, &refs, `
        SELECT TABLE_NAME AS table_name, TABLE_TYPE AS table_type
        FROM INFORMATION_SCHEMA.TABLES
        WHERE TABLE_SCHEMA = @schema
        ORDER BY TABLE_NAME`, named); err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}

	var rows []mssqlColumn
	if err := e.selectRows(ctx, &rows, `
        SELECT c.TABLE_NAME AS table_name, c.COLUMN_NAME AS column_name, c.DATA_TYPE AS data_type,
               c.ORDINAL_POSITION AS ordinal_position, c.IS_NULLABLE AS is_nullable,
               COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)), c.COLUMN_NAME, 'IsIdentity') AS is_identity,
               c.CHARACTER_MAXIMUM_LENGTH AS character_maximum_length,
               c.NUMERIC_PRECISION AS numeric_precision, c.NUMERIC_SCALE AS numeric_scale,
               CAST(sep.value AS nvarchar(4000)) AS comment
        FROM INFORMATION_SCHEMA.COLUMNS c
        LEFT JOIN sys.extended_properties AS sep
          ON sep.major_id = OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME))
         AND sep.minor_id = COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)), c.COLUMN_NAME, 'ColumnId')
         AND sep.name = 'MS_Description'
        WHERE c.TABLE_SCHEMA = @schema
        ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`, named); err != nil {
		log.Warnf("columns unavailable: %v", err)
		rows = nil
	}
	byTable := make(map[string][]introspect.Column)
	for _, r := range rows {
		col := introspect.Column{
			Name:              r.Name,
			TypeName:          r.DataType,
			OrdinalPosition:   r.Ordinal,
			ColumnDisplaySize: int(r.MaxLength.Int64),
			Precision:         int(r.Precision.Int64),
			Scale:             int(r.Scale.Int64),
			Nullable:          strings.EqualFold(r.IsNullable, "YES"),
			Autoincrement:     r.IsIdentity.Int64 == 1,
		}
		col.AddProperty("description", r.Comment.String)
		byTable[strings.ToLower(r.Table)] = append(byTable[strings.ToLower(r.Table)], col)
	}

	var keys []keyColumn
	if err := e.selectRows(ctx, &keys, `
        SELECT k.TABLE_NAME AS table_name, k.COLUMN_NAME AS column_name, k.ORDINAL_POSITION AS position
        FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS t
        JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE k
          ON t.CONSTRAINT_NAME = k.CONSTRAINT_NAME
         AND t.TABLE_SCHEMA = k.TABLE_SCHEMA
        WHERE t.CONSTRAINT_TYPE = 'PRIMARY KEY' AND k.TABLE_SCHEMA = @schema
        ORDER BY k.TABLE_NAME, k.ORDINAL_POSITION`, named); err != nil {
		log.Warnf("primary keys unavailable: %v", err)
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
        SELECT OBJECT_NAME(fkc.parent_object_id) AS table_name,
               c.name AS column_name,
               fk.name AS constraint_name,
               OBJECT_SCHEMA_NAME(fkc.referenced_object_id) AS ref_schema,
               OBJECT_NAME(fkc.referenced_object_id) AS ref_table,
               rc.name AS ref_column
        FROM sys.foreign_keys fk
        JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
        JOIN sys.columns c ON fkc.parent_object_id = c.object_id AND fkc.parent_column_id = c.column_id
        JOIN sys.columns rc ON fkc.referenced_object_id = rc.object_id AND fkc.referenced_column_id = rc.column_id
        WHERE OBJECT_SCHEMA_NAME(fkc.parent_object_id) = @schema
        ORDER BY table_name, constraint_name, fkc.constraint_column_id`, named); err != nil {
		log.Warnf("foreign keys unavailable: %v", err)
		fks = nil
	}
	attachForeignKeys(tables, schema, fks)
	return tables, nil
}

func init() {
	db.Register(config.SQLServer, newSQLServer)
}
