package extractors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemascan/internal/db"
	"schemascan/internal/introspect"
	"schemascan/pkg/config"
)

var sfColumnHeader = []string{
	"TABLE_NAME", "COLUMN_NAME", "DATA_TYPE", "ORDINAL_POSITION", "IS_NULLABLE", "IS_IDENTITY",
	"CHARACTER_MAXIMUM_LENGTH", "NUMERIC_PRECISION", "NUMERIC_SCALE", "COMMENT",
}

func newTestSnowflake(t *testing.T, concurrency int) (*sfExtractor, sqlmock.Sqlmock) {
	conn, mock := mockConn(t)
	e := &sfExtractor{session: newSession(config.Snowflake, db.Options{MaxConcurrency: concurrency})}
	e.conn = conn
	return e, mock
}

func TestSnowflakeGroupsColumns(t *testing.T) {
	e, mock := newTestSnowflake(t, 1)

	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.SCHEMATA`).
		WithArgs("INFORMATION_SCHEMA").
		WillReturnRows(sqlmock.NewRows([]string{"SCHEMA_NAME"}).AddRow("PUBLIC"))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).
		WithArgs("PUBLIC").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE"}).
			AddRow("CUSTOMERS", "BASE TABLE").
			AddRow("EMPTY_T", "BASE TABLE").
			AddRow("ORDERS_V", "VIEW"))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.COLUMNS`).
		WithArgs("PUBLIC").
		WillReturnRows(sqlmock.NewRows(sfColumnHeader).
			AddRow("CUSTOMERS", "ID", "NUMBER", 1, "NO", "YES", nil, 38, 0, "surrogate key").
			AddRow("CUSTOMERS", "NAME", "TEXT", 2, "YES", "NO", 16777216, nil, nil, nil).
			AddRow("ORDERS_V", "TOTAL", "NUMBER", 1, "YES", "NO", nil, 12, 2, nil))

	s, err := e.ExtractSchema(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, s.Tables, 3)
	customers := s.Tables[0]
	assert.Equal(t, "PUBLIC", customers.Schema)
	assert.Equal(t, introspect.TypeTable, customers.Type)
	assert.Equal(t, []string{"ID", "NAME"}, columnNames(customers.Columns))
	assert.True(t, customers.Columns[0].Autoincrement)
	assert.False(t, customers.Columns[0].Nullable)
	assert.Equal(t, 38, customers.Columns[0].Precision)
	desc, ok := customers.Columns[0].Property("description")
	assert.True(t, ok)
	assert.Equal(t, "surrogate key", desc)
	assert.Equal(t, 16777216, customers.Columns[1].ColumnDisplaySize)

	// a table with no column rows is kept with an empty list
	assert.Equal(t, "EMPTY_T", s.Tables[1].Name)
	assert.NotNil(t, s.Tables[1].Columns)
	assert.Empty(t, s.Tables[1].Columns)

	view := s.Tables[2]
	assert.Equal(t, introspect.TypeView, view.Type)
	assert.Equal(t, 2, view.Columns[0].Scale)
}

func TestSnowflakeSchemaFailureIsContained(t *testing.T) {
	e, mock := newTestSnowflake(t, 1)

	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.SCHEMATA`).
		WillReturnRows(sqlmock.NewRows([]string{"SCHEMA_NAME"}).AddRow("A").AddRow("B").AddRow("C"))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).WithArgs("A").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE"}).AddRow("T1", "BASE TABLE"))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.COLUMNS`).WithArgs("A").
		WillReturnRows(sqlmock.NewRows(sfColumnHeader).AddRow("T1", "X", "TEXT", 1, "YES", "NO", nil, nil, nil, nil))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).WithArgs("B").
		WillReturnError(errors.New("insufficient privileges"))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).WithArgs("C").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE"}).AddRow("T3", "BASE TABLE"))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.COLUMNS`).WithArgs("C").
		WillReturnRows(sqlmock.NewRows(sfColumnHeader).AddRow("T3", "Y", "TEXT", 1, "YES", "NO", nil, nil, nil, nil))

	s, err := e.ExtractSchema(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, s.Tables, 2)
	assert.Equal(t, "A", s.Tables[0].Schema)
	assert.Equal(t, "C", s.Tables[1].Schema)
}

func TestSnowflakeMergesInDiscoveryOrder(t *testing.T) {
	e, mock := newTestSnowflake(t, 4)
	mock.MatchExpectationsInOrder(false)

	schemas := []string{"S1", "S2", "S3", "S4", "S5"}
	rows := sqlmock.NewRows([]string{"SCHEMA_NAME"})
	for _, s := range schemas {
		rows.AddRow(s)
	}
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.SCHEMATA`).WillReturnRows(rows)
	for _, s := range schemas {
		mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).WithArgs(s).
			WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE"}).AddRow("T_"+s, "BASE TABLE"))
		mock.ExpectQuery(`FROM INFORMATION_SCHEMA.COLUMNS`).WithArgs(s).
			WillReturnRows(sqlmock.NewRows(sfColumnHeader).AddRow("T_"+s, "C", "TEXT", 1, "YES", "NO", nil, nil, nil, nil))
	}

	s, err := e.ExtractSchema(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, s.Tables, len(schemas))
	for i, schema := range schemas {
		assert.Equal(t, schema, s.Tables[i].Schema)
		assert.Equal(t, "T_"+schema, s.Tables[i].Name)
	}
}

func TestSnowflakeSchemasError(t *testing.T) {
	e, mock := newTestSnowflake(t, 1)
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.SCHEMATA`).WillReturnError(errors.New("warehouse suspended"))

	_, err := e.ExtractSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query schemas")
}

func TestSnowflakeColumnFailureKeepsTables(t *testing.T) {
	e, mock := newTestSnowflake(t, 1)

	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.SCHEMATA`).
		WillReturnRows(sqlmock.NewRows([]string{"SCHEMA_NAME"}).AddRow("PUBLIC"))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).WithArgs("PUBLIC").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE"}).
			AddRow("CUSTOMERS", "BASE TABLE").
			AddRow("ORDERS_V", "VIEW"))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.COLUMNS`).WithArgs("PUBLIC").
		WillReturnError(errors.New("statement timed out"))

	s, err := e.ExtractSchema(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, s.Tables, 2)
	for _, table := range s.Tables {
		assert.NotNil(t, table.Columns, table.Name)
		assert.Empty(t, table.Columns, table.Name)
	}
	assert.Equal(t, introspect.TypeView, s.Tables[1].Type)
}

func TestSnowflakeCancelled(t *testing.T) {
	e, _ := newTestSnowflake(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := e.ExtractSchema(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Tables)
}

func TestSnowflakeDeadlineDuringSchemaIsNotSkipped(t *testing.T) {
	e, mock := newTestSnowflake(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.SCHEMATA`).
		WillReturnRows(sqlmock.NewRows([]string{"SCHEMA_NAME"}).AddRow("PUBLIC"))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).WithArgs("PUBLIC").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_TYPE"}).AddRow("CUSTOMERS", "BASE TABLE")).
		WillDelayFor(time.Second)

	_, err := e.ExtractSchema(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
