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

var duckColumnHeader = []string{"column_name", "data_type", "ordinal_position", "is_nullable", "column_default"}

func newTestDuckDB(t *testing.T) (*duckExtractor, sqlmock.Sqlmock) {
	conn, mock := mockConn(t)
	e := &duckExtractor{session: newSession(config.DuckDB, db.Options{})}
	e.conn = conn
	return e, mock
}

func TestDuckDBExtract(t *testing.T) {
	e, mock := newTestDuckDB(t)

	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("main", "BASE TABLE").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("items").AddRow(""))
	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("main", "VIEW").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("item_names"))
	mock.ExpectQuery(`FROM information_schema.columns`).
		WithArgs("items", "main").
		WillReturnRows(sqlmock.NewRows(duckColumnHeader).
			AddRow("id", "INTEGER", 1, "NO", "nextval('items_seq')").
			AddRow("", "VARCHAR", 2, "YES", nil).
			AddRow("label", "VARCHAR", 3, "YES", nil))
	mock.ExpectQuery(`FROM information_schema.columns`).
		WithArgs("item_names", "main").
		WillReturnError(errors.New("catalog error"))
	mock.ExpectQuery(`DESCRIBE "item_names"`).
		WillReturnError(errors.New("catalog error"))

	s, err := e.ExtractSchema(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, s.Tables, 2)
	items := s.Tables[0]
	assert.Equal(t, "main", items.Schema)
	assert.Equal(t, introspect.TypeTable, items.Type)
	assert.Equal(t, []string{"id", "label"}, columnNames(items.Columns))
	assert.True(t, items.Columns[0].Autoincrement)
	assert.False(t, items.Columns[0].Nullable)
	assert.False(t, items.Columns[1].Autoincrement)

	// both column queries failed; the view survives without columns
	view := s.Tables[1]
	assert.Equal(t, introspect.TypeView, view.Type)
	assert.NotNil(t, view.Columns)
	assert.Empty(t, view.Columns)
}

func TestDuckDBFallbacks(t *testing.T) {
	e, mock := newTestDuckDB(t)

	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("main", "BASE TABLE").
		WillReturnError(errors.New("no information_schema"))
	mock.ExpectQuery(`SHOW TABLES`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("events"))
	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("main", "VIEW").
		WillReturnError(errors.New("no information_schema"))
	mock.ExpectQuery(`FROM information_schema.columns`).
		WillReturnRows(sqlmock.NewRows(duckColumnHeader))
	mock.ExpectQuery(`DESCRIBE "events"`).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type", "null", "key", "default", "extra"}).
			AddRow("ts", "TIMESTAMP", "NO", "PRI", nil, nil).
			AddRow("kind", "VARCHAR", "YES", nil, nil, nil))

	s, err := e.ExtractSchema(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, s.Tables, 1)
	cols := s.Tables[0].Columns
	assert.Equal(t, []string{"ts", "kind"}, columnNames(cols))
	assert.Equal(t, 1, cols[0].OrdinalPosition)
	assert.Equal(t, 2, cols[1].OrdinalPosition)
	assert.Equal(t, "TIMESTAMP", cols[0].TypeName)
	assert.True(t, cols[0].PrimaryKey)
	assert.Equal(t, 1, cols[0].PrimaryKeySequenceID)
	assert.True(t, cols[1].Nullable)
}

func TestDuckDBPositionalDescribe(t *testing.T) {
	cols := parseDuckDescribe([]db.Record{
		db.NewRecord(nil, "a", "INTEGER", "YES", nil, nil, nil),
		db.NewRecord(nil, "", "INTEGER", "YES", nil, nil, nil),
		db.NewRecord(nil, "b", "DOUBLE", "NO", nil, nil, nil),
	})
	assert.Equal(t, []string{"a", "b"}, columnNames(cols))
	assert.Equal(t, 2, cols[1].OrdinalPosition)
	assert.Equal(t, "DOUBLE", cols[1].TypeName)
	assert.False(t, cols[1].Nullable)
}

func TestDuckDBCancelled(t *testing.T) {
	e, mock := newTestDuckDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := e.ExtractSchema(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Tables)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDuckDBDeadlineDuringViews(t *testing.T) {
	e, mock := newTestDuckDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("main", "BASE TABLE").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("items"))
	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("main", "VIEW").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"})).
		WillDelayFor(time.Second)

	_, err := e.ExtractSchema(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
