package extractors

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"schemascan/internal/db"
	"schemascan/internal/introspect"
	"schemascan/internal/logger"
)

// session owns the single database/sql handle of one extraction pass.
type session struct {
	backend  string
	opts     db.Options
	maxConns int
	conn     *sqlx.DB
}

func newSession(backend string, opts db.Options) session {
	return session{backend: backend, opts: opts.WithDefaults(), maxConns: 1}
}

// open connects with driver and dsn and verifies the session with a ping.
func (s *session) open(ctx context.Context, driver, dsn string) error {
	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", db.ErrConnectionFailed, s.backend, err)
	}
	return s.attach(ctx, conn)
}

// attach adopts an already opened handle, pinging it first.
func (s *session) attach(ctx context.Context, conn *sqlx.DB) error {
	conn.SetMaxOpenConns(s.maxConns)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %s: %w", db.ErrConnectionFailed, s.backend, err)
	}
	s.conn = conn
	s.log().Debug("connected")
	return nil
}

// Disconnect closes the handle. It never fails; close errors are logged.
func (s *session) Disconnect() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		s.log().Warnf("close: %v", err)
	}
	s.conn = nil
	return nil
}

func (s *session) ready() error {
	if s.conn == nil {
		return fmt.Errorf("%s: %w", s.backend, db.ErrNotConnected)
	}
	return nil
}

func (s *session) log() *logrus.Entry {
	return logger.Backend(s.backend)
}

func (s *session) records(ctx context.Context, query string, args ...interface{}) ([]db.Record, error) {
	return db.QueryRecords(ctx, s.conn, s.opts.QueryTimeout, query, args...)
}

// selectRows scans query results into dest (a pointer to a slice of
// structs with db tags) under the per-query deadline.
func (s *session) selectRows(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, cancel := db.QueryTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()
	return s.conn.SelectContext(ctx, dest, query, args...)
}

// tableRef is a table or view found during table discovery, before
// columns are attached.
type tableRef struct {
	Name string `db:"table_name"`
	Type string `db:"table_type"`
}

func (r tableRef) table(schema string, cols []introspect.Column) introspect.Table {
	if cols == nil {
		cols = []introspect.Column{}
	}
	return introspect.Table{
		Name:    r.Name,
		Type:    introspect.CanonicalType(r.Type),
		Schema:  schema,
		Columns: cols,
	}
}
