package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Querier is satisfied by *sql.DB, *sql.Conn, *sql.Tx and *sqlx.DB.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Record is one decoded result row. Drivers differ in whether a catalog
// row is best read by column name or by position, so every field can be
// looked up either way.
type Record struct {
	cols []string
	vals []interface{}
}

// NewRecord builds a record from column names and values. cols may be
// shorter than vals (or nil) for purely positional rows.
func NewRecord(cols []string, vals ...interface{}) Record {
	return Record{cols: cols, vals: vals}
}

// Len is the number of fields in the row.
func (r Record) Len() int { return len(r.vals) }

// Value returns the first named field present among keys (case-insensitive),
// falling back to the field at pos. A negative pos disables the fallback.
func (r Record) Value(pos int, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		for i, c := range r.cols {
			if i < len(r.vals) && strings.EqualFold(c, k) {
				return r.vals[i], true
			}
		}
	}
	if pos >= 0 && pos < len(r.vals) {
		return r.vals[pos], true
	}
	return nil, false
}

// Has reports whether any of keys names a column of the row.
func (r Record) Has(keys ...string) bool {
	_, ok := r.Value(-1, keys...)
	return ok
}

func (r Record) String(pos int, keys ...string) string {
	v, _ := r.Value(pos, keys...)
	return AsString(v)
}

func (r Record) Int(pos int, keys ...string) int {
	v, _ := r.Value(pos, keys...)
	return AsInt(v)
}

func (r Record) Bool(pos int, keys ...string) bool {
	v, _ := r.Value(pos, keys...)
	return AsBool(v)
}

// QueryTimeout derives the per-round-trip context.
func QueryTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// QueryRecords runs query under its own deadline and decodes every row.
func QueryRecords(ctx context.Context, q Querier, timeout time.Duration, query string, args ...interface{}) ([]Record, error) {
	ctx, cancel := QueryTimeout(ctx, timeout)
	defer cancel()

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []Record
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, Record{cols: cols, vals: vals})
	}
	return out, rows.Err()
}

// AsString renders a driver value as text; nil becomes "".
func AsString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// AsInt converts numeric or numeric-text driver values; anything else is 0.
func AsInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int8:
		return int(t)
	case int16:
		return int(t)
	case int32:
		return int(t)
	case int64:
		return int(t)
	case uint8:
		return int(t)
	case uint16:
		return int(t)
	case uint32:
		return int(t)
	case uint64:
		return int(t)
	case float32:
		return int(t)
	case float64:
		return int(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string, []byte:
		s := strings.TrimSpace(AsString(t))
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
	}
	return 0
}

// AsBool understands native booleans, non-zero numbers and the usual
// catalog spellings (YES, Y, TRUE, T, 1).
func AsBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string, []byte:
		switch strings.ToUpper(strings.TrimSpace(AsString(t))) {
		case "YES", "Y", "TRUE", "T", "1":
			return true
		}
		return false
	case nil:
		return false
	default:
		return AsInt(t) != 0
	}
}
