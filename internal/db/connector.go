package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"schemascan/internal/introspect"
	"schemascan/internal/logger"
	"schemascan/pkg/config"
)

// Extractor is the contract every backend implements.
type Extractor interface {
	// Connect establishes the backend session. Failures wrap ErrConnectionFailed.
	Connect(ctx context.Context) error

	// Disconnect releases the session. Safe to call more than once.
	Disconnect() error

	// ExtractSchema runs schema, table and column discovery.
	ExtractSchema(ctx context.Context) (introspect.Schema, error)
}

// Factory builds an unconnected extractor for a validated connection.
type Factory func(conn config.Connection, opts Options) (Extractor, error)

// Options bounds one extraction pass.
type Options struct {
	Timeout        time.Duration // whole connect+extract call
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration // each catalog round trip
	MaxConcurrency int           // schemas processed at once, where supported
}

const (
	DefaultTimeout        = 5 * time.Minute
	DefaultConnectTimeout = 15 * time.Second
	DefaultQueryTimeout   = 30 * time.Second
	DefaultMaxConcurrency = 8
)

// OptionsFrom converts the extract section of the app config.
func OptionsFrom(c config.ExtractConfig) Options {
	return Options{
		Timeout:        c.Timeout,
		ConnectTimeout: c.ConnectTimeout,
		QueryTimeout:   c.QueryTimeout,
		MaxConcurrency: c.MaxConcurrency,
	}.WithDefaults()
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	return o
}

var dialects = map[string]Factory{}

// Register makes a backend available under name.
func Register(name string, f Factory) {
	dialects[strings.ToLower(name)] = f
}

// listRegistered returns the registered dialect keys (for diagnostics).
func listRegistered() []string {
	keys := make([]string, 0, len(dialects))
	for k := range dialects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RegisteredDialects is a helper that allows main to print registered dialects
func RegisteredDialects() []string {
	return listRegistered()
}

// New selects the extractor for conn.Type. Unknown types fail before any
// connection is attempted.
func New(conn config.Connection, opts Options) (Extractor, error) {
	conn.Type = config.NormalizeType(conn.Type)
	factory, ok := dialects[conn.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnsupportedBackend, conn.Type, listRegistered())
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	return factory(conn, opts.WithDefaults())
}

var inflight singleflight.Group

// ConnectAndExtract connects, extracts and always disconnects. Concurrent
// calls for the same connection key, credentials included, share one
// extraction; the first caller's context governs it and every sharer gets
// its own copy of the result.
func ConnectAndExtract(ctx context.Context, conn config.Connection, opts Options) (introspect.Schema, error) {
	opts = opts.WithDefaults()
	extractor, err := New(conn, opts)
	if err != nil {
		return introspect.Schema{}, err
	}

	v, err, shared := inflight.Do(conn.Key(), func() (interface{}, error) {
		return run(ctx, extractor, opts)
	})
	if err != nil {
		return introspect.Schema{}, err
	}
	if shared {
		logger.Backend(config.NormalizeType(conn.Type)).Debug("joined in-flight extraction")
		return v.(introspect.Schema).Clone(), nil
	}
	return v.(introspect.Schema), nil
}

func run(ctx context.Context, e Extractor, opts Options) (introspect.Schema, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	defer func() {
		if err := e.Disconnect(); err != nil {
			logger.Warn("disconnect: %v", err)
		}
	}()

	connectCtx, cancelConnect := context.WithTimeout(ctx, opts.ConnectTimeout)
	err := e.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		return introspect.Schema{}, err
	}

	started := time.Now()
	s, err := e.ExtractSchema(ctx)
	if err != nil {
		return introspect.Schema{}, err
	}
	if dropped := introspect.Normalize(&s); dropped > 0 {
		logger.Warn("dropped %d duplicate tables", dropped)
	}
	logger.Info("extracted %d tables in %s", len(s.Tables), time.Since(started).Round(time.Millisecond))
	return s, nil
}
