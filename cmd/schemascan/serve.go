package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"schemascan/internal/db"
	"schemascan/internal/introspect"
	"schemascan/internal/logger"
	"schemascan/pkg/config"
)

const defaultPort = 8080

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve schema extraction over HTTP",
	Long: `Starts an HTTP server with the endpoints

  POST /api/extract   extract the connection in the request body
  GET  /api/schema    extract the active connection
  GET  /api/backends  list registered backend types

A successful POST makes its connection the active one.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&port, "port", 0, fmt.Sprintf("http port (overrides config, default %d)", defaultPort))
}

type extractFunc func(ctx context.Context, conn config.Connection, opts db.Options) (introspect.Schema, error)

// server holds the active connection between requests.
type server struct {
	mu      sync.RWMutex
	active  config.Connection
	opts    db.Options
	extract extractFunc
}

func newServer(active config.Connection, opts db.Options) *server {
	return &server{active: active, opts: opts, extract: db.ConnectAndExtract}
}

// setActive sets the active database connection
func (s *server) setActive(conn config.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = conn
}

// getActive returns the active database connection
func (s *server) getActive() config.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/extract", s.handleExtract)
	mux.HandleFunc("GET /api/schema", s.handleSchema)
	mux.HandleFunc("GET /api/backends", s.handleBackends)
	return mux
}

type schemaResponse struct {
	OK     bool              `json:"ok"`
	Schema introspect.Schema `json:"schema"`
}

// connect endpoint: user posts connection params and gets the schema back
func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var conn config.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	schema, err := s.extract(r.Context(), conn, s.opts)
	if err != nil {
		http.Error(w, "extraction failed: "+err.Error(), statusFor(err))
		return
	}
	s.setActive(conn)
	writeJSON(w, schemaResponse{OK: true, Schema: schema})
}

// schema endpoint uses the active connection
func (s *server) handleSchema(w http.ResponseWriter, r *http.Request) {
	conn := s.getActive()
	if conn.Type == "" {
		http.Error(w, "no active connection; POST /api/extract to create one", http.StatusBadRequest)
		return
	}
	schema, err := s.extract(r.Context(), conn, s.opts)
	if err != nil {
		http.Error(w, "failed to extract schema: "+err.Error(), statusFor(err))
		return
	}
	writeJSON(w, schemaResponse{OK: true, Schema: schema})
}

func (s *server) handleBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Backends []string `json:"backends"`
	}{Backends: db.RegisteredDialects()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrUnsupportedBackend), errors.Is(err, db.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrConnectionFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response: %v", err)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		// the server can still be driven through POST /api/extract
		logger.Error("%v", err)
	}
	opts := extractOptions(cfg.Extract)
	srv := newServer(cfg.Connection, opts)

	addr := fmt.Sprintf(":%d", cmp.Or(port, cfg.Server.Port, defaultPort))
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: opts.Timeout + 10*time.Second,
	}
	logger.Info("listening on %s", addr)
	logger.Info("registered dialects: %v", db.RegisteredDialects())
	return httpSrv.ListenAndServe()
}
