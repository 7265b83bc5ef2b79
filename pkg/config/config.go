package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/snowflakedb/gosnowflake"
	"gopkg.in/yaml.v3"
)

// Canonical backend type keys.
const (
	Postgres   = "postgres"
	Snowflake  = "snowflake"
	BigQuery   = "bigquery"
	Databricks = "databricks"
	DuckDB     = "duckdb"
	MySQL      = "mysql"
	SQLServer  = "sqlserver"
	SQLite     = "sqlite"
	Oracle     = "oracle"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid connection config")

// ServerParams covers host/port SQL servers (postgres, mysql, sqlserver, oracle).
type ServerParams struct {
	User     string `yaml:"user" json:"user"`
	Host     string `yaml:"host" json:"host"`
	Database string `yaml:"database" json:"database"`
	Password string `yaml:"password" json:"password"`
	Port     int    `yaml:"port" json:"port"`
	SSLMode  string `yaml:"sslmode,omitempty" json:"sslmode,omitempty"`
	DSN      string `yaml:"dsn,omitempty" json:"dsn,omitempty"` // optional explicit DSN
}

type SnowflakeParams struct {
	Account   string `yaml:"account" json:"account"`
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
	Warehouse string `yaml:"warehouse" json:"warehouse"`
	Database  string `yaml:"database" json:"database"`
	Schema    string `yaml:"schema" json:"schema"`
	Role      string `yaml:"role,omitempty" json:"role,omitempty"`
}

type BigQueryParams struct {
	ProjectID   string `yaml:"projectId" json:"projectId"`
	KeyFilename string `yaml:"keyFilename,omitempty" json:"keyFilename,omitempty"`
	Credentials string `yaml:"credentials,omitempty" json:"credentials,omitempty"` // service account JSON
	Location    string `yaml:"location,omitempty" json:"location,omitempty"`
}

type DatabricksParams struct {
	Token   string `yaml:"token" json:"token"`
	Host    string `yaml:"host" json:"host"`
	Path    string `yaml:"path" json:"path"`
	Catalog string `yaml:"catalog,omitempty" json:"catalog,omitempty"`
	Schema  string `yaml:"schema" json:"schema"`
}

// FileParams covers single-file databases (duckdb, sqlite).
type FileParams struct {
	DatabasePath string `yaml:"database_path" json:"database_path"`
}

// Connection is a tagged union: Type selects which block is read.
type Connection struct {
	Type       string            `yaml:"type" json:"type"`
	Postgres   *ServerParams     `yaml:"postgres,omitempty" json:"postgres,omitempty"`
	MySQL      *ServerParams     `yaml:"mysql,omitempty" json:"mysql,omitempty"`
	SQLServer  *ServerParams     `yaml:"sqlserver,omitempty" json:"sqlserver,omitempty"`
	Oracle     *ServerParams     `yaml:"oracle,omitempty" json:"oracle,omitempty"`
	Snowflake  *SnowflakeParams  `yaml:"snowflake,omitempty" json:"snowflake,omitempty"`
	BigQuery   *BigQueryParams   `yaml:"bigquery,omitempty" json:"bigquery,omitempty"`
	Databricks *DatabricksParams `yaml:"databricks,omitempty" json:"databricks,omitempty"`
	DuckDB     *FileParams       `yaml:"duckdb,omitempty" json:"duckdb,omitempty"`
	SQLite     *FileParams       `yaml:"sqlite,omitempty" json:"sqlite,omitempty"`
}

type ServerConfig struct {
	Port int `yaml:"port" json:"port"`
}

// ExtractConfig holds deadlines for one extraction pass. Zero values mean
// the defaults of the extraction facade.
type ExtractConfig struct {
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout" json:"query_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency" json:"max_concurrency"`
}

type AppConfig struct {
	Connection Connection    `yaml:"connection" json:"connection"`
	Server     ServerConfig  `yaml:"server" json:"server"`
	Extract    ExtractConfig `yaml:"extract" json:"extract"`
}

// LoadFile loads YAML config from path. ${VAR} references are expanded
// from the environment before parsing; when envFile is non-empty it is
// loaded first without overriding variables that are already set.
func LoadFile(path, envFile string) (AppConfig, error) {
	var cfg AppConfig
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return cfg, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	f, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(f))), &cfg); err != nil {
		return cfg, err
	}
	cfg.Connection.Type = NormalizeType(cfg.Connection.Type)
	return cfg, nil
}

// NormalizeType maps common aliases to canonical keys.
func NormalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "postgresql", "pg", "postgres":
		return Postgres
	case "mysql", "mariadb":
		return MySQL
	case "sqlite", "sqlite3":
		return SQLite
	case "mssql", "sqlserver":
		return SQLServer
	case "godror", "oracle":
		return Oracle
	case "duckdb", "duck":
		return DuckDB
	case "bigquery", "bq":
		return BigQuery
	default:
		return strings.ToLower(strings.TrimSpace(t))
	}
}

// Validate checks that the block selected by Type exists and carries the
// fields its backend needs.
func (c Connection) Validate() error {
	var missing []string
	need := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}

	t := NormalizeType(c.Type)
	switch t {
	case Postgres, MySQL, SQLServer, Oracle:
		p := c.server(t)
		if p == nil {
			return fmt.Errorf("%w: missing %q block", ErrInvalid, t)
		}
		if p.DSN == "" {
			need("user", p.User)
			need("host", p.Host)
			need("database", p.Database)
		}
	case Snowflake:
		p := c.Snowflake
		if p == nil {
			return fmt.Errorf("%w: missing %q block", ErrInvalid, t)
		}
		need("account", p.Account)
		need("username", p.Username)
		need("password", p.Password)
		need("warehouse", p.Warehouse)
		need("database", p.Database)
		need("schema", p.Schema)
	case BigQuery:
		if c.BigQuery == nil {
			return fmt.Errorf("%w: missing %q block", ErrInvalid, t)
		}
		need("projectId", c.BigQuery.ProjectID)
	case Databricks:
		p := c.Databricks
		if p == nil {
			return fmt.Errorf("%w: missing %q block", ErrInvalid, t)
		}
		need("token", p.Token)
		need("host", p.Host)
		need("path", p.Path)
		need("schema", p.Schema)
	case DuckDB, SQLite:
		p := c.file(t)
		if p == nil {
			return fmt.Errorf("%w: missing %q block", ErrInvalid, t)
		}
		need("database_path", p.DatabasePath)
	case "":
		return fmt.Errorf("%w: type is required", ErrInvalid)
	default:
		return fmt.Errorf("%w: unsupported database type: %s", ErrInvalid, c.Type)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", ErrInvalid, t, strings.Join(missing, ", "))
	}
	return nil
}

// Server returns the host/port block for postgres, mysql, sqlserver or oracle.
func (c Connection) Server() *ServerParams {
	return c.server(NormalizeType(c.Type))
}

// File returns the file block for duckdb or sqlite.
func (c Connection) File() *FileParams {
	return c.file(NormalizeType(c.Type))
}

func (c Connection) server(t string) *ServerParams {
	switch t {
	case Postgres:
		return c.Postgres
	case MySQL:
		return c.MySQL
	case SQLServer:
		return c.SQLServer
	case Oracle:
		return c.Oracle
	}
	return nil
}

func (c Connection) file(t string) *FileParams {
	switch t {
	case DuckDB:
		return c.DuckDB
	case SQLite:
		return c.SQLite
	}
	return nil
}

// Key identifies the target of a connection and the credentials used to
// reach it. Secrets only enter the key as a truncated sha256, so two configs
// with the same key point at the same catalog as the same principal.
func (c Connection) Key() string {
	t := NormalizeType(c.Type)
	parts := []string{t}
	switch t {
	case Postgres, MySQL, SQLServer, Oracle:
		if p := c.server(t); p != nil {
			if p.DSN != "" {
				parts = append(parts, redactDSN(p.DSN), fingerprint(p.DSN))
			} else {
				parts = append(parts, p.User, p.Host, strconv.Itoa(p.Port), p.Database, fingerprint(p.Password))
			}
		}
	case Snowflake:
		if p := c.Snowflake; p != nil {
			parts = append(parts, p.Account, p.Username, p.Warehouse, p.Database, p.Schema, p.Role, fingerprint(p.Password))
		}
	case BigQuery:
		if p := c.BigQuery; p != nil {
			parts = append(parts, p.ProjectID, p.Location, fingerprint(p.KeyFilename, p.Credentials))
		}
	case Databricks:
		if p := c.Databricks; p != nil {
			parts = append(parts, p.Host, p.Path, p.Catalog, p.Schema, fingerprint(p.Token))
		}
	case DuckDB, SQLite:
		if p := c.file(t); p != nil {
			parts = append(parts, p.DatabasePath)
		}
	}
	return strings.Join(parts, "|")
}

func fingerprint(secrets ...string) string {
	h := sha256.New()
	for _, s := range secrets {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	u.User = url.User(u.User.Username())
	return u.String()
}

// BuildDriverAndDSN produces a database/sql driver name and DSN for the
// SQL backends. BigQuery and Databricks are configured through their
// client constructors and are rejected here.
func BuildDriverAndDSN(c Connection) (driver string, dsn string, err error) {
	t := NormalizeType(c.Type)

	if p := c.server(t); p != nil && p.DSN != "" {
		return driverName(t), p.DSN, nil
	}

	switch t {
	case Postgres:
		p := c.Postgres
		if p == nil {
			return "", "", fmt.Errorf("%w: missing %q block", ErrInvalid, t)
		}
		sslMode := p.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(p.User, p.Password),
			Host:     fmt.Sprintf("%s:%d", p.Host, portOr(p.Port, 5432)),
			Path:     "/" + p.Database,
			RawQuery: "sslmode=" + url.QueryEscape(sslMode),
		}
		driver, dsn = "postgres", u.String()
	case MySQL:
		p := c.MySQL
		if p == nil {
			return "", "", fmt.Errorf("%w: missing %q block", ErrInvalid, t)
		}
		driver = "mysql"
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			p.User, p.Password, p.Host, portOr(p.Port, 3306), p.Database)
	case SQLServer:
		p := c.SQLServer
		if p == nil {
			return "", "", fmt.Errorf("%w: missing %q block", ErrInvalid, t)
		}
		driver = "sqlserver"
		dsn = fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
			p.User, p.Password, p.Host, portOr(p.Port, 1433), p.Database)
	case Oracle:
		p := c.Oracle
		if p == nil {
			return "", "", fmt.Errorf("%w: missing %q block", ErrInvalid, t)
		}
		driver = "godror"
		// simple EZCONNECT style; may need adjustments per environment
		dsn = fmt.Sprintf("%s/%s@%s:%d/%s",
			p.User, p.Password, p.Host, portOr(p.Port, 1521), p.Database)
	case SQLite:
		if c.SQLite == nil || c.SQLite.DatabasePath == "" {
			return "", "", fmt.Errorf("sqlite needs a file path in database_path")
		}
		driver = "sqlite"
		dsn = fmt.Sprintf("file:%s?mode=ro", c.SQLite.DatabasePath)
	case DuckDB:
		if c.DuckDB == nil || c.DuckDB.DatabasePath == "" {
			return "", "", fmt.Errorf("duckdb needs a file path in database_path")
		}
		driver = "duckdb"
		dsn = c.DuckDB.DatabasePath + "?access_mode=read_only"
	case Snowflake:
		p := c.Snowflake
		if p == nil {
			return "", "", fmt.Errorf("%w: missing %q block", ErrInvalid, t)
		}
		driver = "snowflake"
		dsn, err = gosnowflake.DSN(&gosnowflake.Config{
			Account:   p.Account,
			User:      p.Username,
			Password:  p.Password,
			Warehouse: p.Warehouse,
			Database:  p.Database,
			Schema:    p.Schema,
			Role:      p.Role,
		})
		if err != nil {
			return "", "", fmt.Errorf("build snowflake dsn: %w", err)
		}
	case BigQuery, Databricks:
		err = fmt.Errorf("%s is not configured through a DSN", t)
	default:
		err = fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return
}

func driverName(t string) string {
	if t == Oracle {
		return "godror"
	}
	return t
}

func portOr(port, def int) int {
	if port == 0 {
		return def
	}
	return port
}
