// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package duckdbx wraps database/sql access to embedded DuckDB: per-connection
// setup (memory limit, threads, extensions), read-only attaching of additional
// database files, and optional memory metrics polling.
package duckdbx

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
)

// ExtensionsPathEnvVar points at a directory of pre-installed DuckDB
// extensions for air-gapped deployments. When unset, extensions are
// installed over the network on first use.
const ExtensionsPathEnvVar = "GEORUNNER_EXTENSIONS_PATH"

// Global mutex to serialize extension/attach DDL across the process.
// DuckDB extension loading & DDL may crash when done concurrently in many engines.
var duckdbDDLMu sync.Mutex

// Option tunes how a DB is opened.
type Option func(*Config)

type Config struct {
	MemoryLimitMB int64
	Threads       int
	Extensions    []ExtensionConfig
	Metrics       bool
	MetricsPeriod time.Duration
	InstanceName  string

	pollerContext context.Context
}

type ExtensionConfig struct {
	Name string
}

// WithMemoryLimitMB sets a memory limit for DuckDB in megabytes.
func WithMemoryLimitMB(limit int64) Option {
	return func(c *Config) {
		c.MemoryLimitMB = limit
	}
}

// WithThreads sets the number of threads DuckDB may use per connection.
func WithThreads(n int) Option {
	return func(c *Config) {
		c.Threads = n
	}
}

// WithExtension specifies a DuckDB extension to install and load on connection
// setup. In air-gapped mode (when GEORUNNER_EXTENSIONS_PATH is set), extensions
// are loaded from pre-installed files. In development mode, extensions are
// downloaded from the network.
func WithExtension(ext string) Option {
	return func(c *Config) {
		c.Extensions = append(c.Extensions, ExtensionConfig{
			Name: ext,
		})
	}
}

// WithoutExtension removes an extension from the list of extensions to load.
// If the extension is not in the list, this is a no-op.
func WithoutExtension(ext string) Option {
	return func(c *Config) {
		for i, existing := range c.Extensions {
			if existing.Name == ext {
				c.Extensions = append(c.Extensions[:i], c.Extensions[i+1:]...)
				return
			}
		}
	}
}

// WithMetrics enables periodic polling of DuckDB memory metrics.
func WithMetrics(period time.Duration) Option {
	return func(c *Config) {
		c.Metrics = true
		c.MetricsPeriod = period
	}
}

// WithMetricsContext sets the context used for metrics polling.
// If the context is cancelled, metrics polling will stop.
func WithMetricsContext(ctx context.Context) Option {
	return func(c *Config) {
		c.pollerContext = ctx
	}
}

// WithName sets an instance name reported on metrics.
func WithName(name string) Option {
	return func(c *Config) {
		c.InstanceName = name
	}
}

type DB struct {
	db     *sql.DB
	config Config
}

// Open opens a DuckDB database with the given data source name and options.
// An empty data source name opens an in-memory database. The spatial
// extension is loaded by default; memory limit falls back to the
// DUCKDB_MEMORY_LIMIT environment variable (in MB) when not set explicitly.
func Open(dataSourceName string, opts ...Option) (*DB, error) {
	db, err := sql.Open("duckdb", dataSourceName)
	if err != nil {
		return nil, err
	}

	config := Config{
		MetricsPeriod: 10 * time.Second,
		pollerContext: context.Background(),
		Extensions: []ExtensionConfig{
			{Name: "spatial"},
		},
	}

	for _, opt := range opts {
		opt(&config)
	}
	if config.MemoryLimitMB == 0 {
		config.MemoryLimitMB = envInt64("DUCKDB_MEMORY_LIMIT", 0)
	}

	d := &DB{db: db, config: config}

	if config.Metrics {
		go d.pollMemoryMetrics(config.pollerContext)
	}

	return d, nil
}

// ReadOnlyDSN returns a data source name that opens path in read-only mode.
func ReadOnlyDSN(path string) string {
	return path + "?access_mode=read_only"
}

// Conn returns a new connection to the database, with any setup
// (such as setting memory limits and loading extensions) already performed.
func (d *DB) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	if err := d.setupConn(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

func (d *DB) setupConn(ctx context.Context, conn *sql.Conn) error {
	// Enable object cache to improve memory efficiency by reusing internal structures
	if _, err := conn.ExecContext(ctx, "PRAGMA enable_object_cache;"); err != nil {
		return fmt.Errorf("failed to enable object cache: %w", err)
	}

	if d.config.MemoryLimitMB > 0 {
		stmt := fmt.Sprintf("SET memory_limit='%dMB';", d.config.MemoryLimitMB)
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set memory limit: %w", err)
		}
	}
	if d.config.Threads > 0 {
		stmt := fmt.Sprintf("SET threads=%d;", d.config.Threads)
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set threads: %w", err)
		}
	}
	for _, ext := range d.config.Extensions {
		if err := d.loadExtension(ctx, conn, ext.Name); err != nil {
			return fmt.Errorf("failed to load extension '%s': %w", ext.Name, err)
		}
	}
	return nil
}

func (d *DB) SetMaxOpenConns(n int) {
	d.db.SetMaxOpenConns(n)
}

func (d *DB) SetMaxIdleConns(n int) {
	d.db.SetMaxIdleConns(n)
}

func (d *DB) Close() error {
	return d.db.Close()
}

// loadExtension handles air-gapped extension loading with fallback to network.
func (d *DB) loadExtension(ctx context.Context, conn *sql.Conn, extensionName string) error {
	extensionsBasePath := os.Getenv(ExtensionsPathEnvVar)
	if extensionsBasePath != "" {
		return d.loadAirGappedExtension(ctx, conn, extensionName, extensionsBasePath)
	}
	return d.loadNetworkExtension(ctx, conn, extensionName)
}

// loadAirGappedExtension loads extensions from pre-installed files only.
func (d *DB) loadAirGappedExtension(ctx context.Context, conn *sql.Conn, extensionName, basePath string) error {
	specificEnvVar := fmt.Sprintf("GEORUNNER_%s_EXTENSION", strings.ToUpper(extensionName))
	extensionPath := os.Getenv(specificEnvVar)

	if extensionPath == "" {
		extensionPath = filepath.Join(basePath, extensionName+".duckdb_extension")
	}

	if _, err := os.Stat(extensionPath); os.IsNotExist(err) {
		return fmt.Errorf("extension '%s' not found at %s (air-gapped mode)", extensionName, extensionPath)
	}

	duckdbDDLMu.Lock()
	defer duckdbDDLMu.Unlock()
	stmt := fmt.Sprintf("LOAD '%s';", escapeSingle(extensionPath))
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to load extension from %s: %w", extensionPath, err)
	}

	return nil
}

// loadNetworkExtension loads extensions with network access (development mode).
func (d *DB) loadNetworkExtension(ctx context.Context, conn *sql.Conn, extensionName string) error {
	duckdbDDLMu.Lock()
	defer duckdbDDLMu.Unlock()

	// Try to load the extension first (works for both static and installed extensions)
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("LOAD %s;", extensionName)); err != nil {
		// If load fails, try to install first (for non-static extensions)
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("INSTALL %s", extensionName)); err != nil {
			return fmt.Errorf("failed to install extension: %w", err)
		}
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("LOAD %s;", extensionName)); err != nil {
			return fmt.Errorf("failed to load extension after install: %w", err)
		}
	}
	return nil
}

// Attach attaches the database file at path to conn under the given alias.
func Attach(ctx context.Context, conn *sql.Conn, alias, path string, readOnly bool) error {
	stmt := fmt.Sprintf("ATTACH '%s' AS %s", escapeSingle(path), QuoteIdent(alias))
	if readOnly {
		stmt += " (READ_ONLY)"
	}
	duckdbDDLMu.Lock()
	defer duckdbDDLMu.Unlock()
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to attach %s as %s: %w", path, alias, err)
	}
	return nil
}

// Detach detaches a previously attached database.
func Detach(ctx context.Context, conn *sql.Conn, alias string) error {
	duckdbDDLMu.Lock()
	defer duckdbDDLMu.Unlock()
	if _, err := conn.ExecContext(ctx, "DETACH "+QuoteIdent(alias)); err != nil {
		return fmt.Errorf("failed to detach %s: %w", alias, err)
	}
	return nil
}

// Rows couples a result set with the connection it runs on, so closing the
// rows also returns the connection to the pool.
type Rows struct {
	*sql.Rows
	conn *sql.Conn
}

// Close closes the result set and releases its connection.
func (r *Rows) Close() error {
	err := r.Rows.Close()
	if cerr := r.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Query executes a SQL query using a new DuckDB connection and returns the
// result set. The caller must Close the rows to release the connection.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	conn, err := d.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get duckdb connection: %w", err)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		closeErr := conn.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("query failed, and closing connection also failed: %v; %v", err, closeErr)
		}
		return nil, fmt.Errorf("query execution failed: %w", err)
	}

	return &Rows{Rows: rows, conn: conn}, nil
}

// Exec executes a statement on a fresh connection and closes it afterwards.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	conn, err := d.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get duckdb connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec execution failed: %w", err)
	}
	return nil
}

// QuoteIdent quotes a SQL identifier for DuckDB.
func QuoteIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

// EscapeString escapes a string for inclusion in a single-quoted SQL literal.
func EscapeString(s string) string { return escapeSingle(s) }

func escapeSingle(s string) string { return strings.ReplaceAll(s, `'`, `''`) }
