package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

type Config struct {
	Driver   string // "postgres" or "sqlite"
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	MaxPool  int
	Path     string // sqlite database file
}

type DB struct {
	*sql.DB
	postgres bool
	now      func() time.Time
}

// Open connects using the driver named in cfg and applies the schema
func Open(cfg Config) (*DB, error) {
	switch cfg.Driver {
	case "", "postgres":
		return NewPostgresDB(cfg)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewPostgresDB creates a new PostgreSQL connection pool
func NewPostgresDB(cfg Config) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxPool := cfg.MaxPool
	if maxPool <= 0 {
		maxPool = 10
	}
	db.SetMaxOpenConns(maxPool)
	db.SetMaxIdleConns(maxPool / 2)
	db.SetConnMaxLifetime(time.Hour)

	return initialize(db, true)
}

// OpenSQLite opens (creating if needed) a single-file database
func OpenSQLite(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	return initialize(db, false)
}

func initialize(db *sql.DB, postgres bool) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Println("✓ Database schema ready")
	return &DB{DB: db, postgres: postgres, now: time.Now}, nil
}

// rebind rewrites ? placeholders to $n for postgres
func (db *DB) rebind(query string) string {
	if !db.postgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timestamp returns the current time at second precision so stored values
// compare correctly as text under sqlite
func (db *DB) timestamp() time.Time {
	return db.now().UTC().Truncate(time.Second)
}
