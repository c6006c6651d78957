package helper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Database wraps the sql.DB connection pool together with its logger.
type Database struct {
	Name     string
	Logger   *slog.Logger
	Instance *sql.DB
}

// DatabaseConfiguration holds the connection settings for PostgreSQL.
type DatabaseConfiguration struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
	SSLMode  string
}

// LoadEnv loads a .env file from the working directory if one exists.
// Variables already present in the environment are not overridden.
func LoadEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return NewError("load .env", err)
	}
	return nil
}

// NewDatabaseConfiguration reads the database configuration from CTIGRAPH_DB_* environment variables.
func NewDatabaseConfiguration() (*DatabaseConfiguration, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}

	config := &DatabaseConfiguration{
		Host:     os.Getenv("CTIGRAPH_DB_HOST"),
		Port:     os.Getenv("CTIGRAPH_DB_PORT"),
		Database: os.Getenv("CTIGRAPH_DB_DATABASE"),
		Username: os.Getenv("CTIGRAPH_DB_USERNAME"),
		Password: os.Getenv("CTIGRAPH_DB_PASSWORD"),
		Schema:   os.Getenv("CTIGRAPH_DB_SCHEMA"),
		SSLMode:  os.Getenv("CTIGRAPH_DB_SSLMODE"),
	}

	if len(strings.TrimSpace(config.Host)) == 0 ||
		len(strings.TrimSpace(config.Port)) == 0 ||
		len(strings.TrimSpace(config.Database)) == 0 ||
		len(strings.TrimSpace(config.Username)) == 0 ||
		len(strings.TrimSpace(config.Password)) == 0 ||
		len(strings.TrimSpace(config.Schema)) == 0 {
		return nil, NewError(
			"database configuration validation",
			fmt.Errorf("CTIGRAPH_DB_HOST, CTIGRAPH_DB_PORT, CTIGRAPH_DB_DATABASE, CTIGRAPH_DB_USERNAME, CTIGRAPH_DB_PASSWORD and CTIGRAPH_DB_SCHEMA environment variables must be set"),
		)
	}

	if len(strings.TrimSpace(config.SSLMode)) == 0 {
		config.SSLMode = "require"
	}

	return config, nil
}

// DSN returns the connection string for lib/pq.
func (c *DatabaseConfiguration) DSN() string {
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   c.Database,
	}
	q := dsn.Query()
	q.Set("sslmode", c.SSLMode)
	q.Set("search_path", c.Schema)
	dsn.RawQuery = q.Encode()
	return dsn.String()
}

// NewDatabase opens the connection pool and verifies it with a ping.
// It panics if the database is not reachable.
func NewDatabase(name string, dbConfig *DatabaseConfiguration, logger *slog.Logger) *Database {
	if logger == nil {
		logger = slog.Default()
	}

	db := &Database{
		Name:   name,
		Logger: logger,
	}

	if dbConfig != nil {
		err := db.ConnectToDatabase(dbConfig)
		if err != nil {
			log.Panicf("error connecting to database %s: %v", name, err)
		}
	}

	return db
}

// NewTestDatabase creates a database connection with a debug logger for tests.
func NewTestDatabase(config *DatabaseConfiguration) *Database {
	logger := slog.New(NewPrettyHandler(os.Stdout, PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}))
	return NewDatabase("test_db", config, logger)
}

// ConnectToDatabase opens the pool and pings the server.
func (d *Database) ConnectToDatabase(dbConfig *DatabaseConfiguration) error {
	instance, err := sql.Open("postgres", dbConfig.DSN())
	if err != nil {
		return NewError("open", err)
	}

	instance.SetMaxOpenConns(25)
	instance.SetMaxIdleConns(25)
	instance.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = instance.PingContext(ctx)
	if err != nil {
		instance.Close()
		return NewError("ping", err)
	}

	d.Instance = instance
	d.Logger.Info("Connected to database", slog.String("name", d.Name), slog.String("host", dbConfig.Host))

	return nil
}

// Close closes the connection pool.
func (d *Database) Close() error {
	if d.Instance == nil {
		return nil
	}
	return d.Instance.Close()
}
