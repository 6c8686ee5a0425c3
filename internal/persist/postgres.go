package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds the document store connection settings.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewPostgresConfigFromEnv reads DB_* environment variables (with defaults).
func NewPostgresConfigFromEnv() PostgresConfig {
	return PostgresConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "quizloop"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns the Postgres connection URL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PostgresStore implements ResultStore against a single jsonb-keyed table.
// The orchestrator treats it as an opaque key-value document store: one
// row per finished room, upserted so a retried flush is idempotent.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

const putResultsQuery = `
INSERT INTO room_results (room_id, results, finished_at)
VALUES ($1, $2, now())
ON CONFLICT (room_id) DO UPDATE SET results = EXCLUDED.results, finished_at = EXCLUDED.finished_at
`

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool, timeout: 5 * time.Second}, nil
}

func (s *PostgresStore) PutResults(roomID string, results []FinalResult) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, putResultsQuery, roomID, payload); err != nil {
		return fmt.Errorf("failed to upsert results for room %s: %w", roomID, err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
