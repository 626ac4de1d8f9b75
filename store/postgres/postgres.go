package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smallnest/debategraph/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresCheckpointStore implements store.CheckpointStore using PostgreSQL
type PostgresCheckpointStore struct {
	pool         DBPool
	tableName    string
	historyTable string
}

var (
	_ store.CheckpointStore = (*PostgresCheckpointStore)(nil)
	_ store.HistoryStore    = (*PostgresCheckpointStore)(nil)
)

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "sessions"
}

// NewPostgresCheckpointStore creates a new Postgres checkpoint store
func NewPostgresCheckpointStore(ctx context.Context, opts PostgresOptions) (*PostgresCheckpointStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewPostgresCheckpointStoreWithPool(pool, opts.TableName), nil
}

// NewPostgresCheckpointStoreWithPool creates a new Postgres checkpoint store with an existing pool
// Useful for testing with mocks
func NewPostgresCheckpointStoreWithPool(pool DBPool, tableName string) *PostgresCheckpointStore {
	if tableName == "" {
		tableName = "sessions"
	}
	return &PostgresCheckpointStore{
		pool:         pool,
		tableName:    tableName,
		historyTable: tableName + "_history",
	}
}

// InitSchema creates the necessary tables if they don't exist
func (s *PostgresCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			session_id TEXT PRIMARY KEY,
			state JSONB NOT NULL,
			completed JSONB NOT NULL,
			stage TEXT NOT NULL,
			step INTEGER NOT NULL,
			final BOOLEAN NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_updated_at ON %[1]s (updated_at DESC);
		CREATE TABLE IF NOT EXISTS %[2]s (
			session_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			state JSONB NOT NULL,
			completed JSONB NOT NULL,
			stage TEXT NOT NULL,
			final BOOLEAN NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, step)
		);
	`, s.tableName, s.historyTable)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresCheckpointStore) Close() {
	s.pool.Close()
}

// Save upserts the latest checkpoint and appends it to the history in one transaction.
func (s *PostgresCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	stateJSON, err := json.Marshal(checkpoint.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	completed := checkpoint.Completed
	if completed == nil {
		completed = []string{}
	}
	completedJSON, err := json.Marshal(completed)
	if err != nil {
		return fmt.Errorf("failed to marshal completed stages: %w", err)
	}
	metadataJSON, err := json.Marshal(checkpoint.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	args := []any{
		checkpoint.SessionID,
		stateJSON,
		completedJSON,
		checkpoint.Stage,
		checkpoint.Step,
		checkpoint.Final,
		metadataJSON,
		checkpoint.CreatedAt,
		checkpoint.UpdatedAt,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (session_id, state, completed, stage, step, final, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			state = EXCLUDED.state,
			completed = EXCLUDED.completed,
			stage = EXCLUDED.stage,
			step = EXCLUDED.step,
			final = EXCLUDED.final,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, s.tableName)
	if _, err := tx.Exec(ctx, upsert, args...); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	history := fmt.Sprintf(`
		INSERT INTO %s (session_id, state, completed, stage, step, final, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, step) DO NOTHING
	`, s.historyTable)
	if _, err := tx.Exec(ctx, history, args...); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to append checkpoint history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

func scanCheckpoint(row pgx.Row) (*store.Checkpoint, error) {
	var (
		cp                                store.Checkpoint
		stateJSON, completed, metadataRaw []byte
		createdAt, updatedAt              time.Time
	)
	if err := row.Scan(
		&cp.SessionID,
		&stateJSON,
		&completed,
		&cp.Stage,
		&cp.Step,
		&cp.Final,
		&metadataRaw,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if err := json.Unmarshal(completed, &cp.Completed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal completed stages: %w", err)
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	cp.CreatedAt = createdAt
	cp.UpdatedAt = updatedAt
	return &cp, nil
}

// Load retrieves the latest checkpoint of a session
func (s *PostgresCheckpointStore) Load(ctx context.Context, sessionID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT session_id, state, completed, stage, step, final, metadata, created_at, updated_at
		FROM %s
		WHERE session_id = $1
	`, s.tableName)

	cp, err := scanCheckpoint(s.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// ListSessions returns session ids, most recently updated first
func (s *PostgresCheckpointStore) ListSessions(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT session_id FROM %s ORDER BY updated_at DESC, session_id ASC`, s.tableName)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return ids, nil
}

// History returns all checkpoints written for a session, ordered by step
func (s *PostgresCheckpointStore) History(ctx context.Context, sessionID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT session_id, state, completed, stage, step, final, metadata, created_at, updated_at
		FROM %s
		WHERE session_id = $1
		ORDER BY step ASC
	`, s.historyTable)

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var checkpoints []*store.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	if len(checkpoints) == 0 {
		return nil, store.ErrNotFound
	}
	return checkpoints, nil
}

// Delete removes a session and its history
func (s *PostgresCheckpointStore) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, table := range []string{s.tableName, s.historyTable} {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE session_id = $1", table), sessionID); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}
