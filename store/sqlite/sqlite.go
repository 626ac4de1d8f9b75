package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/smallnest/debategraph/store"
)

// SqliteCheckpointStore implements store.CheckpointStore using SQLite.
// The latest checkpoint of each session lives in one table and every
// checkpoint ever written lives in a companion history table.
type SqliteCheckpointStore struct {
	db           *sql.DB
	tableName    string
	historyTable string
}

var (
	_ store.CheckpointStore = (*SqliteCheckpointStore)(nil)
	_ store.HistoryStore    = (*SqliteCheckpointStore)(nil)
)

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path      string
	TableName string // Default "sessions"
}

// NewSqliteCheckpointStore opens the database and creates the schema if needed.
func NewSqliteCheckpointStore(opts SqliteOptions) (*SqliteCheckpointStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	// SQLite allows a single writer; one connection keeps concurrent sessions from hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	tableName := opts.TableName
	if tableName == "" {
		tableName = "sessions"
	}

	s := &SqliteCheckpointStore{
		db:           db,
		tableName:    tableName,
		historyTable: tableName + "_history",
	}

	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// InitSchema creates the necessary tables if they don't exist
func (s *SqliteCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			session_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			completed TEXT NOT NULL,
			stage TEXT NOT NULL,
			step INTEGER NOT NULL,
			final INTEGER NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_updated_at ON %[1]s (updated_at);
		CREATE TABLE IF NOT EXISTS %[2]s (
			session_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			state TEXT NOT NULL,
			completed TEXT NOT NULL,
			stage TEXT NOT NULL,
			final INTEGER NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, step)
		);
	`, s.tableName, s.historyTable)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteCheckpointStore) Close() error {
	return s.db.Close()
}

type encoded struct {
	state     string
	completed string
	metadata  string
}

func encode(cp *store.Checkpoint) (*encoded, error) {
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	completed := cp.Completed
	if completed == nil {
		completed = []string{}
	}
	completedJSON, err := json.Marshal(completed)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completed stages: %w", err)
	}
	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return &encoded{
		state:     string(stateJSON),
		completed: string(completedJSON),
		metadata:  string(metadataJSON),
	}, nil
}

// Save upserts the latest checkpoint and appends it to the history in one transaction.
func (s *SqliteCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	enc, err := encode(checkpoint)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	args := []any{
		checkpoint.SessionID,
		enc.state,
		enc.completed,
		checkpoint.Stage,
		checkpoint.Step,
		checkpoint.Final,
		enc.metadata,
		checkpoint.CreatedAt.UnixNano(),
		checkpoint.UpdatedAt.UnixNano(),
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (session_id, state, completed, stage, step, final, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			completed = excluded.completed,
			stage = excluded.stage,
			step = excluded.step,
			final = excluded.final,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, s.tableName)
	if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	history := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (session_id, state, completed, stage, step, final, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.historyTable)
	if _, err := tx.ExecContext(ctx, history, args...); err != nil {
		return fmt.Errorf("failed to append checkpoint history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*store.Checkpoint, error) {
	var (
		cp                   store.Checkpoint
		stateJSON, completed string
		metadataJSON         sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&cp.SessionID,
		&stateJSON,
		&completed,
		&cp.Stage,
		&cp.Step,
		&cp.Final,
		&metadataJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(completed), &cp.Completed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal completed stages: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	cp.CreatedAt = time.Unix(0, createdAt)
	cp.UpdatedAt = time.Unix(0, updatedAt)
	return &cp, nil
}

// Load retrieves the latest checkpoint of a session
func (s *SqliteCheckpointStore) Load(ctx context.Context, sessionID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT session_id, state, completed, stage, step, final, metadata, created_at, updated_at
		FROM %s
		WHERE session_id = ?
	`, s.tableName)

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// ListSessions returns session ids, most recently updated first
func (s *SqliteCheckpointStore) ListSessions(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT session_id FROM %s ORDER BY updated_at DESC, session_id ASC`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query)
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
func (s *SqliteCheckpointStore) History(ctx context.Context, sessionID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT session_id, state, completed, stage, step, final, metadata, created_at, updated_at
		FROM %s
		WHERE session_id = ?
		ORDER BY step ASC
	`, s.historyTable)

	rows, err := s.db.QueryContext(ctx, query, sessionID)
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
func (s *SqliteCheckpointStore) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{s.tableName, s.historyTable} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", table), sessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}
	return tx.Commit()
}
