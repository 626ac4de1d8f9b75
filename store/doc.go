// Package store defines how session checkpoints are persisted.
//
// A checkpoint is the durable record of one session: the merged state, the
// set of completed stages, the stage that produced it and a step counter.
// The executor saves one after every stage merge and loads the latest on
// resume.
//
// # Store Interface
//
//	type CheckpointStore interface {
//		Save(ctx context.Context, checkpoint *Checkpoint) error
//		Load(ctx context.Context, sessionID string) (*Checkpoint, error)
//		ListSessions(ctx context.Context) ([]string, error)
//		Delete(ctx context.Context, sessionID string) error
//	}
//
// Load returns ErrNotFound for unknown sessions. ListSessions orders
// sessions by last update, newest first. Stores that also implement
// HistoryStore keep every checkpoint of a session, which backs
// Runnable.History.
//
// # Available Implementations
//
//   - store/memory: in-process maps, for tests and short-lived programs
//   - store/file: one JSON document per session in a directory
//   - store/sqlite: a local database file, the default of the debate CLI
//   - store/postgres: pgx connection pool with JSONB columns
//   - store/redis: go-redis with optional key expiry
//
// All implementations are safe for concurrent use across distinct sessions.
// Saves for one session are serialized by the executor.
package store
