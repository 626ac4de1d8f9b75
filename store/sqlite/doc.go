// Package sqlite provides a SQLite-backed checkpoint store.
//
// The store keeps the latest checkpoint of every session in one table and
// every checkpoint ever written in a "_history" table, so it implements both
// store.CheckpointStore and store.HistoryStore.
//
// # Basic Usage
//
//	st, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
//		Path:      "./memory.db",
//		TableName: "sessions", // optional, the default
//	})
//	if err != nil {
//		return err
//	}
//	defer st.Close()
//
//	runnable, err := g.Compile(st)
//
// The schema is created on open. The database is opened with a single
// connection, so sessions running concurrently in one process share it
// without SQLITE_BUSY errors.
package sqlite
