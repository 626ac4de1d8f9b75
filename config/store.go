package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallnest/debategraph/store"
	"github.com/smallnest/debategraph/store/file"
	"github.com/smallnest/debategraph/store/memory"
	"github.com/smallnest/debategraph/store/postgres"
	"github.com/smallnest/debategraph/store/redis"
	"github.com/smallnest/debategraph/store/sqlite"
)

// ErrUnknownBackend is returned by OpenStore for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown store backend")

// OpenStore opens the configured checkpoint backend. The returned close
// function releases its connections and is never nil.
func (c *Config) OpenStore(ctx context.Context) (store.CheckpointStore, func(), error) {
	noop := func() {}

	switch c.Store.Backend {
	case "memory":
		return memory.NewMemoryCheckpointStore(), noop, nil

	case "file":
		s, err := file.NewFileCheckpointStore(c.Store.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case "sqlite":
		s, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
			Path:      c.Store.Path,
			TableName: c.Store.Table,
		})
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil

	case "postgres":
		s, err := postgres.NewPostgresCheckpointStore(ctx, postgres.PostgresOptions{
			ConnString: c.Store.DSN,
			TableName:  c.Store.Table,
		})
		if err != nil {
			return nil, noop, err
		}
		if err := s.InitSchema(ctx); err != nil {
			s.Close()
			return nil, noop, fmt.Errorf("failed to init postgres schema: %w", err)
		}
		return s, s.Close, nil

	case "redis":
		s := redis.NewRedisCheckpointStore(redis.RedisOptions{
			Addr:     c.Store.Addr,
			Password: c.Store.Password,
			DB:       c.Store.DB,
			Prefix:   c.Store.Prefix,
			TTL:      c.Store.TTL,
		})
		return s, func() { _ = s.Close() }, nil
	}

	return nil, noop, fmt.Errorf("%w: %q", ErrUnknownBackend, c.Store.Backend)
}
