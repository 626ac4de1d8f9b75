package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/smallnest/debategraph/graph"
	"github.com/smallnest/debategraph/log"
	"github.com/smallnest/debategraph/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "qwen2.5:1.5b", cfg.LLM.Model)
	assert.Equal(t, 0.4, cfg.LLM.Temperature)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "memory.db", cfg.Store.Path)
	assert.True(t, cfg.Debate.Rebuttals)
	assert.Equal(t, 1, cfg.Debate.Rounds)
	assert.NoError(t, cfg.Validate())
	assert.Nil(t, cfg.RetryPolicy())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: echo
store:
  backend: redis
  addr: localhost:6379
  ttl: 1h
debate:
  rounds: 3
retry:
  max_retries: 2
  backoff: linear
  base_delay: 250ms
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "echo", cfg.LLM.Provider)
	assert.Equal(t, "qwen2.5:1.5b", cfg.LLM.Model, "unset keys keep defaults")
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, time.Hour, cfg.Store.TTL)
	assert.Equal(t, 3, cfg.Debate.Rounds)
	assert.True(t, cfg.Debate.Rebuttals)

	policy := cfg.RetryPolicy()
	require.NotNil(t, policy)
	assert.Equal(t, 2, policy.MaxRetries)
	assert.Equal(t, graph.LinearBackoff, policy.BackoffStrategy)
	assert.Equal(t, 250*time.Millisecond, policy.BaseDelay)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("DEBATE_LLM_MODEL", "llama3")
	t.Setenv("DEBATE_DEBATE_REBUTTALS", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.False(t, cfg.Debate.Rebuttals)
	assert.Equal(t, 0, cfg.DebateOptions().EffectiveRounds())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debate:\n  rounds: 9\n"), 0o600))

	_, err := Load(path)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, "debate.rounds", verrs[0].Field)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "bard"
	cfg.Store.Backend = "postgres"
	cfg.Log.Level = "loud"
	cfg.Retry.Backoff = "random"
	cfg.Retry.MaxRetries = -1

	err := cfg.Validate()
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)

	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{
		"llm.provider", "store.dsn", "log.level", "retry.backoff", "retry.max_retries",
	}, fields)
	assert.Contains(t, err.Error(), "5 validation errors")
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "debug"
	l, err := cfg.Logger()
	require.NoError(t, err)
	g, ok := l.(*log.GologLogger)
	require.True(t, ok)
	assert.Equal(t, log.LogLevelDebug, g.GetLevel())

	cfg.Log.Level = "none"
	l, err = cfg.Logger()
	require.NoError(t, err)
	assert.IsType(t, &log.NoOpLogger{}, l)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	backends := []Config{
		{Store: StoreConfig{Backend: "memory"}},
		{Store: StoreConfig{Backend: "file", Path: filepath.Join(dir, "sessions")}},
		{Store: StoreConfig{Backend: "sqlite", Path: filepath.Join(dir, "sessions.db")}},
		{Store: StoreConfig{Backend: "redis", Addr: mr.Addr(), Prefix: "t:"}},
	}

	for _, cfg := range backends {
		t.Run(cfg.Store.Backend, func(t *testing.T) {
			st, closeStore, err := cfg.OpenStore(ctx)
			require.NoError(t, err)
			defer closeStore()

			cp := &store.Checkpoint{
				SessionID: "s1",
				State:     map[string]any{"topic": "tabs"},
				Completed: []string{},
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}
			require.NoError(t, st.Save(ctx, cp))

			got, err := st.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "tabs", got.State["topic"])
		})
	}
}

func TestOpenStore_Unknown(t *testing.T) {
	cfg := Config{Store: StoreConfig{Backend: "etcd"}}
	st, closeStore, err := cfg.OpenStore(context.Background())
	assert.Nil(t, st)
	assert.NotNil(t, closeStore)
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}
