package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/smallnest/debategraph/store"
)

const (
	fileSuffix = ".json"
	tempPrefix = ".tmp-"
)

// FileCheckpointStore keeps one JSON document per session in a directory.
type FileCheckpointStore struct {
	path string
	mu   sync.RWMutex
}

var (
	_ store.CheckpointStore = (*FileCheckpointStore)(nil)
	_ store.HistoryStore    = (*FileCheckpointStore)(nil)
)

// document is the on-disk layout of a session file.
type document struct {
	Latest  *store.Checkpoint   `json:"latest"`
	History []*store.Checkpoint `json:"history"`
}

// NewFileCheckpointStore creates a store rooted at path, creating the directory if needed.
func NewFileCheckpointStore(path string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{path: path}, nil
}

// filename escapes sessionID into one file name. A leading dot is escaped
// too, so session files never collide with temp files or hidden entries.
func (f *FileCheckpointStore) filename(sessionID string) string {
	name := url.PathEscape(sessionID)
	if strings.HasPrefix(name, ".") {
		name = "%2E" + name[1:]
	}
	return filepath.Join(f.path, name+fileSuffix)
}

func (f *FileCheckpointStore) read(sessionID string) (*document, error) {
	data, err := os.ReadFile(f.filename(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint file: %w", err)
	}
	if doc.Latest == nil {
		return nil, store.ErrNotFound
	}
	return &doc, nil
}

// Save writes the checkpoint atomically: a temp file in the same directory is renamed over the session file.
func (f *FileCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if checkpoint.SessionID == "" {
		return fmt.Errorf("checkpoint has no session id")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read(checkpoint.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		doc = &document{}
	} else if err != nil {
		return err
	}
	doc.Latest = checkpoint
	doc.History = append(doc.History, checkpoint)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(f.path, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.filename(checkpoint.SessionID)); err != nil {
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// Load returns the latest checkpoint of a session.
func (f *FileCheckpointStore) Load(ctx context.Context, sessionID string) (*store.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	doc, err := f.read(sessionID)
	if err != nil {
		return nil, err
	}
	return doc.Latest, nil
}

// History returns all checkpoints of a session, oldest first.
func (f *FileCheckpointStore) History(ctx context.Context, sessionID string) ([]*store.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	doc, err := f.read(sessionID)
	if err != nil {
		return nil, err
	}
	return doc.History, nil
}

// ListSessions scans the directory and orders sessions by their last update, newest first.
func (f *FileCheckpointStore) ListSessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var latest []*store.Checkpoint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		sessionID, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		doc, err := f.read(sessionID)
		if err != nil {
			return nil, err
		}
		latest = append(latest, doc.Latest)
	}

	sort.Slice(latest, func(i, j int) bool {
		if latest[i].UpdatedAt.Equal(latest[j].UpdatedAt) {
			return latest[i].SessionID < latest[j].SessionID
		}
		return latest[i].UpdatedAt.After(latest[j].UpdatedAt)
	})

	ids := make([]string, len(latest))
	for i, cp := range latest {
		ids[i] = cp.SessionID
	}
	return ids, nil
}

// Delete removes the session file.
func (f *FileCheckpointStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.filename(sessionID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return nil
}
