package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/pkg/models"
)

// persistEnvelope is the on-disk snapshot format.
type persistEnvelope struct {
	Version int                  `json:"version"`
	Name    string               `json:"name"`
	SavedAt time.Time            `json:"saved_at"`
	Items   []*models.MemoryItem `json:"items"`
}

// Persist serializes the store's items to an opaque byte stream that
// Load accepts.
func (s *VectorStore) Persist(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCancelled, "memory.Persist", err)
	}
	env := persistEnvelope{
		Version: 1,
		Name:    s.name,
		SavedAt: s.nowFunc(),
		Items:   s.snapshot(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "memory.Persist", err)
	}
	return data, nil
}

// Load replaces the store's items with a previously persisted snapshot.
// Snapshots larger than the capacity are trimmed by importance; the
// backing store is left untouched.
func (s *VectorStore) Load(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindCancelled, "memory.Load", err)
	}
	var env persistEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "memory.Load", err)
	}
	if env.Version != 1 {
		return errs.Errorf(errs.KindInvalidArgument, "memory.Load",
			"unsupported snapshot version %d", env.Version)
	}

	now := s.nowFunc()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*models.MemoryItem, len(env.Items))
	for _, item := range env.Items {
		if item == nil || item.ID == "" {
			continue
		}
		s.items[item.ID] = item
	}
	for s.capacity > 0 && len(s.items) > s.capacity {
		s.evictOneLocked(now)
	}
	return nil
}

// SaveFile persists the store to path atomically: the snapshot lands in
// a temp file in the same directory, then renames over the target.
func (s *VectorStore) SaveFile(ctx context.Context, path string) error {
	data, err := s.Persist(ctx)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindInternal, "memory.SaveFile", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errs.Wrap(errs.KindInternal, "memory.SaveFile", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errs.Wrap(errs.KindInternal, "memory.SaveFile", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errs.Wrap(errs.KindInternal, "memory.SaveFile", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errs.Wrap(errs.KindInternal, "memory.SaveFile", err)
	}
	return nil
}

// LoadFile restores the store from a SaveFile snapshot. A missing file
// is not an error; the store keeps its current contents.
func (s *VectorStore) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.KindInternal, "memory.LoadFile", err)
	}
	return s.Load(ctx, data)
}
