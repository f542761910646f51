package relationship

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/pkg/models"
)

// snapshot is the on-disk persistence format: both maps keyed by
// relationship id, timestamps RFC 3339.
type snapshot struct {
	Relationships map[string]*models.Relationship          `json:"relationships"`
	Intensities   map[string]*models.RelationshipIntensity `json:"intensities"`
}

// Persist serializes the engine state to indented JSON.
func (e *Engine) Persist(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCancelled, "relationship.Persist", err)
	}

	e.mu.RLock()
	ids := make([]string, 0, len(e.records))
	for id := range e.records {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	snap := snapshot{
		Relationships: make(map[string]*models.Relationship, len(ids)),
		Intensities:   make(map[string]*models.RelationshipIntensity, len(ids)),
	}
	for _, id := range ids {
		e.mu.RLock()
		lock, rec := e.locks[id], e.records[id]
		intensity := e.intensities[id]
		e.mu.RUnlock()
		if rec == nil {
			continue
		}
		lock.Lock()
		snap.Relationships[id] = cloneRecord(rec)
		lock.Unlock()
		if intensity != nil {
			snap.Intensities[id] = cloneIntensity(intensity)
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "relationship.Persist", err)
	}
	return data, nil
}

// Load replaces the engine state with a previously persisted snapshot.
// A rejected snapshot leaves the current state untouched.
func (e *Engine) Load(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindCancelled, "relationship.Load", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "relationship.Load", err)
	}

	records := make(map[string]*models.Relationship, len(snap.Relationships))
	intensities := make(map[string]*models.RelationshipIntensity, len(snap.Relationships))
	pairIndex := make(map[string]string, len(snap.Relationships))
	locks := make(map[string]*sync.Mutex, len(snap.Relationships))
	for id, rec := range snap.Relationships {
		if rec == nil || rec.ID == "" || rec.ID != id {
			return errs.Errorf(errs.KindInvalidArgument, "relationship.Load",
				"snapshot record key %q does not match its id", id)
		}
		if rec.DailyRounds == nil {
			rec.DailyRounds = make(map[string]int)
		}
		records[id] = rec
		pairIndex[pairKey(rec.AID, rec.BID)] = id
		locks[id] = &sync.Mutex{}
		if in := snap.Intensities[id]; in != nil {
			intensities[id] = in
		} else {
			intensities[id] = &models.RelationshipIntensity{RelationshipID: id, Level: models.LevelStranger}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = records
	e.intensities = intensities
	e.pairIndex = pairIndex
	e.locks = locks
	return nil
}

// Save persists the engine to its configured path atomically: the
// snapshot lands in a temp file in the same directory, then renames
// over the target.
func (e *Engine) Save(ctx context.Context) error {
	if e.cfg.PersistPath == "" {
		return errs.E(errs.KindInvalidArgument, "relationship.Save", "no persist path configured")
	}
	return e.SaveFile(ctx, e.cfg.PersistPath)
}

// SaveFile persists the engine to path atomically.
func (e *Engine) SaveFile(ctx context.Context, path string) error {
	data, err := e.Persist(ctx)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindInternal, "relationship.SaveFile", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errs.Wrap(errs.KindInternal, "relationship.SaveFile", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errs.Wrap(errs.KindInternal, "relationship.SaveFile", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errs.Wrap(errs.KindInternal, "relationship.SaveFile", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errs.Wrap(errs.KindInternal, "relationship.SaveFile", err)
	}
	return nil
}

// LoadFile restores the engine from a SaveFile snapshot. A missing file
// is not an error; the engine keeps its current contents.
func (e *Engine) LoadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.KindInternal, "relationship.LoadFile", err)
	}
	return e.Load(ctx, data)
}
