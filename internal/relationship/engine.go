// Package relationship maintains durable pairwise relationship records,
// derives an intensity score from interaction history, and materializes
// background tasks that shape future prompts. Lookup is symmetric: the
// pair (A,B) and the pair (B,A) resolve to the same record. Updates to
// one record are serialized by a per-record lock; updates across records
// run in parallel.
package relationship

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/internal/observability"
	"github.com/haasonsaas/rapport/internal/storage"
	"github.com/haasonsaas/rapport/pkg/models"
)

// recentWindowDays is the sliding activity window, in days, used for
// both the status computation and the interaction factor.
const recentWindowDays = 7

// Weights combine the three intensity factors. They must sum to 1.0.
type Weights struct {
	Interaction   float64 `yaml:"interaction"`
	Emotional     float64 `yaml:"emotional"`
	Collaboration float64 `yaml:"collaboration"`
}

// DefaultWeights returns the normative factor weights.
func DefaultWeights() Weights {
	return Weights{Interaction: 0.4, Emotional: 0.35, Collaboration: 0.25}
}

// Config tunes status thresholds and intensity weighting.
type Config struct {
	// Weights blend the intensity factors. Zero value means defaults.
	Weights Weights `yaml:"weights"`

	// SilentThresholdDays is the inactivity span after which a
	// relationship reads as silent. Defaults to 14.
	SilentThresholdDays int `yaml:"silent_threshold_days"`

	// CoolingThresholdDays is the inactivity span after which an active
	// relationship reads as cooling. Defaults to 7.
	CoolingThresholdDays int `yaml:"cooling_threshold_days"`

	// ActiveMinRounds is the minimum recent-window round count for the
	// active status. Defaults to 21.
	ActiveMinRounds int `yaml:"active_min_rounds_7d"`

	// PersistPath, when set, is where Save writes the JSON snapshot.
	PersistPath string `yaml:"persist_path"`
}

// Party identifies one side of an interaction.
type Party struct {
	ID   string
	Kind models.ParticipantKind
}

// Engine owns the relationship records, their derived intensities, and
// the task catalog. Records live in memory; an optional backing store
// receives write-through copies and an optional task store receives the
// materialized tasks.
type Engine struct {
	cfg     Config
	tasks   storage.TaskStore
	backing storage.RelationshipStore
	logger  *slog.Logger
	metrics *observability.Metrics
	nowFunc func() time.Time

	mu          sync.RWMutex
	records     map[string]*models.Relationship
	intensities map[string]*models.RelationshipIntensity
	pairIndex   map[string]string // canonical pair key -> record id
	locks       map[string]*sync.Mutex
}

// NewEngine wires a relationship engine. tasks and backing may be nil;
// a nil task store falls back to an in-process one.
func NewEngine(cfg Config, tasks storage.TaskStore, backing storage.RelationshipStore, logger *slog.Logger) (*Engine, error) {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	sum := cfg.Weights.Interaction + cfg.Weights.Emotional + cfg.Weights.Collaboration
	if math.Abs(sum-1.0) > 1e-9 {
		return nil, errs.Errorf(errs.KindInvalidArgument, "relationship.NewEngine",
			"intensity weights must sum to 1.0, got %v", sum)
	}
	if cfg.Weights.Interaction < 0 || cfg.Weights.Emotional < 0 || cfg.Weights.Collaboration < 0 {
		return nil, errs.E(errs.KindInvalidArgument, "relationship.NewEngine",
			"intensity weights must be non-negative")
	}
	if cfg.SilentThresholdDays == 0 {
		cfg.SilentThresholdDays = 14
	}
	if cfg.CoolingThresholdDays == 0 {
		cfg.CoolingThresholdDays = 7
	}
	if cfg.ActiveMinRounds == 0 {
		cfg.ActiveMinRounds = 21
	}
	if cfg.CoolingThresholdDays >= cfg.SilentThresholdDays {
		return nil, errs.Errorf(errs.KindInvalidArgument, "relationship.NewEngine",
			"cooling threshold (%dd) must be below silent threshold (%dd)",
			cfg.CoolingThresholdDays, cfg.SilentThresholdDays)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tasks == nil {
		tasks = storage.NewMemoryStores().Tasks
	}
	return &Engine{
		cfg:         cfg,
		tasks:       tasks,
		backing:     backing,
		logger:      logger,
		nowFunc:     time.Now,
		records:     make(map[string]*models.Relationship),
		intensities: make(map[string]*models.RelationshipIntensity),
		pairIndex:   make(map[string]string),
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// SetNowFunc overrides the engine clock.
func (e *Engine) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		e.nowFunc = fn
	}
}

// SetMetrics attaches a metrics sink for task transitions and the
// status gauge. Safe to leave unset.
func (e *Engine) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// pairKey canonicalizes an unordered pair of ids.
func pairKey(aID, bID string) string {
	if bID < aID {
		aID, bID = bID, aID
	}
	return aID + "\x00" + bID
}

// lockFor returns the record lock for a pair, creating record, index,
// and lock entries on first contact. The second result reports whether
// the record already existed.
func (e *Engine) lockFor(a, b Party, create bool) (*sync.Mutex, *models.Relationship, bool) {
	key := pairKey(a.ID, b.ID)

	e.mu.RLock()
	id, ok := e.pairIndex[key]
	if ok {
		lock, rec := e.locks[id], e.records[id]
		e.mu.RUnlock()
		return lock, rec, true
	}
	e.mu.RUnlock()

	if !create {
		return nil, nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.pairIndex[key]; ok {
		return e.locks[id], e.records[id], true
	}
	rec := &models.Relationship{
		ID:          uuid.NewString(),
		AID:         a.ID,
		AKind:       a.Kind,
		BID:         b.ID,
		BKind:       b.Kind,
		FirstSeenAt: e.nowFunc(),
		DailyRounds: make(map[string]int),
		Status:      models.RelationshipCooling,
	}
	lock := &sync.Mutex{}
	e.records[rec.ID] = rec
	e.intensities[rec.ID] = &models.RelationshipIntensity{RelationshipID: rec.ID, Level: models.LevelStranger}
	e.pairIndex[key] = rec.ID
	e.locks[rec.ID] = lock
	return lock, rec, false
}

// Update applies one interaction to the pair's record, creating it on
// first contact. Signals are read from tags: "rounds" (int, default 1),
// "emotional_resonance" (bool), and a "collaboration" sub-bag with
// integer counts for diary, co_creation, and gift. The returned record
// is a snapshot with a freshly computed status; engine failures never
// include partial counter updates.
func (e *Engine) Update(ctx context.Context, sender, receiver Party, tags map[string]any) (*models.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCancelled, "relationship.Update", err)
	}
	if sender.ID == "" || receiver.ID == "" {
		return nil, errs.E(errs.KindInvalidArgument, "relationship.Update",
			"sender and receiver ids are required")
	}
	if sender.ID == receiver.ID {
		return nil, errs.E(errs.KindInvalidArgument, "relationship.Update",
			"sender and receiver must differ")
	}

	sig := parseSignals(tags)
	lock, rec, _ := e.lockFor(sender, receiver, true)
	now := e.nowFunc()

	lock.Lock()
	prevDate := dateKey(rec.LastActiveAt)
	nowDate := dateKey(now)

	rec.TotalRounds += sig.rounds
	if rec.LastActiveAt.IsZero() || prevDate != nowDate {
		rec.ActiveDays++
	}
	rec.LastActiveAt = now
	if sig.resonance {
		rec.ResonanceCount += sig.rounds
		rec.Recognition = math.Min(rec.Recognition+0.02*float64(sig.rounds), 1.0)
	}
	if sig.collab != (collaboration{}) {
		rec.DiaryCount += sig.collab.diary
		rec.CoCreationCount += sig.collab.coCreation
		rec.GiftCount += sig.collab.gift
		rec.Affection += 0.05*float64(sig.collab.diary) +
			0.05*float64(sig.collab.coCreation) +
			0.1*float64(sig.collab.gift)
	}
	if rec.DailyRounds == nil {
		rec.DailyRounds = make(map[string]int)
	}
	rec.DailyRounds[nowDate] += sig.rounds
	pruneDailyRounds(rec.DailyRounds, now)
	e.refreshStatusLocked(rec, now)

	snap := cloneRecord(rec)
	intensity := e.computeIntensity(rec, now)
	lock.Unlock()

	e.mu.Lock()
	e.intensities[rec.ID] = intensity
	e.mu.Unlock()

	if e.backing != nil {
		if err := e.backing.Put(ctx, snap); err != nil {
			e.logger.Warn("relationship write-through failed", "relationship_id", rec.ID, "error", err)
		}
	}
	if n, err := e.generateTasks(ctx, snap, intensity); err != nil {
		e.logger.Warn("relationship task generation failed", "relationship_id", rec.ID, "error", err)
	} else if n > 0 {
		e.logger.Debug("materialized relationship tasks", "relationship_id", rec.ID, "count", n)
	}
	return snap, nil
}

// Lookup returns the pair's record with a freshly computed status, or a
// not-found error when the pair has never interacted.
func (e *Engine) Lookup(ctx context.Context, aID, bID string) (*models.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCancelled, "relationship.Lookup", err)
	}
	lock, rec, ok := e.lockFor(Party{ID: aID}, Party{ID: bID}, false)
	if !ok {
		return nil, errs.Errorf(errs.KindNotFound, "relationship.Lookup",
			"no relationship between %q and %q", aID, bID)
	}
	now := e.nowFunc()
	lock.Lock()
	defer lock.Unlock()
	e.refreshStatusLocked(rec, now)
	return cloneRecord(rec), nil
}

// Get returns the record by id with a freshly computed status.
func (e *Engine) Get(ctx context.Context, id string) (*models.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCancelled, "relationship.Get", err)
	}
	e.mu.RLock()
	lock, rec := e.locks[id], e.records[id]
	e.mu.RUnlock()
	if rec == nil {
		return nil, errs.Errorf(errs.KindNotFound, "relationship.Get", "relationship %q not found", id)
	}
	now := e.nowFunc()
	lock.Lock()
	defer lock.Unlock()
	e.refreshStatusLocked(rec, now)
	return cloneRecord(rec), nil
}

// List returns every record, freshly statused, ordered by first contact.
func (e *Engine) List(ctx context.Context) ([]*models.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCancelled, "relationship.List", err)
	}
	now := e.nowFunc()

	e.mu.RLock()
	ids := make([]string, 0, len(e.records))
	for id := range e.records {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	out := make([]*models.Relationship, 0, len(ids))
	for _, id := range ids {
		e.mu.RLock()
		lock, rec := e.locks[id], e.records[id]
		e.mu.RUnlock()
		if rec == nil {
			continue
		}
		lock.Lock()
		e.refreshStatusLocked(rec, now)
		out = append(out, cloneRecord(rec))
		lock.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeenAt.Equal(out[j].FirstSeenAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
	})
	return out, nil
}

// Disconnect marks the pair's relationship broken. Broken is sticky:
// later activity updates counters but the status never recovers on its
// own.
func (e *Engine) Disconnect(ctx context.Context, aID, bID string) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.KindCancelled, "relationship.Disconnect", err)
	}
	lock, rec, ok := e.lockFor(Party{ID: aID}, Party{ID: bID}, false)
	if !ok {
		return errs.Errorf(errs.KindNotFound, "relationship.Disconnect",
			"no relationship between %q and %q", aID, bID)
	}
	lock.Lock()
	rec.Status = models.RelationshipBroken
	snap := cloneRecord(rec)
	lock.Unlock()

	if e.backing != nil {
		if err := e.backing.Put(ctx, snap); err != nil {
			e.logger.Warn("relationship write-through failed", "relationship_id", rec.ID, "error", err)
		}
	}
	return nil
}

// refreshStatusLocked recomputes the lazy status from the activity
// window. Broken never reverts. The caller holds the record lock.
func (e *Engine) refreshStatusLocked(rec *models.Relationship, now time.Time) {
	if rec.Status == models.RelationshipBroken {
		return
	}
	rec.Status = e.statusAt(rec, now)
}

// statusAt derives the coarse status at the given instant.
func (e *Engine) statusAt(rec *models.Relationship, now time.Time) models.RelationshipStatus {
	if rec.LastActiveAt.IsZero() {
		return models.RelationshipCooling
	}
	idleDays := int(now.Sub(rec.LastActiveAt).Hours() / 24)
	switch {
	case idleDays > e.cfg.SilentThresholdDays:
		return models.RelationshipSilent
	case idleDays > e.cfg.CoolingThresholdDays:
		return models.RelationshipCooling
	case recentRounds(rec.DailyRounds, now) >= e.cfg.ActiveMinRounds:
		return models.RelationshipActive
	default:
		return models.RelationshipCooling
	}
}

// recentRounds sums the daily buckets that fall inside the window.
func recentRounds(daily map[string]int, now time.Time) int {
	cutoff := dateKey(now.AddDate(0, 0, -(recentWindowDays - 1)))
	total := 0
	for date, n := range daily {
		if date >= cutoff {
			total += n
		}
	}
	return total
}

// pruneDailyRounds drops buckets older than the window.
func pruneDailyRounds(daily map[string]int, now time.Time) {
	cutoff := dateKey(now.AddDate(0, 0, -(recentWindowDays - 1)))
	for date := range daily {
		if date < cutoff {
			delete(daily, date)
		}
	}
}

// dateKey formats a UTC calendar date bucket.
func dateKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// signals are the parsed interaction tags.
type signals struct {
	rounds    int
	resonance bool
	collab    collaboration
}

type collaboration struct {
	diary      int
	coCreation int
	gift       int
}

// parseSignals reads the recognized keys out of an interaction tag bag.
// Unknown keys are ignored; malformed values read as absent.
func parseSignals(tags map[string]any) signals {
	sig := signals{rounds: 1}
	if tags == nil {
		return sig
	}
	if n, ok := asInt(tags["rounds"]); ok && n > 0 {
		sig.rounds = n
	}
	if b, ok := tags["emotional_resonance"].(bool); ok {
		sig.resonance = b
	}
	if bag, ok := tags["collaboration"].(map[string]any); ok {
		if n, ok := asInt(bag["diary"]); ok && n > 0 {
			sig.collab.diary = n
		}
		if n, ok := asInt(bag["co_creation"]); ok && n > 0 {
			sig.collab.coCreation = n
		}
		if n, ok := asInt(bag["gift"]); ok && n > 0 {
			sig.collab.gift = n
		}
	}
	return sig
}

// asInt accepts the integer shapes that survive JSON and YAML decoding.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

// cloneRecord deep-copies a record so callers never alias engine state.
func cloneRecord(rec *models.Relationship) *models.Relationship {
	cp := *rec
	if rec.DailyRounds != nil {
		cp.DailyRounds = make(map[string]int, len(rec.DailyRounds))
		for k, v := range rec.DailyRounds {
			cp.DailyRounds[k] = v
		}
	}
	return &cp
}

// normalizedPair reports the pair in display order, sender side first.
func normalizedPair(rec *models.Relationship) string {
	return strings.Join([]string{rec.AID, rec.BID}, " <-> ")
}
