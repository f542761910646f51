package relationship

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/pkg/models"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	eng, err := NewEngine(cfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return eng
}

func human(id string) Party { return Party{ID: id, Kind: models.ParticipantHuman} }
func ai(id string) Party    { return Party{ID: id, Kind: models.ParticipantAI} }

func TestEngineUpdateCreatesRecord(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	eng.SetNowFunc(func() time.Time { return now })

	rec, err := eng.Update(ctx, human("u1"), ai("assistant"), nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Update() returned record without id")
	}
	if rec.TotalRounds != 1 {
		t.Fatalf("TotalRounds = %d, want 1", rec.TotalRounds)
	}
	if rec.ActiveDays != 1 {
		t.Fatalf("ActiveDays = %d, want 1", rec.ActiveDays)
	}
	if !rec.FirstSeenAt.Equal(now) || !rec.LastActiveAt.Equal(now) {
		t.Fatalf("FirstSeenAt = %v, LastActiveAt = %v, want both %v", rec.FirstSeenAt, rec.LastActiveAt, now)
	}
	if rec.AID != "u1" || rec.AKind != models.ParticipantHuman {
		t.Fatalf("A side = %s/%s", rec.AID, rec.AKind)
	}
	if rec.BID != "assistant" || rec.BKind != models.ParticipantAI {
		t.Fatalf("B side = %s/%s", rec.BID, rec.BKind)
	}
	if rec.Status != models.RelationshipCooling {
		t.Fatalf("Status = %s, want cooling for a one-round pair", rec.Status)
	}

	fwd, err := eng.Lookup(ctx, "u1", "assistant")
	if err != nil {
		t.Fatalf("Lookup(u1, assistant) error = %v", err)
	}
	rev, err := eng.Lookup(ctx, "assistant", "u1")
	if err != nil {
		t.Fatalf("Lookup(assistant, u1) error = %v", err)
	}
	if fwd.ID != rec.ID || rev.ID != rec.ID {
		t.Fatalf("symmetric lookup ids = %s / %s, want %s", fwd.ID, rev.ID, rec.ID)
	}
}

func TestEngineUpdateParsesTags(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})

	rec, err := eng.Update(ctx, human("u1"), ai("ava"), map[string]any{
		"emotional_resonance": true,
		"collaboration": map[string]any{
			"diary":       1,
			"co_creation": float64(2), // JSON round-trip shape
			"gift":        int64(3),
		},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if rec.ResonanceCount != 1 {
		t.Fatalf("ResonanceCount = %d, want 1", rec.ResonanceCount)
	}
	if rec.DiaryCount != 1 || rec.CoCreationCount != 2 || rec.GiftCount != 3 {
		t.Fatalf("collaboration counts = %d/%d/%d, want 1/2/3",
			rec.DiaryCount, rec.CoCreationCount, rec.GiftCount)
	}
	wantAffection := 0.05*1 + 0.05*2 + 0.1*3
	if math.Abs(rec.Affection-wantAffection) > 1e-9 {
		t.Fatalf("Affection = %v, want %v", rec.Affection, wantAffection)
	}
	if rec.Recognition != 0.02 {
		t.Fatalf("Recognition = %v, want 0.02", rec.Recognition)
	}

	rec, err = eng.Update(ctx, human("u1"), ai("ava"), map[string]any{"rounds": float64(4)})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if rec.TotalRounds != 5 {
		t.Fatalf("TotalRounds = %d, want 5 after rounds=4 tag", rec.TotalRounds)
	}
}

func TestEngineUpdateValidation(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})

	if _, err := eng.Update(ctx, Party{}, ai("ava"), nil); !errs.IsKind(err, errs.KindInvalidArgument) {
		t.Fatalf("Update(empty sender) error = %v, want invalid-argument", err)
	}
	if _, err := eng.Update(ctx, human("u1"), human("u1"), nil); !errs.IsKind(err, errs.KindInvalidArgument) {
		t.Fatalf("Update(self pair) error = %v, want invalid-argument", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := eng.Update(cancelled, human("u1"), ai("ava"), nil); !errs.IsKind(err, errs.KindCancelled) {
		t.Fatalf("Update(cancelled ctx) error = %v, want cancelled", err)
	}

	if _, err := eng.Lookup(ctx, "u1", "ghost"); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("Lookup(unknown) error = %v, want not-found", err)
	}
	if _, err := eng.Get(ctx, "no-such-id"); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("Get(unknown) error = %v, want not-found", err)
	}
}

func TestEngineActiveDaysAcrossDates(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})

	now := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	eng.SetNowFunc(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if _, err := eng.Update(ctx, human("u1"), ai("ava"), nil); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	rec, err := eng.Lookup(ctx, "u1", "ava")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if rec.ActiveDays != 1 {
		t.Fatalf("ActiveDays = %d, want 1 for same-day updates", rec.ActiveDays)
	}

	// 20 minutes later it is June 2 in UTC.
	now = now.Add(20 * time.Minute)
	rec, err = eng.Update(ctx, human("u1"), ai("ava"), nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if rec.ActiveDays != 2 {
		t.Fatalf("ActiveDays = %d, want 2 after date change", rec.ActiveDays)
	}
	if rec.TotalRounds != 4 {
		t.Fatalf("TotalRounds = %d, want 4", rec.TotalRounds)
	}
}

func TestEngineStatusTransitions(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	eng.SetNowFunc(func() time.Time { return now })

	for i := 0; i < 21; i++ {
		if _, err := eng.Update(ctx, human("u1"), ai("ava"), nil); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	rec, err := eng.Lookup(ctx, "u1", "ava")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if rec.Status != models.RelationshipActive {
		t.Fatalf("Status = %s, want active at 21 recent rounds", rec.Status)
	}

	now = now.Add(8 * 24 * time.Hour)
	rec, err = eng.Lookup(ctx, "u1", "ava")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if rec.Status != models.RelationshipCooling {
		t.Fatalf("Status = %s, want cooling after 8 idle days", rec.Status)
	}

	now = now.Add(7 * 24 * time.Hour)
	rec, err = eng.Lookup(ctx, "u1", "ava")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if rec.Status != models.RelationshipSilent {
		t.Fatalf("Status = %s, want silent after 15 idle days", rec.Status)
	}
}

func TestEngineDailyRoundsPruned(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	eng.SetNowFunc(func() time.Time { return now })

	var rec *models.Relationship
	var err error
	for day := 0; day < 10; day++ {
		rec, err = eng.Update(ctx, human("u1"), ai("ava"), nil)
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		now = now.Add(24 * time.Hour)
	}
	if len(rec.DailyRounds) != 7 {
		t.Fatalf("DailyRounds kept %d buckets, want 7: %v", len(rec.DailyRounds), rec.DailyRounds)
	}
	if rec.TotalRounds != 10 {
		t.Fatalf("TotalRounds = %d, want 10 (pruning never touches the total)", rec.TotalRounds)
	}
	if _, ok := rec.DailyRounds["2025-06-01"]; ok {
		t.Fatal("oldest bucket survived pruning")
	}
}

func TestEngineDisconnect(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})

	if _, err := eng.Update(ctx, human("u1"), ai("ava"), nil); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := eng.Disconnect(ctx, "ava", "u1"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	rec, err := eng.Lookup(ctx, "u1", "ava")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if rec.Status != models.RelationshipBroken {
		t.Fatalf("Status = %s, want broken", rec.Status)
	}

	// Later activity updates counters but never revives the status.
	rec, err = eng.Update(ctx, human("u1"), ai("ava"), nil)
	if err != nil {
		t.Fatalf("Update() after disconnect error = %v", err)
	}
	if rec.TotalRounds != 2 {
		t.Fatalf("TotalRounds = %d, want 2", rec.TotalRounds)
	}
	if rec.Status != models.RelationshipBroken {
		t.Fatalf("Status = %s, want broken to stick", rec.Status)
	}

	if err := eng.Disconnect(ctx, "u1", "ghost"); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("Disconnect(unknown) error = %v, want not-found", err)
	}
}

func TestEngineConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// Half the workers update a second pair to exercise
			// cross-record parallelism.
			other := ai("ava")
			if w%2 == 1 {
				other = ai("iris")
			}
			for i := 0; i < perWorker; i++ {
				if _, err := eng.Update(ctx, human("u1"), other, nil); err != nil {
					t.Errorf("Update() error = %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for _, id := range []string{"ava", "iris"} {
		rec, err := eng.Lookup(ctx, "u1", id)
		if err != nil {
			t.Fatalf("Lookup(u1, %s) error = %v", id, err)
		}
		if rec.TotalRounds != workers/2*perWorker {
			t.Fatalf("TotalRounds(%s) = %d, want %d", id, rec.TotalRounds, workers/2*perWorker)
		}
	}
}

func TestEngineIntensityAfterLongExchange(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})

	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	eng.SetNowFunc(func() time.Time { return now })

	for i := 1; i <= 200; i++ {
		tags := map[string]any{}
		if i%3 == 0 {
			tags["emotional_resonance"] = true
		}
		if i%5 == 0 {
			tags["collaboration"] = map[string]any{"co_creation": 1}
		}
		if _, err := eng.Update(ctx, human("u1"), ai("ava"), tags); err != nil {
			t.Fatalf("Update(#%d) error = %v", i, err)
		}
		now = now.Add(time.Minute)
	}

	in, err := eng.IntensityFor(ctx, "u1", "ava")
	if err != nil {
		t.Fatalf("IntensityFor() error = %v", err)
	}
	if in.Interaction != 1.0 {
		t.Fatalf("Interaction = %v, want 1.0 after 200 recent rounds", in.Interaction)
	}
	if math.Abs(in.Emotional-1.0/3.0) > 0.01 {
		t.Fatalf("Emotional = %v, want about 1/3", in.Emotional)
	}
	if in.Collaboration < 0.2 {
		t.Fatalf("Collaboration = %v, want >= 0.2", in.Collaboration)
	}
	if in.Score < 0 || in.Score > 1 {
		t.Fatalf("Score = %v out of [0,1]", in.Score)
	}
	if in.Level != models.LevelClose && in.Level != models.LevelIntimate {
		t.Fatalf("Level = %s, want close or intimate", in.Level)
	}

	rec, err := eng.Lookup(ctx, "u1", "ava")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if rec.Status != models.RelationshipActive {
		t.Fatalf("Status = %s, want active", rec.Status)
	}
}

func TestEngineIntensityMonotonic(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})

	prev := -1.0
	for i := 0; i < 60; i++ {
		if _, err := eng.Update(ctx, human("u1"), ai("ava"), map[string]any{
			"emotional_resonance": true,
			"collaboration":       map[string]any{"co_creation": 1},
		}); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		in, err := eng.IntensityFor(ctx, "u1", "ava")
		if err != nil {
			t.Fatalf("IntensityFor() error = %v", err)
		}
		if in.Score < prev {
			t.Fatalf("Score dropped from %v to %v on update %d", prev, in.Score, i+1)
		}
		prev = in.Score
	}
}

func TestEngineIntensityUnknownPair(t *testing.T) {
	eng := newTestEngine(t, Config{})
	if _, err := eng.IntensityFor(context.Background(), "a", "b"); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("IntensityFor(unknown) error = %v, want not-found", err)
	}
}

func TestEngineList(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	eng.SetNowFunc(func() time.Time { return now })

	for i, other := range []string{"ava", "iris", "noor"} {
		now = now.Add(time.Duration(i) * time.Hour)
		if _, err := eng.Update(ctx, human("u1"), ai(other), nil); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	records, err := eng.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].FirstSeenAt.Before(records[i-1].FirstSeenAt) {
			t.Fatal("List() not ordered by first contact")
		}
	}
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		score float64
		want  models.IntensityLevel
	}{
		{0, models.LevelStranger},
		{0.2, models.LevelStranger},
		{0.21, models.LevelAcquaintance},
		{0.4, models.LevelAcquaintance},
		{0.41, models.LevelFriend},
		{0.6, models.LevelFriend},
		{0.61, models.LevelClose},
		{0.8, models.LevelClose},
		{0.81, models.LevelIntimate},
		{1, models.LevelIntimate},
	}
	for _, tc := range cases {
		if got := levelFor(tc.score); got != tc.want {
			t.Fatalf("levelFor(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(Config{Weights: Weights{Interaction: 0.5, Emotional: 0.3, Collaboration: 0.1}}, nil, nil, nil); !errs.IsKind(err, errs.KindInvalidArgument) {
		t.Fatalf("NewEngine(weights sum 0.9) error = %v, want invalid-argument", err)
	}
	if _, err := NewEngine(Config{Weights: Weights{Interaction: 1.5, Emotional: -0.3, Collaboration: -0.2}}, nil, nil, nil); !errs.IsKind(err, errs.KindInvalidArgument) {
		t.Fatalf("NewEngine(negative weight) error = %v, want invalid-argument", err)
	}
	if _, err := NewEngine(Config{CoolingThresholdDays: 20}, nil, nil, nil); !errs.IsKind(err, errs.KindInvalidArgument) {
		t.Fatalf("NewEngine(cooling >= silent) error = %v, want invalid-argument", err)
	}

	eng, err := NewEngine(Config{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine(zero config) error = %v", err)
	}
	if eng.cfg.Weights != DefaultWeights() {
		t.Fatalf("Weights = %+v, want defaults", eng.cfg.Weights)
	}
	if eng.cfg.SilentThresholdDays != 14 || eng.cfg.CoolingThresholdDays != 7 || eng.cfg.ActiveMinRounds != 21 {
		t.Fatalf("thresholds = %d/%d/%d, want 14/7/21",
			eng.cfg.SilentThresholdDays, eng.cfg.CoolingThresholdDays, eng.cfg.ActiveMinRounds)
	}
}

func TestParseSignals(t *testing.T) {
	sig := parseSignals(nil)
	if sig.rounds != 1 || sig.resonance || sig.collab != (collaboration{}) {
		t.Fatalf("parseSignals(nil) = %+v, want single plain round", sig)
	}

	sig = parseSignals(map[string]any{
		"rounds":              "three", // malformed, ignored
		"emotional_resonance": "yes",   // malformed, ignored
		"collaboration":       map[string]any{"diary": 1.5, "gift": -2},
	})
	if sig.rounds != 1 || sig.resonance {
		t.Fatalf("parseSignals(malformed) = %+v, want defaults", sig)
	}
	if sig.collab != (collaboration{}) {
		t.Fatalf("collab = %+v, want fractional and negative counts dropped", sig.collab)
	}
}

func TestPairKeySymmetry(t *testing.T) {
	for _, pair := range [][2]string{{"a", "b"}, {"u1", "assistant"}, {"z", "a"}} {
		if pairKey(pair[0], pair[1]) != pairKey(pair[1], pair[0]) {
			t.Fatalf("pairKey(%q, %q) not symmetric", pair[0], pair[1])
		}
	}
	if pairKey("a", "b") == pairKey("a", "c") {
		t.Fatal("distinct pairs collide")
	}
}

func TestEngineListManyPairsParallel(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("peer-%d", i)
			for j := 0; j < 5; j++ {
				if _, err := eng.Update(ctx, human("u1"), ai(id), nil); err != nil {
					t.Errorf("Update() error = %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	records, err := eng.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("List() returned %d records, want 10", len(records))
	}
	for _, rec := range records {
		if rec.TotalRounds != 5 {
			t.Fatalf("TotalRounds = %d for %s, want 5", rec.TotalRounds, rec.BID)
		}
	}
}
