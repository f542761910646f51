package relationship

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestContextForUnknownPairIsEmpty(t *testing.T) {
	eng := newTestEngine(t, Config{})
	if got := eng.ContextFor(context.Background(), "u1", "ghost"); got != "" {
		t.Fatalf("ContextFor(unknown) = %q, want empty", got)
	}
}

func TestContextForBands(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name  string
		setup func(t *testing.T, eng *Engine, advance func(time.Duration))
		want  string
	}{
		{
			name: "brand new pair is a first meeting",
			setup: func(t *testing.T, eng *Engine, _ func(time.Duration)) {
				if _, err := eng.Update(ctx, human("u1"), ai("ava"), nil); err != nil {
					t.Fatalf("Update() error = %v", err)
				}
			},
			want: bandFirstMeet,
		},
		{
			name: "low score pair resonates",
			setup: func(t *testing.T, eng *Engine, _ func(time.Duration)) {
				for i := 0; i < 10; i++ {
					if _, err := eng.Update(ctx, human("u1"), ai("ava"), nil); err != nil {
						t.Fatalf("Update() error = %v", err)
					}
				}
			},
			want: bandResonance,
		},
		{
			name: "acquaintance pair has an emotional link",
			setup: func(t *testing.T, eng *Engine, _ func(time.Duration)) {
				warmPair(t, eng, "u1", "ava", 10)
			},
			want: bandEmotionalLink,
		},
		{
			name: "idle pair needs warming",
			setup: func(t *testing.T, eng *Engine, advance func(time.Duration)) {
				warmPair(t, eng, "u1", "ava", 21)
				advance(8 * 24 * time.Hour)
			},
			want: bandWarming,
		},
		{
			name: "friend pair reaches mutual understanding",
			setup: func(t *testing.T, eng *Engine, _ func(time.Duration)) {
				if _, err := eng.Update(ctx, human("u1"), ai("ava"), map[string]any{
					"emotional_resonance": true,
					"collaboration":       map[string]any{"diary": 2},
				}); err != nil {
					t.Fatalf("Update() error = %v", err)
				}
				warmPair(t, eng, "u1", "ava", 29)
			},
			want: bandMutualUnderstanding,
		},
		{
			name: "close pair shares deep resonance",
			setup: func(t *testing.T, eng *Engine, _ func(time.Duration)) {
				warmPair(t, eng, "u1", "ava", 200)
			},
			want: bandDeepResonance,
		},
		{
			name: "saturated pair are soul companions",
			setup: func(t *testing.T, eng *Engine, _ func(time.Duration)) {
				if _, err := eng.Update(ctx, human("u1"), ai("ava"), map[string]any{
					"emotional_resonance": true,
					"collaboration":       map[string]any{"gift": 10},
				}); err != nil {
					t.Fatalf("Update() error = %v", err)
				}
				warmPair(t, eng, "u1", "ava", 199)
			},
			want: bandSoulCompanion,
		},
		{
			name: "broken pair starts over",
			setup: func(t *testing.T, eng *Engine, _ func(time.Duration)) {
				warmPair(t, eng, "u1", "ava", 50)
				if err := eng.Disconnect(ctx, "u1", "ava"); err != nil {
					t.Fatalf("Disconnect() error = %v", err)
				}
			},
			want: bandFirstMeet,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := newTestEngine(t, Config{})
			now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
			eng.SetNowFunc(func() time.Time { return now })
			advance := func(d time.Duration) { now = now.Add(d) }

			tc.setup(t, eng, advance)

			got := eng.ContextFor(ctx, "u1", "ava")
			tag := "[relationship: " + tc.want + "]"
			if !strings.HasPrefix(got, tag) {
				t.Fatalf("ContextFor() = %q, want prefix %q", got, tag)
			}
			if !strings.Contains(got, "u1") {
				t.Fatalf("ContextFor() = %q, want the pair named", got)
			}
		})
	}
}

func TestContextForSymmetric(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, Config{})
	warmPair(t, eng, "u1", "ava", 10)

	fwd := eng.ContextFor(ctx, "u1", "ava")
	rev := eng.ContextFor(ctx, "ava", "u1")
	if fwd == "" || fwd != rev {
		t.Fatalf("ContextFor not symmetric:\n%q\n%q", fwd, rev)
	}
}
