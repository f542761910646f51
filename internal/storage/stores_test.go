package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/rapport/pkg/models"
)

// testStores runs the conformance suite shared by every backend. Each subtest
// gets a fresh Stores from open so counts stay deterministic.
func testStores(t *testing.T, open func(t *testing.T) Stores) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("session lifecycle", func(t *testing.T) {
		ctx := context.Background()
		stores := open(t)

		session := testSession("sess-1", "user-1", base)
		if err := stores.Sessions.Create(ctx, session); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if err := stores.Sessions.Create(ctx, session); !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("duplicate Create() error = %v, want ErrAlreadyExists", err)
		}

		got, err := stores.Sessions.Get(ctx, "sess-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.OwnerID != "user-1" {
			t.Errorf("OwnerID = %q, want %q", got.OwnerID, "user-1")
		}
		if got.Kind != models.DialogueHumanAIPrivate {
			t.Errorf("Kind = %q, want %q", got.Kind, models.DialogueHumanAIPrivate)
		}
		if len(got.Participants) != 2 {
			t.Fatalf("Participants count = %d, want 2", len(got.Participants))
		}
		if got.Participants[1].DisplayName != "Agent" {
			t.Errorf("Participants[1].DisplayName = %q, want %q", got.Participants[1].DisplayName, "Agent")
		}
		if got.Tags["channel"] != "repl" {
			t.Errorf("Tags[channel] = %v, want repl", got.Tags["channel"])
		}
		if !got.CreatedAt.Equal(session.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, session.CreatedAt)
		}
		if !got.LastActivityAt.Equal(base) {
			t.Errorf("LastActivityAt = %v, want %v", got.LastActivityAt, base)
		}

		session.LastActivityAt = base.Add(time.Hour)
		session.Tags = map[string]any{"channel": "api"}
		if err := stores.Sessions.Update(ctx, session); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		got, err = stores.Sessions.Get(ctx, "sess-1")
		if err != nil {
			t.Fatalf("Get() after update error = %v", err)
		}
		if !got.LastActivityAt.Equal(base.Add(time.Hour)) {
			t.Errorf("LastActivityAt = %v, want %v", got.LastActivityAt, base.Add(time.Hour))
		}
		if got.Tags["channel"] != "api" {
			t.Errorf("Tags[channel] = %v, want api", got.Tags["channel"])
		}

		if err := stores.Sessions.Update(ctx, testSession("ghost", "user-1", base)); !errors.Is(err, ErrNotFound) {
			t.Errorf("Update(ghost) error = %v, want ErrNotFound", err)
		}
		if _, err := stores.Sessions.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(ghost) error = %v, want ErrNotFound", err)
		}
		if err := stores.Sessions.Create(ctx, nil); err == nil {
			t.Error("Create(nil) expected error")
		}
		if err := stores.Sessions.Create(ctx, &models.Session{}); err == nil {
			t.Error("Create(no ID) expected error")
		}
	})

	t.Run("session list", func(t *testing.T) {
		ctx := context.Background()
		stores := open(t)

		for i, id := range []string{"sess-1", "sess-2", "sess-3"} {
			s := testSession(id, "user-1", base.Add(time.Duration(i)*time.Minute))
			if err := stores.Sessions.Create(ctx, s); err != nil {
				t.Fatalf("Create(%s) error = %v", id, err)
			}
		}
		if err := stores.Sessions.Create(ctx, testSession("sess-4", "user-2", base.Add(3*time.Minute))); err != nil {
			t.Fatalf("Create(sess-4) error = %v", err)
		}

		sessions, total, err := stores.Sessions.List(ctx, "user-1", 10, 0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		assertSessionIDs(t, sessions, []string{"sess-3", "sess-2", "sess-1"})

		sessions, total, err = stores.Sessions.List(ctx, "", 0, 0)
		if err != nil {
			t.Fatalf("List(all) error = %v", err)
		}
		if total != 4 {
			t.Errorf("total = %d, want 4", total)
		}
		assertSessionIDs(t, sessions, []string{"sess-4", "sess-3", "sess-2", "sess-1"})

		sessions, total, err = stores.Sessions.List(ctx, "user-1", 1, 1)
		if err != nil {
			t.Fatalf("List(page) error = %v", err)
		}
		if total != 3 {
			t.Errorf("paged total = %d, want 3", total)
		}
		assertSessionIDs(t, sessions, []string{"sess-2"})

		sessions, total, err = stores.Sessions.List(ctx, "user-1", 10, 50)
		if err != nil {
			t.Fatalf("List(past end) error = %v", err)
		}
		if total != 3 || len(sessions) != 0 {
			t.Errorf("past-end page: total = %d len = %d, want 3 and 0", total, len(sessions))
		}

		// Negative paging values are clamped, not errors.
		sessions, _, err = stores.Sessions.List(ctx, "user-1", -5, -5)
		if err != nil {
			t.Fatalf("List(negative) error = %v", err)
		}
		if len(sessions) != 3 {
			t.Errorf("clamped page len = %d, want 3", len(sessions))
		}

		// Equal activity times fall back to ID order.
		for _, id := range []string{"sess-6", "sess-5"} {
			if err := stores.Sessions.Create(ctx, testSession(id, "user-3", base.Add(4*time.Minute))); err != nil {
				t.Fatalf("Create(%s) error = %v", id, err)
			}
		}
		sessions, _, err = stores.Sessions.List(ctx, "user-3", 10, 0)
		if err != nil {
			t.Fatalf("List(user-3) error = %v", err)
		}
		assertSessionIDs(t, sessions, []string{"sess-5", "sess-6"})
	})

	t.Run("turn owns messages and invocations", func(t *testing.T) {
		ctx := context.Background()
		stores := open(t)

		if err := stores.Sessions.Create(ctx, testSession("sess-t", "user-1", base)); err != nil {
			t.Fatalf("Create(session) error = %v", err)
		}
		turn := testTurn("turn-1", "sess-t", 0, base)
		if err := stores.Turns.Create(ctx, turn); err != nil {
			t.Fatalf("Create(turn) error = %v", err)
		}
		if err := stores.Turns.Create(ctx, turn); !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("duplicate Create(turn) error = %v, want ErrAlreadyExists", err)
		}

		got, err := stores.Turns.Get(ctx, "turn-1")
		if err != nil {
			t.Fatalf("Get(turn) error = %v", err)
		}
		if len(got.Requests) != 2 || len(got.Responses) != 1 || len(got.Invocations) != 2 {
			t.Fatalf("children = %d requests, %d responses, %d invocations; want 2, 1, 2",
				len(got.Requests), len(got.Responses), len(got.Invocations))
		}
		if got.Requests[0].ID != "turn-1-req-0" || got.Requests[1].ID != "turn-1-req-1" {
			t.Errorf("request order = %q, %q", got.Requests[0].ID, got.Requests[1].ID)
		}
		if got.Requests[1].Content != "and the weather?" {
			t.Errorf("Requests[1].Content = %q", got.Requests[1].Content)
		}
		if got.Responses[0].SenderKind != models.ParticipantAI {
			t.Errorf("Responses[0].SenderKind = %q, want ai", got.Responses[0].SenderKind)
		}
		if got.Invocations[0].Args["timezone"] != "UTC" {
			t.Errorf("Invocations[0].Args[timezone] = %v, want UTC", got.Invocations[0].Args["timezone"])
		}
		if got.Invocations[0].CompletedAt == nil {
			t.Error("Invocations[0].CompletedAt = nil, want set")
		}
		if got.Invocations[1].Error != "echo device offline" {
			t.Errorf("Invocations[1].Error = %q", got.Invocations[1].Error)
		}

		// Child reads go through the message and invocation stores.
		msg, err := stores.Messages.Get(ctx, "turn-1-req-1")
		if err != nil {
			t.Fatalf("Messages.Get() error = %v", err)
		}
		if msg.TurnID != "turn-1" || msg.Kind != models.MessageText {
			t.Errorf("message = turn %q kind %q", msg.TurnID, msg.Kind)
		}
		messages, err := stores.Messages.ListByTurn(ctx, "turn-1")
		if err != nil {
			t.Fatalf("Messages.ListByTurn() error = %v", err)
		}
		assertMessageIDs(t, messages, []string{"turn-1-req-0", "turn-1-req-1", "turn-1-res-0"})

		inv, err := stores.Invocations.Get(ctx, "turn-1-inv-1")
		if err != nil {
			t.Fatalf("Invocations.Get() error = %v", err)
		}
		if inv.Status != models.InvocationFailed {
			t.Errorf("invocation status = %q, want failed", inv.Status)
		}
		invocations, err := stores.Invocations.ListByTurn(ctx, "turn-1")
		if err != nil {
			t.Fatalf("Invocations.ListByTurn() error = %v", err)
		}
		if len(invocations) != 2 || invocations[0].ID != "turn-1-inv-0" {
			t.Errorf("invocation list = %d items, first %q", len(invocations), invocations[0].ID)
		}

		// Updating the turn replaces its children wholesale.
		ended := base.Add(2 * time.Minute)
		turn.Status = models.TurnCompleted
		turn.EndedAt = &ended
		turn.Responses = []models.Message{{
			ID:         "turn-1-res-1",
			TurnID:     "turn-1",
			Content:    "It is 12:00 UTC and sunny.",
			Kind:       models.MessageText,
			SenderID:   "agent-1",
			SenderKind: models.ParticipantAI,
			CreatedAt:  ended,
		}}
		if err := stores.Turns.Update(ctx, turn); err != nil {
			t.Fatalf("Update(turn) error = %v", err)
		}
		got, err = stores.Turns.Get(ctx, "turn-1")
		if err != nil {
			t.Fatalf("Get(turn) after update error = %v", err)
		}
		if got.Status != models.TurnCompleted {
			t.Errorf("status = %q, want completed", got.Status)
		}
		if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
			t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
		}
		if len(got.Responses) != 1 || got.Responses[0].ID != "turn-1-res-1" {
			t.Fatalf("responses after update = %+v", got.Responses)
		}
		if _, err := stores.Messages.Get(ctx, "turn-1-res-0"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(replaced message) error = %v, want ErrNotFound", err)
		}
		messages, err = stores.Messages.ListByTurn(ctx, "turn-1")
		if err != nil {
			t.Fatalf("Messages.ListByTurn() after update error = %v", err)
		}
		assertMessageIDs(t, messages, []string{"turn-1-req-0", "turn-1-req-1", "turn-1-res-1"})

		ghost := testTurn("turn-ghost", "sess-t", 9, base)
		if err := stores.Turns.Update(ctx, ghost); !errors.Is(err, ErrNotFound) {
			t.Errorf("Update(ghost turn) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("turns list in ordinal order", func(t *testing.T) {
		ctx := context.Background()
		stores := open(t)

		if err := stores.Sessions.Create(ctx, testSession("sess-o", "user-1", base)); err != nil {
			t.Fatalf("Create(session) error = %v", err)
		}
		for _, tc := range []struct {
			id      string
			ordinal int
		}{
			{"turn-c", 2},
			{"turn-a", 0},
			{"turn-b", 1},
		} {
			if err := stores.Turns.Create(ctx, testTurn(tc.id, "sess-o", tc.ordinal, base)); err != nil {
				t.Fatalf("Create(%s) error = %v", tc.id, err)
			}
		}
		turns, err := stores.Turns.ListBySession(ctx, "sess-o")
		if err != nil {
			t.Fatalf("ListBySession() error = %v", err)
		}
		if len(turns) != 3 {
			t.Fatalf("turn count = %d, want 3", len(turns))
		}
		for i, want := range []string{"turn-a", "turn-b", "turn-c"} {
			if turns[i].ID != want {
				t.Errorf("turns[%d].ID = %q, want %q", i, turns[i].ID, want)
			}
			if turns[i].Ordinal != i {
				t.Errorf("turns[%d].Ordinal = %d, want %d", i, turns[i].Ordinal, i)
			}
			if len(turns[i].Requests) != 2 {
				t.Errorf("turns[%d] loaded %d requests, want 2", i, len(turns[i].Requests))
			}
		}

		turns, err = stores.Turns.ListBySession(ctx, "sess-empty")
		if err != nil {
			t.Fatalf("ListBySession(empty) error = %v", err)
		}
		if len(turns) != 0 {
			t.Errorf("empty session turn count = %d, want 0", len(turns))
		}
	})

	t.Run("session delete cascades", func(t *testing.T) {
		ctx := context.Background()
		stores := open(t)

		if err := stores.Sessions.Create(ctx, testSession("sess-d", "user-1", base)); err != nil {
			t.Fatalf("Create(session) error = %v", err)
		}
		for i := 0; i < 2; i++ {
			turn := testTurn("turn-d"+string(rune('0'+i)), "sess-d", i, base)
			if err := stores.Turns.Create(ctx, turn); err != nil {
				t.Fatalf("Create(turn %d) error = %v", i, err)
			}
		}

		if err := stores.Sessions.Delete(ctx, "sess-d"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := stores.Sessions.Get(ctx, "sess-d"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(deleted session) error = %v, want ErrNotFound", err)
		}
		if _, err := stores.Turns.Get(ctx, "turn-d0"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(cascaded turn) error = %v, want ErrNotFound", err)
		}
		if _, err := stores.Messages.Get(ctx, "turn-d0-req-0"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(cascaded message) error = %v, want ErrNotFound", err)
		}
		if _, err := stores.Invocations.Get(ctx, "turn-d1-inv-0"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(cascaded invocation) error = %v, want ErrNotFound", err)
		}
		turns, err := stores.Turns.ListBySession(ctx, "sess-d")
		if err != nil {
			t.Fatalf("ListBySession(deleted) error = %v", err)
		}
		if len(turns) != 0 {
			t.Errorf("turns after delete = %d, want 0", len(turns))
		}
		if err := stores.Sessions.Delete(ctx, "sess-d"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second Delete() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("memory items", func(t *testing.T) {
		ctx := context.Background()
		stores := open(t)

		first := &models.MemoryItem{
			ID:           "mem-1",
			Content:      "Tesla factory tour booked for Friday",
			Tags:         map[string]any{"topic": "tesla"},
			CreatedAt:    base,
			LastAccessAt: base,
			AccessCount:  1,
			Embedding:    []float32{0.1, -0.25, 3},
		}
		if err := stores.MemoryItems.Put(ctx, "episodic", first); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		second := &models.MemoryItem{
			ID:           "mem-2",
			Content:      "prefers short answers",
			CreatedAt:    base.Add(time.Minute),
			LastAccessAt: base.Add(time.Minute),
		}
		if err := stores.MemoryItems.Put(ctx, "episodic", second); err != nil {
			t.Fatalf("Put(second) error = %v", err)
		}
		if err := stores.MemoryItems.Put(ctx, "diary", &models.MemoryItem{
			ID:           "mem-3",
			Content:      "wrote about the rainy afternoon",
			CreatedAt:    base,
			LastAccessAt: base,
		}); err != nil {
			t.Fatalf("Put(diary) error = %v", err)
		}

		got, err := stores.MemoryItems.Get(ctx, "episodic", "mem-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Content != first.Content {
			t.Errorf("Content = %q", got.Content)
		}
		if got.AccessCount != 1 {
			t.Errorf("AccessCount = %d, want 1", got.AccessCount)
		}
		if got.Tags["topic"] != "tesla" {
			t.Errorf("Tags[topic] = %v, want tesla", got.Tags["topic"])
		}
		if len(got.Embedding) != 3 {
			t.Fatalf("Embedding len = %d, want 3", len(got.Embedding))
		}
		for i, want := range []float32{0.1, -0.25, 3} {
			if got.Embedding[i] != want {
				t.Errorf("Embedding[%d] = %v, want %v", i, got.Embedding[i], want)
			}
		}
		if !got.LastAccessAt.Equal(base) {
			t.Errorf("LastAccessAt = %v, want %v", got.LastAccessAt, base)
		}

		items, err := stores.MemoryItems.List(ctx, "episodic")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(items) != 2 || items[0].ID != "mem-1" || items[1].ID != "mem-2" {
			t.Errorf("episodic list = %v", itemIDs(items))
		}

		// Put on an existing ID overwrites in place.
		first.Content = "Tesla tour moved to Saturday"
		first.AccessCount = 5
		if err := stores.MemoryItems.Put(ctx, "episodic", first); err != nil {
			t.Fatalf("Put(overwrite) error = %v", err)
		}
		got, err = stores.MemoryItems.Get(ctx, "episodic", "mem-1")
		if err != nil {
			t.Fatalf("Get() after overwrite error = %v", err)
		}
		if got.Content != "Tesla tour moved to Saturday" || got.AccessCount != 5 {
			t.Errorf("after overwrite: content %q count %d", got.Content, got.AccessCount)
		}
		items, err = stores.MemoryItems.List(ctx, "episodic")
		if err != nil {
			t.Fatalf("List() after overwrite error = %v", err)
		}
		if len(items) != 2 {
			t.Errorf("episodic count after overwrite = %d, want 2", len(items))
		}

		names, err := stores.MemoryItems.StoreNames(ctx)
		if err != nil {
			t.Fatalf("StoreNames() error = %v", err)
		}
		if len(names) != 2 || names[0] != "diary" || names[1] != "episodic" {
			t.Errorf("StoreNames() = %v", names)
		}

		if _, err := stores.MemoryItems.Get(ctx, "episodic", "mem-3"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(wrong store) error = %v, want ErrNotFound", err)
		}
		if err := stores.MemoryItems.Delete(ctx, "episodic", "mem-2"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := stores.MemoryItems.Get(ctx, "episodic", "mem-2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
		}
		if err := stores.MemoryItems.Delete(ctx, "episodic", "mem-2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second Delete() error = %v, want ErrNotFound", err)
		}
		if err := stores.MemoryItems.Put(ctx, "", first); err == nil {
			t.Error("Put(empty store) expected error")
		}
		if err := stores.MemoryItems.Put(ctx, "episodic", nil); err == nil {
			t.Error("Put(nil item) expected error")
		}
	})

	t.Run("relationships", func(t *testing.T) {
		ctx := context.Background()
		stores := open(t)

		rel := &models.Relationship{
			ID:           "rel-1",
			AID:          "agent-1",
			AKind:        models.ParticipantAI,
			BID:          "user-1",
			BKind:        models.ParticipantHuman,
			FirstSeenAt:  base,
			LastActiveAt: base,
			TotalRounds:  3,
			ActiveDays:   1,
			DailyRounds:  map[string]int{"2025-06-01": 3},
			Status:       models.RelationshipActive,
		}
		if err := stores.Relationships.Put(ctx, rel); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := stores.Relationships.Get(ctx, "rel-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.AID != "agent-1" || got.BID != "user-1" {
			t.Errorf("pair = %q/%q", got.AID, got.BID)
		}
		if got.DailyRounds["2025-06-01"] != 3 {
			t.Errorf("DailyRounds = %v", got.DailyRounds)
		}
		if !got.FirstSeenAt.Equal(base) {
			t.Errorf("FirstSeenAt = %v, want %v", got.FirstSeenAt, base)
		}

		rel.TotalRounds = 10
		rel.ResonanceCount = 2
		rel.Affection = 0.4
		rel.Status = models.RelationshipCooling
		if err := stores.Relationships.Put(ctx, rel); err != nil {
			t.Fatalf("Put(update) error = %v", err)
		}
		got, err = stores.Relationships.Get(ctx, "rel-1")
		if err != nil {
			t.Fatalf("Get() after update error = %v", err)
		}
		if got.TotalRounds != 10 || got.ResonanceCount != 2 || got.Status != models.RelationshipCooling {
			t.Errorf("after update: rounds %d resonance %d status %q", got.TotalRounds, got.ResonanceCount, got.Status)
		}
		if got.Affection != 0.4 {
			t.Errorf("Affection = %v, want 0.4", got.Affection)
		}

		if err := stores.Relationships.Put(ctx, &models.Relationship{
			ID:          "rel-2",
			AID:         "agent-1",
			AKind:       models.ParticipantAI,
			BID:         "user-2",
			BKind:       models.ParticipantHuman,
			FirstSeenAt: base.Add(time.Minute),
			Status:      models.RelationshipActive,
		}); err != nil {
			t.Fatalf("Put(rel-2) error = %v", err)
		}
		rels, err := stores.Relationships.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(rels) != 2 || rels[0].ID != "rel-1" || rels[1].ID != "rel-2" {
			t.Errorf("relationship order = %v", relIDs(rels))
		}

		if err := stores.Relationships.Delete(ctx, "rel-2"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := stores.Relationships.Get(ctx, "rel-2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
		}
		if err := stores.Relationships.Delete(ctx, "rel-2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second Delete() error = %v, want ErrNotFound", err)
		}
		if err := stores.Relationships.Put(ctx, nil); err == nil {
			t.Error("Put(nil) expected error")
		}
	})

	t.Run("tasks", func(t *testing.T) {
		ctx := context.Background()
		stores := open(t)

		due := base.Add(24 * time.Hour)
		task := &models.RelationshipTask{
			ID:             "task-1",
			RelationshipID: "rel-1",
			Template:       "daily_greeting",
			Title:          "Morning check-in with user-1",
			Priority:       2,
			Status:         models.TaskPending,
			CreatedAt:      base,
			DueAt:          &due,
			MinIntensity:   0.2,
			RequiredStatus: models.RelationshipActive,
		}
		if err := stores.Tasks.Create(ctx, task); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if err := stores.Tasks.Create(ctx, task); !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("duplicate Create() error = %v, want ErrAlreadyExists", err)
		}

		got, err := stores.Tasks.Get(ctx, "task-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Template != "daily_greeting" || got.Priority != 2 {
			t.Errorf("task = template %q priority %d", got.Template, got.Priority)
		}
		if got.DueAt == nil || !got.DueAt.Equal(due) {
			t.Errorf("DueAt = %v, want %v", got.DueAt, due)
		}
		if got.MinIntensity != 0.2 {
			t.Errorf("MinIntensity = %v, want 0.2", got.MinIntensity)
		}
		if got.RequiredStatus != models.RelationshipActive {
			t.Errorf("RequiredStatus = %q, want active", got.RequiredStatus)
		}
		if got.CompletedAt != nil {
			t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
		}

		if err := stores.Tasks.Create(ctx, &models.RelationshipTask{
			ID:             "task-2",
			RelationshipID: "rel-1",
			Template:       "memory_review",
			Title:          "Revisit last week's highlights",
			Priority:       1,
			Status:         models.TaskPending,
			CreatedAt:      base.Add(time.Minute),
		}); err != nil {
			t.Fatalf("Create(task-2) error = %v", err)
		}
		tasks, err := stores.Tasks.ListByRelationship(ctx, "rel-1")
		if err != nil {
			t.Fatalf("ListByRelationship() error = %v", err)
		}
		if len(tasks) != 2 || tasks[0].ID != "task-1" || tasks[1].ID != "task-2" {
			t.Errorf("task order = %v", taskIDs(tasks))
		}

		done := base.Add(2 * time.Hour)
		task.Status = models.TaskCompleted
		task.CompletedAt = &done
		if err := stores.Tasks.Update(ctx, task); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		got, err = stores.Tasks.Get(ctx, "task-1")
		if err != nil {
			t.Fatalf("Get() after update error = %v", err)
		}
		if got.Status != models.TaskCompleted {
			t.Errorf("status = %q, want completed", got.Status)
		}
		if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
			t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, done)
		}

		if err := stores.Tasks.Update(ctx, &models.RelationshipTask{ID: "task-ghost"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("Update(ghost) error = %v, want ErrNotFound", err)
		}
		tasks, err = stores.Tasks.ListByRelationship(ctx, "rel-none")
		if err != nil {
			t.Fatalf("ListByRelationship(none) error = %v", err)
		}
		if len(tasks) != 0 {
			t.Errorf("unknown relationship task count = %d, want 0", len(tasks))
		}
	})

	t.Run("reads are isolated from callers", func(t *testing.T) {
		ctx := context.Background()
		stores := open(t)

		session := testSession("sess-i", "user-1", base)
		if err := stores.Sessions.Create(ctx, session); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		// Mutating the value passed to Create must not reach the store.
		session.Tags["channel"] = "mutated-input"
		session.Participants[0].ID = "mutated-input"

		first, err := stores.Sessions.Get(ctx, "sess-i")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if first.Tags["channel"] != "repl" {
			t.Errorf("Tags[channel] = %v, want repl", first.Tags["channel"])
		}
		if first.Participants[0].ID != "user-1" {
			t.Errorf("Participants[0].ID = %q, want user-1", first.Participants[0].ID)
		}

		// Mutating a returned value must not reach the store either.
		first.Tags["channel"] = "mutated-read"
		first.Participants[0].ID = "mutated-read"
		second, err := stores.Sessions.Get(ctx, "sess-i")
		if err != nil {
			t.Fatalf("second Get() error = %v", err)
		}
		if second.Tags["channel"] != "repl" || second.Participants[0].ID != "user-1" {
			t.Errorf("store leaked caller mutation: tags %v participant %q",
				second.Tags["channel"], second.Participants[0].ID)
		}
	})
}

func testSession(id, owner string, activity time.Time) *models.Session {
	return &models.Session{
		ID:      id,
		OwnerID: owner,
		Kind:    models.DialogueHumanAIPrivate,
		Participants: []models.Participant{
			{ID: owner, Kind: models.ParticipantHuman},
			{ID: "agent-1", DisplayName: "Agent", Kind: models.ParticipantAI},
		},
		Tags:           map[string]any{"channel": "repl"},
		CreatedAt:      activity.Add(-time.Hour),
		LastActivityAt: activity,
	}
}

func testTurn(id, sessionID string, ordinal int, at time.Time) *models.Turn {
	completed := at.Add(time.Second)
	return &models.Turn{
		ID:            id,
		SessionID:     sessionID,
		Ordinal:       ordinal,
		InitiatorID:   "user-1",
		InitiatorKind: models.ParticipantHuman,
		ResponderID:   "agent-1",
		ResponderKind: models.ParticipantAI,
		Status:        models.TurnInProgress,
		StartedAt:     at,
		Requests: []models.Message{
			{
				ID:         id + "-req-0",
				TurnID:     id,
				Content:    "what time is it?",
				Kind:       models.MessageText,
				SenderID:   "user-1",
				SenderKind: models.ParticipantHuman,
				CreatedAt:  at,
			},
			{
				ID:         id + "-req-1",
				TurnID:     id,
				Content:    "and the weather?",
				Kind:       models.MessageText,
				SenderID:   "user-1",
				SenderKind: models.ParticipantHuman,
				CreatedAt:  at,
			},
		},
		Responses: []models.Message{
			{
				ID:         id + "-res-0",
				TurnID:     id,
				Content:    "Checking now.",
				Kind:       models.MessageText,
				SenderID:   "agent-1",
				SenderKind: models.ParticipantAI,
				CreatedAt:  at,
			},
		},
		Invocations: []models.ToolInvocation{
			{
				ID:          id + "-inv-0",
				TurnID:      id,
				ToolName:    "clock",
				ToolVersion: "1.0.0",
				Args:        map[string]any{"timezone": "UTC"},
				Status:      models.InvocationCompleted,
				Result:      "12:00 UTC",
				CreatedAt:   at,
				CompletedAt: &completed,
			},
			{
				ID:        id + "-inv-1",
				TurnID:    id,
				ToolName:  "echo",
				Status:    models.InvocationFailed,
				Error:     "echo device offline",
				CreatedAt: at,
			},
		},
	}
}

func assertSessionIDs(t *testing.T, sessions []*models.Session, want []string) {
	t.Helper()
	if len(sessions) != len(want) {
		t.Fatalf("session count = %d, want %d", len(sessions), len(want))
	}
	for i := range want {
		if sessions[i].ID != want[i] {
			t.Errorf("sessions[%d].ID = %q, want %q", i, sessions[i].ID, want[i])
		}
	}
}

func assertMessageIDs(t *testing.T, messages []*models.Message, want []string) {
	t.Helper()
	if len(messages) != len(want) {
		t.Fatalf("message count = %d, want %d", len(messages), len(want))
	}
	for i := range want {
		if messages[i].ID != want[i] {
			t.Errorf("messages[%d].ID = %q, want %q", i, messages[i].ID, want[i])
		}
	}
}

func itemIDs(items []*models.MemoryItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}

func relIDs(rels []*models.Relationship) []string {
	ids := make([]string, len(rels))
	for i, rel := range rels {
		ids[i] = rel.ID
	}
	return ids
}

func taskIDs(tasks []*models.RelationshipTask) []string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return ids
}
