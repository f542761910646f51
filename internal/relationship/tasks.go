package relationship

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/internal/storage"
	"github.com/haasonsaas/rapport/pkg/models"
)

// taskErr maps task-store sentinels onto error kinds.
func taskErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return errs.Wrap(errs.KindNotFound, op, err)
	}
	return errs.Wrap(errs.KindUnavailable, op, err)
}

// TaskTemplate declares when a background task becomes worth doing. A
// template fires when the relationship's status matches RequiredStatus
// (empty matches any) and its score is at least MinScore, unless a
// prior instance for the same relationship is still open.
type TaskTemplate struct {
	Name           string
	Title          string
	Description    string // one %s placeholder for the pair
	Priority       int    // 1 (low) .. 5 (urgent)
	MinScore       float64
	RequiredStatus models.RelationshipStatus
	DueIn          time.Duration
}

// taskTemplates is the fixed catalog, ordered by escalation.
var taskTemplates = []TaskTemplate{
	{
		Name:           "daily_check_in",
		Title:          "Daily check-in",
		Description:    "Open the day with a light check-in for %s.",
		Priority:       2,
		MinScore:       0.2,
		RequiredStatus: models.RelationshipActive,
		DueIn:          24 * time.Hour,
	},
	{
		Name:           "emotional_support",
		Title:          "Offer emotional support",
		Description:    "Acknowledge recent feelings and offer support to %s.",
		Priority:       3,
		MinScore:       0.4,
		RequiredStatus: models.RelationshipActive,
		DueIn:          48 * time.Hour,
	},
	{
		Name:           "deep_conversation",
		Title:          "Start a deep conversation",
		Description:    "Pick up a meaningful thread with %s and go deeper.",
		Priority:       3,
		MinScore:       0.6,
		RequiredStatus: models.RelationshipActive,
		DueIn:          72 * time.Hour,
	},
	{
		Name:           "collaboration_project",
		Title:          "Propose a collaboration",
		Description:    "Suggest a small shared project for %s to build on.",
		Priority:       4,
		MinScore:       0.7,
		RequiredStatus: models.RelationshipActive,
		DueIn:          7 * 24 * time.Hour,
	},
	{
		Name:           "cooling_prevention",
		Title:          "Prevent cooling off",
		Description:    "Reach out before the connection with %s cools further.",
		Priority:       4,
		MinScore:       0.3,
		RequiredStatus: models.RelationshipCooling,
		DueIn:          24 * time.Hour,
	},
	{
		Name:           "relationship_revival",
		Title:          "Revive a silent relationship",
		Description:    "Reconnect with %s after the long quiet spell.",
		Priority:       5,
		MinScore:       0,
		RequiredStatus: models.RelationshipSilent,
		DueIn:          48 * time.Hour,
	},
}

// Templates returns a copy of the task template catalog.
func Templates() []TaskTemplate {
	out := make([]TaskTemplate, len(taskTemplates))
	copy(out, taskTemplates)
	return out
}

// generateTasks materializes every template whose predicates the record
// satisfies and that has no open prior instance. Returns how many tasks
// were created.
func (e *Engine) generateTasks(ctx context.Context, rec *models.Relationship, intensity *models.RelationshipIntensity) (int, error) {
	existing, err := e.tasks.ListByRelationship(ctx, rec.ID)
	if err != nil {
		return 0, err
	}
	open := make(map[string]bool, len(existing))
	for _, t := range existing {
		if !t.Status.Terminal() {
			open[t.Template] = true
		}
	}

	now := e.nowFunc()
	created := 0
	for _, tmpl := range taskTemplates {
		if tmpl.RequiredStatus != "" && rec.Status != tmpl.RequiredStatus {
			continue
		}
		if intensity.Score < tmpl.MinScore {
			continue
		}
		if open[tmpl.Name] {
			continue
		}
		due := now.Add(tmpl.DueIn)
		task := &models.RelationshipTask{
			ID:             uuid.NewString(),
			RelationshipID: rec.ID,
			Template:       tmpl.Name,
			Title:          tmpl.Title,
			Description:    fmt.Sprintf(tmpl.Description, normalizedPair(rec)),
			Priority:       tmpl.Priority,
			Status:         models.TaskPending,
			CreatedAt:      now,
			DueAt:          &due,
			MinIntensity:   tmpl.MinScore,
			RequiredStatus: tmpl.RequiredStatus,
			Tags: map[string]any{
				"score": intensity.Score,
				"level": string(intensity.Level),
			},
		}
		if err := e.tasks.Create(ctx, task); err != nil {
			return created, err
		}
		if e.metrics != nil {
			e.metrics.RecordTask(tmpl.Name, string(models.TaskPending))
		}
		open[tmpl.Name] = true
		created++
	}
	return created, nil
}

// Sweep re-evaluates every relationship against the template catalog.
// Status drift happens between updates (a pair goes cooling or silent by
// doing nothing), so the background sweep is what materializes
// cooling_prevention and relationship_revival tasks for idle pairs.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	records, err := e.List(ctx)
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		counts := make(map[models.RelationshipStatus]int, 4)
		for _, rec := range records {
			counts[rec.Status]++
		}
		for _, st := range []models.RelationshipStatus{
			models.RelationshipActive,
			models.RelationshipCooling,
			models.RelationshipSilent,
			models.RelationshipBroken,
		} {
			e.metrics.SetRelationshipStatus(string(st), counts[st])
		}
	}
	now := e.nowFunc()
	created := 0
	for _, rec := range records {
		if rec.Status == models.RelationshipBroken {
			continue
		}
		e.mu.RLock()
		lock, live := e.locks[rec.ID], e.records[rec.ID]
		e.mu.RUnlock()
		if live == nil {
			continue
		}
		lock.Lock()
		intensity := e.computeIntensity(live, now)
		lock.Unlock()

		e.mu.Lock()
		e.intensities[rec.ID] = intensity
		e.mu.Unlock()

		n, err := e.generateTasks(ctx, rec, intensity)
		if err != nil {
			return created, taskErr("relationship.Sweep", err)
		}
		created += n
	}
	return created, nil
}

// ExecutableTasks returns pending tasks across all relationships,
// highest priority first, oldest first within a priority. A limit of 0
// returns everything.
func (e *Engine) ExecutableTasks(ctx context.Context, limit int) ([]*models.RelationshipTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCancelled, "relationship.ExecutableTasks", err)
	}
	e.mu.RLock()
	ids := make([]string, 0, len(e.records))
	for id := range e.records {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	var out []*models.RelationshipTask
	for _, id := range ids {
		tasks, err := e.tasks.ListByRelationship(ctx, id)
		if err != nil {
			return nil, taskErr("relationship.ExecutableTasks", err)
		}
		for _, t := range tasks {
			if t.Status == models.TaskPending {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListTasks returns a relationship's tasks oldest first.
func (e *Engine) ListTasks(ctx context.Context, relationshipID string) ([]*models.RelationshipTask, error) {
	tasks, err := e.tasks.ListByRelationship(ctx, relationshipID)
	if err != nil {
		return nil, taskErr("relationship.ListTasks", err)
	}
	return tasks, nil
}

// ClaimTask transitions a pending task to in_progress and stamps the
// claim time. Claiming a task that is no longer pending fails so each
// task runs at most once.
func (e *Engine) ClaimTask(ctx context.Context, id string) (*models.RelationshipTask, error) {
	task, err := e.tasks.Get(ctx, id)
	if err != nil {
		return nil, taskErr("relationship.ClaimTask", err)
	}
	if task.Status != models.TaskPending {
		return nil, errs.Errorf(errs.KindInvalidArgument, "relationship.ClaimTask",
			"task %q is %s, not pending", id, task.Status)
	}
	task.Status = models.TaskInProgress
	if task.Tags == nil {
		task.Tags = make(map[string]any)
	}
	task.Tags["claimed_at"] = e.nowFunc().UTC().Format(time.RFC3339)
	if err := e.tasks.Update(ctx, task); err != nil {
		return nil, taskErr("relationship.ClaimTask", err)
	}
	if e.metrics != nil {
		e.metrics.RecordTask(task.Template, string(models.TaskInProgress))
	}
	return task, nil
}

// ReclaimStale fails in_progress tasks whose claim is older than
// olderThan. A claim goes stale when its worker dies between claim and
// completion; failing it keeps the executable view honest.
func (e *Engine) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.records))
	for id := range e.records {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	now := e.nowFunc()
	reclaimed := 0
	for _, relID := range ids {
		tasks, err := e.tasks.ListByRelationship(ctx, relID)
		if err != nil {
			return reclaimed, taskErr("relationship.ReclaimStale", err)
		}
		for _, t := range tasks {
			if t.Status != models.TaskInProgress {
				continue
			}
			raw, _ := t.Tags["claimed_at"].(string)
			claimedAt, err := time.Parse(time.RFC3339, raw)
			if err != nil || now.Sub(claimedAt) < olderThan {
				continue
			}
			if err := e.CompleteTask(ctx, t.ID, models.TaskFailed, "stale claim reclaimed"); err != nil {
				return reclaimed, err
			}
			reclaimed++
		}
	}
	return reclaimed, nil
}

// CompleteTask moves a task to a terminal status and stamps the
// completion time. An optional note lands in the task's tags.
func (e *Engine) CompleteTask(ctx context.Context, id string, status models.TaskStatus, note string) error {
	if !status.Terminal() {
		return errs.Errorf(errs.KindInvalidArgument, "relationship.CompleteTask",
			"status %q is not terminal", status)
	}
	task, err := e.tasks.Get(ctx, id)
	if err != nil {
		return taskErr("relationship.CompleteTask", err)
	}
	if task.Status.Terminal() {
		return errs.Errorf(errs.KindInvalidArgument, "relationship.CompleteTask",
			"task %q already %s", id, task.Status)
	}
	now := e.nowFunc()
	task.Status = status
	task.CompletedAt = &now
	if note != "" {
		if task.Tags == nil {
			task.Tags = make(map[string]any)
		}
		task.Tags["note"] = note
	}
	if err := e.tasks.Update(ctx, task); err != nil {
		return taskErr("relationship.CompleteTask", err)
	}
	if e.metrics != nil {
		e.metrics.RecordTask(task.Template, string(status))
	}
	return nil
}
