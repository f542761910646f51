package storage

import (
	"maps"
	"time"

	"github.com/haasonsaas/rapport/pkg/models"
)

// The in-memory store clones entities on every write and read so callers
// never alias its internal state. Tag bags are copied one level deep;
// values inside them are treated as immutable.

func cloneTags(tags map[string]any) map[string]any {
	if tags == nil {
		return nil
	}
	return maps.Clone(tags)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneSession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Participants = append([]models.Participant(nil), s.Participants...)
	c.Tags = cloneTags(s.Tags)
	return &c
}

func cloneMessage(m *models.Message) *models.Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Tags = cloneTags(m.Tags)
	return &c
}

func cloneMessages(ms []models.Message) []models.Message {
	if ms == nil {
		return nil
	}
	out := make([]models.Message, len(ms))
	for i := range ms {
		out[i] = *cloneMessage(&ms[i])
	}
	return out
}

func cloneInvocation(inv *models.ToolInvocation) *models.ToolInvocation {
	if inv == nil {
		return nil
	}
	c := *inv
	c.Args = cloneTags(inv.Args)
	c.CompletedAt = cloneTime(inv.CompletedAt)
	return &c
}

func cloneInvocations(invs []models.ToolInvocation) []models.ToolInvocation {
	if invs == nil {
		return nil
	}
	out := make([]models.ToolInvocation, len(invs))
	for i := range invs {
		out[i] = *cloneInvocation(&invs[i])
	}
	return out
}

func cloneTurn(t *models.Turn) *models.Turn {
	if t == nil {
		return nil
	}
	c := *t
	c.EndedAt = cloneTime(t.EndedAt)
	c.Requests = cloneMessages(t.Requests)
	c.Responses = cloneMessages(t.Responses)
	c.Invocations = cloneInvocations(t.Invocations)
	c.Tags = cloneTags(t.Tags)
	return &c
}

func cloneMemoryItem(item *models.MemoryItem) *models.MemoryItem {
	if item == nil {
		return nil
	}
	c := *item
	c.Tags = cloneTags(item.Tags)
	c.Embedding = append([]float32(nil), item.Embedding...)
	return &c
}

func cloneRelationship(rel *models.Relationship) *models.Relationship {
	if rel == nil {
		return nil
	}
	c := *rel
	if rel.DailyRounds != nil {
		c.DailyRounds = maps.Clone(rel.DailyRounds)
	}
	return &c
}

func cloneTask(task *models.RelationshipTask) *models.RelationshipTask {
	if task == nil {
		return nil
	}
	c := *task
	c.DueAt = cloneTime(task.DueAt)
	c.CompletedAt = cloneTime(task.CompletedAt)
	c.Tags = cloneTags(task.Tags)
	return &c
}
