package memory

import (
	"container/list"
	"sync"
	"time"

	"github.com/haasonsaas/rapport/pkg/models"
)

// conversation is one buffered message history plus its LRU bookkeeping.
type conversation struct {
	id       string
	messages []models.Message
	updated  time.Time
}

// ConversationBuffer holds short-term message history per conversation.
// At most limit conversations are retained; when a new one would exceed
// the cap, the least recently appended-to conversation is evicted. Only
// appends refresh recency.
type ConversationBuffer struct {
	mu      sync.RWMutex
	limit   int
	convs   map[string]*list.Element // value: *conversation
	order   *list.List               // front = most recently updated
	nowFunc func() time.Time
}

// NewConversationBuffer creates a buffer holding at most limit
// conversations (default 100 when limit <= 0).
func NewConversationBuffer(limit int) *ConversationBuffer {
	if limit <= 0 {
		limit = 100
	}
	return &ConversationBuffer{
		limit:   limit,
		convs:   make(map[string]*list.Element),
		order:   list.New(),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (b *ConversationBuffer) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		b.nowFunc = fn
	}
}

// Append adds a message to the conversation, creating it if needed and
// evicting the least recently updated conversation when over the cap.
func (b *ConversationBuffer) Append(conversationID string, msg models.Message) {
	if conversationID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, ok := b.convs[conversationID]
	if !ok {
		elem = b.order.PushFront(&conversation{id: conversationID})
		b.convs[conversationID] = elem
		if b.order.Len() > b.limit {
			oldest := b.order.Back()
			b.order.Remove(oldest)
			delete(b.convs, oldest.Value.(*conversation).id)
		}
	} else {
		b.order.MoveToFront(elem)
	}

	conv := elem.Value.(*conversation)
	conv.messages = append(conv.messages, msg)
	conv.updated = b.nowFunc()
}

// Messages returns a copy of the full history, oldest first, or nil for
// an unknown conversation.
func (b *ConversationBuffer) Messages(conversationID string) []models.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	elem, ok := b.convs[conversationID]
	if !ok {
		return nil
	}
	conv := elem.Value.(*conversation)
	out := make([]models.Message, len(conv.messages))
	copy(out, conv.messages)
	return out
}

// Recent returns a copy of the last k messages, oldest first. k <= 0
// returns nil.
func (b *ConversationBuffer) Recent(conversationID string, k int) []models.Message {
	if k <= 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	elem, ok := b.convs[conversationID]
	if !ok {
		return nil
	}
	conv := elem.Value.(*conversation)
	start := len(conv.messages) - k
	if start < 0 {
		start = 0
	}
	out := make([]models.Message, len(conv.messages)-start)
	copy(out, conv.messages[start:])
	return out
}

// TrimToRounds drops the oldest messages so that at most k rounds
// remain. A round starts at each human-sent message; system messages
// always survive. k <= 0 keeps only system messages.
func (b *ConversationBuffer) TrimToRounds(conversationID string, k int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, ok := b.convs[conversationID]
	if !ok {
		return
	}
	conv := elem.Value.(*conversation)

	var starts []int
	for i, msg := range conv.messages {
		if msg.SenderKind == models.ParticipantHuman {
			starts = append(starts, i)
		}
	}

	var cutoff int
	if k <= 0 {
		cutoff = len(conv.messages)
	} else {
		if len(starts) <= k {
			return
		}
		cutoff = starts[len(starts)-k]
	}

	kept := conv.messages[:0]
	for i, msg := range conv.messages {
		if i >= cutoff || msg.SenderKind == models.ParticipantSystem {
			kept = append(kept, msg)
		}
	}
	conv.messages = kept
}

// Clear drops one conversation entirely.
func (b *ConversationBuffer) Clear(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, ok := b.convs[conversationID]
	if !ok {
		return
	}
	b.order.Remove(elem)
	delete(b.convs, conversationID)
}

// Len reports how many conversations are currently buffered.
func (b *ConversationBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.convs)
}
