package memory

import (
	"fmt"
	"testing"

	"github.com/haasonsaas/rapport/pkg/models"
)

func bufMsg(kind models.ParticipantKind, content string) models.Message {
	return models.Message{Content: content, Kind: models.MessageText, SenderKind: kind}
}

func contents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func assertContents(t *testing.T, got []models.Message, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("messages = %v, want %v", contents(got), want)
	}
	for i := range want {
		if got[i].Content != want[i] {
			t.Fatalf("messages[%d] = %q, want %q (full: %v)", i, got[i].Content, want[i], contents(got))
		}
	}
}

func TestConversationBufferAppendAndRead(t *testing.T) {
	buf := NewConversationBuffer(10)

	buf.Append("conv-1", bufMsg(models.ParticipantHuman, "hello"))
	buf.Append("conv-1", bufMsg(models.ParticipantAI, "hi there"))
	buf.Append("conv-1", bufMsg(models.ParticipantHuman, "how are you"))

	assertContents(t, buf.Messages("conv-1"), "hello", "hi there", "how are you")
	assertContents(t, buf.Recent("conv-1", 2), "hi there", "how are you")
	assertContents(t, buf.Recent("conv-1", 10), "hello", "hi there", "how are you")

	if got := buf.Recent("conv-1", 0); got != nil {
		t.Fatalf("Recent(0) = %v, want nil", contents(got))
	}
	if got := buf.Messages("ghost"); got != nil {
		t.Fatalf("Messages(ghost) = %v, want nil", contents(got))
	}
	if buf.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", buf.Len())
	}
}

func TestConversationBufferAppendEmptyID(t *testing.T) {
	buf := NewConversationBuffer(10)
	buf.Append("", bufMsg(models.ParticipantHuman, "dropped"))
	if buf.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", buf.Len())
	}
}

func TestConversationBufferReadsAreCopies(t *testing.T) {
	buf := NewConversationBuffer(10)
	buf.Append("conv-1", bufMsg(models.ParticipantHuman, "original"))

	got := buf.Messages("conv-1")
	got[0].Content = "mutated"

	assertContents(t, buf.Messages("conv-1"), "original")
}

func TestConversationBufferTrimToRounds(t *testing.T) {
	buf := NewConversationBuffer(10)
	buf.Append("conv-1", bufMsg(models.ParticipantSystem, "sys"))
	buf.Append("conv-1", bufMsg(models.ParticipantHuman, "q1"))
	buf.Append("conv-1", bufMsg(models.ParticipantAI, "a1"))
	buf.Append("conv-1", bufMsg(models.ParticipantHuman, "q2"))
	buf.Append("conv-1", bufMsg(models.ParticipantAI, "a2"))
	buf.Append("conv-1", bufMsg(models.ParticipantHuman, "q3"))
	buf.Append("conv-1", bufMsg(models.ParticipantAI, "a3"))

	buf.TrimToRounds("conv-1", 2)
	assertContents(t, buf.Messages("conv-1"), "sys", "q2", "a2", "q3", "a3")

	// Already within bound: no change.
	buf.TrimToRounds("conv-1", 5)
	assertContents(t, buf.Messages("conv-1"), "sys", "q2", "a2", "q3", "a3")

	buf.TrimToRounds("conv-1", 1)
	assertContents(t, buf.Messages("conv-1"), "sys", "q3", "a3")

	// Zero rounds keeps only system messages.
	buf.TrimToRounds("conv-1", 0)
	assertContents(t, buf.Messages("conv-1"), "sys")

	// Trimming an unknown conversation is a no-op.
	buf.TrimToRounds("ghost", 1)
}

func TestConversationBufferTrimKeepsInterleavedSystem(t *testing.T) {
	buf := NewConversationBuffer(10)
	buf.Append("conv-1", bufMsg(models.ParticipantHuman, "q1"))
	buf.Append("conv-1", bufMsg(models.ParticipantSystem, "sys-mid"))
	buf.Append("conv-1", bufMsg(models.ParticipantAI, "a1"))
	buf.Append("conv-1", bufMsg(models.ParticipantHuman, "q2"))
	buf.Append("conv-1", bufMsg(models.ParticipantAI, "a2"))

	buf.TrimToRounds("conv-1", 1)
	assertContents(t, buf.Messages("conv-1"), "sys-mid", "q2", "a2")
}

func TestConversationBufferLRUEviction(t *testing.T) {
	buf := NewConversationBuffer(2)

	buf.Append("conv-a", bufMsg(models.ParticipantHuman, "a"))
	buf.Append("conv-b", bufMsg(models.ParticipantHuman, "b"))

	// Touch conv-a so conv-b becomes the eviction candidate.
	buf.Append("conv-a", bufMsg(models.ParticipantAI, "a2"))

	buf.Append("conv-c", bufMsg(models.ParticipantHuman, "c"))

	if got := buf.Messages("conv-b"); got != nil {
		t.Fatalf("conv-b survived eviction: %v", contents(got))
	}
	assertContents(t, buf.Messages("conv-a"), "a", "a2")
	assertContents(t, buf.Messages("conv-c"), "c")
	if buf.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", buf.Len())
	}
}

func TestConversationBufferClear(t *testing.T) {
	buf := NewConversationBuffer(10)
	buf.Append("conv-1", bufMsg(models.ParticipantHuman, "hello"))
	buf.Clear("conv-1")

	if got := buf.Messages("conv-1"); got != nil {
		t.Fatalf("Messages after Clear = %v, want nil", contents(got))
	}
	if buf.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", buf.Len())
	}

	// Clearing again is a no-op.
	buf.Clear("conv-1")
}

func TestConversationBufferConcurrentAppend(t *testing.T) {
	buf := NewConversationBuffer(100)
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			id := fmt.Sprintf("conv-%d", g%4)
			for i := 0; i < 50; i++ {
				buf.Append(id, bufMsg(models.ParticipantHuman, "m"))
				buf.Recent(id, 5)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	total := 0
	for g := 0; g < 4; g++ {
		total += len(buf.Messages(fmt.Sprintf("conv-%d", g)))
	}
	if total != 400 {
		t.Fatalf("total buffered messages = %d, want 400", total)
	}
}
