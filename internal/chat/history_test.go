package chat

import "testing"

func TestHistoryOrderedPairs(t *testing.T) {
	h := NewHistory("be brief")

	const turns = 3
	for i := 0; i < turns; i++ {
		h.AppendUser("question")
		h.AppendAssistant("answer")
	}

	if got := h.Len(); got != 2*turns {
		t.Fatalf("Len() = %d, want %d", got, 2*turns)
	}

	msgs := h.Messages()
	if len(msgs) != 2*turns+1 {
		t.Fatalf("Messages() len = %d, want %d", len(msgs), 2*turns+1)
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != "be brief" {
		t.Fatalf("first message = %+v, want pinned system message", msgs[0])
	}
	for i := 1; i < len(msgs); i++ {
		want := RoleUser
		if i%2 == 0 {
			want = RoleAssistant
		}
		if msgs[i].Role != want {
			t.Fatalf("message %d role = %q, want %q", i, msgs[i].Role, want)
		}
	}
}

func TestHistoryMessagesReturnsCopy(t *testing.T) {
	h := NewHistory("")
	h.AppendUser("hello")

	msgs := h.Messages()
	msgs[0].Content = "mutated"

	if got := h.Messages()[0].Content; got != "hello" {
		t.Fatalf("history content = %q after mutating snapshot, want %q", got, "hello")
	}
}

func TestHistoryRollback(t *testing.T) {
	h := NewHistory("sys")
	h.AppendUser("turn one")
	h.AppendAssistant("reply one")

	cp := h.Checkpoint()
	h.AppendUser("partial turn")
	h.Rollback(cp)

	if got := h.Len(); got != 2 {
		t.Fatalf("Len() after rollback = %d, want 2", got)
	}
	msgs := h.Messages()
	if last := msgs[len(msgs)-1]; last.Role != RoleAssistant || last.Content != "reply one" {
		t.Fatalf("last message after rollback = %+v", last)
	}

	// Rolling back to the current length is a no-op.
	h.Rollback(h.Checkpoint())
	if got := h.Len(); got != 2 {
		t.Fatalf("Len() after no-op rollback = %d, want 2", got)
	}
}

func TestHistoryWindowKeepsNewestPairs(t *testing.T) {
	h := NewHistory("sys")
	for _, pair := range [][2]string{{"u1", "a1"}, {"u2", "a2"}, {"u3", "a3"}, {"u4", "a4"}} {
		h.AppendUser(pair[0])
		h.AppendAssistant(pair[1])
	}

	msgs := h.Window(TrimPolicy{MaxMessages: 4})

	if len(msgs) != 5 {
		t.Fatalf("Window() len = %d, want 5", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Fatal("system message lost from window")
	}
	if msgs[1].Role != RoleUser || msgs[1].Content != "u3" {
		t.Fatalf("window starts at %+v, want user u3", msgs[1])
	}
	if h.Len() != 8 {
		t.Fatalf("Len() after windowing = %d, want 8", h.Len())
	}
}

func TestHistoryWindowCutsAtUserBoundary(t *testing.T) {
	h := NewHistory("")
	h.AppendUser("one")
	h.AppendAssistant("reply one")
	h.AppendUser("two")

	// An odd limit would otherwise lead with an orphaned assistant reply.
	msgs := h.Window(TrimPolicy{MaxMessages: 2})
	if len(msgs) != 1 || msgs[0].Role != RoleUser || msgs[0].Content != "two" {
		t.Fatalf("Window() = %+v, want just user two", msgs)
	}
}

func TestHistoryWindowDisabled(t *testing.T) {
	h := NewHistory("")
	for i := 0; i < 10; i++ {
		h.AppendUser("u")
		h.AppendAssistant("a")
	}
	if got := h.Window(TrimPolicy{}); len(got) != 20 {
		t.Fatalf("Window() len with trimming disabled = %d, want 20", len(got))
	}
}

func TestHistoryReset(t *testing.T) {
	h := NewHistory("old")
	h.AppendUser("u")
	h.Reset("new")

	if got := h.Len(); got != 0 {
		t.Fatalf("Len() after reset = %d, want 0", got)
	}
	msgs := h.Messages()
	if len(msgs) != 1 || msgs[0].Content != "new" {
		t.Fatalf("Messages() after reset = %+v", msgs)
	}
}

func TestHistoryContextLoad(t *testing.T) {
	h := NewHistory("")
	if got := h.ContextLoad(); got != 0 {
		t.Fatalf("ContextLoad() empty = %d, want 0", got)
	}
	h.AppendUser("aaaaaaaa") // 8 runes -> 2 estimated tokens
	if got := h.ContextLoad(); got != 2 {
		t.Fatalf("ContextLoad() = %d, want 2", got)
	}
}
