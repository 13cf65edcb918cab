package session

import "testing"

func TestAppendTriggersReflectionAfterRounds(t *testing.T) {
	m := New(10, 3600)

	var window []Message
	var triggered bool
	now := int64(0)
	turns := []struct{ role, content string }{
		{"user", "hi"}, {"assistant", "hello"},
		{"user", "how are you"}, {"assistant", "good"},
	}
	for _, turn := range turns {
		now++
		window, triggered = m.Append("s1", "p1", turn.role, turn.content, now, 2)
	}
	if !triggered {
		t.Fatalf("expected trigger to fire after 2 rounds")
	}
	if len(window) != 4 {
		t.Fatalf("expected the full 4-message window handed to reflection, got %d", len(window))
	}
}

func TestAppendDoesNotTriggerBeforeThreshold(t *testing.T) {
	m := New(10, 3600)
	_, triggered := m.Append("s1", "p1", "user", "hi", 1, 3)
	if triggered {
		t.Fatalf("single user message must not trigger reflection")
	}
	_, triggered = m.Append("s1", "p1", "assistant", "hello", 2, 3)
	if triggered {
		t.Fatalf("one round of two (threshold 3) must not trigger yet")
	}
}

func TestAppendResetsBufferAfterTrigger(t *testing.T) {
	m := New(10, 3600)
	m.Append("s1", "p1", "user", "a", 1, 1)
	_, triggered := m.Append("s1", "p1", "assistant", "b", 2, 1)
	if !triggered {
		t.Fatalf("expected trigger at threshold 1")
	}
	s, ok := m.Peek("s1", 2)
	if !ok {
		t.Fatalf("expected session to still exist after trigger")
	}
	if len(s.Buffer) != 0 || s.RoundsSinceReflection != 0 {
		t.Fatalf("expected buffer and round counter reset after trigger, got buffer=%v rounds=%d", s.Buffer, s.RoundsSinceReflection)
	}
}

func TestLRUEvictsLeastRecentlyUsedOverCapacity(t *testing.T) {
	m := New(2, 3600)
	m.Get("a", "p", 1)
	m.Get("b", "p", 2)
	m.Get("a", "p", 3) // touch a again, making b the LRU victim
	m.Get("c", "p", 4) // over capacity, evicts b

	if _, ok := m.Peek("b", 4); ok {
		t.Fatalf("expected session b to be evicted as least-recently-used")
	}
	if _, ok := m.Peek("a", 4); !ok {
		t.Fatalf("expected session a to survive (recently touched)")
	}
	if _, ok := m.Peek("c", 4); !ok {
		t.Fatalf("expected newly created session c to survive")
	}
	if m.Size() != 2 {
		t.Fatalf("expected capacity to be enforced at 2, got %d", m.Size())
	}
}

func TestTTLExpiryEvictsIdleSessions(t *testing.T) {
	m := New(10, 100) // 100s TTL
	m.Get("a", "p", 0)

	if _, ok := m.Peek("a", 50); !ok {
		t.Fatalf("expected session to survive within TTL")
	}
	if _, ok := m.Peek("a", 200); ok {
		t.Fatalf("expected session to expire after TTL lapses")
	}
}

func TestSweepRemovesExpiredSessions(t *testing.T) {
	m := New(10, 100)
	m.Get("a", "p", 0)
	m.Get("b", "p", 0)

	n := m.Sweep(200)
	if n != 2 {
		t.Fatalf("expected Sweep to evict 2 expired sessions, got %d", n)
	}
	if m.Size() != 0 {
		t.Fatalf("expected empty manager after sweep, got size %d", m.Size())
	}
}

func TestAppendOrderIsPreserved(t *testing.T) {
	m := New(10, 3600)
	m.Append("s1", "p1", "user", "first", 1, 100)
	m.Append("s1", "p1", "assistant", "second", 2, 100)
	m.Append("s1", "p1", "user", "third", 3, 100)

	s, ok := m.Peek("s1", 3)
	if !ok {
		t.Fatalf("expected session to exist")
	}
	want := []string{"first", "second", "third"}
	if len(s.Buffer) != len(want) {
		t.Fatalf("expected %d buffered messages, got %d", len(want), len(s.Buffer))
	}
	for i, w := range want {
		if s.Buffer[i].Content != w {
			t.Fatalf("expected buffer[%d]=%q, got %q", i, w, s.Buffer[i].Content)
		}
	}
}
