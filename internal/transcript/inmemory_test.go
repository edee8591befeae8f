package transcript

import (
	"context"
	"fmt"
	"testing"
)

func TestInMemoryStoreSaveAndList(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		err := s.SaveLine(ctx, Line{
			SessionID: "s1",
			TurnID:    "t1",
			Role:      role,
			Content:   fmt.Sprintf("line %d", i),
		})
		if err != nil {
			t.Fatalf("SaveLine() error = %v", err)
		}
	}

	lines, err := s.SessionLines(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("SessionLines() error = %v", err)
	}
	if len(lines) != 5 {
		t.Fatalf("len(lines) = %d, want 5", len(lines))
	}
	for _, line := range lines {
		if line.ID == "" || line.CreatedAt.IsZero() {
			t.Fatalf("line not normalized: %+v", line)
		}
	}

	tail, err := s.SessionLines(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("SessionLines(limit) error = %v", err)
	}
	if len(tail) != 2 || tail[1].Content != "line 4" {
		t.Fatalf("tail = %v", tail)
	}
}

func TestInMemoryStoreUnknownSession(t *testing.T) {
	s := NewInMemoryStore()
	lines, err := s.SessionLines(context.Background(), "nope", 10)
	if err != nil || lines != nil {
		t.Fatalf("got %v, %v; want nil, nil", lines, err)
	}
}

func TestNewStoreDefaultsToInMemory(t *testing.T) {
	store, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := store.(*InMemoryStore); !ok {
		t.Fatalf("store type = %T, want *InMemoryStore", store)
	}
}
