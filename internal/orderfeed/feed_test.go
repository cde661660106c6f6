package orderfeed

import (
	"context"
	"testing"
)

func TestMemoryKeepsNewestEvents(t *testing.T) {
	m := NewMemory(2)
	for _, typ := range []EventType{EventItemAdded, EventItemRemoved, EventOrderFinished} {
		if err := m.Publish(context.Background(), Event{Type: typ}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	got := m.Events()
	if len(got) != 2 || got[0].Type != EventItemRemoved || got[1].Type != EventOrderFinished {
		t.Fatalf("Events() = %+v", got)
	}
}
