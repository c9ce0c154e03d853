package model

import "testing"

func TestSortEvents(t *testing.T) {
	events := []Event{
		{ID: "late", Date: "2026-06-01", Time: "20:00"},
		{ID: "tie-first", Date: "2026-05-01", Time: "18:00"},
		{ID: "early", Date: "2026-05-01", Time: "09:30"},
		{ID: "tie-second", Date: "2026-05-01", Time: "18:00"},
		{ID: "earliest", Date: "2025-12-31", Time: "23:59"},
	}
	SortEvents(events)

	want := []string{"earliest", "early", "tie-first", "tie-second", "late"}
	for i, id := range want {
		if events[i].ID != id {
			t.Fatalf("position %d: got %s, want %s (full: %v)", i, events[i].ID, id, events)
		}
	}
}
