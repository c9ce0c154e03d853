package model

import "sort"

// SortEvents orders events by date, then time, ascending. The sort is stable,
// so callers that pass events in creation order keep that order for ties.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date < events[j].Date
		}
		return events[i].Time < events[j].Time
	})
}
