package correlation

import (
	"time"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// GroupByWindow sorts events by timestamp and splits them wherever the gap
// between consecutive events exceeds window. Groups with fewer than minEvents
// events are dropped, so every returned group is a valid Correlate input.
func GroupByWindow(events []models.LogEvent, window time.Duration, minEvents int) [][]models.LogEvent {
	if len(events) == 0 {
		return nil
	}
	if minEvents < 1 {
		minEvents = 1
	}

	sorted := sortByTimestamp(events)
	var (
		groups  [][]models.LogEvent
		current = []models.LogEvent{sorted[0]}
	)
	flush := func() {
		if len(current) >= minEvents {
			groups = append(groups, current)
		}
	}
	for _, ev := range sorted[1:] {
		last := current[len(current)-1]
		if ev.Timestamp.Sub(last.Timestamp) > window {
			flush()
			current = []models.LogEvent{ev}
			continue
		}
		current = append(current, ev)
	}
	flush()
	return groups
}
