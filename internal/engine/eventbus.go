package engine

import (
	"github.com/awe-dev/agentcheck/internal/core"
	"github.com/awe-dev/agentcheck/internal/events"
)

// publishTaskEvent mirrors a freshly persisted task event onto the
// in-process bus so live observers see it without polling the repository.
func publishTaskEvent(bus *events.Bus, ev core.TaskEvent) {
	if bus == nil {
		return
	}
	bus.Publish(events.Notification{
		TaskID:  string(ev.TaskID),
		Type:    string(ev.Type),
		Round:   ev.Round,
		Seq:     ev.Seq,
		Payload: ev.Payload,
		At:      ev.CreatedAt,
	})
}
