package events

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultSuppressorCapacity bounds the delivered-key set held per consumer
// session. Oldest keys age out first.
const DefaultSuppressorCapacity = 512

// NotificationKey derives the duplicate-suppression key for an event.
// Semantically equal notifications map to equal keys; events without a
// meaningful identity (raw output, progress narration) key on eventId and
// are therefore never suppressed.
func NotificationKey(ev Event) string {
	join := func(parts ...string) string {
		return strings.Join(parts, "|")
	}
	ctx := ev.Context
	switch ev.Type {
	case TypePhaseUpdate:
		return join(string(ev.Type), ctx.PhaseID, string(ev.PhaseUpdate.Status), ev.PhaseUpdate.Message)
	case TypeTaskFinish:
		return join(string(ev.Type), ctx.TaskID, string(ev.TaskFinish.Status), ev.TaskFinish.Message)
	case TypeTesterActivity:
		p := ev.TesterActivity
		return join(string(ev.Type), ctx.PhaseID, ctx.TaskID, p.Stage,
			fmt.Sprintf("%d", p.AttemptNumber), string(p.Category), p.Summary)
	case TypeRecoveryActivity:
		p := ev.RecoveryActivity
		return join(string(ev.Type), ctx.PhaseID, ctx.TaskID, p.Stage,
			fmt.Sprintf("%d", p.AttemptNumber), string(p.Category), p.Summary)
	case TypePRActivity:
		p := ev.PRActivity
		return join(string(ev.Type), ctx.PhaseID, p.Stage, p.PrURL, p.Summary)
	case TypeCIActivity:
		p := ev.CIActivity
		return join(string(ev.Type), ctx.PhaseID, p.Stage, p.Overall, p.Summary,
			fmt.Sprintf("%d", p.CreatedFixTaskCount))
	case TypeTerminalOutcome:
		p := ev.TerminalOutcome
		return join(string(ev.Type), ctx.AgentID, p.Outcome, p.Summary)
	default:
		return join(string(ev.Type), ev.EventID)
	}
}

// DuplicateSuppressor tracks delivered notification keys in a bounded FIFO
// set. Safe for concurrent use.
type DuplicateSuppressor struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string
}

// NewDuplicateSuppressor creates a suppressor with the given capacity;
// zero or negative means DefaultSuppressorCapacity.
func NewDuplicateSuppressor(capacity int) *DuplicateSuppressor {
	if capacity <= 0 {
		capacity = DefaultSuppressorCapacity
	}
	return &DuplicateSuppressor{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// ShouldDeliver reports whether the event's key is new, recording it when
// it is. The first call for a key returns true, repeats return false.
func (d *DuplicateSuppressor) ShouldDeliver(ev Event) bool {
	key := NotificationKey(ev)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.seen[key]; dup {
		return false
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	if len(d.order) > d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	return true
}
