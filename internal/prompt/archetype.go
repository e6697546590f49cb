// Package prompt composes the system prompt handed to a spawned coding
// CLI. Each task runs under a worker archetype whose prefix comes from a
// YAML template pack; the default pack is embedded, a project can
// override it with its own file.
package prompt

import "fmt"

// Archetype selects the system prompt prefix for a task.
type Archetype string

const (
	ArchetypeCoder    Archetype = "CODER"
	ArchetypeTester   Archetype = "TESTER"
	ArchetypeReviewer Archetype = "REVIEWER"
	ArchetypeFixer    Archetype = "FIXER"
)

// Archetypes lists every known archetype in composition order.
func Archetypes() []Archetype {
	return []Archetype{ArchetypeCoder, ArchetypeTester, ArchetypeReviewer, ArchetypeFixer}
}

// ParseArchetype validates a raw archetype string.
func ParseArchetype(raw string) (Archetype, error) {
	switch Archetype(raw) {
	case ArchetypeCoder, ArchetypeTester, ArchetypeReviewer, ArchetypeFixer:
		return Archetype(raw), nil
	}
	return "", fmt.Errorf("unknown archetype %q (want CODER, TESTER, REVIEWER or FIXER)", raw)
}
