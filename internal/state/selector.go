package state

import "fmt"

// ActivePhaseErrorCode identifies why the active phase could not be resolved.
type ActivePhaseErrorCode string

const (
	NoPhases              ActivePhaseErrorCode = "NO_PHASES"
	ActivePhaseIDMissing  ActivePhaseErrorCode = "ACTIVE_PHASE_ID_MISSING"
	ActivePhaseIDNotFound ActivePhaseErrorCode = "ACTIVE_PHASE_ID_NOT_FOUND"
)

// ActivePhaseError is returned by ResolveActivePhaseStrict. It carries a
// machine-readable code plus a human hint.
type ActivePhaseError struct {
	Code ActivePhaseErrorCode
	Hint string
}

func (e *ActivePhaseError) Error() string {
	return fmt.Sprintf("active phase resolution failed (%s): %s", e.Code, e.Hint)
}

// ResolveActivePhaseStrict returns the phase referenced by activePhaseId.
// There is no fallback: a state without a resolvable active phase is an
// error, never phases[0].
func ResolveActivePhaseStrict(s *ProjectState) (*Phase, error) {
	if len(s.Phases) == 0 {
		return nil, &ActivePhaseError{
			Code: NoPhases,
			Hint: "create a phase first",
		}
	}
	if s.ActivePhaseID == "" {
		return nil, &ActivePhaseError{
			Code: ActivePhaseIDMissing,
			Hint: "set the active phase explicitly",
		}
	}
	phase, ok := s.FindPhase(s.ActivePhaseID)
	if !ok {
		return nil, &ActivePhaseError{
			Code: ActivePhaseIDNotFound,
			Hint: fmt.Sprintf("activePhaseId %q matches no phase", s.ActivePhaseID),
		}
	}
	return phase, nil
}
