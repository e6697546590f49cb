package runner

import "github.com/ixado/ixado/internal/state"

// selectNextTask picks the first startable task in sequence order:
// status TODO or CI_FIX with every dependency DONE.
func selectNextTask(phase *state.Phase) (*state.Task, bool) {
	for i := range phase.Tasks {
		task := &phase.Tasks[i]
		if !task.Status.IsStartable() {
			continue
		}
		if dependenciesDone(phase, task) {
			return task, true
		}
	}
	return nil, false
}

func dependenciesDone(phase *state.Phase, task *state.Task) bool {
	for _, dep := range task.Dependencies {
		depTask, ok := phase.FindTaskInPhase(dep)
		if !ok || depTask.Status != state.TaskDone {
			return false
		}
	}
	return true
}

// allTasksDone reports whether every task in the phase is DONE. An
// empty phase does not count as done.
func allTasksDone(phase *state.Phase) bool {
	if len(phase.Tasks) == 0 {
		return false
	}
	for i := range phase.Tasks {
		if phase.Tasks[i].Status != state.TaskDone {
			return false
		}
	}
	return true
}
