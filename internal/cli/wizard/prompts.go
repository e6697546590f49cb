// Package wizard provides interactive prompts for CLI commands.
package wizard

import (
	"fmt"

	"github.com/charmbracelet/huh"
)

// ProjectSetup is what init writes after confirmation.
type ProjectSetup struct {
	Name            string
	RootDir         string
	DefaultAssignee string
}

// adapterChoices are the assignees the wizard offers. UNASSIGNED means
// tasks must name their own adapter.
var adapterChoices = []string{"CODEX_CLI", "CLAUDE_CLI", "GEMINI_CLI", "MOCK_CLI", ""}

// ConfirmProjectSetup presents the resolved setup for confirmation and
// lets the user adjust it before anything is written.
func ConfirmProjectSetup(setup ProjectSetup) (ProjectSetup, error) {
	var confirmed bool

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Project Setup").
				Description(fmt.Sprintf("Name: %s\nRoot: %s", setup.Name, setup.RootDir)),
			huh.NewConfirm().
				Title("Is this correct?").
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		return ProjectSetup{}, fmt.Errorf("prompt cancelled: %w", err)
	}
	if confirmed {
		return pickAssignee(setup)
	}
	return editSetup(setup)
}

func editSetup(setup ProjectSetup) (ProjectSetup, error) {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Project Name").
				Value(&setup.Name),
			huh.NewInput().
				Title("Root Directory").
				Value(&setup.RootDir),
		),
	)
	if err := form.Run(); err != nil {
		return ProjectSetup{}, fmt.Errorf("prompt cancelled: %w", err)
	}
	return pickAssignee(setup)
}

func pickAssignee(setup ProjectSetup) (ProjectSetup, error) {
	options := make([]huh.Option[string], 0, len(adapterChoices))
	for _, id := range adapterChoices {
		label := id
		if id == "" {
			label = "none (tasks pick their own)"
		}
		options = append(options, huh.NewOption(label, id))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Default adapter for unassigned tasks").
				Options(options...).
				Value(&setup.DefaultAssignee),
		),
	)
	if err := form.Run(); err != nil {
		return ProjectSetup{}, fmt.Errorf("prompt cancelled: %w", err)
	}
	return setup, nil
}
