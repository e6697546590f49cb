package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrReviewerDiffRequired is returned when a REVIEWER prompt is
// composed without diff context; a reviewer with nothing to review is a
// dispatch bug upstream.
var ErrReviewerDiffRequired = errors.New("reviewer archetype requires a non-empty git diff")

// ProjectInstructionsFile is the optional per-project instructions file
// appended to every composed prompt.
const ProjectInstructionsFile = "IXADO.md"

// Input carries everything a composed prompt can draw on.
type Input struct {
	Archetype       Archetype
	ProjectName     string
	PhaseName       string
	TaskTitle       string
	TaskDescription string

	// DependencyResults are the resultContext strings of completed
	// dependency tasks, in dependency order.
	DependencyResults []string

	// Diff is the staged-change context for REVIEWER tasks.
	Diff string

	// ProjectInstructions is the content of the project's IXADO.md,
	// already loaded. Optional.
	ProjectInstructions string
}

// Composer builds system prompts from a template pack.
type Composer struct {
	pack *Pack
}

// NewComposer creates a Composer. A nil pack falls back to the embedded
// defaults.
func NewComposer(pack *Pack) (*Composer, error) {
	if pack == nil {
		var err error
		pack, err = LoadEmbeddedPack()
		if err != nil {
			return nil, err
		}
	}
	return &Composer{pack: pack}, nil
}

// Compose assembles the full prompt for one dispatch.
func (c *Composer) Compose(in Input) (string, error) {
	if _, err := ParseArchetype(string(in.Archetype)); err != nil {
		return "", err
	}
	if in.Archetype == ArchetypeReviewer && strings.TrimSpace(in.Diff) == "" {
		return "", ErrReviewerDiffRequired
	}

	var sections []string
	for _, tpl := range c.pack.TemplatesFor(in.Archetype) {
		sections = append(sections, strings.TrimSpace(tpl.Content))
	}

	var task strings.Builder
	fmt.Fprintf(&task, "## Task\n\n")
	if in.ProjectName != "" {
		fmt.Fprintf(&task, "Project: %s\n", in.ProjectName)
	}
	if in.PhaseName != "" {
		fmt.Fprintf(&task, "Phase: %s\n", in.PhaseName)
	}
	fmt.Fprintf(&task, "Title: %s\n", in.TaskTitle)
	if in.TaskDescription != "" {
		fmt.Fprintf(&task, "\n%s\n", strings.TrimSpace(in.TaskDescription))
	}
	sections = append(sections, strings.TrimSpace(task.String()))

	if len(in.DependencyResults) > 0 {
		var dep strings.Builder
		dep.WriteString("## Context from completed dependencies\n")
		for _, r := range in.DependencyResults {
			if r = strings.TrimSpace(r); r != "" {
				dep.WriteString("\n" + r + "\n")
			}
		}
		sections = append(sections, strings.TrimSpace(dep.String()))
	}

	if strings.TrimSpace(in.Diff) != "" {
		sections = append(sections, "## Diff under review\n\n```diff\n"+strings.TrimSpace(in.Diff)+"\n```")
	}

	if strings.TrimSpace(in.ProjectInstructions) != "" {
		sections = append(sections, "## Project instructions\n\n"+strings.TrimSpace(in.ProjectInstructions))
	}

	return strings.Join(sections, "\n\n"), nil
}

// LoadProjectInstructions reads the project's IXADO.md from rootDir.
// A missing file is not an error.
func LoadProjectInstructions(rootDir string) (string, error) {
	path := filepath.Join(rootDir, ProjectInstructionsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read project instructions %s: %w", path, err)
	}
	return string(data), nil
}
