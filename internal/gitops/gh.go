package gitops

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var prURLPattern = regexp.MustCompile(`https://github\.com/[^/\s]+/[^/\s]+/pull/(\d+)`)

// PullRequest is the result of a successful gh pr create.
type PullRequest struct {
	URL    string
	Number int
}

// GH wraps the whitelisted gh surface: --version, auth status,
// pr create, pr view, run list.
type GH struct {
	dir    string
	exec   Exec
	logger *zap.Logger
}

// NewGH creates a GH bound to the given working directory.
func NewGH(dir string, execFn Exec, logger *zap.Logger) *GH {
	if execFn == nil {
		execFn = SystemExec
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GH{dir: dir, exec: execFn, logger: logger}
}

// Version returns the first line of gh --version.
func (g *GH) Version(ctx context.Context) (string, error) {
	out, err := g.exec(ctx, g.dir, "gh", "--version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(line), nil
}

// AuthUser returns the login reported by gh auth status, or an error
// when the CLI is not authenticated.
func (g *GH) AuthUser(ctx context.Context) (string, error) {
	out, err := g.exec(ctx, g.dir, "gh", "auth", "status")
	if err != nil {
		return "", err
	}
	if user := parseAuthUser(out); user != "" {
		return user, nil
	}
	return "", fmt.Errorf("gh auth status: no logged-in account found")
}

// parseAuthUser extracts the account name from gh auth status output.
// The CLI prints "Logged in to github.com account <user> (...)" on
// recent versions and "Logged in to github.com as <user>" on older ones.
func parseAuthUser(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		for i, f := range fields {
			if (f == "account" || f == "as") && i+1 < len(fields) {
				return strings.TrimRight(fields[i+1], "().,")
			}
		}
	}
	return ""
}

// PRCreate opens a pull request for the given head branch and returns
// the PR URL and number parsed from the command output.
func (g *GH) PRCreate(ctx context.Context, title, body, head string) (PullRequest, error) {
	out, err := g.exec(ctx, g.dir, "gh", "pr", "create",
		"--title", title, "--body", body, "--head", head)
	if err != nil {
		return PullRequest{}, err
	}
	m := prURLPattern.FindStringSubmatch(out)
	if m == nil {
		return PullRequest{}, fmt.Errorf("gh pr create: no PR URL in output: %s", strings.TrimSpace(out))
	}
	number, _ := strconv.Atoi(m[1])
	return PullRequest{URL: m[0], Number: number}, nil
}

// PRView returns the state and URL of the PR for the given branch.
func (g *GH) PRView(ctx context.Context, branch string) (stateStr, url string, err error) {
	out, err := g.exec(ctx, g.dir, "gh", "pr", "view", branch, "--json", "state,url")
	if err != nil {
		return "", "", err
	}
	var view struct {
		State string `json:"state"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		return "", "", fmt.Errorf("gh pr view: decode: %w", err)
	}
	return view.State, view.URL, nil
}

type workflowRun struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// RunList fetches the latest workflow runs for a branch and folds them
// into one CI observation.
func (g *GH) RunList(ctx context.Context, branch string) (Observation, error) {
	out, err := g.exec(ctx, g.dir, "gh", "run", "list",
		"--branch", branch, "--limit", "20", "--json", "name,status,conclusion")
	if err != nil {
		return Observation{}, err
	}
	var runs []workflowRun
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		return Observation{}, fmt.Errorf("gh run list: decode: %w", err)
	}
	return foldRuns(runs), nil
}

// foldRuns reduces workflow runs to an overall reading. Any run still
// in flight keeps the observation PENDING; a single failed conclusion
// makes it FAILURE.
func foldRuns(runs []workflowRun) Observation {
	if len(runs) == 0 {
		return Observation{Overall: CIPending}
	}
	obs := Observation{Overall: CISuccess}
	for _, run := range runs {
		if run.Status != "completed" {
			obs.Overall = CIPending
			continue
		}
		switch run.Conclusion {
		case "success", "skipped", "neutral":
		default:
			if obs.Overall != CIPending {
				obs.Overall = CIFailure
			}
			obs.Failures = append(obs.Failures, FixItem{
				Name:    run.Name,
				Summary: fmt.Sprintf("workflow %q concluded %s", run.Name, run.Conclusion),
			})
		}
	}
	return obs
}
