// Package gitops issues the whitelisted git and gh commands the
// orchestration kernel needs: branch management, staging and committing,
// pushing, PR creation, and CI status polling. Nothing outside the
// whitelist is ever executed.
package gitops

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Exec runs one external command and returns its combined output.
// Injectable so tests never need git or gh installed.
type Exec func(ctx context.Context, dir, name string, args ...string) (string, error)

// SystemExec is the production executor.
func SystemExec(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w (output: %s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Git wraps the whitelisted git surface for one working directory.
type Git struct {
	dir    string
	exec   Exec
	logger *zap.Logger
}

// NewGit creates a Git bound to the given working directory. A nil exec
// uses the system executor.
func NewGit(dir string, execFn Exec, logger *zap.Logger) *Git {
	if execFn == nil {
		execFn = SystemExec
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Git{dir: dir, exec: execFn, logger: logger}
}

// StageAll stages every change in the worktree.
func (g *Git) StageAll(ctx context.Context) error {
	_, err := g.exec(ctx, g.dir, "git", "add", "--all")
	return err
}

// StagedFiles lists the paths currently staged for commit.
func (g *Git) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := g.exec(ctx, g.dir, "git", "diff", "--cached", "--name-only")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Commit commits staged changes with the given message.
func (g *Git) Commit(ctx context.Context, message string) error {
	_, err := g.exec(ctx, g.dir, "git", "commit", "-m", message)
	return err
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.exec(ctx, g.dir, "git", "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Checkout switches to an existing branch.
func (g *Git) Checkout(ctx context.Context, branch string) error {
	_, err := g.exec(ctx, g.dir, "git", "checkout", branch)
	return err
}

// CheckoutNew creates and switches to a new branch.
func (g *Git) CheckoutNew(ctx context.Context, branch string) error {
	_, err := g.exec(ctx, g.dir, "git", "checkout", "-b", branch)
	return err
}

// BranchExists reports whether the branch exists locally.
func (g *Git) BranchExists(ctx context.Context, branch string) bool {
	// ls-remote against "." resolves local refs without touching the net.
	out, err := g.exec(ctx, g.dir, "git", "ls-remote", ".", "refs/heads/"+branch)
	return err == nil && strings.TrimSpace(out) != ""
}

// Push pushes the branch and sets its upstream.
func (g *Git) Push(ctx context.Context, branch string) error {
	_, err := g.exec(ctx, g.dir, "git", "push", "-u", "origin", branch)
	return err
}

// RemoteURL returns the origin remote URL.
func (g *Git) RemoteURL(ctx context.Context) (string, error) {
	out, err := g.exec(ctx, g.dir, "git", "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// LsRemote probes reachability of a remote URL.
func (g *Git) LsRemote(ctx context.Context, url string) error {
	_, err := g.exec(ctx, g.dir, "git", "ls-remote", url)
	return err
}

// UserName returns the configured git user.name.
func (g *Git) UserName(ctx context.Context) (string, error) {
	out, err := g.exec(ctx, g.dir, "git", "config", "user.name")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// UserEmail returns the configured git user.email.
func (g *Git) UserEmail(ctx context.Context) (string, error) {
	out, err := g.exec(ctx, g.dir, "git", "config", "user.email")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Diff returns the diff of the worktree against HEAD, for reviewer
// prompts.
func (g *Git) Diff(ctx context.Context) (string, error) {
	out, err := g.exec(ctx, g.dir, "git", "diff", "HEAD")
	if err != nil {
		return "", err
	}
	return out, nil
}
