package gitops

import (
	"context"
	"os"
	"strings"
)

// Probe failure kinds.
const (
	ProbeKindAuth          = "auth"
	ProbeKindNetwork       = "network"
	ProbeKindMissingBinary = "missing-binary"
)

// Fingerprint identifies the environment a phase's side effects run in.
// It is attached to PR-lifecycle diagnostics so a failed push or PR can
// be traced to the host and identity that attempted it.
type Fingerprint struct {
	GHVersion    string `json:"gh_version,omitempty"`
	GHUser       string `json:"gh_user,omitempty"`
	GitUserName  string `json:"git_user_name,omitempty"`
	GitUserEmail string `json:"git_user_email,omitempty"`
	Hostname     string `json:"hostname,omitempty"`
}

// ProbeFailure is one failed precondition with a remediation hint.
type ProbeFailure struct {
	Probe       string `json:"probe"`
	Kind        string `json:"kind"`
	Detail      string `json:"detail"`
	Remediation string `json:"remediation"`
}

// Remediation maps a failure kind to the hint shown to the operator.
func Remediation(kind string) string {
	switch kind {
	case ProbeKindAuth:
		return "run 'gh auth login' and verify 'git config user.name' / 'git config user.email' are set"
	case ProbeKindNetwork:
		return "check network connectivity and that the origin remote is reachable"
	case ProbeKindMissingBinary:
		return "install the GitHub CLI (gh) and ensure it is on PATH"
	default:
		return "inspect the probe detail and retry"
	}
}

// classifyProbeError maps an executor error to a probe kind.
func classifyProbeError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "executable file not found"),
		strings.Contains(msg, "no such file or directory"):
		return ProbeKindMissingBinary
	case strings.Contains(msg, "not logged in"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "Permission denied"),
		strings.Contains(msg, "could not read Username"):
		return ProbeKindAuth
	default:
		return ProbeKindNetwork
	}
}

// RunProbes checks every side-effect precondition before a phase
// pushes or opens a PR: gh present and authenticated, git identity
// configured, origin reachable. It always returns the fingerprint it
// managed to assemble, plus one failure per unmet precondition.
func RunProbes(ctx context.Context, git *Git, gh *GH) (Fingerprint, []ProbeFailure) {
	var fp Fingerprint
	var failures []ProbeFailure

	fail := func(probe, kind string, err error) {
		failures = append(failures, ProbeFailure{
			Probe:       probe,
			Kind:        kind,
			Detail:      err.Error(),
			Remediation: Remediation(kind),
		})
	}

	if host, err := os.Hostname(); err == nil {
		fp.Hostname = host
	}

	if v, err := gh.Version(ctx); err != nil {
		fail("gh --version", classifyProbeError(err), err)
	} else {
		fp.GHVersion = v
	}

	if user, err := gh.AuthUser(ctx); err != nil {
		kind := classifyProbeError(err)
		if kind == ProbeKindNetwork {
			kind = ProbeKindAuth
		}
		fail("gh auth status", kind, err)
	} else {
		fp.GHUser = user
	}

	if name, err := git.UserName(ctx); err != nil || name == "" {
		fail("git config user.name", ProbeKindAuth, errOrMissing(err, "user.name is not set"))
	} else {
		fp.GitUserName = name
	}
	if email, err := git.UserEmail(ctx); err != nil || email == "" {
		fail("git config user.email", ProbeKindAuth, errOrMissing(err, "user.email is not set"))
	} else {
		fp.GitUserEmail = email
	}

	if url, err := git.RemoteURL(ctx); err != nil {
		fail("git remote get-url origin", ProbeKindNetwork, err)
	} else if err := git.LsRemote(ctx, url); err != nil {
		fail("git ls-remote "+url, classifyProbeError(err), err)
	}

	return fp, failures
}

type probeError string

func (e probeError) Error() string { return string(e) }

func errOrMissing(err error, fallback string) error {
	if err != nil {
		return err
	}
	return probeError(fallback)
}
