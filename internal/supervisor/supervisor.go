package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/adapter"
	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/state"
)

var (
	// ErrRawCommandBlocked rejects spawn requests that did not come through
	// an approved adapter. The supervisor runs adapters, not arbitrary
	// commands.
	ErrRawCommandBlocked = errors.New("raw command spawns are blocked; only approved adapter spawns are allowed")

	// ErrAgentNotFound reports an unknown agent id.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrForeignAgent reports an operation that needs the spawning process
	// (output subscription, restart with captured spec) on a row another
	// controller owns.
	ErrForeignAgent = errors.New("agent belongs to another controller")
)

const (
	// watchdogInterval is how often timeouts and idleness are checked.
	watchdogInterval = 250 * time.Millisecond

	// killGrace is how long SIGTERM gets before SIGKILL.
	killGrace = 2 * time.Second
)

// Spec describes one approved adapter spawn.
type Spec struct {
	Name      string
	AdapterID state.AdapterID
	Command   string
	Args      []string
	Env       map[string]string
	Stdin     string
	Cwd       string

	ProjectName string
	PhaseID     string
	TaskID      string

	// ApprovedAdapterSpawn must be set by the adapter pipeline; requests
	// without it fail with ErrRawCommandBlocked.
	ApprovedAdapterSpawn bool

	// Timeout bounds the whole run; zero means no limit.
	Timeout time.Duration

	// StartupSilenceTimeout kills a child that emits nothing at all within
	// the window; zero disables the check.
	StartupSilenceTimeout time.Duration

	// OnFailure, when set, is invoked with the final record after a
	// non-zero exit.
	OnFailure func(*AgentRecord)
}

// Result is what RunToCompletion hands back.
type Result struct {
	ID         string
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMs int64
}

// Options tunes supervision.
type Options struct {
	// HeartbeatInterval is the period of heartbeat diagnostics. Zero means
	// one minute.
	HeartbeatInterval time.Duration

	// IdleThreshold is how long without output counts as idle. Zero means
	// two minutes.
	IdleThreshold time.Duration
}

// Supervisor spawns adapter subprocesses, records them in the shared
// registry, captures their output, and publishes runtime events.
type Supervisor struct {
	registry *Registry
	bus      *events.Bus
	logger   *zap.Logger
	opts     Options

	mu      sync.Mutex
	running map[string]*process
}

type process struct {
	spec   Spec
	cmd    *exec.Cmd
	done   chan struct{}
	result Result

	mu         sync.Mutex
	stdout     strings.Builder
	stderr     strings.Builder
	tail       []string
	lastOutput time.Time
	sawOutput  bool
	killReason string
	startedAt  time.Time
}

// New creates a supervisor.
func New(registry *Registry, bus *events.Bus, logger *zap.Logger, opts Options) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = time.Minute
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = 2 * time.Minute
	}
	return &Supervisor{
		registry: registry,
		bus:      bus,
		logger:   logger,
		opts:     opts,
		running:  map[string]*process{},
	}
}

// Registry exposes the backing registry, for reconciliation and the web
// agent list.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// Start spawns an approved adapter, records it RUNNING, and wires
// line-buffered readers on both pipes into the tail buffer and event bus.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (*AgentRecord, error) {
	if !spec.ApprovedAdapterSpawn {
		return nil, ErrRawCommandBlocked
	}
	if spec.Command == "" {
		return nil, fmt.Errorf("adapter spawn requires a command")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = strings.NewReader(spec.Stdin)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command, err)
	}

	now := time.Now().UTC()
	rec := &AgentRecord{
		ID:          uuid.NewString(),
		Name:        spec.Name,
		Command:     spec.Command,
		Args:        append([]string(nil), spec.Args...),
		Cwd:         spec.Cwd,
		AdapterID:   spec.AdapterID,
		ProjectName: spec.ProjectName,
		PhaseID:     spec.PhaseID,
		TaskID:      spec.TaskID,
		Status:      AgentRunning,
		PID:         cmd.Process.Pid,
		StartedAt:   now,
	}
	if rec.Name == "" {
		rec.Name = string(spec.AdapterID)
	}
	if err := s.registry.Upsert(rec); err != nil {
		_ = killGroup(cmd, syscall.SIGKILL)
		return nil, err
	}

	p := &process{
		spec:       spec,
		cmd:        cmd,
		done:       make(chan struct{}),
		lastOutput: now,
		startedAt:  now,
	}
	s.mu.Lock()
	s.running[rec.ID] = p
	s.mu.Unlock()

	s.logger.Info("agent started",
		zap.String("agentId", rec.ID),
		zap.String("adapter", string(spec.AdapterID)),
		zap.Int("pid", rec.PID))

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readLines(rec.ID, p, "stdout", stdout, &readers)
	go s.readLines(rec.ID, p, "stderr", stderr, &readers)
	go s.monitor(rec.ID, p)
	go s.await(rec.ID, p, &readers)

	return rec.Clone(), nil
}

// RunToCompletion starts the adapter and blocks until it exits, returning
// the captured output and exit code.
func (s *Supervisor) RunToCompletion(ctx context.Context, spec Spec) (Result, error) {
	rec, err := s.Start(ctx, spec)
	if err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	p := s.running[rec.ID]
	s.mu.Unlock()
	if p == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrAgentNotFound, rec.ID)
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		_ = s.killProcess(rec.ID, p, "cancelled")
		<-p.done
		return p.result, ctx.Err()
	}
	return p.result, nil
}

// Await blocks until an agent started by this supervisor exits, killing
// it if the context is cancelled first.
func (s *Supervisor) Await(ctx context.Context, id string) (Result, error) {
	s.mu.Lock()
	p := s.running[id]
	s.mu.Unlock()
	if p == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		_ = s.killProcess(id, p, "cancelled")
		<-p.done
		return p.result, ctx.Err()
	}
	return p.result, nil
}

// List returns every registry row, including foreign ones.
func (s *Supervisor) List() []*AgentRecord {
	return s.registry.List()
}

// Subscribe delivers this agent's runtime events until it terminates.
// Subscribing to a foreign row fails: only the spawning process sees the
// output stream.
func (s *Supervisor) Subscribe(id string) (<-chan events.Event, func(), error) {
	s.mu.Lock()
	_, owned := s.running[id]
	s.mu.Unlock()
	if !owned {
		if _, found := s.registry.Get(id); !found {
			return nil, nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrForeignAgent, id)
	}
	ch, cancel := s.bus.Subscribe(id)
	return ch, cancel, nil
}

// Kill terminates the agent and marks it STOPPED.
func (s *Supervisor) Kill(id string) (*AgentRecord, error) {
	s.mu.Lock()
	p := s.running[id]
	s.mu.Unlock()

	if p != nil {
		if err := s.killProcess(id, p, "killed"); err != nil {
			return nil, err
		}
		<-p.done
		rec, ok := s.registry.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}
		return rec, nil
	}

	// Foreign or stale row: best-effort kill by PID, then mark STOPPED.
	rec, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if rec.PID > 0 && PIDAlive(rec.PID) {
		_ = syscall.Kill(-rec.PID, syscall.SIGTERM)
	}
	return s.registry.Mutate(id, func(r *AgentRecord) {
		if r.Status == AgentRunning {
			r.Status = AgentStopped
		}
	})
}

// Restart kills the agent and re-spawns it with its original spec.
func (s *Supervisor) Restart(ctx context.Context, id string) (*AgentRecord, error) {
	s.mu.Lock()
	p := s.running[id]
	s.mu.Unlock()

	var spec Spec
	if p != nil {
		spec = p.spec
	} else {
		// Rebuild from the registry row; it was approved when first spawned.
		rec, ok := s.registry.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		}
		spec = Spec{
			Name:                 rec.Name,
			AdapterID:            rec.AdapterID,
			Command:              rec.Command,
			Args:                 rec.Args,
			Cwd:                  rec.Cwd,
			ProjectName:          rec.ProjectName,
			PhaseID:              rec.PhaseID,
			TaskID:               rec.TaskID,
			ApprovedAdapterSpawn: true,
		}
	}

	if _, err := s.Kill(id); err != nil && !errors.Is(err, ErrAgentNotFound) {
		return nil, err
	}
	if err := s.registry.Remove(id); err != nil {
		return nil, err
	}
	return s.Start(ctx, spec)
}

// Assign updates the registry row's phase/task attachment only.
func (s *Supervisor) Assign(id, phaseID, taskID string) (*AgentRecord, error) {
	return s.registry.Mutate(id, func(r *AgentRecord) {
		r.PhaseID = phaseID
		r.TaskID = taskID
	})
}

// ReconcileRunningAgentsWhere marks every RUNNING row matching the
// predicate as STOPPED and returns how many were reconciled.
func (s *Supervisor) ReconcileRunningAgentsWhere(pred func(*AgentRecord) bool) (int, error) {
	count := 0
	for _, rec := range s.registry.List() {
		if rec.Status != AgentRunning || !pred(rec) {
			continue
		}
		if _, err := s.registry.Mutate(rec.ID, func(r *AgentRecord) {
			r.Status = AgentStopped
		}); err != nil {
			return count, err
		}
		count++
		s.logger.Info("reconciled stale agent",
			zap.String("agentId", rec.ID), zap.Int("pid", rec.PID))
	}
	return count, nil
}

func (s *Supervisor) readLines(id string, p *process, stream string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		p.mu.Lock()
		p.lastOutput = time.Now().UTC()
		p.sawOutput = true
		if stream == "stdout" {
			p.stdout.WriteString(line)
			p.stdout.WriteString("\n")
		} else {
			p.stderr.WriteString(line)
			p.stderr.WriteString("\n")
		}
		p.tail = appendTail(p.tail, line, s.registry.TailLimit())
		p.mu.Unlock()

		_, isDiag := events.ParseDiagnostic(line)
		s.publish(events.NewAdapterOutput(events.SourceAgentSupervisor,
			s.eventContext(id, p),
			events.AdapterOutputPayload{Stream: stream, Line: line, IsDiagnostic: isDiag}))
	}
}

// monitor emits heartbeat and idle diagnostics and enforces the timeout
// and startup-silence limits.
func (s *Supervisor) monitor(id string, p *process) {
	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	watchdog := time.NewTicker(watchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-heartbeat.C:
			elapsed, idle := p.timings()
			line := events.HeartbeatLine(elapsed, idle)
			if idle > s.opts.IdleThreshold {
				line = events.IdleLine(elapsed, idle, s.opts.IdleThreshold)
			}
			s.appendSystemLine(id, p, line)
		case <-watchdog.C:
			elapsed, idle := p.timings()
			if p.spec.Timeout > 0 && elapsed > p.spec.Timeout {
				reason := fmt.Sprintf("timed out after %s", p.spec.Timeout)
				s.appendSystemLine(id, p, reason)
				_ = s.killProcess(id, p, reason)
				return
			}
			p.mu.Lock()
			silent := !p.sawOutput
			p.mu.Unlock()
			if p.spec.StartupSilenceTimeout > 0 && silent && idle > p.spec.StartupSilenceTimeout {
				reason := fmt.Sprintf("no output within %s of startup", p.spec.StartupSilenceTimeout)
				s.appendSystemLine(id, p, reason)
				_ = s.killProcess(id, p, reason)
				return
			}
		}
	}
}

// await waits for the child to exit, classifies the outcome, persists the
// final record, and closes the agent's event streams.
func (s *Supervisor) await(id string, p *process, readers *sync.WaitGroup) {
	readers.Wait()
	waitErr := p.cmd.Wait()

	exitCode := 0
	if p.cmd.ProcessState != nil {
		exitCode = p.cmd.ProcessState.ExitCode()
	}
	if waitErr != nil && exitCode == 0 {
		exitCode = -1
	}

	p.mu.Lock()
	killReason := p.killReason
	stdout := p.stdout.String()
	stderr := p.stderr.String()
	tail := append([]string(nil), p.tail...)
	started := p.startedAt
	p.mu.Unlock()

	// An explicit kill or cancellation is a stop, not a failure, even
	// though the signal makes the exit code non-zero.
	status := AgentStopped
	if exitCode != 0 && killReason != "killed" && killReason != "cancelled" {
		status = AgentFailed
	}

	rec, err := s.registry.Mutate(id, func(r *AgentRecord) {
		r.Status = status
		code := exitCode
		r.LastExitCode = &code
		r.OutputTail = tail
	})
	if err != nil {
		s.logger.Warn("failed to persist terminal agent record",
			zap.String("agentId", id), zap.Error(err))
	}

	p.result = Result{
		ID:         id,
		Stdout:     stdout,
		Stderr:     stderr,
		ExitCode:   exitCode,
		DurationMs: time.Since(started).Milliseconds(),
	}

	outcome := events.OutcomeSuccess
	summary := adapter.LastMeaningfulLine(stdout)
	switch {
	case killReason == "killed" || killReason == "cancelled":
		outcome = events.OutcomeCancelled
		summary = killReason
	case exitCode != 0:
		outcome = events.OutcomeFailure
		if killReason != "" {
			summary = killReason
		} else if line := adapter.LastMeaningfulLine(stderr); line != "" {
			summary = line
		}
	}
	if summary == "" {
		summary = fmt.Sprintf("exit code %d", exitCode)
	}

	code := exitCode
	s.publish(events.NewTerminalOutcome(events.SourceAgentSupervisor,
		s.eventContext(id, p),
		events.TerminalOutcomePayload{
			Outcome:     outcome,
			Summary:     summary,
			AgentStatus: string(status),
			ExitCode:    &code,
		}))

	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
	close(p.done)

	if s.bus != nil {
		s.bus.CloseAgentStreams(id)
	}

	if status == AgentFailed && p.spec.OnFailure != nil && rec != nil {
		p.spec.OnFailure(rec)
	}

	s.logger.Info("agent exited",
		zap.String("agentId", id),
		zap.Int("exitCode", exitCode),
		zap.String("status", string(status)))
}

// killProcess signals the child's process group: SIGTERM, a grace window,
// then SIGKILL. The reason is recorded for outcome classification.
func (s *Supervisor) killProcess(id string, p *process, reason string) error {
	p.mu.Lock()
	if p.killReason == "" {
		p.killReason = reason
	}
	p.mu.Unlock()

	if err := killGroup(p.cmd, syscall.SIGTERM); err != nil {
		return err
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(killGrace):
	}
	return killGroup(p.cmd, syscall.SIGKILL)
}

func (s *Supervisor) appendSystemLine(id string, p *process, line string) {
	p.mu.Lock()
	p.tail = appendTail(p.tail, line, s.registry.TailLimit())
	tail := append([]string(nil), p.tail...)
	p.mu.Unlock()

	// Persist the tail alongside the diagnostic so foreign readers see a
	// fresh snapshot at least once per heartbeat.
	if _, err := s.registry.Mutate(id, func(r *AgentRecord) {
		r.OutputTail = tail
	}); err != nil && !errors.Is(err, ErrAgentNotFound) {
		s.logger.Warn("failed to persist output tail", zap.String("agentId", id), zap.Error(err))
	}

	_, isDiag := events.ParseDiagnostic(line)
	s.publish(events.NewAdapterOutput(events.SourceAgentSupervisor,
		s.eventContext(id, p),
		events.AdapterOutputPayload{Stream: "system", Line: line, IsDiagnostic: isDiag}))
}

func (s *Supervisor) eventContext(id string, p *process) events.Context {
	return events.Context{
		ProjectName: p.spec.ProjectName,
		PhaseID:     p.spec.PhaseID,
		TaskID:      p.spec.TaskID,
		AgentID:     id,
		AdapterID:   p.spec.AdapterID,
	}
}

func (s *Supervisor) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func (p *process) timings() (elapsed, idle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UTC()
	return now.Sub(p.startedAt), now.Sub(p.lastOutput)
}

func killGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	if err := syscall.Kill(-pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
