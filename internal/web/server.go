// Package web is the HTTP/SSE control surface: project state and task
// operations over JSON, the agent list, and a live per-agent log stream.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ixado/ixado/internal/adapter"
	"github.com/ixado/ixado/internal/config"
	"github.com/ixado/ixado/internal/control"
	"github.com/ixado/ixado/internal/metrics"
	"github.com/ixado/ixado/internal/state"
	"github.com/ixado/ixado/internal/supervisor"
)

// DefaultAddr is where serve listens when settings carry no address.
const DefaultAddr = "127.0.0.1:4145"

// Server hosts the web control surface for one project.
type Server struct {
	center   *control.Center
	sup      *supervisor.Supervisor
	settings *config.Settings
	watcher  *RegistryWatcher
	metrics  *metrics.Metrics
	logger   *zap.Logger

	projectName string
	rootDir     string
}

// ServerDeps bundles the server's collaborators. Watcher and Metrics
// may be nil.
type ServerDeps struct {
	Center   *control.Center
	Sup      *supervisor.Supervisor
	Settings *config.Settings
	Watcher  *RegistryWatcher
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	ProjectName string
	RootDir     string
}

// NewServer builds a Server.
func NewServer(d ServerDeps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Server{
		center:      d.Center,
		sup:         d.Sup,
		settings:    d.Settings,
		watcher:     d.Watcher,
		metrics:     d.Metrics,
		logger:      d.Logger,
		projectName: d.ProjectName,
		rootDir:     d.RootDir,
	}
}

// Router assembles the route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleGetState)
		r.Post("/phases", s.handleCreatePhase)
		r.Post("/phases/active", s.handleSetActivePhase)
		r.Post("/tasks", s.handleCreateTask)
		r.Patch("/tasks/{id}", s.handleUpdateTask)
		r.Post("/tasks/start", s.handleStartTask)
		r.Post("/tasks/reset", s.handleResetTask)
		r.Get("/agents", s.handleListAgents)
		r.Post("/agents/start", s.handleStartAgent)
		r.Post("/agents/{id}/kill", s.handleKillAgent)
		r.Post("/agents/{id}/assign", s.handleAssignAgent)
		r.Post("/agents/{id}/restart", s.handleRestartAgent)
		r.Get("/agents/{id}/logs/stream", func(w http.ResponseWriter, req *http.Request) {
			s.streamLogs(w, req, chi.URLParam(req, "id"))
		})
	})
	return r
}

// Serve listens until ctx ends, maintaining the runtime discovery file
// for the lifetime of the listener.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.settings.Web.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	runtimePath, err := RuntimeFilePath()
	if err != nil {
		return err
	}
	if err := WriteRuntimeFile(runtimePath, RuntimeInfo{
		PID:       os.Getpid(),
		Addr:      ln.Addr().String(),
		StartedAt: time.Now().UTC(),
	}); err != nil {
		ln.Close()
		return err
	}
	defer func() {
		if err := RemoveRuntimeFile(runtimePath); err != nil {
			s.logger.Warn("remove runtime file", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if s.watcher != nil {
		// Watcher failures degrade the agent list to polling; they do
		// not take the server down.
		g.Go(func() error {
			if err := s.watcher.Run(gctx); err != nil {
				s.logger.Warn("registry watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	srv := &http.Server{Handler: s.Router()}
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	s.logger.Info("web surface listening", zap.String("addr", ln.Addr().String()))
	return g.Wait()
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	st, err := s.center.GetState()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCreatePhase(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name       string `json:"name"`
		BranchName string `json:"branchName"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	phase, err := s.center.CreatePhase(control.CreatePhaseInput{
		Name:       body.Name,
		BranchName: body.BranchName,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, phase)
}

func (s *Server) handleSetActivePhase(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PhaseID string `json:"phaseId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.center.SetActivePhase(body.PhaseID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"activePhaseId": body.PhaseID})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PhaseID      string   `json:"phaseId"`
		Title        string   `json:"title"`
		Description  string   `json:"description"`
		Assignee     string   `json:"assignee"`
		Dependencies []string `json:"dependencies"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	task, err := s.center.CreateTask(control.CreateTaskInput{
		PhaseID:      body.PhaseID,
		Title:        body.Title,
		Description:  body.Description,
		Assignee:     state.AdapterID(body.Assignee),
		Dependencies: body.Dependencies,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	var body struct {
		Title         *string `json:"title"`
		Description   *string `json:"description"`
		Assignee      *string `json:"assignee"`
		Status        *string `json:"status"`
		ResultContext *string `json:"resultContext"`
		ErrorLogs     *string `json:"errorLogs"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	in := control.UpdateTaskInput{
		Title:         body.Title,
		Description:   body.Description,
		ResultContext: body.ResultContext,
		ErrorLogs:     body.ErrorLogs,
	}
	if body.Assignee != nil {
		id := state.AdapterID(*body.Assignee)
		in.Assignee = &id
	}
	if body.Status != nil {
		st := state.TaskStatus(*body.Status)
		in.Status = &st
	}
	task, err := s.center.UpdateTask(taskID, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskID string `json:"taskId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.center.StartTask(r.Context(), body.TaskID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": body.TaskID, "status": "dispatching"})
}

func (s *Server) handleResetTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskID string `json:"taskId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.center.ResetTaskToTodo(body.TaskID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"taskId": body.TaskID, "status": string(state.TaskTodo)})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	var rows []*supervisor.AgentRecord
	if s.watcher != nil {
		rows = s.watcher.Snapshot()
	} else {
		rows = s.sup.List()
	}
	sortAgents(rows)
	writeJSON(w, http.StatusOK, rows)
}

// sortAgents orders by startedAt descending; records without a start
// time go last.
func sortAgents(rows []*supervisor.AgentRecord) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].StartedAt, rows[j].StartedAt
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.After(b)
		}
	})
}

func (s *Server) handleStartAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AdapterID string `json:"adapterId"`
		Prompt    string `json:"prompt"`
		Command   string `json:"command"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Command != "" {
		writeError(w, http.StatusBadRequest, supervisor.ErrRawCommandBlocked.Error())
		return
	}

	assignee := state.AdapterID(body.AdapterID)
	cfg := s.settings.Adapters[body.AdapterID]
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = config.DefaultAdapterTimeoutMs
	}
	if cfg.StartupSilenceTimeoutMs == 0 {
		cfg.StartupSilenceTimeoutMs = config.DefaultStartupSilenceTimeoutMs
	}
	ad, err := adapter.Get(assignee, adapter.Config{Command: cfg.Command, Args: cfg.Args, Model: cfg.Model})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := ad.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	inv := adapter.Invocation{Prompt: body.Prompt, WorkDir: s.rootDir}
	rec, err := s.sup.Start(r.Context(), supervisor.Spec{
		Name:                  body.AdapterID,
		AdapterID:             assignee,
		Command:               ad.Command(),
		Args:                  ad.BuildArgs(inv),
		Env:                   ad.BuildEnv(inv),
		Stdin:                 ad.StdinPayload(inv),
		Cwd:                   s.rootDir,
		ProjectName:           s.projectName,
		ApprovedAdapterSpawn:  true,
		Timeout:               cfg.Timeout(),
		StartupSilenceTimeout: cfg.StartupSilenceTimeout(),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.AdapterSpawns.WithLabelValues(body.AdapterID).Inc()
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleKillAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sup.Kill(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAssignAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PhaseID string `json:"phaseId"`
		TaskID  string `json:"taskId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	rec, err := s.sup.Assign(chi.URLParam(r, "id"), body.PhaseID, body.TaskID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRestartAgent reconciles the attached task back to TODO before
// respawning. A reconcile failure is logged but does not block the
// restart.
func (s *Server) handleRestartAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if rec, ok := s.sup.Registry().Get(id); ok && rec.TaskID != "" {
		if err := s.center.ReconcileInProgressTaskToTodo(rec.TaskID); err != nil {
			s.logger.Warn("restart: task reconcile failed",
				zap.String("agentId", id),
				zap.String("taskId", rec.TaskID),
				zap.Error(err))
		}
	}
	rec, err := s.sup.Restart(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeDomainError maps validation and domain failures to the {error}
// envelope with status 400.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
