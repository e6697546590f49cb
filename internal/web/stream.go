package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/events"
	"github.com/ixado/ixado/internal/supervisor"
)

// heartbeatInterval is the SSE comment cadence that keeps idle proxies
// from dropping the connection.
const heartbeatInterval = 15 * time.Second

// Frame is one SSE data payload: the original runtime event plus
// consumer-side enrichment.
type Frame struct {
	Event          events.Event   `json:"event"`
	FormattedLine  string         `json:"formattedLine"`
	Context        string         `json:"context,omitempty"`
	FailureSummary string         `json:"failureSummary,omitempty"`
	RecoveryLinks  []RecoveryLink `json:"recoveryLinks,omitempty"`
}

// RecoveryLink anchors a terminal frame into the task card and its
// recovery attempts.
type RecoveryLink struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

// streamLogs serves GET /api/agents/{id}/logs/stream: replay the tail,
// forward live events, close on the terminal outcome.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request, agentID string) {
	rec, ok := s.sup.Registry().Get(agentID)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("agent %s not found", agentID))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusBadRequest, "streaming unsupported by this connection")
		return
	}

	// Subscribe before replaying so no live event falls between the tail
	// snapshot and the live phase.
	ch, cancel, subErr := s.sup.Subscribe(agentID)
	if cancel != nil {
		defer cancel()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if s.metrics != nil {
		s.metrics.SSEConnections.Inc()
		defer s.metrics.SSEConnections.Dec()
	}

	for _, line := range rec.OutputTail {
		if SuppressLine(line) {
			continue
		}
		s.writeFrame(w, s.enrich(events.NewAdapterOutput(events.SourceAgentSupervisor, events.Context{
			AgentID:   rec.ID,
			AdapterID: rec.AdapterID,
			PhaseID:   rec.PhaseID,
			TaskID:    rec.TaskID,
		}, events.AdapterOutputPayload{Stream: "stdout", Line: line})))
	}
	flusher.Flush()

	// Foreign or already-terminated rows have no live stream to follow.
	if subErr != nil || rec.Status != supervisor.AgentRunning {
		fmt.Fprint(w, ": stream closed\n\n")
		flusher.Flush()
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				fmt.Fprint(w, ": stream closed\n\n")
				flusher.Flush()
				return
			}
			if ev.Type == events.TypeAdapterOutput && SuppressLine(ev.AdapterOutput.Line) {
				continue
			}
			s.writeFrame(w, s.enrich(ev))
			flusher.Flush()
			if ev.IsTerminal() {
				fmt.Fprint(w, ": stream closed\n\n")
				flusher.Flush()
				return
			}
		}
	}
}

// enrich wraps a runtime event in its SSE frame, deriving the failure
// summary and recovery links for terminal failures.
func (s *Server) enrich(ev events.Event) Frame {
	frame := Frame{
		Event:         ev,
		FormattedLine: events.FormatWeb(ev),
		Context:       events.ContextLabel(ev),
	}
	if !ev.IsTerminal() || ev.TerminalOutcome.Outcome != events.OutcomeFailure {
		return frame
	}

	if rec, ok := s.sup.Registry().Get(ev.Context.AgentID); ok {
		frame.FailureSummary = FailureSummary(strings.Join(rec.OutputTail, "\n"))
	}
	if frame.FailureSummary == "" {
		frame.FailureSummary = FailureSummary(ev.TerminalOutcome.Summary)
	}
	frame.RecoveryLinks = s.recoveryLinks(ev.Context.TaskID)
	return frame
}

// recoveryLinks builds anchors into the task card and each recorded
// recovery attempt.
func (s *Server) recoveryLinks(taskID string) []RecoveryLink {
	if taskID == "" {
		return nil
	}
	links := []RecoveryLink{{Label: "task", Href: "#task-" + taskID}}

	st, err := s.center.GetState()
	if err != nil {
		s.logger.Warn("recovery links: read state", zap.Error(err))
		return links
	}
	_, task, ok := st.FindTask(taskID)
	if !ok {
		return links
	}
	for _, attempt := range task.RecoveryAttempts {
		links = append(links, RecoveryLink{
			Label: fmt.Sprintf("recovery attempt %d", attempt.AttemptNumber),
			Href:  fmt.Sprintf("#task-%s-recovery-%d", taskID, attempt.AttemptNumber),
		})
	}
	return links
}

func (s *Server) writeFrame(w http.ResponseWriter, frame Frame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		s.logger.Warn("sse: marshal frame", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
}
