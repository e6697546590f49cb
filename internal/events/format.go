package events

import (
	"fmt"
	"strings"
)

// Describe renders the type-specific core of an event as one line, without
// any consumer prefix. All formatters build on it so a given event reads
// the same everywhere.
func Describe(ev Event) string {
	switch ev.Type {
	case TypeTaskStart:
		p := ev.TaskStart
		s := fmt.Sprintf("Task started by %s", p.Assignee)
		if p.Resume {
			s += " (resume)"
		}
		return withMessage(s, p.Message)
	case TypeTaskProgress:
		return ev.TaskProgress.Message
	case TypePhaseUpdate:
		p := ev.PhaseUpdate
		return withMessage(fmt.Sprintf("Phase status: %s", p.Status), p.Message)
	case TypeTaskFinish:
		p := ev.TaskFinish
		return withMessage(fmt.Sprintf("Task finished: %s", p.Status), p.Message)
	case TypeAdapterOutput:
		p := ev.AdapterOutput
		if d, ok := ParseDiagnostic(p.Line); ok {
			return d.Humanize()
		}
		if p.Stream == "stderr" {
			return "[stderr] " + p.Line
		}
		return p.Line
	case TypeTesterActivity:
		p := ev.TesterActivity
		return activityLine("Tester", p.Stage, p.Summary, p.AttemptNumber, string(p.Category))
	case TypeRecoveryActivity:
		p := ev.RecoveryActivity
		return activityLine("Recovery", p.Stage, p.Summary, p.AttemptNumber, string(p.Category))
	case TypePRActivity:
		p := ev.PRActivity
		s := fmt.Sprintf("PR %s: %s", p.Stage, p.Summary)
		if p.PrURL != "" {
			s += " " + p.PrURL
		}
		return s
	case TypeCIActivity:
		p := ev.CIActivity
		s := fmt.Sprintf("CI %s: %s", p.Stage, p.Summary)
		if p.Overall != "" {
			s += fmt.Sprintf(" (overall %s)", p.Overall)
		}
		if p.CreatedFixTaskCount > 0 {
			s += fmt.Sprintf(" (%d fix tasks)", p.CreatedFixTaskCount)
		}
		return s
	case TypeTerminalOutcome:
		p := ev.TerminalOutcome
		s := fmt.Sprintf("Agent %s: %s", p.Outcome, p.Summary)
		if p.ExitCode != nil {
			s += fmt.Sprintf(" (exit %d)", *p.ExitCode)
		}
		return s
	default:
		return string(ev.Type)
	}
}

// ContextLabel renders a compact routing label for an event, used by the
// web surface and the CLI prefix.
func ContextLabel(ev Event) string {
	var parts []string
	if ev.Context.PhaseName != "" {
		parts = append(parts, ev.Context.PhaseName)
	}
	switch {
	case ev.Context.TaskTitle != "" && ev.Context.TaskNumber > 0:
		parts = append(parts, fmt.Sprintf("task %d: %s", ev.Context.TaskNumber, ev.Context.TaskTitle))
	case ev.Context.TaskTitle != "":
		parts = append(parts, "task: "+ev.Context.TaskTitle)
	}
	if len(parts) == 0 && ev.Context.AgentID != "" {
		parts = append(parts, "agent "+shortID(ev.Context.AgentID))
	}
	return strings.Join(parts, " / ")
}

// FormatCLI renders the line the CLI consumer prints.
func FormatCLI(ev Event) string {
	ts := ev.OccurredAt.Format("15:04:05")
	label := ContextLabel(ev)
	if label == "" {
		return fmt.Sprintf("%s  %s", ts, Describe(ev))
	}
	return fmt.Sprintf("%s  [%s] %s", ts, label, Describe(ev))
}

// FormatTelegram renders the message body sent to Telegram.
func FormatTelegram(ev Event) string {
	var b strings.Builder
	if ev.Context.ProjectName != "" {
		b.WriteString(ev.Context.ProjectName)
		b.WriteString(": ")
	}
	if label := ContextLabel(ev); label != "" {
		b.WriteString("[")
		b.WriteString(label)
		b.WriteString("] ")
	}
	b.WriteString(Describe(ev))
	return b.String()
}

// FormatWeb renders the formattedLine carried on every SSE frame.
func FormatWeb(ev Event) string {
	label := ContextLabel(ev)
	if label == "" {
		return Describe(ev)
	}
	return fmt.Sprintf("[%s] %s", label, Describe(ev))
}

func withMessage(s, msg string) string {
	if msg == "" {
		return s
	}
	return s + ": " + msg
}

func activityLine(kind, stage, summary string, attempt int, category string) string {
	s := fmt.Sprintf("%s %s", kind, stage)
	var details []string
	if attempt > 0 {
		details = append(details, fmt.Sprintf("attempt %d", attempt))
	}
	if category != "" {
		details = append(details, category)
	}
	if len(details) > 0 {
		s += " (" + strings.Join(details, ", ") + ")"
	}
	if summary != "" {
		s += ": " + summary
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
