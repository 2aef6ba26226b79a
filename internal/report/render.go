package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/asukul/thatbrowser/internal/automation"
	"github.com/asukul/thatbrowser/internal/history"
	"github.com/asukul/thatbrowser/internal/llm"
)

func statusIcon(s automation.Status) string {
	switch s {
	case automation.StatusRunning:
		return runningStyle.Render("▶")
	case automation.StatusDone:
		return doneStyle.Render("✓")
	case automation.StatusError:
		return errorStyle.Render("✗")
	default:
		return pendingStyle.Render("○")
	}
}

// Step renders one step as a single status line, with its detail or error
// indented underneath.
func Step(s automation.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %2d. %s", statusIcon(s.Status), s.Index+1, s.Description)
	if s.Status.Terminal() && s.Duration > 0 {
		b.WriteString(detailStyle.Render(fmt.Sprintf(" (%s)", formatDuration(s.Duration))))
	}
	switch {
	case s.Status == automation.StatusError && s.Error != "":
		b.WriteString("\n      " + errorStyle.Render(s.Error))
	case s.Message != "":
		msg := s.Message
		if s.Strategy != "" {
			msg = fmt.Sprintf("%s [%s]", msg, s.Strategy)
		}
		b.WriteString("\n      " + detailStyle.Render(msg))
	}
	return b.String()
}

// Steps renders a step list, one Step per entry.
func Steps(steps []automation.Step) string {
	lines := make([]string, len(steps))
	for i, s := range steps {
		lines[i] = Step(s)
	}
	return strings.Join(lines, "\n")
}

// Outcome renders a run outcome. A stopped run is neutral, not an error.
func Outcome(o history.Outcome) string {
	switch o {
	case history.OutcomeDone:
		return doneStyle.Render("✓ done")
	case history.OutcomeFailed:
		return errorStyle.Render("✗ failed")
	case history.OutcomeStopped:
		return pendingStyle.Render("■ stopped")
	default:
		return string(o)
	}
}

// Run renders a stored run: a summary box, the model's prose and the steps.
func Run(r *history.Run) string {
	rows := []string{
		titleStyle.Render(r.Instruction),
		row("outcome", Outcome(r.Outcome)),
		row("page", r.URL),
		row("model", fmt.Sprintf("%s / %s", r.Provider, r.Model)),
		row("started", r.StartedAt.Local().Format(time.DateTime)),
		row("took", formatDuration(r.Duration)),
	}
	if r.ID != "" {
		rows = append(rows, row("id", r.ID))
	}
	if r.Error != "" {
		rows = append(rows, row("error", errorStyle.Render(r.Error)))
	}

	parts := []string{boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))}
	if r.Cleaned != "" {
		parts = append(parts, r.Cleaned)
	}
	if len(r.Steps) > 0 {
		parts = append(parts, Steps(r.Steps))
	}
	return strings.Join(parts, "\n\n")
}

// RunLine renders a run as one line for listings.
func RunLine(r *history.Run) string {
	return fmt.Sprintf("%s  %s  %-10s %s",
		detailStyle.Render(shortID(r.ID)),
		r.StartedAt.Local().Format(time.DateTime),
		Outcome(r.Outcome),
		r.Instruction)
}

// Error renders err for the user. Backend errors get their remediation
// text, and aborts are reported as stopped rather than failed.
func Error(err error) string {
	if err == nil {
		return ""
	}
	if llm.IsAbort(err) {
		return pendingStyle.Render("■ " + err.Error())
	}
	var be *llm.BackendError
	if errors.As(err, &be) {
		return errorStyle.Render("✗ "+be.UserMessage()) + "\n  " + detailStyle.Render(be.Error())
	}
	return errorStyle.Render("✗ " + err.Error())
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(100 * time.Millisecond).String()
}
