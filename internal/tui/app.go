// Package tui provides a read-only terminal dashboard over a session:
// the feature list, the session lease, and the state file.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/warden/internal/config"
	"github.com/fentz26/warden/internal/features"
	"github.com/fentz26/warden/internal/lock"
	"github.com/fentz26/warden/internal/models"
	"github.com/fentz26/warden/internal/session"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	passedStyle  = lipgloss.NewStyle().Foreground(successColor)
	pendingStyle = lipgloss.NewStyle().Foreground(warningColor)
	failedStyle  = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	lockedStyle  = lipgloss.NewStyle().Foreground(errorColor)
	freeStyle    = lipgloss.NewStyle().Foreground(successColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)
)

const refreshInterval = 2 * time.Second

// snapshot is one refresh of everything the dashboard shows.
type snapshot struct {
	tasks []models.Task
	state models.SessionState
	lock  *lock.Status
	err   error
}

type tickMsg time.Time

// App is the dashboard model.
type App struct {
	cfg     *config.Config
	locks   *lock.Manager
	spin    spinner.Model
	snap    snapshot
	loaded  bool
	width   int
	height  int
	lastErr error
}

// New builds the dashboard for one session. locks may be nil when the
// lease store is unavailable; the lock panel then shows a dash.
func New(cfg *config.Config, locks *lock.Manager) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)
	return &App{cfg: cfg, locks: locks, spin: sp}
}

// Run starts the dashboard.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spin.Tick, a.refresh, tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh loads a fresh snapshot off the event loop.
func (a *App) refresh() tea.Msg {
	snap := snapshot{state: session.Read(a.cfg.StateDir())}

	list, err := features.Load(a.cfg.FeatureListPath())
	if err != nil {
		snap.err = err
	} else {
		snap.tasks = list.Tasks
	}

	if a.locks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if st, err := a.locks.Status(ctx, a.cfg.SessionID); err == nil {
			snap.lock = st
		}
	}
	return snap
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return a, tea.Quit
		case "r":
			return a, a.refresh
		}
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
	case snapshot:
		a.snap = msg
		a.loaded = true
		a.lastErr = msg.err
	case tickMsg:
		return a, tea.Batch(a.refresh, tick())
	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("warden — session "+a.cfg.SessionID) + "\n\n")

	if !a.loaded {
		b.WriteString(a.spin.View() + " loading...\n")
		return b.String()
	}

	b.WriteString(panelStyle.Render(a.sessionPanel()) + "\n")
	b.WriteString(panelStyle.Render(a.lockPanel()) + "\n")
	b.WriteString(panelStyle.Render(a.tasksPanel()) + "\n")

	if a.lastErr != nil {
		b.WriteString(failedStyle.Render(fmt.Sprintf("error: %v", a.lastErr)) + "\n")
	}
	b.WriteString(helpStyle.Render("r refresh · q quit"))
	return b.String()
}

func (a *App) sessionPanel() string {
	st := a.snap.state
	lines := []string{
		headerStyle.Render("Session state"),
		fmt.Sprintf("desired: %-12s current: %-12s", st.DesiredState, st.CurrentState),
		fmt.Sprintf("set by:  %-12s at: %s", st.SetBy, st.Timestamp.Format(time.RFC3339)),
	}
	if st.RecoveryPoint != nil {
		lines = append(lines, fmt.Sprintf("recovery: %s", shortCommit(st.RecoveryPoint.Commit)))
	}
	if st.Note != "" {
		lines = append(lines, "note: "+st.Note)
	}
	return strings.Join(lines, "\n")
}

func (a *App) lockPanel() string {
	header := headerStyle.Render("Lease")
	if a.snap.lock == nil {
		return header + "\n" + helpStyle.Render("lease store unavailable")
	}
	st := a.snap.lock
	if !st.Locked {
		return header + "\n" + freeStyle.Render("unheld")
	}
	line := lockedStyle.Render(fmt.Sprintf("held by %s for %s", st.Holder, st.Age.Round(time.Second)))
	if st.Stale {
		line += " " + failedStyle.Render("(stale)")
	}
	return header + "\n" + line
}

func (a *App) tasksPanel() string {
	var b strings.Builder
	passed, pending, failed := 0, 0, 0
	max := a.cfg.MaxRetriesPerTask

	for _, t := range a.snap.tasks {
		switch t.Status(max) {
		case models.TaskStatusPassed:
			passed++
		case models.TaskStatusFailed:
			failed++
		default:
			pending++
		}
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("Tasks  %d passed · %d pending · %d failed",
		passed, pending, failed)) + "\n")

	for _, t := range a.snap.tasks {
		var marker string
		switch t.Status(max) {
		case models.TaskStatusPassed:
			marker = passedStyle.Render("✓")
		case models.TaskStatusFailed:
			marker = failedStyle.Render("✗")
		default:
			marker = pendingStyle.Render("·")
		}
		retries := ""
		if t.RetryCount > 0 {
			retries = helpStyle.Render(fmt.Sprintf(" (retries: %d)", t.RetryCount))
		}
		fmt.Fprintf(&b, " %s %-20s %s%s\n", marker, t.ID, truncate(t.Description, 50), retries)
	}
	if len(a.snap.tasks) == 0 {
		b.WriteString(helpStyle.Render(" no tasks in " + config.FeatureListName))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func shortCommit(c string) string {
	if len(c) <= 8 {
		return c
	}
	return c[:8]
}
