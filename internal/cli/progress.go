package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/intake-go/internal/client"
)

const pollInterval = time.Second

// Theme holds the color scheme for the watch display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries the updated job data
type jobUpdateMsg struct {
	job *client.Job
	err error
}

// watchModel is the bubbletea model for the job watch display.
type watchModel struct {
	client   *client.Client
	jobID    string
	job      *client.Job
	spinner  spinner.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

// newWatchModel creates a new watch model.
func newWatchModel(c *client.Client, job *client.Job) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return watchModel{
		client:  c,
		jobID:   job.ID,
		job:     job,
		spinner: sp,
		theme:   defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
	)
}

// Update handles messages and returns the updated model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		// Fetch job status
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.job = msg.job

		// Check for terminal states
		switch m.job.Status {
		case "completed":
			m.done = true
			return m, tea.Quit
		case "failed":
			m.done = true
			if m.job.Error != "" {
				m.err = fmt.Errorf("%s", m.job.Error)
			} else {
				m.err = fmt.Errorf("job failed with unknown error")
			}
			return m, tea.Quit
		}

		// Continue polling for running jobs
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the watch display.
func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m watchModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.job == nil {
		return "Loading job status...\n"
	}

	// Status line with color
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	detail := fmt.Sprintf("analyzing %s (job %s)", m.job.AnalyzerKey, m.job.ID)

	// Hint about background operation
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", m.spinner.View(), status, detail, hint)
}

// finalView renders the completion message.
func (m watchModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'intake jobs <session-id> --job %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	// Success with results
	if m.job != nil && m.job.Result != nil {
		r := m.job.Result
		var output string
		output += m.theme.completedStyle().Render("✓ Completed") + "\n\n"
		output += fmt.Sprintf("  Fields written: %d\n", r.FieldsWritten)
		output += fmt.Sprintf("  Fields skipped: %d\n", r.FieldsSkipped)
		if len(r.SkippedFields) > 0 {
			output += m.theme.hintStyle().Render("\nSkipped:\n")
			for _, f := range r.SkippedFields {
				output += fmt.Sprintf("  • %s\n", f)
			}
		}
		return output
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// fetchJob fetches the current job status from the server.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m watchModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.client.GetJob(ctx, m.jobID)
		return jobUpdateMsg{job: job, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunJobWatch runs the interactive watch UI for an analysis job.
// Returns nil on success or Ctrl+C (background), error on job failure.
func RunJobWatch(c *client.Client, job *client.Job) error {
	model := newWatchModel(c, job)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("watch UI error: %w", err)
	}

	// Check final state
	if m, ok := finalModel.(watchModel); ok {
		// If user quit with Ctrl+C, job continues in background - not an error
		if m.quitting {
			return nil
		}
		// If job failed, return the error
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
