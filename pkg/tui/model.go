// Package tui is the interactive window: an Execute trigger and four panes
// for command output, the merged log, the failure count and the failed lines.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/devicelab-dev/hap-runner/pkg/core"
	"github.com/devicelab-dev/hap-runner/pkg/executor"
)

// NoFailures is shown in the failed-lines pane when every test passed.
const NoFailures = "无"

// Launcher starts one run of the sequence and returns its events. The
// channel must be closed when the run ends.
type Launcher func(ctx context.Context) <-chan executor.Event

type eventMsg struct{ event executor.Event }

type doneMsg struct{}

// Model is the bubbletea model for the window.
type Model struct {
	ctx    context.Context
	launch Launcher
	styles Styles

	events  <-chan executor.Event
	cancel  context.CancelFunc
	running bool
	status  string

	terminal []string
	logText  string
	count    string
	failed   string
	passed   bool

	terminalView viewport.Model
	logView      viewport.Model
	failedView   viewport.Model
	spinner      spinner.Model

	width  int
	height int
}

// New creates the window model.
func New(ctx context.Context, launch Launcher, styles Styles) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := Model{
		ctx:          ctx,
		launch:       launch,
		styles:       styles,
		status:       "Press enter to execute",
		terminalView: viewport.New(80, 8),
		logView:      viewport.New(80, 8),
		failedView:   viewport.New(80, 4),
		spinner:      sp,
	}
	m.layout(80, 32)
	return m
}

// Run opens the window and blocks until the user quits.
func Run(ctx context.Context, launch Launcher, styles Styles) error {
	p := tea.NewProgram(New(ctx, launch, styles), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if m, ok := final.(Model); ok {
		m.Stop()
	}
	return err
}

// Stop cancels a run in progress and waits for its channel to close.
func (m Model) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.events != nil {
		for range m.events {
		}
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case "enter", "e":
			if m.running {
				return m, nil
			}
			m.start()
			return m, tea.Batch(m.waitForEvent(), m.spinner.Tick)
		}
		var cmd tea.Cmd
		m.terminalView, cmd = m.terminalView.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.layout(msg.Width, msg.Height)
		return m, nil

	case eventMsg:
		m.apply(msg.event)
		return m, m.waitForEvent()

	case doneMsg:
		if m.cancel != nil {
			m.cancel()
		}
		m.running = false
		m.events = nil
		m.cancel = nil
		return m, nil

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// start clears every pane and launches a run.
func (m *Model) start() {
	m.terminal = nil
	m.logText = ""
	m.count = ""
	m.failed = ""
	m.passed = false
	m.refresh()

	m.running = true
	m.status = "Running"
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.events = m.launch(ctx)
}

func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return doneMsg{}
		}
		return eventMsg{event: ev}
	}
}

func (m *Model) apply(ev executor.Event) {
	switch e := ev.(type) {
	case executor.OutputEvent:
		m.terminal = append(m.terminal, e.Line)
	case executor.StepEvent:
		if e.Status == core.StatusRunning {
			m.status = "Running " + e.Step
		}
	case executor.ResultEvent:
		rep := e.Result.Report
		m.logText = e.Result.LogText
		m.count = fmt.Sprintf("Number of tests failed: %d", rep.FailureCount)
		m.passed = rep.AllPassed()
		if m.passed {
			m.failed = NoFailures
		} else {
			m.failed = strings.Join(rep.FailedLines, "\n")
		}
		m.status = "Finished"
	case executor.ErrorEvent:
		m.terminal = append(m.terminal, e.Err.Error())
		m.status = "Aborted"
	}
	m.refresh()
}

func (m *Model) refresh() {
	m.terminalView.SetContent(strings.Join(m.terminal, "\n"))
	m.terminalView.GotoBottom()
	m.logView.SetContent(m.logText)
	m.failedView.SetContent(m.failed)
}

// layout splits the height between the panes.
func (m *Model) layout(width, height int) {
	m.width, m.height = width, height
	inner := width - 4
	if inner < 10 {
		inner = 10
	}
	// header, count pane and borders
	avail := height - 12
	if avail < 9 {
		avail = 9
	}
	m.terminalView.Width, m.logView.Width, m.failedView.Width = inner, inner, inner
	m.terminalView.Height = avail * 2 / 5
	m.logView.Height = avail * 2 / 5
	m.failedView.Height = avail - m.terminalView.Height - m.logView.Height
	m.refresh()
}

// View implements tea.Model.
func (m Model) View() string {
	status := m.status
	if m.running {
		status = m.spinner.View() + " " + status
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		m.styles.Title.Render("hap-runner"), "  ",
		m.styles.Help.Render("[enter/e] Execute  [q] Quit"), "  ",
		m.styles.Status.Render(status))

	countStyle := m.styles.Fail
	if m.passed {
		countStyle = m.styles.Pass
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.pane("Terminal Output", m.terminalView.View()),
		m.pane("Log Output", m.logView.View()),
		m.pane("Failure Count", countStyle.Render(m.count)),
		m.pane("Failed Tests", countStyle.Render(m.failedView.View())),
	)
}

func (m Model) pane(title, body string) string {
	return m.styles.Pane.Width(m.width - 2).Render(m.styles.Label.Render(title) + "\n" + body)
}

// Running reports whether a run is in progress.
func (m Model) Running() bool { return m.running }

// TerminalText returns the terminal-output pane contents.
func (m Model) TerminalText() string { return strings.Join(m.terminal, "\n") }

// LogText returns the log-output pane contents.
func (m Model) LogText() string { return m.logText }

// CountText returns the failure-count pane contents.
func (m Model) CountText() string { return m.count }

// FailedText returns the failed-lines pane contents.
func (m Model) FailedText() string { return m.failed }
