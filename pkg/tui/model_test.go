package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/hap-runner/pkg/classifier"
	"github.com/devicelab-dev/hap-runner/pkg/core"
	"github.com/devicelab-dev/hap-runner/pkg/executor"
)

// scripted returns a launcher that replays each script in turn.
func scripted(scripts ...[]executor.Event) (Launcher, *int) {
	calls := 0
	return func(context.Context) <-chan executor.Event {
		ch := make(chan executor.Event, 32)
		for _, ev := range scripts[calls] {
			ch <- ev
		}
		close(ch)
		calls++
		return ch
	}, &calls
}

// pump feeds events to the model until the run's channel is closed.
func pump(t *testing.T, m Model) Model {
	t.Helper()
	for i := 0; m.Running(); i++ {
		require.Less(t, i, 100, "run did not finish")
		next, _ := m.Update(m.waitForEvent()())
		m = next.(Model)
	}
	return m
}

func press(m Model, key string) (Model, tea.Cmd) {
	var msg tea.KeyMsg
	if key == "enter" {
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	} else {
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func resultEvent(logText string) executor.ResultEvent {
	rep := classifier.New().ClassifyText(logText)
	return executor.ResultEvent{Result: &executor.RunResult{Report: rep, LogText: logText}}
}

func TestModel_ExecuteShowsResult(t *testing.T) {
	logText := "用例1 成功\n用例2 失败\n"
	launch, calls := scripted([]executor.Event{
		executor.StepEvent{Step: executor.StepInstallPrimary, Status: core.StatusRunning},
		executor.OutputEvent{Line: "Installing usbInfo-default-signed.hap..."},
		executor.OutputEvent{Line: "AppMod finish"},
		resultEvent(logText),
	})
	m := New(context.Background(), launch, PlainStyles())

	m, cmd := press(m, "enter")
	require.NotNil(t, cmd)
	require.True(t, m.Running())
	require.Equal(t, 1, *calls)

	m = pump(t, m)
	require.False(t, m.Running())
	require.Equal(t, "Installing usbInfo-default-signed.hap...\nAppMod finish", m.TerminalText())
	require.Equal(t, logText, m.LogText())
	require.Equal(t, "Number of tests failed: 1", m.CountText())
	require.Equal(t, "用例2 失败", m.FailedText())

	view := m.View()
	require.Contains(t, view, "Number of tests failed: 1")
	require.Contains(t, view, "Terminal Output")
}

func TestModel_AllPassedShowsPlaceholder(t *testing.T) {
	launch, _ := scripted([]executor.Event{resultEvent("用例1 成功\n")})
	m := New(context.Background(), launch, PlainStyles())

	m, _ = press(m, "e")
	m = pump(t, m)
	require.Equal(t, "Number of tests failed: 0", m.CountText())
	require.Equal(t, NoFailures, m.FailedText())
}

func TestModel_ErrorGoesToTerminal(t *testing.T) {
	err := core.ErrCommandFailed.WithMessage("error running command 'hdc install a.hap': exit status 1: [Fail]not signed")
	launch, _ := scripted([]executor.Event{
		executor.OutputEvent{Line: "Installing a.hap..."},
		executor.ErrorEvent{Err: err},
	})
	m := New(context.Background(), launch, PlainStyles())

	m, _ = press(m, "enter")
	m = pump(t, m)
	require.Equal(t, "Installing a.hap...\n"+err.Error(), m.TerminalText())
	require.Empty(t, m.CountText())
	require.Empty(t, m.FailedText())
}

func TestModel_ReexecuteClearsPanes(t *testing.T) {
	launch, calls := scripted(
		[]executor.Event{executor.OutputEvent{Line: "first"}, resultEvent("x 失败\n")},
		[]executor.Event{executor.OutputEvent{Line: "second"}},
	)
	m := New(context.Background(), launch, PlainStyles())

	m, _ = press(m, "enter")
	m = pump(t, m)
	require.Equal(t, "Number of tests failed: 1", m.CountText())

	m, _ = press(m, "enter")
	require.Equal(t, 2, *calls)
	require.Empty(t, m.TerminalText())
	require.Empty(t, m.LogText())
	require.Empty(t, m.CountText())
	require.Empty(t, m.FailedText())

	m = pump(t, m)
	require.Equal(t, "second", m.TerminalText())
}

func TestModel_IgnoresExecuteWhileRunning(t *testing.T) {
	// The launcher's channel stays open so the run never ends.
	calls := 0
	open := make(chan executor.Event)
	launch := func(context.Context) <-chan executor.Event {
		calls++
		return open
	}
	m := New(context.Background(), launch, PlainStyles())

	m, _ = press(m, "enter")
	m, cmd := press(m, "enter")
	require.Nil(t, cmd)
	require.Equal(t, 1, calls)
	require.True(t, m.Running())
}

func TestModel_Quit(t *testing.T) {
	m := New(context.Background(), nil, PlainStyles())
	_, cmd := press(m, "q")
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_QuitCancelsRun(t *testing.T) {
	var runCtx context.Context
	launch := func(ctx context.Context) <-chan executor.Event {
		runCtx = ctx
		ch := make(chan executor.Event)
		go func() {
			defer close(ch)
			// Unbuffered sends block until someone reads, like a runner
			// whose window has gone away.
			for {
				select {
				case ch <- executor.OutputEvent{Line: "hdc shell aa start"}:
				case <-ctx.Done():
					ch <- executor.ErrorEvent{Err: ctx.Err()}
					return
				}
			}
		}()
		return ch
	}
	m := New(context.Background(), launch, PlainStyles())

	m, _ = press(m, "enter")
	require.NoError(t, runCtx.Err())
	m, cmd := press(m, "q")
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.ErrorIs(t, runCtx.Err(), context.Canceled)

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the run was canceled")
	}
}

func TestModel_FinishedRunReleasesContext(t *testing.T) {
	var runCtx context.Context
	launch := func(ctx context.Context) <-chan executor.Event {
		runCtx = ctx
		ch := make(chan executor.Event, 1)
		ch <- resultEvent("用例1 成功\n")
		close(ch)
		return ch
	}
	m := New(context.Background(), launch, PlainStyles())
	m, _ = press(m, "enter")
	m = pump(t, m)
	require.Error(t, runCtx.Err())
	m.Stop()
}

func TestModel_WindowResize(t *testing.T) {
	m := New(context.Background(), nil, DefaultStyles())
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 50})
	m = next.(Model)
	require.Equal(t, 116, m.terminalView.Width)
	total := m.terminalView.Height + m.logView.Height + m.failedView.Height
	require.Equal(t, 38, total)
	require.True(t, strings.Contains(m.View(), "hap-runner"))
}

func TestModel_StepEventUpdatesStatus(t *testing.T) {
	m := New(context.Background(), nil, PlainStyles())
	m.apply(executor.StepEvent{Step: executor.StepScreenshot, Status: core.StatusRunning})
	require.Equal(t, "Running screenshot", m.status)
	m.apply(executor.ErrorEvent{Err: errors.New("boom")})
	require.Equal(t, "Aborted", m.status)
}
