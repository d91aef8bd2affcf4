// Package tui is the terminal editor surface: a floating textarea bound to a session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"notepad-sync/internal/client/channel"
	"notepad-sync/internal/client/session"
)

const (
	headerHeight = 2
	moveStepX    = 2
	moveStepY    = 1
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	windowStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63"))
	stateStyles = map[channel.State]lipgloss.Style{
		channel.Disconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		channel.Connecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		channel.Connected:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
)

type changeMsg session.Change

type Model struct {
	ctx     context.Context
	session *session.Session
	editor  textarea.Model
	width   int
	height  int
}

func New(ctx context.Context, s *session.Session) Model {
	ta := textarea.New()
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.MaxHeight = 0
	ta.Prompt = ""
	ta.Placeholder = "Start typing..."
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle = ta.FocusedStyle
	ta.Focus()

	return Model{
		ctx:     ctx,
		session: s,
		editor:  ta,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForChange())
}

func (m Model) waitForChange() tea.Cmd {
	changes := m.session.Changes()
	return func() tea.Msg {
		change, ok := <-changes
		if !ok {
			return nil
		}
		return changeMsg(change)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		store := m.session.Layout()
		store.SetViewport(msg.Width, msg.Height-headerHeight)
		if store.Position().Width <= 1 {
			store.UpdateWindowPosition(m.ctx, 0, 0, msg.Width*2/3, (msg.Height-headerHeight)*2/3)
		}
		m.resizeEditor()
		return m, nil

	case changeMsg:
		switch msg.Kind {
		case session.ContentChanged:
			m.syncFromDocument()
		case session.LayoutChanged:
			m.resizeEditor()
		}
		return m, m.waitForChange()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	store := m.session.Layout()

	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "ctrl+up":
		store.Move(m.ctx, 0, -moveStepY)
		return m, nil
	case "ctrl+down":
		store.Move(m.ctx, 0, moveStepY)
		return m, nil
	case "ctrl+left":
		store.Move(m.ctx, -moveStepX, 0)
		return m, nil
	case "ctrl+right":
		store.Move(m.ctx, moveStepX, 0)
		return m, nil
	case "ctrl+n":
		store.SetMinimized(m.ctx, !store.Minimized())
		m.resizeEditor()
		return m, nil
	case "ctrl+f":
		store.SetMaximized(m.ctx, !store.Maximized())
		m.resizeEditor()
		return m, nil
	}

	if store.Minimized() {
		return m, nil
	}

	base := m.editor.Value()
	baseCaret := caretOffset(&m.editor)

	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)

	next := m.editor.Value()
	caret := caretOffset(&m.editor)

	if next == base {
		_ = m.session.MoveCursor(caret)
		return m, cmd
	}

	if err := m.session.LocalEdit(base, next, caret); err != nil {
		// Nothing was sent, so the keystroke must not stay on screen.
		m.editor.SetValue(base)
		placeCaret(&m.editor, baseCaret)
	}
	return m, cmd
}

// syncFromDocument replaces the textarea with the authoritative content, keeping the
// caret at the same offset where possible. While own operations are still in flight the
// textarea is ahead of the document and is left alone; keystrokes keep diffing against
// it, which matches the content the server will hold once those operations land.
func (m *Model) syncFromDocument() {
	if m.session.PendingOperations() > 0 {
		return
	}

	content := m.session.Document().Content()
	if content == m.editor.Value() {
		return
	}

	caret := caretOffset(&m.editor)
	m.editor.SetValue(content)
	placeCaret(&m.editor, caret)
}

func (m *Model) resizeEditor() {
	width, height := m.windowSize()
	m.editor.SetWidth(max(width-2, 1))
	m.editor.SetHeight(max(height-2, 1))
}

func (m Model) windowSize() (int, int) {
	store := m.session.Layout()
	if store.Maximized() {
		vp := store.Viewport()
		return vp.Width, vp.Height
	}
	pos := store.Position()
	return pos.Width, pos.Height
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")

	store := m.session.Layout()
	pos := store.Position()
	title := titleStyle.Render(" " + m.session.Document().NoteID() + " ")

	switch {
	case store.Minimized():
		b.WriteString(lipgloss.NewStyle().MarginLeft(pos.X).MarginTop(pos.Y).Render(
			windowStyle.Render(title + mutedStyle.Render(" ctrl+n to restore"))))
	case store.Maximized():
		b.WriteString(windowStyle.Render(m.editor.View()))
	default:
		b.WriteString(lipgloss.NewStyle().MarginLeft(pos.X).MarginTop(pos.Y).Render(
			windowStyle.Render(m.editor.View())))
	}

	return b.String()
}

func (m Model) header() string {
	state := m.session.State()
	parts := []string{
		titleStyle.Render("notepad"),
		stateStyles[state].Render(state.String()),
	}

	for _, cursor := range m.session.Presence().Cursors() {
		name := cursor.Username
		if name == "" {
			name = cursor.UserID
		}
		label := fmt.Sprintf("%s@%d", name, cursor.Position)
		if m.session.Presence().IsTyping(cursor.UserID) {
			label += " typing..."
		}
		parts = append(parts, mutedStyle.Render(label))
	}
	for _, member := range m.session.Presence().Idle() {
		name := member.Username
		if name == "" {
			name = member.UserID
		}
		parts = append(parts, mutedStyle.Render(name))
	}

	line := strings.Join(parts, mutedStyle.Render(" | "))
	if err := m.session.LastError(); err != nil && !errors.Is(err, channel.ErrNotConnected) {
		line += "\n" + errorStyle.Render(err.Error())
	} else {
		line += "\n" + mutedStyle.Render("ctrl+arrows move | ctrl+n minimize | ctrl+f maximize | esc quit")
	}
	return line
}
