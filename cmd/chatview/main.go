package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/LCtech96/Facevoice.AI-sub001/logic"
	"github.com/LCtech96/Facevoice.AI-sub001/models"
)

const pollInterval = 250 * time.Millisecond

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type tickMsg time.Time

type uiModel struct {
	sync     *logic.Synchronizer
	conv     models.Conversation
	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model
	errs     chan error
	lastErr  string
	ready    bool
	width    int
}

func newUIModel(s *logic.Synchronizer, conv models.Conversation, errs chan error) uiModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message and press enter"
	ti.Focus()
	ti.CharLimit = 4000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return uiModel{sync: s, conv: conv, input: ti, spin: sp, errs: errs}
}

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(tick(), m.spin.Tick, textinput.Blink)
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.sync.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text != "" {
				m.sync.SubmitUserMessage(text)
				m.input.Reset()
				m.lastErr = ""
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-5)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 5
		}
		m.viewport.SetContent(m.renderTranscript())
		m.viewport.GotoBottom()

	case tickMsg:
		select {
		case err := <-m.errs:
			m.lastErr = err.Error()
		default:
		}
		if m.ready {
			m.viewport.SetContent(m.renderTranscript())
			m.viewport.GotoBottom()
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m uiModel) renderTranscript() string {
	entries := m.sync.CurrentMessages()
	var b strings.Builder
	for _, e := range entries {
		label := e.Role
		style := assistantStyle
		if e.Role == models.RoleUser {
			style = userStyle
			if e.Author != "" {
				label = e.Author
			}
		}
		line := fmt.Sprintf("%s: %s", style.Render(label), e.Content)
		if !e.Ref.IsCanonical() {
			line += pendingStyle.Render("  (sending…)")
		}
		b.WriteString(line)
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m uiModel) waitingForReply() bool {
	entries := m.sync.CurrentMessages()
	if len(entries) == 0 {
		return false
	}
	return entries[len(entries)-1].Role == models.RoleUser
}

func (m uiModel) View() string {
	if !m.ready {
		return "loading…"
	}

	header := titleStyle.Render(fmt.Sprintf("%s  [%s]", titleOrID(m.conv), m.conv.Model))
	status := helpStyle.Render("enter: send · esc: quit")
	if m.waitingForReply() {
		status = m.spin.View() + " waiting for reply"
	}
	if m.lastErr != "" {
		status = errStyle.Render(m.lastErr)
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s", header, m.viewport.View(), m.input.View(), status)
}

func titleOrID(conv models.Conversation) string {
	if conv.Title != "" {
		return conv.Title
	}
	return conv.ID.String()
}

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "chat server base URL")
	convID := flag.String("conversation", "", "conversation id to join (empty creates one)")
	name := flag.String("name", "viewer", "author name for submitted messages")
	model := flag.String("model", "", "model for a newly created conversation")
	flag.Parse()

	client := newAPIClient(*server, *name)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var id uuid.UUID
	if *convID == "" {
		conv, err := client.CreateConversation(ctx, "", *model)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create conversation: %v\n", err)
			os.Exit(1)
		}
		id = conv.ID
		fmt.Fprintf(os.Stderr, "share link id: %s\n", id)
	} else {
		parsed, err := uuid.Parse(*convID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid conversation id: %v\n", err)
			os.Exit(1)
		}
		id = parsed
	}

	errs := make(chan error, 8)
	s, err := logic.OpenConversation(ctx, client, client, client, id,
		logic.WithViewer(*name),
		logic.WithOnError(func(err error) {
			select {
			case errs <- err:
			default:
			}
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open conversation: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	p := tea.NewProgram(newUIModel(s, s.Conversation(), errs), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ui error: %v\n", err)
		os.Exit(1)
	}
}
