package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"asterchat/internal/client"
	"asterchat/internal/dispatch"
	"asterchat/internal/session"
)

const (
	sidebarWidth = 26
	maxInfoLines = 4
	// gutterWidth is the column left of every message line that marks
	// the selected message.
	gutterWidth = 2
)

type eventMsg struct {
	ev dispatch.Event
	ok bool
}

type model struct {
	ctx    context.Context
	client *client.Client
	queue  *dispatch.Queue

	input    textinput.Model
	messages viewport.Model

	info       []string
	lastStatus string
	width      int
	height     int

	history      []string
	historyIndex int
	historyDraft string
}

func newModel(ctx context.Context, c *client.Client, q *dispatch.Queue) model {
	in := textinput.New()
	in.Placeholder = "Type a message or /help"
	in.Focus()
	in.CharLimit = 4096
	in.Width = 80
	return model{
		ctx:          ctx,
		client:       c,
		queue:        q,
		input:        in,
		messages:     viewport.New(0, 0),
		historyIndex: -1,
	}
}

// waitEvent delivers the next queued event to Update.
func waitEvent(q *dispatch.Queue) tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-q.Events():
			return eventMsg{ev: ev, ok: true}
		case <-q.Done():
			return eventMsg{}
		}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitEvent(m.queue), textinput.Blink)
}

func stamp() string {
	return time.Now().Format("15:04:05")
}

func (m *model) addInfo(line string) {
	m.info = append(m.info, stamp()+" "+line)
	if len(m.info) > 100 {
		m.info = m.info[len(m.info)-100:]
	}
}

// syncStatus copies a new client status into the info pane.
func (m *model) syncStatus() {
	if s := m.client.Status(); s != m.lastStatus {
		m.lastStatus = s
		if s != "" {
			m.addInfo(s)
		}
	}
}

func (m *model) pushHistory(line string) {
	if n := len(m.history); n == 0 || m.history[n-1] != line {
		m.history = append(m.history, line)
	}
	m.historyIndex = -1
	m.historyDraft = ""
}

func (m *model) historyUp() {
	if len(m.history) == 0 {
		return
	}
	if m.historyIndex == -1 {
		m.historyDraft = m.input.Value()
		m.historyIndex = len(m.history) - 1
	} else if m.historyIndex > 0 {
		m.historyIndex--
	}
	m.input.SetValue(m.history[m.historyIndex])
	m.input.CursorEnd()
}

func (m *model) historyDown() {
	if m.historyIndex == -1 {
		return
	}
	if m.historyIndex < len(m.history)-1 {
		m.historyIndex++
		m.input.SetValue(m.history[m.historyIndex])
	} else {
		m.historyIndex = -1
		m.input.SetValue(m.historyDraft)
	}
	m.input.CursorEnd()
}

func (m *model) paneWidth() int {
	return maxInt(20, m.width-sidebarWidth-4)
}

func (m *model) textWidth() int {
	return m.paneWidth() - gutterWidth
}

func (m *model) layout() {
	m.input.Width = maxInt(10, m.width-4)
	m.messages.Width = m.paneWidth()
	m.messages.Height = maxInt(3, m.height-maxInfoLines-6)
	m.client.Relayout(m.textWidth())
	m.refreshMessages()
}

func (m *model) refreshMessages() {
	atBottom := m.messages.AtBottom()
	m.messages.SetContent(renderMessages(m.client))
	if atBottom {
		m.messages.GotoBottom()
	}
}

// cycleChannel selects the next or previous channel of the focused
// server.
func (m *model) cycleChannel(step int) {
	srv := m.client.Focused()
	if srv == nil {
		return
	}
	sess := srv.Session()
	if sess == nil || len(sess.Channels) == 0 {
		return
	}
	idx, ok := sess.Selected()
	if !ok {
		idx = -step
		if step < 0 {
			idx = 0
		}
	}
	next := (idx + step + len(sess.Channels)) % len(sess.Channels)
	if err := m.client.SwitchChannel(next); err != nil {
		m.addInfo(err.Error())
	}
}

func (m *model) cycleServer() {
	if len(m.client.Servers) == 0 {
		return
	}
	idx, _ := m.client.Focus()
	_ = m.client.SetFocus((idx + 1) % len(m.client.Servers))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil
	case eventMsg:
		if !msg.ok {
			return m, tea.Quit
		}
		m.client.Handle(m.ctx, msg.ev)
		m.syncStatus()
		m.refreshMessages()
		if m.client.Quitting() {
			return m, tea.Quit
		}
		return m, waitEvent(m.queue)
	case tea.KeyMsg:
		m.client.Touch()
		switch msg.String() {
		case "ctrl+c":
			m.client.Quit()
			return m, tea.Quit
		case "up":
			m.historyUp()
			return m, nil
		case "shift+up", "shift+down":
			step := -1
			if msg.String() == "shift+down" {
				step = 1
			}
			if sel, ok := m.client.SelectMessage(step); ok {
				m.addInfo(fmt.Sprintf("selected message %d: /edit [text] or /delete", sel.ID))
			}
			m.refreshMessages()
			return m, nil
		case "esc":
			m.client.ClearSelection()
			m.refreshMessages()
			return m, nil
		case "down":
			m.historyDown()
			return m, nil
		case "tab":
			m.cycleServer()
			m.refreshMessages()
			return m, nil
		case "ctrl+n":
			m.cycleChannel(1)
			m.refreshMessages()
			return m, nil
		case "ctrl+p":
			m.cycleChannel(-1)
			m.refreshMessages()
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.messages, cmd = m.messages.Update(msg)
			return m, cmd
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			m.pushHistory(line)
			if line == "/help" {
				m.addInfo(helpText)
				return m, nil
			}
			if line == "/edit" || line == "/e" {
				draft, err := m.client.EditDraft()
				if err != nil {
					m.addInfo(err.Error())
					return m, nil
				}
				m.input.SetValue("/edit " + draft)
				m.input.CursorEnd()
				return m, nil
			}
			if err := m.client.Execute(m.ctx, line); err != nil {
				m.addInfo(err.Error())
			}
			if m.client.Quitting() {
				return m, tea.Quit
			}
			m.syncStatus()
			m.refreshMessages()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

const helpText = "/join <channel>  /nick <name>  /pfp [file]  /edit [id] [text]  /delete [id]  /server <n>  /older  /connect [user@]host[:port]  /quit  (tab: server, ctrl+n/p: channel, shift+up/down: select message, esc: clear)"

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("247"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	offlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
)

// renderSidebar lists servers, then the focused server's channels.
func renderSidebar(c *client.Client, width int) string {
	var b strings.Builder
	focus, _ := c.Focus()
	for i, srv := range c.Servers {
		label := ansi.Truncate(fmt.Sprintf("%d %s", i+1, srv.Label()), width-2, "…")
		switch st := srv.State.(type) {
		case session.Connected:
			icon := st.Session.Icon
			if icon == "" {
				icon = "  "
			}
			label = icon + label
		case session.Disconnected:
			label = offlineStyle.Render("  " + label + " (offline)")
		}
		if i == focus {
			label = selectedStyle.Render(">") + label
		} else {
			label = " " + label
		}
		b.WriteString(label + "\n")
	}
	srv := c.Focused()
	if srv == nil {
		return b.String()
	}
	b.WriteString("\n")
	sess := srv.Session()
	if sess == nil {
		if d, ok := srv.State.(session.Disconnected); ok {
			b.WriteString(offlineStyle.Render(ansi.Wrap(d.Reason, width, " ")))
		}
		return b.String()
	}
	selected, _ := sess.Selected()
	for i, ch := range sess.Channels {
		name := ansi.Truncate("#"+ch.Name, width-2, "…")
		if i == selected {
			b.WriteString(selectedStyle.Render("> "+name) + "\n")
			continue
		}
		b.WriteString("  " + name + "\n")
	}
	return b.String()
}

// renderMessages joins the pre-wrapped lines of the selected channel.
// The selected message is marked in the gutter and its id shown.
func renderMessages(c *client.Client) string {
	srv := c.Focused()
	if srv == nil {
		return "No servers configured. /connect [user@]host[:port]"
	}
	sess := srv.Session()
	if sess == nil {
		return "Offline."
	}
	if _, ok := sess.SelectedChannel(); !ok {
		return "No channel selected. /join <channel> or ctrl+n."
	}
	sel, hasSel := c.SelectedMessage()
	var lines []string
	for _, lm := range sess.Visible() {
		marked := hasSel && lm.Message.ID == sel.ID
		if marked {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("> #%d", lm.Message.ID)))
		}
		for _, l := range lm.Lines {
			if marked {
				lines = append(lines, selectedStyle.Render("▌")+" "+l)
				continue
			}
			lines = append(lines, "  "+l)
		}
	}
	return strings.Join(lines, "\n")
}

func (m model) View() string {
	title := "aster"
	if srv := m.client.Focused(); srv != nil {
		title += "  " + srv.Label()
		if sess := srv.Session(); sess != nil {
			if ch, ok := sess.SelectedChannel(); ok {
				title += " #" + ch.Name
			}
			title += statusStyle.Render(fmt.Sprintf("  %s  %d online", sess.Phase(), len(sess.Online)))
		}
	}
	header := headerStyle.Render(title)

	if m.width < 50 || m.height < 12 {
		return header + "\n" + "Resize terminal for full view" + "\n" + m.input.View()
	}

	panelHeight := m.messages.Height
	sidebar := boxStyle.Width(sidebarWidth - 2).Height(panelHeight).Render(renderSidebar(m.client, sidebarWidth-4))
	pane := boxStyle.Width(m.paneWidth()).Height(panelHeight).Render(m.messages.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, pane)

	start := 0
	if len(m.info) > maxInfoLines {
		start = len(m.info) - maxInfoLines
	}
	info := statusStyle.Render(strings.Join(m.info[start:], "\n"))
	return header + "\n" + body + "\n" + info + "\n" + m.input.View()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
