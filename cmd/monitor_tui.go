// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/musestat/internal/session"
	"github.com/Thermoquad/musestat/pkg/muse"
)

const opTimeout = 45 * time.Second

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Controller is the session surface the TUI drives
type Controller interface {
	Status() session.Status
	Stats() *session.Stats
	Connect(ctx context.Context, target string) (session.DeviceInfo, error)
	Disconnect(ctx context.Context) error
	StartStreaming(ctx context.Context) error
	StopStreaming(ctx context.Context) error
	RestartStreaming(ctx context.Context) error
}

type monitorConfig struct {
	dev              Controller
	connInfo         string
	target           string
	autostart        bool
	transportDropped func() uint64
	onConnect        func(session.DeviceInfo)
}

// TUI model
type monitorModel struct {
	cfg monitorConfig

	status     session.Status
	stats      session.StatsSnapshot
	latest     [len(muse.Families)]*muse.Frame
	latestTime [len(muse.Families)]time.Time

	eventLog      []eventLogEntry
	maxLogEntries int

	busy        string // operation in flight
	spinner     spinner.Model
	targetInput textinput.Model
	editing     bool

	width    int
	height   int
	quitting bool
}

// Messages
type monitorTickMsg time.Time

type frameBatchMsg struct {
	frames []muse.Frame
}

type opResultMsg struct {
	op   string
	info session.DeviceInfo
	err  error
	// then runs after a successful op
	then tea.Cmd
}

func initialMonitorModel(c monitorConfig) monitorModel {
	ti := textinput.New()
	ti.Prompt = "Target: "
	ti.Placeholder = "any headset"
	ti.CharLimit = 64
	ti.Width = 32
	ti.SetValue(c.target)

	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("11"))),
	)

	return monitorModel{
		cfg:           c,
		status:        c.dev.Status(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		spinner:       sp,
		targetInput:   ti,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	cmds := []tea.Cmd{monitorTickCmd(), m.spinner.Tick}
	if m.cfg.autostart {
		cmds = append(cmds, m.connectCmd(m.cfg.target, true))
	}
	return tea.Batch(cmds...)
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// runOp runs a session operation off the UI goroutine
func (m monitorModel) runOp(op string, fn func(ctx context.Context) error, then tea.Cmd) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return opResultMsg{op: op, err: fn(ctx), then: then}
	}
}

func (m monitorModel) connectCmd(target string, start bool) tea.Cmd {
	dev := m.cfg.dev
	onConnect := m.cfg.onConnect
	var then tea.Cmd
	if start {
		then = m.runOp("start streaming", dev.StartStreaming, nil)
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		info, err := dev.Connect(ctx, target)
		if err == nil && onConnect != nil {
			onConnect(info)
		}
		return opResultMsg{op: "connect", info: info, err: err, then: then}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing {
			return m.handleEditKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		m.refresh()
		return m, monitorTickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case frameBatchMsg:
		now := time.Now()
		for i := range msg.frames {
			f := msg.frames[i]
			if f.Family.Valid() {
				m.latest[f.Family] = &f
				m.latestTime[f.Family] = now
			}
		}

	case opResultMsg:
		m.refresh()
		m.busy = ""
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", capitalize(msg.op), msg.err), true)
			return m, nil
		}
		if msg.op == "connect" {
			m.addLogEntry(fmt.Sprintf("Connected to %s (session %s)", msg.info, shortID(m.status.SessionID)), false)
		} else {
			m.addLogEntry(capitalize(msg.op)+" ok", false)
		}
		if msg.then != nil {
			m.busy = "starting"
			return m, msg.then
		}
	}

	return m, nil
}

func (m monitorModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}

	if m.busy != "" {
		return m, nil
	}

	switch msg.String() {
	case "c":
		if m.status.Connected {
			m.addLogEntry("Already connected; press d to disconnect first", true)
			return m, nil
		}
		m.editing = true
		cmd := m.targetInput.Focus()
		return m, cmd

	case "d":
		if !m.status.Connected {
			return m, nil
		}
		m.busy = "disconnecting"
		return m, m.runOp("disconnect", m.cfg.dev.Disconnect, nil)

	case "s":
		if m.status.Streaming {
			m.busy = "stopping"
			return m, m.runOp("stop streaming", m.cfg.dev.StopStreaming, nil)
		}
		m.busy = "starting"
		return m, m.runOp("start streaming", m.cfg.dev.StartStreaming, nil)

	case "r":
		m.busy = "restarting"
		return m, m.runOp("restart streaming", m.cfg.dev.RestartStreaming, nil)
	}

	return m, nil
}

func (m monitorModel) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "esc":
		m.editing = false
		m.targetInput.Blur()
		return m, nil
	case "enter":
		m.editing = false
		m.targetInput.Blur()
		m.busy = "connecting"
		target := strings.TrimSpace(m.targetInput.Value())
		return m, m.connectCmd(target, false)
	}

	var cmd tea.Cmd
	m.targetInput, cmd = m.targetInput.Update(msg)
	return m, cmd
}

func (m *monitorModel) refresh() {
	prev := m.status
	m.status = m.cfg.dev.Status()
	m.stats = m.cfg.dev.Stats().Snapshot()
	if prev.Connected && !m.status.Connected && m.busy == "" {
		m.addLogEntry("Connection lost", true)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("MUSESTAT - SESSION MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Preset: %s | c connect  d disconnect  s start/stop  r restart  q quit",
		m.cfg.connInfo, cfg.Device.Preset)))
	s.WriteString("\n\n")

	// Session state
	var state strings.Builder
	switch {
	case !m.status.Connected:
		state.WriteString(warningStyle.Render("○ Disconnected"))
	case m.status.Streaming:
		state.WriteString(valueStyle.Render("● Streaming"))
	default:
		state.WriteString(valueStyle.Render("● Connected"))
	}
	if m.status.Connected {
		state.WriteString(fmt.Sprintf("   %s %s   %s %s",
			labelStyle.Render("Device:"), valueStyle.Render(m.status.Device.String()),
			labelStyle.Render("Session:"), headerStyle.Render(shortID(m.status.SessionID)),
		))
	}
	if m.busy != "" {
		state.WriteString("   " + m.spinner.View() + " " + warningStyle.Render(m.busy+"..."))
	}
	if m.editing {
		state.WriteString("\n" + m.targetInput.View())
	}
	s.WriteString(boxStyle.Render(state.String()))
	s.WriteString("\n\n")

	// Statistics
	st := m.stats
	errors := st.DecodeErrors + st.SinkErrors
	var dropped uint64
	if m.cfg.transportDropped != nil {
		dropped = m.cfg.transportDropped()
	}

	var stats strings.Builder
	stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Notifications:"), valueStyle.Render(fmt.Sprintf("%d (%.1f/s)", st.Notifications, st.NotificationRate)),
		labelStyle.Render("EEG:"), valueStyle.Render(fmt.Sprintf("%d (%.1f Hz)", st.EEGFrames, st.EEGFrameRate)),
		labelStyle.Render("PPG:"), valueStyle.Render(fmt.Sprintf("%d (%.1f Hz)", st.PPGFrames, st.PPGFrameRate)),
	))
	stats.WriteString(fmt.Sprintf("%s %s   %s %d   %s %d   %s %d   %s %d",
		labelStyle.Render("Errors:"), func() string {
			if errors > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", errors))
			}
			return valueStyle.Render("0")
		}(),
		labelStyle.Render("Gated:"), st.GateDropped,
		labelStyle.Render("Unmapped:"), st.Unrecognized,
		labelStyle.Render("Dropped:"), dropped,
		labelStyle.Render("Transitions:"), st.Transitions,
	))
	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n\n")

	// Latest values
	s.WriteString(labelStyle.Render("Latest Frames:"))
	s.WriteString("\n")
	var latest strings.Builder
	for _, family := range muse.Families {
		f := m.latest[family]
		name := strings.ToUpper(family.String())
		if f == nil {
			latest.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render(name+":"), headerStyle.Render("(none yet)")))
			continue
		}
		labels := family.Labels()
		parts := make([]string, len(f.Values))
		for i, v := range f.Values {
			label := fmt.Sprintf("ch%d", i)
			if i < len(labels) {
				label = labels[i]
			}
			parts[i] = fmt.Sprintf("%s=%s", headerStyle.Render(label), valueStyle.Render(fmt.Sprintf("%.0f", v)))
		}
		age := time.Since(m.latestTime[family]).Truncate(100 * time.Millisecond)
		latest.WriteString(fmt.Sprintf("%s %s %s\n", labelStyle.Render(name+":"), strings.Join(parts, "  "),
			headerStyle.Render(fmt.Sprintf("(%s ago, %s)", age, family.Unit()))))
	}
	s.WriteString(boxStyle.Render(strings.TrimSuffix(latest.String(), "\n")))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 20
	if logHeight < 5 {
		logHeight = 5
	}

	var logContent strings.Builder
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
