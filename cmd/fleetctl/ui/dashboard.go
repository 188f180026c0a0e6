package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const refreshEvery = 5 * time.Second

type devicesMsg struct{ Devices []Device }

type refreshTickMsg struct{}

type DeviceSelectedMsg struct{ DeviceID string }

type DashboardModel struct {
	Session *Session
	Table   table.Model
	Devices []Device
	Err     error
	updated time.Time
}

func NewDashboardModel(s *Session, width, height int) DashboardModel {
	columns := []table.Column{
		{Title: "Machine", Width: 24},
		{Title: "Status", Width: 12},
		{Title: "Link", Width: 8},
		{Title: "Last seen", Width: 12},
		{Title: "Pending", Width: 8},
		{Title: "Address", Width: 22},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(max(height-10, 5)),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	st.Selected = st.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(st)
	return DashboardModel{Session: s, Table: t}
}

func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(time.Time) tea.Msg { return refreshTickMsg{} })
}

func (m DashboardModel) fetch() tea.Cmd {
	s := m.Session
	return func() tea.Msg {
		devs, err := s.Devices()
		if err != nil {
			return errMsg(err)
		}
		return devicesMsg{Devices: devs}
	}
}

func linkLabel(d Device) string {
	switch {
	case d.Live:
		return "live"
	case d.Online:
		return "polling"
	default:
		return "offline"
	}
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t).Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	return d.Round(time.Minute).String()
}

func (m DashboardModel) Update(msg tea.Msg) (DashboardModel, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case devicesMsg:
		m.Devices, m.Err, m.updated = msg.Devices, nil, time.Now()
		rows := make([]table.Row, 0, len(msg.Devices))
		for _, d := range msg.Devices {
			addr := d.Network.SourceIP
			if addr == "" {
				addr = d.Network.DeclaredIP
			}
			rows = append(rows, table.Row{d.ID, d.Status, linkLabel(d), ago(d.LastSeenAt), fmt.Sprint(len(d.Pending)), addr})
		}
		m.Table.SetRows(rows)
		return m, nil
	case errMsg:
		m.Err = msg
		return m, nil
	case refreshTickMsg:
		return m, tea.Batch(m.fetch(), tick())
	case tea.KeyMsg:
		switch msg.String() {
		case "r":
			return m, m.fetch()
		case "enter":
			if row := m.Table.SelectedRow(); len(row) > 0 {
				id := row[0]
				return m, func() tea.Msg { return DeviceSelectedMsg{DeviceID: id} }
			}
		}
	}
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m DashboardModel) View() string {
	var b strings.Builder
	live := 0
	for _, d := range m.Devices {
		if d.Live {
			live++
		}
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf("Fleet - %d machines, %d live", len(m.Devices), live)) + "\n\n")
	b.WriteString(m.Table.View())
	b.WriteString("\n\n")
	b.WriteString(blurredStyle.Render("enter: details  r: refresh  q: quit"))
	if !m.updated.IsZero() {
		b.WriteString(blurredStyle.Render("  (updated " + m.updated.Format("15:04:05") + ")"))
	}
	if m.Err != nil {
		b.WriteString("\n" + errorMessageStyle(m.Err.Error()))
	}
	return b.String()
}
