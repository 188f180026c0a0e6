package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

type state int

const (
	stateLogin state = iota
	stateDashboard
	stateDeviceDetail
)

type RootModel struct {
	State     state
	Session   *Session
	Login     LoginModel
	Dashboard DashboardModel
	Detail    DeviceDetailModel
	Quitting  bool
	width     int
	height    int
}

func NewRootModel(s *Session) RootModel {
	return RootModel{State: stateLogin, Session: s, Login: NewLoginModel(s)}
}

func (m RootModel) Init() tea.Cmd {
	return m.Login.Init()
}

func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if m.State != stateLogin {
			m.Dashboard.Table.SetHeight(max(msg.Height-10, 5))
		}
		if m.State == stateDeviceDetail {
			m.Detail.Body.Width = max(msg.Width-4, 40)
			m.Detail.Body.Height = max(msg.Height-8, 10)
		}
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || (msg.String() == "q" && m.State == stateDashboard) {
			m.Quitting = true
			_ = m.Session.Logout()
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	switch m.State {
	case stateLogin:
		if _, ok := msg.(loginOKMsg); ok {
			m.State = stateDashboard
			m.Dashboard = NewDashboardModel(m.Session, m.width, m.height)
			return m, m.Dashboard.Init()
		}
		m.Login, cmd = m.Login.Update(msg)

	case stateDashboard:
		if sel, ok := msg.(DeviceSelectedMsg); ok {
			m.State = stateDeviceDetail
			m.Detail = NewDeviceDetailModel(m.Session, sel.DeviceID, m.width, m.height)
			return m, m.Detail.Init()
		}
		m.Dashboard, cmd = m.Dashboard.Update(msg)

	case stateDeviceDetail:
		switch msg.(type) {
		case BackToDashboardMsg:
			m.State = stateDashboard
			return m, m.Dashboard.fetch()
		case refreshTickMsg:
			// keep the dashboard ticker alive while a machine is open
			return m, tick()
		}
		m.Detail, cmd = m.Detail.Update(msg)
	}
	return m, cmd
}

func (m RootModel) View() string {
	if m.Quitting {
		return "Bye!\n"
	}
	switch m.State {
	case stateLogin:
		return m.Login.View()
	case stateDashboard:
		return m.Dashboard.View()
	case stateDeviceDetail:
		return m.Detail.View()
	}
	return "Unknown state"
}
