package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

type BackToDashboardMsg struct{}

type deviceDetailMsg struct {
	Device     Device
	Deliveries []Delivery
}

type deviceDeletedMsg struct{}

type DeviceDetailModel struct {
	Session    *Session
	DeviceID   string
	Device     Device
	Deliveries []Delivery
	Body       viewport.Model
	Form       *CommandFormModel
	Status     string
	Err        error
	width      int
	height     int
}

func NewDeviceDetailModel(s *Session, id string, width, height int) DeviceDetailModel {
	vp := viewport.New(max(width-4, 40), max(height-8, 10))
	return DeviceDetailModel{Session: s, DeviceID: id, Body: vp, width: width, height: height}
}

func (m DeviceDetailModel) Init() tea.Cmd { return m.fetch() }

func (m DeviceDetailModel) fetch() tea.Cmd {
	s, id := m.Session, m.DeviceID
	return func() tea.Msg {
		d, err := s.Device(id)
		if err != nil {
			return errMsg(err)
		}
		recs, err := s.Deliveries(id)
		if err != nil {
			return errMsg(err)
		}
		return deviceDetailMsg{Device: d, Deliveries: recs}
	}
}

func (m DeviceDetailModel) Update(msg tea.Msg) (DeviceDetailModel, tea.Cmd) {
	if m.Form != nil {
		switch msg := msg.(type) {
		case formCancelledMsg:
			m.Form = nil
			return m, nil
		case CommandSentMsg:
			m.Form = nil
			m.Status = fmt.Sprintf("%s delivered via %s", msg.Result.Kind, msg.Result.Transport)
			if msg.Result.Error != "" {
				m.Status += " (" + msg.Result.Error + ")"
			}
			return m, m.fetch()
		default:
			f, cmd := m.Form.Update(msg)
			m.Form = &f
			return m, cmd
		}
	}

	switch msg := msg.(type) {
	case deviceDetailMsg:
		m.Device, m.Deliveries, m.Err = msg.Device, msg.Deliveries, nil
		m.Body.SetContent(m.render())
		return m, nil
	case deviceDeletedMsg:
		return m, func() tea.Msg { return BackToDashboardMsg{} }
	case errMsg:
		m.Err = msg
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "backspace":
			return m, func() tea.Msg { return BackToDashboardMsg{} }
		case "r":
			return m, m.fetch()
		case "c":
			f := NewCommandFormModel(m.DeviceID, m.Session, m.width, m.height)
			m.Form = &f
			return m, f.Init()
		case "D":
			s, id := m.Session, m.DeviceID
			return m, func() tea.Msg {
				if err := s.DeleteDevice(id); err != nil {
					return errMsg(err)
				}
				return deviceDeletedMsg{}
			}
		}
	}
	var cmd tea.Cmd
	m.Body, cmd = m.Body.Update(msg)
	return m, cmd
}

func row(label, value string) string {
	if value == "" {
		value = "-"
	}
	return labelStyle.Render(label) + value + "\n"
}

func (m DeviceDetailModel) render() string {
	d := m.Device
	var b strings.Builder
	b.WriteString(row("Name", d.DisplayName))
	b.WriteString(row("Status", d.Status))
	b.WriteString(row("Link", linkLabel(d)))
	b.WriteString(row("Location", d.Location))
	b.WriteString(row("Uptime", d.Uptime))
	b.WriteString(row("Firmware", d.FirmwareVersion))
	b.WriteString(row("Agent", d.AgentVersion))
	b.WriteString(row("Last seen", ago(d.LastSeenAt)+" ago"))
	b.WriteString(row("Address", fmt.Sprintf("%s (declared %s) vend port %d", d.Network.SourceIP, d.Network.DeclaredIP, d.Network.VendPort)))

	keys := make([]string, 0, len(d.Sensors))
	for k := range d.Sensors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sensors []string
	for _, k := range keys {
		sensors = append(sensors, k+"="+string(d.Sensors[k]))
	}
	b.WriteString(row("Sensors", strings.Join(sensors, "  ")))

	var pending []string
	for k := range d.Pending {
		pending = append(pending, k)
	}
	sort.Strings(pending)
	b.WriteString(row("Pending", strings.Join(pending, ", ")))
	for k, v := range d.ExternalIDs {
		b.WriteString(row(k, v))
	}

	b.WriteString("\n" + focusedStyle.Render("Recent deliveries") + "\n")
	if len(m.Deliveries) == 0 {
		b.WriteString(blurredStyle.Render("none") + "\n")
	}
	for _, rec := range m.Deliveries {
		line := fmt.Sprintf("%s  %-16s %-12s", rec.CreatedAt.Local().Format("01-02 15:04:05"), rec.Kind, rec.Transport)
		if rec.Error != "" {
			line += "  " + errorMessageStyle(rec.Error)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m DeviceDetailModel) View() string {
	if m.Form != nil {
		return m.Form.View()
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Machine "+m.DeviceID) + "\n\n")
	b.WriteString(boxStyle.Render(m.Body.View()))
	b.WriteString("\n")
	b.WriteString(blurredStyle.Render("c: send command  r: refresh  D: forget machine  esc: back"))
	if m.Status != "" {
		b.WriteString("\n" + okStyle(m.Status))
	}
	if m.Err != nil {
		b.WriteString("\n" + errorMessageStyle(m.Err.Error()))
	}
	return b.String()
}
