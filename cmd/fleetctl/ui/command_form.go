package ui

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type FormState int

const (
	StateSelecting FormState = iota
	StateFilling
)

type cmdItem struct {
	title, desc string
	index       int
}

func (i cmdItem) Title() string       { return i.title }
func (i cmdItem) Description() string { return i.desc }
func (i cmdItem) FilterValue() string { return i.title }

// CommandSentMsg carries the backend's answer to a delivery.
type CommandSentMsg struct{ Result CommandResult }

type formCancelledMsg struct{}

type FieldDef struct {
	Name        string
	Placeholder string
	Required    bool
	Default     string
}

type CommandDef struct {
	Kind        string
	Description string
	Fields      []FieldDef
	// Build turns field values into the command payload.
	Build func(deviceID string, values map[string]string) (json.RawMessage, error)
}

var availableCommands = []CommandDef{
	{
		Kind:        "sync-products",
		Description: "Replace the machine's product catalogue",
		Fields: []FieldDef{
			{Name: "products", Placeholder: `JSON array, e.g. [{"id":"a1","name":"Cola","price":250}]`, Required: true, Default: "[]"},
		},
		Build: func(_ string, v map[string]string) (json.RawMessage, error) {
			var products []json.RawMessage
			if err := json.Unmarshal([]byte(v["products"]), &products); err != nil {
				return nil, fmt.Errorf("products must be a JSON array: %w", err)
			}
			return json.Marshal(map[string]any{"products": products})
		},
	},
	{
		Kind:        "terminal-config",
		Description: "Configure the card reader on the machine",
		Fields: []FieldDef{
			{Name: "readerId", Placeholder: "tmr_...", Required: true},
			{Name: "secretKey", Placeholder: "sk_...", Required: false},
			{Name: "simulation", Placeholder: "true or false", Required: false, Default: "false"},
		},
		Build: func(deviceID string, v map[string]string) (json.RawMessage, error) {
			sim, err := strconv.ParseBool(strings.TrimSpace(v["simulation"]))
			if err != nil {
				return nil, fmt.Errorf("simulation must be true or false")
			}
			cfg := map[string]any{"readerId": v["readerId"], "machineId": deviceID, "simulation": sim}
			if v["secretKey"] != "" {
				cfg["secretKey"] = v["secretKey"]
			}
			return json.Marshal(map[string]any{"config": cfg})
		},
	},
}

type CommandFormModel struct {
	DeviceID    string
	Session     *Session
	State       FormState
	List        list.Model
	Inputs      []textinput.Model
	Focused     int
	SelectedCmd int
	Err         error
	sending     bool
}

func NewCommandFormModel(deviceID string, session *Session, width, height int) CommandFormModel {
	items := []list.Item{}
	for i, cmd := range availableCommands {
		items = append(items, cmdItem{title: cmd.Kind, desc: cmd.Description, index: i})
	}
	l := list.New(items, list.NewDefaultDelegate(), max(width-4, 40), max(height-6, 10))
	l.Title = "Send command to " + deviceID
	l.SetShowHelp(false)
	return CommandFormModel{DeviceID: deviceID, Session: session, State: StateSelecting, List: l}
}

func (m CommandFormModel) Init() tea.Cmd { return nil }

func (m *CommandFormModel) initInputs() {
	def := availableCommands[m.SelectedCmd]
	m.Inputs = make([]textinput.Model, len(def.Fields))
	for i, f := range def.Fields {
		ti := textinput.New()
		ti.Placeholder = f.Placeholder
		ti.CharLimit = 4096
		ti.Prompt = fmt.Sprintf("%-11s", f.Name+":")
		if f.Default != "" {
			ti.SetValue(f.Default)
		}
		m.Inputs[i] = ti
	}
	m.Focused = 0
	if len(m.Inputs) > 0 {
		m.Inputs[0].Focus()
	}
}

func (m CommandFormModel) Update(msg tea.Msg) (CommandFormModel, tea.Cmd) {
	switch msg := msg.(type) {
	case errMsg:
		m.Err, m.sending = msg, false
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "esc" {
			if m.State == StateFilling {
				m.State, m.Err = StateSelecting, nil
				return m, nil
			}
			return m, func() tea.Msg { return formCancelledMsg{} }
		}
		if m.State == StateSelecting && msg.String() == "enter" {
			if it, ok := m.List.SelectedItem().(cmdItem); ok {
				m.SelectedCmd = it.index
				m.State = StateFilling
				m.initInputs()
				return m, textinput.Blink
			}
		}
		if m.State == StateFilling {
			switch msg.Type {
			case tea.KeyEnter:
				if m.Focused == len(m.Inputs)-1 && !m.sending {
					return m.submit()
				}
				m.focus(1)
				return m, nil
			case tea.KeyTab, tea.KeyDown:
				m.focus(1)
				return m, nil
			case tea.KeyShiftTab, tea.KeyUp:
				m.focus(-1)
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	if m.State == StateSelecting {
		m.List, cmd = m.List.Update(msg)
		return m, cmd
	}
	cmds := make([]tea.Cmd, len(m.Inputs))
	for i := range m.Inputs {
		m.Inputs[i], cmds[i] = m.Inputs[i].Update(msg)
	}
	return m, tea.Batch(cmds...)
}

func (m *CommandFormModel) focus(delta int) {
	if len(m.Inputs) == 0 {
		return
	}
	m.Inputs[m.Focused].Blur()
	m.Focused = (m.Focused + delta + len(m.Inputs)) % len(m.Inputs)
	m.Inputs[m.Focused].Focus()
}

func (m CommandFormModel) values() (map[string]string, error) {
	def := availableCommands[m.SelectedCmd]
	out := make(map[string]string, len(def.Fields))
	for i, f := range def.Fields {
		v := strings.TrimSpace(m.Inputs[i].Value())
		if v == "" && f.Required {
			return nil, fmt.Errorf("%s is required", f.Name)
		}
		out[f.Name] = v
	}
	return out, nil
}

func (m CommandFormModel) submit() (CommandFormModel, tea.Cmd) {
	def := availableCommands[m.SelectedCmd]
	vals, err := m.values()
	if err != nil {
		m.Err = err
		return m, nil
	}
	payload, err := def.Build(m.DeviceID, vals)
	if err != nil {
		m.Err = err
		return m, nil
	}
	m.sending, m.Err = true, nil
	s, id := m.Session, m.DeviceID
	return m, func() tea.Msg {
		res, err := s.Deliver(id, def.Kind, payload)
		if err != nil {
			return errMsg(err)
		}
		return CommandSentMsg{Result: res}
	}
}

func (m CommandFormModel) View() string {
	if m.State == StateSelecting {
		return m.List.View() + "\n" + blurredStyle.Render("enter: choose  esc: cancel")
	}
	def := availableCommands[m.SelectedCmd]
	var b strings.Builder
	b.WriteString(titleStyle.Render(def.Kind+" -> "+m.DeviceID) + "\n\n")
	for i := range m.Inputs {
		b.WriteString(m.Inputs[i].View() + "\n")
	}
	b.WriteString("\n")
	if m.sending {
		b.WriteString(focusedStyle.Render("delivering..."))
	} else {
		b.WriteString(blurredStyle.Render("enter on last field: send  esc: back"))
	}
	if m.Err != nil {
		b.WriteString("\n" + errorMessageStyle(m.Err.Error()))
	}
	return b.String()
}
