package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Restart key.Binding
	Filter  key.Binding
	Debug   key.Binding
	Logs    key.Binding
	Up      key.Binding
	Down    key.Binding
	LogUp   key.Binding
	LogDown key.Binding
	Approve key.Binding
	Reject  key.Binding
	Delete  key.Binding
	Upload  key.Binding
	Read    key.Binding
	ReadAll key.Binding
	SignOut key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Restart: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reconnect"),
		),
		Filter: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "status filter"),
		),
		Debug: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "debug logs"),
		),
		Logs: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "toggle logs"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "select up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "select down"),
		),
		LogUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "scroll logs up"),
		),
		LogDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "scroll logs down"),
		),
		Approve: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "approve"),
		),
		Reject: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "reject"),
		),
		Delete: key.NewBinding(
			key.WithKeys("D"),
			key.WithHelp("D", "delete"),
		),
		Upload: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "attach document"),
		),
		Read: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "mark read"),
		),
		ReadAll: key.NewBinding(
			key.WithKeys("M"),
			key.WithHelp("M", "mark all read"),
		),
		SignOut: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "sign out"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "more"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Approve, k.Reject, k.Filter, k.Restart, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Approve, k.Reject, k.Delete, k.Upload},
		{k.Read, k.ReadAll, k.Filter, k.Restart, k.SignOut},
		{k.Logs, k.LogUp, k.LogDown, k.Debug, k.Help, k.Quit},
	}
}
