// Package ui holds the shared look of the terminal UI.
package ui

import "github.com/gdamore/tcell/v2"

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor       tcell.Color
	FgColor       tcell.Color
	BorderColor   tcell.Color
	TitleColor    tcell.Color
	TableHeaderFg tcell.Color
	TableCursorFg tcell.Color
	TableCursorBg tcell.Color
	ReadyColor    tcell.Color
	PendingColor  tcell.Color
	FailedColor   tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:       tcell.ColorBlack,
		FgColor:       tcell.ColorCadetBlue,
		BorderColor:   tcell.ColorDodgerBlue,
		TitleColor:    tcell.ColorFuchsia,
		TableHeaderFg: tcell.ColorWhite,
		TableCursorFg: tcell.ColorBlack,
		TableCursorBg: tcell.ColorAqua,
		ReadyColor:    tcell.ColorLightGreen,
		PendingColor:  tcell.ColorOrange,
		FailedColor:   tcell.ColorOrangeRed,
	}
}

// StateColor picks the color a session state is drawn in.
func (t *Theme) StateColor(state string) tcell.Color {
	switch state {
	case "ready":
		return t.ReadyColor
	case "initializing", "awaiting_scan", "disconnected":
		return t.PendingColor
	case "auth_failed":
		return t.FailedColor
	default:
		return t.FgColor
	}
}
