package views

import (
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/hubescolar/whatsapp/internal/client"
	"github.com/hubescolar/whatsapp/internal/tui/ui"
)

var sessionColumns = []string{"SESSION", "STATE", "PHONE", "QR", "SINCE"}

// SessionsView lists the sessions of the daemon.
type SessionsView struct {
	*tview.Table
	theme *ui.Theme
	ids   []string
}

// NewSessionsView creates the session table.
func NewSessionsView(theme *ui.Theme) *SessionsView {
	t := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	t.SetBorder(true)
	t.SetTitle(" Sessions ")
	t.SetBorderColor(theme.BorderColor)
	t.SetTitleColor(theme.TitleColor)
	t.SetBackgroundColor(theme.BgColor)
	t.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.TableCursorFg).Background(theme.TableCursorBg))
	return &SessionsView{Table: t, theme: theme}
}

// Update redraws the table, keeping the selected session when it still exists.
func (v *SessionsView) Update(sessions []client.SessionInfo) {
	selected := v.Selected()
	v.Clear()
	for col, name := range sessionColumns {
		v.SetCell(0, col, tview.NewTableCell(name).
			SetTextColor(v.theme.TableHeaderFg).
			SetSelectable(false).
			SetExpansion(1))
	}

	v.ids = v.ids[:0]
	row := 1
	for _, s := range sessions {
		cells := SessionRow(s, time.Now())
		for col, text := range cells {
			cell := tview.NewTableCell(tview.Escape(text)).SetTextColor(v.theme.FgColor).SetExpansion(1)
			if col == 1 {
				cell.SetTextColor(v.theme.StateColor(s.Status))
			}
			v.SetCell(row, col, cell)
		}
		v.ids = append(v.ids, s.SessionID)
		if s.SessionID == selected {
			v.Select(row, 0)
		}
		row++
	}
	if selected == "" && len(v.ids) > 0 {
		v.Select(1, 0)
	}
}

// Selected returns the id of the highlighted session, if any.
func (v *SessionsView) Selected() string {
	row, _ := v.GetSelection()
	if row < 1 || row > len(v.ids) {
		return ""
	}
	return v.ids[row-1]
}

// SessionRow formats one session as table cells.
func SessionRow(s client.SessionInfo, now time.Time) []string {
	phone := "-"
	if s.PhoneNumber != nil && *s.PhoneNumber != "" {
		phone = "+" + *s.PhoneNumber
	}
	qr := ""
	if s.HasQR {
		qr = "pending"
	}
	state := s.Status
	if s.Failure != "" {
		state += " (" + s.Failure + ")"
	}
	since := "-"
	if !s.Since.IsZero() {
		since = now.Sub(s.Since).Round(time.Second).String()
	}
	return []string{s.SessionID, state, phone, qr, since}
}
