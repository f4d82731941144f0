package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/hubescolar/whatsapp/internal/client"
)

// StatusBar displays the daemon address, a session summary and flash messages.
type StatusBar struct {
	*tview.TextView
	daemon  string
	summary string
	flash   string
	isErr   bool
}

// NewStatusBar creates a new status bar.
func NewStatusBar(daemon string) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	sb := &StatusBar{TextView: tv, daemon: daemon}
	sb.render()
	return sb
}

// SetService updates the summary from the daemon status.
func (sb *StatusBar) SetService(s *client.ServiceStatus) {
	if s == nil {
		sb.summary = "[red]offline[-]"
	} else {
		sb.summary = fmt.Sprintf("%d/%d ready | up %s | %d pending %d failed",
			s.Sessions.Ready, s.Sessions.Total, s.Uptime, s.Messages["pending"], s.Messages["failed"])
	}
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string, isErr bool) {
	sb.flash = msg
	sb.isErr = isErr
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.daemon, sb.summary, time.Now().Format("15:04"))
	if sb.flash != "" {
		color := "yellow"
		if sb.isErr {
			color = "red"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", color, tview.Escape(sb.flash))
	}
	_, _ = fmt.Fprint(sb, line)
}
