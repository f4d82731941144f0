package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/hubescolar/whatsapp/internal/tui/model"
	"github.com/hubescolar/whatsapp/internal/tui/ui"
)

// QRView shows the pairing code of one session as a terminal QR code.
type QRView struct {
	*tview.TextView
}

// NewQRView creates an empty QR view.
func NewQRView(theme *ui.Theme) *QRView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitleColor(theme.TitleColor)
	return &QRView{TextView: tv}
}

// Show renders st.
func (v *QRView) Show(st model.QRState) {
	v.SetTitle(fmt.Sprintf(" Session %s ", st.SessionID))
	v.Clear()
	switch {
	case st.Code != "":
		_, _ = fmt.Fprintf(v, "\n  Scan this QR code with WhatsApp:\n\n%s\n  [::d]Waiting for authentication...", RenderQR(st.Code))
	case st.Ready:
		phone := st.Phone
		if phone == "" {
			phone = "unknown number"
		}
		_, _ = fmt.Fprintf(v, "\n\n[green]Connected[-] as %s", phone)
	case st.Failure != "":
		_, _ = fmt.Fprintf(v, "\n\n[red]Authentication failed:[-] %s\n\n[::d]Reset the session to pair again", tview.Escape(st.Failure))
	default:
		_, _ = fmt.Fprint(v, "\n\nWaiting for a pairing code...")
	}
}

// ShowMessage displays a status message.
func (v *QRView) ShowMessage(msg string) {
	v.Clear()
	_, _ = fmt.Fprintf(v, "\n\n%s", tview.Escape(msg))
}

// RenderQR converts a pairing code to a compact QR block using Unicode
// half-block characters. Two bitmap rows become one terminal line.
func RenderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}
	qr.DisableBorder = false

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := 0; x < cols; x++ {
			top := bitmap[y][x] // true = dark module
			bot := y+1 < rows && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('\u2588') // █
			case top:
				sb.WriteRune('\u2580') // ▀
			case bot:
				sb.WriteRune('\u2584') // ▄
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
