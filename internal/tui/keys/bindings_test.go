package keys

import (
	"reflect"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestViewBindingsShadowGlobal(t *testing.T) {
	r := NewRegistry()
	var hit string
	r.AddGlobal("reset", &Action{Key: tcell.KeyRune, Rune: 'x', Handler: func() { hit = "global" }})
	r.AddView("qr", "reset", &Action{Key: tcell.KeyRune, Rune: 'x', Handler: func() { hit = "qr" }})

	ev := tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)
	if !r.HandleEvent("qr", ev) || hit != "qr" {
		t.Errorf("qr view: hit = %q", hit)
	}
	if !r.HandleEvent("sessions", ev) || hit != "global" {
		t.Errorf("sessions view: hit = %q", hit)
	}
	if r.HandleEvent("sessions", tcell.NewEventKey(tcell.KeyRune, 'z', tcell.ModNone)) {
		t.Error("unbound key handled")
	}
}

func TestHints(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal("quit", &Action{Description: "q:quit", Visible: true})
	r.AddGlobal("hidden", &Action{Description: "h:hidden"})
	r.AddView("sessions", "new", &Action{Description: "n:new", Visible: true})
	r.AddView("sessions", "disconnect", &Action{Description: "d:disconnect", Visible: true})

	want := []string{"d:disconnect", "n:new", "q:quit"}
	if got := r.Hints("sessions"); !reflect.DeepEqual(got, want) {
		t.Errorf("Hints() = %v, want %v", got, want)
	}
}
