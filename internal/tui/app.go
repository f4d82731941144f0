// Package tui is a terminal monitor for the sessions of a running daemon.
package tui

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/hubescolar/whatsapp/internal/session"
	"github.com/hubescolar/whatsapp/internal/tui/keys"
	"github.com/hubescolar/whatsapp/internal/tui/model"
	"github.com/hubescolar/whatsapp/internal/tui/ui"
	"github.com/hubescolar/whatsapp/internal/tui/views"
)

const (
	pageSessions = "sessions"
	pageQR       = "qr"
	pageNew      = "new"

	refreshEvery = 3 * time.Second
	flashFor     = 5 * time.Second
	callTimeout  = 10 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	registry  *keys.Registry
	statusBar *views.StatusBar
	sessions  *views.SessionsView
	qrView    *views.QRView
	newInput  *tview.InputField
	hints     *tview.TextView

	mu        sync.Mutex
	qrSession string // session shown on the QR page

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application for the daemon behind backend.
func NewApp(backend model.Backend, daemon string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(backend),
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(daemon),
		sessions:  views.NewSessionsView(theme),
		qrView:    views.NewQRView(theme),
		newInput:  tview.NewInputField().SetLabel(" Session id: "),
		hints:     tview.NewTextView().SetDynamicColors(true),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.setupBindings()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.AddGlobal("refresh", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:refresh", Visible: true,
		Handler: func() { go a.refresh() },
	})

	a.registry.AddView(pageSessions, "open", &keys.Action{
		Key:         tcell.KeyEnter,
		Description: "enter:qr", Visible: true,
		Handler: func() {
			if id := a.sessions.Selected(); id != "" {
				a.openQR(id)
			}
		},
	})
	a.registry.AddView(pageSessions, "new", &keys.Action{
		Rune: 'n', Key: tcell.KeyRune,
		Description: "n:new", Visible: true,
		Handler: func() {
			a.newInput.SetText("")
			a.switchTo(pageNew)
			a.app.SetFocus(a.newInput)
		},
	})
	a.registry.AddView(pageSessions, "disconnect", &keys.Action{
		Rune: 'd', Key: tcell.KeyRune,
		Description: "d:disconnect", Visible: true,
		Handler: func() { a.sessionAction(a.sessions.Selected(), a.vm.Disconnect) },
	})
	a.registry.AddView(pageSessions, "reset", &keys.Action{
		Rune: 'x', Key: tcell.KeyRune,
		Description: "x:reset", Visible: true,
		Handler: func() { a.sessionAction(a.sessions.Selected(), a.vm.Reset) },
	})
	a.registry.AddView(pageQR, "reset", &keys.Action{
		Rune: 'x', Key: tcell.KeyRune,
		Description: "x:reset", Visible: true,
		Handler: func() {
			a.qrView.ShowMessage("Resetting...")
			a.sessionAction(a.shownQR(), a.vm.Reset)
		},
	})
}

func (a *App) setupLayout() {
	a.newInput.SetDoneFunc(func(key tcell.Key) {
		id := strings.TrimSpace(a.newInput.GetText())
		if key != tcell.KeyEnter || id == "" {
			a.switchTo(pageSessions)
			return
		}
		if err := session.Validate(id); err != nil {
			a.vm.Flash.Error(err.Error(), flashFor)
			a.drawFlash()
			return
		}
		a.openQR(id)
	})
	newForm := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.newInput, 1, 0, true).
		AddItem(tview.NewBox(), 0, 1, false)
	newForm.SetBorder(true).SetTitle(" New session ")

	a.pages.AddPage(pageSessions, a.sessions, true, true)
	a.pages.AddPage(pageQR, a.qrView, true, false)
	a.pages.AddPage(pageNew, newForm, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.hints, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)
	a.app.SetRoot(root, true)
	a.drawHints(pageSessions)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		page, _ := a.pages.GetFrontPage()

		// Let text input widgets handle all keys normally.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}
		if event.Key() == tcell.KeyEscape && page != pageSessions {
			a.switchTo(pageSessions)
			return nil
		}
		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	})
}

func (a *App) shownQR() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.qrSession
}

func (a *App) showQRFor(id string) {
	a.mu.Lock()
	a.qrSession = id
	a.mu.Unlock()
}

func (a *App) switchTo(page string) {
	if page != pageQR {
		a.showQRFor("")
	}
	a.pages.SwitchToPage(page)
	if page == pageSessions {
		a.app.SetFocus(a.sessions)
	}
	a.drawHints(page)
}

func (a *App) drawHints(page string) {
	a.hints.SetText(" [::d]" + strings.Join(a.registry.Hints(page), "  "))
}

func (a *App) drawFlash() {
	msg, isErr := a.vm.Flash.Get()
	a.statusBar.SetFlash(msg, isErr)
}

// openQR starts the session if needed and shows its pairing state.
func (a *App) openQR(id string) {
	a.qrView.SetTitle(" Session " + id + " ")
	a.qrView.ShowMessage("Requesting a QR code...")
	a.switchTo(pageQR)
	a.showQRFor(id)
	go a.loadQR(id)
}

func (a *App) loadQR(id string) {
	ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
	defer cancel()
	st, err := a.vm.LoadQR(ctx, id)
	a.app.QueueUpdateDraw(func() {
		if a.shownQR() != id {
			return
		}
		if err != nil {
			a.qrView.ShowMessage("Error: " + err.Error())
			return
		}
		a.qrView.Show(st)
	})
}

func (a *App) sessionAction(id string, action func(context.Context, string) (string, error)) {
	if id == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		if msg, err := action(ctx, id); err != nil {
			a.vm.Flash.Error(id+": "+err.Error(), flashFor)
		} else {
			a.vm.Flash.Set(id+": "+msg, flashFor)
		}
		a.refresh()
	}()
}

// refresh reloads daemon state and redraws. Runs off the UI goroutine.
func (a *App) refresh() {
	ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
	defer cancel()
	err := a.vm.Refresh(ctx)
	if err != nil && a.ctx.Err() == nil {
		a.vm.Flash.Error("refresh failed: "+err.Error(), flashFor)
	}
	a.app.QueueUpdateDraw(func() {
		if err != nil {
			a.statusBar.SetService(nil)
		} else {
			a.statusBar.SetService(a.vm.Service())
			a.sessions.Update(a.vm.Sessions())
		}
		a.drawFlash()
	})
	if id := a.shownQR(); id != "" {
		a.loadQR(id)
	}
}

func (a *App) refreshLoop() {
	ticker := time.NewTicker(refreshEvery)
	defer ticker.Stop()
	for {
		a.refresh()
		select {
		case <-ticker.C:
		case <-a.ctx.Done():
			return
		}
	}
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	go a.refreshLoop()
	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
