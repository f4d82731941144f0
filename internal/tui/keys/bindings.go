// Package keys maps key events to actions per page.
package keys

import (
	"sort"

	"github.com/gdamore/tcell/v2"
)

// Action is one key binding.
type Action struct {
	Key         tcell.Key
	Rune        rune // used when Key is tcell.KeyRune
	Description string
	Handler     func()
	Visible     bool
}

// Matches reports whether ev triggers the action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// scope is a set of named bindings kept in name order so dispatch and
// hints do not depend on map iteration.
type scope struct {
	names   []string
	actions map[string]*Action
}

func (s *scope) add(name string, a *Action) {
	if s.actions == nil {
		s.actions = make(map[string]*Action)
	}
	if _, ok := s.actions[name]; !ok {
		i := sort.SearchStrings(s.names, name)
		s.names = append(s.names, "")
		copy(s.names[i+1:], s.names[i:])
		s.names[i] = name
	}
	s.actions[name] = a
}

func (s *scope) match(ev *tcell.EventKey) *Action {
	if s == nil {
		return nil
	}
	for _, name := range s.names {
		if a := s.actions[name]; a.Matches(ev) {
			return a
		}
	}
	return nil
}

func (s *scope) hints() []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, name := range s.names {
		if a := s.actions[name]; a.Visible {
			out = append(out, a.Description)
		}
	}
	sort.Strings(out)
	return out
}

// Registry holds the global bindings and those of each page. Page
// bindings shadow global ones.
type Registry struct {
	global scope
	pages  map[string]*scope
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pages: make(map[string]*scope)}
}

// AddGlobal registers a binding active on every page.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.global.add(name, action)
}

// AddView registers a binding active only on page.
func (r *Registry) AddView(page, name string, action *Action) {
	s, ok := r.pages[page]
	if !ok {
		s = &scope{}
		r.pages[page] = s
	}
	s.add(name, action)
}

// Hints returns the visible descriptions for page: page bindings first,
// then global ones, each group sorted.
func (r *Registry) Hints(page string) []string {
	return append(r.pages[page].hints(), r.global.hints()...)
}

// HandleEvent runs the binding ev triggers on page and reports whether
// one did.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	a := r.pages[page].match(ev)
	if a == nil {
		a = r.global.match(ev)
	}
	if a == nil || a.Handler == nil {
		return false
	}
	a.Handler()
	return true
}
