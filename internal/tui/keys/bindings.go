package keys

import "github.com/gdamore/tcell/v2"

// Action is a key binding.
type Action struct {
	Key     tcell.Key
	Rune    rune
	Handler func()
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Rune builds a binding for a printable key.
func Rune(r rune, fn func()) *Action {
	return &Action{Key: tcell.KeyRune, Rune: r, Handler: fn}
}

// Key builds a binding for a special key.
func Key(k tcell.Key, fn func()) *Action {
	return &Action{Key: k, Handler: fn}
}

// Registry holds key bindings per page, in registration order.
// Page bindings shadow global ones.
type Registry struct {
	global []*Action
	views  map[string][]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]*Action)}
}

// AddGlobal registers bindings active on every page.
func (r *Registry) AddGlobal(actions ...*Action) {
	r.global = append(r.global, actions...)
}

// AddView registers bindings for one page.
func (r *Registry) AddView(view string, actions ...*Action) {
	r.views[view] = append(r.views[view], actions...)
}

// Lookup returns the action ev triggers on view, or nil.
func (r *Registry) Lookup(view string, ev *tcell.EventKey) *Action {
	for _, a := range r.views[view] {
		if a.Matches(ev) {
			return a
		}
	}
	for _, a := range r.global {
		if a.Matches(ev) {
			return a
		}
	}
	return nil
}

// HandleEvent runs the matching action for view.
// Returns true if a handler matched.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	a := r.Lookup(view, ev)
	if a == nil {
		return false
	}
	a.Handler()
	return true
}
