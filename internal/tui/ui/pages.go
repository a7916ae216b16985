package ui

import "github.com/rivo/tview"

// Pages is a stack of components on top of tview.Pages.
// Every component is registered once under a fixed name and then pushed
// and popped by that name.
type Pages struct {
	*tview.Pages
	components map[string]Component
	stack      []string
	onChange   func(top Component)
}

// NewPages creates an empty page stack.
func NewPages() *Pages {
	return &Pages{
		Pages:      tview.NewPages(),
		components: make(map[string]Component),
	}
}

// Register adds a hidden page.
func (p *Pages) Register(name string, c Component) {
	p.components[name] = c
	p.AddPage(name, c, true, false)
}

// SetOnChange sets a callback that fires with the new top of the stack.
func (p *Pages) SetOnChange(fn func(top Component)) {
	p.onChange = fn
}

// Push shows name on top of the stack. Pushing the current top is a no-op.
func (p *Pages) Push(name string) {
	if _, ok := p.components[name]; !ok || p.CurrentName() == name {
		return
	}
	if len(p.stack) > 0 {
		p.HidePage(p.stack[len(p.stack)-1])
	}
	p.stack = append(p.stack, name)
	p.ShowPage(name)
	p.SendToFront(name)
	p.notify()
}

// Pop removes the top page unless it is the last one.
// Returns the popped name, or empty when nothing was popped.
func (p *Pages) Pop() string {
	if len(p.stack) < 2 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top)
	p.stack = p.stack[:len(p.stack)-1]
	current := p.stack[len(p.stack)-1]
	p.ShowPage(current)
	p.SendToFront(current)
	p.notify()
	return top
}

// Reset clears the stack and shows only name.
func (p *Pages) Reset(name string) {
	if _, ok := p.components[name]; !ok {
		return
	}
	for _, n := range p.stack {
		p.HidePage(n)
	}
	p.stack = []string{name}
	p.ShowPage(name)
	p.SendToFront(name)
	p.notify()
}

// CurrentName returns the name of the top page.
func (p *Pages) CurrentName() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Current returns the top component, or nil.
func (p *Pages) Current() Component {
	return p.components[p.CurrentName()]
}

// Titles returns the crumb titles from bottom to top.
func (p *Pages) Titles() []string {
	titles := make([]string, len(p.stack))
	for i, n := range p.stack {
		titles[i] = p.components[n].Title()
	}
	return titles
}

// Depth returns the current stack depth.
func (p *Pages) Depth() int {
	return len(p.stack)
}

func (p *Pages) notify() {
	if p.onChange != nil {
		p.onChange(p.Current())
	}
}
