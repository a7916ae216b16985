package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// menuRows is the height of one hint column in the header.
const menuRows = 5

// crumbWidth caps a breadcrumb; partner names can be long.
const crumbWidth = 24

// Menu shows the key hints of the active page in columns.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates the hint area of the header.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 0)
	return &Menu{TextView: tv, theme: theme}
}

// Update lays hints out column by column, menuRows per column.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	cols := menuColumns(hints, menuRows)
	if len(cols) == 0 {
		return
	}

	widths := make([]int, len(cols))
	for i, col := range cols {
		for _, h := range col {
			widths[i] = max(widths[i], hintWidth(h))
		}
	}

	kc := ColorName(m.theme.MenuKeyColor)
	var b strings.Builder
	for row := range menuRows {
		for i, col := range cols {
			if row >= len(col) {
				continue
			}
			h := col[row]
			_, _ = fmt.Fprintf(&b, "[%s::b]<%s>[-:-:-] %s", kc, tview.Escape(h.Key), h.Description)
			if i < len(cols)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-hintWidth(h)+2))
			}
		}
		b.WriteByte('\n')
	}
	_, _ = fmt.Fprint(m, strings.TrimRight(b.String(), "\n"))
}

func hintWidth(h MenuHint) int {
	return len([]rune(h.Key)) + 3 + len([]rune(h.Description))
}

// menuColumns splits hints into columns of at most rows entries.
func menuColumns(hints []MenuHint, rows int) [][]MenuHint {
	if rows <= 0 {
		return nil
	}
	var cols [][]MenuHint
	for start := 0; start < len(hints); start += rows {
		cols = append(cols, hints[start:min(start+rows, len(hints))])
	}
	return cols
}

// Logo is the header's brand mark. It dims while the daemon has no
// realtime connection.
type Logo struct {
	*tview.TextView
	theme  *Theme
	online bool
}

// NewLogo creates the logo in its offline state.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)
	l := &Logo{TextView: tv, theme: theme}
	l.render()
	return l
}

// SetOnline redraws the logo when the connection state changes.
func (l *Logo) SetOnline(online bool) {
	if online == l.online {
		return
	}
	l.online = online
	l.render()
}

func (l *Logo) render() {
	l.Clear()
	art, tag := ColorName(l.theme.TitleColor), "live"
	if !l.online {
		art, tag = ColorName(l.theme.PendingColor), "offline"
	}
	fg := ColorName(l.theme.FgColor)
	_, _ = fmt.Fprintf(l,
		"[%[1]s::b] ╔═╗╦ ╦╔═╗╦ ╦╦╦  ╔═╗[-:-:-]\n"+
			"[%[1]s::b] ╠═╣║ ║╚═╗╠═╣║║  ╠╣ [-:-:-]\n"+
			"[%[1]s::b] ╩ ╩╚═╝╚═╝╩ ╩╩╩═╝╚  [-:-:-]\n"+
			"[%[2]s] Chat · %[3]s[-:-:-]",
		art, fg, tag,
	)
}

// Crumbs is the trail of open pages below the content area.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

// NewCrumbs creates an empty trail.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	tv.SetBackgroundColor(theme.BgColor)
	return &Crumbs{TextView: tv, theme: theme}
}

// Update renders titles; the last entry is the active page.
func (c *Crumbs) Update(titles []string) {
	c.Clear()
	active := fmt.Sprintf("[%s:%s:b]", ColorName(c.theme.CrumbActiveFg), ColorName(c.theme.CrumbActiveBg))
	inactive := fmt.Sprintf("[%s:%s:]", ColorName(c.theme.CrumbInactiveFg), ColorName(c.theme.CrumbInactiveBg))

	parts := make([]string, len(titles))
	for i, name := range titles {
		style := inactive
		if i == len(titles)-1 {
			style = active
		}
		parts[i] = style + " " + tview.Escape(truncate(name, crumbWidth)) + " [-:-:-]"
	}
	_, _ = fmt.Fprint(c, strings.Join(parts, " "))
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
