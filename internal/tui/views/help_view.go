package views

import (
	"fmt"
	"strings"

	"github.com/aushilfapp/chatsync/internal/category"
	"github.com/aushilfapp/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// Title implements ui.Component.
func (hv *HelpView) Title() string { return "Help" }

// Hints implements ui.Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

func (hv *HelpView) render() {
	kc := ui.ColorName(hv.theme.MenuKeyColor)
	k := func(s string) string { return fmt.Sprintf("[%s]%s[-:-:-]", kc, tview.Escape(s)) }

	var b strings.Builder
	section := func(title string) { fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", title) }
	entry := func(key, desc string) { fmt.Fprintf(&b, "  %-28s %s\n", k(key), desc) }

	section("Global Keys")
	entry(":", "Command mode")
	entry("Esc", "Cancel / go back")
	entry("?", "Help")
	entry("q", "Quit (from the channel list)")
	entry("Ctrl-C", "Quit immediately")

	section("Channel List")
	entry("Enter", "Open channel")
	entry("d", "Channel details")
	entry("/", "Filter by partner, category or text")
	entry("R", "Sync channel list now")

	section("Message Thread")
	entry("i", "Focus composer")
	entry("Enter", "Send (in composer)")
	entry("o", "Load older messages")
	entry("r", "Retry newest failed message")
	entry("x", "Discard newest failed message")
	entry("d", "Channel details")

	section("Commands")
	entry(":sync", "Force a channel sync")
	entry(":flush", "Upload the outbox now")
	entry(":read", "Mark the open channel read")
	entry(":category <name>", "Override the open channel's category")
	entry(":start <post> <author>", "Start a chat about a post")
	entry(":app foreground|background", "Report the app state")
	entry(":help", "Show this help")
	entry(":quit", "Quit")

	fmt.Fprintf(&b, "\n  Categories: %s\n", strings.Join(category.Strings(), ", "))
	_, _ = fmt.Fprint(hv, b.String())
}
