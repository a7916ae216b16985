package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// ProfileData holds daemon status for the header.
type ProfileData struct {
	Profile   string
	UserID    string
	AppState  string
	Realtime  bool
	Channels  int
	OutboxLen int
	Uptime    time.Duration
}

// ProfileInfo displays daemon status in the header.
type ProfileInfo struct {
	*tview.TextView
	theme *Theme
}

// NewProfileInfo creates a new profile info panel.
func NewProfileInfo(theme *Theme) *ProfileInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &ProfileInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the profile info; nil clears it.
func (pi *ProfileInfo) Update(data *ProfileData) {
	pi.Clear()
	if data == nil {
		return
	}

	fg := ColorName(pi.theme.FgColor)
	ct := ColorName(pi.theme.CounterColor)

	user := data.UserID
	if user == "" {
		user = "(signed out)"
	}
	realtime := "off"
	if data.Realtime {
		realtime = "live"
	}
	outbox := fmt.Sprintf("[%s]%d[-]", ct, data.OutboxLen)
	if data.OutboxLen > 0 {
		outbox = fmt.Sprintf("[%s]%d pending[-]", ColorName(pi.theme.FlashWarnColor), data.OutboxLen)
	}

	_, _ = fmt.Fprintf(pi,
		"[%s::b]Profile:[-:-:-]  [%s]%s[-]\n"+
			"[%s::b]User:[-:-:-]     [%s]%s[-]\n"+
			"[%s::b]State:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Realtime:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Channels:[-:-:-] [%s]%d[-]\n"+
			"[%s::b]Outbox:[-:-:-]   %s\n"+
			"[%s::b]Uptime:[-:-:-]   [%s]%s[-]",
		fg, ct, tview.Escape(data.Profile),
		fg, ct, tview.Escape(user),
		fg, ct, data.AppState,
		fg, ct, realtime,
		fg, ct, data.Channels,
		fg, outbox,
		fg, ct, formatDuration(data.Uptime),
	)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
