package views

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aushilfapp/chatsync/internal/api"
	"github.com/aushilfapp/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ChannelInfo displays the details of one channel.
type ChannelInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewChannelInfo creates a new channel info view.
func NewChannelInfo(theme *ui.Theme) *ChannelInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Channel Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ChannelInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Title implements ui.Component.
func (ci *ChannelInfo) Title() string { return "Details" }

// Hints implements ui.Component.
func (ci *ChannelInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
	}
}

// Update renders the channel's details; nil clears the view.
func (ci *ChannelInfo) Update(c *api.Channel) {
	ci.Clear()
	if c == nil {
		return
	}

	fg := ui.ColorName(ci.theme.FgColor)
	ct := ui.ColorName(ci.theme.CounterColor)
	row := func(label, value string) {
		if value == "" {
			value = "-"
		}
		_, _ = fmt.Fprintf(ci, " [%s::b]%-14s[-:-:-] [%s]%s[-]\n", fg, label+":", ct, tview.Escape(sanitizeForTerminal(value)))
	}

	lastActive := ""
	if c.LastMessageAt != nil {
		lastActive = c.LastMessageAt.Local().Format(time.DateTime)
	}
	override := c.ChosenCategory
	if override == "" {
		override = "(none)"
	}

	_, _ = fmt.Fprintln(ci)
	row("Partner", c.PartnerName)
	row("Partner ID", c.PartnerID)
	row("Channel ID", c.ID)
	row("Type", c.Type)
	row("Category", c.Category)
	row("Override", override)
	row("Updated", c.UpdatedAt.Local().Format(time.DateTime))
	row("Last active", lastActive)
	row("Last sender", c.LastSenderID)
	row("Last message", singleLine(c.LastMessageText))

	if len(c.Meta) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, c.Meta, "   ", "  "); err == nil {
			_, _ = fmt.Fprintf(ci, "\n [%s::b]Meta:[-:-:-]\n   %s\n", fg, tview.Escape(pretty.String()))
		}
	}

	ci.SetTitle(fmt.Sprintf(" %s ", tview.Escape(displayName(c))))
	ci.ScrollToBeginning()
}
