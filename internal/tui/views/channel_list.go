package views

import (
	"fmt"
	"time"

	"github.com/aushilfapp/chatsync/internal/api"
	"github.com/aushilfapp/chatsync/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// ChannelList is the main channel table, newest activity first.
type ChannelList struct {
	*tview.Table
	theme    *ui.Theme
	channels []api.Channel
	visible  []int // indexes into channels, in row order
	filter   string
	now      func() time.Time
}

// NewChannelList creates a new channel list table.
func NewChannelList(theme *ui.Theme) *ChannelList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	cl := &ChannelList{
		Table: table,
		theme: theme,
		now:   time.Now,
	}
	cl.render()
	return cl
}

// Title implements ui.Component.
func (cl *ChannelList) Title() string { return "Channels" }

// Hints implements ui.Component.
func (cl *ChannelList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "d", Description: "Details"},
		{Key: "/", Description: "Filter"},
		{Key: "R", Description: "Sync"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
	}
}

// Update replaces the channel list, keeping the selected channel if it is
// still present.
func (cl *ChannelList) Update(channels []api.Channel) {
	selected := cl.SelectedChannel()
	cl.channels = channels
	cl.render()
	cl.selectID(selected)
}

// SetFilter sets the active filter text and re-renders.
func (cl *ChannelList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

// Filter returns the active filter.
func (cl *ChannelList) Filter() string {
	return cl.filter
}

func (cl *ChannelList) matches(c *api.Channel) bool {
	if cl.filter == "" {
		return true
	}
	return containsFold(displayName(c), cl.filter) ||
		containsFold(c.DisplayCategory(), cl.filter) ||
		containsFold(c.LastMessageText, cl.filter)
}

func (cl *ChannelList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" PARTNER", 1},
		{" CATEGORY", 0},
		{" LAST MESSAGE", 3},
		{" TIME", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	cl.visible = cl.visible[:0]
	now := cl.now()
	for i := range cl.channels {
		c := &cl.channels[i]
		if !cl.matches(c) {
			continue
		}
		cl.visible = append(cl.visible, i)
		row := len(cl.visible)

		var last time.Time
		if c.LastMessageAt != nil {
			last = *c.LastMessageAt
		}
		fg := cl.theme.FgColor
		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(singleLine(displayName(c)))).SetExpansion(1).SetTextColor(fg))
		cl.SetCell(row, 1, tview.NewTableCell(" "+c.DisplayCategory()).SetTextColor(cl.theme.CounterColor))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(singleLine(c.LastMessageText))).SetExpansion(3).SetMaxWidth(60).SetTextColor(fg))
		cl.SetCell(row, 3, tview.NewTableCell(formatTimestamp(last, now)+" ").SetAlign(tview.AlignRight).SetTextColor(fg))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Channels (%d/%d) filter: %s ", len(cl.visible), len(cl.channels), tview.Escape(cl.filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Channels (%d) ", len(cl.channels)))
	}
}

// Selected returns the channel under the cursor, or nil.
func (cl *ChannelList) Selected() *api.Channel {
	row, _ := cl.GetSelection()
	idx := row - 1 // header
	if idx < 0 || idx >= len(cl.visible) {
		return nil
	}
	c := cl.channels[cl.visible[idx]]
	return &c
}

// SelectedChannel returns the ID of the channel under the cursor.
func (cl *ChannelList) SelectedChannel() string {
	if c := cl.Selected(); c != nil {
		return c.ID
	}
	return ""
}

// Channel looks a listed channel up by ID.
func (cl *ChannelList) Channel(id string) *api.Channel {
	for i := range cl.channels {
		if cl.channels[i].ID == id {
			c := cl.channels[i]
			return &c
		}
	}
	return nil
}

func (cl *ChannelList) selectID(id string) {
	for row, idx := range cl.visible {
		if cl.channels[idx].ID == id {
			cl.Select(row+1, 0)
			return
		}
	}
	if len(cl.visible) > 0 {
		cl.Select(1, 0)
	}
}

func displayName(c *api.Channel) string {
	switch {
	case c.PartnerName != "":
		return c.PartnerName
	case c.PartnerID != "":
		return c.PartnerID
	}
	return c.ID
}
