package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/aushilfapp/chatsync/internal/api"
	"github.com/aushilfapp/chatsync/internal/store"
	"github.com/aushilfapp/chatsync/internal/tui/ui"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// MessageThread displays one channel's messages and a composer.
type MessageThread struct {
	*tview.Flex
	theme     *ui.Theme
	messages  *tview.TextView
	composer  *tview.InputField
	self      string
	channelID string
	title     string
	msgs      []api.Message
	onSend    func(text string)
	now       func() time.Time
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		text := strings.TrimSpace(composer.GetText())
		if text != "" {
			mt.onSend(text)
			composer.SetText("")
		}
	})

	return mt
}

// Title implements ui.Component.
func (mt *MessageThread) Title() string {
	if mt.title != "" {
		return mt.title
	}
	return "Messages"
}

// Hints implements ui.Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "o", Description: "Older"},
		{Key: "r", Description: "Retry failed"},
		{Key: "x", Description: "Discard failed"},
		{Key: "d", Description: "Details"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
	}
}

// SetSelf sets the signed-in user so own messages render as "You".
func (mt *MessageThread) SetSelf(userID string) {
	mt.self = userID
}

// Open switches the thread to channelID and clears the old messages.
func (mt *MessageThread) Open(channelID, title string) {
	mt.channelID = channelID
	mt.title = title
	mt.msgs = nil
	mt.messages.Clear()
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(title)))
}

// ChannelID returns the open channel.
func (mt *MessageThread) ChannelID() string {
	return mt.channelID
}

// SetOnSend sets the callback when a message is submitted.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update renders msgs, oldest first. The view stays at the bottom unless
// older messages were prepended, in which case it keeps the top in view.
func (mt *MessageThread) Update(msgs []api.Message) {
	prepended := len(mt.msgs) > 0 && len(msgs) > len(mt.msgs) &&
		msgs[len(msgs)-1].Key() == mt.msgs[len(mt.msgs)-1].Key()
	mt.msgs = msgs
	mt.messages.Clear()

	now := mt.now()
	for i := range msgs {
		_, _ = fmt.Fprint(mt.messages, mt.line(&msgs[i], now))
	}
	if prepended {
		mt.messages.ScrollToBeginning()
		return
	}
	mt.messages.ScrollToEnd()
}

func (mt *MessageThread) line(m *api.Message, now time.Time) string {
	own := m.SenderID == "" || m.SenderID == mt.self
	sender := m.SenderID
	color := ui.ColorName(mt.theme.FgColor)
	if own {
		sender = "You"
		color = ui.ColorName(mt.theme.OwnColor)
	}

	var state string
	switch store.SyncState(m.State) {
	case store.Pending:
		state = fmt.Sprintf(" [%s]sending…[-]", ui.ColorName(mt.theme.PendingColor))
	case store.Failed:
		state = fmt.Sprintf(" [%s]failed[-]", ui.ColorName(mt.theme.FlashErrColor))
	}
	if m.Initial {
		state += fmt.Sprintf(" [%s]greeting[-]", ui.ColorName(mt.theme.PendingColor))
	}

	return fmt.Sprintf("[%s::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
		color, tview.Escape(sanitizeForTerminal(sender)),
		formatTimestamp(m.CreatedAt, now), state,
		tview.Escape(sanitizeForTerminal(m.Body)))
}

// LastFailed returns the client ID of the newest failed message, or "".
func (mt *MessageThread) LastFailed() string {
	for i := len(mt.msgs) - 1; i >= 0; i-- {
		if store.SyncState(mt.msgs[i].State) == store.Failed {
			return mt.msgs[i].ClientID
		}
	}
	return ""
}

// Len returns the number of rendered messages.
func (mt *MessageThread) Len() int {
	return len(mt.msgs)
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
