package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// FlashLevel represents the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// flashTTL is how long a message of each level stays on the bar.
var flashTTL = map[FlashLevel]time.Duration{
	FlashInfo: 4 * time.Second,
	FlashWarn: 8 * time.Second,
	FlashErr:  10 * time.Second,
}

// flashGlyph prefixes the bar so the level reads without colour.
var flashGlyph = map[FlashLevel]string{
	FlashInfo: "·",
	FlashWarn: "!",
	FlashErr:  "✗",
}

// FlashMessage is a flash notification with a level and expiry.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// FlashModel holds the current transient notification. It is safe for
// use from the goroutines that talk to the daemon.
type FlashModel struct {
	mu      sync.RWMutex
	current FlashMessage
	now     func() time.Time
}

// NewFlashModel creates a new flash model.
func NewFlashModel() *FlashModel {
	return &FlashModel{now: time.Now}
}

func (f *FlashModel) Info(msg string) { f.set(msg, FlashInfo) }
func (f *FlashModel) Warn(msg string) { f.set(msg, FlashWarn) }
func (f *FlashModel) Err(err error)   { f.set(err.Error(), FlashErr) }

// set replaces the current message unless a more severe one is still
// showing; an error is not hidden by the info that usually follows it.
func (f *FlashModel) set(msg string, level FlashLevel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if f.current.Text != "" && f.current.Level > level && now.Before(f.current.Expires) {
		return
	}
	f.current = FlashMessage{Text: msg, Level: level, Expires: now.Add(flashTTL[level])}
}

// Clear drops the current message.
func (f *FlashModel) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = FlashMessage{}
}

// Current returns the active flash message, or nil once it expired.
func (f *FlashModel) Current() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.Text == "" || f.now().After(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

// FlashBar is the UI component that displays flash notifications.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

// NewFlashBar creates a new flash notification bar.
func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{TextView: tv, theme: theme}
}

// Update renders msg; nil clears the bar.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg == nil {
		return
	}

	color := fb.theme.FlashInfoColor
	switch msg.Level {
	case FlashWarn:
		color = fb.theme.FlashWarnColor
	case FlashErr:
		color = fb.theme.FlashErrColor
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s %s[-]", ColorName(color), flashGlyph[msg.Level], tview.Escape(singleLine(msg.Text)))
}

// singleLine keeps multi-line errors on the one-row bar.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
