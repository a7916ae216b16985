package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aushilfapp/chatsync/internal/api"
	"github.com/aushilfapp/chatsync/internal/bus"
	"github.com/aushilfapp/chatsync/internal/category"
	"github.com/aushilfapp/chatsync/internal/tui/client"
	"github.com/aushilfapp/chatsync/internal/tui/keys"
	"github.com/aushilfapp/chatsync/internal/tui/model"
	"github.com/aushilfapp/chatsync/internal/tui/ui"
	"github.com/aushilfapp/chatsync/internal/tui/views"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Page names.
const (
	pageChannels = "channels"
	pageThread   = "thread"
	pageInfo     = "info"
	pageHelp     = "help"
)

const (
	callTimeout    = 15 * time.Second
	watchRetry     = 2 * time.Second
	tickInterval   = time.Second
	statusInterval = 15 * time.Second
	promptHeight   = 3
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	root     *tview.Flex
	pages    *ui.Pages
	vm       *model.ViewModel
	registry *keys.Registry
	theme    *ui.Theme

	info     *ui.ProfileInfo
	menu     *ui.Menu
	logo     *ui.Logo
	crumbs   *ui.Crumbs
	prompt   *ui.Prompt
	flashBar *ui.FlashBar

	channels *views.ChannelList
	thread   *views.MessageThread
	details  *views.ChannelInfo
	help     *views.HelpView

	profile string
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, profileName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		pages:    ui.NewPages(),
		vm:       model.NewViewModel(c),
		registry: keys.NewRegistry(),
		theme:    theme,
		info:     ui.NewProfileInfo(theme),
		menu:     ui.NewMenu(theme),
		logo:     ui.NewLogo(theme),
		crumbs:   ui.NewCrumbs(theme),
		prompt:   ui.NewPrompt(theme),
		flashBar: ui.NewFlashBar(theme),
		channels: views.NewChannelList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewChannelInfo(theme),
		help:     views.NewHelpView(theme),
		profile:  profileName,
		ctx:      ctx,
		cancel:   cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(
		keys.Rune(':', func() { a.showPrompt(ui.PromptCommand) }),
		keys.Rune('?', func() { a.pages.Push(pageHelp) }),
	)
	a.registry.AddView(pageChannels,
		keys.Rune('q', func() { a.Stop() }),
		keys.Rune('/', func() { a.showPrompt(ui.PromptFilter) }),
		keys.Rune('d', func() { a.showDetails(a.channels.SelectedChannel()) }),
		keys.Rune('R', func() { a.syncChannels() }),
	)
	a.registry.AddView(pageThread,
		keys.Rune('i', func() { a.app.SetFocus(a.thread.Composer()) }),
		keys.Rune('o', func() { a.loadOlder() }),
		keys.Rune('r', func() { a.retryFailed() }),
		keys.Rune('x', func() { a.discardFailed() }),
		keys.Rune('d', func() { a.showDetails(a.thread.ChannelID()) }),
	)
}

func (a *App) setupCallbacks() {
	a.channels.SetSelectedFunc(func(row, col int) {
		if id := a.channels.SelectedChannel(); id != "" {
			a.openChannel(id)
		}
	})

	a.thread.SetOnSend(func(text string) {
		a.background("send", func(ctx context.Context) error {
			if err := a.vm.Send(ctx, text); err != nil {
				return err
			}
			a.app.QueueUpdateDraw(func() { a.thread.Update(a.vm.Messages()) })
			return nil
		})
	})

	a.prompt.SetCommands(commandNames)
	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptFilter:
			a.channels.SetFilter(text)
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)

	a.pages.Register(pageChannels, a.channels)
	a.pages.Register(pageThread, a.thread)
	a.pages.Register(pageInfo, a.details)
	a.pages.Register(pageHelp, a.help)
	a.pages.SetOnChange(func(top ui.Component) {
		a.crumbs.Update(a.pages.Titles())
		if top != nil {
			a.menu.Update(top.Hints())
			a.app.SetFocus(top)
		}
	})
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		AddItem(a.info, 0, 2, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(a.logo, 22, 0, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.app.SetInputCapture(a.handleKey)
	a.pages.Reset(pageChannels)
}

func (a *App) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	focused := a.app.GetFocus()
	if focused == a.prompt.InputField {
		return ev
	}
	if focused == a.thread.Composer() {
		if ev.Key() == tcell.KeyEscape {
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
		return ev
	}

	if ev.Key() == tcell.KeyEscape {
		a.back()
		return nil
	}
	if a.registry.HandleEvent(a.pages.CurrentName(), ev) {
		return nil
	}
	return ev
}

// back clears an active filter or pops the current page.
func (a *App) back() {
	if a.pages.CurrentName() == pageChannels {
		if a.channels.Filter() != "" {
			a.channels.SetFilter("")
			return
		}
		a.vm.Flash.Clear()
		a.flashBar.Update(nil)
		return
	}
	if a.pages.Pop() == pageThread {
		a.background("close channel", a.vm.CloseChannel)
	}
}

func (a *App) showPrompt(mode ui.PromptMode) {
	if mode == ui.PromptFilter && a.pages.CurrentName() != pageChannels {
		return
	}
	a.prompt.Activate(mode)
	a.root.ResizeItem(a.prompt, promptHeight, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	if top := a.pages.Current(); top != nil {
		a.app.SetFocus(top)
	}
}

func (a *App) openChannel(id string) {
	title := id
	if c := a.channels.Channel(id); c != nil && c.PartnerName != "" {
		title = c.PartnerName
	}
	st := a.vm.Status()
	if st != nil {
		a.thread.SetSelf(st.UserID)
	}
	a.thread.Open(id, title)
	a.pages.Push(pageThread)

	a.background("open channel", func(ctx context.Context) error {
		if err := a.vm.OpenChannel(ctx, id); err != nil {
			return err
		}
		a.app.QueueUpdateDraw(func() {
			if a.thread.ChannelID() == id {
				a.thread.Update(a.vm.Messages())
			}
		})
		if _, err := a.vm.MarkRead(ctx); err != nil {
			a.vm.Flash.Warn("mark read: " + err.Error())
		}
		return nil
	})
}

func (a *App) showDetails(id string) {
	c := a.channels.Channel(id)
	if c == nil {
		return
	}
	a.details.Update(c)
	a.pages.Push(pageInfo)
}

func (a *App) loadOlder() {
	a.background("load older", func(ctx context.Context) error {
		n, err := a.vm.LoadOlder(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			a.vm.Flash.Info("no older messages")
		}
		a.app.QueueUpdateDraw(func() { a.thread.Update(a.vm.Messages()) })
		return nil
	})
}

func (a *App) retryFailed() {
	clientID := a.thread.LastFailed()
	if clientID == "" {
		a.vm.Flash.Info("no failed message")
		return
	}
	a.background("retry", func(ctx context.Context) error {
		if err := a.vm.Retry(ctx, clientID); err != nil {
			return err
		}
		a.vm.Flash.Info("message requeued")
		return nil
	})
}

func (a *App) discardFailed() {
	clientID := a.thread.LastFailed()
	if clientID == "" {
		a.vm.Flash.Info("no failed message")
		return
	}
	a.background("discard", func(ctx context.Context) error {
		if err := a.vm.Discard(ctx, clientID); err != nil {
			return err
		}
		return a.vm.ReloadMessages(ctx)
	})
}

func (a *App) syncChannels() {
	a.vm.Flash.Info("syncing channels…")
	a.background("sync", func(ctx context.Context) error {
		n, err := a.vm.SyncChannels(ctx)
		if err != nil {
			return err
		}
		a.vm.Flash.Info(fmt.Sprintf("synced %d channels", n))
		return nil
	})
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "q", "quit":
		a.Stop()
	case "h", "help":
		a.pages.Push(pageHelp)
	case "sync":
		a.syncChannels()
	case "flush":
		a.background("flush", func(ctx context.Context) error {
			resp, err := a.vm.Flush(ctx)
			if err != nil {
				return err
			}
			a.vm.Flash.Info(fmt.Sprintf("sent %d, failed %d", resp.Sent, resp.Failed))
			return nil
		})
	case "read":
		a.background("mark read", func(ctx context.Context) error {
			at, err := a.vm.MarkRead(ctx)
			if err != nil {
				return err
			}
			a.vm.Flash.Info("read at " + at.Local().Format("15:04:05"))
			return nil
		})
	case "category", "cat":
		a.setCategory(cmd)
	case "start":
		if err := cmd.Arity(2, "<post-id> <author-id>"); err != nil {
			a.vm.Flash.Err(err)
			return
		}
		a.background("start chat", func(ctx context.Context) error {
			id, err := a.vm.StartChat(ctx, cmd.Args[0], cmd.Args[1])
			if err != nil {
				return err
			}
			if err := a.vm.LoadChannels(ctx); err != nil {
				return err
			}
			a.app.QueueUpdateDraw(func() {
				a.channels.Update(a.vm.Channels())
				a.openChannel(id)
			})
			return nil
		})
	case "app":
		if err := cmd.Arity(1, "foreground|background"); err != nil {
			a.vm.Flash.Err(err)
			return
		}
		a.background("app state", func(ctx context.Context) error {
			if err := a.vm.SetAppState(ctx, cmd.Args[0]); err != nil {
				return err
			}
			a.app.QueueUpdateDraw(a.renderStatus)
			return nil
		})
	case "":
	default:
		a.vm.Flash.Warn("unknown command: " + cmd.Name)
	}
}

func (a *App) setCategory(cmd Command) {
	if err := cmd.Arity(1, "<"+strings.Join(category.Strings(), "|")+">"); err != nil {
		a.vm.Flash.Err(err)
		return
	}
	cat, err := category.Parse(cmd.Args[0])
	if err != nil {
		a.vm.Flash.Err(err)
		return
	}
	id := a.vm.ActiveChannel()
	if id == "" {
		id = a.channels.SelectedChannel()
	}
	if id == "" {
		a.vm.Flash.Err(model.ErrNoChannel)
		return
	}
	a.background("set category", func(ctx context.Context) error {
		if err := a.vm.SetCategory(ctx, id, string(cat)); err != nil {
			return err
		}
		a.vm.Flash.Info("category set to " + string(cat))
		return nil
	})
}

// background runs fn off the UI goroutine and flashes its error.
func (a *App) background(op string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		if err := fn(ctx); err != nil && a.ctx.Err() == nil {
			a.vm.Flash.Err(fmt.Errorf("%s: %w", op, err))
		}
	}()
}

// Run starts the TUI application.
func (a *App) Run() error {
	a.background("load", func(ctx context.Context) error {
		statusErr := a.vm.LoadStatus(ctx)
		chanErr := a.vm.LoadChannels(ctx)
		a.app.QueueUpdateDraw(func() {
			a.renderStatus()
			a.channels.Update(a.vm.Channels())
		})
		return errors.Join(statusErr, chanErr)
	})
	go a.watchLoop()
	go a.tickLoop()

	return a.app.Run()
}

// watchLoop follows daemon events, reconnecting while the app runs.
func (a *App) watchLoop() {
	for {
		err := a.vm.Watch(a.ctx, a.handleEvent)
		if a.ctx.Err() != nil {
			return
		}
		a.vm.Flash.Warn("event stream lost: " + err.Error())
		select {
		case <-time.After(watchRetry):
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleEvent(evt *api.EventEnvelope) {
	switch {
	case evt.Kind == bus.KindChannelsChanged:
		a.background("load channels", func(ctx context.Context) error {
			if err := a.vm.LoadChannels(ctx); err != nil {
				return err
			}
			a.app.QueueUpdateDraw(func() { a.channels.Update(a.vm.Channels()) })
			return nil
		})
	case evt.Kind == bus.KindMessagesChanged || strings.HasPrefix(evt.Kind, "message."):
		if evt.Kind == bus.KindSendFailed {
			a.vm.Flash.Warn("message not sent: " + evt.Error)
		}
		if evt.ChannelID != "" && evt.ChannelID == a.vm.ActiveChannel() {
			a.background("load messages", func(ctx context.Context) error {
				if err := a.vm.ReloadMessages(ctx); err != nil {
					return err
				}
				a.app.QueueUpdateDraw(func() { a.thread.Update(a.vm.Messages()) })
				return nil
			})
		}
		if strings.HasPrefix(evt.Kind, "message.") {
			a.refreshStatus()
		}
	case evt.Kind == bus.KindAppStateChanged || evt.Kind == bus.KindRealtimeStatus:
		a.refreshStatus()
	}
}

func (a *App) refreshStatus() {
	a.background("status", func(ctx context.Context) error {
		if err := a.vm.LoadStatus(ctx); err != nil {
			return err
		}
		a.app.QueueUpdateDraw(a.renderStatus)
		return nil
	})
}

// tickLoop expires flash messages and refreshes the uptime.
func (a *App) tickLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	lastStatus := time.Now()
	for {
		select {
		case now := <-ticker.C:
			if now.Sub(lastStatus) >= statusInterval {
				lastStatus = now
				a.refreshStatus()
			}
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.vm.Flash.Current()) })
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) renderStatus() {
	st := a.vm.Status()
	a.logo.SetOnline(st != nil && st.Realtime)
	if st == nil {
		a.info.Update(&ui.ProfileData{Profile: a.profile, AppState: "unknown"})
		return
	}
	a.thread.SetSelf(st.UserID)
	a.info.Update(&ui.ProfileData{
		Profile:   st.Profile,
		UserID:    st.UserID,
		AppState:  st.AppState,
		Realtime:  st.Realtime,
		Channels:  st.Channels,
		OutboxLen: st.OutboxLen,
		Uptime:    time.Duration(st.UptimeMs) * time.Millisecond,
	})
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
