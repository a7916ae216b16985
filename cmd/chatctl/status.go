package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aushilfapp/chatsync/internal/api"
	"github.com/aushilfapp/chatsync/internal/profile"
	"github.com/aushilfapp/chatsync/internal/tui/client"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() {
	rootCmd.AddCommand(statusCmd, appCmd, watchCmd)
	watchCmd.Flags().StringSliceVar(&watchPrefixes, "kind", nil, "only show events whose kind starts with one of these prefixes")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and sync status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Session.GetStatus(ctx)
			if err != nil {
				return err
			}
			printStatus(resp)
			return nil
		})
	},
}

var appCmd = &cobra.Command{
	Use:       "app <foreground|background>",
	Short:     "Report the application lifecycle state to the daemon",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"foreground", "background"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Session.SetAppState(ctx, &api.SetAppStateRequest{State: args[0]})
			if err != nil {
				return err
			}
			printStatus(resp)
			return nil
		})
	},
}

var watchPrefixes []string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := profileName()
		if err != nil {
			return err
		}
		c, err := client.New(profile.SocketPath(name))
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w, err := c.Chat.WatchEvents(ctx, &api.WatchRequest{Prefixes: watchPrefixes})
		if err != nil {
			return err
		}
		for {
			evt, err := w.Recv()
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(evt)
				continue
			}
			line := fmt.Sprintf("%s  %-24s", evt.OccurredAt.Local().Format(time.TimeOnly), evt.Kind)
			if evt.ChannelID != "" {
				line += " channel=" + evt.ChannelID
			}
			if evt.ClientID != "" {
				line += " client_id=" + evt.ClientID
			}
			if evt.Error != "" {
				line += " error=" + evt.Error
			}
			fmt.Println(line)
		}
	},
}

func printStatus(resp *api.StatusResponse) {
	if jsonFlag {
		outputJSON(resp)
		return
	}
	signedIn := "no"
	if resp.SignedIn {
		signedIn = "yes (" + resp.UserID + ")"
	}
	realtime := "off"
	if resp.Realtime {
		realtime = "connected"
	}
	fmt.Printf("Profile:   %s\n", resp.Profile)
	fmt.Printf("Signed in: %s\n", signedIn)
	fmt.Printf("App state: %s\n", resp.AppState)
	fmt.Printf("Realtime:  %s\n", realtime)
	fmt.Printf("Channels:  %d\n", resp.Channels)
	fmt.Printf("Outbox:    %d\n", resp.OutboxLen)
	fmt.Printf("Uptime:    %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
}
