package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aushilfapp/chatsync/internal/api"
	"github.com/aushilfapp/chatsync/internal/config"
	"github.com/aushilfapp/chatsync/internal/profile"
	"github.com/aushilfapp/chatsync/internal/remote"
	"github.com/aushilfapp/chatsync/internal/tui/client"
	"github.com/spf13/cobra"
)

var (
	syncForce  bool
	olderLimit int
)

func init() {
	rootCmd.AddCommand(syncCmd, olderCmd, backfillCmd, flushCmd, retryCmd, discardCmd, remoteCmd)
	remoteCmd.AddCommand(remoteMigrateCmd)

	syncCmd.Flags().BoolVarP(&syncForce, "force", "f", false, "skip the cooldown and report errors")
	olderCmd.Flags().IntVarP(&olderLimit, "limit", "n", 0, "page size")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the channel list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Sync.SyncChannels(ctx, &api.SyncChannelsRequest{Force: syncForce})
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			if !resp.Ran {
				fmt.Println("Sync skipped (cooldown or already running).")
				return nil
			}
			if !syncForce {
				fmt.Println("Sync triggered.")
				return nil
			}
			fmt.Printf("Synced %d channels.\n", resp.Channels)
			return nil
		})
	},
}

var olderCmd = &cobra.Command{
	Use:   "older <channel-id>",
	Short: "Load the next page of older messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Sync.LoadOlder(ctx, &api.LoadOlderRequest{ChannelID: args[0], Limit: olderLimit})
			if err != nil {
				return err
			}
			return printLoaded(resp)
		})
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill <channel-id>",
	Short: "Fetch every message newer than the local watermark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Sync.Backfill(ctx, &api.BackfillRequest{ChannelID: args[0]})
			if err != nil {
				return err
			}
			return printLoaded(resp)
		})
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Upload pending outbox messages now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Sync.FlushOutbox(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Sent: %d, failed: %d\n", resp.Sent, resp.Failed)
			return nil
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <client-id>",
	Short: "Requeue a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.Message.RetryMessage(ctx, &api.ClientIDRequest{ClientID: args[0]})
		})
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <client-id>",
	Short: "Drop an unsent message from the outbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			return c.Message.DiscardMessage(ctx, &api.ClientIDRequest{ClientID: args[0]})
		})
	},
}

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage the remote database",
}

// remoteMigrateCmd talks to the database directly; no daemon is needed.
var remoteMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the chat schema to the remote database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(profile.ConfigPath())
		if err != nil {
			return err
		}
		if cfg.Remote.DatabaseURL == "" {
			return fmt.Errorf("remote.database_url is not set in %s", profile.ConfigPath())
		}
		res, err := remote.Migrate(cfg.Remote.DatabaseURL)
		if err != nil {
			return err
		}
		if jsonFlag {
			outputJSON(res)
			return nil
		}
		if res.Changed {
			fmt.Printf("Migrated to version %d\n", res.Version)
		} else {
			fmt.Printf("Up to date at version %d\n", res.Version)
		}
		if res.Dirty {
			fmt.Fprintln(os.Stderr, "warning: schema is marked dirty")
		}
		return nil
	},
}

func printLoaded(resp *api.LoadedResponse) error {
	if jsonFlag {
		outputJSON(resp)
		return nil
	}
	fmt.Printf("Loaded %d messages.\n", resp.Loaded)
	return nil
}
