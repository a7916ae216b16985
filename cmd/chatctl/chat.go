package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aushilfapp/chatsync/internal/api"
	"github.com/aushilfapp/chatsync/internal/category"
	"github.com/aushilfapp/chatsync/internal/store"
	"github.com/aushilfapp/chatsync/internal/tui/client"
	"github.com/spf13/cobra"
)

var (
	channelsLimit int

	messagesLimit int
	messagesDesc  bool

	startReq api.InitializeChatRequest
)

func init() {
	rootCmd.AddCommand(channelsCmd, messagesCmd, sendCmd, readCmd, categoryCmd, startCmd)

	channelsCmd.Flags().IntVarP(&channelsLimit, "limit", "n", 0, "maximum number of channels to list")

	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 0, "maximum number of messages to return")
	messagesCmd.Flags().BoolVar(&messagesDesc, "desc", false, "newest first")

	startCmd.Flags().StringVar(&startReq.Category, "category", "", "post category ("+strings.Join(category.Strings(), ", ")+")")
	startCmd.Flags().StringVar(&startReq.PreviewText, "preview", "", "post preview text")
	startCmd.Flags().StringVar(&startReq.Vorname, "vorname", "", "author first name")
	startCmd.Flags().StringVar(&startReq.Nachname, "nachname", "", "author last name")
	startCmd.Flags().StringVar(&startReq.AvatarURL, "avatar", "", "author avatar URL")
	startCmd.Flags().StringVar(&startReq.Locale, "locale", "", "greeting locale (de, en)")
	startCmd.Flags().StringVar(&startReq.Greeting, "greeting", "", "custom first message")
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List channels from the local mirror",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Chat.ListChannels(ctx, &api.ListChannelsRequest{Limit: channelsLimit})
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			if len(resp.Channels) == 0 {
				fmt.Println("No channels.")
				return nil
			}
			for _, ch := range resp.Channels {
				last := "-"
				if ch.LastMessageAt != nil {
					last = ch.LastMessageAt.Local().Format(time.DateTime)
				}
				fmt.Printf("%-36s %-20s %-12s %s  %s\n",
					ch.ID,
					valueOrDefault(ch.PartnerName, ch.PartnerID),
					valueOrDefault(ch.DisplayCategory(), "-"),
					last,
					ch.LastMessageText,
				)
			}
			return nil
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <channel-id>",
	Short: "Show the mirrored messages of a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Message.ListMessages(ctx, &api.ListMessagesRequest{
				ChannelID:  args[0],
				Limit:      messagesLimit,
				Descending: messagesDesc,
			})
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			for _, m := range resp.Messages {
				printMessage(m)
			}
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <channel-id> <text>...",
	Short: "Queue a message for sending",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Message.SendMessage(ctx, &api.SendMessageRequest{
				ChannelID: args[0],
				Body:      strings.Join(args[1:], " "),
			})
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Queued: %s\n", resp.ClientID)
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <channel-id>",
	Short: "Mark a channel as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Chat.MarkRead(ctx, &api.ChannelRequest{ChannelID: args[0]})
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Read at: %s\n", resp.ReadAt.Local().Format(time.DateTime))
			return nil
		})
	},
}

var categoryCmd = &cobra.Command{
	Use:   "category <channel-id> <category>",
	Short: "Override the category shown for a channel",
	Long:  "Override the category shown for a channel.\nValid categories: " + strings.Join(category.Strings(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := category.Parse(args[1])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Chat.SetCategory(ctx, &api.SetCategoryRequest{ChannelID: args[0], Category: string(cat)})
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Category: %s\n", resp.Category)
			return nil
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start <post-id> <author-id>",
	Short: "Open or create the chat with a post's author and greet them",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := startReq
		req.PostID, req.AuthorID = args[0], args[1]
		return withClient(func(ctx context.Context, c *client.Client) error {
			resp, err := c.Chat.InitializeChat(ctx, &req)
			if err != nil {
				return err
			}
			if jsonFlag {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Channel:  %s\n", resp.ChannelID)
			fmt.Printf("Created:  %v\n", resp.Created)
			if resp.GreetingEnqueued {
				fmt.Printf("Greeting: %s\n", resp.GreetingClientID)
			}
			return nil
		})
	},
}

func printMessage(m api.Message) {
	state := ""
	if m.State != "" && m.State != string(store.Synced) {
		state = " [" + m.State + "]"
	}
	fmt.Printf("%s  %-12s %s%s\n",
		m.CreatedAt.Local().Format(time.DateTime),
		valueOrDefault(m.SenderID, "me"),
		m.Body,
		state,
	)
}
