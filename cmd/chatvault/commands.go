package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	input "github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"

	"github.com/oakmere/chatvault/pkg/chat"
	"github.com/oakmere/chatvault/pkg/eventbus"
	"github.com/oakmere/chatvault/pkg/persistence/convstore"
)

func openStore() (*convstore.SQLiteConversationStore, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	dsn, err := convstore.SQLiteConvDSNForFile(settings.StorePath)
	if err != nil {
		return nil, err
	}
	return convstore.NewSQLiteConversationStore(dsn)
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored conversations, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			convs, err := store.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				fmt.Println("no conversations")
				return nil
			}
			for _, c := range convs {
				title := c.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %s  %-20s  %d messages\n",
					c.ID, c.UpdatedAt.Format("2006-01-02 15:04:05"), title, len(c.Messages))
			}
			return nil
		},
	}
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print the effective history of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			convs, err := store.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			var conv *chat.Conversation
			for _, c := range convs {
				if c.ID == args[0] {
					conv = c
					break
				}
			}
			if conv == nil {
				return errors.Errorf("conversation %s not found", args[0])
			}

			history, err := conv.EffectiveHistory()
			if err != nil {
				return err
			}
			for _, msg := range history {
				fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
				if msg.ToolCall != nil {
					fmt.Printf("  tool call %s(%s)\n", msg.ToolCall.Name, msg.ToolCall.Arguments)
				}
			}
			tokens, err := chat.EstimateTokens(history)
			if err != nil {
				log.Warn().Err(err).Msg("token estimate unavailable")
				return nil
			}
			fmt.Printf("\n%d messages, ~%d tokens\n", len(history), tokens)
			return nil
		},
	}
}

func newWipeCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete every stored conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				ui := &input.UI{Writer: os.Stdout, Reader: os.Stdin}
				answer, err := ui.Ask("Delete all stored conversations? (y/N)", &input.Options{
					Default:  "n",
					Required: true,
					Loop:     true,
					ValidateFunc: func(s string) error {
						if s != "y" && s != "n" && s != "Y" && s != "N" {
							return errors.New("answer y or n")
						}
						return nil
					},
				})
				if err != nil {
					return err
				}
				if answer == "n" || answer == "N" {
					fmt.Println("aborted")
					return nil
				}
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("store wiped")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")
	return cmd
}

// newWatchCommand tails the notification bus and prints save failures and
// completed response groups. Only useful with the Redis transport, since the
// in-process channel bus does not cross process boundaries.
func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream vault notifications (requires the Redis event bus)",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if !settings.EventBus.RedisEnabled {
				return errors.New("watch needs event_bus.redis_enabled: true")
			}

			_, sub, err := eventbus.Build(settings.EventBus)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			failures, err := sub.Subscribe(ctx, eventbus.TopicSaveFailed)
			if err != nil {
				return err
			}
			done, err := sub.Subscribe(ctx, eventbus.TopicGroupDone)
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				for msg := range failures {
					ev, err := eventbus.SaveFailedFromMessage(msg.Payload)
					if err != nil {
						log.Warn().Err(err).Msg("bad save-failed payload")
						msg.Ack()
						continue
					}
					fmt.Printf("save failed: conversation=%s reason=%s\n", ev.ConvID, ev.Reason)
					msg.Ack()
				}
				return nil
			})
			g.Go(func() error {
				for msg := range done {
					ev, err := eventbus.GroupDoneFromMessage(msg.Payload)
					if err != nil {
						log.Warn().Err(err).Msg("bad group-done payload")
						msg.Ack()
						continue
					}
					fmt.Printf("group done: conversation=%s group=%s completed=%d failed=%d\n",
						ev.ConvID, ev.GroupID, ev.Completed, ev.Failed)
					msg.Ack()
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				return nil
			})
			return g.Wait()
		},
	}
}
