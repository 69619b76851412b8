package main

import (
	"fmt"
	"sync"

	"socialchat/internal/realtime/messaging"
	"socialchat/internal/realtime/receipts"
	"socialchat/internal/realtime/rooms"
	"socialchat/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	tailHistory  int
	tailMarkRead bool
)

func init() {
	tailCmd.Flags().IntVarP(&tailHistory, "history", "n", 20, "number of past messages to print")
	tailCmd.Flags().BoolVar(&tailMarkRead, "mark-read", false, "mark the conversation read as messages arrive")
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail <conversation>",
	Short: "Follow a conversation: messages, reactions and recalls",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID := args[0]

		ctx, stop := interrupted(cmd.Context())
		defer stop()

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		pipeline := messaging.NewPipeline(s.api, s.manager, s.me)
		defer pipeline.Close()
		tracker := rooms.NewTracker(s.manager)
		defer tracker.Close()

		if err := s.connect(ctx); err != nil {
			return err
		}
		defer s.watchState()()

		if err := tracker.JoinConversation(ctx, convID); err != nil {
			return fmt.Errorf("join %s: %w", convID, err)
		}

		tl, err := pipeline.Open(ctx, convID)
		if err != nil {
			return err
		}

		history := tl.Messages()
		view := receipts.Aggregate(history, s.me.ID)
		if start := len(history) - tailHistory; start > 0 {
			history = history[start:]
		}
		for _, m := range history {
			fmt.Println(formatMessage(m, view))
		}

		// Changes arrive on the connection's read goroutine; printing is
		// serialized so lines never interleave.
		var mu sync.Mutex
		cancel := pipeline.Subscribe(func(c messaging.Change) {
			if c.ConversationID != convID {
				return
			}
			m, ok := tl.Get(c.MessageID)
			if !ok {
				return
			}
			view := receipts.Aggregate(tl.Messages(), s.me.ID)

			mu.Lock()
			defer mu.Unlock()
			switch c.Kind {
			case messaging.ChangeAdded:
				fmt.Println(formatMessage(m, view))
				if tailMarkRead && !m.SentBy(s.me.ID) {
					go func() {
						if err := pipeline.MarkRead(ctx, convID); err != nil {
							logger.WithError(err).Warn("mark read failed")
						}
					}()
				}
			case messaging.ChangeUpdated:
				fmt.Println("~ " + formatMessage(m, view))
			}
		})
		defer cancel()

		<-ctx.Done()
		return nil
	},
}
