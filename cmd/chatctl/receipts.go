package main

import (
	"fmt"

	"socialchat/internal/realtime/messaging"
	"socialchat/internal/realtime/receipts"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(receiptsCmd)
}

var receiptsCmd = &cobra.Command{
	Use:   "receipts <conversation>",
	Short: "Show which of your messages each participant has read up to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID := args[0]

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		pipeline := messaging.NewPipeline(s.api, s.manager, s.me)
		defer pipeline.Close()

		tl, err := pipeline.Open(cmd.Context(), convID)
		if err != nil {
			return err
		}

		messages := tl.Messages()
		view := receipts.Aggregate(messages, s.me.ID)

		shown := 0
		for _, m := range messages {
			if view.Status(m) != receipts.IndicatorReadBy {
				continue
			}
			fmt.Println(formatMessage(m, view))
			shown++
		}
		if shown == 0 {
			fmt.Println("none of your messages have been read yet")
		}
		return nil
	},
}
