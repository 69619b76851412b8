package main

import (
	"fmt"
	"strings"

	"socialchat/internal/models"
	"socialchat/internal/realtime/messaging"

	"github.com/spf13/cobra"
)

var (
	sendType       string
	sendAttachment string
)

func init() {
	sendCmd.Flags().StringVar(&sendType, "type", string(models.MessageTypeText), "message type: text, image or emote")
	sendCmd.Flags().StringVar(&sendAttachment, "attachment", "", "attachment URL for image messages")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation> [text...]",
	Short: "Send a message to a conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID := args[0]
		content := strings.Join(args[1:], " ")

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		// The request API is enough to send; the echo is not awaited.
		pipeline := messaging.NewPipeline(s.api, s.manager, s.me)
		defer pipeline.Close()

		msg, err := pipeline.Send(cmd.Context(), convID, content, models.MessageType(sendType), sendAttachment)
		if err != nil {
			return err
		}
		fmt.Println(msg.ID)
		return nil
	},
}
