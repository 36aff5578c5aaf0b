package main

import (
	"strings"

	"github.com/spf13/cobra"

	"conversation-console/internal/models"
)

var sendOpts struct {
	tags     []string
	priority string
}

var sendCmd = &cobra.Command{
	Use:   "send <student> <text>",
	Short: "Send a text message to a student conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := stack.Sessions.OpenInline(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		text := strings.Join(args[1:], " ")
		tags := models.ParseHashtags(strings.Join(sendOpts.tags, ","))
		if err := conv.Send(cmd.Context(), text, tags, models.Priority(sendOpts.priority)); err != nil {
			return err
		}
		cmd.PrintErrf("sent over %s\n", conv.State())
		return nil
	},
}

func init() {
	sendCmd.Flags().StringSliceVar(&sendOpts.tags, "tag", nil, "hashtag to attach (repeatable)")
	sendCmd.Flags().StringVar(&sendOpts.priority, "priority", "", "priority: high, medium or low")
}
