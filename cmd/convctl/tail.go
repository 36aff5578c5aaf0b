package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"conversation-console/internal/session"
)

var tailCmd = &cobra.Command{
	Use:   "tail <student>",
	Short: "Print a conversation and follow new messages until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		conv, err := stack.Sessions.OpenInline(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		conv.Watch(func(ch session.Change) { printChange(out, ch) })
		if snap, err := conv.Snapshot(); err == nil {
			printSnapshot(out, snap)
		}
		cmd.PrintErrf("following student %s (%s), ctrl-c to stop\n", conv.ID(), conv.State())

		<-ctx.Done()
		return nil
	},
}
