package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"conversation-console/internal/attachment"
)

var uploadOpts struct {
	caption string
}

var uploadCmd = &cobra.Command{
	Use:   "upload <student> <file>",
	Short: "Upload a file to a student conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		conv, err := stack.Sessions.OpenInline(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		pipeline := conv.Attachments()
		file := attachment.File{Name: filepath.Base(args[1]), MIME: http.DetectContentType(data), Data: data}
		if err := pipeline.Select(conv.ID(), file); err != nil {
			return noticeError(conv.Notices(), err)
		}
		if err := pipeline.SetCaption(uploadOpts.caption); err != nil {
			return err
		}
		id, err := pipeline.Confirm(cmd.Context())
		if err != nil {
			return noticeError(conv.Notices(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s as message %s\n", file.Name, id)
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadOpts.caption, "caption", "", "caption sent with the file")
}
