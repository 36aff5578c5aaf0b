package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"conversation-console/internal/app"
	"conversation-console/internal/config"
	"conversation-console/internal/observability"
)

type rootOptions struct {
	baseURL       string
	viewerName    string
	viewerEmail   string
	sessionCookie string
	csrfToken     string
}

var (
	opts   rootOptions
	stack  *app.App
	stderr = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "convctl",
	Short: "Follow and post to student conversations from a terminal",
	Long: `convctl opens the same conversation sessions as the console service:
live channel first, the fallback host next, plain HTTP last.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, &cfg); err != nil {
			return err
		}
		logger := observability.NewLoggerTo(cfg.Env, stderr)
		stack, err = app.New(cmd.Context(), cfg, logger)
		return err
	},
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if stack != nil {
		stack.Close(context.Background())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.baseURL, "base-url", "", "page origin of the back office (overrides CONVERSATION_BASE_URL)")
	pf.StringVar(&opts.viewerName, "viewer-name", "", "display name of the viewer (overrides VIEWER_NAME)")
	pf.StringVar(&opts.viewerEmail, "viewer-email", "", "email of the viewer (overrides VIEWER_EMAIL)")
	pf.StringVar(&opts.sessionCookie, "session-cookie", "", "back office session cookie (overrides SESSION_COOKIE)")
	pf.StringVar(&opts.csrfToken, "csrf-token", "", "CSRF token for uploads (overrides CSRF_TOKEN)")

	rootCmd.AddCommand(tailCmd, sendCmd, uploadCmd)
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		u, err := url.Parse(opts.baseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid --base-url %q", opts.baseURL)
		}
		cfg.BaseURL = u
	}
	if flags.Changed("viewer-name") {
		cfg.ViewerName = opts.viewerName
	}
	if flags.Changed("viewer-email") {
		cfg.ViewerEmail = opts.viewerEmail
	}
	if flags.Changed("session-cookie") {
		cfg.SessionCookie = opts.sessionCookie
	}
	if flags.Changed("csrf-token") {
		cfg.CSRFToken = opts.csrfToken
	}
	return nil
}
