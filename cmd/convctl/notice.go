package main

import (
	"fmt"

	"conversation-console/internal/session"
)

// noticeError prefers the last notice shown to the viewer over the raw error.
func noticeError(notices []session.Notice, err error) error {
	if len(notices) == 0 {
		return err
	}
	return fmt.Errorf("%s: %w", notices[len(notices)-1].Text, err)
}
