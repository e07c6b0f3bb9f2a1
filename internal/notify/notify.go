// Package notify provides best-effort desktop notification support for
// operators sitting at the instrument workstation.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Send posts a desktop notification. On darwin it uses osascript, on linux
// notify-send; elsewhere it is a no-op. Failures are returned for logging
// but never matter for acquisition.
func Send(title, message string) error {
	switch runtime.GOOS {
	case "darwin":
		return sendOsascript(title, message)
	case "linux":
		return sendNotifySend(title, message)
	default:
		return nil
	}
}

func sendOsascript(title, message string) error {
	title = escapeAppleScript(title)
	message = escapeAppleScript(message)

	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		message, title,
	)

	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func sendNotifySend(title, message string) error {
	cmd := exec.Command("notify-send", title, message)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
