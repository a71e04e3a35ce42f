// Package notify raises best-effort desktop alerts for events an
// operator should see promptly, like a rollback. Failures are never
// fatal; the audit log is the durable record.
package notify

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrUnavailable means no notification mechanism exists on this host.
var ErrUnavailable = errors.New("no desktop notification mechanism available")

// Send raises a desktop notification. macOS goes through osascript;
// Linux through notify-send when installed.
func Send(title, message string) error {
	if _, err := exec.LookPath("osascript"); err == nil {
		return sendAppleScript(title, message)
	}
	if _, err := exec.LookPath("notify-send"); err == nil {
		return run(exec.Command("notify-send", title, message))
	}
	return ErrUnavailable
}

// Rollback alerts the operator that the tree was restored to a save
// point after a failure streak.
func Rollback(project, savePointID string) error {
	return Send("relcycle: "+project, "failure streak hit the threshold; tree rolled back to "+savePointID)
}

func sendAppleScript(title, message string) error {
	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		escapeAppleScript(message), escapeAppleScript(title),
	)
	return run(exec.Command("osascript", "-e", script))
}

func run(cmd *exec.Cmd) error {
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", cmd.Path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
