// Package browser provides the cross-platform "open a URL in the default
// browser" collaborator that the session store calls on session start. It is
// intentionally thin: the actual browser and its rendering of the question
// UI are out of scope for this service.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Launcher opens a URL in the user's default browser.
type Launcher interface {
	Open(url string) error
}

// OSLauncher shells out to the platform's "open a URL" command.
type OSLauncher struct{}

// Open launches url using the platform-appropriate command.
func (OSLauncher) Open(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("browser: launch failed: %w", err)
	}
	return nil
}

// Noop never opens anything; used when skip_browser is set, in tests, and as
// the best-effort fallback for push_question re-opens.
type Noop struct{}

// Open is a no-op that always succeeds.
func (Noop) Open(string) error { return nil }
