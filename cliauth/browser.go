package cliauth

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// BrowserLauncher opens the console hand-off URL in a user agent.
// Hosts that can observe the browser closing report it through
// Authenticator.NotifyBrowserDismissed; the exec-based launcher cannot
// and never does.
type BrowserLauncher interface {
	Open(ctx context.Context, url string) error
}

// ExecLauncher opens URLs with the platform's opener command. The
// command is started, not waited for; the browser outlives the call.
type ExecLauncher struct{}

// Open launches the default browser for rawURL.
func (ExecLauncher) Open(ctx context.Context, rawURL string) error {
	name, args := openCommand(runtime.GOOS, rawURL)
	if name == "" {
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := exec.CommandContext(ctx, name, args...).Start(); err != nil {
		return fmt.Errorf("opening browser with %s: %w", name, err)
	}

	return nil
}

// openCommand picks the per-OS opener. Split out from Open so the
// selection is testable on any platform.
func openCommand(goos, rawURL string) (string, []string) {
	switch goos {
	case "linux":
		return "xdg-open", []string{rawURL}
	case "darwin":
		return "open", []string{rawURL}
	case "windows":
		return "cmd", []string{"/c", "start", rawURL}
	default:
		return "", nil
	}
}
