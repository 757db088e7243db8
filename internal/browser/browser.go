// Package browser opens URLs in the user's default browser.
package browser

import (
	"errors"
	"os/exec"
	"runtime"
)

// ErrNoOpener is returned when no browser launcher is available.
var ErrNoOpener = errors.New("no command found to open a browser")

// Command returns the launcher invocation for url on goos.
func Command(goos string, url string) []string {
	switch goos {
	case "darwin":
		return []string{"open", url}
	case "windows":
		return []string{"cmd", "/c", "start", url}
	default:
		return []string{"xdg-open", url}
	}
}

// Open starts the launcher without waiting for the browser to exit.
func Open(url string) error {
	args := Command(runtime.GOOS, url)
	if _, err := exec.LookPath(args[0]); err != nil {
		return ErrNoOpener
	}
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
