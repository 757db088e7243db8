package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go-mdpreview/internal/app"
	"go-mdpreview/internal/browser"
	"go-mdpreview/internal/config"

	"github.com/neovim/go-client/nvim"
	"github.com/neovim/go-client/nvim/plugin"
)

// Commands is a state container for Neovim command handlers. At most one
// preview runs per Neovim instance; starting another document replaces it.
type Commands struct {
	logger *slog.Logger
	// base supplies everything except the document path.
	base func() config.Config
	open func(url string) error

	mu      sync.Mutex
	preview *app.LivePreview
}

func NewCommands(logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{
		logger: logger,
		base:   config.Default,
		open:   browser.Open,
	}
}

// Register registers Neovim command/autocmd handlers.
func Register(p *plugin.Plugin) error {
	commands := NewCommands(nil)

	p.HandleCommand(&plugin.CommandOptions{
		Name: "MdPreviewStart",
	}, commands.MdPreviewStart)

	p.HandleCommand(&plugin.CommandOptions{
		Name: "MdPreviewStop",
	}, commands.MdPreviewStop)

	p.HandleAutocmd(&plugin.AutocmdOptions{
		Event:   "VimLeavePre",
		Pattern: "*",
	}, commands.onLeave)

	return nil
}

func (c *Commands) MdPreviewStart(v *nvim.Nvim) error {
	path, err := v.BufferName(0)
	if err != nil {
		return err
	}

	url, err := c.start(path)
	if err != nil {
		return err
	}
	return v.Command(fmt.Sprintf(`echom "[mdpreview] preview: %s"`, url))
}

func (c *Commands) MdPreviewStop(v *nvim.Nvim) error {
	if err := c.stop(); err != nil {
		return err
	}
	return v.Command(`echom "[mdpreview] stopped"`)
}

func (c *Commands) onLeave(v *nvim.Nvim) error {
	return c.stop()
}

// start previews the file at path. The buffer must be saved: the preview
// follows the file on disk, not the buffer contents.
func (c *Commands) start(path string) (string, error) {
	if path == "" {
		return "", errors.New("current buffer has no file name")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.preview != nil {
		if c.preview.Document().Path == abs {
			return c.preview.URL(), nil
		}
		if err := c.shutdownLocked(); err != nil {
			c.logger.Warn("stopping previous preview", "error", err)
		}
	}

	cfg := c.base()
	cfg.Document = abs
	preview, err := app.NewLivePreview(cfg, c.logger, nil)
	if err != nil {
		return "", err
	}
	if err := preview.Start(context.Background()); err != nil {
		return "", err
	}
	c.preview = preview

	url := preview.URL()
	if cfg.Open {
		if err := c.open(url); err != nil {
			c.logger.Warn("could not open browser", "url", url, "error", err)
		}
	}
	return url, nil
}

func (c *Commands) stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownLocked()
}

func (c *Commands) shutdownLocked() error {
	if c.preview == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.preview.Shutdown(ctx)
	c.preview = nil
	return err
}
