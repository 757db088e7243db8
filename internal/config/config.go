// Package config holds the preview server settings. Values come from
// built-in defaults, an optional YAML file, and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go-mdpreview/internal/contracts"
	"go-mdpreview/internal/render"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidPort is returned for ports outside 0-65535.
	ErrInvalidPort = errors.New("invalid port number")
	// ErrFileNotFound is returned when the document does not exist.
	ErrFileNotFound = errors.New("file not found")
)

const (
	DefaultDocument   = "README.md"
	DefaultHost       = "localhost"
	DefaultPort       = 1412
	DefaultStylesheet = "https://cdnjs.cloudflare.com/ajax/libs/github-markdown-css/5.5.1/github-markdown.min.css"
)

// Config is everything needed to start a preview.
type Config struct {
	// Document is the markdown file to preview, relative to the working directory.
	Document string `yaml:"document"`
	Host     string `yaml:"host"`
	// Port 0 picks any free port.
	Port int `yaml:"port"`
	// Open launches the system browser once the server is listening.
	Open bool `yaml:"open"`
	// Mode is the update delivery policy shared by every connection.
	Mode contracts.Policy `yaml:"mode"`
	// Debounce is the quiescence window before a re-render.
	Debounce time.Duration `yaml:"debounce"`
	// ReconnectDelay is how long a browser waits before reloading after
	// losing its connection.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Stylesheet     string        `yaml:"stylesheet"`
	// MetricsAddr enables a separate Prometheus listener when set.
	MetricsAddr string `yaml:"metrics_addr"`
	// Trace exports a span per render to stderr.
	Trace  bool           `yaml:"trace"`
	Render render.Options `yaml:"render"`
}

func Default() Config {
	return Config{
		Document:       DefaultDocument,
		Host:           DefaultHost,
		Port:           DefaultPort,
		Open:           true,
		Mode:           contracts.PolicyReload,
		Debounce:       50 * time.Millisecond,
		ReconnectDelay: time.Second,
		Stylesheet:     DefaultStylesheet,
		Render:         render.DefaultOptions(),
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks everything that must hold before any resource is bound.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if _, err := contracts.ParsePolicy(string(c.Mode)); err != nil {
		return err
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", c.Debounce)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay)
	}
	return nil
}

// ResolveDocument returns the absolute path of the document, or an error
// wrapping ErrFileNotFound if it is missing.
func (c Config) ResolveDocument() (string, error) {
	name := c.Document
	if name == "" {
		name = DefaultDocument
	}

	abs, err := filepath.Abs(name)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}

	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrFileNotFound, name)
	}
	return abs, nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
