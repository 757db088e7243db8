package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-mdpreview/internal/contracts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "README.md", cfg.Document)
	assert.Equal(t, 1412, cfg.Port)
	assert.True(t, cfg.Open)
	assert.Equal(t, contracts.PolicyReload, cfg.Mode)
	assert.Equal(t, time.Second, cfg.ReconnectDelay)
	assert.True(t, cfg.Render.HeadingIDs)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost:1412", cfg.Addr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		invalid bool
	}{
		{name: "any free port", mutate: func(c *Config) { c.Port = 0 }},
		{name: "highest port", mutate: func(c *Config) { c.Port = 65535 }},
		{name: "negative port", mutate: func(c *Config) { c.Port = -1 }, wantErr: ErrInvalidPort},
		{name: "port too large", mutate: func(c *Config) { c.Port = 70000 }, wantErr: ErrInvalidPort},
		{name: "fragment mode", mutate: func(c *Config) { c.Mode = contracts.PolicyFragment }},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "patch" }, invalid: true},
		{name: "zero debounce", mutate: func(c *Config) { c.Debounce = 0 }, invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.invalid:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveDocument(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(doc, []byte("# notes\n"), 0o644))

	cfg := Default()
	cfg.Document = doc
	got, err := cfg.ResolveDocument()
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	cfg.Document = filepath.Join(dir, "missing.md")
	_, err = cfg.ResolveDocument()
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.Contains(t, err.Error(), "missing.md")

	cfg.Document = dir
	_, err = cfg.ResolveDocument()
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestResolveDocumentDefaultsToReadme(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg := Default()
	cfg.Document = ""
	_, err := cfg.ResolveDocument()
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.Contains(t, err.Error(), DefaultDocument)

	require.NoError(t, os.WriteFile(DefaultDocument, []byte("# hi\n"), 0o644))
	got, err := cfg.ResolveDocument()
	require.NoError(t, err)
	assert.Equal(t, DefaultDocument, filepath.Base(got))
	assert.True(t, filepath.IsAbs(got))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdpreview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
document: docs/guide.md
port: 8080
open: false
mode: fragment
debounce: 120ms
trace: true
render:
  heading_ids: true
  math: true
  wikilinks: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "docs/guide.md", cfg.Document)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.Open)
	assert.Equal(t, contracts.PolicyFragment, cfg.Mode)
	assert.Equal(t, 120*time.Millisecond, cfg.Debounce)
	assert.True(t, cfg.Trace)
	assert.True(t, cfg.Render.Math)
	assert.True(t, cfg.Render.WikiLinks)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, DefaultStylesheet, cfg.Stylesheet)
	assert.Equal(t, time.Second, cfg.ReconnectDelay)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdpreview.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prot: 8080\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdpreview.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
