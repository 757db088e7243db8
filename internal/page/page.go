// Package page assembles the full preview document served on first load.
package page

import (
	"embed"
	"html/template"
	"io"
	"time"

	"go-mdpreview/internal/contracts"
)

// ContentID addresses the region the client script swaps fragments into.
const ContentID = "mdpreview-content"

//go:embed page.html client.js
var templateFS embed.FS

// Layout sizes the reading column.
type Layout struct {
	MaxWidth         int
	Padding          int
	MobileBreakpoint int
	MobilePadding    int
}

// DefaultLayout is a comfortable reading column with a phone breakpoint.
var DefaultLayout = Layout{
	MaxWidth:         960,
	Padding:          48,
	MobileBreakpoint: 768,
	MobilePadding:    16,
}

// Options configures everything on the page that does not change per request.
type Options struct {
	// Stylesheet is the URL of the external markdown stylesheet.
	Stylesheet string
	// ReconnectDelay is how long the client waits after a lost connection
	// before reloading the page.
	ReconnectDelay time.Duration
	// HighlightCSS is inlined for class-based code highlighting.
	HighlightCSS string
	// Math loads MathJax into the page.
	Math bool
	// Mermaid loads mermaid.js into the page.
	Mermaid bool
}

type clientData struct {
	ReloadSentinel       string
	ReconnectDelayMillis int64
	ContentID            string
}

type pageData struct {
	Title        string
	Stylesheet   string
	Layout       Layout
	HighlightCSS template.CSS
	Math         bool
	Mermaid      bool
	ContentID    string
	Content      template.HTML
	Client       clientData
}

// Assembler renders the page shell around a fragment.
type Assembler struct {
	tmpl *template.Template
	opts Options
}

func NewAssembler(opts Options) (*Assembler, error) {
	tmpl, err := template.ParseFS(templateFS, "page.html", "client.js")
	if err != nil {
		return nil, err
	}
	return &Assembler{tmpl: tmpl, opts: opts}, nil
}

// Assemble writes the complete document. The title is escaped; the fragment
// is trusted renderer output and is embedded as-is.
func (a *Assembler) Assemble(w io.Writer, title string, fragment string) error {
	return a.tmpl.ExecuteTemplate(w, "page.html", pageData{
		Title:        title,
		Stylesheet:   a.opts.Stylesheet,
		Layout:       DefaultLayout,
		HighlightCSS: template.CSS(a.opts.HighlightCSS),
		Math:         a.opts.Math,
		Mermaid:      a.opts.Mermaid,
		ContentID:    ContentID,
		Content:      template.HTML(fragment),
		Client: clientData{
			ReloadSentinel:       contracts.ReloadSentinel,
			ReconnectDelayMillis: a.opts.ReconnectDelay.Milliseconds(),
			ContentID:            ContentID,
		},
	})
}
