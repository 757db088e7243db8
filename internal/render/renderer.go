package render

import (
	"bytes"

	chromahtml "github.com/alecthomas/chroma/formatters/html"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	alertcallouts "github.com/zmtcreative/gm-alert-callouts"
	"go.abhg.dev/goldmark/mermaid"
	"go.abhg.dev/goldmark/wikilink"
)

// Options toggles optional markdown features.
type Options struct {
	// HeadingIDs generates id attributes on headings so they can be linked.
	HeadingIDs bool `yaml:"heading_ids"`
	// Math renders $inline$ and $$display$$ notation for MathJax.
	Math bool `yaml:"math"`
	// WikiLinks resolves [[Target]] and [[Target#section]] cross-links.
	WikiLinks bool `yaml:"wikilinks"`
	// Mermaid turns ```mermaid fences into client-rendered diagrams.
	Mermaid bool `yaml:"mermaid"`
	// Highlight runs fenced code through chroma using CSS classes.
	Highlight bool `yaml:"highlight"`
	// HighlightStyle names the chroma style used for the page stylesheet.
	HighlightStyle string `yaml:"highlight_style"`
	// RawHTML passes inline HTML in the document through to the page.
	RawHTML bool `yaml:"raw_html"`
	// Sanitize filters the rendered fragment through a UGC policy.
	Sanitize bool `yaml:"sanitize"`
}

// DefaultOptions matches what a GitHub readme preview needs.
func DefaultOptions() Options {
	return Options{
		HeadingIDs:     true,
		Highlight:      true,
		HighlightStyle: "github",
		RawHTML:        true,
	}
}

// Renderer is a wrapper around the Goldmark markdown parser with pre-configured extensions.
// It is safe for concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func New(opts Options) *Renderer {
	extensions := []goldmark.Extender{
		alertcallouts.AlertCallouts,
		extension.GFM,
		extension.Table,
		extension.Strikethrough,
		extension.TaskList,
		extension.Linkify,
	}
	if opts.Highlight {
		extensions = append(extensions, highlighting.NewHighlighting(
			highlighting.WithStyle(opts.HighlightStyle),
			highlighting.WithFormatOptions(
				chromahtml.WithClasses(true),
			),
		))
	}
	if opts.Mermaid {
		// The page shell loads mermaid.js once; fragments must not carry their own script.
		extensions = append(extensions, &mermaid.Extender{
			RenderMode: mermaid.RenderModeClient,
			NoScript:   true,
		})
	}
	if opts.WikiLinks {
		extensions = append(extensions, &wikilink.Extender{Resolver: siblingResolver{}})
	}
	if opts.Math {
		extensions = append(extensions, mathExtension{})
	}

	var parserOpts []parser.Option
	if opts.HeadingIDs {
		parserOpts = append(parserOpts, parser.WithAutoHeadingID())
	}

	var rendererOpts []goldmark.Option
	if opts.RawHTML {
		rendererOpts = append(rendererOpts, goldmark.WithRendererOptions(html.WithUnsafe()))
	}

	md := goldmark.New(append([]goldmark.Option{
		goldmark.WithExtensions(extensions...),
		goldmark.WithParserOptions(parserOpts...),
	}, rendererOpts...)...)

	r := &Renderer{md: md}
	if opts.Sanitize {
		r.policy = newPolicy()
	}
	return r
}

// ConvertFragment parses markdown source and returns the HTML fragment.
// On error no partial output is returned.
func (r *Renderer) ConvertFragment(source []byte) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(source, &buf); err != nil {
		return "", err
	}

	if r.policy != nil {
		return r.policy.Sanitize(buf.String()), nil
	}
	return buf.String(), nil
}

// newPolicy keeps the class and id attributes the page stylesheet and
// heading anchors depend on.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	p.AllowAttrs("id").Globally()
	return p
}
