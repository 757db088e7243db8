package render

import (
	"strconv"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// KindMath is the node kind of inline and display math spans.
var KindMath = ast.NewNodeKind("Math")

// Math holds TeX source between $ or $$ delimiters.
type Math struct {
	ast.BaseInline
	Display bool
	Value   []byte
}

func (n *Math) Kind() ast.NodeKind { return KindMath }

func (n *Math) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Display": strconv.FormatBool(n.Display),
		"Value":   string(n.Value),
	}, nil)
}

type mathParser struct{}

func (mathParser) Trigger() []byte {
	return []byte{'$'}
}

// Parse follows the pandoc rule for single dollars: the opening delimiter must
// not be followed by a space and the closing one must not be preceded by one,
// so prices like "$5 and $10" stay plain text.
func (mathParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()

	delim := 1
	if len(line) > 1 && line[1] == '$' {
		delim = 2
	}
	body := line[delim:]

	end := -1
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' {
			i++
			continue
		}
		if body[i] != '$' {
			continue
		}
		if delim == 1 || (i+1 < len(body) && body[i+1] == '$') {
			end = i
			break
		}
	}
	if end <= 0 {
		return nil
	}

	value := body[:end]
	if delim == 1 && (util.IsSpace(value[0]) || util.IsSpace(value[len(value)-1])) {
		return nil
	}

	block.Advance(delim + end + delim)
	return &Math{Display: delim == 2, Value: append([]byte(nil), value...)}
}

type mathHTMLRenderer struct{}

func (r mathHTMLRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindMath, r.renderMath)
}

// renderMath emits MathJax delimiters; the page shell does the typesetting.
func (r mathHTMLRenderer) renderMath(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	n := node.(*Math)
	if n.Display {
		_, _ = w.WriteString(`<span class="math display">\[`)
		_, _ = w.Write(util.EscapeHTML(n.Value))
		_, _ = w.WriteString(`\]</span>`)
	} else {
		_, _ = w.WriteString(`<span class="math inline">\(`)
		_, _ = w.Write(util.EscapeHTML(n.Value))
		_, _ = w.WriteString(`\)</span>`)
	}
	return ast.WalkSkipChildren, nil
}

type mathExtension struct{}

func (mathExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithInlineParsers(
		util.Prioritized(mathParser{}, 150),
	))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(mathHTMLRenderer{}, 500),
	))
}
