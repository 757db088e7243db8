package render

import "go.abhg.dev/goldmark/wikilink"

// siblingResolver points [[Target]] at Target.md next to the previewed
// document and [[#section]] at an anchor on the current page.
type siblingResolver struct{}

func (siblingResolver) ResolveWikilink(n *wikilink.Node) ([]byte, error) {
	dest := make([]byte, 0, len(n.Target)+len(n.Fragment)+4)
	if len(n.Target) > 0 {
		dest = append(dest, n.Target...)
		dest = append(dest, ".md"...)
	}
	if len(n.Fragment) > 0 {
		dest = append(dest, '#')
		dest = append(dest, n.Fragment...)
	}
	return dest, nil
}
