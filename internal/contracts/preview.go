package contracts

import "fmt"

// ReloadSentinel is the literal socket message that tells the browser to
// discard the page and load it again from the server.
const ReloadSentinel = "reload"

// Policy selects how a successful re-render is delivered to browsers.
type Policy string

const (
	// PolicyReload sends ReloadSentinel and lets the browser fetch a fresh page.
	PolicyReload Policy = "reload"
	// PolicyFragment sends the rendered HTML fragment and the browser swaps
	// only the content region, keeping scroll position.
	PolicyFragment Policy = "fragment"
)

// ParsePolicy validates a policy name coming from flags or config files.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyReload, PolicyFragment:
		return p, nil
	default:
		return "", fmt.Errorf("unknown delivery mode %q (want %q or %q)", s, PolicyReload, PolicyFragment)
	}
}

// Payload builds the socket message for a freshly rendered fragment.
func (p Policy) Payload(fragment string) []byte {
	if p == PolicyFragment {
		return []byte(fragment)
	}
	return []byte(ReloadSentinel)
}

// IsReload reports whether a received message is the reload instruction.
func IsReload(msg []byte) bool {
	return string(msg) == ReloadSentinel
}
