package chat

import (
	"strings"

	"chatarchive/lib/htmlutil"
)

// Node is the read-only view of one rendered element the extractor works
// on. A live DOM, a parsed HTML snapshot and test fixtures all satisfy it.
type Node interface {
	ID() string
	Tag() string
	Attr(key string) (string, bool)
	// Text is the concatenated text content of the element and its
	// descendants.
	Text() string
	// HTML is the inner markup of the element.
	HTML() string
	Children() []Node
}

// hasMarker reports whether n carries the class marker m either verbatim
// or in its hashed form (`m_xxxxxx`).
func hasMarker(n Node, m string) bool {
	class, ok := n.Attr("class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(class) {
		if c == m {
			return true
		}
	}
	return htmlutil.HasClassPrefix(class, m+"_")
}

// findFirst walks the descendants of n depth first, in document order, and
// returns the first one accepted by match.
func findFirst(n Node, match func(Node) bool) Node {
	for _, child := range n.Children() {
		if match(child) {
			return child
		}
		if found := findFirst(child, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n Node, match func(Node) bool) []Node {
	var out []Node
	for _, child := range n.Children() {
		if match(child) {
			out = append(out, child)
			continue
		}
		out = append(out, findAll(child, match)...)
	}
	return out
}

func byMarker(m string) func(Node) bool {
	return func(n Node) bool {
		return hasMarker(n, m)
	}
}

func byTag(tag string) func(Node) bool {
	return func(n Node) bool {
		return n.Tag() == tag
	}
}

func byIDPrefix(prefix string) func(Node) bool {
	return func(n Node) bool {
		return strings.HasPrefix(n.ID(), prefix)
	}
}
