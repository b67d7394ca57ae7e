package chat

import (
	"io"
	"strings"

	"chatarchive/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// element adapts a single-node goquery selection to Node.
type element struct {
	sel *goquery.Selection
}

func (e element) ID() string {
	return e.sel.AttrOr("id", "")
}

func (e element) Tag() string {
	return goquery.NodeName(e.sel)
}

func (e element) Attr(key string) (string, bool) {
	return e.sel.Attr(key)
}

func (e element) Text() string {
	return htmlutil.GetText(e.sel.Get(0))
}

func (e element) HTML() string {
	return htmlutil.GetInnerHTML(e.sel.Get(0))
}

func (e element) Children() []Node {
	children := e.sel.Children()
	out := make([]Node, 0, children.Length())
	children.Each(func(_ int, s *goquery.Selection) {
		out = append(out, element{sel: s})
	})
	return out
}

// FromSelection wraps every node of sel.
func FromSelection(sel *goquery.Selection) []Node {
	out := make([]Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, element{sel: s})
	})
	return out
}

// candidateSelector matches the list items of the message scroller.
const candidateSelector = `[id^="` + messageIDPrefix + `"]`

// DocumentCandidates returns the message-shaped candidates of doc in
// document order (oldest first, the way the scroller renders them).
func DocumentCandidates(doc *goquery.Document) []Node {
	return FromSelection(doc.Find(candidateSelector))
}

func ParseHTML(r io.Reader) ([]Node, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	return DocumentCandidates(doc), nil
}

func ParseHTMLString(markup string) ([]Node, error) {
	return ParseHTML(strings.NewReader(markup))
}
