// Package fixture replays saved message list markup as a chat.Surface.
//
// Pages are ordered oldest first. Only the newest page is loaded at the
// start, older pages are prepended when the viewport comes close to the
// top, and only the items near the viewport are rendered, so the surface
// behaves like the virtualised scroller it was captured from.
package fixture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"chatarchive/lib/scrapers/chat"
)

type Options struct {
	// ItemHeight is the rendered height of one message, defaults to 40.
	ItemHeight float64
	// ClientHeight is the visible height, defaults to 600.
	ClientHeight float64
	// LoadThreshold is the distance from the top under which the next
	// older page is loaded, defaults to ClientHeight / 2.
	LoadThreshold float64
	// Overscan is the number of items rendered above and below the
	// viewport, defaults to 10. A negative value renders everything.
	Overscan int
}

func (o Options) withDefaults() Options {
	if o.ItemHeight <= 0 {
		o.ItemHeight = 40
	}
	if o.ClientHeight <= 0 {
		o.ClientHeight = 600
	}
	if o.LoadThreshold <= 0 {
		o.LoadThreshold = o.ClientHeight / 2
	}
	if o.Overscan == 0 {
		o.Overscan = 10
	}
	return o
}

type Surface struct {
	opts Options

	mu sync.Mutex
	// pages not yet loaded, oldest first
	pending [][]chat.Node
	// loaded items, oldest first
	items []chat.Node
	top   float64
}

func New(pages [][]chat.Node, opts Options) *Surface {
	s := &Surface{opts: opts.withDefaults()}
	if len(pages) == 0 {
		return s
	}
	s.pending = pages[:len(pages)-1]
	s.items = slices.Clone(pages[len(pages)-1])
	s.top = s.bottom()
	return s
}

// FromHTML builds a surface from page markup, oldest page first.
func FromHTML(opts Options, pages ...string) (*Surface, error) {
	parsed := make([][]chat.Node, 0, len(pages))
	for i, markup := range pages {
		nodes, err := chat.ParseHTMLString(markup)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		parsed = append(parsed, nodes)
	}
	return New(parsed, opts), nil
}

// LoadDir reads every *.html file of dir as a page. Files are ordered by
// name, the first one being the oldest.
func LoadDir(dir string, opts Options) (*Surface, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no *.html pages in '%s'", dir)
	}
	slices.Sort(paths)

	pages := make([]string, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		pages = append(pages, string(content))
	}
	slog.Debug("loaded fixture pages", "dir", dir, "pages", len(pages))
	return FromHTML(opts, pages...)
}

func (s *Surface) scrollHeight() float64 {
	return float64(len(s.items)) * s.opts.ItemHeight
}

func (s *Surface) bottom() float64 {
	return max(s.scrollHeight()-s.opts.ClientHeight, 0)
}

func (s *Surface) clamp(top float64) float64 {
	return min(max(top, 0), s.bottom())
}

func (s *Surface) ScrollToBottom(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.top = s.bottom()
	return nil
}

func (s *Surface) ScrollTo(ctx context.Context, top float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.top = s.clamp(top)
	if s.top > s.opts.LoadThreshold || len(s.pending) == 0 {
		return nil
	}

	older := s.pending[len(s.pending)-1]
	s.pending = s.pending[:len(s.pending)-1]
	s.items = append(slices.Clone(older), s.items...)
	// keep the same messages in view
	s.top += float64(len(older)) * s.opts.ItemHeight
	return nil
}

func (s *Surface) Viewport(ctx context.Context) (chat.Viewport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chat.Viewport{
		ScrollTop:    s.top,
		ClientHeight: s.opts.ClientHeight,
		ScrollHeight: s.scrollHeight(),
	}, nil
}

func (s *Surface) Candidates(ctx context.Context) ([]chat.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Overscan < 0 {
		return slices.Clone(s.items), nil
	}
	first := int(s.top/s.opts.ItemHeight) - s.opts.Overscan
	last := int((s.top+s.opts.ClientHeight)/s.opts.ItemHeight) + s.opts.Overscan
	first = max(first, 0)
	last = min(last, len(s.items))
	if first >= last {
		return nil, nil
	}
	return slices.Clone(s.items[first:last]), nil
}

// Remaining is the number of pages that have not been loaded yet.
func (s *Surface) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Generate renders count plain messages for channel, numbered from start,
// with a header on every fifth one. It is meant for tests and demos.
func Generate(channel string, start, count int) string {
	var b strings.Builder
	for i := start; i < start+count; i++ {
		fmt.Fprintf(&b, `<li id="chat-messages-%s-%d">`, channel, i)
		if i%5 == 0 {
			author := 100 + i%3
			fmt.Fprintf(
				&b,
				`<div class="header_x"><img class="avatar_x" src="https://cdn.example.com/avatars/%d/a.png"><span class="username_x">user%d</span></div>`,
				author, author,
			)
		}
		fmt.Fprintf(&b, `<div id="message-content-%d">message %d</div></li>`, i, i)
	}
	return b.String()
}
