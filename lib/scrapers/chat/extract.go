package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chatarchive/lib/htmlutil"
	"chatarchive/lib/timezone"
)

const (
	messageIDPrefix = "chat-messages-"
	contentIDPrefix = "message-content-"

	markerHeader        = "header"
	markerUsername      = "username"
	markerAvatar        = "avatar"
	markerReaction      = "reaction"
	markerReactionCount = "reactionCount"
	markerEmoji         = "emoji"
)

// any of these on a descendant means the message carries an attachment or
// an embed.
var attachmentMarkers = []string{
	"attachment",
	"imageWrapper",
	"mediaAttachmentsContainer",
	"embedWrapper",
	"embed",
}

var avatarUserIdRegex = regexp.MustCompile(`/avatars/(\d+)/`)

var ErrMalformedMessage = errors.New("malformed message element")

type Reaction struct {
	Emoji string
	Count int
}

type Message struct {
	ID        string
	ChannelID string
	// AuthorID is empty when the author could not be determined.
	AuthorID       string
	Timestamp      string
	Content        string
	HasAttachments bool
	Reactions      []Reaction
}

type User struct {
	ID        string
	Username  string
	AvatarURL string
}

// Pair is the result of extracting one element. User is only set when the
// element carried its own author header with a resolvable user id.
type Pair struct {
	Message Message
	User    *User
}

// Author is the id the caller should carry forward as lastSeenAuthorId,
// empty when this element must not update it.
func (p Pair) Author() string {
	if p.User == nil {
		return ""
	}
	return p.User.ID
}

// Extractor turns message elements into records. It owns the session-local
// dedup set; it is not safe for concurrent use.
type Extractor struct {
	// ChannelID is used for elements whose id does not carry one.
	ChannelID string

	seen map[string]struct{}
}

func NewExtractor(channelId string) *Extractor {
	return &Extractor{
		ChannelID: channelId,
		seen:      map[string]struct{}{},
	}
}

// Reset clears the session-local dedup set.
func (e *Extractor) Reset() {
	e.seen = map[string]struct{}{}
}

// Processed is the number of distinct messages extracted since the last
// Reset.
func (e *Extractor) Processed() int {
	return len(e.seen)
}

func (e *Extractor) Seen(messageId string) bool {
	_, ok := e.seen[messageId]
	return ok
}

// parseMessageElementId splits `chat-messages-<channel>-<message>`.
func parseMessageElementId(id string) (channelId, messageId string, ok bool) {
	if !strings.HasPrefix(id, messageIDPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(id, messageIDPrefix)
	idx := strings.LastIndex(rest, "-")
	if idx < 0 {
		return "", rest, true
	}
	return rest[:idx], rest[idx+1:], true
}

// Extract converts one candidate element. It returns nil, nil for elements
// that are not messages or whose id was already extracted in this session.
// lastSeenAuthorId is inherited by grouped messages (no author header).
func (e *Extractor) Extract(node Node, lastSeenAuthorId string) (*Pair, error) {
	return e.ExtractContext(context.Background(), node, lastSeenAuthorId)
}

// ExtractContext is Extract with ctx attached to its logs.
func (e *Extractor) ExtractContext(ctx context.Context, node Node, lastSeenAuthorId string) (*Pair, error) {
	channelId, messageId, ok := parseMessageElementId(node.ID())
	if !ok {
		return nil, nil
	}
	if messageId == "" {
		return nil, fmt.Errorf("%w: '%s'", ErrMalformedMessage, node.ID())
	}
	if e.Seen(messageId) {
		return nil, nil
	}
	if channelId == "" {
		channelId = e.ChannelID
	}

	msg := Message{
		ID:             messageId,
		ChannelID:      channelId,
		Timestamp:      extractTimestamp(ctx, node),
		Content:        extractContent(node, messageId),
		HasAttachments: hasAttachments(node),
		Reactions:      extractReactions(node),
	}

	pair := Pair{Message: msg}
	scope := node
	if header := findFirst(node, byMarker(markerHeader)); header != nil {
		scope = header
	}
	usernameNode := findFirst(scope, byMarker(markerUsername))
	avatarNode := findFirst(scope, byMarker(markerAvatar))
	if usernameNode != nil && avatarNode != nil {
		user := extractUser(usernameNode, avatarNode)
		if user.ID != "" {
			pair.User = &user
			pair.Message.AuthorID = user.ID
		}
	} else {
		pair.Message.AuthorID = lastSeenAuthorId
	}

	if e.seen == nil {
		e.seen = map[string]struct{}{}
	}
	e.seen[messageId] = struct{}{}
	return &pair, nil
}

// ExtractAll runs Extract over nodes in order, carrying the author of the
// last header-bearing message forward. Elements that fail are logged and
// skipped. It returns the pairs and the updated author accumulator.
func (e *Extractor) ExtractAll(ctx context.Context, nodes []Node, lastSeenAuthorId string) ([]Pair, string) {
	var pairs []Pair
	for _, n := range nodes {
		pair, err := e.ExtractContext(ctx, n, lastSeenAuthorId)
		if err != nil {
			slog.WarnContext(ctx, "failed to extract message", "element", n.ID(), "err", err)
			extractFailures.Add(ctx, 1)
			continue
		}
		if pair == nil {
			continue
		}
		if author := pair.Author(); author != "" {
			lastSeenAuthorId = author
		}
		pairs = append(pairs, *pair)
	}
	if len(pairs) > 0 {
		extractedMessages.Add(ctx, int64(len(pairs)))
	}
	return pairs, lastSeenAuthorId
}

func extractUser(usernameNode, avatarNode Node) User {
	user := User{
		Username: htmlutil.CleanText(usernameNode.Text()),
	}
	if src, ok := avatarNode.Attr("src"); ok {
		user.AvatarURL = src
	} else if img := findFirst(avatarNode, byTag("img")); img != nil {
		user.AvatarURL, _ = img.Attr("src")
	}

	for _, n := range []Node{usernameNode, avatarNode} {
		if id, ok := n.Attr("data-user-id"); ok && id != "" {
			user.ID = id
			return user
		}
	}
	match := avatarUserIdRegex.FindStringSubmatch(user.AvatarURL)
	if len(match) >= 2 {
		user.ID = match[1]
	}
	return user
}

func extractContent(node Node, messageId string) string {
	content := findFirst(node, func(n Node) bool {
		return n.ID() == contentIDPrefix+messageId
	})
	if content == nil {
		content = findFirst(node, byIDPrefix(contentIDPrefix))
	}
	if content == nil {
		return ""
	}
	if text := content.Text(); strings.TrimSpace(text) != "" {
		return text
	}
	return content.HTML()
}

func extractTimestamp(ctx context.Context, node Node) string {
	timeNode := findFirst(node, byTag("time"))
	if timeNode != nil {
		raw, _ := timeNode.Attr("datetime")
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err == nil {
			return timezone.FormatISO(parsed)
		}
		slog.DebugContext(ctx, "unparsable message timestamp, using current time", "datetime", raw)
	}
	return timezone.FormatISO(timezone.Now())
}

func hasAttachments(node Node) bool {
	found := findFirst(node, func(n Node) bool {
		for _, m := range attachmentMarkers {
			if hasMarker(n, m) {
				return true
			}
		}
		return false
	})
	return found != nil
}

func extractReactions(node Node) []Reaction {
	var reactions []Reaction
	for _, r := range findAll(node, byMarker(markerReaction)) {
		countNode := findFirst(r, byMarker(markerReactionCount))
		if countNode == nil {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(countNode.Text()))
		if err != nil || count <= 0 {
			// zero counts are reaction chrome (the add-reaction button),
			// not data.
			continue
		}
		emoji := reactionEmoji(r)
		if emoji == "" {
			continue
		}
		reactions = append(reactions, Reaction{Emoji: emoji, Count: count})
	}
	return reactions
}

func reactionEmoji(reaction Node) string {
	if v, ok := reaction.Attr("data-emoji"); ok && v != "" {
		return v
	}
	if img := findFirst(reaction, byTag("img")); img != nil {
		if alt, ok := img.Attr("alt"); ok && alt != "" {
			return alt
		}
	}
	if n := findFirst(reaction, byMarker(markerEmoji)); n != nil {
		return htmlutil.CleanText(n.Text())
	}
	return ""
}
