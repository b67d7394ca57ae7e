package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrNotCrawlable = errors.New("not a crawlable channel url")

// Target names the channel to crawl. The names are optional, they are
// whatever the caller read off the page.
type Target struct {
	URL         string `json:"url"`
	ServerName  string `json:"server_name"`
	ChannelName string `json:"channel_name"`
}

type resolvedTarget struct {
	Target
	ServerID  string
	ChannelID string
}

// ParseChannelURL extracts the server and channel ids of a url shaped like
// `<host>/channels/<server>/<channel>[/<message>]`.
func ParseChannelURL(raw string) (serverId, channelId string, err error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrNotCrawlable, err.Error())
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, seg := range segments {
		if seg != "channels" || i+2 >= len(segments) {
			continue
		}
		serverId, channelId = segments[i+1], segments[i+2]
		if serverId != "" && channelId != "" {
			return serverId, channelId, nil
		}
	}
	return "", "", fmt.Errorf("%w: '%s'", ErrNotCrawlable, raw)
}

func (t Target) resolve() (resolvedTarget, error) {
	serverId, channelId, err := ParseChannelURL(t.URL)
	if err != nil {
		return resolvedTarget{}, err
	}
	return resolvedTarget{
		Target:    t,
		ServerID:  serverId,
		ChannelID: channelId,
	}, nil
}
