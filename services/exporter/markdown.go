package exporter

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"chatarchive/lib/textutil"
	"chatarchive/lib/timezone"
	"chatarchive/services/exporter/db"
)

type MarkdownOptions struct {
	// Title of the document, defaults to "Discord Messages".
	Title string
	// Location timestamps are rendered in, defaults to timezone.Location.
	Location *time.Location
}

func (o MarkdownOptions) withDefaults() MarkdownOptions {
	if o.Title == "" {
		o.Title = "Discord Messages"
	}
	if o.Location == nil {
		o.Location = timezone.Location
	}
	return o
}

type Record struct {
	ChannelName string
	Username    string
	Timestamp   string
	Content     string
}

// the layouts after RFC3339 carry no zone and are read as UTC. A bare date
// has no time of day and is left as is.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// LocalizeTimestamp renders an exported timestamp in loc. Unparsable
// values are returned unchanged.
func LocalizeTimestamp(raw string, loc *time.Location) string {
	if raw == "" {
		return ""
	}
	const out = "2006-01-02 15:04:05 MST"
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.In(loc).Format(out)
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.In(loc).Format(out)
		}
	}
	return raw
}

// ReadRecords reads the messages of an export artifact, oldest first,
// joined with their channel and author names.
func ReadRecords(ctx context.Context, artifactPath string, opts MarkdownOptions) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "exporter:ReadRecords")
	defer span.End()

	opts = opts.withDefaults()
	_, err := os.Stat(artifactPath)
	if err != nil {
		return nil, err
	}
	database, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", artifactPath))
	if err != nil {
		return nil, err
	}
	defer database.Close()

	rows, err := db.New(database).ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]Record, len(rows))
	for i, r := range rows {
		records[i] = Record{
			ChannelName: r.ChannelName,
			Username:    r.Username,
			Timestamp:   LocalizeTimestamp(r.Timestamp, opts.Location),
			Content:     r.Content,
		}
	}
	return records, nil
}

// FormatMarkdown renders records grouped by channel, channels in name
// order and messages in the given order.
func FormatMarkdown(records []Record, title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if len(records) == 0 {
		b.WriteString("No messages found.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "**Total messages:** %d\n\n", len(records))
	b.WriteString("---\n\n")

	byChannel := map[string][]Record{}
	var names []string
	for _, r := range records {
		if _, ok := byChannel[r.ChannelName]; !ok {
			names = append(names, r.ChannelName)
		}
		byChannel[r.ChannelName] = append(byChannel[r.ChannelName], r)
	}
	slices.Sort(names)

	for _, name := range names {
		channelRecords := byChannel[name]
		fmt.Fprintf(&b, "## #%s\n\n", name)
		fmt.Fprintf(&b, "*%d messages in this channel*\n\n", len(channelRecords))
		for _, r := range channelRecords {
			fmt.Fprintf(&b, "**%s** *%s*\n\n", r.Username, r.Timestamp)
			content := strings.TrimSpace(r.Content)
			if content == "" {
				content = "*[No content]*"
			}
			fmt.Fprintf(&b, "%s\n\n", content)
			b.WriteString("---\n\n")
		}
	}
	return b.String()
}

// RenderMarkdown writes the whole artifact as one Markdown document.
func RenderMarkdown(ctx context.Context, artifactPath string, w io.Writer, opts MarkdownOptions) error {
	opts = opts.withDefaults()
	records, err := ReadRecords(ctx, artifactPath, opts)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, FormatMarkdown(records, opts.Title))
	return err
}

// SplitMarkdown writes one document per channel and month into dir and
// returns the paths written.
func SplitMarkdown(ctx context.Context, artifactPath, dir string, opts MarkdownOptions) ([]string, error) {
	opts = opts.withDefaults()
	records, err := ReadRecords(ctx, artifactPath, opts)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}

	type key struct {
		channel string
		month   string
	}
	groups := map[key][]Record{}
	for _, r := range records {
		month, ok := textutil.YearMonth(r.Timestamp)
		if !ok {
			month = "unknown"
		}
		k := key{channel: r.ChannelName, month: month}
		groups[k] = append(groups[k], r)
	}

	var paths []string
	for k, group := range groups {
		name := fmt.Sprintf("%s_%s.md", textutil.SanitizeFilename(k.channel), k.month)
		path := filepath.Join(dir, name)
		title := fmt.Sprintf("%s: #%s (%s)", opts.Title, k.channel, k.month)
		err := os.WriteFile(path, []byte(FormatMarkdown(group, title)), 0644)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths, nil
}
