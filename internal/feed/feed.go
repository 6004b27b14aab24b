// Package feed turns raw RSS, Atom, JSON Feed and rss2json payloads into
// canonical articles.
package feed

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html/charset"

	"github.com/deusflow/newsmesh/internal/fetch"
	"github.com/deusflow/newsmesh/internal/news"
)

// ErrUnknownFormat means a payload could not be parsed as any feed format.
var ErrUnknownFormat = errors.New("unknown feed format")

// MaxDescription bounds the summary length in runes.
const MaxDescription = 220

// entry is the format-independent view of one feed item.
type entry struct {
	Title       string
	Link        string
	GUID        string
	Description string
	Content     string
	Published   *time.Time
	Images      []string // explicit media fields, in priority order
}

type Normalizer struct {
	log *slog.Logger
}

func NewNormalizer(log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{log: log.With("component", "feed")}
}

// Normalize parses p with a default normalizer.
func Normalize(p fetch.RawPayload, now time.Time) []news.Article {
	return NewNormalizer(nil).Normalize(p, now)
}

// Normalize never fails: an unparseable payload yields no articles and a
// broken entry is skipped.
func (n *Normalizer) Normalize(p fetch.RawPayload, now time.Time) []news.Article {
	entries, err := n.parse(p)
	if err != nil {
		n.log.Warn("payload skipped", "source", p.Source.Name, "via", p.Via, "error", err)
		return nil
	}

	base, _ := url.Parse(p.Source.Endpoint)
	out := make([]news.Article, 0, len(entries))
	skipped := 0
	for i := range entries {
		a, ok := n.convert(&entries[i], p.Source.Name, base, now)
		if !ok {
			skipped++
			continue
		}
		out = append(out, a)
	}
	if skipped > 0 {
		n.log.Debug("entries dropped", "source", p.Source.Name, "count", skipped)
	}
	return out
}

func (n *Normalizer) parse(p fetch.RawPayload) ([]entry, error) {
	body := bytes.TrimSpace(bytes.TrimPrefix(p.Body, []byte("\xef\xbb\xbf")))
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnknownFormat)
	}

	if body[0] == '{' || body[0] == '[' {
		body = decodeCharset(body, p.ContentType)
		if isItemList(body) {
			return parseItemList(body)
		}
	} else if !utf8.Valid(body) && !bytes.Contains(body[:min(len(body), 200)], []byte("encoding=")) {
		body = decodeCharset(body, p.ContentType)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	entries := make([]entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, fromItem(item))
	}
	return entries, nil
}

func fromItem(item *gofeed.Item) entry {
	e := entry{
		Title:       item.Title,
		Link:        item.Link,
		GUID:        item.GUID,
		Description: item.Description,
		Content:     item.Content,
		Published:   item.PublishedParsed,
	}
	if e.Published == nil {
		e.Published = item.UpdatedParsed
	}
	if e.Link == "" && len(item.Links) > 0 {
		e.Link = item.Links[0]
	}
	if item.Image != nil {
		e.Images = append(e.Images, item.Image.URL)
	}
	e.Images = append(e.Images, mediaImages(item.Extensions)...)
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		if strings.HasPrefix(enc.Type, "image/") || enc.Type == "" {
			e.Images = append(e.Images, enc.URL)
		}
	}
	return e
}

// convert builds an article, recovering from anything a malformed entry
// can trigger so one bad item never aborts the payload.
func (n *Normalizer) convert(e *entry, source string, base *url.URL, now time.Time) (a news.Article, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Warn("entry skipped", "source", source, "panic", r)
			ok = false
		}
	}()

	title := StripMarkup(e.Title)
	link := resolveLink(strings.TrimSpace(e.Link), base)
	if link == "" && strings.HasPrefix(strings.TrimSpace(e.GUID), "http") {
		link = resolveLink(strings.TrimSpace(e.GUID), base)
	}
	if title == "" || link == "" {
		return news.Article{}, false
	}

	summary := e.Description
	if strings.TrimSpace(summary) == "" {
		summary = e.Content
	}

	published := now
	if e.Published != nil && !e.Published.IsZero() {
		published = *e.Published
	}

	return news.Article{
		ID:          news.NewID(source, link, title),
		Title:       title,
		Description: Truncate(StripMarkup(summary), MaxDescription),
		URL:         link,
		Image:       pickImage(e),
		PublishedAt: published,
		Source:      source,
	}, true
}

// resolveLink returns an absolute http(s) link or "".
func resolveLink(raw string, base *url.URL) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if !u.IsAbs() && base != nil {
		u = base.ResolveReference(u)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}

func decodeCharset(body []byte, contentType string) []byte {
	if utf8.Valid(body) {
		return body
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return body
	}
	return buf.Bytes()
}
