package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// itemList is the shape returned by rss2json-style relays.
type itemList struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Version string          `json:"version"`
	Items   json.RawMessage `json:"items"`
}

type jsonItem struct {
	Title       string          `json:"title"`
	Link        string          `json:"link"`
	GUID        string          `json:"guid"`
	Description string          `json:"description"`
	Content     string          `json:"content"`
	Thumbnail   string          `json:"thumbnail"`
	Enclosure   json.RawMessage `json:"enclosure"`
	PubDate     string          `json:"pubDate"`
}

type jsonEnclosure struct {
	Link string `json:"link"`
	Type string `json:"type"`
}

// isItemList reports whether a JSON body is an item list rather than a
// JSON Feed document, which gofeed handles.
func isItemList(body []byte) bool {
	if body[0] == '[' {
		return true
	}
	var head itemList
	if err := json.Unmarshal(body, &head); err != nil {
		return false
	}
	return !strings.Contains(head.Version, "jsonfeed.org")
}

func parseItemList(body []byte) ([]entry, error) {
	var raw json.RawMessage = body
	if body[0] == '{' {
		var l itemList
		if err := json.Unmarshal(body, &l); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
		}
		if l.Status != "" && l.Status != "ok" {
			return nil, fmt.Errorf("relay status %q: %s", l.Status, l.Message)
		}
		if len(l.Items) == 0 {
			return nil, nil
		}
		raw = l.Items
	}

	// decode item by item so one malformed item does not drop the rest
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: items: %v", ErrUnknownFormat, err)
	}
	entries := make([]entry, 0, len(items))
	for _, r := range items {
		var it jsonItem
		if err := json.Unmarshal(r, &it); err != nil {
			continue
		}
		entries = append(entries, it.entry())
	}
	return entries, nil
}

func (it jsonItem) entry() entry {
	e := entry{
		Title:       it.Title,
		Link:        it.Link,
		GUID:        it.GUID,
		Description: it.Description,
		Content:     it.Content,
	}
	if t, ok := parseDate(it.PubDate); ok {
		e.Published = &t
	}
	if it.Thumbnail != "" {
		e.Images = append(e.Images, it.Thumbnail)
	}
	// enclosure is an object, or an empty array when absent
	var enc jsonEnclosure
	if len(it.Enclosure) > 0 && json.Unmarshal(it.Enclosure, &enc) == nil && enc.Link != "" {
		if enc.Type == "" || strings.HasPrefix(enc.Type, "image/") {
			e.Images = append(e.Images, enc.Link)
		}
	}
	return e
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseDate reads the formats relays emit; zone-less values are UTC.
func parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
