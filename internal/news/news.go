package news

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Article is the canonical unit every feed entry is normalized into.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	Image       string    `json:"image,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
	Source      string    `json:"source"`
}

// NewID derives a stable identity from source, url and title only.
func NewID(source, link, title string) string {
	h := sha1.New()
	h.Write([]byte(source))
	h.Write([]byte{0x1f})
	h.Write([]byte(link))
	h.Write([]byte{0x1f})
	h.Write([]byte(title))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Corpus is an immutable snapshot of the deduplicated articles from one cycle.
type Corpus struct {
	Articles  []Article
	BuiltAt   time.Time
	Attempted int
	Succeeded int
}

func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Articles)
}

// tracking parameters that vary per fetch without changing the target
var trackingParams = []string{"utm_", "fbclid", "gclid", "mc_cid", "mc_eid"}

// NormalizeURL canonicalizes a link for duplicate detection. Unparseable
// input is returned trimmed and lower-cased.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && !(port == "80" && u.Scheme == "http") && !(port == "443" && u.Scheme == "https") {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.User = nil

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		for _, p := range trackingParams {
			if strings.HasPrefix(lower, p) {
				q.Del(key)
				break
			}
		}
	}
	// Encode sorts keys.
	u.RawQuery = q.Encode()

	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""

	// scheme is not part of identity: the same story is served over http and https
	u.Scheme = ""
	return strings.TrimPrefix(u.String(), "//")
}

// dedupKey combines the normalized URL with the lower-cased title.
func dedupKey(a Article) string {
	title := strings.ToLower(strings.Join(strings.Fields(a.Title), " "))
	return NormalizeURL(a.URL) + "|" + title
}

// Merge flattens the per-source lists and drops later duplicates.
// The survivor is the first occurrence in argument order.
func Merge(lists ...[]Article) []Article {
	total := 0
	for _, l := range lists {
		total += len(l)
	}

	seen := make(map[string]struct{}, total)
	out := make([]Article, 0, total)
	for _, l := range lists {
		for _, a := range l {
			key := dedupKey(a)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// Duplicates reports how many articles Merge would discard.
func Duplicates(lists [][]Article, merged []Article) int {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	return total - len(merged)
}

// SortByRecency orders articles newest first, breaking ties by ID.
func SortByRecency(list []Article) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].PublishedAt.Equal(list[j].PublishedAt) {
			return list[i].PublishedAt.After(list[j].PublishedAt)
		}
		return list[i].ID < list[j].ID
	})
}
