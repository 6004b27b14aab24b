package feed

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	ext "github.com/mmcdole/gofeed/extensions"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

var bareImageURL = regexp.MustCompile(`(?i)https?://[^\s<>"']+\.(?:jpg|jpeg|png|gif|webp)`)

// ValidImageURL accepts absolute http(s) URLs whose path ends in a known
// image extension. A query string is allowed.
func ValidImageURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if len(raw) < 10 {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// pickImage walks explicit media fields first, then markup.
func pickImage(e *entry) string {
	for _, c := range e.Images {
		if ValidImageURL(c) {
			return strings.TrimSpace(c)
		}
	}
	for _, markup := range []string{e.Description, e.Content} {
		if c := FirstImage(markup); ValidImageURL(c) {
			return c
		}
	}
	for _, markup := range []string{e.Description, e.Content} {
		if c := bareImageURL.FindString(markup); ValidImageURL(c) {
			return c
		}
	}
	return ""
}

// FirstImage returns the src of the first <img> in an HTML fragment.
func FirstImage(markup string) string {
	if !strings.Contains(markup, "<img") && !strings.Contains(markup, "<IMG") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

// mediaImages collects media:thumbnail and media:content urls, including
// those nested in media:group.
func mediaImages(exts ext.Extensions) []string {
	media, ok := exts["media"]
	if !ok {
		return nil
	}
	var out []string
	collect := func(m map[string][]ext.Extension) {
		for _, t := range m["thumbnail"] {
			out = append(out, t.Attrs["url"])
		}
		for _, c := range m["content"] {
			medium := c.Attrs["medium"]
			typ := c.Attrs["type"]
			if medium == "image" || strings.HasPrefix(typ, "image/") || (medium == "" && typ == "") {
				out = append(out, c.Attrs["url"])
			}
		}
	}
	collect(media)
	for _, g := range media["group"] {
		collect(g.Children)
	}
	return out
}
