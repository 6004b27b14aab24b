package feed

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsmesh/internal/fetch"
	"github.com/deusflow/newsmesh/internal/logger"
	"github.com/deusflow/newsmesh/internal/news"
	"github.com/deusflow/newsmesh/internal/sources"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
  <title>Ynet</title>
  <item>
    <title>פורום בירושלים נפתח</title>
    <link>https://www.ynet.co.il/news/article/1</link>
    <description><![CDATA[<p>תיאור <b>קצר</b></p>]]></description>
    <pubDate>Mon, 10 Mar 2025 09:00:00 GMT</pubDate>
    <media:thumbnail url="https://ynet-pic1.yit.co.il/picserver/1.jpg"/>
  </item>
  <item>
    <title>Tom &amp; Jerry</title>
    <link>https://www.ynet.co.il/news/article/2</link>
    <description><![CDATA[<div><img src="https://images.ynet.co.il/2.png?w=300"/>Body text</div>]]></description>
    <enclosure url="https://ynet.co.il/audio.mp3" type="audio/mpeg" length="1"/>
  </item>
  <item>
    <title>Relative link</title>
    <link>/news/article/3</link>
    <description>plain</description>
    <enclosure url="https://images.ynet.co.il/3.webp" type="image/webp" length="1"/>
  </item>
  <item>
    <title>Guid only</title>
    <guid isPermaLink="true">https://www.ynet.co.il/news/article/4</guid>
    <description>&lt;img src="/relative.jpg"&gt; no absolute image</description>
  </item>
  <item>
    <link>https://www.ynet.co.il/news/article/5</link>
    <description>no title</description>
  </item>
  <item>
    <title>No link</title>
  </item>
</channel>
</rss>`

func payload(body, contentType string) fetch.RawPayload {
	return fetch.RawPayload{
		Source: sources.Source{
			Name:     "Ynet",
			Endpoint: "https://www.ynet.co.il/Integration/StoryRss2.xml",
			Script:   sources.Hebrew,
		},
		Body:        []byte(body),
		ContentType: contentType,
		Via:         fetch.ViaDirect,
	}
}

func normalizer() *Normalizer {
	return NewNormalizer(logger.Discard())
}

func byTitle(list []news.Article) map[string]news.Article {
	out := make(map[string]news.Article, len(list))
	for _, a := range list {
		out[a.Title] = a
	}
	return out
}

func TestNormalizeRSS(t *testing.T) {
	articles := normalizer().Normalize(payload(rssFixture, "application/rss+xml"), now)
	require.Len(t, articles, 4, "entries without title or link are dropped")

	got := byTitle(articles)

	he := got["פורום בירושלים נפתח"]
	assert.Equal(t, "https://www.ynet.co.il/news/article/1", he.URL)
	assert.Equal(t, "תיאור קצר", he.Description)
	assert.Equal(t, "https://ynet-pic1.yit.co.il/picserver/1.jpg", he.Image)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), he.PublishedAt.UTC())
	assert.Equal(t, "Ynet", he.Source)
	assert.Equal(t, news.NewID("Ynet", he.URL, he.Title), he.ID)

	tj := got["Tom & Jerry"]
	assert.Equal(t, "https://images.ynet.co.il/2.png?w=300", tj.Image, "audio enclosure skipped, inline img used")
	assert.Equal(t, "Body text", tj.Description)
	assert.Equal(t, now, tj.PublishedAt, "missing date defaults to retrieval time")

	rel := got["Relative link"]
	assert.Equal(t, "https://www.ynet.co.il/news/article/3", rel.URL)
	assert.Equal(t, "https://images.ynet.co.il/3.webp", rel.Image)

	guid := got["Guid only"]
	assert.Equal(t, "https://www.ynet.co.il/news/article/4", guid.URL)
	assert.Empty(t, guid.Image)
}

func TestNormalizeIsStable(t *testing.T) {
	first := normalizer().Normalize(payload(rssFixture, ""), now)
	second := normalizer().Normalize(payload(rssFixture, ""), now.Add(time.Hour))
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestNormalizeAtom(t *testing.T) {
	atom := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Globes</title>
  <entry>
    <title>Markets rally</title>
    <link href="https://www.globes.co.il/news/1"/>
    <summary type="html">&lt;p&gt;Stocks &lt;i&gt;up&lt;/i&gt;&lt;/p&gt;</summary>
    <updated>2025-03-09T08:30:00Z</updated>
  </entry>
</feed>`
	articles := normalizer().Normalize(payload(atom, "application/atom+xml"), now)
	require.Len(t, articles, 1)
	assert.Equal(t, "Markets rally", articles[0].Title)
	assert.Equal(t, "https://www.globes.co.il/news/1", articles[0].URL)
	assert.Equal(t, "Stocks up", articles[0].Description)
	assert.Equal(t, time.Date(2025, 3, 9, 8, 30, 0, 0, time.UTC), articles[0].PublishedAt.UTC())
}

func TestNormalizeRSS2JSON(t *testing.T) {
	body := `{
  "status": "ok",
  "feed": {"title": "BBC"},
  "items": [
    {"title": "Jerusalem forum opens", "link": "https://www.bbc.co.uk/news/1", "pubDate": "2025-03-10 11:00:00",
     "thumbnail": "", "description": "<p>Leaders meet</p>", "enclosure": {"link": "https://ichef.bbci.co.uk/1.jpg", "type": "image/jpeg"}},
    {"title": "Second", "link": "https://www.bbc.co.uk/news/2", "pubDate": "", "description": "", "content": "<p>From content</p><img src='https://ichef.bbci.co.uk/2.gif'>", "enclosure": []},
    {"title": 42, "link": "https://www.bbc.co.uk/news/3"},
    {"title": "", "link": "https://www.bbc.co.uk/news/4"}
  ]
}`
	articles := normalizer().Normalize(payload(body, "application/json"), now)
	require.Len(t, articles, 2)

	assert.Equal(t, "Jerusalem forum opens", articles[0].Title)
	assert.Equal(t, "Leaders meet", articles[0].Description)
	assert.Equal(t, "https://ichef.bbci.co.uk/1.jpg", articles[0].Image)
	assert.Equal(t, time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC), articles[0].PublishedAt)

	assert.Equal(t, "From content", articles[1].Description)
	assert.Equal(t, "https://ichef.bbci.co.uk/2.gif", articles[1].Image)
	assert.Equal(t, now, articles[1].PublishedAt)
}

func TestNormalizeRelayErrorStatus(t *testing.T) {
	body := `{"status":"error","message":"Cannot download this RSS feed","items":[{"title":"x","link":"https://a.example/1"}]}`
	assert.Empty(t, normalizer().Normalize(payload(body, "application/json"), now))
}

func TestNormalizeBareItemList(t *testing.T) {
	body := `[{"title":"One","link":"https://walla.co.il/1"},{"title":"Two","link":"https://walla.co.il/2"}]`
	assert.Len(t, normalizer().Normalize(payload(body, "application/json"), now), 2)
}

func TestNormalizeJSONFeed(t *testing.T) {
	body := `{
  "version": "https://jsonfeed.org/version/1.1",
  "title": "Example",
  "items": [{"id": "1", "url": "https://example.org/1", "title": "Json feed item", "content_html": "<p>Hi</p>", "image": "https://example.org/1.png"}]
}`
	articles := normalizer().Normalize(payload(body, "application/feed+json"), now)
	require.Len(t, articles, 1)
	assert.Equal(t, "Json feed item", articles[0].Title)
	assert.Equal(t, "https://example.org/1", articles[0].URL)
	assert.Equal(t, "https://example.org/1.png", articles[0].Image)
}

func TestNormalizeLegacyCharset(t *testing.T) {
	// "שלום" in windows-1255
	body := "{\"status\":\"ok\",\"items\":[{\"title\":\"\xf9\xec\xe5\xed\",\"link\":\"https://www.walla.co.il/item/1\"}]}"
	articles := normalizer().Normalize(payload(body, "application/json; charset=windows-1255"), now)
	require.Len(t, articles, 1)
	assert.Equal(t, "שלום", articles[0].Title)
}

func TestNormalizeGarbage(t *testing.T) {
	for _, body := range []string{"", "   ", "<html><body>Access denied</body></html>", "{not json", "<rss><channel><item><title>x"} {
		assert.NotPanics(t, func() {
			_ = normalizer().Normalize(payload(body, ""), now)
		})
	}
	assert.Empty(t, normalizer().Normalize(payload("<html><body>Access denied</body></html>", "text/html"), now))
}

func TestDescriptionIsBounded(t *testing.T) {
	long := strings.Repeat("word ", 200)
	body := `<rss version="2.0"><channel><item><title>Long</title><link>https://a.example/1</link><description>` + long + `</description></item></channel></rss>`
	articles := normalizer().Normalize(payload(body, ""), now)
	require.Len(t, articles, 1)
	assert.LessOrEqual(t, utf8.RuneCountInString(articles[0].Description), MaxDescription)
	assert.True(t, strings.HasSuffix(articles[0].Description, "…"))
}

func TestValidImageURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://cdn.example.com/x", false},
		{"https://cdn.example.com/x.jpg?w=300", true},
		{"https://cdn.example.com/a/b.JPEG", true},
		{"http://cdn.example.com/x.webp", true},
		{"https://cdn.example.com/x.gif#frag", true},
		{"https://cdn.example.com/x.svg", false},
		{"https://cdn.example.com/x.jpg.html", false},
		{"ftp://cdn.example.com/x.jpg", false},
		{"//cdn.example.com/x.jpg", false},
		{"/images/x.jpg", false},
		{"a.jpg", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidImageURL(tt.url), tt.url)
	}
}

func TestStripMarkup(t *testing.T) {
	assert.Equal(t, "Hello world", StripMarkup("<p>Hello <b>world</b></p>"))
	assert.Equal(t, "a & b", StripMarkup("a &amp; b"))
	assert.Equal(t, "text", StripMarkup("<script>alert(1)</script> text "))
	assert.Equal(t, "plain text", StripMarkup("  plain \n\t text "))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "שלום…", Truncate("שלום עולם", 5))
	assert.Equal(t, 5, utf8.RuneCountInString(Truncate("abcdefghij", 5)))
}
