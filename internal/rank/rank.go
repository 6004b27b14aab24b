// Package rank scores articles against expanded query variants and orders
// them deterministically.
package rank

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/deusflow/newsmesh/internal/news"
	"github.com/deusflow/newsmesh/internal/query"
)

const (
	DefaultLimit = 20

	TitleWeight       = 10
	DescriptionWeight = 5
	RecencyBonus      = 2
	RecencyWindow     = 24 * time.Hour
)

// Mode tells whether a result list was scored or is a recency browse.
type Mode string

const (
	ModeBrowse Mode = "browse"
	ModeSearch Mode = "search"
)

// ScoredArticle exists only during ranking.
type ScoredArticle struct {
	news.Article
	Score int `json:"score"`
}

// Result is a ranked, truncated list plus the number of matches before truncation.
type Result struct {
	Mode     Mode
	Variants []string
	Total    int
	Items    []ScoredArticle
}

type Ranker struct {
	expander *query.Expander
	now      func() time.Time
}

func New(expander *query.Expander) *Ranker {
	if expander == nil {
		expander = query.NewExpander(nil)
	}
	return &Ranker{expander: expander, now: time.Now}
}

// WithClock replaces the wall clock used for the recency bonus.
func (r *Ranker) WithClock(now func() time.Time) *Ranker {
	r.now = now
	return r
}

// Rank returns at most limit articles: the most recent ones for an empty
// query, otherwise the matching ones by score.
func (r *Ranker) Rank(corpus []news.Article, q query.Query, limit int) []ScoredArticle {
	return r.Search(corpus, q, limit).Items
}

func (r *Ranker) Search(corpus []news.Article, q query.Query, limit int) Result {
	if limit <= 0 {
		limit = DefaultLimit
	}

	if q.IsEmpty() {
		items := make([]ScoredArticle, len(corpus))
		for i, a := range corpus {
			items[i] = ScoredArticle{Article: a}
		}
		sortItems(items)
		return Result{Mode: ModeBrowse, Total: len(items), Items: truncate(items, limit)}
	}

	variants := r.expander.Expand(q.Raw)
	now := r.now()

	var items []ScoredArticle
	for _, a := range corpus {
		score, matched := Score(a, variants, now)
		if !matched {
			continue
		}
		items = append(items, ScoredArticle{Article: a, Score: score})
	}
	sortItems(items)

	return Result{Mode: ModeSearch, Variants: variants, Total: len(items), Items: truncate(items, limit)}
}

// Score sums the per-variant title and description hits and adds the
// recency bonus. matched is false when no variant hits at all; such
// articles never receive the bonus because they are excluded.
func Score(a news.Article, variants []string, now time.Time) (score int, matched bool) {
	titleFolded := strings.ToLower(a.Title)
	descFolded := strings.ToLower(a.Description)

	for _, v := range variants {
		if v == "" {
			continue
		}
		var inTitle, inDesc bool
		if IsNonLatin(v) {
			inTitle = strings.Contains(a.Title, v)
			inDesc = strings.Contains(a.Description, v)
		} else {
			lv := strings.ToLower(v)
			inTitle = strings.Contains(titleFolded, lv)
			inDesc = strings.Contains(descFolded, lv)
		}
		if inTitle {
			score += TitleWeight
		}
		if inDesc {
			score += DescriptionWeight
		}
		matched = matched || inTitle || inDesc
	}
	if !matched {
		return 0, false
	}

	if now.Sub(a.PublishedAt) < RecencyWindow {
		score += RecencyBonus
	}
	return score, true
}

// IsNonLatin reports whether s carries characters from a script other than
// Latin. Such variants are matched exactly since case folding does not apply.
func IsNonLatin(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Hebrew, r) {
			return true
		}
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}

// sortItems orders by score, then publication time, then id.
func sortItems(items []ScoredArticle) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].PublishedAt.Equal(items[j].PublishedAt) {
			return items[i].PublishedAt.After(items[j].PublishedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func truncate(items []ScoredArticle, limit int) []ScoredArticle {
	if len(items) > limit {
		return items[:limit]
	}
	if items == nil {
		return []ScoredArticle{}
	}
	return items
}
