// Package relay describes the pass-through services used when a source
// cannot be fetched directly, and implements one such service.
package relay

import (
	"fmt"
	"net/url"
	"strings"
)

const placeholder = "{url}"

// Relay is one fallback hop. Template holds a {url} placeholder that is
// replaced with the query-escaped target.
type Relay struct {
	Name     string
	Template string
}

// Wrap returns the relay URL that fetches target.
func (r Relay) Wrap(target string) string {
	return strings.Replace(r.Template, placeholder, url.QueryEscape(target), 1)
}

// Parse turns templates into relays named after their host, keeping order.
func Parse(templates []string) ([]Relay, error) {
	out := make([]Relay, 0, len(templates))
	for _, t := range templates {
		if !strings.Contains(t, placeholder) {
			return nil, fmt.Errorf("relay template %q has no %s placeholder", t, placeholder)
		}
		u, err := url.Parse(strings.Replace(t, placeholder, "x", 1))
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("relay template %q is not an absolute URL", t)
		}
		out = append(out, Relay{Name: u.Hostname(), Template: t})
	}
	return out, nil
}
