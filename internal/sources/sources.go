// Package sources holds the static registry of feed sources.
package sources

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Script is the writing system a source publishes in.
type Script int

const (
	Latin Script = iota
	Hebrew
	Mixed
)

func (s Script) String() string {
	switch s {
	case Hebrew:
		return "hebrew"
	case Mixed:
		return "mixed"
	default:
		return "latin"
	}
}

func ParseScript(v string) (Script, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "latin", "english", "":
		return Latin, nil
	case "hebrew":
		return Hebrew, nil
	case "mixed":
		return Mixed, nil
	}
	return Latin, fmt.Errorf("unknown script %q", v)
}

func (s Script) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Script) UnmarshalText(b []byte) error {
	v, err := ParseScript(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Source describes one independently operated feed.
type Source struct {
	Name     string `yaml:"name" json:"name"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Script   Script `yaml:"script" json:"script"`
}

// SourcesConfig is YAML config structure
// sources:
//   - name: BBC
//     endpoint: https://...
//     script: latin
type SourcesConfig struct {
	Sources []Source `yaml:"sources"`
}

// Load reads the source list from a YAML file and validates it.
func Load(path string) ([]Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg SourcesConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := Validate(cfg.Sources); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg.Sources, nil
}

// Validate checks names are present and unique and endpoints are absolute http(s) URLs.
func Validate(list []Source) error {
	seen := make(map[string]struct{}, len(list))
	for i, s := range list {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("source #%d has no name", i+1)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate source name %q", name)
		}
		seen[key] = struct{}{}

		u, err := url.Parse(s.Endpoint)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("source %q: endpoint %q is not an absolute http(s) URL", name, s.Endpoint)
		}
	}
	return nil
}

// Default returns the built-in registry.
func Default() []Source {
	return []Source{
		{Name: "BBC", Endpoint: "https://feeds.bbci.co.uk/news/rss.xml", Script: Latin},
		{Name: "Reuters", Endpoint: "https://feeds.reuters.com/reuters/topNews", Script: Latin},
		{Name: "CNN", Endpoint: "http://rss.cnn.com/rss/edition.rss", Script: Latin},
		{Name: "Guardian", Endpoint: "https://www.theguardian.com/world/rss", Script: Latin},
		{Name: "AP", Endpoint: "https://apnews.com/apf-topnews?output=rss", Script: Latin},
		{Name: "Ynet", Endpoint: "https://www.ynet.co.il/Integration/StoryRss2.xml", Script: Hebrew},
		{Name: "Walla", Endpoint: "https://rss.walla.co.il/feed/1?type=main", Script: Hebrew},
		{Name: "Israel Hayom", Endpoint: "https://www.israelhayom.co.il/rss", Script: Hebrew},
		{Name: "Globes", Endpoint: "https://www.globes.co.il/webservice/rss/rssfeeder.asmx/FeederNode?iID=1225", Script: Mixed},
	}
}

// LoadOrDefault uses path when set, otherwise the built-in registry.
func LoadOrDefault(path string) ([]Source, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
