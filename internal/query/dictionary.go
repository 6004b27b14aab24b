// Package query expands search terms across Hebrew and Latin script using an
// explicit bilingual lookup table.
package query

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed dictionary.yaml
var defaultDictionary []byte

// Dictionary maps phrases in one script to equivalent phrases in the other.
// Latin keys and values are stored lower-cased.
type Dictionary struct {
	Version       int                 `yaml:"version"`
	HebrewToLatin map[string][]string `yaml:"hebrew_to_latin"`
	LatinToHebrew map[string][]string `yaml:"latin_to_hebrew"`
}

// DefaultDictionary returns the table compiled into the binary.
func DefaultDictionary() *Dictionary {
	d, err := ParseDictionary(defaultDictionary)
	if err != nil {
		panic(fmt.Sprintf("embedded dictionary: %v", err))
	}
	return d
}

// LoadDictionary reads a YAML table from path.
func LoadDictionary(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := ParseDictionary(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// LoadDictionaryOrDefault uses path when set, otherwise the embedded table.
func LoadDictionaryOrDefault(path string) (*Dictionary, error) {
	if path == "" {
		return DefaultDictionary(), nil
	}
	return LoadDictionary(path)
}

func ParseDictionary(data []byte) (*Dictionary, error) {
	var raw Dictionary
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode dictionary: %w", err)
	}
	if len(raw.HebrewToLatin) == 0 && len(raw.LatinToHebrew) == 0 {
		return nil, fmt.Errorf("dictionary is empty")
	}

	d := &Dictionary{
		Version:       raw.Version,
		HebrewToLatin: make(map[string][]string, len(raw.HebrewToLatin)),
		LatinToHebrew: make(map[string][]string, len(raw.LatinToHebrew)),
	}
	for k, vs := range raw.HebrewToLatin {
		k = strings.TrimSpace(k)
		for _, v := range vs {
			d.HebrewToLatin[k] = appendUnique(d.HebrewToLatin[k], strings.ToLower(strings.TrimSpace(v)))
		}
	}
	for k, vs := range raw.LatinToHebrew {
		k = strings.ToLower(strings.TrimSpace(k))
		for _, v := range vs {
			d.LatinToHebrew[k] = appendUnique(d.LatinToHebrew[k], strings.TrimSpace(v))
		}
	}
	return d, nil
}

// Lookup returns the mapped phrases for term in either direction.
func (d *Dictionary) Lookup(term string) []string {
	var out []string
	if vs, ok := d.HebrewToLatin[term]; ok {
		out = append(out, vs...)
	}
	if vs, ok := d.LatinToHebrew[strings.ToLower(term)]; ok {
		out = append(out, vs...)
	}
	return out
}

// Asymmetry is a mapping whose target never maps back to its key.
type Asymmetry struct {
	Direction string // "hebrew_to_latin" or "latin_to_hebrew"
	Key       string
	Values    []string
}

func (a Asymmetry) String() string {
	return fmt.Sprintf("%s: %q -> %q has no reverse entry", a.Direction, a.Key, a.Values)
}

// Validate reports every entry where none of the mapped values maps back to
// the key. Several renderings may share one canonical reverse term, so a
// single reverse hit is enough.
func (d *Dictionary) Validate() []Asymmetry {
	var out []Asymmetry
	for k, vs := range d.HebrewToLatin {
		if !anyMapsBack(d.LatinToHebrew, vs, k) {
			out = append(out, Asymmetry{Direction: "hebrew_to_latin", Key: k, Values: vs})
		}
	}
	for k, vs := range d.LatinToHebrew {
		if !anyMapsBack(d.HebrewToLatin, vs, k) {
			out = append(out, Asymmetry{Direction: "latin_to_hebrew", Key: k, Values: vs})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Direction != out[j].Direction {
			return out[i].Direction < out[j].Direction
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func anyMapsBack(reverse map[string][]string, values []string, key string) bool {
	for _, v := range values {
		for _, back := range reverse[v] {
			if back == key {
				return true
			}
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
