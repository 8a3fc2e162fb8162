// Package knowledge serves short pre-formatted fact snippets for the
// response generator's system segment, looked up by keyword overlap
// against a static JSON data file (category -> name -> info).
package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
)

const DefaultMaxItems = 3

var wordPattern = regexp.MustCompile(`\w+`)

type Base struct {
	categories map[string]map[string]string
	order      []string
}

// Load reads the data file. A missing file yields an empty base: every
// lookup returns "".
func Load(path string) (*Base, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Base{}, nil
	}
	if err != nil {
		return nil, err
	}

	var categories map[string]map[string]string
	if err := json.Unmarshal(data, &categories); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	order := make([]string, 0, len(categories))
	for cat := range categories {
		order = append(order, cat)
	}
	sort.Strings(order)
	return &Base{categories: categories, order: order}, nil
}

// Lookup returns up to maxItems fact lines relevant to message, one
// "Name (category): info" per line, or "" when nothing matches.
func (b *Base) Lookup(message string, maxItems int) string {
	if len(b.categories) == 0 {
		return ""
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	words := map[string]struct{}{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(message), -1) {
		words[w] = struct{}{}
	}
	if len(words) == 0 {
		return ""
	}

	var hits []string
	for _, cat := range b.order {
		items := b.categories[cat]
		names := make([]string, 0, len(items))
		for name := range items {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			info := items[name]
			text := strings.ToLower(name + " " + info)
			if !matchesAny(text, words) {
				continue
			}
			hits = append(hits, fmt.Sprintf("%s (%s): %s", titleCase(name), cat, info))
			if len(hits) >= maxItems {
				return strings.Join(hits, "\n")
			}
		}
	}
	return strings.Join(hits, "\n")
}

func matchesAny(text string, words map[string]struct{}) bool {
	for w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func titleCase(s string) string {
	parts := strings.Fields(s)
	for i, part := range parts {
		r := []rune(part)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		parts[i] = string(r)
	}
	return strings.Join(parts, " ")
}
