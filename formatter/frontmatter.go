package formatter

import (
	"sort"
	"strings"

	"github.com/adrg/frontmatter"
)

// FrontMatter is a metadata header split off the top of a document
type FrontMatter struct {
	Raw  string   // header exactly as it appeared, delimiters included
	Keys []string // top-level keys, sorted
}

// SplitFrontMatter separates a leading YAML/TOML/JSON front matter header
// from the body. Text without a well-formed header comes back unchanged with
// a zero FrontMatter; header+body always equals text.
func SplitFrontMatter(text string) (FrontMatter, string) {
	var meta map[string]interface{}
	rest, err := frontmatter.Parse(strings.NewReader(text), &meta)
	if err != nil || len(meta) == 0 {
		return FrontMatter{}, text
	}

	body := string(rest)
	if len(body) >= len(text) || !strings.HasSuffix(text, body) {
		return FrontMatter{}, text
	}

	keys := make([]string, 0, len(meta))
	for key := range meta {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return FrontMatter{Raw: text[:len(text)-len(body)], Keys: keys}, body
}
