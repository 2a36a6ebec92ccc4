// Package formatter holds the deterministic text pipeline: pre-existing
// fences are swapped for placeholders, the remaining text is split into
// addressable tokens, fence tokens are spliced in from edit commands and the
// stream is glued back into markdown.
package formatter

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	sentinelPrefix = "⟦F_BLOCK_"
	sentinelSuffix = "⟧"
	fenceDelimiter = "```"
)

// FencedBlock is a fence that already existed in the input, captured verbatim
type FencedBlock struct {
	Lang    string
	Content string
	Index   int
}

// fenceRE matches ```lang\n ... ``` lazily; the first closer wins and fences
// never nest.
var fenceRE = regexp.MustCompile("(?s)```([\\p{L}\\p{N}_]*)\\n(.*?)```")

// sentinelRE matches a whole placeholder token
var sentinelRE = regexp.MustCompile(`^⟦F_BLOCK_(\d+)⟧$`)

// Sentinel returns the placeholder standing in for block n
func Sentinel(n int) string {
	return fmt.Sprintf("%s%d%s", sentinelPrefix, n, sentinelSuffix)
}

// Segregate replaces every pre-existing fenced block with a placeholder and
// returns the substituted text together with the blocks in discovery order.
// Unpaired delimiters are left where they are.
func Segregate(text string) (string, []FencedBlock) {
	matches := fenceRE.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	blocks := make([]FencedBlock, 0, len(matches))
	var sb strings.Builder
	last := 0
	for _, m := range matches {
		idx := len(blocks)
		blocks = append(blocks, FencedBlock{
			Lang:    text[m[2]:m[3]],
			Content: text[m[4]:m[5]],
			Index:   idx,
		})
		sb.WriteString(text[last:m[0]])
		sb.WriteString(Sentinel(idx))
		last = m[1]
	}
	sb.WriteString(text[last:])
	return sb.String(), blocks
}

// render emits a block the way it is restored into the document
func (b FencedBlock) render() string {
	return fenceDelimiter + b.Lang + "\n" + b.Content + fenceDelimiter
}
