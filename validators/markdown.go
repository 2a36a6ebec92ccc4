// Package validators checks normalised markdown: fence parity, fenced code
// block extraction and per-language code checks.
package validators

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock is a fenced code block as a CommonMark parser sees it
type CodeBlock struct {
	Code string
	Lang string // first word of the info string, empty when absent
}

// FenceParityOK reports whether text holds an even number of ``` delimiters.
// It only counts; the CommonMark pass in ExtractCodeBlocks handles the rest.
func FenceParityOK(markdown string) bool {
	return strings.Count(markdown, "```")%2 == 0
}

// ExtractCodeBlocks returns fenced code blocks in document order
func ExtractCodeBlocks(markdown string) []CodeBlock {
	source := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var blocks []CodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fenced, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var code strings.Builder
		lines := fenced.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			code.Write(seg.Value(source))
		}
		blocks = append(blocks, CodeBlock{
			Code: code.String(),
			Lang: string(fenced.Language(source)),
		})
		return ast.WalkSkipChildren, nil
	})
	return blocks
}
