package formatter

import (
	"rin/command"
)

// Editor splices fence tokens into a token stream. The synthetic ID counter
// lives on the Editor, so one Editor per run keeps inserted IDs unique for
// the whole run.
type Editor struct {
	nextID int
}

// NewEditor returns an editor whose first inserted token gets ID -1
func NewEditor() *Editor {
	return &Editor{nextID: -1}
}

// Apply returns a new stream with one fence token inserted before each
// addressed original token, in the order the commands were supplied.
// Commands addressed to IDs that are not in the stream are ignored.
// The input slice is not modified.
func (e *Editor) Apply(tokens []Token, cmds []command.EditCommand) []Token {
	byTarget := make(map[string][]command.EditCommand, len(cmds))
	for _, c := range cmds {
		byTarget[c.TokenID] = append(byTarget[c.TokenID], c)
	}

	out := make([]Token, 0, len(tokens)+len(cmds))
	for _, tok := range tokens {
		for _, c := range byTarget[tok.Key()] {
			text, ok := fenceText(c)
			if !ok {
				continue
			}
			out = append(out, Token{ID: e.nextID, Text: text})
			e.nextID--
		}
		out = append(out, tok)
	}
	return out
}

func fenceText(c command.EditCommand) (string, bool) {
	switch c.Op {
	case command.OpInsertFenceStart:
		return "\n" + fenceDelimiter + c.Lang + "\n", true
	case command.OpInsertFenceEnd:
		return "\n" + fenceDelimiter + "\n", true
	}
	return "", false
}
