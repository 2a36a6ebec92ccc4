package formatter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBlockIndexOutOfRange means a placeholder points past the block table.
// The stream is corrupt; callers must not paper over it.
var ErrBlockIndexOutOfRange = errors.New("fenced block index out of range")

// Reconstruct concatenates token texts, expanding placeholders back into the
// fenced blocks they replaced.
func Reconstruct(tokens []Token, blocks []FencedBlock) (string, error) {
	var sb strings.Builder
	for _, tok := range tokens {
		m := sentinelRE.FindStringSubmatch(tok.Text)
		if m == nil {
			sb.WriteString(tok.Text)
			continue
		}

		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 || idx >= len(blocks) {
			return "", fmt.Errorf("%w: placeholder %q (token %d), %d blocks recorded",
				ErrBlockIndexOutOfRange, tok.Text, tok.ID, len(blocks))
		}
		sb.WriteString(blocks[idx].render())
	}
	return sb.String(), nil
}
