package formatter

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is the smallest addressable unit of text. Tokens produced by
// Tokenize carry IDs 0..n-1; inserted fence tokens carry negative IDs.
type Token struct {
	ID   int
	Text string
}

// FormatID renders a token ID in the fixed-width form used by edit commands
func FormatID(id int) string {
	return fmt.Sprintf("%05d", id)
}

// Key returns the token's fixed-width address
func (t Token) Key() string {
	return FormatID(t.ID)
}

// Tokenize splits text into a total ordered partition. Classification order
// is: a whole placeholder, a whitespace run, a word run (letters, digits,
// underscore), then any single remaining rune.
func Tokenize(text string) []Token {
	var tokens []Token
	for pos := 0; pos < len(text); {
		n := scanToken(text[pos:])
		tokens = append(tokens, Token{ID: len(tokens), Text: text[pos : pos+n]})
		pos += n
	}
	return tokens
}

// scanToken returns the byte length of the token at the start of s
func scanToken(s string) int {
	if n := scanSentinel(s); n > 0 {
		return n
	}

	r, size := utf8.DecodeRuneInString(s)
	switch {
	case unicode.IsSpace(r):
		return size + scanWhile(s[size:], unicode.IsSpace)
	case isWordRune(r):
		return size + scanWhile(s[size:], isWordRune)
	default:
		return size
	}
}

func scanWhile(s string, pred func(rune) bool) int {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if r == utf8.RuneError && size <= 1 {
			return n
		}
		if !pred(r) {
			return n
		}
		n += size
	}
	return n
}

// scanSentinel returns the length of a placeholder at the start of s, or 0
func scanSentinel(s string) int {
	if !strings.HasPrefix(s, sentinelPrefix) {
		return 0
	}
	digits := 0
	rest := s[len(sentinelPrefix):]
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits == 0 || !strings.HasPrefix(rest[digits:], sentinelSuffix) {
		return 0
	}
	return len(sentinelPrefix) + digits + len(sentinelSuffix)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
