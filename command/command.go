// Package command models the fence edit instructions a backend emits and
// parses them from raw backend output.
//
// The grammar is line oriented and whitespace split:
//
//	INSERT_FENCE_START <token_id> <language_tag...>
//	INSERT_FENCE_END <token_id>
//
// Parsing is lenient: lines that do not match either shape are handed back
// as rejected lines rather than reported as errors.
package command

import (
	"fmt"
	"strings"
)

// Op identifies the kind of edit a command performs
type Op int

const (
	OpInsertFenceStart Op = iota
	OpInsertFenceEnd
)

const (
	OpcodeInsertFenceStart = "INSERT_FENCE_START"
	OpcodeInsertFenceEnd   = "INSERT_FENCE_END"
)

// String returns the wire opcode for an Op
func (o Op) String() string {
	switch o {
	case OpInsertFenceStart:
		return OpcodeInsertFenceStart
	case OpInsertFenceEnd:
		return OpcodeInsertFenceEnd
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the opcode so reports stay readable
func (o Op) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText accepts the wire opcode
func (o *Op) UnmarshalText(text []byte) error {
	switch string(text) {
	case OpcodeInsertFenceStart:
		*o = OpInsertFenceStart
	case OpcodeInsertFenceEnd:
		*o = OpInsertFenceEnd
	default:
		return fmt.Errorf("unknown edit opcode %q", string(text))
	}
	return nil
}

// EditCommand inserts a fence boundary before the token addressed by TokenID.
// TokenID is the fixed-width textual form of a token ID and is not checked
// against any stream here.
type EditCommand struct {
	Op      Op     `json:"command"`
	TokenID string `json:"token_id"`
	Lang    string `json:"lang,omitempty"` // only meaningful for OpInsertFenceStart
}

// InsertFenceStart builds a start command
func InsertFenceStart(tokenID, lang string) EditCommand {
	return EditCommand{Op: OpInsertFenceStart, TokenID: tokenID, Lang: lang}
}

// InsertFenceEnd builds an end command
func InsertFenceEnd(tokenID string) EditCommand {
	return EditCommand{Op: OpInsertFenceEnd, TokenID: tokenID}
}

// String renders the command back to its line form
func (c EditCommand) String() string {
	switch c.Op {
	case OpInsertFenceStart:
		return strings.TrimSpace(OpcodeInsertFenceStart + " " + c.TokenID + " " + c.Lang)
	case OpInsertFenceEnd:
		return OpcodeInsertFenceEnd + " " + c.TokenID
	default:
		return ""
	}
}

// ParseResult holds everything Parse saw: the commands it accepted and the
// raw lines it dropped. Blank lines appear in neither list.
type ParseResult struct {
	Commands []EditCommand
	Rejected []string
}

// Parse reads backend output line by line. It never fails.
func Parse(raw string) ParseResult {
	var result ParseResult
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		cmd, ok := parseFields(fields)
		if !ok {
			result.Rejected = append(result.Rejected, line)
			continue
		}
		result.Commands = append(result.Commands, cmd)
	}
	return result
}

func parseFields(fields []string) (EditCommand, bool) {
	switch fields[0] {
	case OpcodeInsertFenceStart:
		if len(fields) < 3 {
			return EditCommand{}, false
		}
		return InsertFenceStart(fields[1], strings.Join(fields[2:], " ")), true
	case OpcodeInsertFenceEnd:
		if len(fields) < 2 {
			return EditCommand{}, false
		}
		return InsertFenceEnd(fields[1]), true
	}
	return EditCommand{}, false
}

// Format renders commands one per line, as a backend would have sent them
func Format(cmds []EditCommand) string {
	lines := make([]string, 0, len(cmds))
	for _, c := range cmds {
		if s := c.String(); s != "" {
			lines = append(lines, s)
		}
	}
	return strings.Join(lines, "\n")
}
