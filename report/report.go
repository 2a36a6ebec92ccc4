// Package report defines the per-run ValidationReport and its persistence.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rin/command"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const statusPending = "Processing not yet complete."

// StageCommands records what one backend request produced
type StageCommands struct {
	Stage    string                `json:"stage"`
	Accepted []command.EditCommand `json:"accepted"`
	Rejected []string              `json:"rejected,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// ValidationReport captures metrics and status for one normalisation run.
// A run owns its report exclusively; nothing here is safe for concurrent use.
type ValidationReport struct {
	// Meta / accounting
	RunID           string   `json:"run_id"`
	ElapsedMS       float64  `json:"elapsed_ms"`
	CostEstimateUSD *float64 `json:"cost_estimate_usd"`

	// Size metrics
	InputCharLength  int `json:"input_char_length"`
	OutputCharLength int `json:"output_char_length"`
	LinesAdded       int `json:"lines_added"`
	LinesRemoved     int `json:"lines_removed"`

	FrontMatterKeys []string `json:"front_matter_keys,omitempty"`

	// Fenced-block counters
	FencedBlocksInInput     int `json:"fenced_blocks_in_input"`
	FencedBlocksInOutput    int `json:"fenced_blocks_in_output"`
	IdentifiedCheckedBlocks int `json:"identified_checked_blocks"`
	PassedCheckedBlocks     int `json:"passed_checked_blocks"`

	// Fence-parity checkpoints; nil means the checkpoint was never reached
	FenceParityOKInitial       *bool `json:"fence_parity_ok_initial"`
	FenceParityOKAfterFallback *bool `json:"fence_parity_ok_after_fallback"`
	FenceParityOKAfterFix      *bool `json:"fence_parity_ok_after_fix"`

	// Model usage / control-flow flags
	Shot0ModelUsed   string `json:"shot0_model_used,omitempty"`
	BigModelUsed     string `json:"big_model_used,omitempty"`
	Shot1ModelUsed   string `json:"shot1_model_used,omitempty"`
	FallbackUsed     bool   `json:"fallback_used"`
	SelfFixAttempted bool   `json:"self_fix_attempted"`

	Commands []StageCommands `json:"commands,omitempty"`

	// Outcome / error reporting
	Errors             []string `json:"errors"`
	FinalState         string   `json:"final_state"`
	FinalStatusMessage string   `json:"final_status_message"`
}

// New returns an empty report with a fresh run ID
func New() *ValidationReport {
	return &ValidationReport{
		RunID:              NewRunID(time.Now()),
		Errors:             []string{},
		FinalStatusMessage: statusPending,
	}
}

// NewRunID builds a sortable ID: UTC timestamp plus 8 random hex characters
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102-150405.000000"), suffix)
}

// AddError appends a message to the ordered error list
func (r *ValidationReport) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// RecordCommands keeps the parse result of one backend request
func (r *ValidationReport) RecordCommands(stage string, accepted []command.EditCommand, rejected []string) {
	r.Commands = append(r.Commands, StageCommands{Stage: stage, Accepted: accepted, Rejected: rejected})
}

// RecordBackendFailure notes a request that produced no commands because the
// backend call itself failed
func (r *ValidationReport) RecordBackendFailure(stage string, err error) {
	r.Commands = append(r.Commands, StageCommands{Stage: stage, Error: err.Error()})
}

// Finish fills the size metrics once the final text is known
func (r *ValidationReport) Finish(input, output string, elapsed time.Duration) {
	r.InputCharLength = len([]rune(input))
	r.OutputCharLength = len([]rune(output))
	r.LinesAdded, r.LinesRemoved = LineDiff(input, output)
	r.ElapsedMS = float64(elapsed.Microseconds()) / 1000
}

// Bool returns a pointer for the tri-state parity fields
func Bool(v bool) *bool {
	return &v
}

// LineDiff counts lines added and removed going from before to after
func LineDiff(before, after string) (added, removed int) {
	if before == after {
		return 0, 0
	}
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		n := lineCount(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

func lineCount(value string) int {
	if value == "" {
		return 0
	}
	n := strings.Count(value, "\n")
	if !strings.HasSuffix(value, "\n") {
		n++
	}
	return n
}

// Save writes the report as indented JSON to <dir>/<run_id>.json and returns
// the path written.
func Save(r *ValidationReport, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report %s: %w", r.RunID, err)
	}

	path := filepath.Join(dir, r.RunID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return path, nil
}
