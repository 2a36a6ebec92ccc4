package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rin/logger"
	"rin/validators"
)

const (
	gateParity = "G0"
	gateLint   = "G1"
)

// maxErrorContext bounds the G1 summary sent with a self-repair request, in runes
const maxErrorContext = 2048

// checkParity runs G0 over the current text
func (r *run) checkParity(checkpoint string) bool {
	ok := validators.FenceParityOK(r.text)
	r.p.metrics.Gate(gateParity, checkpoint, ok)
	r.p.obsLogger.GateResult(r.report.RunID, gateParity, checkpoint, ok, nil)
	return ok
}

// checkCodeBlocks runs G1: every fenced block in a checked language must pass
// both the syntax and the style check. The counters describe the text the
// gate last looked at.
func (r *run) checkCodeBlocks(checkpoint string) (bool, []string) {
	blocks := validators.ExtractCodeBlocks(r.text)
	r.report.FencedBlocksInOutput = len(blocks)
	r.report.IdentifiedCheckedBlocks = 0
	r.report.PassedCheckedBlocks = 0

	var failures []string
	for i, block := range blocks {
		lang := strings.ToLower(block.Lang)
		if _, checked := r.p.checked[lang]; !checked || lang == "" {
			continue
		}
		r.report.IdentifiedCheckedBlocks++

		start := time.Now()
		syntaxOK := r.checkSyntax(block.Code)
		styleOK, msg := r.p.checker.CheckStyle(r.ctx, block.Code, r.p.cfg.CheckTimeout())
		passed := syntaxOK && styleOK
		r.p.metrics.CodeBlockChecked(lang, passed, time.Since(start))

		if passed {
			r.report.PassedCheckedBlocks++
			continue
		}
		failures = append(failures, fmt.Sprintf("Block %d: AST=%s; Lint=%s. %s", i+1, okFail(syntaxOK), okFail(styleOK), msg))
	}

	ok := len(failures) == 0
	r.p.metrics.Gate(gateLint, checkpoint, ok)
	r.p.obsLogger.GateResult(r.report.RunID, gateLint, checkpoint, ok, map[string]interface{}{
		"blocks":     len(blocks),
		"identified": r.report.IdentifiedCheckedBlocks,
		"passed":     r.report.PassedCheckedBlocks,
	})
	return ok, failures
}

func (r *run) checkSyntax(code string) bool {
	ctx := r.ctx
	if timeout := r.p.cfg.CheckTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ok := r.p.checker.CheckSyntax(ctx, code)
	if !ok && ctx.Err() != nil {
		r.p.obsLogger.Warn(logger.ComponentChecker, logger.CategoryValidation, r.report.RunID, "Syntax check timed out", nil)
	}
	return ok
}

func okFail(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}

// errorContext joins G1 failures and truncates the result to maxErrorContext runes
func errorContext(failures []string) string {
	joined := strings.Join(failures, "\n")
	runes := []rune(joined)
	if len(runes) <= maxErrorContext {
		return joined
	}
	return string(runes[:maxErrorContext])
}
