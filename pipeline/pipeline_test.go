package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"rin/backend"
	"rin/config"
	"rin/formatter"
	"rin/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sample         = "print('hi')\n"
	balancedFence  = "INSERT_FENCE_START 00000 python\nINSERT_FENCE_END 00006"
	unbalanced     = "INSERT_FENCE_START 00000 python"
	fencedSample   = "\n```python\nprint('hi')\n```\n\n"
	lintFailureMsg = "1:0: C0114(bad-style) nope"
)

// fakeChecker passes syntax and delegates style to a function
type fakeChecker struct {
	mu         sync.Mutex
	styleCalls int
	syntax     func(code string) bool
	style      func(call int, code string) (bool, string)
}

func (f *fakeChecker) CheckSyntax(ctx context.Context, code string) bool {
	if f.syntax != nil {
		return f.syntax(code)
	}
	return true
}

func (f *fakeChecker) CheckStyle(ctx context.Context, code string, timeout time.Duration) (bool, string) {
	f.mu.Lock()
	f.styleCalls++
	call := f.styleCalls
	f.mu.Unlock()
	if f.style != nil {
		return f.style(call, code)
	}
	return true, "Pylint passed."
}

func failingStyleUntil(passOnCall int) *fakeChecker {
	return &fakeChecker{style: func(call int, code string) (bool, string) {
		if passOnCall > 0 && call >= passOnCall {
			return true, "Pylint passed."
		}
		return false, lintFailureMsg
	}}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SaveReports = false
	cfg.APITimeout = 1
	cfg.SelfFixTimeout = 1
	cfg.LintTimeout = 1
	return cfg
}

func staticBackend(initial, fallback, selfRepair string) backend.Static {
	return backend.Static{
		Responses: map[backend.Mode]string{
			backend.ModeInitial:    initial,
			backend.ModeFallback:   fallback,
			backend.ModeSelfRepair: selfRepair,
		},
		Models: map[backend.Mode]string{
			backend.ModeInitial:    "small",
			backend.ModeFallback:   "big",
			backend.ModeSelfRepair: "repair",
		},
	}
}

func TestShot0Success(t *testing.T) {
	p := New(testConfig(), staticBackend(balancedFence, "", ""), &fakeChecker{})

	res := p.Run(context.Background(), sample)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, fencedSample, res.Text)

	rep := res.Report
	assert.Equal(t, "DONE", rep.FinalState)
	assert.Equal(t, "Success. All gates passed.", rep.FinalStatusMessage)
	assert.Equal(t, "small", rep.Shot0ModelUsed)
	assert.Empty(t, rep.BigModelUsed)
	assert.False(t, rep.FallbackUsed)
	assert.False(t, rep.SelfFixAttempted)
	require.NotNil(t, rep.FenceParityOKInitial)
	assert.True(t, *rep.FenceParityOKInitial)
	assert.Nil(t, rep.FenceParityOKAfterFallback)
	assert.Equal(t, 1, rep.FencedBlocksInOutput)
	assert.Equal(t, 1, rep.IdentifiedCheckedBlocks)
	assert.Equal(t, 1, rep.PassedCheckedBlocks)
	assert.Equal(t, len([]rune(sample)), rep.InputCharLength)
	assert.Equal(t, len([]rune(fencedSample)), rep.OutputCharLength)
	assert.Empty(t, rep.Errors)
}

func TestFallbackAbortsWhenParityStillBroken(t *testing.T) {
	p := New(testConfig(), staticBackend(unbalanced, unbalanced, balancedFence), &fakeChecker{})

	text, rep := p.Normalize(context.Background(), sample)

	assert.Equal(t, "ABORT_G0", rep.FinalState)
	assert.Equal(t, "G0 failed – unmatched fences.", rep.FinalStatusMessage)
	assert.True(t, rep.FallbackUsed)
	assert.False(t, rep.SelfFixAttempted)
	assert.Equal(t, "big", rep.BigModelUsed)
	assert.False(t, *rep.FenceParityOKInitial)
	assert.False(t, *rep.FenceParityOKAfterFallback)
	assert.Nil(t, rep.FenceParityOKAfterFix)
	assert.Equal(t, []string{"Fence parity invalid after Big-Model fallback."}, rep.Errors)
	assert.Equal(t, "\n```python\nprint('hi')\n", text)
}

func TestFallbackRecoversParity(t *testing.T) {
	p := New(testConfig(), staticBackend(unbalanced, balancedFence, ""), &fakeChecker{})

	res := p.Run(context.Background(), sample)

	assert.Equal(t, StateDone, res.State)
	assert.True(t, res.Report.FallbackUsed)
	assert.True(t, *res.Report.FenceParityOKAfterFallback)
	assert.Equal(t, fencedSample, res.Text)
}

func TestSelfFixSucceeds(t *testing.T) {
	checker := failingStyleUntil(2)
	p := New(testConfig(), staticBackend(balancedFence, "", balancedFence), checker)

	res := p.Run(context.Background(), sample)

	assert.Equal(t, StateDone, res.State)
	assert.True(t, res.Report.SelfFixAttempted)
	assert.False(t, res.Report.FallbackUsed)
	assert.Equal(t, "repair", res.Report.Shot1ModelUsed)
	assert.True(t, *res.Report.FenceParityOKAfterFix)
	assert.Equal(t, 1, res.Report.PassedCheckedBlocks)
	assert.Empty(t, res.Report.Errors)
	assert.Equal(t, 2, checker.styleCalls)
}

func TestSelfFixBreaksParity(t *testing.T) {
	checker := failingStyleUntil(0)
	p := New(testConfig(), staticBackend(balancedFence, "", unbalanced), checker)

	res := p.Run(context.Background(), sample)

	assert.Equal(t, StateAbortG0Postfix, res.State)
	assert.Equal(t, OutcomeParityFailurePostFix, res.Outcome)
	assert.Equal(t, "G0 failed post-fix.", res.Report.FinalStatusMessage)
	assert.Equal(t, []string{"Fence parity invalid after Shot-1."}, res.Report.Errors)
	assert.False(t, *res.Report.FenceParityOKAfterFix)
	// No G1 recheck after a failed post-fix parity
	assert.Equal(t, 1, checker.styleCalls)
}

func TestSelfFixStillFailsLint(t *testing.T) {
	p := New(testConfig(), staticBackend(balancedFence, "", balancedFence), failingStyleUntil(0))

	res := p.Run(context.Background(), sample)

	assert.Equal(t, StateAbortG1, res.State)
	assert.Equal(t, OutcomeLintFailure, res.Outcome)
	assert.Equal(t, "G1 failed after Shot-1.", res.Report.FinalStatusMessage)
	assert.Equal(t, []string{"Block 1: AST=OK; Lint=FAIL. " + lintFailureMsg}, res.Report.Errors)
	assert.Equal(t, 1, res.Report.IdentifiedCheckedBlocks)
	assert.Equal(t, 0, res.Report.PassedCheckedBlocks)
}

func TestSelfRepairRequestCarriesPassingCommandsAndErrors(t *testing.T) {
	var got backend.Request
	be := backend.Func(func(ctx context.Context, req backend.Request) (string, error) {
		switch req.Mode {
		case backend.ModeInitial:
			return unbalanced, nil
		case backend.ModeFallback:
			return balancedFence + "\nnot a command", nil
		default:
			got = req
			return balancedFence, nil
		}
	})
	checker := &fakeChecker{
		syntax: func(code string) bool { return false },
		style: func(call int, code string) (bool, string) {
			return call > 1, strings.Repeat("é", 3000)
		},
	}
	p := New(testConfig(), be, checker)

	res := p.Run(context.Background(), sample)

	assert.Equal(t, StateAbortG1, res.State)
	assert.Equal(t, backend.ModeSelfRepair, got.Mode)
	assert.Equal(t, balancedFence, got.PriorCommands)
	assert.True(t, strings.HasPrefix(got.ErrorContext, "Block 1: AST=FAIL; Lint=FAIL. é"))
	assert.Len(t, []rune(got.ErrorContext), 2048)
	require.Len(t, got.Tokens, 7)
	assert.Equal(t, backend.TokenRef{ID: "00000", Text: "print"}, got.Tokens[0])

	require.Len(t, res.Report.Commands, 3)
	assert.Equal(t, "fallback", res.Report.Commands[1].Stage)
	assert.Equal(t, []string{"not a command"}, res.Report.Commands[1].Rejected)
}

func TestBackendFailureIsAbsorbed(t *testing.T) {
	be := backend.Func(func(ctx context.Context, req backend.Request) (string, error) {
		return "", errors.New("connection refused")
	})
	p := New(testConfig(), be, &fakeChecker{})

	res := p.Run(context.Background(), "no code here")

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "no code here", res.Text)
	require.Len(t, res.Report.Commands, 1)
	assert.Equal(t, "connection refused", res.Report.Commands[0].Error)
}

func TestBackendTimeoutIsAbsorbed(t *testing.T) {
	cfg := testConfig()
	cfg.APITimeout = 0.01
	be := backend.Func(func(ctx context.Context, req backend.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	p := New(cfg, be, &fakeChecker{})

	res := p.Run(context.Background(), "text ```")

	// Zero commands leave the odd fence alone, so both parity checks fail
	assert.Equal(t, StateAbortG0, res.State)
	assert.True(t, res.Report.FallbackUsed)
	require.Len(t, res.Report.Commands, 2)
	assert.Contains(t, res.Report.Commands[1].Error, "deadline exceeded")
}

func TestCheckerTimeoutFailsTheBlock(t *testing.T) {
	cfg := testConfig()
	cfg.LintTimeout = 0.01
	checker := &fakeChecker{style: func(call int, code string) (bool, string) {
		time.Sleep(20 * time.Millisecond)
		return false, "Pylint check timed out after 10ms."
	}}
	p := New(cfg, staticBackend(balancedFence, "", balancedFence), checker)

	res := p.Run(context.Background(), sample)

	assert.Equal(t, StateAbortG1, res.State)
	assert.Contains(t, res.Report.Errors[0], "Lint=FAIL. Pylint check timed out")
}

func TestUncheckedLanguagesAreSkipped(t *testing.T) {
	p := New(testConfig(), staticBackend("INSERT_FENCE_START 00000 text\nINSERT_FENCE_END 00006", "", ""), failingStyleUntil(0))

	res := p.Run(context.Background(), sample)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Report.FencedBlocksInOutput)
	assert.Zero(t, res.Report.IdentifiedCheckedBlocks)
}

func TestLanguageTagIsMatchedCaseInsensitively(t *testing.T) {
	p := New(testConfig(), staticBackend("INSERT_FENCE_START 00000 Python\nINSERT_FENCE_END 00006", "", ""), &fakeChecker{})

	res := p.Run(context.Background(), sample)

	assert.Equal(t, 1, res.Report.IdentifiedCheckedBlocks)
}

func TestExistingFencesArePreserved(t *testing.T) {
	input := "intro\n```go\nfunc main() {}\n```\ntail"
	p := New(testConfig(), staticBackend("", "", ""), &fakeChecker{})

	res := p.Run(context.Background(), input)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, input, res.Text)
	assert.Equal(t, 1, res.Report.FencedBlocksInInput)
	assert.Equal(t, 1, res.Report.FencedBlocksInOutput)
}

func TestCorruptedPlaceholderIsCritical(t *testing.T) {
	input := "literal " + formatter.Sentinel(3) + " marker"
	p := New(testConfig(), staticBackend("", "", ""), &fakeChecker{})

	res := p.Run(context.Background(), input)

	assert.Equal(t, StateCriticalError, res.State)
	assert.Equal(t, OutcomeCritical, res.Outcome)
	assert.Equal(t, "Critical error during processing.", res.Report.FinalStatusMessage)
	require.Len(t, res.Report.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Report.Errors[0], "Critical error: "))
	assert.Contains(t, res.Report.Errors[0], formatter.ErrBlockIndexOutOfRange.Error())
	assert.Equal(t, input, res.Text)
}

func TestPanicIsCritical(t *testing.T) {
	be := backend.Func(func(ctx context.Context, req backend.Request) (string, error) {
		panic("backend exploded")
	})
	p := New(testConfig(), be, &fakeChecker{})

	res := p.Run(context.Background(), sample)

	assert.Equal(t, StateCriticalError, res.State)
	assert.Contains(t, res.Report.Errors[0], "backend exploded")
	assert.Equal(t, sample, res.Text)
}

func TestCancelledContextIsCritical(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(testConfig(), staticBackend(balancedFence, "", ""), &fakeChecker{})

	res := p.Run(ctx, sample)

	assert.Equal(t, StateCriticalError, res.State)
	assert.Equal(t, []string{"Critical error: context canceled"}, res.Report.Errors)
}

func TestRunRecordsMetrics(t *testing.T) {
	recorder := metrics.NewRecorder()
	p := New(testConfig(), staticBackend(unbalanced, unbalanced, ""), &fakeChecker{}, WithMetrics(recorder))

	p.Run(context.Background(), sample)

	count, err := testutil.GatherAndCount(recorder.Registry(), "rin_runs_total", "rin_gate_checks_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestReportIsSavedWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.SaveReports = true
	cfg.LogDir = filepath.Join(t.TempDir(), "logs")
	p := New(cfg, staticBackend(balancedFence, "", ""), &fakeChecker{})

	res := p.Run(context.Background(), sample)

	_, err := os.Stat(filepath.Join(cfg.LogDir, res.Report.RunID+".json"))
	assert.NoError(t, err)
}

func TestOutcomeOfNonTerminalState(t *testing.T) {
	_, ok := OutcomeOf(StateSelfFix)
	assert.False(t, ok)
	assert.False(t, StateG1Check.Terminal())
	assert.True(t, StateAbortG1.Terminal())
	assert.Equal(t, "lint_failure", OutcomeLintFailure.String())
}

func TestErrorContextTruncatesRunes(t *testing.T) {
	assert.Equal(t, "a\nb", errorContext([]string{"a", "b"}))
	assert.Len(t, []rune(errorContext([]string{strings.Repeat("ß", 5000)})), maxErrorContext)
}

func TestFrontMatterIsKeptAwayFromBackend(t *testing.T) {
	var seen []backend.TokenRef
	be := backend.Func(func(ctx context.Context, req backend.Request) (string, error) {
		seen = req.Tokens
		return balancedFence, nil
	})
	header := "---\ntitle: Demo\n---\n"
	p := New(testConfig(), be, &fakeChecker{})

	res := p.Run(context.Background(), header+sample)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, header+fencedSample, res.Text)
	assert.Equal(t, []string{"title"}, res.Report.FrontMatterKeys)
	require.Len(t, seen, 7)
	assert.Equal(t, "print", seen[0].Text)
}
