// Package pipeline drives a normalisation run: it asks the backend for fence
// commands, applies them to the token stream and walks the G0/G1 gates,
// falling back or self-repairing at most once each.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"rin/backend"
	"rin/command"
	"rin/config"
	"rin/formatter"
	"rin/internal"
	"rin/logger"
	"rin/metrics"
	"rin/report"
	"rin/validators"
)

// Pipeline holds the collaborators of a run. It carries no per-run state, so
// one Pipeline may serve concurrent runs.
type Pipeline struct {
	cfg       *config.Config
	backend   backend.Backend
	checker   validators.Checker
	obsLogger *logger.ObservabilityLogger
	metrics   *metrics.Recorder
	checked   map[string]struct{}
}

// Option customises a Pipeline
type Option func(*Pipeline)

// WithLogger sets the observability logger
func WithLogger(obsLogger *logger.ObservabilityLogger) Option {
	return func(p *Pipeline) {
		if obsLogger != nil {
			p.obsLogger = obsLogger
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(p *Pipeline) {
		if recorder != nil {
			p.metrics = recorder
		}
	}
}

// New builds a pipeline. Logging defaults to discard and metrics to a
// private registry.
func New(cfg *config.Config, be backend.Backend, checker validators.Checker, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		backend:   be,
		checker:   checker,
		obsLogger: logger.Discard(),
		metrics:   metrics.NewRecorder(),
		checked:   cfg.CheckedLanguages(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is the outcome of one run
type Result struct {
	Text    string
	Report  *report.ValidationReport
	State   State
	Outcome Outcome
}

// Normalize runs the pipeline and returns the best text reached with its report
func (p *Pipeline) Normalize(ctx context.Context, text string) (string, *report.ValidationReport) {
	res := p.Run(ctx, text)
	return res.Text, res.Report
}

// Run executes one normalisation run. It always returns a text and a report,
// whatever state the run ends in.
func (p *Pipeline) Run(ctx context.Context, text string) Result {
	started := time.Now()
	r := &run{
		p:      p,
		input:  text,
		text:   text,
		report: report.New(),
		editor: formatter.NewEditor(),
	}
	r.ctx = internal.WithRunID(ctx, r.report.RunID)

	p.obsLogger.Info(logger.ComponentPipeline, logger.CategoryRequest, r.report.RunID, "Normalisation run started", map[string]interface{}{
		"input_chars": len(text),
	})

	state := StateStart
	for !state.Terminal() {
		next, err := r.step(state)
		if err != nil {
			r.report.AddError("Critical error: " + err.Error())
			p.obsLogger.Error(logger.ComponentPipeline, logger.CategoryError, r.report.RunID, "Run failed", map[string]interface{}{
				"state": string(state),
				"error": err.Error(),
			})
			next = StateCriticalError
		}
		p.obsLogger.Transition(r.report.RunID, string(state), string(next))
		state = next
	}

	elapsed := time.Since(started)
	r.report.FinalState = string(state)
	r.report.FinalStatusMessage = state.StatusMessage()
	r.report.Finish(r.input, r.text, elapsed)
	p.metrics.RunFinished(string(state), elapsed)
	r.saveReport()

	outcome, _ := OutcomeOf(state)
	p.obsLogger.Info(logger.ComponentPipeline, logger.CategorySuccess, r.report.RunID, "Normalisation run finished", map[string]interface{}{
		"state":      string(state),
		"outcome":    outcome.String(),
		"elapsed_ms": r.report.ElapsedMS,
	})

	return Result{Text: r.text, Report: r.report, State: state, Outcome: outcome}
}

// run is the mutable state of a single normalisation run
type run struct {
	p      *Pipeline
	ctx    context.Context
	input  string
	text   string // best text so far
	report *report.ValidationReport

	header string // front matter kept out of the token stream
	blocks []formatter.FencedBlock
	tokens []formatter.Token
	refs   []backend.TokenRef
	editor *formatter.Editor

	lastCommands    []command.EditCommand
	passingCommands []command.EditCommand // last set that passed G0
	lintFailures    []string
}

// step executes state and returns the next one. A panic inside a stage is
// reported as an error.
func (r *run) step(state State) (next State, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.p.obsLogger.Error(logger.ComponentPipeline, logger.CategoryError, r.report.RunID, "Recovered panic", map[string]interface{}{
				"state": string(state),
				"stack": string(debug.Stack()),
			})
			next, err = StateCriticalError, fmt.Errorf("panic in %s: %v", state, rec)
		}
	}()

	if err := r.ctx.Err(); err != nil {
		return StateCriticalError, err
	}

	switch state {
	case StateStart:
		r.prepare()
		return StateShot0, nil

	case StateShot0:
		r.report.Shot0ModelUsed = r.p.backend.Model(backend.ModeInitial)
		if err := r.attempt(backend.ModeInitial, "shot0", "", ""); err != nil {
			return StateCriticalError, err
		}
		return StateG0Check, nil

	case StateG0Check:
		ok := r.checkParity("initial")
		r.report.FenceParityOKInitial = report.Bool(ok)
		if !ok {
			return StateFallback, nil
		}
		r.passingCommands = r.lastCommands
		return StateG1Check, nil

	case StateFallback:
		r.report.FallbackUsed = true
		r.report.BigModelUsed = r.p.backend.Model(backend.ModeFallback)
		if err := r.attempt(backend.ModeFallback, "fallback", "", ""); err != nil {
			return StateCriticalError, err
		}
		return StateG0FallbackCheck, nil

	case StateG0FallbackCheck:
		ok := r.checkParity("after_fallback")
		r.report.FenceParityOKAfterFallback = report.Bool(ok)
		if !ok {
			r.report.AddError("Fence parity invalid after Big-Model fallback.")
			return StateAbortG0, nil
		}
		r.passingCommands = r.lastCommands
		return StateG1Check, nil

	case StateG1Check:
		ok, failures := r.checkCodeBlocks("initial")
		if ok {
			return StateDone, nil
		}
		r.lintFailures = failures
		return StateSelfFix, nil

	case StateSelfFix:
		r.report.SelfFixAttempted = true
		r.report.Shot1ModelUsed = r.p.backend.Model(backend.ModeSelfRepair)
		prior := command.Format(r.passingCommands)
		if err := r.attempt(backend.ModeSelfRepair, "self_fix", prior, errorContext(r.lintFailures)); err != nil {
			return StateCriticalError, err
		}
		return StateG0PostfixCheck, nil

	case StateG0PostfixCheck:
		ok := r.checkParity("after_fix")
		r.report.FenceParityOKAfterFix = report.Bool(ok)
		if !ok {
			r.report.AddError("Fence parity invalid after Shot-1.")
			return StateAbortG0Postfix, nil
		}
		return StateG1Recheck, nil

	case StateG1Recheck:
		ok, failures := r.checkCodeBlocks("after_fix")
		if ok {
			return StateDone, nil
		}
		for _, failure := range failures {
			r.report.AddError(failure)
		}
		return StateAbortG1, nil
	}

	return StateCriticalError, fmt.Errorf("unknown pipeline state %q", state)
}

// prepare builds the read-only block table and original token stream
func (r *run) prepare() {
	body := r.input
	if r.p.cfg.PreserveFrontMatter {
		var fm formatter.FrontMatter
		fm, body = formatter.SplitFrontMatter(r.input)
		r.header = fm.Raw
		r.report.FrontMatterKeys = fm.Keys
	}

	substituted, blocks := formatter.Segregate(body)
	r.blocks = blocks
	r.tokens = formatter.Tokenize(substituted)
	r.report.FencedBlocksInInput = len(blocks)

	r.refs = make([]backend.TokenRef, len(r.tokens))
	for i, tok := range r.tokens {
		r.refs[i] = backend.TokenRef{ID: tok.Key(), Text: tok.Text}
	}

	r.p.obsLogger.Debug(logger.ComponentFormatter, logger.CategoryRequest, r.report.RunID, "Input tokenized", map[string]interface{}{
		"tokens":        len(r.tokens),
		"fenced_blocks": len(blocks),
	})
}

// attempt requests commands for mode, applies them to the original stream
// and makes the result the current text
func (r *run) attempt(mode backend.Mode, stage, prior, errorContext string) error {
	cmds := r.request(mode, stage, prior, errorContext)
	r.lastCommands = cmds

	edited := r.editor.Apply(r.tokens, cmds)
	text, err := formatter.Reconstruct(edited, r.blocks)
	if err != nil {
		return fmt.Errorf("reconstruct after %s: %w", stage, err)
	}
	r.text = r.header + text
	return nil
}

// request performs one bounded backend call. Transport failures and timeouts
// yield zero commands.
func (r *run) request(mode backend.Mode, stage, prior, errorContext string) []command.EditCommand {
	timeout := r.p.cfg.RequestTimeout()
	if mode == backend.ModeSelfRepair {
		timeout = r.p.cfg.SelfFixRequestTimeout()
	}
	ctx := r.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := r.p.backend.Request(ctx, backend.Request{
		Mode:          mode,
		Tokens:        r.refs,
		PriorCommands: prior,
		ErrorContext:  errorContext,
	})
	model := r.p.backend.Model(mode)
	if err != nil {
		r.report.RecordBackendFailure(stage, err)
		r.p.metrics.BackendRequest(mode.String(), err, 0, 0)
		r.p.obsLogger.BackendRequest(r.report.RunID, mode.String(), model, 0, 0, err)
		return nil
	}

	parsed := command.Parse(raw)
	r.report.RecordCommands(stage, parsed.Commands, parsed.Rejected)
	r.p.metrics.BackendRequest(mode.String(), nil, len(parsed.Commands), len(parsed.Rejected))
	r.p.obsLogger.BackendRequest(r.report.RunID, mode.String(), model, len(parsed.Commands), len(parsed.Rejected), nil)
	return parsed.Commands
}

func (r *run) saveReport() {
	if !r.p.cfg.SaveReports {
		return
	}
	path, err := report.Save(r.report, r.p.cfg.LogDir)
	if err != nil {
		r.p.obsLogger.Warn(logger.ComponentReport, logger.CategoryWarning, r.report.RunID, "Failed to save report", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	r.p.obsLogger.Debug(logger.ComponentReport, logger.CategorySuccess, r.report.RunID, "Report saved", map[string]interface{}{
		"path": path,
	})
}
