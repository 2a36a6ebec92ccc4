package validators

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Checker validates a single code block. Implementations must honour ctx and
// report a timeout as a failed check, never as a panic or hang.
type Checker interface {
	CheckSyntax(ctx context.Context, code string) bool
	CheckStyle(ctx context.Context, code string, timeout time.Duration) (bool, string)
}

// pylint warnings that only make noise on short snippets
var defaultDisabledChecks = []string{
	"missing-docstring",
	"invalid-name",
	"trailing-newlines",
	"import-error",
	"wrong-import-position",
	"fixme",
}

const syntaxProgram = "import ast, sys\nast.parse(sys.stdin.read(), mode='exec')\n"

// PythonChecker runs the interpreter's own parser for syntax and pylint for
// style, both fed through stdin so no temp files are written.
type PythonChecker struct {
	Interpreter    string
	DisabledChecks []string
}

// NewPythonChecker returns a checker using python3 from PATH
func NewPythonChecker() *PythonChecker {
	return &PythonChecker{
		Interpreter:    "python3",
		DisabledChecks: defaultDisabledChecks,
	}
}

// CheckSyntax reports whether code parses as a Python module
func (p *PythonChecker) CheckSyntax(ctx context.Context, code string) bool {
	cmd := exec.CommandContext(ctx, p.interpreter(), "-c", syntaxProgram)
	cmd.Stdin = strings.NewReader(code)
	return cmd.Run() == nil
}

// CheckStyle runs pylint with a one-line message template
func (p *PythonChecker) CheckStyle(ctx context.Context, code string, timeout time.Duration) (bool, string) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{
		"-m", "pylint",
		"--msg-template={line}:{column}: {msg_id}({symbol}) {msg}",
	}
	if len(p.DisabledChecks) > 0 {
		args = append(args, "--disable="+strings.Join(p.DisabledChecks, ","))
	}
	args = append(args, "-")

	cmd := exec.CommandContext(ctx, p.interpreter(), args...)
	cmd.Stdin = strings.NewReader(code)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	switch {
	case err == nil:
		return true, "Pylint passed."
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return false, fmt.Sprintf("Pylint check timed out after %s.", timeout)
	case errors.Is(err, exec.ErrNotFound):
		return false, "Pylint or python3 not found. Ensure they are installed and in PATH."
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false, fmt.Sprintf("Unexpected error while running pylint: %v", err)
	}
	output := strings.TrimSpace(strings.TrimSpace(stdout.String()) + "\n" + strings.TrimSpace(stderr.String()))
	if output == "" {
		output = "Pylint failed with no specific output."
	}
	return false, output
}

func (p *PythonChecker) interpreter() string {
	if p.Interpreter == "" {
		return "python3"
	}
	return p.Interpreter
}
