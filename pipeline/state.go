package pipeline

import "fmt"

// State is a step of the gate pipeline
type State string

const (
	StateStart           State = "START"
	StateShot0           State = "SHOT0"
	StateG0Check         State = "G0_CHECK"
	StateFallback        State = "FALLBACK"
	StateG0FallbackCheck State = "G0_FALLBACK_CHECK"
	StateG1Check         State = "G1_CHECK"
	StateSelfFix         State = "SELF_FIX"
	StateG0PostfixCheck  State = "G0_POSTFIX_CHECK"
	StateG1Recheck       State = "G1_RECHECK"

	// Terminal states
	StateDone           State = "DONE"
	StateAbortG0        State = "ABORT_G0"
	StateAbortG0Postfix State = "ABORT_G0_POSTFIX"
	StateAbortG1        State = "ABORT_G1"
	StateCriticalError  State = "CRITICAL_ERROR"
)

// Terminal reports whether the pipeline stops at s
func (s State) Terminal() bool {
	_, ok := terminalOutcomes[s]
	return ok
}

// StatusMessage is the human readable summary stored in the report
func (s State) StatusMessage() string {
	switch s {
	case StateDone:
		return "Success. All gates passed."
	case StateAbortG0:
		return "G0 failed – unmatched fences."
	case StateAbortG0Postfix:
		return "G0 failed post-fix."
	case StateAbortG1:
		return "G1 failed after Shot-1."
	case StateCriticalError:
		return "Critical error during processing."
	}
	return ""
}

// Outcome is the closed set of ways a run can end
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeParityFailure
	OutcomeParityFailurePostFix
	OutcomeLintFailure
	OutcomeCritical
)

var terminalOutcomes = map[State]Outcome{
	StateDone:           OutcomeSuccess,
	StateAbortG0:        OutcomeParityFailure,
	StateAbortG0Postfix: OutcomeParityFailurePostFix,
	StateAbortG1:        OutcomeLintFailure,
	StateCriticalError:  OutcomeCritical,
}

// OutcomeOf maps a terminal state to its outcome
func OutcomeOf(s State) (Outcome, bool) {
	o, ok := terminalOutcomes[s]
	return o, ok
}

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeParityFailure:
		return "parity_failure"
	case OutcomeParityFailurePostFix:
		return "parity_failure_post_fix"
	case OutcomeLintFailure:
		return "lint_failure"
	case OutcomeCritical:
		return "critical"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}
