package plan

import "errors"

var (
	// ErrUnknownDependency indicates a step references a predecessor id
	// that does not exist in the plan. Raised at construction time.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDuplicateStep indicates a step id is already present in the plan.
	ErrDuplicateStep = errors.New("duplicate step id")

	// ErrCyclicDependency indicates the plan graph contains a cycle and
	// cannot be executed.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrDeadlockDetected indicates a topological sort could not emit all
	// steps. Informationally equivalent to ErrCyclicDependency but kept
	// distinct for diagnostics.
	ErrDeadlockDetected = errors.New("deadlock detected")

	// ErrInvalidTransition indicates a step status transition that
	// violates the pending → ready → running → terminal lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrResultAlreadySet indicates a second write to a step's result slot.
	ErrResultAlreadySet = errors.New("step result already set")
)
