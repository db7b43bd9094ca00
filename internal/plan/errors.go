package plan

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors - Composition
var (
	ErrDependencyCycle = errors.New("plan: dependency cycle")
	ErrDuplicateID     = errors.New("plan: duplicate future id")
	ErrDuplicateModule = errors.New("plan: duplicate module id")
	ErrUnknownFuture   = errors.New("plan: future does not belong to this plan")
	ErrInvalidModule   = errors.New("plan: invalid module")
)

// Sentinel errors - Parameters
var (
	ErrMissingParameter = errors.New("plan: missing parameter")
	ErrMissingAccount   = errors.New("plan: missing account")
)

// MissingParameterError reports a required parameter that has neither an
// override nor a default.
type MissingParameterError struct {
	Module string
	Name   string
}

// Error implements the error interface.
func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing parameter %q for module %s", e.Name, e.Module)
}

// Is makes errors.Is(err, ErrMissingParameter) hold.
func (e *MissingParameterError) Is(target error) bool {
	return target == ErrMissingParameter
}

// CycleError reports a cycle, either between modules or between futures.
// Path lists the ids on the cycle with the first id repeated at the end.
type CycleError struct {
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Is makes errors.Is(err, ErrDependencyCycle) hold.
func (e *CycleError) Is(target error) bool {
	return target == ErrDependencyCycle
}
