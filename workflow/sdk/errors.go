package sdk

import (
	"fmt"

	"github.com/google/uuid"
)

// The error kinds of §7, each a concrete type so callers can tell them
// apart with errors.As, following the teacher's fmt.Errorf("...: %w", err)
// wrapping idiom throughout compiler.go and the coordinator.

// ValidationError is raised by the Validator and carries every problem
// found in the document, not just the first (§4.4).
type ValidationError struct {
	Issues []Issue
}

// Issue is one problem the Validator found.
type Issue struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", e.Issues[0].Path, e.Issues[0].Message)
	}
	return fmt.Sprintf("validation failed with %d issues", len(e.Issues))
}

// CompileError is raised by the Compiler (unknown kind, cycle, bad
// reference syntax, forbidden condition syntax).
type CompileError struct {
	Message string
	Cause   error
}

func (e *CompileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("compile error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("compile error: %s", e.Message)
}

func (e *CompileError) Unwrap() error { return e.Cause }

// ReferenceError is raised by the Resolver in strict mode on a missing
// reference.
type ReferenceError struct {
	Reference string
	Reason    string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("reference error: %s: %s", e.Reference, e.Reason)
}

// MappingError is raised by the Mapping Engine (bad $. path type, syntax
// error in a mapping value).
type MappingError struct {
	Key    string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping error: %s: %s", e.Key, e.Reason)
}

// ConditionError is raised when a router condition fails to evaluate at
// runtime; per §4.3 this is non-fatal and the case is treated as false.
type ConditionError struct {
	Expression string
	Cause      error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition error: %s: %v", e.Expression, e.Cause)
}

func (e *ConditionError) Unwrap() error { return e.Cause }

// ExecutorError wraps whatever error an Executor returned.
type ExecutorError struct {
	NodeID string
	Cause  error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor error: node %s: %v", e.NodeID, e.Cause)
}

func (e *ExecutorError) Unwrap() error { return e.Cause }

// TimeoutError is raised when a node's timeout_s elapses before its
// Executor returns.
type TimeoutError struct {
	NodeID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error: node %s", e.NodeID)
}

// RouterNoMatchError is raised when a router has no matching case and
// no default.
type RouterNoMatchError struct {
	NodeID string
}

func (e *RouterNoMatchError) Error() string {
	return fmt.Sprintf("router %s: no case matched and no default", e.NodeID)
}

// OutputSchemaError is raised when the end node's computed output fails
// output.schema validation.
type OutputSchemaError struct {
	Reason string
}

func (e *OutputSchemaError) Error() string {
	return fmt.Sprintf("output schema error: %s", e.Reason)
}

// InputSchemaError is raised when invocation input fails input.schema
// validation, before any node runs (§3.1 "validates invocation input").
type InputSchemaError struct {
	Reason string
}

func (e *InputSchemaError) Error() string {
	return fmt.Sprintf("input schema error: %s", e.Reason)
}

// RecordOf projects a typed error into the JSON-serializable
// {id, node_id, type, message, details} shape §3.4/§7 requires for
// state.errors. Each record gets its own uuid, the same way the teacher
// stamps an id on every run/event/job record (common/models,
// common/sdk/types.go).
func RecordOf(nodeID string, err error) ErrorRecord {
	rec := ErrorRecord{ID: uuid.New().String(), NodeID: nodeID, Message: err.Error()}
	switch e := err.(type) {
	case *ReferenceError:
		rec.Type = "ReferenceError"
		rec.Details = map[string]string{"reference": e.Reference, "reason": e.Reason}
	case *MappingError:
		rec.Type = "MappingError"
		rec.Details = map[string]string{"key": e.Key, "reason": e.Reason}
	case *ExecutorError:
		rec.Type = "ExecutorError"
	case *TimeoutError:
		rec.Type = "TimeoutError"
	case *RouterNoMatchError:
		rec.Type = "RouterNoMatchError"
	case *OutputSchemaError:
		rec.Type = "OutputSchemaError"
	case *InputSchemaError:
		rec.Type = "InputSchemaError"
	case *ConditionError:
		rec.Type = "ConditionError"
	default:
		rec.Type = "ExecutorError"
	}
	return rec
}
