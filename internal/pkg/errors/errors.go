// Package errors provides standardized control-plane error types.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// CompileReason classifies pipeline compilation failures.
type CompileReason string

const (
	ReasonMissingDependency CompileReason = "missing_dependency"
	ReasonUnknownKind       CompileReason = "unknown_kind"
	ReasonCycleDetected     CompileReason = "cycle_detected"
	ReasonConflictingName   CompileReason = "conflicting_name"
)

// CompileError is returned when a pipeline cannot be turned into manifests.
// No partial manifest is ever emitted alongside it.
type CompileError struct {
	Reason CompileReason
	Node   string
	Detail string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("compile failed (%s) at node %q: %s", e.Reason, e.Node, e.Detail)
	}
	return fmt.Sprintf("compile failed (%s): %s", e.Reason, e.Detail)
}

// NewCompileError creates a compile error for a specific node.
func NewCompileError(reason CompileReason, node, format string, args ...any) *CompileError {
	return &CompileError{
		Reason: reason,
		Node:   node,
		Detail: fmt.Sprintf(format, args...),
	}
}

// IsCompileError reports whether err is (or wraps) a CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// TenantNotReadyError is returned when a deploy targets a workspace whose
// identity has not been provisioned yet. The deploy is not retried here.
type TenantNotReadyError struct {
	Slug string
}

// Error implements the error interface.
func (e *TenantNotReadyError) Error() string {
	return fmt.Sprintf("No NATS account configured for workspace %q", e.Slug)
}

// ResolverError is returned when the trust resolver cannot be reached or
// rejects an account update.
type ResolverError struct {
	Op       string // "update" or "lookup"
	Conflict bool
	Err      error
}

// Error implements the error interface.
func (e *ResolverError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("resolver rejected %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("resolver unreachable during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResolverError) Unwrap() error { return e.Err }

// BusError is returned when a publish or request on the control bus fails.
// Timeouts are retried by the deployer with bounded backoff; other bus
// failures surface to the caller.
type BusError struct {
	Subject string
	Timeout bool
	Err     error
}

// Error implements the error interface.
func (e *BusError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("bus request timed out on %s: %v", e.Subject, e.Err)
	}
	return fmt.Sprintf("bus publish failed on %s: %v", e.Subject, e.Err)
}

// Unwrap returns the underlying error.
func (e *BusError) Unwrap() error { return e.Err }

// NodeError records a per-node failure during artifact publishing.
type NodeError struct {
	Node string
	Op   string // "fetch" or "push"
	Err  error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("%s failed for node %q: %v", e.Op, e.Node, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error { return e.Err }

// NodeErrors aggregates per-node failures; the artifact publisher collects
// every failed node before reporting.
type NodeErrors []*NodeError

// Error implements the error interface.
func (e NodeErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ne := range e {
		msgs[i] = ne.Error()
	}
	return fmt.Sprintf("%d artifact(s) failed: %s", len(e), strings.Join(msgs, "; "))
}

// PersistError is returned when the identity manager cannot persist state.
// It is logged and not retried automatically.
type PersistError struct {
	Slug string
	What string // "workspace_account" or "credentials"
	Err  error
}

// Error implements the error interface.
func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist %s for workspace %q: %v", e.What, e.Slug, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistError) Unwrap() error { return e.Err }
