package store

import (
	"context"
	"fmt"

	"github.com/elephant-xyz/oracle-node-sub000/resources"
)

// Store defines the interface for persistence of execution state and step
// aggregates. The table is shared with the live event handler; neither
// writer may assume exclusive access, so every mutation is expressed as a
// conditioned operation set applied atomically.
type Store interface {
	// GetExecutionState returns the stored state for an execution. The read
	// is strongly consistent. Returns a NotFound error when no row exists.
	GetExecutionState(ctx context.Context, executionID string) (resources.ExecutionState, error)

	// ApplyOperations applies an operation set atomically: either every
	// operation takes effect or none do. A failed condition anywhere in the
	// set surfaces as a ConflictError.
	ApplyOperations(ctx context.Context, ops OperationSet) error

	// InitTables creates the backing tables. Intended for local development
	// and integration test setup.
	InitTables(ctx context.Context) error
}

// Operation is one conditioned write within an OperationSet.
type Operation interface {
	isOperation()
}

// OperationSet is an all-or-nothing batch of operations. Token is used as an
// idempotency token by implementations that support one.
type OperationSet struct {
	Token string
	Ops   []Operation
}

// Empty reports whether the set contains no operations.
func (s OperationSet) Empty() bool {
	return len(s.Ops) == 0
}

// InsertExecutionState creates the row for an execution.
// Condition: the row does not yet exist.
type InsertExecutionState struct {
	State resources.ExecutionState
}

func (InsertExecutionState) isOperation() {}

// UpdateExecutionState replaces the row for an execution.
// Condition: the stored version still equals ExpectedVersion and the stored
// lastEventTime, if present, is strictly older than State.LastEventTime.
// A concurrent writer advancing the row between our read and this write
// fails the condition; callers treat that as having safely lost the race.
type UpdateExecutionState struct {
	State           resources.ExecutionState
	ExpectedVersion int64
}

func (UpdateExecutionState) isOperation() {}

// AdjustStepAggregate adds the given deltas to the bucket counters of one
// aggregate row, creating the row on first touch. A bucket transfer within
// one row is a single operation carrying both a -1 and a +1 delta.
type AdjustStepAggregate struct {
	Key    resources.AggregateKey
	Deltas map[resources.Bucket]int64
}

func (AdjustStepAggregate) isOperation() {}

// ConflictError indicates an operation set lost a race with a concurrent
// writer: a condition failed, the transaction conflicted, or an idempotency
// token was replayed with different content.
type ConflictError struct {
	name string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("write conflict: %s", e.name)
}

// NewConflict returns a ConflictError for the named item.
func NewConflict(name string) ConflictError {
	return ConflictError{name}
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	_, ok := err.(ConflictError)
	return ok
}

// NotFoundError indicates a requested item does not exist.
type NotFoundError struct {
	name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.name)
}

// NewNotFound returns a NotFoundError for the named item.
func NewNotFound(name string) NotFoundError {
	return NotFoundError{name}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(NotFoundError)
	return ok
}
