package memory

import (
	"context"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/elephant-xyz/oracle-node-sub000/resources"
	"github.com/elephant-xyz/oracle-node-sub000/store"
)

// MemoryStore is an in-memory Store used in tests. It enforces the same
// conditional semantics as the DynamoDB implementation so that race and
// idempotence behavior can be exercised without a real table.
type MemoryStore struct {
	mu         sync.Mutex
	states     map[string]resources.ExecutionState
	aggregates map[resources.AggregateKey]resources.StepAggregate
	tokens     map[string]struct{}
}

func New() *MemoryStore {
	return &MemoryStore{
		states:     map[string]resources.ExecutionState{},
		aggregates: map[resources.AggregateKey]resources.StepAggregate{},
		tokens:     map[string]struct{}{},
	}
}

func (s *MemoryStore) InitTables(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) GetExecutionState(ctx context.Context, executionID string) (resources.ExecutionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[executionID]
	if !ok {
		return resources.ExecutionState{}, store.NewNotFound(executionID)
	}
	// value-only struct, assignment is a full copy
	return state, nil
}

// GetStepAggregate returns the aggregate row for a key, for test assertions.
func (s *MemoryStore) GetStepAggregate(ctx context.Context, key resources.AggregateKey) (resources.StepAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.aggregates[key]
	if !ok {
		return resources.StepAggregate{}, store.NewNotFound(key.CountyLabelKey())
	}
	return agg, nil
}

func (s *MemoryStore) ApplyOperations(ctx context.Context, ops store.OperationSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ops.Token != "" {
		if _, seen := s.tokens[ops.Token]; seen {
			return store.NewConflict("token " + ops.Token)
		}
	}

	// validate all conditions before mutating anything so the set stays
	// all-or-nothing
	for _, op := range ops.Ops {
		switch o := op.(type) {
		case store.InsertExecutionState:
			if _, exists := s.states[o.State.ExecutionID]; exists {
				return store.NewConflict(o.State.ExecutionID)
			}
		case store.UpdateExecutionState:
			prev, exists := s.states[o.State.ExecutionID]
			if !exists {
				return store.NewConflict(o.State.ExecutionID)
			}
			if prev.Version != o.ExpectedVersion {
				return store.NewConflict(o.State.ExecutionID)
			}
			if !time.Time(prev.LastEventTime).Before(time.Time(o.State.LastEventTime)) {
				return store.NewConflict(o.State.ExecutionID)
			}
		case store.AdjustStepAggregate:
			// counters are created on first touch, nothing to validate
		}
	}

	now := strfmt.DateTime(time.Now())
	for _, op := range ops.Ops {
		switch o := op.(type) {
		case store.InsertExecutionState:
			s.states[o.State.ExecutionID] = o.State
		case store.UpdateExecutionState:
			s.states[o.State.ExecutionID] = o.State
		case store.AdjustStepAggregate:
			agg, exists := s.aggregates[o.Key]
			if !exists {
				agg = resources.StepAggregate{AggregateKey: o.Key, CreatedAt: now}
			}
			agg.InProgressCount += o.Deltas[resources.BucketInProgress]
			agg.FailedCount += o.Deltas[resources.BucketFailed]
			agg.SucceededCount += o.Deltas[resources.BucketSucceeded]
			agg.UpdatedAt = now
			s.aggregates[o.Key] = agg
		}
	}

	if ops.Token != "" {
		s.tokens[ops.Token] = struct{}{}
	}
	return nil
}
