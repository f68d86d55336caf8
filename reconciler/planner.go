package reconciler

import (
	"time"

	"github.com/go-openapi/strfmt"
	uuid "github.com/satori/go.uuid"

	"github.com/elephant-xyz/oracle-node-sub000/resources"
	"github.com/elephant-xyz/oracle-node-sub000/store"
)

// now is swapped out in tests.
var now = func() time.Time {
	return time.Now().UTC()
}

// Plan builds the conditioned operation set that moves storage from the
// previously read state to the candidate resolution. previous is nil when no
// row exists yet.
//
// The core safety property lives here: when the stored row already reflects
// an event at or past the candidate's eventTime, Plan returns an empty set
// and storage is never touched. This engine must not regress anything the
// live handler (or an earlier run) wrote forward.
func Plan(candidate resources.ExecutionState, previous *resources.ExecutionState) store.OperationSet {
	if previous != nil && !time.Time(previous.LastEventTime).Before(time.Time(candidate.LastEventTime)) {
		return store.OperationSet{}
	}

	ts := strfmt.DateTime(now())
	candidate.UpdatedAt = ts

	ops := store.OperationSet{
		Token: uuid.NewV4().String(),
	}

	if previous == nil {
		candidate.Version = 1
		candidate.CreatedAt = ts
		ops.Ops = append(ops.Ops, store.InsertExecutionState{State: candidate})
	} else {
		candidate.Version = previous.Version + 1
		candidate.CreatedAt = previous.CreatedAt
		ops.Ops = append(ops.Ops, store.UpdateExecutionState{
			State:           candidate,
			ExpectedVersion: previous.Version,
		})
	}

	ops.Ops = append(ops.Ops, aggregateAdjustments(candidate, previous)...)
	return ops
}

// aggregateAdjustments moves the counters tracking where each execution
// currently sits. A bucket change within one aggregate row must be a single
// update carrying both deltas: two conditioned operations on the same item
// cannot coexist inside one all-or-nothing batch.
func aggregateAdjustments(candidate resources.ExecutionState, previous *resources.ExecutionState) []store.Operation {
	newKey := resources.AggregateKeyForState(candidate)

	if previous == nil {
		return []store.Operation{store.AdjustStepAggregate{
			Key:    newKey,
			Deltas: map[resources.Bucket]int64{candidate.Bucket: 1},
		}}
	}

	oldKey := resources.AggregateKeyForState(*previous)
	if oldKey == newKey {
		if previous.Bucket == candidate.Bucket {
			return nil
		}
		return []store.Operation{store.AdjustStepAggregate{
			Key: newKey,
			Deltas: map[resources.Bucket]int64{
				previous.Bucket:  -1,
				candidate.Bucket: 1,
			},
		}}
	}

	return []store.Operation{
		store.AdjustStepAggregate{
			Key:    oldKey,
			Deltas: map[resources.Bucket]int64{previous.Bucket: -1},
		},
		store.AdjustStepAggregate{
			Key:    newKey,
			Deltas: map[resources.Bucket]int64{candidate.Bucket: 1},
		},
	}
}
