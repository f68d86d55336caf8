package reconciler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sfn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

func stateEntered(id int64, name, input string, ts time.Time) *sfn.HistoryEvent {
	return &sfn.HistoryEvent{
		Id:        aws.Int64(id),
		Type:      aws.String(sfn.HistoryEventTypeTaskStateEntered),
		Timestamp: aws.Time(ts),
		StateEnteredEventDetails: &sfn.StateEnteredEventDetails{
			Name:  aws.String(name),
			Input: aws.String(input),
		},
	}
}

func emissionScheduled(id int64, resource string, detail map[string]interface{}, ts time.Time) *sfn.HistoryEvent {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		panic(err)
	}
	params, err := json.Marshal(map[string]interface{}{
		"Entries": []map[string]interface{}{
			{
				"Source":     "oracle.pipeline",
				"DetailType": "workflow.status",
				"Detail":     json.RawMessage(detailJSON),
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return &sfn.HistoryEvent{
		Id:        aws.Int64(id),
		Type:      aws.String(sfn.HistoryEventTypeTaskScheduled),
		Timestamp: aws.Time(ts),
		TaskScheduledEventDetails: &sfn.TaskScheduledEventDetails{
			Resource:   aws.String(resource),
			Parameters: aws.String(string(params)),
		},
	}
}

func taskStarted(id, prev int64, ts time.Time) *sfn.HistoryEvent {
	return &sfn.HistoryEvent{
		Id:              aws.Int64(id),
		PreviousEventId: aws.Int64(prev),
		Type:            aws.String(sfn.HistoryEventTypeTaskStarted),
		Timestamp:       aws.Time(ts),
	}
}

func taskSucceeded(id, prev int64, ts time.Time) *sfn.HistoryEvent {
	return &sfn.HistoryEvent{
		Id:              aws.Int64(id),
		PreviousEventId: aws.Int64(prev),
		Type:            aws.String(sfn.HistoryEventTypeTaskSucceeded),
		Timestamp:       aws.Time(ts),
	}
}

const putEventsResource = "arn:aws:states:::events:putEvents"
const putEventsCallbackResource = "arn:aws:states:::events:putEvents.waitForTaskToken"

func TestResolveStateNameTier(t *testing.T) {
	events := []*sfn.HistoryEvent{
		stateEntered(1, "Transform", "", at(0)),
	}
	resolved, ok := ResolveHistory(events, sfn.ExecutionStatusRunning)
	require.True(t, ok)
	assert.Equal(t, "Transform", resolved.Phase)
	assert.Equal(t, "Transform", resolved.Step)
	assert.Equal(t, "IN_PROGRESS", resolved.RawStatus)
	assert.Equal(t, at(0), resolved.EventTime)
}

func TestResolveEmissionTerminalOverride(t *testing.T) {
	// the last confirmed emission says IN_PROGRESS, but the execution has
	// since succeeded; ground truth wins over the stale payload
	events := []*sfn.HistoryEvent{
		stateEntered(1, "UploadHashedResults", "", at(0)),
		emissionScheduled(2, putEventsResource, map[string]interface{}{
			"phase":  "Upload",
			"step":   "Upload",
			"status": "IN_PROGRESS",
			"county": "Dade",
		}, at(1)),
		taskStarted(3, 2, at(1)),
		taskSucceeded(4, 3, at(2)),
	}
	resolved, ok := ResolveHistory(events, sfn.ExecutionStatusSucceeded)
	require.True(t, ok)
	assert.Equal(t, "Upload", resolved.Phase)
	assert.Equal(t, "Upload", resolved.Step)
	assert.Equal(t, "SUCCEEDED", resolved.RawStatus)
	assert.Equal(t, "Dade", resolved.County)
	assert.Equal(t, at(1), resolved.EventTime)
}

func TestResolvePendingCallbackEmission(t *testing.T) {
	// unconfirmed, but the execution is parked waiting on the callback, so
	// the emission is still authoritative
	events := []*sfn.HistoryEvent{
		stateEntered(1, "SubmitToBlockchain", "", at(0)),
		emissionScheduled(2, putEventsCallbackResource, map[string]interface{}{
			"phase":  "Submit",
			"step":   "Submit",
			"status": "PARKED",
		}, at(1)),
	}
	resolved, ok := ResolveHistory(events, sfn.ExecutionStatusRunning)
	require.True(t, ok)
	assert.Equal(t, "Submit", resolved.Phase)
	assert.Equal(t, "PARKED", resolved.RawStatus)
}

func TestResolveDiscardsUnconfirmedEmissions(t *testing.T) {
	// a scheduled emission with no success chain and no callback is noise;
	// resolution falls through to the state-name tier
	events := []*sfn.HistoryEvent{
		stateEntered(1, "UploadHashedResults", "", at(0)),
		emissionScheduled(2, putEventsResource, map[string]interface{}{
			"phase":  "Upload",
			"step":   "Upload",
			"status": "IN_PROGRESS",
		}, at(1)),
	}
	resolved, ok := ResolveHistory(events, sfn.ExecutionStatusRunning)
	require.True(t, ok)
	assert.Equal(t, "Upload", resolved.Phase)
	assert.Equal(t, "Upload", resolved.Step)
	// tier 2 result: timestamp comes from the state entered event
	assert.Equal(t, at(0), resolved.EventTime)
}

func TestResolveLatestGroupWins(t *testing.T) {
	events := []*sfn.HistoryEvent{
		stateEntered(1, "HashFiles", "", at(0)),
		emissionScheduled(2, putEventsResource, map[string]interface{}{
			"phase": "Hash", "step": "Hash", "status": "SUCCEEDED",
		}, at(1)),
		taskStarted(3, 2, at(1)),
		taskSucceeded(4, 3, at(1)),
		stateEntered(5, "UploadHashedResults", "", at(2)),
		emissionScheduled(6, putEventsResource, map[string]interface{}{
			"phase": "Upload", "step": "Upload", "status": "IN_PROGRESS",
		}, at(3)),
		taskStarted(7, 6, at(3)),
		taskSucceeded(8, 7, at(3)),
	}
	resolved, ok := ResolveHistory(events, sfn.ExecutionStatusRunning)
	require.True(t, ok)
	assert.Equal(t, "Upload", resolved.Phase)
	assert.Equal(t, "IN_PROGRESS", resolved.RawStatus)
	assert.Equal(t, at(3), resolved.EventTime)
}

func TestResolveEmissionWithoutPositionUsesOwningState(t *testing.T) {
	// older pipeline revisions emit a bare status; the owning state names
	// the position
	events := []*sfn.HistoryEvent{
		stateEntered(1, "HashFiles", "", at(0)),
		emissionScheduled(2, putEventsResource, map[string]interface{}{
			"status": "IN_PROGRESS",
		}, at(1)),
		taskStarted(3, 2, at(1)),
		taskSucceeded(4, 3, at(2)),
	}
	resolved, ok := ResolveHistory(events, sfn.ExecutionStatusRunning)
	require.True(t, ok)
	assert.Equal(t, "Hash", resolved.Phase)
	assert.Equal(t, "Hash", resolved.Step)
}

func TestResolvePatternTier(t *testing.T) {
	events := []*sfn.HistoryEvent{
		stateEntered(1, "LegacyCountyTransformWorker", "", at(0)),
	}
	resolved, ok := ResolveHistory(events, sfn.ExecutionStatusFailed)
	require.True(t, ok)
	assert.Equal(t, "Transform", resolved.Phase)
	assert.Equal(t, "FAILED", resolved.RawStatus)
}

func TestResolveMidStreamLog(t *testing.T) {
	// page-capped history: no state entered events at all, only the tail of
	// a confirmed emission chain
	events := []*sfn.HistoryEvent{
		emissionScheduled(40, putEventsResource, map[string]interface{}{
			"phase": "Submit", "step": "Prepare", "status": "IN_PROGRESS",
		}, at(0)),
		taskStarted(41, 40, at(0)),
		taskSucceeded(42, 41, at(1)),
	}
	resolved, ok := ResolveHistory(events, sfn.ExecutionStatusRunning)
	require.True(t, ok)
	assert.Equal(t, "Submit", resolved.Phase)
	assert.Equal(t, "Prepare", resolved.Step)
}

func TestResolveNotFound(t *testing.T) {
	_, ok := ResolveHistory(nil, sfn.ExecutionStatusRunning)
	assert.False(t, ok)

	// a log with no state-entered events and no emissions
	events := []*sfn.HistoryEvent{
		taskStarted(2, 1, at(0)),
	}
	_, ok = ResolveHistory(events, sfn.ExecutionStatusRunning)
	assert.False(t, ok)
}
