package reconciler

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sfn"

	"github.com/elephant-xyz/oracle-node-sub000/resources"
)

// Resolved is the best-known position of one execution, reconstructed from
// its event history.
type Resolved struct {
	Phase     string
	Step      string
	RawStatus string
	EventTime time.Time

	// County and Label are optional refinements carried by emission payloads
	// or state-local inputs. Empty means "no opinion"; the driver falls back
	// to the execution's start input.
	County string
	Label  string
}

// historyIndex is the event arena plus an id -> event map built once per
// log, so back-reference chains can be walked in O(1) per hop.
type historyIndex struct {
	events []*sfn.HistoryEvent
	byID   map[int64]*sfn.HistoryEvent
}

func indexHistory(events []*sfn.HistoryEvent) *historyIndex {
	idx := &historyIndex{
		events: events,
		byID:   make(map[int64]*sfn.HistoryEvent, len(events)),
	}
	for _, evt := range events {
		idx.byID[aws.Int64Value(evt.Id)] = evt
	}
	return idx
}

// emissionResourceMarker identifies the workflow-event emission side effect
// among scheduled task resources.
const emissionResourceMarker = "events:putEvents"

// callbackResourceSuffix marks side effects using the callback/wait pattern:
// the execution parks until the emitted event is acknowledged.
const callbackResourceSuffix = ".waitForTaskToken"

// emissionPayload is the status detail carried by a workflow-event emission.
type emissionPayload struct {
	Phase          string `json:"phase"`
	Step           string `json:"step"`
	Status         string `json:"status"`
	County         string `json:"county"`
	DataGroupLabel string `json:"dataGroupLabel"`
}

type emission struct {
	scheduledID int64
	stateName   string
	callback    bool
	timestamp   time.Time
	payload     emissionPayload
}

// ResolveHistory reconstructs the current (phase, step, status, eventTime)
// of an execution from its full event history plus its terminal/live status.
// Tiers are tried in priority order; the first tier that yields a result
// wins. Returns false when no tier resolves.
//
// The log may start mid-stream: nothing here assumes the execution's first
// events are present.
func ResolveHistory(events []*sfn.HistoryEvent, executionStatus string) (Resolved, bool) {
	idx := indexHistory(events)
	for _, tier := range []func(*historyIndex, string) (Resolved, bool){
		resolveByEmission,
		resolveByStateName,
		resolveByPattern,
	} {
		if resolved, ok := tier(idx, executionStatus); ok {
			return resolved, true
		}
	}
	return Resolved{}, false
}

// resolveByEmission is the correlated emission tier. It finds scheduled
// workflow-event emissions, confirms them through the succeeded -> started ->
// scheduled back-reference chain (or accepts them as pending when the
// execution is parked on a callback), and picks the most recent confirmed
// group as the current position.
func resolveByEmission(idx *historyIndex, executionStatus string) (Resolved, bool) {
	emissions := collectEmissions(idx)
	if len(emissions) == 0 {
		return Resolved{}, false
	}

	confirmed := confirmedScheduledIDs(idx)
	running := executionStatus == sfn.ExecutionStatusRunning

	// most recent emission per (phase, step); unconfirmed non-pending
	// emissions are discarded
	latestPerGroup := map[resources.PhaseStep]emission{}
	for _, em := range emissions {
		if !confirmed[em.scheduledID] && !(running && em.callback) {
			continue
		}
		group := resources.PhaseStep{Phase: em.payload.Phase, Step: em.payload.Step}
		if prev, ok := latestPerGroup[group]; !ok || em.scheduledID > prev.scheduledID {
			latestPerGroup[group] = em
		}
	}
	if len(latestPerGroup) == 0 {
		return Resolved{}, false
	}

	var current emission
	for _, em := range latestPerGroup {
		if em.scheduledID > current.scheduledID {
			current = em
		}
	}

	status := current.payload.Status
	if status == "" {
		status = resources.StatusInProgress
	}
	// a terminated execution is ground truth over whatever in-flight status
	// the payload recorded
	switch executionStatus {
	case sfn.ExecutionStatusSucceeded:
		status = resources.StatusSucceeded
	case sfn.ExecutionStatusFailed, sfn.ExecutionStatusTimedOut, sfn.ExecutionStatusAborted:
		status = resources.StatusFailed
	}

	return Resolved{
		Phase:     current.payload.Phase,
		Step:      current.payload.Step,
		RawStatus: status,
		EventTime: current.timestamp,
		County:    current.payload.County,
		Label:     current.payload.DataGroupLabel,
	}, true
}

// collectEmissions walks the log once, tracking the most recent state
// entered so each emission knows its owning step name.
func collectEmissions(idx *historyIndex) []emission {
	var emissions []emission
	currentState := ""
	for _, evt := range idx.events {
		if details := evt.StateEnteredEventDetails; details != nil {
			currentState = aws.StringValue(details.Name)
			continue
		}
		details := evt.TaskScheduledEventDetails
		if details == nil {
			continue
		}
		resource := aws.StringValue(details.Resource)
		if !strings.Contains(resource, emissionResourceMarker) {
			continue
		}
		payload, ok := parseEmissionParameters(aws.StringValue(details.Parameters))
		if !ok {
			continue
		}
		if payload.Phase == "" || payload.Step == "" {
			// older emissions carry no position; fall back to the owning
			// state's name
			ps, ok := resources.PhaseStepForStateName(currentState)
			if !ok {
				ps, ok = resources.PhaseStepForPattern(currentState)
			}
			if !ok {
				continue
			}
			payload.Phase, payload.Step = ps.Phase, ps.Step
		}
		emissions = append(emissions, emission{
			scheduledID: aws.Int64Value(evt.Id),
			stateName:   currentState,
			callback:    strings.HasSuffix(resource, callbackResourceSuffix),
			timestamp:   aws.TimeValue(evt.Timestamp),
			payload:     payload,
		})
	}
	return emissions
}

// confirmedScheduledIDs builds the causal index: a scheduled side effect is
// confirmed when a TaskSucceeded event's back-reference chain
// (succeeded -> started -> scheduled) leads to it.
func confirmedScheduledIDs(idx *historyIndex) map[int64]bool {
	confirmed := map[int64]bool{}
	for _, evt := range idx.events {
		if aws.StringValue(evt.Type) != sfn.HistoryEventTypeTaskSucceeded {
			continue
		}
		started, ok := idx.byID[aws.Int64Value(evt.PreviousEventId)]
		if !ok {
			continue
		}
		scheduled, ok := idx.byID[aws.Int64Value(started.PreviousEventId)]
		if !ok {
			continue
		}
		if scheduled.TaskScheduledEventDetails != nil {
			confirmed[aws.Int64Value(scheduled.Id)] = true
		}
	}
	return confirmed
}

// parseEmissionParameters extracts the status detail from the scheduled
// event-bus parameters. Detail may be embedded as an object or as an
// escaped JSON string.
func parseEmissionParameters(parameters string) (emissionPayload, bool) {
	var params struct {
		Entries []struct {
			Detail json.RawMessage `json:"Detail"`
		} `json:"Entries"`
	}
	if err := json.Unmarshal([]byte(parameters), &params); err != nil {
		return emissionPayload{}, false
	}
	for _, entry := range params.Entries {
		if len(entry.Detail) == 0 {
			continue
		}
		raw := entry.Detail
		var detailString string
		if err := json.Unmarshal(raw, &detailString); err == nil {
			raw = json.RawMessage(detailString)
		}
		var payload emissionPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		if payload.Status == "" {
			continue
		}
		return payload, true
	}
	return emissionPayload{}, false
}

// resolveByStateName is the fallback tier: the chronologically last state
// entered whose name appears in the static state-name table. Status derives
// purely from the execution status since no finer-grained payload exists
// here.
func resolveByStateName(idx *historyIndex, executionStatus string) (Resolved, bool) {
	var (
		found Resolved
		ok    bool
	)
	for _, evt := range idx.events {
		details := evt.StateEnteredEventDetails
		if details == nil {
			continue
		}
		ps, known := resources.PhaseStepForStateName(aws.StringValue(details.Name))
		if !known {
			continue
		}
		found = Resolved{
			Phase:     ps.Phase,
			Step:      ps.Step,
			RawStatus: statusForExecutionStatus(executionStatus),
			EventTime: aws.TimeValue(evt.Timestamp),
			County:    countyFromStateInput(aws.StringValue(details.Input)),
		}
		ok = true
	}
	return found, ok
}

// resolveByPattern is the last-resort tier: keyword-classify the single most
// recent state entered event of any kind.
func resolveByPattern(idx *historyIndex, executionStatus string) (Resolved, bool) {
	var last *sfn.HistoryEvent
	for _, evt := range idx.events {
		if evt.StateEnteredEventDetails != nil {
			last = evt
		}
	}
	if last == nil {
		return Resolved{}, false
	}
	details := last.StateEnteredEventDetails
	ps, ok := resources.PhaseStepForPattern(aws.StringValue(details.Name))
	if !ok {
		// an unclassifiable name still resolves; park it at the head of the
		// pipeline so the execution is visible rather than dropped
		ps = resources.PhaseStep{Phase: "Transform", Step: "Transform"}
	}
	return Resolved{
		Phase:     ps.Phase,
		Step:      ps.Step,
		RawStatus: statusForExecutionStatus(executionStatus),
		EventTime: aws.TimeValue(last.Timestamp),
		County:    countyFromStateInput(aws.StringValue(details.Input)),
	}, true
}

func statusForExecutionStatus(executionStatus string) string {
	switch executionStatus {
	case sfn.ExecutionStatusSucceeded:
		return resources.StatusSucceeded
	case sfn.ExecutionStatusFailed, sfn.ExecutionStatusTimedOut, sfn.ExecutionStatusAborted:
		return resources.StatusFailed
	default:
		return resources.StatusInProgress
	}
}

func countyFromStateInput(input string) string {
	if input == "" {
		return ""
	}
	county, _ := ExtractCountyLabel(input)
	return county
}
