package resources

import (
	"fmt"
	"strings"

	_ "embed"

	"github.com/ghodss/yaml"
)

//go:embed statemap.yml
var stateMapYAML []byte

// PhaseStep is a two-level named position within the workflow's state
// machine.
type PhaseStep struct {
	Phase string `json:"phase"`
	Step  string `json:"step"`
}

type stateMap struct {
	States map[string]PhaseStep `json:"states"`
}

var knownStates map[string]PhaseStep

func init() {
	var sm stateMap
	if err := yaml.Unmarshal(stateMapYAML, &sm); err != nil {
		panic(fmt.Sprintf("parsing embedded state map: %s", err))
	}
	knownStates = sm.States
}

// PhaseStepForStateName looks up a state machine state name in the static
// state-name table.
func PhaseStepForStateName(name string) (PhaseStep, bool) {
	ps, ok := knownStates[name]
	return ps, ok
}

// phaseKeywords are checked in order; the first keyword contained in the
// state name classifies it.
var phaseKeywords = []struct {
	keyword string
	ps      PhaseStep
}{
	{"Transform", PhaseStep{Phase: "Transform", Step: "Transform"}},
	{"Hash", PhaseStep{Phase: "Hash", Step: "Hash"}},
	{"Upload", PhaseStep{Phase: "Upload", Step: "Upload"}},
	{"Submit", PhaseStep{Phase: "Submit", Step: "Submit"}},
	{"Prepare", PhaseStep{Phase: "Submit", Step: "Prepare"}},
}

// PhaseStepForPattern classifies an arbitrary state name by keyword match.
func PhaseStepForPattern(name string) (PhaseStep, bool) {
	for _, pk := range phaseKeywords {
		if strings.Contains(name, pk.keyword) {
			return pk.ps, true
		}
	}
	return PhaseStep{}, false
}

// Raw statuses carried by workflow-event emission payloads.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusParked     = "PARKED"
	StatusSucceeded  = "SUCCEEDED"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusError      = "ERROR"
	StatusTimedOut   = "TIMED_OUT"
	StatusAborted    = "ABORTED"
)

// BucketForStatus projects a raw status onto its bucket. PARKED counts as
// in progress: a parked execution is waiting on a callback and has not
// failed.
func BucketForStatus(rawStatus string) Bucket {
	switch strings.ToUpper(rawStatus) {
	case StatusInProgress, StatusParked, "RUNNING":
		return BucketInProgress
	case StatusSucceeded, StatusCompleted:
		return BucketSucceeded
	default:
		return BucketFailed
	}
}
