package resources

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/go-openapi/strfmt"
)

// LabelNotSet is the sentinel stored in place of a missing data-group label.
// Aggregate keys always carry a label so that the key tuple is total.
const LabelNotSet = "not-set"

// AggregateShardCount is the fixed cardinality of the hash-sharded "all"
// index on step aggregates.
const AggregateShardCount = 16

// Bucket is the coarse projection of a step's detailed status.
type Bucket string

const (
	BucketInProgress Bucket = "IN_PROGRESS"
	BucketFailed     Bucket = "FAILED"
	BucketSucceeded  Bucket = "SUCCEEDED"
)

// ExecutionState is the per-execution row in the workflow-state table. It is
// co-owned with the live event handler; every mutation goes through the
// conditioned-write protocol in the store package.
type ExecutionState struct {
	ExecutionID    string          `json:"executionId"`
	County         string          `json:"county"`
	DataGroupLabel string          `json:"dataGroupLabel"`
	Phase          string          `json:"phase"`
	Step           string          `json:"step"`
	Bucket         Bucket          `json:"bucket"`
	RawStatus      string          `json:"rawStatus"`
	LastEventTime  strfmt.DateTime `json:"lastEventTime"`
	CreatedAt      strfmt.DateTime `json:"createdAt"`
	UpdatedAt      strfmt.DateTime `json:"updatedAt"`
	Version        int64           `json:"version"`
}

// AggregateKey identifies one StepAggregate row.
type AggregateKey struct {
	County string `json:"county"`
	Label  string `json:"dataGroupLabel"`
	Phase  string `json:"phase"`
	Step   string `json:"step"`
}

// AggregateKeyForState returns the aggregate key an execution state counts
// toward.
func AggregateKeyForState(s ExecutionState) AggregateKey {
	return AggregateKey{
		County: s.County,
		Label:  s.DataGroupLabel,
		Phase:  s.Phase,
		Step:   s.Step,
	}
}

// StepAggregate is the rolled-up counter row for one (county, label, phase,
// step) tuple. Counters move only via atomic add/subtract.
type StepAggregate struct {
	AggregateKey
	InProgressCount int64           `json:"inProgressCount"`
	FailedCount     int64           `json:"failedCount"`
	SucceededCount  int64           `json:"succeededCount"`
	CreatedAt       strfmt.DateTime `json:"createdAt"`
	UpdatedAt       strfmt.DateTime `json:"updatedAt"`
}

// Count returns the counter for a bucket.
func (a StepAggregate) Count(b Bucket) int64 {
	switch b {
	case BucketInProgress:
		return a.InProgressCount
	case BucketFailed:
		return a.FailedCount
	case BucketSucceeded:
		return a.SucceededCount
	}
	return 0
}

// NormalizeLabel maps an absent or blank data-group label to the sentinel.
func NormalizeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return LabelNotSet
	}
	return label
}

// CountyLabelKey is the GSI key for the by-county access pattern.
func (k AggregateKey) CountyLabelKey() string {
	return fmt.Sprintf("%s#%s", k.County, k.Label)
}

// PhaseStepLabelKey is the GSI key for the by-phase/step access pattern.
func (k AggregateKey) PhaseStepLabelKey() string {
	return fmt.Sprintf("%s#%s#%s", k.Phase, k.Step, k.Label)
}

// ShardKey hashes (county, label) onto one of AggregateShardCount fixed
// partitions so that roll-up-across-everything queries don't concentrate on
// a single hot partition. Pure function of its inputs.
func ShardKey(county, label string) string {
	h := fnv.New32a()
	h.Write([]byte(county + "#" + label))
	return fmt.Sprintf("shard:%02d", h.Sum32()%AggregateShardCount)
}

// ExecutionIDFromARN extracts the execution ID from the execution ARN
// e.g. arn:aws:states:us-east-1:123456789012:execution:oracle-pipeline:cdc2f7f2-787f-4d0e-be4a-e32f427bc824
// -> cdc2f7f2-787f-4d0e-be4a-e32f427bc824
func ExecutionIDFromARN(arn string) string {
	parts := strings.Split(arn, ":")
	return parts[len(parts)-1]
}
