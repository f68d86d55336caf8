package resources

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardKeyDeterministic(t *testing.T) {
	key := ShardKey("Dade", "not-set")
	for i := 0; i < 100; i++ {
		assert.Equal(t, key, ShardKey("Dade", "not-set"))
	}
	assert.NotEqual(t, key, ShardKey("Dade", "seed-2024"), "label is part of the hash input")
}

func TestShardKeyRange(t *testing.T) {
	valid := map[string]bool{}
	for i := 0; i < AggregateShardCount; i++ {
		valid[fmt.Sprintf("shard:%02d", i)] = true
	}
	for i := 0; i < 200; i++ {
		key := ShardKey(fmt.Sprintf("county-%d", i), LabelNotSet)
		require.True(t, valid[key], "shard key %s out of range", key)
	}
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, LabelNotSet, NormalizeLabel(""))
	assert.Equal(t, LabelNotSet, NormalizeLabel("   "))
	assert.Equal(t, "seed-2024", NormalizeLabel("seed-2024"))
	assert.Equal(t, "seed-2024", NormalizeLabel("  seed-2024  "))
}

func TestExecutionIDFromARN(t *testing.T) {
	arn := "arn:aws:states:us-east-1:123456789012:execution:oracle-pipeline:cdc2f7f2-787f-4d0e-be4a-e32f427bc824"
	assert.Equal(t, "cdc2f7f2-787f-4d0e-be4a-e32f427bc824", ExecutionIDFromARN(arn))
	assert.Equal(t, "bare", ExecutionIDFromARN("bare"))
}

func TestAggregateKeys(t *testing.T) {
	k := AggregateKey{County: "Dade", Label: "not-set", Phase: "Upload", Step: "Upload"}
	assert.Equal(t, "Dade#not-set", k.CountyLabelKey())
	assert.Equal(t, "Upload#Upload#not-set", k.PhaseStepLabelKey())
}

func TestStepAggregateCount(t *testing.T) {
	agg := StepAggregate{InProgressCount: 3, FailedCount: 1, SucceededCount: 7}
	assert.EqualValues(t, 3, agg.Count(BucketInProgress))
	assert.EqualValues(t, 1, agg.Count(BucketFailed))
	assert.EqualValues(t, 7, agg.Count(BucketSucceeded))
	assert.EqualValues(t, 0, agg.Count(Bucket("UNKNOWN")))
}
