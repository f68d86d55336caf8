package resources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseStepForStateName(t *testing.T) {
	ps, ok := PhaseStepForStateName("TransformAndValidate")
	require.True(t, ok)
	assert.Equal(t, PhaseStep{Phase: "Transform", Step: "Transform"}, ps)

	ps, ok = PhaseStepForStateName("PrepareSubmission")
	require.True(t, ok)
	assert.Equal(t, PhaseStep{Phase: "Submit", Step: "Prepare"}, ps)

	ps, ok = PhaseStepForStateName("WaitForSubmissionCallback")
	require.True(t, ok)
	assert.Equal(t, PhaseStep{Phase: "Submit", Step: "Submit"}, ps)

	_, ok = PhaseStepForStateName("NotARealState")
	assert.False(t, ok)
}

func TestPhaseStepForPattern(t *testing.T) {
	tests := []struct {
		name string
		ps   PhaseStep
		ok   bool
	}{
		{"LegacyTransformWorker", PhaseStep{Phase: "Transform", Step: "Transform"}, true},
		{"HashFilesV2", PhaseStep{Phase: "Hash", Step: "Hash"}, true},
		{"UploadResults", PhaseStep{Phase: "Upload", Step: "Upload"}, true},
		{"SubmitRecords", PhaseStep{Phase: "Submit", Step: "Submit"}, true},
		{"PrepareBatch", PhaseStep{Phase: "Submit", Step: "Prepare"}, true},
		{"Mystery", PhaseStep{}, false},
	}
	for _, tt := range tests {
		ps, ok := PhaseStepForPattern(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.ps, ps, tt.name)
	}
}

func TestBucketForStatus(t *testing.T) {
	assert.Equal(t, BucketInProgress, BucketForStatus(StatusInProgress))
	// parked executions are waiting, not failed
	assert.Equal(t, BucketInProgress, BucketForStatus(StatusParked))
	assert.Equal(t, BucketInProgress, BucketForStatus("RUNNING"))
	assert.Equal(t, BucketInProgress, BucketForStatus("running"))

	assert.Equal(t, BucketSucceeded, BucketForStatus(StatusSucceeded))
	assert.Equal(t, BucketSucceeded, BucketForStatus(StatusCompleted))

	assert.Equal(t, BucketFailed, BucketForStatus(StatusFailed))
	assert.Equal(t, BucketFailed, BucketForStatus(StatusError))
	assert.Equal(t, BucketFailed, BucketForStatus(StatusTimedOut))
	assert.Equal(t, BucketFailed, BucketForStatus(StatusAborted))
	assert.Equal(t, BucketFailed, BucketForStatus("SOMETHING_ELSE"))
}
