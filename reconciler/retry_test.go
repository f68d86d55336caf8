package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsThrottle(t *testing.T) {
	throttles := []error{
		awserr.New("ThrottlingException", "slow down", nil),
		awserr.New("TooManyRequestsException", "slow down", nil),
		awserr.New(dynamodb.ErrCodeProvisionedThroughputExceededException, "over capacity", nil),
		awserr.New(dynamodb.ErrCodeRequestLimitExceeded, "limit", nil),
		awserr.New(dynamodb.ErrCodeTransactionCanceledException,
			"Transaction cancelled, please refer cancellation reasons for specific reasons [ProvisionedThroughputExceeded, None]", nil),
	}
	for _, err := range throttles {
		assert.True(t, isThrottle(err), err.Error())
	}

	assert.False(t, isThrottle(nil))
	assert.False(t, isThrottle(errors.New("boom")))
	assert.False(t, isThrottle(awserr.New("ValidationException", "bad input", nil)))
	assert.False(t, isThrottle(awserr.New(dynamodb.ErrCodeTransactionCanceledException,
		"Transaction cancelled, please refer cancellation reasons for specific reasons [ConditionalCheckFailed, None]", nil)))
}

func TestRetryThrottledEventuallySucceeds(t *testing.T) {
	attempts := 0
	err := retryThrottled(context.Background(), "test-op", func() error {
		attempts++
		if attempts < 3 {
			return awserr.New("ThrottlingException", "slow down", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryThrottledStopsOnNonThrottle(t *testing.T) {
	boom := awserr.New("ValidationException", "bad input", nil)
	attempts := 0
	err := retryThrottled(context.Background(), "test-op", func() error {
		attempts++
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryThrottledExhaustsAttempts(t *testing.T) {
	throttle := awserr.New("ThrottlingException", "slow down", nil)
	attempts := 0
	err := retryThrottled(context.Background(), "test-op", func() error {
		attempts++
		return throttle
	})
	assert.Equal(t, throttle, err)
	assert.Equal(t, retryMaxAttempts, attempts)
}

func TestRetryThrottledHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := retryThrottled(ctx, "test-op", func() error {
		return awserr.New("ThrottlingException", "slow down", nil)
	})
	assert.Equal(t, context.Canceled, err)
	assert.Less(t, time.Since(start), retryBaseDelay)
}
