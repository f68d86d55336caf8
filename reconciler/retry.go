package reconciler

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/Clever/kayvee-go/v7/logger"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
)

const (
	retryMaxAttempts = 5
	retryBaseDelay   = 200 * time.Millisecond
	retryMaxDelay    = 5 * time.Second
)

// isThrottle reports whether an AWS error is throttling-class. Only these
// are retried; anything else is attributed to the individual execution.
func isThrottle(err error) bool {
	if err == nil {
		return false
	}
	if request.IsErrorThrottle(err) {
		return true
	}
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case dynamodb.ErrCodeProvisionedThroughputExceededException,
		dynamodb.ErrCodeRequestLimitExceeded,
		"ThrottlingException",
		"TooManyRequestsException":
		return true
	case dynamodb.ErrCodeTransactionCanceledException:
		// a transaction cancelled by a throttled item reports the reason in
		// the message, not the top-level code
		return strings.Contains(aerr.Message(), "ProvisionedThroughputExceeded") ||
			strings.Contains(aerr.Message(), "Throttling")
	}
	return false
}

// retryThrottled runs fn with exponential backoff plus jitter, retrying only
// throttling-class errors, up to retryMaxAttempts attempts with individual
// delays capped at retryMaxDelay.
func retryThrottled(ctx context.Context, op string, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		err = fn()
		if err == nil || !isThrottle(err) {
			return err
		}
		if attempt == retryMaxAttempts {
			break
		}
		sleep := delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
		log.WarnD("throttled-retry", logger.M{
			"op":       op,
			"attempt":  attempt,
			"delay-ms": sleep.Milliseconds(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return err
}
