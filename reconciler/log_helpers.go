package reconciler

import (
	counter "github.com/Clever/aws-sdk-go-counter"
	"github.com/Clever/kayvee-go/v7/logger"
)

var log = logger.New("oracle-node-reconciler")

// LogSFNCounts reports AWS SDK call volume so that runs can be tuned
// against the Step Functions API quotas.
func LogSFNCounts(counts []counter.ServiceCount) {
	for _, c := range counts {
		log.InfoD("aws-sdk-go-counter", logger.M{
			"service":   c.Service,
			"operation": c.Operation,
			"count":     c.Count,
		})
	}
}

func logOutcome(executionID string, outcome Outcome, reason string) {
	payload := logger.M{
		"execution-id": executionID,
		"outcome":      string(outcome),
		"value":        1,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if outcome == OutcomeFailed {
		log.ErrorD("execution-outcome", payload)
		return
	}
	log.InfoD("execution-outcome", payload)
}
