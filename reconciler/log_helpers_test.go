package reconciler

import (
	"testing"

	counter "github.com/Clever/aws-sdk-go-counter"
	"github.com/Clever/kayvee-go/v7/logger"
	"github.com/stretchr/testify/assert"
)

func init() {
	err := logger.SetGlobalRouting("../kvconfig.yml")
	if err != nil {
		panic(err)
	}
}

func TestRoutingRules(t *testing.T) {
	t.Run("aws-sdk-go-counter", func(t *testing.T) {
		mocklog := logger.NewMockCountLogger("oracle-node-reconciler")
		log = mocklog
		LogSFNCounts([]counter.ServiceCount{
			{
				Service:   "sfn",
				Operation: "GetExecutionHistory",
				Count:     100,
			},
			{
				Service:   "sfn",
				Operation: "DescribeExecution",
				Count:     200,
			},
		})
		counts := mocklog.RuleCounts()
		assert.Equal(t, 1, len(counts))
		assert.Contains(t, counts, "aws-sdk-go-counter")
		assert.Equal(t, 2, counts["aws-sdk-go-counter"])
	})

	t.Run("execution-outcome", func(t *testing.T) {
		mocklog := logger.NewMockCountLogger("oracle-node-reconciler")
		log = mocklog
		logOutcome("exec-1", OutcomeUpdated, "")
		logOutcome("exec-2", OutcomeSkippedNewer, "stored state is newer")
		logOutcome("exec-3", OutcomeFailed, "boom")
		counts := mocklog.RuleCounts()
		assert.Contains(t, counts, "execution-outcome")
		assert.Equal(t, 3, counts["execution-outcome"])
	})
}
