package reconciler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Clever/kayvee-go/v7/logger"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/sfn"
	"github.com/aws/aws-sdk-go/service/sfn/sfniface"
	goerrors "github.com/go-errors/errors"
	"github.com/go-openapi/strfmt"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/elephant-xyz/oracle-node-sub000/resources"
	"github.com/elephant-xyz/oracle-node-sub000/store"
)

// Outcome classifies how processing one execution ended.
type Outcome string

const (
	// OutcomeUpdated means the operation set was applied.
	OutcomeUpdated Outcome = "updated"
	// OutcomeSkippedNewer means storage already held newer data, either
	// detected at plan time or by losing the conditioned write.
	OutcomeSkippedNewer Outcome = "skipped_newer"
	// OutcomeSkippedNoData means the history or start input did not yield a
	// resolution.
	OutcomeSkippedNoData Outcome = "skipped_no_data"
	// OutcomeFailed means an unclassified error; the run continues.
	OutcomeFailed Outcome = "failed"
)

// Result is the recorded outcome for one execution.
type Result struct {
	ExecutionID string
	Outcome     Outcome
	Reason      string
}

// Summary reports a full reconciliation run.
type Summary struct {
	Total   int
	Counts  map[Outcome]int
	Results []Result
}

// Failed reports whether any execution ended in OutcomeFailed.
func (s Summary) Failed() bool {
	return s.Counts[OutcomeFailed] > 0
}

// reconciled status filters, processed sequentially to bound memory
var statusFilters = []string{
	sfn.ExecutionStatusRunning,
	sfn.ExecutionStatusSucceeded,
	sfn.ExecutionStatusFailed,
}

const (
	defaultConcurrency   = 8
	defaultPageDelay     = time.Second
	reportProgressPeriod = 5 * time.Second
)

// Config configures a Driver.
type Config struct {
	SFNAPI sfniface.SFNAPI
	Store  store.Store

	// Concurrency is the worker pool size.
	Concurrency int
	// MaxExecutions caps intake across all status filters. Zero means no
	// cap. Executions already dispatched still finish.
	MaxExecutions int
	// PageDelay is the fixed delay between ListExecutions pages.
	PageDelay time.Duration
	// DryRun computes and reports outcomes without writing.
	DryRun bool
}

// Driver reconciles the workflow-state table against Step Functions
// execution histories.
type Driver struct {
	sfnapi        sfniface.SFNAPI
	store         store.Store
	concurrency   int
	maxExecutions int
	pageDelay     time.Duration
	dryRun        bool

	processed int64
}

func NewDriver(c Config) *Driver {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.PageDelay <= 0 {
		c.PageDelay = defaultPageDelay
	}
	return &Driver{
		sfnapi:        c.SFNAPI,
		store:         c.Store,
		concurrency:   c.Concurrency,
		maxExecutions: c.MaxExecutions,
		pageDelay:     c.PageDelay,
		dryRun:        c.DryRun,
	}
}

// Run pages through the state machine's executions by status filter and
// reconciles each one under the worker pool. Cancelling ctx stops intake;
// executions already dispatched finish their current work.
//
// Errors during a single execution's processing never abort the run; they
// are recorded in the summary. An error listing executions does abort, since
// without intake there is nothing left to do.
func (d *Driver) Run(ctx context.Context, stateMachineARN string) (Summary, error) {
	summary := Summary{Counts: map[Outcome]int{}}

	workc := make(chan string, d.concurrency)
	resultsc := make(chan Result)

	// single owner of the summary; workers only send
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for r := range resultsc {
			summary.Total++
			summary.Counts[r.Outcome]++
			summary.Results = append(summary.Results, r)
			logOutcome(r.ExecutionID, r.Outcome, r.Reason)
		}
	}()

	stopProgress := make(chan struct{})
	go d.reportProgress(stopProgress)

	// cancellation only gates intake: workers keep ctx's values but not its
	// cancel signal, so dispatched executions run their chain to completion
	procCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i := 0; i < d.concurrency; i++ {
		g.Go(func() error {
			for arn := range workc {
				resultsc <- d.processExecution(procCtx, arn)
				atomic.AddInt64(&d.processed, 1)
			}
			return nil
		})
	}

	listErr := d.dispatch(ctx, stateMachineARN, workc)

	close(workc)
	g.Wait()
	close(resultsc)
	<-collectorDone
	close(stopProgress)

	return summary, listErr
}

// dispatch feeds execution ARNs into workc, one status filter at a time,
// pausing between pages to stay under API rate limits.
func (d *Driver) dispatch(ctx context.Context, stateMachineARN string, workc chan<- string) error {
	limiter := rate.NewLimiter(rate.Every(d.pageDelay), 1)
	dispatched := 0
	for _, status := range statusFilters {
		var nextToken *string
		for {
			if err := limiter.Wait(ctx); err != nil {
				// cancelled: stop dispatching, let in-flight work finish
				return nil
			}
			var out *sfn.ListExecutionsOutput
			err := retryThrottled(ctx, "list-executions", func() error {
				var lerr error
				out, lerr = d.sfnapi.ListExecutionsWithContext(ctx, &sfn.ListExecutionsInput{
					StateMachineArn: aws.String(stateMachineARN),
					StatusFilter:    aws.String(status),
					NextToken:       nextToken,
				})
				return lerr
			})
			if err != nil {
				return err
			}
			for _, ex := range out.Executions {
				if ctx.Err() != nil {
					return nil
				}
				workc <- aws.StringValue(ex.ExecutionArn)
				dispatched++
				if d.maxExecutions > 0 && dispatched >= d.maxExecutions {
					log.InfoD("max-executions-reached", logger.M{"dispatched": dispatched})
					return nil
				}
			}
			if out.NextToken == nil {
				break
			}
			nextToken = out.NextToken
		}
	}
	return nil
}

// processExecution runs the full chain for one execution: start input,
// event history, resolution, stored-state read, plan, conditioned write.
// All errors are classified here; none propagate.
func (d *Driver) processExecution(ctx context.Context, executionARN string) Result {
	executionID := resources.ExecutionIDFromARN(executionARN)

	var describeOut *sfn.DescribeExecutionOutput
	err := retryThrottled(ctx, "describe-execution", func() error {
		var derr error
		describeOut, derr = d.sfnapi.DescribeExecutionWithContext(ctx, &sfn.DescribeExecutionInput{
			ExecutionArn: aws.String(executionARN),
		})
		return derr
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == sfn.ErrCodeExecutionDoesNotExist {
			return Result{executionID, OutcomeSkippedNoData, "execution does not exist"}
		}
		return d.failed(executionID, err)
	}

	startInput := aws.StringValue(describeOut.Input)
	if startInput == "" {
		return Result{executionID, OutcomeSkippedNoData, "start input not found"}
	}
	executionStatus := aws.StringValue(describeOut.Status)

	var events []*sfn.HistoryEvent
	err = retryThrottled(ctx, "get-execution-history", func() error {
		events = events[:0]
		return d.sfnapi.GetExecutionHistoryPagesWithContext(ctx, &sfn.GetExecutionHistoryInput{
			ExecutionArn: aws.String(executionARN),
		}, func(page *sfn.GetExecutionHistoryOutput, lastPage bool) bool {
			events = append(events, page.Events...)
			return true
		})
	})
	if err != nil {
		return d.failed(executionID, err)
	}

	resolved, ok := ResolveHistory(events, executionStatus)
	if !ok {
		return Result{executionID, OutcomeSkippedNoData, "history yields no resolution"}
	}

	county, label := ExtractCountyLabel(startInput)
	if resolved.County != "" {
		county = resolved.County
	}
	if resolved.Label != "" {
		label = resources.NormalizeLabel(resolved.Label)
	}

	var previous *resources.ExecutionState
	err = retryThrottled(ctx, "get-execution-state", func() error {
		prev, gerr := d.store.GetExecutionState(ctx, executionID)
		if gerr != nil {
			return gerr
		}
		previous = &prev
		return nil
	})
	if err != nil && !store.IsNotFound(err) {
		return d.failed(executionID, err)
	}

	candidate := resources.ExecutionState{
		ExecutionID:    executionID,
		County:         county,
		DataGroupLabel: label,
		Phase:          resolved.Phase,
		Step:           resolved.Step,
		Bucket:         resources.BucketForStatus(resolved.RawStatus),
		RawStatus:      resolved.RawStatus,
		LastEventTime:  strfmt.DateTime(resolved.EventTime.UTC()),
	}

	ops := Plan(candidate, previous)
	if ops.Empty() {
		return Result{executionID, OutcomeSkippedNewer, "stored state is newer"}
	}
	if d.dryRun {
		return Result{executionID, OutcomeUpdated, "dry-run, writes skipped"}
	}

	err = retryThrottled(ctx, "apply-operations", func() error {
		return d.store.ApplyOperations(ctx, ops)
	})
	if err != nil {
		if store.IsConflict(err) {
			// losing a race to the live handler is success, not error
			return Result{executionID, OutcomeSkippedNewer, "lost write race: " + err.Error()}
		}
		return d.failed(executionID, err)
	}
	return Result{ExecutionID: executionID, Outcome: OutcomeUpdated}
}

func (d *Driver) failed(executionID string, err error) Result {
	werr := goerrors.Wrap(err, 1)
	log.ErrorD("execution-error", logger.M{
		"execution-id": executionID,
		"error":        err.Error(),
		"stack":        werr.ErrorStack(),
	})
	return Result{executionID, OutcomeFailed, err.Error()}
}

func (d *Driver) reportProgress(stop <-chan struct{}) {
	ticker := time.NewTicker(reportProgressPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			log.InfoD("progress", logger.M{"processed": atomic.LoadInt64(&d.processed)})
		}
	}
}
