package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	counter "github.com/Clever/aws-sdk-go-counter"
	"github.com/Clever/kayvee-go/v7/logger"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/sfn"
	"github.com/davecgh/go-spew/spew"
	"github.com/hashicorp/go-multierror"
	"github.com/kardianos/osext"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/elephant-xyz/oracle-node-sub000/reconciler"
	"github.com/elephant-xyz/oracle-node-sub000/reconciler/sfncache"
	dynamodbstore "github.com/elephant-xyz/oracle-node-sub000/store/dynamodb"
	"github.com/elephant-xyz/oracle-node-sub000/tracing"
)

var dynamoMaxRetries = 4

// Config contains the environment configuration for the reconcile run.
type Config struct {
	DynamoPrefixWorkflowState string
	DynamoRegion              string
	SFNRegion                 string
}

var (
	stateMachineARN = flag.String("state-machine-arn", "", "ARN of the state machine whose executions to reconcile")
	concurrency     = flag.Int("concurrency", 8, "worker pool size")
	maxExecutions   = flag.Int("max-executions", 0, "stop intake after this many executions, 0 means no cap")
	pageDelay       = flag.Duration("page-delay", time.Second, "fixed delay between ListExecutions pages")
	dryRun          = flag.Bool("dry-run", false, "compute and report outcomes without writing")
	initTables      = flag.Bool("init-tables", false, "create the workflow-state table and exit")
	yes             = flag.Bool("yes", false, "skip the confirmation prompt")
)

type cmdFlags struct {
	stateMachineARN string
	concurrency     int
	maxExecutions   int
	pageDelay       time.Duration
	dryRun          bool
	initTables      bool
	yes             bool
}

func (f cmdFlags) validate() error {
	var validation error
	if f.stateMachineARN == "" && !f.initTables {
		validation = multierror.Append(validation, fmt.Errorf("state-machine-arn is required"))
	}
	if f.stateMachineARN != "" && !strings.HasPrefix(f.stateMachineARN, "arn:aws:states:") {
		validation = multierror.Append(validation, fmt.Errorf("state-machine-arn must be a Step Functions state machine ARN"))
	}
	if f.concurrency <= 0 {
		validation = multierror.Append(validation, fmt.Errorf("concurrency must be positive"))
	}
	if f.maxExecutions < 0 {
		validation = multierror.Append(validation, fmt.Errorf("max-executions must not be negative"))
	}
	return validation
}

func setupRouting() {
	dir, err := osext.ExecutableFolder()
	if err != nil {
		log.Fatal(err)
	}
	err = logger.SetGlobalRouting(path.Join(dir, "kvconfig.yml"))
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	flag.Parse()
	flags := cmdFlags{
		stateMachineARN: *stateMachineARN,
		concurrency:     *concurrency,
		maxExecutions:   *maxExecutions,
		pageDelay:       *pageDelay,
		dryRun:          *dryRun,
		initTables:      *initTables,
		yes:             *yes,
	}
	if err := flags.validate(); err != nil {
		log.Fatal(err)
	}

	spew.Dump(flags)
	if !flags.yes && !flags.dryRun {
		CheckForContinue()
	}

	setupRouting()
	c := loadConfig()

	if os.Getenv("_TRACING_ENABLED") == "true" {
		if exp, prov, err := tracing.SetupGlobalTraceProviderAndExporter(context.Background()); err != nil {
			log.Fatalf("failed to setup tracing: %v", err)
		} else {
			defer exp.Shutdown(context.Background())
			defer prov.Shutdown(context.Background())
		}
	}

	dynamoTransport := tracedTransport("go-aws", "dynamodb", func(operation string, _ *http.Request) string {
		return operation
	})
	svc := dynamodb.New(session.Must(session.NewSessionWithOptions(session.Options{
		// reducing MaxRetries to 4 (from 10) to avoid long backoffs hiding
		// behind our own throttle policy
		Config: aws.Config{
			Region:     aws.String(c.DynamoRegion),
			MaxRetries: &dynamoMaxRetries,
			HTTPClient: &http.Client{Transport: dynamoTransport},
		},
	})))
	db := dynamodbstore.New(svc, dynamodbstore.TableConfig{
		PrefixWorkflowState: c.DynamoPrefixWorkflowState,
	})

	if flags.initTables {
		if err := db.InitTables(context.Background()); err != nil {
			log.Fatalf("init tables: %v", err)
		}
		log.Println("tables created")
		return
	}

	sfnsess := session.New()
	sfnCounter := counter.New()
	sfnsess.Handlers.Send.PushFront(sfnCounter.SessionHandler)
	sfnTransport := tracedTransport("go-aws", "sfn", func(operation string, _ *http.Request) string {
		return operation
	})
	countedSFNAPI := sfn.New(sfnsess, aws.NewConfig().WithRegion(c.SFNRegion).WithHTTPClient(&http.Client{Transport: sfnTransport}))
	cachedSFNAPI, err := sfncache.New(countedSFNAPI)
	if err != nil {
		log.Fatal(err)
	}

	go logSFNCounts(sfnCounter)

	// interrupt stops intake; in-flight executions finish
	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Println("interrupt received, stopping intake")
		cancel()
	}()

	driver := reconciler.NewDriver(reconciler.Config{
		SFNAPI:        cachedSFNAPI,
		Store:         db,
		Concurrency:   flags.concurrency,
		MaxExecutions: flags.maxExecutions,
		PageDelay:     flags.pageDelay,
		DryRun:        flags.dryRun,
	})
	summary, err := driver.Run(ctx, flags.stateMachineARN)
	printSummary(summary)
	if err != nil {
		log.Printf("run aborted: %v", err)
		os.Exit(1)
	}
	if summary.Failed() {
		os.Exit(1)
	}
}

func printSummary(s reconciler.Summary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "total\t%d\n", s.Total)
	for _, outcome := range []reconciler.Outcome{
		reconciler.OutcomeUpdated,
		reconciler.OutcomeSkippedNewer,
		reconciler.OutcomeSkippedNoData,
		reconciler.OutcomeFailed,
	} {
		fmt.Fprintf(w, "%s\t%d\n", outcome, s.Counts[outcome])
	}
	w.Flush()

	for _, r := range s.Results {
		if r.Outcome != reconciler.OutcomeFailed {
			continue
		}
		fmt.Printf("failed: %s: %s\n", r.ExecutionID, r.Reason)
	}
}

func loadConfig() Config {
	return Config{
		DynamoPrefixWorkflowState: getEnvVarOrDefault(
			"AWS_DYNAMO_PREFIX_WORKFLOW_STATE",
			"oracle-node-test",
		),
		DynamoRegion: mustGetenv("AWS_DYNAMO_REGION"),
		SFNRegion:    mustGetenv("AWS_SFN_REGION"),
	}
}

func mustGetenv(envVarName string) string {
	v := os.Getenv(envVarName)
	if v == "" {
		log.Fatalf("%s required", envVarName)
	}
	return v
}

func getEnvVarOrDefault(envVarName, defaultIfEmpty string) string {
	value := os.Getenv(envVarName)
	if value == "" {
		value = defaultIfEmpty
	}
	return value
}

func logSFNCounts(sfnCounter *counter.Counter) {
	ticker := time.NewTicker(30 * time.Second)
	for range ticker.C {
		reconciler.LogSFNCounts(sfnCounter.Counters())
	}
}

func CheckForContinue() {
	fmt.Println("Continue? (y/n)")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	text := strings.TrimSpace(scanner.Text())
	if err := scanner.Err(); err != nil {
		log.Fatalf("scanner error: %s", err)
	}
	if strings.ToLower(text) != "y" {
		log.Fatalf("Exiting...")
	}
}

// This can be used when more detailed instrumentation is not available;
// aws-sdk-go v1 has none of its own.
func tracedTransport(component string, peerService string, spanNamer func(operation string, req *http.Request) string) http.RoundTripper {
	return otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(spanNamer),
		otelhttp.WithSpanOptions(
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("peer.service", peerService), attribute.String("component", component)),
		),
	)
}
