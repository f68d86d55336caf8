package dynamodb

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/elephant-xyz/oracle-node-sub000/resources"
	"github.com/elephant-xyz/oracle-node-sub000/store"
)

// DynamoDB implements store.Store against the shared workflow-state table.
type DynamoDB struct {
	ddb         dynamodbiface.DynamoDBAPI
	tableConfig TableConfig
}

type TableConfig struct {
	PrefixWorkflowState string
}

func New(ddb dynamodbiface.DynamoDBAPI, tableConfig TableConfig) DynamoDB {
	return DynamoDB{
		ddb:         ddb,
		tableConfig: tableConfig,
	}
}

// workflowStateTable returns the name of the table that stores execution
// state and step aggregates.
func (d DynamoDB) workflowStateTable() string {
	return fmt.Sprintf("%s-workflow-state", d.tableConfig.PrefixWorkflowState)
}

// InitTables creates the dynamo table.
func (d DynamoDB) InitTables(ctx context.Context) error {
	attributeDefinitions := ddbPrimaryKey{}.AttributeDefinitions()
	for _, ads := range [][]*dynamodb.AttributeDefinition{
		(ddbAggregateSecondaryKeyCountyLabel{}.AttributeDefinitions()),
		(ddbAggregateSecondaryKeyPhaseStepLabel{}.AttributeDefinitions()),
		(ddbAggregateSecondaryKeyShard{}.AttributeDefinitions()),
	} {
		attributeDefinitions = append(attributeDefinitions, ads...)
	}
	gsi := []*dynamodb.GlobalSecondaryIndex{}
	for _, sk := range []interface {
		Name() string
		KeySchema() []*dynamodb.KeySchemaElement
	}{
		ddbAggregateSecondaryKeyCountyLabel{},
		ddbAggregateSecondaryKeyPhaseStepLabel{},
		ddbAggregateSecondaryKeyShard{},
	} {
		gsi = append(gsi, &dynamodb.GlobalSecondaryIndex{
			IndexName: aws.String(sk.Name()),
			KeySchema: sk.KeySchema(),
			Projection: &dynamodb.Projection{
				ProjectionType: aws.String(dynamodb.ProjectionTypeAll),
			},
			ProvisionedThroughput: &dynamodb.ProvisionedThroughput{
				ReadCapacityUnits:  aws.Int64(1),
				WriteCapacityUnits: aws.Int64(1),
			},
		})
	}
	_, err := d.ddb.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		AttributeDefinitions:   attributeDefinitions,
		KeySchema:              ddbPrimaryKey{}.KeySchema(),
		GlobalSecondaryIndexes: gsi,
		ProvisionedThroughput: &dynamodb.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(1),
			WriteCapacityUnits: aws.Int64(1),
		},
		TableName: aws.String(d.workflowStateTable()),
	})
	return err
}

// GetExecutionState reads the current state row for an execution. The read
// is strongly consistent: it must happen-before the conditioned write that
// the planner builds from it.
func (d DynamoDB) GetExecutionState(ctx context.Context, executionID string) (resources.ExecutionState, error) {
	res, err := d.ddb.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(executionStateID(executionID))},
		},
		TableName:      aws.String(d.workflowStateTable()),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return resources.ExecutionState{}, err
	}
	if len(res.Item) == 0 {
		return resources.ExecutionState{}, store.NewNotFound(executionID)
	}
	return DecodeExecutionState(res.Item)
}

// ApplyOperations submits the operation set as a single TransactWriteItems
// call so partial application is never observable.
func (d DynamoDB) ApplyOperations(ctx context.Context, ops store.OperationSet) error {
	if ops.Empty() {
		return nil
	}
	items := make([]*dynamodb.TransactWriteItem, 0, len(ops.Ops))
	for _, op := range ops.Ops {
		item, err := d.transactItem(op)
		if err != nil {
			return err
		}
		items = append(items, item)
	}
	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}
	if ops.Token != "" {
		input.ClientRequestToken = aws.String(ops.Token)
	}
	if _, err := d.ddb.TransactWriteItemsWithContext(ctx, input); err != nil {
		return classifyTransactError(err)
	}
	return nil
}

func (d DynamoDB) transactItem(op store.Operation) (*dynamodb.TransactWriteItem, error) {
	switch o := op.(type) {
	case store.InsertExecutionState:
		item, err := EncodeExecutionState(o.State)
		if err != nil {
			return nil, err
		}
		return &dynamodb.TransactWriteItem{
			Put: &dynamodb.Put{
				TableName: aws.String(d.workflowStateTable()),
				Item:      item,
				ExpressionAttributeNames: map[string]*string{
					"#I": aws.String("id"),
				},
				ConditionExpression: aws.String("attribute_not_exists(#I)"),
			},
		}, nil
	case store.UpdateExecutionState:
		item, err := EncodeExecutionState(o.State)
		if err != nil {
			return nil, err
		}
		return &dynamodb.TransactWriteItem{
			Put: &dynamodb.Put{
				TableName: aws.String(d.workflowStateTable()),
				Item:      item,
				ExpressionAttributeNames: map[string]*string{
					"#S": aws.String("State"),
					"#V": aws.String("version"),
					"#L": aws.String("lastEventTime"),
				},
				ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
					":ev": {N: aws.String(fmt.Sprintf("%d", o.ExpectedVersion))},
					":t":  {S: aws.String(o.State.LastEventTime.String())},
				},
				// version re-validation closes the read-then-write race with
				// the live handler; the lastEventTime guard keeps the row
				// monotonic even across replays
				ConditionExpression: aws.String("#S.#V = :ev AND (attribute_not_exists(#S.#L) OR #S.#L < :t)"),
			},
		}, nil
	case store.AdjustStepAggregate:
		return d.adjustAggregateItem(o)
	}
	return nil, fmt.Errorf("unknown operation type %T", op)
}

// counterAttrs fixes the counter iteration order so that generated update
// expressions are deterministic.
var counterAttrs = []struct {
	bucket resources.Bucket
	attr   string
	ref    string
}{
	{resources.BucketInProgress, "inProgressCount", ":dip"},
	{resources.BucketFailed, "failedCount", ":df"},
	{resources.BucketSucceeded, "succeededCount", ":ds"},
}

func (d DynamoDB) adjustAggregateItem(op store.AdjustStepAggregate) (*dynamodb.TransactWriteItem, error) {
	adds := []string{}
	values := map[string]*dynamodb.AttributeValue{}
	for _, ca := range counterAttrs {
		delta, ok := op.Deltas[ca.bucket]
		if !ok || delta == 0 {
			continue
		}
		adds = append(adds, fmt.Sprintf("%s %s", ca.attr, ca.ref))
		values[ca.ref] = &dynamodb.AttributeValue{N: aws.String(fmt.Sprintf("%d", delta))}
	}
	if len(adds) == 0 {
		return nil, fmt.Errorf("aggregate adjustment for %s has no deltas", aggregateID(op.Key))
	}

	now := nowDateTime()
	values[":now"] = &dynamodb.AttributeValue{S: aws.String(now.String())}
	values[":county"] = &dynamodb.AttributeValue{S: aws.String(op.Key.County)}
	values[":label"] = &dynamodb.AttributeValue{S: aws.String(op.Key.Label)}
	values[":phase"] = &dynamodb.AttributeValue{S: aws.String(op.Key.Phase)}
	values[":step"] = &dynamodb.AttributeValue{S: aws.String(op.Key.Step)}
	values[":cl"] = &dynamodb.AttributeValue{S: aws.String(op.Key.CountyLabelKey())}
	values[":psl"] = &dynamodb.AttributeValue{S: aws.String(op.Key.PhaseStepLabelKey())}
	values[":sk"] = &dynamodb.AttributeValue{S: aws.String(resources.ShardKey(op.Key.County, op.Key.Label))}

	update := fmt.Sprintf(
		"ADD %s SET createdAt = if_not_exists(createdAt, :now), updatedAt = :now, "+
			"county = :county, dataGroupLabel = :label, phase = :phase, #ST = :step, "+
			"#GC = :cl, #GP = :psl, #GS = :sk",
		strings.Join(adds, ", "),
	)
	return &dynamodb.TransactWriteItem{
		Update: &dynamodb.Update{
			TableName: aws.String(d.workflowStateTable()),
			Key: map[string]*dynamodb.AttributeValue{
				"id": {S: aws.String(aggregateID(op.Key))},
			},
			ExpressionAttributeNames: map[string]*string{
				"#ST": aws.String("step"),
				"#GC": aws.String("_gsi-countyLabel"),
				"#GP": aws.String("_gsi-phaseStepLabel"),
				"#GS": aws.String("_gsi-shardKey"),
			},
			ExpressionAttributeValues: values,
			UpdateExpression:          aws.String(update),
		},
	}, nil
}

// classifyTransactError maps conditional failures, transaction conflicts and
// idempotency-token replays onto store.ConflictError. Everything else is
// passed through for the caller's retry policy to inspect.
func classifyTransactError(err error) error {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return err
	}
	switch aerr.Code() {
	case dynamodb.ErrCodeConditionalCheckFailedException,
		dynamodb.ErrCodeTransactionConflictException,
		dynamodb.ErrCodeIdempotentParameterMismatchException:
		return store.NewConflict(aerr.Message())
	case dynamodb.ErrCodeTransactionCanceledException:
		// the cancellation message lists per-item reasons; throttling-class
		// cancellations must stay retriable
		msg := aerr.Message()
		if strings.Contains(msg, "ConditionalCheckFailed") ||
			strings.Contains(msg, "TransactionConflict") {
			return store.NewConflict(msg)
		}
		return err
	}
	return err
}
