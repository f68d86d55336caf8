package dynamodb

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/go-openapi/strfmt"

	"github.com/elephant-xyz/oracle-node-sub000/resources"
)

// nowDateTime is swapped out in tests.
var nowDateTime = func() strfmt.DateTime {
	return strfmt.DateTime(time.Now().UTC())
}

// Both entity types share one table keyed on "id". Execution-state rows and
// aggregate rows are distinguished by an id prefix.
const (
	executionKeyPrefix = "execution#"
	aggregateKeyPrefix = "aggregate#"
)

func executionStateID(executionID string) string {
	return executionKeyPrefix + executionID
}

func aggregateID(k resources.AggregateKey) string {
	return fmt.Sprintf("%s%s#%s#%s#%s", aggregateKeyPrefix, k.County, k.Label, k.Phase, k.Step)
}

// ddbPrimaryKey is the primary key of the workflow-state table.
type ddbPrimaryKey struct {
	ID string `dynamodbav:"id"`
}

func (pk ddbPrimaryKey) AttributeDefinitions() []*dynamodb.AttributeDefinition {
	return []*dynamodb.AttributeDefinition{
		{
			AttributeName: aws.String("id"),
			AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
		},
	}
}

func (pk ddbPrimaryKey) KeySchema() []*dynamodb.KeySchemaElement {
	return []*dynamodb.KeySchemaElement{
		{
			AttributeName: aws.String("id"),
			KeyType:       aws.String(dynamodb.KeyTypeHash),
		},
	}
}

// ddbExecutionState represents the execution state as stored in dynamo.
type ddbExecutionState struct {
	ddbPrimaryKey
	State resources.ExecutionState `dynamodbav:"State"`
}

// EncodeExecutionState encodes an ExecutionState as a dynamo attribute map.
func EncodeExecutionState(state resources.ExecutionState) (map[string]*dynamodb.AttributeValue, error) {
	return dynamodbattribute.MarshalMap(ddbExecutionState{
		ddbPrimaryKey: ddbPrimaryKey{
			ID: executionStateID(state.ExecutionID),
		},
		State: state,
	})
}

// DecodeExecutionState translates an execution state stored in dynamodb to
// an ExecutionState object.
func DecodeExecutionState(m map[string]*dynamodb.AttributeValue) (resources.ExecutionState, error) {
	var ds ddbExecutionState
	if err := dynamodbattribute.UnmarshalMap(m, &ds); err != nil {
		return resources.ExecutionState{}, err
	}
	return ds.State, nil
}

// ddbAggregateSecondaryKeyCountyLabel is a global secondary index that allows
// querying all aggregates for one (county, label).
type ddbAggregateSecondaryKeyCountyLabel struct {
	CountyLabel string `dynamodbav:"_gsi-countyLabel,omitempty"`
}

func (sk ddbAggregateSecondaryKeyCountyLabel) Name() string {
	return "countyLabel"
}

func (sk ddbAggregateSecondaryKeyCountyLabel) AttributeDefinitions() []*dynamodb.AttributeDefinition {
	return []*dynamodb.AttributeDefinition{
		{
			AttributeName: aws.String("_gsi-countyLabel"),
			AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
		},
	}
}

func (sk ddbAggregateSecondaryKeyCountyLabel) KeySchema() []*dynamodb.KeySchemaElement {
	return []*dynamodb.KeySchemaElement{
		{
			AttributeName: aws.String("_gsi-countyLabel"),
			KeyType:       aws.String(dynamodb.KeyTypeHash),
		},
	}
}

// ddbAggregateSecondaryKeyPhaseStepLabel is a global secondary index that
// allows querying all aggregates for one (phase, step, label).
type ddbAggregateSecondaryKeyPhaseStepLabel struct {
	PhaseStepLabel string `dynamodbav:"_gsi-phaseStepLabel,omitempty"`
}

func (sk ddbAggregateSecondaryKeyPhaseStepLabel) Name() string {
	return "phaseStepLabel"
}

func (sk ddbAggregateSecondaryKeyPhaseStepLabel) AttributeDefinitions() []*dynamodb.AttributeDefinition {
	return []*dynamodb.AttributeDefinition{
		{
			AttributeName: aws.String("_gsi-phaseStepLabel"),
			AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
		},
	}
}

func (sk ddbAggregateSecondaryKeyPhaseStepLabel) KeySchema() []*dynamodb.KeySchemaElement {
	return []*dynamodb.KeySchemaElement{
		{
			AttributeName: aws.String("_gsi-phaseStepLabel"),
			KeyType:       aws.String(dynamodb.KeyTypeHash),
		},
	}
}

// ddbAggregateSecondaryKeyShard is a fixed-cardinality hash-sharded index
// used to roll up every aggregate without a single hot partition.
type ddbAggregateSecondaryKeyShard struct {
	ShardKey string `dynamodbav:"_gsi-shardKey,omitempty"`
}

func (sk ddbAggregateSecondaryKeyShard) Name() string {
	return "shardKey"
}

func (sk ddbAggregateSecondaryKeyShard) AttributeDefinitions() []*dynamodb.AttributeDefinition {
	return []*dynamodb.AttributeDefinition{
		{
			AttributeName: aws.String("_gsi-shardKey"),
			AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
		},
	}
}

func (sk ddbAggregateSecondaryKeyShard) KeySchema() []*dynamodb.KeySchemaElement {
	return []*dynamodb.KeySchemaElement{
		{
			AttributeName: aws.String("_gsi-shardKey"),
			KeyType:       aws.String(dynamodb.KeyTypeHash),
		},
	}
}

// ddbStepAggregate represents the aggregate row as stored in dynamo. The
// counters themselves live as top-level number attributes so that they can
// be moved with ADD update expressions.
type ddbStepAggregate struct {
	ddbPrimaryKey
	ddbAggregateSecondaryKeyCountyLabel
	ddbAggregateSecondaryKeyPhaseStepLabel
	ddbAggregateSecondaryKeyShard
	County          string          `dynamodbav:"county"`
	DataGroupLabel  string          `dynamodbav:"dataGroupLabel"`
	Phase           string          `dynamodbav:"phase"`
	Step            string          `dynamodbav:"step"`
	InProgressCount int64           `dynamodbav:"inProgressCount"`
	FailedCount     int64           `dynamodbav:"failedCount"`
	SucceededCount  int64           `dynamodbav:"succeededCount"`
	CreatedAt       strfmt.DateTime `dynamodbav:"createdAt"`
	UpdatedAt       strfmt.DateTime `dynamodbav:"updatedAt"`
}

// DecodeStepAggregate translates an aggregate row stored in dynamodb to a
// StepAggregate object.
func DecodeStepAggregate(m map[string]*dynamodb.AttributeValue) (resources.StepAggregate, error) {
	var da ddbStepAggregate
	if err := dynamodbattribute.UnmarshalMap(m, &da); err != nil {
		return resources.StepAggregate{}, err
	}
	return resources.StepAggregate{
		AggregateKey: resources.AggregateKey{
			County: da.County,
			Label:  da.DataGroupLabel,
			Phase:  da.Phase,
			Step:   da.Step,
		},
		InProgressCount: da.InProgressCount,
		FailedCount:     da.FailedCount,
		SucceededCount:  da.SucceededCount,
		CreatedAt:       da.CreatedAt,
		UpdatedAt:       da.UpdatedAt,
	}, nil
}
