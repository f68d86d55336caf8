package sfncache

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sfn"
	"github.com/aws/aws-sdk-go/service/sfn/sfniface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSFN struct {
	sfniface.SFNAPI
	describeCalls int
	status        string
}

func (c *countingSFN) DescribeExecutionWithContext(ctx aws.Context, in *sfn.DescribeExecutionInput, opts ...request.Option) (*sfn.DescribeExecutionOutput, error) {
	c.describeCalls++
	return &sfn.DescribeExecutionOutput{
		ExecutionArn: in.ExecutionArn,
		Status:       aws.String(c.status),
	}, nil
}

func TestDescribeExecutionCachesTerminal(t *testing.T) {
	underlying := &countingSFN{status: sfn.ExecutionStatusSucceeded}
	cached, err := New(underlying)
	require.NoError(t, err)

	input := &sfn.DescribeExecutionInput{ExecutionArn: aws.String("arn:execution:1")}
	for i := 0; i < 1000; i++ {
		out, err := cached.DescribeExecutionWithContext(context.Background(), input)
		require.NoError(t, err)
		require.Equal(t, sfn.ExecutionStatusSucceeded, aws.StringValue(out.Status))
	}
	assert.Equal(t, 1, underlying.describeCalls)
}

func TestDescribeExecutionDoesNotCacheRunning(t *testing.T) {
	underlying := &countingSFN{status: sfn.ExecutionStatusRunning}
	cached, err := New(underlying)
	require.NoError(t, err)

	input := &sfn.DescribeExecutionInput{ExecutionArn: aws.String("arn:execution:1")}
	for i := 0; i < 5; i++ {
		_, err := cached.DescribeExecutionWithContext(context.Background(), input)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, underlying.describeCalls)
}
