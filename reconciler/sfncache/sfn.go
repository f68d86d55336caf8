package sfncache

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sfn"
	"github.com/aws/aws-sdk-go/service/sfn/sfniface"
	lru "github.com/hashicorp/golang-lru"
)

// SFNCache caches SFN API calls.
type SFNCache struct {
	sfniface.SFNAPI
	describeExecutionWithContextCache *lru.Cache
}

// New creates a new cached version of SFNAPI.
func New(sfnapi sfniface.SFNAPI) (*SFNCache, error) {
	describeExecutionCacheWithContext, err := lru.New(10000)
	if err != nil {
		return nil, err
	}
	return &SFNCache{
		SFNAPI:                            sfnapi,
		describeExecutionWithContextCache: describeExecutionCacheWithContext,
	}, nil
}

// DescribeExecutionWithContext caches terminal executions only: once an
// execution has stopped its description is immutable, so reruns of the
// reconciler don't pay for it twice.
func (s *SFNCache) DescribeExecutionWithContext(ctx context.Context, i *sfn.DescribeExecutionInput, options ...request.Option) (*sfn.DescribeExecutionOutput, error) {
	cacheKey := aws.StringValue(i.ExecutionArn)
	cacheVal, ok := s.describeExecutionWithContextCache.Get(cacheKey)
	if ok {
		return cacheVal.(*sfn.DescribeExecutionOutput), nil
	}
	out, err := s.SFNAPI.DescribeExecutionWithContext(ctx, i, options...)
	if err != nil {
		return out, err
	}
	if aws.StringValue(out.Status) != sfn.ExecutionStatusRunning {
		s.describeExecutionWithContextCache.Add(cacheKey, out)
	}
	return out, nil
}
