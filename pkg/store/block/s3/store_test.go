package s3

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"

	"github.com/marmos91/filecache/pkg/store/block"
)

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", &types.NotFound{})))
	assert.True(t, isNotFound(errors.New("operation error S3: GetObject, https response error StatusCode: 404")))
	assert.False(t, isNotFound(errors.New("access denied")))
}

func TestFullKey(t *testing.T) {
	t.Parallel()

	s := New(nil, Config{Bucket: "b", KeyPrefix: "blocks/"})
	assert.Equal(t, "blocks/"+block.Key(1, 2), s.fullKey(block.Key(1, 2)))
}

func TestClosedStoreShortCircuits(t *testing.T) {
	t.Parallel()

	s := New(nil, Config{Bucket: "b"})
	assert.NoError(t, s.Close())

	ctx := context.Background()
	assert.ErrorIs(t, s.WriteBlock(ctx, "k", nil), block.ErrStoreClosed)
	_, err := s.ReadBlock(ctx, "k")
	assert.ErrorIs(t, err, block.ErrStoreClosed)
	assert.ErrorIs(t, s.HealthCheck(ctx), block.ErrStoreClosed)
}

func TestNewFromConfigRequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := NewFromConfig(context.Background(), Config{})
	assert.Error(t, err)
}
