package objectcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkCoverage(t *testing.T) {
	t.Parallel()

	cov := newCoverage(256)
	assert.Len(t, cov, 4)

	markCoverage(cov, 10, 100)
	assert.True(t, isRangeCovered(cov, 10, 100))
	assert.True(t, isRangeCovered(cov, 63, 2))
	assert.False(t, isRangeCovered(cov, 9, 2))
	assert.False(t, isRangeCovered(cov, 105, 10))
	assert.Equal(t, 100, coveredCount(cov))
}

func TestMarkCoverageWordBoundaries(t *testing.T) {
	t.Parallel()

	cov := newCoverage(256)
	markCoverage(cov, 64, 64)
	assert.Equal(t, ^uint64(0), cov[1])
	assert.Zero(t, cov[0])
	assert.Zero(t, cov[2])

	markCoverage(cov, 0, 256)
	assert.True(t, isFullyCovered(cov, 256))
}

func TestIsRangeCoveredEmpty(t *testing.T) {
	t.Parallel()

	cov := newCoverage(128)
	assert.True(t, isRangeCovered(cov, 5, 0))
	assert.False(t, isRangeCovered(cov, 0, 1))
	assert.False(t, isFullyCovered(cov, 128))
}

func TestCoverageOddBlockSize(t *testing.T) {
	t.Parallel()

	cov := newCoverage(100)
	assert.Len(t, cov, 2)
	markCoverage(cov, 0, 100)
	assert.True(t, isFullyCovered(cov, 100))
	assert.Equal(t, 100, coveredCount(cov))
}
