// Package storetest is a conformance suite run against every block.Store
// implementation.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/filecache/pkg/store/block"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) block.Store

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("WriteRead", func(t *testing.T) { testWriteRead(t, newStore(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newStore(t)) })
	t.Run("ReadMissing", func(t *testing.T) { testReadMissing(t, newStore(t)) })
	t.Run("ReturnsCopies", func(t *testing.T) { testReturnsCopies(t, newStore(t)) })
	t.Run("ListByPrefix", func(t *testing.T) { testListByPrefix(t, newStore(t)) })
	t.Run("DeleteByPrefix", func(t *testing.T) { testDeleteByPrefix(t, newStore(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newStore(t)) })
}

func testWriteRead(t *testing.T, s block.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.HealthCheck(ctx))
	require.NoError(t, s.WriteBlock(ctx, block.Key(1, 0), []byte("hello")))

	got, err := s.ReadBlock(ctx, block.Key(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func testOverwrite(t *testing.T, s block.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.WriteBlock(ctx, block.Key(1, 0), []byte("first")))
	require.NoError(t, s.WriteBlock(ctx, block.Key(1, 0), []byte("second!")))

	got, err := s.ReadBlock(ctx, block.Key(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []byte("second!"), got)
}

func testReadMissing(t *testing.T, s block.Store) {
	defer s.Close()

	_, err := s.ReadBlock(context.Background(), block.Key(9, 9))
	assert.ErrorIs(t, err, block.ErrBlockNotFound)
}

func testReturnsCopies(t *testing.T, s block.Store) {
	defer s.Close()
	ctx := context.Background()

	data := []byte("abc")
	require.NoError(t, s.WriteBlock(ctx, block.Key(1, 0), data))
	data[0] = 'X'

	got, err := s.ReadBlock(ctx, block.Key(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'Y'
	again, err := s.ReadBlock(ctx, block.Key(1, 0))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func testListByPrefix(t *testing.T, s block.Store) {
	defer s.Close()
	ctx := context.Background()

	for _, k := range []string{block.Key(2, 10), block.Key(1, 1), block.Key(2, 2), block.Key(1, 0)} {
		require.NoError(t, s.WriteBlock(ctx, k, []byte{1}))
	}

	keys, err := s.ListByPrefix(ctx, block.InoPrefix(2))
	require.NoError(t, err)
	assert.Equal(t, []string{block.Key(2, 2), block.Key(2, 10)}, keys)

	keys, err = s.ListByPrefix(ctx, block.InoPrefix(3))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testDeleteByPrefix(t *testing.T, s block.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.WriteBlock(ctx, block.Key(1, 0), []byte{1}))
	require.NoError(t, s.WriteBlock(ctx, block.Key(1, 1), []byte{2}))
	require.NoError(t, s.WriteBlock(ctx, block.Key(2, 0), []byte{3}))

	require.NoError(t, s.DeleteByPrefix(ctx, block.InoPrefix(1)))

	_, err := s.ReadBlock(ctx, block.Key(1, 0))
	assert.ErrorIs(t, err, block.ErrBlockNotFound)

	got, err := s.ReadBlock(ctx, block.Key(2, 0))
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, got)

	require.NoError(t, s.DeleteByPrefix(ctx, block.InoPrefix(7)))
}

func testClosed(t *testing.T, s block.Store) {
	ctx := context.Background()
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.WriteBlock(ctx, block.Key(1, 0), []byte{1}), block.ErrStoreClosed)
	_, err := s.ReadBlock(ctx, block.Key(1, 0))
	assert.ErrorIs(t, err, block.ErrStoreClosed)
	_, err = s.ListByPrefix(ctx, "")
	assert.ErrorIs(t, err, block.ErrStoreClosed)
	assert.ErrorIs(t, s.DeleteByPrefix(ctx, ""), block.ErrStoreClosed)
	assert.ErrorIs(t, s.HealthCheck(ctx), block.ErrStoreClosed)
}
