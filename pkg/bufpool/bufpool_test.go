package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	p := New(4096)

	t.Run("FullBlock", func(t *testing.T) {
		buf := p.Get(4096)
		defer p.Put(buf)
		assert.Len(t, buf, 4096)
		assert.Equal(t, 4096, cap(buf))
	})

	t.Run("PartialBlock", func(t *testing.T) {
		buf := p.Get(5)
		defer p.Put(buf)
		assert.Len(t, buf, 5)
		assert.Equal(t, 4096, cap(buf))
	})

	t.Run("Zero", func(t *testing.T) {
		buf := p.Get(0)
		defer p.Put(buf)
		assert.NotNil(t, buf)
		assert.Empty(t, buf)
	})

	t.Run("OversizedIsNotPooled", func(t *testing.T) {
		buf := p.Get(8192)
		assert.Len(t, buf, 8192)
		assert.Equal(t, 8192, cap(buf))

		before := p.Stats().Puts
		p.Put(buf)
		assert.Equal(t, before, p.Stats().Puts)
	})
}

func TestPutAndReuse(t *testing.T) {
	p := New(1024)

	buf := p.Get(10)
	buf[0] = 0xAB
	p.Put(buf)

	again := p.Get(1024)
	defer p.Put(again)
	assert.Len(t, again, 1024, "length restored to the full block")

	s := p.Stats()
	assert.Equal(t, uint64(2), s.Gets)
	assert.Equal(t, uint64(1), s.Puts)
	assert.GreaterOrEqual(t, s.Misses, uint64(1))
}

func TestPutForeignBuffers(t *testing.T) {
	p := New(1024)

	p.Put(nil)
	p.Put([]byte{})
	p.Put(make([]byte, 512))
	p.Put(make([]byte, 10, 2048))
	assert.Zero(t, p.Stats().Puts)

	p.Put(make([]byte, 3, 1024))
	assert.Equal(t, uint64(1), p.Stats().Puts)
}

func TestNewRejectsNonPositiveSize(t *testing.T) {
	assert.Panics(t, func() { New(0) })
	assert.Panics(t, func() { New(-1) })
}

func TestConcurrentGetPut(t *testing.T) {
	p := New(256)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				n := (g*31 + i) % 257
				buf := p.Get(n)
				assert.Len(t, buf, n)
				for j := range buf {
					buf[j] = byte(g)
				}
				p.Put(buf)
			}
		}(g)
	}
	wg.Wait()

	s := p.Stats()
	assert.Equal(t, uint64(16*200), s.Gets)
	assert.Equal(t, s.Gets, s.Puts)
}
