package objectcache

import "math/bits"

// Coverage bitmaps track which bytes of a block hold valid data, one bit per
// byte. A block written before it was ever fetched is only partially valid;
// the rest is filled from the store on the next miss or flush.

func newCoverage(blockSize int) []uint64 {
	return make([]uint64, (blockSize+63)/64)
}

// markCoverage sets the bits of [off, off+n).
func markCoverage(cov []uint64, off, n int) {
	for n > 0 {
		word, bit := off/64, off%64
		span := min(64-bit, n)
		cov[word] |= spanMask(bit, span)
		off += span
		n -= span
	}
}

// isRangeCovered reports whether every byte of [off, off+n) is valid.
func isRangeCovered(cov []uint64, off, n int) bool {
	for n > 0 {
		word, bit := off/64, off%64
		span := min(64-bit, n)
		mask := spanMask(bit, span)
		if cov[word]&mask != mask {
			return false
		}
		off += span
		n -= span
	}
	return true
}

// isFullyCovered reports whether every one of the first size bytes is valid.
func isFullyCovered(cov []uint64, size int) bool {
	return isRangeCovered(cov, 0, size)
}

// coveredCount returns the number of valid bytes.
func coveredCount(cov []uint64) int {
	n := 0
	for _, w := range cov {
		n += bits.OnesCount64(w)
	}
	return n
}

func spanMask(bit, span int) uint64 {
	if span == 64 {
		return ^uint64(0)
	}
	return ((uint64(1) << span) - 1) << bit
}
