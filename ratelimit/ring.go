package ratelimit

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// ring is a growable ring buffer over an ordered element type, adapted
// from the catrate package's ringBuffer: a power-of-two-sized backing
// array addressed via masking, doubling in place when full. It underlies
// SlidingWindow's admission log and MultiWindow's per-tier admission logs.
// E is constrained to constraints.Ordered since Search's binary search
// requires ordering, even though every caller in this package
// instantiates ring[int64].
type ring[E constraints.Ordered] struct {
	s    []E
	r, w uint
}

func newRing[E constraints.Ordered](size int) *ring[E] {
	if size <= 0 || size&(size-1) != 0 {
		panic("ratelimit: ring: size must be a power of 2")
	}
	return &ring[E]{s: make([]E, size)}
}

func (x *ring[E]) mask(val uint) uint {
	return val & (uint(len(x.s)) - 1)
}

func (x *ring[E]) bounds() (i1, l1, l2 int) {
	if x.r == x.w {
		return
	}
	i1 = int(x.mask(x.r))
	l1 = int(x.mask(x.w))
	if l1 <= i1 {
		l2 = l1
		l1 = len(x.s)
	}
	return
}

func (x *ring[E]) Len() int { return int(x.w - x.r) }
func (x *ring[E]) Cap() int { return len(x.s) }

func (x *ring[E]) Get(i int) E {
	if i < 0 || i >= x.Len() {
		panic("ratelimit: ring: get: index out of range")
	}
	return x.s[x.mask(x.r+uint(i))]
}

func (x *ring[E]) RemoveBefore(index int) {
	if index < 0 || index > x.Len() {
		panic("ratelimit: ring: remove before: index out of range")
	}
	x.r += uint(index)
}

// Search returns the index of the first element >= value, via binary
// search over the logical (unwrapped) index space.
func (x *ring[E]) Search(value E) int {
	return sort.Search(x.Len(), func(i int) bool {
		return x.Get(i) >= value
	})
}

// Push appends value, doubling the backing array if full. Values are
// expected to be pushed in non-decreasing order (the caller always pushes
// "now"), so unlike catrate's general-purpose Insert, Push always targets
// the end of the buffer.
func (x *ring[E]) Push(value E) {
	if x.Len() == len(x.s) {
		s := make([]E, uint(len(x.s))<<1)
		if len(s) == 0 {
			panic("ratelimit: ring: push: overflow")
		}
		i1, l1, l2 := x.bounds()
		n := copy(s, x.s[i1:l1])
		n += copy(s[n:], x.s[:l2])
		x.r = 0
		x.w = uint(n)
		x.s = s
	}

	x.s[x.mask(x.w)] = value
	x.w++
}
