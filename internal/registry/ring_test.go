package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingDropsOldest(t *testing.T) {
	r := newRing[int](3)
	_, ok := r.last()
	assert.False(t, ok)

	for i := 1; i <= 5; i++ {
		r.push(i)
	}

	v, ok := r.last()
	assert.True(t, ok)
	assert.Equal(t, 5, v)
	assert.Equal(t, []int{3, 4, 5}, r.snapshot())
	assert.Equal(t, 3, r.len())
}

func TestRingMinimumCapacity(t *testing.T) {
	r := newRing[string](0)
	r.push("a")
	r.push("b")
	assert.Equal(t, []string{"b"}, r.snapshot())
}
