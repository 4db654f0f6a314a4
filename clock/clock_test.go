package clock

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

var (
	nodeA = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	nodeB = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	nodeC = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
)

func TestIncrement(t *testing.T) {
	vc := New()
	assert.EqualValues(t, 0, vc.Get(nodeA))
	vc.Increment(nodeA)
	assert.EqualValues(t, 1, vc.Get(nodeA))
	vc.Increment(nodeA)
	vc.Increment(nodeB)
	assert.EqualValues(t, 2, vc.Get(nodeA))
	assert.EqualValues(t, 1, vc.Get(nodeB))
}

func TestMergeTakesElementwiseMax(t *testing.T) {
	a := VectorClock{nodeA: 3, nodeB: 1}
	b := VectorClock{nodeA: 1, nodeB: 4, nodeC: 2}
	a.Merge(b)
	assert.Equal(t, VectorClock{nodeA: 3, nodeB: 4, nodeC: 2}, a)
	// b is untouched
	assert.Equal(t, VectorClock{nodeA: 1, nodeB: 4, nodeC: 2}, b)
}

func TestCompare(t *testing.T) {
	for _, tc := range []struct {
		name     string
		a, b     VectorClock
		expected Ordering
	}{
		{"empty clocks are equal", New(), New(), Equal},
		{"identical", VectorClock{nodeA: 1}, VectorClock{nodeA: 1}, Equal},
		{"strictly behind", VectorClock{nodeA: 1}, VectorClock{nodeA: 2}, Before},
		{"strictly ahead", VectorClock{nodeA: 2, nodeB: 1}, VectorClock{nodeA: 1, nodeB: 1}, After},
		{"missing node counts as zero", VectorClock{nodeA: 1}, VectorClock{nodeA: 1, nodeB: 1}, Before},
		{"divergent writers", VectorClock{nodeA: 1}, VectorClock{nodeB: 1}, Concurrent},
		{"mixed", VectorClock{nodeA: 2, nodeB: 1}, VectorClock{nodeA: 1, nodeB: 2}, Concurrent},
		{"explicit zero entry is ignored", VectorClock{nodeA: 1, nodeB: 0}, VectorClock{nodeA: 1}, Equal},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.a.Compare(tc.b))
		})
	}
}

func TestHappensBeforeAndConcurrent(t *testing.T) {
	a := VectorClock{nodeA: 1}
	b := VectorClock{nodeA: 1, nodeB: 1}
	assert.True(t, HappensBefore(a, b))
	assert.False(t, HappensBefore(b, a))
	assert.False(t, IsConcurrent(a, b))

	c := VectorClock{nodeC: 1}
	assert.True(t, IsConcurrent(a, c))
	assert.True(t, IsConcurrent(c, a))
	assert.False(t, HappensBefore(a, c))
	assert.False(t, HappensBefore(c, a))
}

func TestCopyIsIndependent(t *testing.T) {
	a := VectorClock{nodeA: 1}
	b := a.Copy()
	b.Increment(nodeA)
	assert.EqualValues(t, 1, a.Get(nodeA))
	assert.EqualValues(t, 2, b.Get(nodeA))

	var nilClock VectorClock
	c := nilClock.Copy()
	c.Increment(nodeA) // must not panic
	assert.EqualValues(t, 1, c.Get(nodeA))
}

func TestString(t *testing.T) {
	assert.Equal(t, "{}", New().String())
	vc := VectorClock{nodeB: 2, nodeA: 1}
	// sorted by node ID, so deterministic
	assert.Equal(t,
		"{00000000-0000-0000-0000-00000000000a:1, 00000000-0000-0000-0000-00000000000b:2}",
		vc.String())
}
