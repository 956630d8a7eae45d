package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAndSnapshotOrder(t *testing.T) {
	b := New[int](4)
	assert.Equal(t, 4, b.Cap())
	assert.Equal(t, 0, b.Len())

	for i := 1; i <= 3; i++ {
		overwrote := b.Push(i)
		assert.False(t, overwrote)
	}
	assert.Equal(t, []int{1, 2, 3}, b.Snapshot())

	assert.False(t, b.Push(4))
	assert.True(t, b.Push(5), "push past capacity must overwrite")
	assert.Equal(t, []int{2, 3, 4, 5}, b.Snapshot())
	assert.Equal(t, 4, b.Len())
}

func TestPopFIFO(t *testing.T) {
	b := New[string](2)
	b.Push("a")
	b.Push("b")
	b.Push("c") // evicts "a"

	v, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", v)
	v, ok = b.Pop()
	require.True(t, ok)
	assert.Equal(t, "c", v)
	_, ok = b.Pop()
	assert.False(t, ok)
}

func TestAtAndLast(t *testing.T) {
	b := New[int](3)
	_, ok := b.Last()
	assert.False(t, ok)

	b.Push(10)
	b.Push(20)
	b.Push(30)
	b.Push(40)

	v, ok := b.At(0)
	require.True(t, ok)
	assert.Equal(t, 20, v)
	v, ok = b.At(2)
	require.True(t, ok)
	assert.Equal(t, 40, v)
	_, ok = b.At(3)
	assert.False(t, ok)
	_, ok = b.At(-1)
	assert.False(t, ok)

	v, ok = b.Last()
	require.True(t, ok)
	assert.Equal(t, 40, v)
}

func TestClear(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	b.Push(2)
	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Snapshot())
	b.Push(7)
	assert.Equal(t, []int{7}, b.Snapshot())
}

func TestMinimumCapacity(t *testing.T) {
	b := New[int](0)
	assert.Equal(t, 1, b.Cap())
	b.Push(1)
	assert.True(t, b.Push(2))
	assert.Equal(t, []int{2}, b.Snapshot())
}
