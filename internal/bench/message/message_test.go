package message

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// countingAllocator fails after a fixed number of successful allocations and
// tracks how many buffers are still outstanding.
type countingAllocator struct {
	failAfter   int
	allocs      int
	outstanding int
}

func (a *countingAllocator) Alloc(n int) ([]byte, error) {
	if a.failAfter >= 0 && a.allocs >= a.failAfter {
		return nil, errors.New("out of memory")
	}
	a.allocs++
	a.outstanding++
	return make([]byte, n), nil
}

func (a *countingAllocator) Free(b []byte) {
	if b != nil {
		a.outstanding--
	}
}

func TestBuild_FillsEveryFieldWithItsPattern(t *testing.T) {
	m, err := Build(16, nil)
	require.NoError(t, err)
	defer m.Destroy()

	assert.Equal(t, 16, m.FieldSize())
	assert.Equal(t, 128, m.Size())
	for i := 0; i < FieldCount; i++ {
		assert.Equal(t, bytes.Repeat([]byte{Pattern(i)}, 16), m.Field(i), "field %d", i)
	}
}

func TestBuild_ReleasesPartialFieldsOnFailure(t *testing.T) {
	for failAt := 0; failAt < FieldCount; failAt++ {
		alloc := &countingAllocator{failAfter: failAt}

		m, err := Build(32, alloc)

		require.Error(t, err)
		assert.Nil(t, m)
		assert.True(t, errors.Is(err, ErrAllocation))
		assert.Equal(t, 0, alloc.outstanding, "fields leaked when failing at %d", failAt)
	}
}

func TestDestroy_ReleasesAllFieldsOnce(t *testing.T) {
	alloc := &countingAllocator{failAfter: -1}
	m, err := Build(8, alloc)
	require.NoError(t, err)
	assert.Equal(t, FieldCount, alloc.outstanding)

	m.Destroy()
	m.Destroy()

	assert.Equal(t, 0, alloc.outstanding)
}

func TestMaterialize_ConcatenatesFieldsInOrder(t *testing.T) {
	m, err := Build(4, nil)
	require.NoError(t, err)
	defer m.Destroy()

	unit, err := m.Materialize()
	require.NoError(t, err)
	defer unit.Release()

	assert.Equal(t, "AAAABBBBCCCCDDDDEEEEFFFFGGGGHHHH", string(unit.Bytes()))
	assert.Equal(t, bytes.Join(m.Buffers(), nil), unit.Bytes())
}

func TestMaterialize_AllocationFailure(t *testing.T) {
	alloc := &countingAllocator{failAfter: FieldCount}
	m, err := Build(8, alloc)
	require.NoError(t, err)
	defer m.Destroy()

	unit, err := m.Materialize()

	assert.Nil(t, unit)
	assert.True(t, errors.Is(err, ErrAllocation))
}

func TestBuffers_BorrowsFields(t *testing.T) {
	m, err := Build(8, nil)
	require.NoError(t, err)
	defer m.Destroy()

	list := m.Buffers()
	require.Len(t, list, FieldCount)
	assert.Equal(t, 64, list.Len())

	list[3][0] = 'z'
	assert.Equal(t, byte('z'), m.Field(3)[0], "descriptor list must alias the message fields")
}

func TestFieldSizeFor(t *testing.T) {
	fs, err := FieldSizeFor(1024)
	require.NoError(t, err)
	assert.Equal(t, 128, fs)

	fs, err = FieldSizeFor(1030)
	require.NoError(t, err)
	assert.Equal(t, 128, fs)

	_, err = FieldSizeFor(7)
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	m, err := Build(8, nil)
	require.NoError(t, err)
	defer m.Destroy()

	assert.NoError(t, Verify(m.Buffers()))

	bad := m.Buffers()
	bad[5] = bytes.Repeat([]byte{'A'}, 8)
	assert.Error(t, Verify(bad))

	assert.Error(t, Verify(m.Buffers()[:7]))
}

func TestHeapAllocator_RejectsInvalidSizes(t *testing.T) {
	_, err := HeapAllocator{}.Alloc(0)
	assert.Error(t, err)

	_, err = HeapAllocator{Limit: 64}.Alloc(65)
	assert.Error(t, err)
}

func TestPageAllocator_RoundTrip(t *testing.T) {
	var a PageAllocator
	b, err := a.Alloc(100)
	require.NoError(t, err)
	assert.Len(t, b, 100)

	b[99] = 1
	a.Free(b)
}

func TestNewAllocator(t *testing.T) {
	a, err := NewAllocator("heap")
	require.NoError(t, err)
	assert.IsType(t, HeapAllocator{}, a)

	a, err = NewAllocator("page")
	require.NoError(t, err)
	assert.IsType(t, PageAllocator{}, a)

	_, err = NewAllocator("slab")
	assert.Error(t, err)
}

func TestUnitSize_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		fieldSize := rapid.IntRange(1, 1<<16).Draw(t, "fieldSize")

		if UnitSize(fieldSize) != 8*fieldSize {
			t.Fatalf("UnitSize(%d) = %d", fieldSize, UnitSize(fieldSize))
		}
		if UnitSize(fieldSize)%FieldCount != 0 {
			t.Fatalf("unit size %d is not a multiple of %d", UnitSize(fieldSize), FieldCount)
		}

		msgSize := rapid.IntRange(FieldCount, 1<<20).Draw(t, "messageSize")
		fs, err := FieldSizeFor(msgSize)
		if err != nil {
			t.Fatalf("FieldSizeFor(%d): %v", msgSize, err)
		}
		if fs != msgSize/FieldCount {
			t.Fatalf("FieldSizeFor(%d) = %d", msgSize, fs)
		}
	})
}

func TestMaterialize_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		fieldSize := rapid.IntRange(1, 4096).Draw(t, "fieldSize")

		m, err := Build(fieldSize, nil)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		defer m.Destroy()

		unit, err := m.Materialize()
		if err != nil {
			t.Fatalf("Materialize: %v", err)
		}
		defer unit.Release()

		if unit.Len() != UnitSize(fieldSize) {
			t.Fatalf("unit length %d, want %d", unit.Len(), UnitSize(fieldSize))
		}
		for i := 0; i < FieldCount; i++ {
			part := unit.Bytes()[i*fieldSize : (i+1)*fieldSize]
			if !bytes.Equal(part, m.Field(i)) {
				t.Fatalf("field %d differs in materialized unit", i)
			}
		}
	})
}
