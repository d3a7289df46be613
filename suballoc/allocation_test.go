package suballoc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/slab/suballoc/internal/vulkan"
)

func testAllocation(size int) *Allocation {
	return newAllocation(0, 0, vulkan.NewSynchronizedMemory(nil, size), size, false)
}

type chunkState struct {
	Offset int
	Size   int
	Used   bool
}

func chunkStates(t *testing.T, alloc *Allocation) []chunkState {
	var states []chunkState
	err := alloc.VisitChunks(func(chunk *Chunk) error {
		states = append(states, chunkState{Offset: chunk.Offset(), Size: chunk.Size(), Used: chunk.IsUsed()})
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, alloc.Validate())
	return states
}

func TestNewAllocationIsOneFreeChunk(t *testing.T) {
	alloc := testAllocation(1000)

	require.True(t, alloc.IsEmpty())
	require.Equal(t, []chunkState{{Offset: 0, Size: 1000}}, chunkStates(t, alloc))
}

func TestAllocateFirstFit(t *testing.T) {
	alloc := testAllocation(380)

	a := alloc.Allocate(100)
	require.NotNil(t, alloc.Allocate(10))
	b := alloc.Allocate(50)
	require.NotNil(t, alloc.Allocate(10))
	c := alloc.Allocate(200)
	require.NotNil(t, alloc.Allocate(10))

	require.True(t, alloc.Free(a))
	require.True(t, alloc.Free(b))
	require.True(t, alloc.Free(c))
	require.Equal(t, []chunkState{
		{Offset: 0, Size: 100},
		{Offset: 100, Size: 10, Used: true},
		{Offset: 110, Size: 50},
		{Offset: 160, Size: 10, Used: true},
		{Offset: 170, Size: 200},
		{Offset: 370, Size: 10, Used: true},
	}, chunkStates(t, alloc))

	chunk := alloc.Allocate(60)
	require.NotNil(t, chunk)
	require.Equal(t, 0, chunk.Offset())
	require.Equal(t, 60, chunk.Size())

	require.Equal(t, []chunkState{
		{Offset: 0, Size: 60, Used: true},
		{Offset: 60, Size: 40},
		{Offset: 100, Size: 10, Used: true},
		{Offset: 110, Size: 50},
		{Offset: 160, Size: 10, Used: true},
		{Offset: 170, Size: 200},
		{Offset: 370, Size: 10, Used: true},
	}, chunkStates(t, alloc))
}

func TestAllocateExactFitDoesNotSplit(t *testing.T) {
	alloc := testAllocation(256)

	chunk := alloc.Allocate(256)
	require.NotNil(t, chunk)
	require.Equal(t, 1, alloc.ChunkCount())
	require.Nil(t, alloc.Allocate(1))
}

func TestAllocateInvalidSizes(t *testing.T) {
	testCases := map[string]int{
		"Zero":     0,
		"Negative": -12,
		"TooLarge": 1001,
	}

	for name, size := range testCases {
		t.Run(name, func(t *testing.T) {
			alloc := testAllocation(1000)
			require.Nil(t, alloc.Allocate(size))
			require.True(t, alloc.IsEmpty())
		})
	}
}

func TestSplitMergeRoundTrip(t *testing.T) {
	alloc := testAllocation(1000)

	chunk := alloc.Allocate(300)
	require.Equal(t, []chunkState{
		{Offset: 0, Size: 300, Used: true},
		{Offset: 300, Size: 700},
	}, chunkStates(t, alloc))

	require.True(t, alloc.Free(chunk))
	require.True(t, alloc.IsEmpty())
	require.Equal(t, []chunkState{{Offset: 0, Size: 1000}}, chunkStates(t, alloc))
}

func TestAllocateAlignedPadsOffset(t *testing.T) {
	alloc := testAllocation(1000)

	require.NotNil(t, alloc.Allocate(100))
	aligned := alloc.AllocateAligned(50, 64)
	require.Equal(t, []chunkState{
		{Offset: 0, Size: 100, Used: true},
		{Offset: 100, Size: 28},
		{Offset: 128, Size: 50, Used: true},
		{Offset: 178, Size: 822},
	}, chunkStates(t, alloc))

	// The padding is an ordinary free chunk that later requests can use
	filler := alloc.AllocateAligned(20, 4)
	require.Equal(t, 100, filler.Offset())

	require.True(t, alloc.Free(aligned))
	require.Equal(t, []chunkState{
		{Offset: 0, Size: 100, Used: true},
		{Offset: 100, Size: 20, Used: true},
		{Offset: 120, Size: 880},
	}, chunkStates(t, alloc))

	require.Nil(t, alloc.AllocateAligned(880, 64))
}

func TestThreeWayCoalesce(t *testing.T) {
	alloc := testAllocation(300)

	first := alloc.Allocate(100)
	middle := alloc.Allocate(100)
	last := alloc.Allocate(100)

	require.True(t, alloc.Free(first))
	require.True(t, alloc.Free(last))
	require.Equal(t, []chunkState{
		{Offset: 0, Size: 100},
		{Offset: 100, Size: 100, Used: true},
		{Offset: 200, Size: 100},
	}, chunkStates(t, alloc))

	require.True(t, alloc.Free(middle))
	require.Equal(t, []chunkState{{Offset: 0, Size: 300}}, chunkStates(t, alloc))
}

func TestMergeKeepsLowerOffset(t *testing.T) {
	alloc := testAllocation(300)

	first := alloc.Allocate(100)
	second := alloc.Allocate(100)
	require.NotNil(t, alloc.Allocate(100))

	require.True(t, alloc.Free(first))
	require.True(t, alloc.Free(second))

	require.Equal(t, []chunkState{
		{Offset: 0, Size: 200},
		{Offset: 200, Size: 100, Used: true},
	}, chunkStates(t, alloc))
	require.Equal(t, first, alloc.head)
}

func TestFreeRejectsForeignAndDoubleFree(t *testing.T) {
	alloc := testAllocation(1000)
	other := testAllocation(1000)

	chunk := alloc.Allocate(100)
	foreign := other.Allocate(100)

	require.False(t, alloc.Free(foreign))
	require.False(t, alloc.Free(nil))

	require.True(t, alloc.Free(chunk))
	require.False(t, alloc.Free(chunk))
	require.True(t, alloc.IsEmpty())
}

func TestRandomSequenceConservesBytes(t *testing.T) {
	const allocSize = 4096
	alloc := testAllocation(allocSize)
	random := rand.New(rand.NewSource(42))

	var live []*Chunk
	for i := 0; i < 2000; i++ {
		if len(live) > 0 && random.Intn(3) == 0 {
			index := random.Intn(len(live))
			require.True(t, alloc.Free(live[index]))
			live = append(live[:index], live[index+1:]...)
		} else {
			alignment := uint(1) << random.Intn(7)
			chunk := alloc.AllocateAligned(1+random.Intn(300), alignment)
			if chunk != nil {
				require.Zero(t, chunk.Offset()%int(alignment))
				live = append(live, chunk)
			}
		}

		require.NoError(t, alloc.Validate())

		usedBytes := 0
		for _, chunk := range live {
			usedBytes += chunk.Size()
		}

		freeBytes := 0
		_ = alloc.VisitChunks(func(chunk *Chunk) error {
			if !chunk.IsUsed() {
				freeBytes += chunk.Size()
			}
			return nil
		})
		require.Equal(t, allocSize, usedBytes+freeBytes)
	}

	for _, chunk := range live {
		require.True(t, alloc.Free(chunk))
	}
	require.True(t, alloc.IsEmpty())
}
