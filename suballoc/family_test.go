package suballoc

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"go.uber.org/mock/gomock"
)

func TestFamilyCreatesSlabWhenFull(t *testing.T) {
	ctrl := gomock.NewController(t)
	dev, allocator := readyAllocator(t, ctrl, defaultSetup)

	family := allocator.familyForType(0)

	firstMemory := expectAllocation(ctrl, dev, 0, 1024)
	first, _, err := family.allocate(600, 1)
	require.NoError(t, err)
	require.Equal(t, firstMemory, first.Memory())

	second, _, err := family.allocate(400, 1)
	require.NoError(t, err)
	require.Equal(t, firstMemory, second.Memory())
	require.Equal(t, 600, second.Offset())

	secondMemory := expectAllocation(ctrl, dev, 0, 1024)
	third, _, err := family.allocate(100, 1)
	require.NoError(t, err)
	require.Equal(t, secondMemory, third.Memory())
	require.Equal(t, 0, third.Offset())
	require.Len(t, family.Allocations(), 2)

	// Space in the first slab is preferred again once it frees up
	require.NoError(t, family.free(first))
	fourth, _, err := family.allocate(500, 1)
	require.NoError(t, err)
	require.Equal(t, firstMemory, fourth.Memory())
	require.Equal(t, 0, fourth.Offset())

	require.NoError(t, family.Validate())
}

func TestFamilyOversizedGetsDedicatedAllocation(t *testing.T) {
	ctrl := gomock.NewController(t)
	dev, allocator := readyAllocator(t, ctrl, defaultSetup)

	family := allocator.familyForType(0)

	expectAllocation(ctrl, dev, 0, 1024)
	expectAllocation(ctrl, dev, 0, 1024)
	_, _, err := family.allocate(1024, 1)
	require.NoError(t, err)
	_, _, err = family.allocate(1024, 1)
	require.NoError(t, err)
	require.Len(t, family.Allocations(), 2)

	dedicatedMemory := expectAllocation(ctrl, dev, 0, 1025)
	chunk, _, err := family.allocate(1025, 1)
	require.NoError(t, err)
	require.Equal(t, dedicatedMemory, chunk.Memory())
	require.Equal(t, 1025, chunk.Size())
	require.Len(t, family.Allocations(), 2)
	require.Equal(t, 1, family.DedicatedAllocationCount())
	require.Equal(t, 3, allocator.NativeAllocationCount())
	require.NoError(t, family.Validate())

	dev.EXPECT().FreeMemory(dedicatedMemory)
	require.NoError(t, family.free(chunk))
	require.Equal(t, 0, family.DedicatedAllocationCount())
	require.Equal(t, 2, allocator.NativeAllocationCount())
}

func TestFamilyRejectsOversized(t *testing.T) {
	ctrl := gomock.NewController(t)

	setup := defaultSetup
	setup.AllocatorOptions.Flags = AllocatorCreateRejectOversized
	_, allocator := readyAllocator(t, ctrl, setup)

	family := allocator.familyForType(0)
	chunk, res, err := family.allocate(1025, 1)
	require.Nil(t, chunk)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)
	require.True(t, errors.Is(err, ErrAllocationExceedsSlab))
	require.Equal(t, 0, allocator.NativeAllocationCount())
}

func TestFamilyFreeUnownedChunk(t *testing.T) {
	ctrl := gomock.NewController(t)
	dev, allocator := readyAllocator(t, ctrl, defaultSetup)

	expectAllocation(ctrl, dev, 0, 1024)
	expectAllocation(ctrl, dev, 1, 1024)

	family := allocator.familyForType(0)
	otherFamily := allocator.familyForType(1)

	chunk, _, err := family.allocate(100, 1)
	require.NoError(t, err)
	foreign, _, err := otherFamily.allocate(100, 1)
	require.NoError(t, err)

	require.True(t, errors.Is(family.free(foreign), ErrChunkNotOwned))

	require.NoError(t, family.free(chunk))
	require.True(t, errors.Is(family.free(chunk), ErrChunkNotOwned))
}

func TestFamilyDestroyReportsUnreleasedChunks(t *testing.T) {
	ctrl := gomock.NewController(t)
	dev, allocator := readyAllocator(t, ctrl, defaultSetup)

	family := allocator.familyForType(0)

	slabMemory := expectAllocation(ctrl, dev, 0, 1024)
	dedicatedMemory := expectAllocation(ctrl, dev, 0, 2048)

	released, _, err := family.allocate(100, 1)
	require.NoError(t, err)
	_, _, err = family.allocate(100, 1)
	require.NoError(t, err)
	_, _, err = family.allocate(2048, 1)
	require.NoError(t, err)
	require.NoError(t, family.free(released))

	dev.EXPECT().FreeMemory(slabMemory)
	dev.EXPECT().FreeMemory(dedicatedMemory)

	err = family.destroy()
	require.Error(t, err)
	require.Contains(t, err.Error(), "2 chunks")
	require.Equal(t, 0, allocator.NativeAllocationCount())
}
