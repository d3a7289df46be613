package suballoc

import (
	"io"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/internal/mocks"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

type AllocatorSetup struct {
	MemoryTypes      []core1_0.MemoryType
	MemoryHeaps      []core1_0.MemoryHeap
	Limits           core1_0.PhysicalDeviceLimits
	AllocatorOptions CreateOptions
}

var defaultSetup = AllocatorSetup{
	MemoryTypes: []core1_0.MemoryType{
		{
			PropertyFlags: core1_0.MemoryPropertyDeviceLocal,
			HeapIndex:     0,
		},
		{
			PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
			HeapIndex:     1,
		},
		{
			PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCached,
			HeapIndex:     1,
		},
	},
	MemoryHeaps: []core1_0.MemoryHeap{
		{
			Size:  1000000,
			Flags: core1_0.MemoryHeapDeviceLocal,
		},
		{
			Size:  1000000,
			Flags: 0,
		},
	},
	Limits: core1_0.PhysicalDeviceLimits{
		NonCoherentAtomSize:      64,
		MaxMemoryAllocationCount: 16,
	},
	AllocatorOptions: CreateOptions{
		SlabSize: 1024,
	},
}

func readyAllocator(t *testing.T, ctrl *gomock.Controller, setup AllocatorSetup) (*mocks.MockDevice, *Allocator) {
	dev := mocks.NewMockDevice(ctrl)
	dev.EXPECT().MemoryProperties().Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: setup.MemoryTypes,
		MemoryHeaps: setup.MemoryHeaps,
	}).AnyTimes()
	dev.EXPECT().Limits().Return(&setup.Limits).AnyTimes()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	allocator, err := New(logger, dev, setup.AllocatorOptions)
	require.NoError(t, err)

	return dev, allocator
}

func expectAllocation(ctrl *gomock.Controller, dev *mocks.MockDevice, memoryType, size int) *mocks.MockMemory {
	memory := mocks.NewMockMemory(ctrl)
	dev.EXPECT().AllocateMemory(memoryType, size).Return(memory, core1_0.VKSuccess, nil)
	return memory
}

// expectMapOnce expects the memory to be mapped and unmapped exactly once, and returns the host
// buffer the mapping points into
func expectMapOnce(memory *mocks.MockMemory, size int) []byte {
	data := make([]byte, size)
	memory.EXPECT().Map(0, common.WholeSize).Return(unsafe.Pointer(&data[0]), core1_0.VKSuccess, nil).Times(1)
	memory.EXPECT().Unmap().Times(1)
	return data
}
