package simdevice

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/device"
)

func TestNewRejectsBadTables(t *testing.T) {
	testCases := map[string]Options{
		"NoTypes": {
			MemoryHeaps: []core1_0.MemoryHeap{{Size: 1024}},
		},
		"NoHeaps": {
			MemoryTypes: []core1_0.MemoryType{{HeapIndex: 0}},
		},
		"BadHeapIndex": {
			MemoryTypes: []core1_0.MemoryType{{HeapIndex: 1}},
			MemoryHeaps: []core1_0.MemoryHeap{{Size: 1024}},
		},
	}

	for name, options := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := New(options)
			require.Error(t, err)
		})
	}
}

func TestAllocateWriteAndFree(t *testing.T) {
	dev, err := New(DefaultOptions())
	require.NoError(t, err)

	memory, res, err := dev.AllocateMemory(1, 4096)
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	require.Equal(t, 1, dev.LiveAllocationCount())
	require.Equal(t, 4096, dev.HeapUsage(1))

	ptr, _, err := memory.Map(0, common.WholeSize)
	require.NoError(t, err)
	*(*byte)(ptr) = 0x7f
	require.Equal(t, byte(0x7f), memory.(*Memory).Bytes()[0])
	memory.Unmap()

	dev.FreeMemory(memory)
	require.Equal(t, 0, dev.LiveAllocationCount())
	require.Equal(t, 0, dev.HeapUsage(1))
	require.Equal(t, 1, dev.FreeCount())

	require.Panics(t, func() {
		dev.FreeMemory(memory)
	})
}

func TestSingleMappingPerAllocation(t *testing.T) {
	dev, err := New(DefaultOptions())
	require.NoError(t, err)

	memory, _, err := dev.AllocateMemory(1, 4096)
	require.NoError(t, err)

	_, _, err = memory.Map(0, common.WholeSize)
	require.NoError(t, err)

	_, res, err := memory.Map(0, common.WholeSize)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorMemoryMapFailed, res)

	memory.Unmap()
	require.Panics(t, func() {
		memory.Unmap()
	})
}

func TestMapRules(t *testing.T) {
	options := DefaultOptions()
	options.RefuseMapTypes = 1 << 2
	dev, err := New(options)
	require.NoError(t, err)

	testCases := map[string]struct {
		MemoryType int
		Offset     int
		Size       int
	}{
		"DeviceLocal":  {MemoryType: 0, Offset: 0, Size: common.WholeSize},
		"Refused":      {MemoryType: 2, Offset: 0, Size: common.WholeSize},
		"OutOfBounds":  {MemoryType: 1, Offset: 1024, Size: 4096},
		"NegativeSize": {MemoryType: 1, Offset: 0, Size: -5},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			memory, _, err := dev.AllocateMemory(testCase.MemoryType, 4096)
			require.NoError(t, err)
			defer dev.FreeMemory(memory)

			ptr, res, err := memory.Map(testCase.Offset, testCase.Size)
			require.Error(t, err)
			require.Nil(t, ptr)
			require.Equal(t, core1_0.VKErrorMemoryMapFailed, res)
		})
	}
}

func TestAllocationLimits(t *testing.T) {
	options := DefaultOptions()
	options.Limits.MaxMemoryAllocationCount = 2
	options.MemoryHeaps[0].Size = 10000
	dev, err := New(options)
	require.NoError(t, err)

	_, res, err := dev.AllocateMemory(0, 20000)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, res)

	_, _, err = dev.AllocateMemory(0, 4000)
	require.NoError(t, err)
	_, _, err = dev.AllocateMemory(0, 4000)
	require.NoError(t, err)

	_, res, err = dev.AllocateMemory(1, 4000)
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorTooManyObjects, res)
}

func TestFlushRangesMustBeAtomAligned(t *testing.T) {
	dev, err := New(DefaultOptions())
	require.NoError(t, err)

	memory, _, err := dev.AllocateMemory(2, 1024)
	require.NoError(t, err)

	_, err = dev.FlushMappedMemoryRanges([]device.MappedRange{{Memory: memory, Offset: 0, Size: 64}})
	require.Error(t, err, "memory must be mapped to be flushed")

	_, _, err = memory.Map(0, common.WholeSize)
	require.NoError(t, err)

	testCases := map[string]struct {
		Offset  int
		Size    int
		Success bool
	}{
		"Aligned":        {Offset: 64, Size: 128, Success: true},
		"ReachesEnd":     {Offset: 960, Size: 64, Success: true},
		"OffsetMisalign": {Offset: 32, Size: 64, Success: false},
		"SizeMisalign":   {Offset: 0, Size: 100, Success: false},
		"PastEnd":        {Offset: 960, Size: 128, Success: false},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := dev.InvalidateMappedMemoryRanges([]device.MappedRange{{Memory: memory, Offset: testCase.Offset, Size: testCase.Size}})
			if testCase.Success {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestBufferBinding(t *testing.T) {
	dev, err := New(DefaultOptions())
	require.NoError(t, err)

	memory, _, err := dev.AllocateMemory(0, 1024)
	require.NoError(t, err)

	buffer := dev.NewBuffer(core1_0.MemoryRequirements{Size: 256, Alignment: 16, MemoryTypeBits: 1})

	_, err = buffer.BindMemory(memory, 900)
	require.Error(t, err)

	_, err = buffer.BindMemory(memory, 768)
	require.NoError(t, err)
	require.Equal(t, memory, buffer.BoundMemory())
	require.Equal(t, 768, buffer.BoundOffset())

	_, err = buffer.BindMemory(memory, 0)
	require.Error(t, err)

	hostMemory, _, err := dev.AllocateMemory(1, 1024)
	require.NoError(t, err)
	_, err = dev.NewBuffer(core1_0.MemoryRequirements{Size: 16, MemoryTypeBits: 1}).BindMemory(hostMemory, 0)
	require.Error(t, err)
}
