// Package simdevice is a device.Device that lives entirely in host memory. It enforces the
// device rules that the allocator has to respect: allocation count and heap size limits, a
// single live mapping per native allocation, and atom-aligned flush ranges for non-coherent
// memory.
package simdevice

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/device"
)

// Options describes the simulated hardware
type Options struct {
	MemoryTypes []core1_0.MemoryType
	MemoryHeaps []core1_0.MemoryHeap
	Limits      core1_0.PhysicalDeviceLimits

	// RefuseMapTypes is a bitmask of memory type indices whose maps fail with
	// VKErrorMemoryMapFailed even though the type is host visible
	RefuseMapTypes uint32
}

// DefaultOptions resembles a small discrete GPU: device-local memory in its own heap, and a
// host heap offering both coherent and cached non-coherent memory
func DefaultOptions() Options {
	return Options{
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
				Size:  1 << 30,
				Flags: core1_0.MemoryHeapDeviceLocal,
			},
			{
				Size: 1 << 30,
			},
		},
		Limits: core1_0.PhysicalDeviceLimits{
			MaxMemoryAllocationCount: 4096,
			NonCoherentAtomSize:      64,
			BufferImageGranularity:   1,
		},
	}
}

// Device is a simulated device. It is not safe for concurrent use.
type Device struct {
	options          Options
	memoryProperties core1_0.PhysicalDeviceMemoryProperties

	live      *swiss.Map[*Memory, struct{}]
	heapUsage []int

	allocateCount   int
	freeCount       int
	mapCount        int
	flushCount      int
	invalidateCount int
}

var _ device.Device = &Device{}

func New(options Options) (*Device, error) {
	if len(options.MemoryTypes) == 0 || len(options.MemoryTypes) > common.MaxMemoryTypes {
		return nil, errors.Newf("a simulated device must have between 1 and %d memory types, but %d were provided", common.MaxMemoryTypes, len(options.MemoryTypes))
	}
	if len(options.MemoryHeaps) == 0 || len(options.MemoryHeaps) > common.MaxMemoryHeaps {
		return nil, errors.Newf("a simulated device must have between 1 and %d memory heaps, but %d were provided", common.MaxMemoryHeaps, len(options.MemoryHeaps))
	}
	for typeIndex, memType := range options.MemoryTypes {
		if memType.HeapIndex < 0 || memType.HeapIndex >= len(options.MemoryHeaps) {
			return nil, errors.Newf("memory type %d refers to heap %d, which does not exist", typeIndex, memType.HeapIndex)
		}
	}

	return &Device{
		options: options,
		memoryProperties: core1_0.PhysicalDeviceMemoryProperties{
			MemoryTypes: options.MemoryTypes,
			MemoryHeaps: options.MemoryHeaps,
		},
		live:      swiss.NewMap[*Memory, struct{}](64),
		heapUsage: make([]int, len(options.MemoryHeaps)),
	}, nil
}

func (d *Device) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &d.memoryProperties
}

func (d *Device) Limits() *core1_0.PhysicalDeviceLimits {
	return &d.options.Limits
}

// LiveAllocationCount is the number of native allocations that have not been freed
func (d *Device) LiveAllocationCount() int { return d.live.Count() }

// AllocateCount is the number of successful AllocateMemory calls over the device's lifetime
func (d *Device) AllocateCount() int   { return d.allocateCount }
func (d *Device) FreeCount() int       { return d.freeCount }
func (d *Device) MapCount() int        { return d.mapCount }
func (d *Device) FlushCount() int      { return d.flushCount }
func (d *Device) InvalidateCount() int { return d.invalidateCount }

// HeapUsage is the number of bytes currently allocated from a heap
func (d *Device) HeapUsage(heapIndex int) int {
	return d.heapUsage[heapIndex]
}

func (d *Device) AllocateMemory(memoryTypeIndex int, size int) (device.Memory, common.VkResult, error) {
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(d.options.MemoryTypes) {
		return nil, core1_0.VKErrorUnknown, errors.Newf("memory type %d does not exist", memoryTypeIndex)
	}
	if size <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("attempted to allocate %d bytes", size)
	}

	maxCount := d.options.Limits.MaxMemoryAllocationCount
	if maxCount > 0 && d.live.Count() >= maxCount {
		return nil, core1_0.VKErrorTooManyObjects, core1_0.VKErrorTooManyObjects.ToError()
	}

	heapIndex := d.options.MemoryTypes[memoryTypeIndex].HeapIndex
	if d.heapUsage[heapIndex]+size > d.options.MemoryHeaps[heapIndex].Size {
		return nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()
	}

	data, err := hostAlloc(size)
	if err != nil {
		return nil, core1_0.VKErrorOutOfHostMemory, err
	}

	memory := &Memory{
		device:          d,
		memoryTypeIndex: memoryTypeIndex,
		heapIndex:       heapIndex,
		data:            data,
	}
	d.live.Put(memory, struct{}{})
	d.heapUsage[heapIndex] += size
	d.allocateCount++

	return memory, core1_0.VKSuccess, nil
}

// FreeMemory releases a native allocation. Freeing memory that this device did not allocate, or
// that was already freed, panics.
func (d *Device) FreeMemory(memory device.Memory) {
	simMemory := d.owned(memory)
	if simMemory == nil {
		panic(errors.Newf("attempted to free memory %v that is not a live allocation of this device", memory))
	}

	d.live.Delete(simMemory)
	d.heapUsage[simMemory.heapIndex] -= len(simMemory.data)
	d.freeCount++

	simMemory.mapped = false
	err := hostFree(simMemory.data)
	simMemory.data = nil
	if err != nil {
		panic(err)
	}
}

func (d *Device) FlushMappedMemoryRanges(ranges []device.MappedRange) (common.VkResult, error) {
	err := d.checkRanges(ranges)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	d.flushCount += len(ranges)
	return core1_0.VKSuccess, nil
}

func (d *Device) InvalidateMappedMemoryRanges(ranges []device.MappedRange) (common.VkResult, error) {
	err := d.checkRanges(ranges)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	d.invalidateCount += len(ranges)
	return core1_0.VKSuccess, nil
}

func (d *Device) checkRanges(ranges []device.MappedRange) error {
	atomSize := d.options.Limits.NonCoherentAtomSize
	if atomSize < 1 {
		atomSize = 1
	}

	for _, memRange := range ranges {
		simMemory := d.owned(memRange.Memory)
		if simMemory == nil {
			return errors.New("mapped range refers to memory that is not a live allocation of this device")
		}
		if !simMemory.mapped {
			return errors.New("mapped range refers to memory that is not currently mapped")
		}

		size := len(simMemory.data)
		if memRange.Offset < 0 || memRange.Offset%atomSize != 0 {
			return errors.Newf("range offset %d is not a multiple of the non-coherent atom size %d", memRange.Offset, atomSize)
		}
		if memRange.Size <= 0 || memRange.Offset+memRange.Size > size {
			return errors.Newf("range [%d, %d) does not fit in an allocation of size %d", memRange.Offset, memRange.Offset+memRange.Size, size)
		}
		if memRange.Size%atomSize != 0 && memRange.Offset+memRange.Size != size {
			return errors.Newf("range size %d is not a multiple of the non-coherent atom size %d and does not reach the end of the allocation", memRange.Size, atomSize)
		}
	}

	return nil
}

func (d *Device) owned(memory device.Memory) *Memory {
	simMemory, ok := memory.(*Memory)
	if !ok || simMemory == nil || simMemory.device != d {
		return nil
	}

	if _, live := d.live.Get(simMemory); !live {
		return nil
	}

	return simMemory
}
