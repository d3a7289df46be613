package vulkan

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/device"
	"github.com/vkngwrapper/slab/memutils"
)

type MemoryCallbacks interface {
	Allocate(memoryType int, memory device.Memory, size int)
	Free(memoryType int, memory device.Memory, size int)
}

// DeviceMemoryProperties owns the memory type table, queried once from the device, and keeps
// per-heap accounting of the native allocations made through it
type DeviceMemoryProperties struct {
	// Number of native allocations that have been made from device memory
	allocationCount [common.MaxMemoryHeaps]int
	// Size of native allocations that have been made from device memory
	allocationBytes [common.MaxMemoryHeaps]int
	// Number of chunks that have been handed out from native allocations
	chunkCount [common.MaxMemoryHeaps]int
	// Size of chunks that have been handed out from native allocations
	chunkBytes [common.MaxMemoryHeaps]int

	memoryCount     int
	memoryCallbacks MemoryCallbacks
	heapLimits      []int

	device           device.Device
	limits           *core1_0.PhysicalDeviceLimits
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
}

func NewDeviceMemoryProperties(
	memoryCallbacks MemoryCallbacks,
	dev device.Device,
	heapSizeLimits []int,
) (*DeviceMemoryProperties, error) {
	if dev == nil {
		return nil, errors.New("attempted to create device memory properties for a nil device")
	}

	deviceProperties := &DeviceMemoryProperties{
		memoryCallbacks: memoryCallbacks,
		device:          dev,
	}

	deviceProperties.memoryProperties = dev.MemoryProperties()
	if deviceProperties.memoryProperties == nil {
		return nil, errors.New("the device did not return a memory properties table")
	}

	deviceProperties.limits = dev.Limits()
	if deviceProperties.limits == nil {
		deviceProperties.limits = &core1_0.PhysicalDeviceLimits{}
	}

	if deviceProperties.limits.NonCoherentAtomSize > 0 {
		err := memutils.CheckPow2(deviceProperties.limits.NonCoherentAtomSize, "device nonCoherentAtomSize")
		if err != nil {
			return nil, err
		}
	}

	typeCount := deviceProperties.MemoryTypeCount()
	if typeCount == 0 || typeCount > common.MaxMemoryTypes {
		return nil, errors.Newf("the device reported %d memory types, which is not between 1 and %d", typeCount, common.MaxMemoryTypes)
	}

	heapCount := deviceProperties.MemoryHeapCount()
	if heapCount > common.MaxMemoryHeaps {
		return nil, errors.Newf("the device reported %d memory heaps, which is more than %d", heapCount, common.MaxMemoryHeaps)
	}

	for typeIndex := 0; typeIndex < typeCount; typeIndex++ {
		heapIndex := deviceProperties.MemoryTypeIndexToHeapIndex(typeIndex)
		if heapIndex < 0 || heapIndex >= heapCount {
			return nil, errors.Newf("memory type %d refers to heap %d, but the device has %d heaps", typeIndex, heapIndex, heapCount)
		}
	}

	if len(heapSizeLimits) > 0 && len(heapSizeLimits) != heapCount {
		return nil, errors.New("suballoc.CreateOptions.HeapSizeLimits was provided, but the length does not equal the number of device heaps")
	}
	deviceProperties.heapLimits = heapSizeLimits

	return deviceProperties, nil
}

func (m *DeviceMemoryProperties) MemoryTypeCount() int {
	return len(m.memoryProperties.MemoryTypes)
}

func (m *DeviceMemoryProperties) MemoryHeapCount() int {
	return len(m.memoryProperties.MemoryHeaps)
}

func (m *DeviceMemoryProperties) MemoryTypeIndexToHeapIndex(memTypeIndex int) int {
	return m.memoryProperties.MemoryTypes[memTypeIndex].HeapIndex
}

func (m *DeviceMemoryProperties) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex]
}

func (m *DeviceMemoryProperties) MemoryHeapProperties(heapIndex int) core1_0.MemoryHeap {
	return m.memoryProperties.MemoryHeaps[heapIndex]
}

func (m *DeviceMemoryProperties) Limits() *core1_0.PhysicalDeviceLimits {
	return m.limits
}

func (m *DeviceMemoryProperties) NonCoherentAtomSize() uint {
	if m.limits.NonCoherentAtomSize < 1 {
		return 1
	}
	return uint(m.limits.NonCoherentAtomSize)
}

func (m *DeviceMemoryProperties) IsMemoryTypeHostVisible(memoryTypeIndex int) bool {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags&core1_0.MemoryPropertyHostVisible != 0
}

func (m *DeviceMemoryProperties) IsMemoryTypeHostNonCoherent(memoryTypeIndex int) bool {
	flags := m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags

	return flags&(core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent) == core1_0.MemoryPropertyHostVisible
}

// MemoryTypeMinimumAlignment is the alignment every chunk size in the memory type is rounded to.
// Non-coherent memory is flushed in atoms, so chunks never share one.
func (m *DeviceMemoryProperties) MemoryTypeMinimumAlignment(memTypeIndex int) uint {
	if m.IsMemoryTypeHostNonCoherent(memTypeIndex) {
		return m.NonCoherentAtomSize()
	}

	return 1
}

func (m *DeviceMemoryProperties) heapLimit(heapIndex int) int {
	heapSize := m.memoryProperties.MemoryHeaps[heapIndex].Size
	if len(m.heapLimits) == 0 {
		return heapSize
	}

	limit := m.heapLimits[heapIndex]
	if limit <= 0 || (heapSize > 0 && limit > heapSize) {
		return heapSize
	}
	return limit
}

func (m *DeviceMemoryProperties) addAllocation(heapIndex, allocationSize int) (common.VkResult, error) {
	maxAllocatable := m.heapLimit(heapIndex)
	if maxAllocatable > 0 && m.allocationBytes[heapIndex]+allocationSize > maxAllocatable {
		return core1_0.VKErrorOutOfDeviceMemory, errors.Wrapf(core1_0.VKErrorOutOfDeviceMemory.ToError(),
			"allocating %d bytes would exceed the %d byte limit of heap %d", allocationSize, maxAllocatable, heapIndex)
	}

	m.allocationBytes[heapIndex] += allocationSize
	m.allocationCount[heapIndex]++
	return core1_0.VKSuccess, nil
}

func (m *DeviceMemoryProperties) removeAllocation(heapIndex, allocationSize int) {
	m.allocationBytes[heapIndex] -= allocationSize
	if m.allocationBytes[heapIndex] < 0 {
		panic(fmt.Sprintf("allocation bytes for heapIndex %d went negative", heapIndex))
	}

	m.allocationCount[heapIndex]--
	if m.allocationCount[heapIndex] < 0 {
		panic(fmt.Sprintf("allocation count for heapIndex %d went negative", heapIndex))
	}
}

// AllocateVulkanMemory creates a new native allocation, enforcing the device's allocation count
// limit and any heap size limits
func (m *DeviceMemoryProperties) AllocateVulkanMemory(memoryTypeIndex int, size int) (mem *SynchronizedMemory, res common.VkResult, err error) {
	if memoryTypeIndex < 0 || memoryTypeIndex >= m.MemoryTypeCount() {
		return nil, core1_0.VKErrorUnknown, errors.Newf("attempted to allocate from unsupported memory type index %d", memoryTypeIndex)
	}
	if size <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("attempted to allocate %d bytes of device memory", size)
	}

	if m.limits.MaxMemoryAllocationCount > 0 && m.memoryCount+1 > m.limits.MaxMemoryAllocationCount {
		return nil, core1_0.VKErrorTooManyObjects, errors.Wrapf(core1_0.VKErrorTooManyObjects.ToError(),
			"the device permits at most %d live memory allocations", m.limits.MaxMemoryAllocationCount)
	}

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryTypeIndex)
	res, err = m.addAllocation(heapIndex, size)
	if err != nil {
		return nil, res, err
	}
	defer func() {
		// If we failed out, roll back the accounting
		if err != nil {
			m.removeAllocation(heapIndex, size)
		}
	}()

	memory, res, err := m.device.AllocateMemory(memoryTypeIndex, size)
	if err != nil {
		return nil, res, err
	}
	if memory == nil {
		return nil, core1_0.VKErrorOutOfDeviceMemory, errors.Newf("the device returned no memory for a %d byte allocation", size)
	}

	m.memoryCount++

	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Allocate(memoryTypeIndex, memory, size)
	}

	return NewSynchronizedMemory(memory, size), res, nil
}

func (m *DeviceMemoryProperties) FreeVulkanMemory(memoryType int, memory *SynchronizedMemory) {
	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Free(memoryType, memory.Memory(), memory.Size())
	}

	memory.FreeMemory(m.device)

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryType)
	m.removeAllocation(heapIndex, memory.Size())
	m.memoryCount--
}

func (m *DeviceMemoryProperties) AddChunk(heapIndex int, size int) {
	m.chunkBytes[heapIndex] += size
	m.chunkCount[heapIndex]++
}

func (m *DeviceMemoryProperties) RemoveChunk(heapIndex int, size int) {
	m.chunkBytes[heapIndex] -= size
	if m.chunkBytes[heapIndex] < 0 {
		panic(fmt.Sprintf("chunk bytes for heapIndex %d went negative", heapIndex))
	}

	m.chunkCount[heapIndex]--
	if m.chunkCount[heapIndex] < 0 {
		panic(fmt.Sprintf("chunk count for heapIndex %d went negative", heapIndex))
	}
}

// HeapStatistics reports the accounting for a single heap
func (m *DeviceMemoryProperties) HeapStatistics(heapIndex int) memutils.Statistics {
	return memutils.Statistics{
		AllocationCount: m.allocationCount[heapIndex],
		ChunkCount:      m.chunkCount[heapIndex],
		AllocationBytes: m.allocationBytes[heapIndex],
		ChunkBytes:      m.chunkBytes[heapIndex],
	}
}

// AllocationCount is the number of live native allocations
func (m *DeviceMemoryProperties) AllocationCount() int {
	return m.memoryCount
}

type CacheOperation uint32

const (
	CacheOperationFlush CacheOperation = iota
	CacheOperationInvalidate
)

var cacheOperationMapping = make(map[CacheOperation]string)

func (o CacheOperation) String() string {
	return cacheOperationMapping[o]
}

func init() {
	cacheOperationMapping[CacheOperationFlush] = "CacheOperationFlush"
	cacheOperationMapping[CacheOperationInvalidate] = "CacheOperationInvalidate"
}

func (m *DeviceMemoryProperties) FlushOrInvalidate(memRanges []device.MappedRange, operation CacheOperation) (common.VkResult, error) {
	if len(memRanges) == 0 {
		return core1_0.VKSuccess, nil
	}

	switch operation {
	case CacheOperationFlush:
		return m.device.FlushMappedMemoryRanges(memRanges)
	case CacheOperationInvalidate:
		return m.device.InvalidateMappedMemoryRanges(memRanges)
	}

	return core1_0.VKErrorUnknown, errors.Newf("attempted to carry out invalid cache operation %s", operation.String())
}
