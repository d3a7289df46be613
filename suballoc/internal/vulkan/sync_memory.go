package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/device"
)

// SynchronizedMemory wraps one native allocation and reference counts its mapping. The device
// only allows a single live mapping per allocation, so the first reference maps the whole
// allocation and every later reference shares that pointer until the last one unmaps.
type SynchronizedMemory struct {
	mapReferences int
	mapData       unsafe.Pointer

	memory device.Memory
	size   int
}

func NewSynchronizedMemory(memory device.Memory, size int) *SynchronizedMemory {
	return &SynchronizedMemory{
		memory: memory,
		size:   size,
	}
}

func (m *SynchronizedMemory) Memory() device.Memory {
	return m.memory
}

func (m *SynchronizedMemory) Size() int {
	return m.size
}

func (m *SynchronizedMemory) References() int {
	return m.mapReferences
}

func (m *SynchronizedMemory) MappedData() unsafe.Pointer {
	return m.mapData
}

func (m *SynchronizedMemory) Map(references int) (unsafe.Pointer, common.VkResult, error) {
	if references == 0 {
		return nil, core1_0.VKSuccess, nil
	}

	if m.mapReferences > 0 {
		if m.mapData == nil {
			return nil, core1_0.VKErrorUnknown, errors.New("the allocation is showing existing memory mapping references, but no mapped memory")
		}

		m.mapReferences += references
		return m.mapData, core1_0.VKSuccess, nil
	}

	mappedData, result, err := m.memory.Map(0, common.WholeSize)
	if err != nil {
		return nil, result, err
	}
	if mappedData == nil {
		return nil, core1_0.VKErrorMemoryMapFailed, core1_0.VKErrorMemoryMapFailed.ToError()
	}

	m.mapData = mappedData
	m.mapReferences = references
	return mappedData, result, nil
}

func (m *SynchronizedMemory) Unmap(references int) error {
	if m.mapReferences == 0 {
		return nil
	}

	if m.mapReferences < references {
		return errors.New("device memory allocation has more references being unmapped than are currently mapped")
	}

	m.mapReferences -= references
	if m.mapReferences <= 0 {
		m.memory.Unmap()
		m.mapData = nil
	}

	return nil
}

func (m *SynchronizedMemory) FreeMemory(dev device.Device) {
	if m.mapData != nil {
		m.memory.Unmap()
		m.mapData = nil
		m.mapReferences = 0
	}

	dev.FreeMemory(m.memory)
}
