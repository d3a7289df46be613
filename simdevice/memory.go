package simdevice

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/device"
)

// Memory is a simulated native allocation
type Memory struct {
	device          *Device
	memoryTypeIndex int
	heapIndex       int
	data            []byte
	mapped          bool
}

var _ device.Memory = &Memory{}

func (m *Memory) MemoryTypeIndex() int { return m.memoryTypeIndex }
func (m *Memory) Size() int            { return len(m.data) }
func (m *Memory) IsMapped() bool       { return m.mapped }

// Map fails if the memory is already mapped, as a real device forbids mapping one allocation
// twice
func (m *Memory) Map(offset, size int) (unsafe.Pointer, common.VkResult, error) {
	if m.data == nil {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.New("attempted to map memory that has been freed")
	}

	flags := m.device.options.MemoryTypes[m.memoryTypeIndex].PropertyFlags
	if flags&core1_0.MemoryPropertyHostVisible == 0 {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("memory type %d is not host visible", m.memoryTypeIndex)
	}
	if m.device.options.RefuseMapTypes&(1<<uint(m.memoryTypeIndex)) != 0 {
		return nil, core1_0.VKErrorMemoryMapFailed, core1_0.VKErrorMemoryMapFailed.ToError()
	}
	if m.mapped {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.New("attempted to map memory that is already mapped")
	}

	if size == common.WholeSize {
		size = len(m.data) - offset
	}
	if offset < 0 || size <= 0 || offset+size > len(m.data) {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("range [%d, %d) does not fit in an allocation of size %d", offset, offset+size, len(m.data))
	}

	m.mapped = true
	m.device.mapCount++
	return unsafe.Pointer(&m.data[offset]), core1_0.VKSuccess, nil
}

// Unmap panics if the memory is not mapped
func (m *Memory) Unmap() {
	if !m.mapped {
		panic("attempted to unmap memory that is not mapped")
	}
	m.mapped = false
}

// Bytes exposes the backing store regardless of map state, for inspection in tests and tools
func (m *Memory) Bytes() []byte {
	return m.data
}
