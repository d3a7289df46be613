package vulkan

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/device"
)

// Memory wraps a core1_0.DeviceMemory
type Memory struct {
	memory core1_0.DeviceMemory
}

var _ device.Memory = &Memory{}

// DeviceMemory returns the underlying vkngwrapper object
func (m *Memory) DeviceMemory() core1_0.DeviceMemory {
	return m.memory
}

func (m *Memory) Map(offset, size int) (unsafe.Pointer, common.VkResult, error) {
	return m.memory.Map(offset, size, 0)
}

func (m *Memory) Unmap() {
	m.memory.Unmap()
}
