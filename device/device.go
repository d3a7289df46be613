// Package device describes the narrow slice of a Vulkan device that the sub-allocator depends
// upon. The vulkan package implements it over vkngwrapper, simdevice implements it in host memory.
package device

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Memory is a single native device memory allocation
type Memory interface {
	// Map maps size bytes of the allocation starting at offset into host address space. A size
	// of common.WholeSize maps from offset to the end of the allocation. The device permits only
	// one live mapping per Memory at a time.
	Map(offset, size int) (unsafe.Pointer, common.VkResult, error)
	Unmap()
}

// MappedRange is a byte range of a mapped Memory, used for flushing and invalidating
// host-visible memory that is not host-coherent
type MappedRange struct {
	Memory Memory
	Offset int
	Size   int
}

// Device is the set of device operations the allocator performs
type Device interface {
	// MemoryProperties returns the device memory type & heap table. It is queried once, when
	// an allocator is created.
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties
	// Limits returns the device limits relevant to memory allocation: MaxMemoryAllocationCount
	// and NonCoherentAtomSize
	Limits() *core1_0.PhysicalDeviceLimits

	AllocateMemory(memoryTypeIndex int, size int) (Memory, common.VkResult, error)
	FreeMemory(memory Memory)

	FlushMappedMemoryRanges(ranges []MappedRange) (common.VkResult, error)
	InvalidateMappedMemoryRanges(ranges []MappedRange) (common.VkResult, error)
}

// Resource is a buffer or image that needs backing memory
type Resource interface {
	MemoryRequirements() *core1_0.MemoryRequirements
	BindMemory(memory Memory, offset int) (common.VkResult, error)
}
