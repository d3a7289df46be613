package vulkan

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/device"
)

type bufferResource struct {
	buffer core1_0.Buffer
}

// Buffer adapts a core1_0.Buffer so it can be passed to Allocator.AllocateAndBind
func Buffer(buffer core1_0.Buffer) device.Resource {
	return bufferResource{buffer: buffer}
}

func (r bufferResource) MemoryRequirements() *core1_0.MemoryRequirements {
	return r.buffer.MemoryRequirements()
}

func (r bufferResource) BindMemory(memory device.Memory, offset int) (common.VkResult, error) {
	deviceMemory, err := unwrap(memory)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return r.buffer.BindBufferMemory(deviceMemory, offset)
}

type imageResource struct {
	image core1_0.Image
}

// Image adapts a core1_0.Image so it can be passed to Allocator.AllocateAndBind
func Image(image core1_0.Image) device.Resource {
	return imageResource{image: image}
}

func (r imageResource) MemoryRequirements() *core1_0.MemoryRequirements {
	return r.image.MemoryRequirements()
}

func (r imageResource) BindMemory(memory device.Memory, offset int) (common.VkResult, error) {
	deviceMemory, err := unwrap(memory)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return r.image.BindImageMemory(deviceMemory, offset)
}
