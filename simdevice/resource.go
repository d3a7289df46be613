package simdevice

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/device"
)

// Buffer is a simulated resource that records where it was bound
type Buffer struct {
	requirements core1_0.MemoryRequirements

	boundMemory device.Memory
	boundOffset int
}

var _ device.Resource = &Buffer{}

func (d *Device) NewBuffer(requirements core1_0.MemoryRequirements) *Buffer {
	return &Buffer{requirements: requirements}
}

func (b *Buffer) MemoryRequirements() *core1_0.MemoryRequirements {
	requirements := b.requirements
	return &requirements
}

// BindMemory fails if the buffer is already bound or the buffer would not fit in memory at offset
func (b *Buffer) BindMemory(memory device.Memory, offset int) (common.VkResult, error) {
	if b.boundMemory != nil {
		return core1_0.VKErrorUnknown, errors.New("buffer is already bound")
	}

	simMemory, ok := memory.(*Memory)
	if !ok || simMemory == nil || simMemory.data == nil {
		return core1_0.VKErrorUnknown, errors.New("attempted to bind a buffer to memory that is not a live simulated allocation")
	}
	if b.requirements.MemoryTypeBits&(1<<uint(simMemory.memoryTypeIndex)) == 0 {
		return core1_0.VKErrorUnknown, errors.Newf("memory type %d is not permitted by the buffer's memory type bits %#x", simMemory.memoryTypeIndex, b.requirements.MemoryTypeBits)
	}
	if offset < 0 || offset+b.requirements.Size > len(simMemory.data) {
		return core1_0.VKErrorUnknown, errors.Newf("a %d-byte buffer at offset %d does not fit in an allocation of size %d", b.requirements.Size, offset, len(simMemory.data))
	}

	b.boundMemory = memory
	b.boundOffset = offset
	return core1_0.VKSuccess, nil
}

func (b *Buffer) BoundMemory() device.Memory { return b.boundMemory }
func (b *Buffer) BoundOffset() int           { return b.boundOffset }
