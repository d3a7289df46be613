package suballoc

import (
	"github.com/vkngwrapper/slab/device"
	"github.com/vkngwrapper/slab/suballoc/internal/vulkan"
)

// Chunk is a contiguous byte range inside one Allocation. Chunks are compared by identity.
type Chunk struct {
	familyIndex int
	memory      *vulkan.SynchronizedMemory

	offset int
	size   int
	used   bool

	prev *Chunk
	next *Chunk
}

func (c *Chunk) MemoryTypeIndex() int  { return c.familyIndex }
func (c *Chunk) Memory() device.Memory { return c.memory.Memory() }
func (c *Chunk) Offset() int           { return c.offset }
func (c *Chunk) Size() int             { return c.size }
func (c *Chunk) IsUsed() bool          { return c.used }
