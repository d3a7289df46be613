package suballoc

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/device"
	"github.com/vkngwrapper/slab/memutils"
	"github.com/vkngwrapper/slab/suballoc/internal/vulkan"
	"golang.org/x/exp/slog"
)

// MemoryHandle is a reference-counted claim on a single Chunk. The chunk is returned to its
// Allocation when the last reference is released. A handle whose references have reached zero
// is dead and can never be revived.
type MemoryHandle struct {
	allocator *Allocator
	chunk     *Chunk

	references   int
	openMappings int
}

func newMemoryHandle(allocator *Allocator, chunk *Chunk) *MemoryHandle {
	return &MemoryHandle{
		allocator:  allocator,
		chunk:      chunk,
		references: 1,
	}
}

// Alive returns true until the last reference has been released
func (h *MemoryHandle) Alive() bool {
	return h.references > 0
}

func (h *MemoryHandle) Memory() device.Memory { return h.chunk.Memory() }
func (h *MemoryHandle) Offset() int           { return h.chunk.offset }
func (h *MemoryHandle) Size() int             { return h.chunk.size }
func (h *MemoryHandle) MemoryTypeIndex() int  { return h.chunk.familyIndex }

// Retain adds a reference to the handle and returns it. Retaining a dead handle panics.
func (h *MemoryHandle) Retain() *MemoryHandle {
	if h.references <= 0 {
		panic("attempted to retain a memory handle that has already been released")
	}

	h.references++
	return h
}

// Release drops one reference. When the last reference is dropped, any mappings still open
// through this handle are unmapped and the chunk is freed. Errors from the unmap and the free
// are both returned to the caller.
func (h *MemoryHandle) Release() error {
	if h.references <= 0 {
		return errors.Wrapf(ErrHandleReleased, "memory type %d, offset %d", h.chunk.familyIndex, h.chunk.offset)
	}

	h.references--
	if h.references > 0 {
		return nil
	}

	var unmapErr error
	if h.openMappings > 0 {
		h.allocator.logger.Warn("memory handle released with open mappings",
			slog.Int("MemoryTypeIndex", h.chunk.familyIndex),
			slog.Int("Offset", h.chunk.offset),
			slog.Int("OpenMappings", h.openMappings),
		)

		unmapErr = h.chunk.memory.Unmap(h.openMappings)
		h.openMappings = 0
	}

	// The handle is dead whether or not the unmap succeeded, so the chunk must go back now
	return errors.CombineErrors(unmapErr, h.allocator.free(h.chunk))
}

// Map maps size bytes of the chunk starting at offset, which is relative to the start of the
// chunk. A size of common.WholeSize maps to the end of the chunk.
func (h *MemoryHandle) Map(offset, size int) (*Mapping[byte], common.VkResult, error) {
	return MapAs[byte](h, offset, size)
}

// Flush flushes host writes in the given chunk-relative range to the device. It does nothing
// for host-coherent memory.
func (h *MemoryHandle) Flush(offset, size int) (common.VkResult, error) {
	h.allocator.logger.Debug("MemoryHandle::Flush")

	return h.flushOrInvalidate(offset, size, vulkan.CacheOperationFlush)
}

// Invalidate makes device writes in the given chunk-relative range visible to the host. It does
// nothing for host-coherent memory.
func (h *MemoryHandle) Invalidate(offset, size int) (common.VkResult, error) {
	h.allocator.logger.Debug("MemoryHandle::Invalidate")

	return h.flushOrInvalidate(offset, size, vulkan.CacheOperationInvalidate)
}

func (h *MemoryHandle) flushOrInvalidate(offset, size int, operation vulkan.CacheOperation) (common.VkResult, error) {
	if !h.Alive() {
		return core1_0.VKErrorUnknown, ErrHandleReleased
	}

	memRange, ok, err := h.cacheRange(offset, size)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	} else if !ok {
		return core1_0.VKSuccess, nil
	}

	return h.allocator.deviceMemory.FlushOrInvalidate([]device.MappedRange{memRange}, operation)
}

func (h *MemoryHandle) cacheRange(offset, size int) (device.MappedRange, bool, error) {
	deviceMemory := h.allocator.deviceMemory

	if size == 0 || !deviceMemory.IsMemoryTypeHostNonCoherent(h.chunk.familyIndex) {
		return device.MappedRange{}, false, nil
	}

	chunkSize := h.chunk.size
	if size == common.WholeSize {
		size = chunkSize - offset
	}

	if offset < 0 || offset > chunkSize {
		return device.MappedRange{}, false, errors.Newf("offset %d is outside of the chunk, which is size %d", offset, chunkSize)
	}
	if size < 0 || offset+size > chunkSize {
		return device.MappedRange{}, false, errors.Newf("range [%d, %d) extends past the end of the chunk, which is size %d", offset, offset+size, chunkSize)
	}
	if size == 0 {
		return device.MappedRange{}, false, nil
	}

	atomSize := deviceMemory.NonCoherentAtomSize()
	if h.chunk.offset%int(atomSize) != 0 {
		panic("a chunk of non-coherent memory is not aligned to the non-coherent atom size")
	}

	alignedOffset := memutils.AlignDown(offset, atomSize)
	alignedSize := memutils.AlignUp(size+(offset-alignedOffset), atomSize)
	if alignedOffset+alignedSize > chunkSize {
		alignedSize = chunkSize - alignedOffset
	}

	return device.MappedRange{
		Memory: h.chunk.Memory(),
		Offset: h.chunk.offset + alignedOffset,
		Size:   alignedSize,
	}, true, nil
}
