package suballoc

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// Mapping is a scoped view of host-mapped chunk memory. It must be closed when the caller is
// done with it. Closing is idempotent, and a Mapping that outlives its MemoryHandle skips the
// unmap on Close, since the handle already dropped its mapping references when it died.
type Mapping[T any] struct {
	handle *MemoryHandle
	ptr    unsafe.Pointer
	size   int
	closed bool
}

// MapAs maps size bytes of the handle's chunk, starting at the chunk-relative offset, and views
// them as values of type T. A size of common.WholeSize maps to the end of the chunk.
//
// The native allocation is mapped once in its entirety no matter how many mappings are open
// against it. If the device refuses the map, a Mapping that is not Ok is returned along with
// the device's error.
func MapAs[T any](h *MemoryHandle, offset, size int) (*Mapping[T], common.VkResult, error) {
	h.allocator.logger.Debug("MemoryHandle::Map", slog.Int("Offset", offset), slog.Int("Size", size))

	if !h.Alive() {
		return nil, core1_0.VKErrorMemoryMapFailed, ErrHandleReleased
	}
	if !h.allocator.deviceMemory.IsMemoryTypeHostVisible(h.chunk.familyIndex) {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("memory type %d is not host visible", h.chunk.familyIndex)
	}

	chunkSize := h.chunk.size
	if size == common.WholeSize {
		size = chunkSize - offset
	}

	if offset < 0 || offset >= chunkSize {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("offset %d is outside of the chunk, which is size %d", offset, chunkSize)
	}
	if size <= 0 || offset+size > chunkSize {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("range [%d, %d) extends past the end of the chunk, which is size %d", offset, offset+size, chunkSize)
	}

	var zero T
	if elemSize := int(unsafe.Sizeof(zero)); elemSize > size {
		return nil, core1_0.VKErrorMemoryMapFailed, errors.Newf("a %d-byte range cannot hold a %d-byte value", size, elemSize)
	}

	ptr, res, err := h.chunk.memory.Map(1)
	if err != nil {
		return &Mapping[T]{handle: h, closed: true}, res, err
	}

	h.openMappings++
	return &Mapping[T]{
		handle: h,
		ptr:    unsafe.Add(ptr, h.chunk.offset+offset),
		size:   size,
	}, res, nil
}

// Ok returns true if the mapping holds a usable pointer. A mapping stops being Ok as soon as
// its MemoryHandle is released, even if it has not been closed.
func (m *Mapping[T]) Ok() bool {
	return m.ptr != nil && !m.closed && m.handle.Alive()
}

// Ptr returns the mapped memory as a pointer to T, or nil if the mapping is not Ok
func (m *Mapping[T]) Ptr() *T {
	if !m.Ok() {
		return nil
	}
	return (*T)(m.ptr)
}

// Slice returns the mapped memory as a slice of as many whole T values as fit in the range
func (m *Mapping[T]) Slice() []T {
	if !m.Ok() {
		return nil
	}

	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if elemSize == 0 {
		return nil
	}
	return unsafe.Slice((*T)(m.ptr), m.size/elemSize)
}

// Bytes returns the mapped range as a byte slice
func (m *Mapping[T]) Bytes() []byte {
	if !m.Ok() {
		return nil
	}
	return unsafe.Slice((*byte)(m.ptr), m.size)
}

func (m *Mapping[T]) Size() int { return m.size }

// Close releases the mapping. The native allocation is unmapped when its last open mapping
// closes.
func (m *Mapping[T]) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.ptr = nil

	if !m.handle.Alive() {
		m.handle.allocator.logger.Warn("mapping closed after its memory handle was released, skipping unmap",
			slog.Int("MemoryTypeIndex", m.handle.chunk.familyIndex),
			slog.Int("Offset", m.handle.chunk.offset),
		)
		return nil
	}

	m.handle.openMappings--
	return m.handle.chunk.memory.Unmap(1)
}
