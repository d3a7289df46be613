package suballoc

import "github.com/cockroachdb/errors"

var (
	// ErrNoMatchingMemoryType is returned when no device memory type satisfies both the resource's
	// memory type bits and the requested property flags. Retrying cannot succeed.
	ErrNoMatchingMemoryType = errors.New("no matching memory type")
	// ErrChunkNotOwned is returned when a chunk is freed that no allocation in its family owns,
	// which indicates a double free or a chunk from another allocator
	ErrChunkNotOwned = errors.New("chunk is not owned by this allocator")
	// ErrAllocationExceedsSlab is returned for requests larger than the slab size when the
	// allocator was created with AllocatorCreateRejectOversized
	ErrAllocationExceedsSlab = errors.New("allocation exceeds slab size")
	// ErrHandleReleased is returned when a MemoryHandle is used after its last reference was released
	ErrHandleReleased = errors.New("memory handle has already been released")
)
