package suballoc

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/slab/memutils"
	"github.com/vkngwrapper/slab/suballoc/internal/vulkan"
)

// Allocation is one native device memory allocation, split into an ordered list of chunks.
// Chunks are kept in ascending offset order, are contiguous, and always cover the entire
// allocation.
type Allocation struct {
	id          int
	familyIndex int
	memory      *vulkan.SynchronizedMemory
	size        int
	dedicated   bool

	head       *Chunk
	tail       *Chunk
	chunkCount int

	prevDedicated *Allocation
	nextDedicated *Allocation
}

func newAllocation(id, familyIndex int, memory *vulkan.SynchronizedMemory, size int, dedicated bool) *Allocation {
	alloc := &Allocation{
		id:          id,
		familyIndex: familyIndex,
		memory:      memory,
		size:        size,
		dedicated:   dedicated,
	}

	chunk := &Chunk{
		familyIndex: familyIndex,
		memory:      memory,
		offset:      0,
		size:        size,
	}
	alloc.head = chunk
	alloc.tail = chunk
	alloc.chunkCount = 1

	return alloc
}

func (a *Allocation) ID() int              { return a.id }
func (a *Allocation) MemoryTypeIndex() int { return a.familyIndex }
func (a *Allocation) Size() int            { return a.size }
func (a *Allocation) IsDedicated() bool    { return a.dedicated }
func (a *Allocation) ChunkCount() int      { return a.chunkCount }

// IsEmpty returns true if no chunk in the allocation is in use
func (a *Allocation) IsEmpty() bool {
	return a.chunkCount == 1 && !a.head.used
}

// Allocate finds the first free chunk that can hold requiredSize bytes. A larger chunk is
// split, and the original chunk object is returned resized to requiredSize, followed by a new
// free chunk holding the remainder. Returns nil if no free chunk is large enough.
func (a *Allocation) Allocate(requiredSize int) *Chunk {
	return a.AllocateAligned(requiredSize, 1)
}

// AllocateAligned is Allocate for a chunk whose offset must be a multiple of alignment. When
// the first fitting free chunk does not start on that boundary, the bytes in front of the
// boundary are split off and stay free.
func (a *Allocation) AllocateAligned(requiredSize int, alignment uint) *Chunk {
	if requiredSize <= 0 {
		return nil
	}

	for chunk := a.head; chunk != nil; chunk = chunk.next {
		if chunk.used {
			continue
		}

		padding := memutils.AlignUp(chunk.offset, alignment) - chunk.offset
		if chunk.size < padding+requiredSize {
			continue
		}

		if padding > 0 {
			// The previous chunk is used or absent, so the padding never lands next to a free chunk
			leading := &Chunk{
				familyIndex: a.familyIndex,
				memory:      a.memory,
				offset:      chunk.offset,
				size:        padding,
			}
			chunk.offset += padding
			chunk.size -= padding
			a.insertBefore(chunk, leading)
		}

		if chunk.size > requiredSize {
			remainder := &Chunk{
				familyIndex: a.familyIndex,
				memory:      a.memory,
				offset:      chunk.offset + requiredSize,
				size:        chunk.size - requiredSize,
			}
			chunk.size = requiredSize
			a.insertAfter(chunk, remainder)
		}

		chunk.used = true
		memutils.DebugValidate(a)
		return chunk
	}

	return nil
}

// Free returns a used chunk to the allocation and merges it with any free neighbors. When two
// chunks merge, the one with the lower offset survives. Returns false if the chunk is not a
// used chunk of this allocation.
func (a *Allocation) Free(chunk *Chunk) bool {
	if chunk == nil || chunk.memory != a.memory {
		return false
	}

	var found bool
	for iter := a.head; iter != nil; iter = iter.next {
		if iter == chunk {
			found = true
			break
		}
	}
	if !found || !chunk.used {
		return false
	}

	chunk.used = false

	if next := chunk.next; next != nil && !next.used {
		chunk.size += next.size
		a.remove(next)
	}

	if prev := chunk.prev; prev != nil && !prev.used {
		prev.size += chunk.size
		a.remove(chunk)
	}

	memutils.DebugValidate(a)
	return true
}

func (a *Allocation) insertAfter(chunk, newChunk *Chunk) {
	newChunk.prev = chunk
	newChunk.next = chunk.next

	if chunk.next != nil {
		chunk.next.prev = newChunk
	} else {
		a.tail = newChunk
	}
	chunk.next = newChunk

	a.chunkCount++
}

func (a *Allocation) insertBefore(chunk, newChunk *Chunk) {
	newChunk.next = chunk
	newChunk.prev = chunk.prev

	if chunk.prev != nil {
		chunk.prev.next = newChunk
	} else {
		a.head = newChunk
	}
	chunk.prev = newChunk

	a.chunkCount++
}

func (a *Allocation) remove(chunk *Chunk) {
	if chunk.prev != nil {
		chunk.prev.next = chunk.next
	} else {
		a.head = chunk.next
	}

	if chunk.next != nil {
		chunk.next.prev = chunk.prev
	} else {
		a.tail = chunk.prev
	}

	chunk.prev = nil
	chunk.next = nil
	a.chunkCount--
}

// VisitChunks calls the provided function for every chunk in offset order, stopping at the
// first error
func (a *Allocation) VisitChunks(visit func(chunk *Chunk) error) error {
	for chunk := a.head; chunk != nil; chunk = chunk.next {
		err := visit(chunk)
		if err != nil {
			return err
		}
	}

	return nil
}

func (a *Allocation) Validate() error {
	if a.memory == nil {
		return errors.New("no valid memory for this allocation")
	}
	if a.size < 1 {
		return errors.Newf("allocation has an invalid size %d", a.size)
	}
	if a.head == nil || a.head.prev != nil {
		return errors.New("allocation chunk list has an invalid head")
	}

	expectedOffset := 0
	actualCount := 0
	var prev *Chunk

	for chunk := a.head; chunk != nil; chunk = chunk.next {
		actualCount++

		if chunk.prev != prev {
			return errors.Newf("chunk at offset %d has a broken back link", chunk.offset)
		}
		if chunk.memory != a.memory {
			return errors.Newf("chunk at offset %d refers to a different native allocation", chunk.offset)
		}
		if chunk.familyIndex != a.familyIndex {
			return errors.Newf("chunk at offset %d has family %d but the allocation has family %d", chunk.offset, chunk.familyIndex, a.familyIndex)
		}
		if chunk.size < 1 {
			return errors.Newf("chunk at offset %d has an invalid size %d", chunk.offset, chunk.size)
		}
		if chunk.offset != expectedOffset {
			return errors.Newf("chunk at offset %d should be at offset %d", chunk.offset, expectedOffset)
		}
		if prev != nil && !prev.used && !chunk.used {
			return errors.Newf("adjacent free chunks at offsets %d and %d were not merged", prev.offset, chunk.offset)
		}

		expectedOffset += chunk.size
		prev = chunk
	}

	if prev != a.tail {
		return errors.New("allocation chunk list has an invalid tail")
	}
	if expectedOffset != a.size {
		return errors.Newf("chunks cover %d bytes, but the allocation is %d bytes", expectedOffset, a.size)
	}
	if actualCount != a.chunkCount {
		return errors.Newf("the listed number of chunks (%d) does not match the actual number of chunks (%d)", a.chunkCount, actualCount)
	}

	return nil
}

func (a *Allocation) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.AddSlab(a.size, a.IsDedicated())

	for chunk := a.head; chunk != nil; chunk = chunk.next {
		if chunk.used {
			stats.AddChunk(chunk.size)
		} else {
			stats.AddFreeChunk(chunk.size)
		}
	}
}

func (a *Allocation) printDetailedMap(json *jwriter.ObjectState) {
	json.Name("ID").Int(a.ID())
	json.Name("Size").Int(a.size)
	json.Name("Dedicated").Bool(a.IsDedicated())
	json.Name("MapReferences").Int(a.memory.References())

	chunks := json.Name("Chunks").Array()
	defer chunks.End()

	for chunk := a.head; chunk != nil; chunk = chunk.next {
		obj := chunks.Object()
		obj.Name("Offset").Int(chunk.offset)
		obj.Name("Size").Int(chunk.size)
		obj.Name("Used").Bool(chunk.used)
		obj.End()
	}
}
