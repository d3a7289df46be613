package suballoc

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/memutils"
	"github.com/vkngwrapper/slab/suballoc/internal/vulkan"
	"golang.org/x/exp/slog"
)

// Family is the pool of allocations that share one memory type index. It grows by one slab
// whenever no existing allocation can satisfy a request, and never shrinks.
type Family struct {
	logger          *slog.Logger
	memoryTypeIndex int
	heapIndex       int
	slabSize        int
	rejectOversized bool

	deviceMemory     *vulkan.DeviceMemoryProperties
	allocations      []*Allocation
	dedicated        dedicatedAllocationList
	nextAllocationID int
}

func newFamily(
	logger *slog.Logger,
	memoryTypeIndex int,
	slabSize int,
	rejectOversized bool,
	deviceMemory *vulkan.DeviceMemoryProperties,
) *Family {
	return &Family{
		logger:          logger,
		memoryTypeIndex: memoryTypeIndex,
		heapIndex:       deviceMemory.MemoryTypeIndexToHeapIndex(memoryTypeIndex),
		slabSize:        slabSize,
		rejectOversized: rejectOversized,
		deviceMemory:    deviceMemory,
	}
}

func (f *Family) MemoryTypeIndex() int { return f.memoryTypeIndex }
func (f *Family) SlabSize() int        { return f.slabSize }

// Allocations returns the pooled allocations in creation order
func (f *Family) Allocations() []*Allocation {
	return f.allocations
}

// DedicatedAllocationCount is the number of live allocations made for oversized requests
func (f *Family) DedicatedAllocationCount() int {
	return f.dedicated.Count()
}

func (f *Family) allocate(size int, alignment uint) (*Chunk, common.VkResult, error) {
	if size <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("attempted to allocate a chunk of %d bytes", size)
	}

	if size > f.slabSize {
		return f.allocateDedicated(size)
	}

	for _, alloc := range f.allocations {
		chunk := alloc.AllocateAligned(size, alignment)
		if chunk != nil {
			f.deviceMemory.AddChunk(f.heapIndex, chunk.size)
			return chunk, core1_0.VKSuccess, nil
		}
	}

	alloc, res, err := f.createAllocation(f.slabSize, false)
	if err != nil {
		return nil, res, err
	}
	f.allocations = append(f.allocations, alloc)

	f.logger.Debug("    Created new slab",
		slog.Int("MemoryTypeIndex", f.memoryTypeIndex),
		slog.Int("AllocationID", alloc.id),
		slog.Int("SlabCount", len(f.allocations)),
	)

	chunk := alloc.AllocateAligned(size, alignment)
	if chunk == nil {
		panic("a freshly created slab could not satisfy a request no larger than the slab size")
	}

	f.deviceMemory.AddChunk(f.heapIndex, chunk.size)
	return chunk, core1_0.VKSuccess, nil
}

func (f *Family) allocateDedicated(size int) (*Chunk, common.VkResult, error) {
	if f.rejectOversized {
		return nil, core1_0.VKErrorOutOfDeviceMemory, errors.Wrapf(ErrAllocationExceedsSlab,
			"requested %d bytes from memory type %d, but the slab size is %d", size, f.memoryTypeIndex, f.slabSize)
	}

	alloc, res, err := f.createAllocation(size, true)
	if err != nil {
		return nil, res, err
	}
	f.dedicated.Register(alloc)

	f.logger.Debug("    Created dedicated allocation",
		slog.Int("MemoryTypeIndex", f.memoryTypeIndex),
		slog.Int("AllocationID", alloc.id),
		slog.Int("Size", size),
	)

	chunk := alloc.Allocate(size)
	f.deviceMemory.AddChunk(f.heapIndex, chunk.size)
	return chunk, core1_0.VKSuccess, nil
}

func (f *Family) createAllocation(size int, dedicated bool) (*Allocation, common.VkResult, error) {
	memory, res, err := f.deviceMemory.AllocateVulkanMemory(f.memoryTypeIndex, size)
	if err != nil {
		return nil, res, err
	}

	alloc := newAllocation(f.nextAllocationID, f.memoryTypeIndex, memory, size, dedicated)
	f.nextAllocationID++

	return alloc, core1_0.VKSuccess, nil
}

func (f *Family) free(chunk *Chunk) error {
	size := chunk.size

	for _, alloc := range f.allocations {
		if alloc.Free(chunk) {
			f.deviceMemory.RemoveChunk(f.heapIndex, size)
			return nil
		}
	}

	alloc := f.dedicated.find(chunk)
	if alloc != nil && alloc.Free(chunk) {
		f.deviceMemory.RemoveChunk(f.heapIndex, size)
		f.dedicated.Unregister(alloc)
		f.deviceMemory.FreeVulkanMemory(f.memoryTypeIndex, alloc.memory)
		return nil
	}

	return errors.Wrapf(ErrChunkNotOwned, "memory type %d, offset %d, size %d", f.memoryTypeIndex, chunk.offset, size)
}

func (f *Family) destroy() error {
	var unreleased int

	visitUnreleased := func(chunk *Chunk) error {
		if chunk.used {
			unreleased++
			f.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed chunk",
				slog.Int("memoryTypeIndex", f.memoryTypeIndex),
				slog.Int("offset", chunk.offset),
				slog.Int("size", chunk.size),
			)
		}
		return nil
	}

	for _, alloc := range f.allocations {
		_ = alloc.VisitChunks(visitUnreleased)
		f.deviceMemory.FreeVulkanMemory(f.memoryTypeIndex, alloc.memory)
	}
	f.allocations = nil

	for alloc := f.dedicated.allocationListHead; alloc != nil; {
		next := alloc.nextDedicated
		_ = alloc.VisitChunks(visitUnreleased)
		f.dedicated.Unregister(alloc)
		f.deviceMemory.FreeVulkanMemory(f.memoryTypeIndex, alloc.memory)
		alloc = next
	}

	if unreleased > 0 {
		return errors.Newf("%d chunks in memory type %d were not freed before the allocator was destroyed", unreleased, f.memoryTypeIndex)
	}

	return nil
}

func (f *Family) Validate() error {
	for _, alloc := range f.allocations {
		if alloc.dedicated {
			return errors.Newf("dedicated allocation %d is in the slab list", alloc.id)
		}
		if alloc.size != f.slabSize {
			return errors.Newf("slab %d has size %d, but the family's slab size is %d", alloc.id, alloc.size, f.slabSize)
		}

		err := alloc.Validate()
		if err != nil {
			return errors.Wrapf(err, "slab %d", alloc.id)
		}
	}

	return f.dedicated.Validate()
}

func (f *Family) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, alloc := range f.allocations {
		alloc.AddDetailedStatistics(stats)
	}
	f.dedicated.AddDetailedStatistics(stats)
}

func (f *Family) printDetailedMap(json *jwriter.ObjectState) {
	json.Name("SlabSize").Int(f.slabSize)

	slabs := json.Name("Slabs").Object()
	for _, alloc := range f.allocations {
		obj := slabs.Name(strconv.Itoa(alloc.id)).Object()
		alloc.printDetailedMap(&obj)
		obj.End()
	}
	slabs.End()

	dedicated := json.Name("Dedicated").Object()
	f.dedicated.printDetailedMap(&dedicated)
	dedicated.End()
}
