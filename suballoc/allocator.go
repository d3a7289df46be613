package suballoc

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/device"
	"github.com/vkngwrapper/slab/memutils"
	"github.com/vkngwrapper/slab/suballoc/internal/vulkan"
	"golang.org/x/exp/slog"
)

// Allocator hands out chunks of device memory from fixed-size slabs, one Family of slabs per
// memory type. It is not safe for concurrent use.
type Allocator struct {
	logger      *slog.Logger
	device      device.Device
	createFlags CreateFlags
	slabSize    int

	deviceMemory *vulkan.DeviceMemoryProperties
	families     *swiss.Map[int, *Family]
	familyOrder  []int
}

// TotalStatistics breaks down the allocator's memory by memory type and by heap
type TotalStatistics struct {
	MemoryTypes []memutils.DetailedStatistics
	MemoryHeaps []memutils.DetailedStatistics
	Total       memutils.DetailedStatistics
}

// SlabSize is the size of every pooled native allocation. It never changes.
func (a *Allocator) SlabSize() int {
	return a.slabSize
}

func (a *Allocator) MemoryTypeCount() int {
	return a.deviceMemory.MemoryTypeCount()
}

// MemoryTypeProperties returns the cached description of a single memory type
func (a *Allocator) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return a.deviceMemory.MemoryTypeProperties(memoryTypeIndex)
}

// NativeAllocationCount is the number of device memory objects currently held by the allocator
func (a *Allocator) NativeAllocationCount() int {
	return a.deviceMemory.AllocationCount()
}

// Family returns the family for a memory type, if any request has created it yet
func (a *Allocator) Family(memoryTypeIndex int) (*Family, bool) {
	return a.families.Get(memoryTypeIndex)
}

// FindMemoryTypeIndex returns the lowest memory type index that is permitted by
// requirements.MemoryTypeBits and whose property flags include every bit in flags.
//
// If no type qualifies, ErrNoMatchingMemoryType is returned alongside
// core1_0.VKErrorFeatureNotPresent. The memory type table cannot change, so the caller should
// not retry.
func (a *Allocator) FindMemoryTypeIndex(
	requirements *core1_0.MemoryRequirements,
	flags core1_0.MemoryPropertyFlags,
) (int, common.VkResult, error) {
	a.logger.Debug("Allocator::FindMemoryTypeIndex")

	if requirements == nil {
		return -1, core1_0.VKErrorUnknown, errors.New("attempted to find a memory type with nil memory requirements")
	}

	for memTypeIndex := 0; memTypeIndex < a.deviceMemory.MemoryTypeCount(); memTypeIndex++ {
		memTypeBit := uint32(1 << memTypeIndex)
		if requirements.MemoryTypeBits&memTypeBit == 0 {
			continue
		}

		propertyFlags := a.deviceMemory.MemoryTypeProperties(memTypeIndex).PropertyFlags
		if propertyFlags&flags == flags {
			return memTypeIndex, core1_0.VKSuccess, nil
		}
	}

	return -1, core1_0.VKErrorFeatureNotPresent, errors.Wrapf(ErrNoMatchingMemoryType,
		"memory type bits %#x, property flags %s", requirements.MemoryTypeBits, flags)
}

// Allocate reserves requirements.Size bytes from the first memory type that matches
// requirements and flags. The returned handle holds one reference.
func (a *Allocator) Allocate(
	requirements *core1_0.MemoryRequirements,
	flags core1_0.MemoryPropertyFlags,
) (*MemoryHandle, common.VkResult, error) {
	a.logger.Debug("Allocator::Allocate")

	if requirements == nil {
		return nil, core1_0.VKErrorUnknown, errors.New("attempted to allocate with nil memory requirements")
	}

	return a.allocate(requirements, flags, requirements.Size)
}

// AllocateWithSize behaves like Allocate, but reserves size bytes instead of requirements.Size
func (a *Allocator) AllocateWithSize(
	requirements *core1_0.MemoryRequirements,
	flags core1_0.MemoryPropertyFlags,
	size int,
) (*MemoryHandle, common.VkResult, error) {
	a.logger.Debug("Allocator::AllocateWithSize", slog.Int("Size", size))

	if requirements == nil {
		return nil, core1_0.VKErrorUnknown, errors.New("attempted to allocate with nil memory requirements")
	}

	return a.allocate(requirements, flags, size)
}

// AllocateAndBind allocates memory that satisfies the resource's requirements and binds the
// resource at the chunk's offset. If binding fails, the memory is released before returning.
func (a *Allocator) AllocateAndBind(
	resource device.Resource,
	flags core1_0.MemoryPropertyFlags,
) (*MemoryHandle, common.VkResult, error) {
	a.logger.Debug("Allocator::AllocateAndBind")

	if resource == nil {
		return nil, core1_0.VKErrorUnknown, errors.New("attempted to allocate for a nil resource")
	}

	requirements := resource.MemoryRequirements()
	if requirements == nil {
		return nil, core1_0.VKErrorUnknown, errors.New("resource returned nil memory requirements")
	}

	handle, res, err := a.allocate(requirements, flags, requirements.Size)
	if err != nil {
		return nil, res, err
	}

	res, err = resource.BindMemory(handle.chunk.Memory(), handle.chunk.offset)
	if err != nil {
		releaseErr := handle.Release()
		if releaseErr != nil {
			err = errors.CombineErrors(err, releaseErr)
		}
		return nil, res, err
	}

	return handle, core1_0.VKSuccess, nil
}

func (a *Allocator) allocate(
	requirements *core1_0.MemoryRequirements,
	flags core1_0.MemoryPropertyFlags,
	size int,
) (*MemoryHandle, common.VkResult, error) {
	if size <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("attempted to allocate %d bytes", size)
	}
	if requirements.Alignment > 0 {
		err := memutils.CheckPow2(requirements.Alignment, "requirements alignment")
		if err != nil {
			return nil, core1_0.VKErrorUnknown, err
		}
	}

	memTypeIndex, res, err := a.FindMemoryTypeIndex(requirements, flags)
	if err != nil {
		return nil, res, err
	}

	alignment := memutils.MaxAlignment(
		uint(requirements.Alignment),
		a.deviceMemory.MemoryTypeMinimumAlignment(memTypeIndex),
	)
	alignedSize := memutils.AlignUp(size, alignment)

	family := a.familyForType(memTypeIndex)
	chunk, res, err := family.allocate(alignedSize, alignment)
	if err != nil {
		return nil, res, err
	}

	a.logger.Debug("    Allocated chunk",
		slog.Int("MemoryTypeIndex", memTypeIndex),
		slog.Int("Offset", chunk.offset),
		slog.Int("Size", chunk.size),
	)

	return newMemoryHandle(a, chunk), core1_0.VKSuccess, nil
}

func (a *Allocator) familyForType(memTypeIndex int) *Family {
	family, ok := a.families.Get(memTypeIndex)
	if ok {
		return family
	}

	family = newFamily(
		a.logger,
		memTypeIndex,
		a.slabSize,
		a.createFlags&AllocatorCreateRejectOversized != 0,
		a.deviceMemory,
	)
	a.families.Put(memTypeIndex, family)
	a.familyOrder = append(a.familyOrder, memTypeIndex)

	return family
}

func (a *Allocator) free(chunk *Chunk) error {
	a.logger.Debug("Allocator::free",
		slog.Int("MemoryTypeIndex", chunk.familyIndex),
		slog.Int("Offset", chunk.offset),
		slog.Int("Size", chunk.size),
	)

	family, ok := a.families.Get(chunk.familyIndex)
	if !ok {
		return errors.Wrapf(ErrChunkNotOwned, "no family exists for memory type %d", chunk.familyIndex)
	}

	return family.free(chunk)
}

// Destroy returns all native memory to the device. Chunks that are still in use are reported
// through the logger and cause an error to be returned, but their memory is freed all the same.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy")

	var err error
	for _, memTypeIndex := range a.familyOrder {
		family, _ := a.families.Get(memTypeIndex)
		err = errors.CombineErrors(err, family.destroy())
		a.families.Delete(memTypeIndex)
	}
	a.familyOrder = nil

	if count := a.deviceMemory.AllocationCount(); count != 0 {
		err = errors.CombineErrors(err, errors.Newf("%d native allocations were still alive after destroying every family", count))
	}

	return err
}

// Validate checks the structure of every family, returning the first problem found
func (a *Allocator) Validate() error {
	for _, memTypeIndex := range a.familyOrder {
		family, _ := a.families.Get(memTypeIndex)
		err := family.Validate()
		if err != nil {
			return errors.Wrapf(err, "memory type %d", memTypeIndex)
		}
	}

	return nil
}

// CalculateStatistics walks every family and sums its allocations and chunks per memory type,
// per heap, and in total
func (a *Allocator) CalculateStatistics() *TotalStatistics {
	stats := &TotalStatistics{
		MemoryTypes: make([]memutils.DetailedStatistics, a.deviceMemory.MemoryTypeCount()),
		MemoryHeaps: make([]memutils.DetailedStatistics, a.deviceMemory.MemoryHeapCount()),
	}

	stats.Total.Clear()
	for i := range stats.MemoryTypes {
		stats.MemoryTypes[i].Clear()
	}
	for i := range stats.MemoryHeaps {
		stats.MemoryHeaps[i].Clear()
	}

	a.families.Iter(func(memTypeIndex int, family *Family) bool {
		family.AddDetailedStatistics(&stats.MemoryTypes[memTypeIndex])
		return false
	})

	for memTypeIndex := range stats.MemoryTypes {
		heapIndex := a.deviceMemory.MemoryTypeIndexToHeapIndex(memTypeIndex)
		stats.MemoryHeaps[heapIndex].AddDetailedStatistics(&stats.MemoryTypes[memTypeIndex])
	}

	for heapIndex := range stats.MemoryHeaps {
		stats.Total.AddDetailedStatistics(&stats.MemoryHeaps[heapIndex])
	}

	return stats
}

// BuildStatsString produces a JSON document describing every heap and memory type. When
// detailed is true, every allocation is listed along with each of its chunks.
func (a *Allocator) BuildStatsString(detailed bool) string {
	stats := a.CalculateStatistics()

	writer := jwriter.NewWriter()
	root := writer.Object()

	totalObj := root.Name("Total").Object()
	printStatistics(&totalObj, &stats.Total)
	totalObj.End()

	heaps := root.Name("MemoryHeaps").Object()
	for heapIndex := 0; heapIndex < a.deviceMemory.MemoryHeapCount(); heapIndex++ {
		heapInfo := a.deviceMemory.MemoryHeapProperties(heapIndex)
		heapStats := a.deviceMemory.HeapStatistics(heapIndex)

		heapObj := heaps.Name("Heap " + strconv.Itoa(heapIndex)).Object()
		heapObj.Name("Size").Int(heapInfo.Size)
		heapObj.Name("Flags").String(heapInfo.Flags.String())
		heapObj.Name("AllocationBytes").Int(heapStats.AllocationBytes)
		heapObj.Name("ChunkBytes").Int(heapStats.ChunkBytes)

		statsObj := heapObj.Name("Stats").Object()
		printStatistics(&statsObj, &stats.MemoryHeaps[heapIndex])
		statsObj.End()

		typesObj := heapObj.Name("MemoryTypes").Object()
		for memTypeIndex := 0; memTypeIndex < a.deviceMemory.MemoryTypeCount(); memTypeIndex++ {
			if a.deviceMemory.MemoryTypeIndexToHeapIndex(memTypeIndex) != heapIndex {
				continue
			}

			typeObj := typesObj.Name("Type " + strconv.Itoa(memTypeIndex)).Object()
			typeObj.Name("Flags").String(a.deviceMemory.MemoryTypeProperties(memTypeIndex).PropertyFlags.String())

			typeStatsObj := typeObj.Name("Stats").Object()
			printStatistics(&typeStatsObj, &stats.MemoryTypes[memTypeIndex])
			typeStatsObj.End()

			typeObj.End()
		}
		typesObj.End()

		heapObj.End()
	}
	heaps.End()

	if detailed {
		families := root.Name("Families").Object()
		for _, memTypeIndex := range a.familyOrder {
			family, _ := a.families.Get(memTypeIndex)

			familyObj := families.Name("Type " + strconv.Itoa(memTypeIndex)).Object()
			family.printDetailedMap(&familyObj)
			familyObj.End()
		}
		families.End()
	}

	root.End()

	return string(writer.Bytes())
}

func printStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("SlabCount").Int(stats.SlabCount)
	json.Name("DedicatedCount").Int(stats.DedicatedCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("FreeBytes").Int(stats.FreeBytes())
	json.Name("ChunkCount").Int(stats.ChunkCount)
	json.Name("ChunkBytes").Int(stats.ChunkBytes)
	json.Name("FreeChunkCount").Int(stats.FreeChunkCount)

	if stats.ChunkCount > 0 {
		json.Name("ChunkSizeMin").Int(stats.ChunkSizeMin)
		json.Name("ChunkSizeMax").Int(stats.ChunkSizeMax)
	}
	if stats.FreeChunkCount > 0 {
		json.Name("FreeChunkSizeMin").Int(stats.FreeChunkSizeMin)
		json.Name("FreeChunkSizeMax").Int(stats.FreeChunkSizeMax)
	}
}
