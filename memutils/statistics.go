package memutils

import "math"

// Statistics is a basic summary of memory held by an allocator or some subset of one. Allocations
// are native device memory objects, chunks are the used ranges handed out from them.
type Statistics struct {
	AllocationCount int
	ChunkCount      int
	AllocationBytes int
	ChunkBytes      int
}

func (s *Statistics) Clear() {
	s.AllocationCount = 0
	s.ChunkCount = 0
	s.AllocationBytes = 0
	s.ChunkBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.AllocationCount += other.AllocationCount
	s.ChunkCount += other.ChunkCount
	s.AllocationBytes += other.AllocationBytes
	s.ChunkBytes += other.ChunkBytes
}

// DetailedStatistics extends Statistics with the slab/dedicated split and the size spread of
// used and free chunks
type DetailedStatistics struct {
	Statistics
	SlabCount        int
	DedicatedCount   int
	FreeChunkCount   int
	ChunkSizeMin     int
	ChunkSizeMax     int
	FreeChunkSizeMin int
	FreeChunkSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.SlabCount = 0
	s.DedicatedCount = 0
	s.FreeChunkCount = 0
	s.ChunkSizeMin = math.MaxInt
	s.ChunkSizeMax = 0
	s.FreeChunkSizeMin = math.MaxInt
	s.FreeChunkSizeMax = 0
}

// AddSlab counts one native allocation. Dedicated allocations hold a single oversized chunk and
// are counted apart from pooled slabs.
func (s *DetailedStatistics) AddSlab(size int, dedicated bool) {
	s.AllocationCount++
	s.AllocationBytes += size

	if dedicated {
		s.DedicatedCount++
	} else {
		s.SlabCount++
	}
}

// FreeBytes is the number of allocated bytes not covered by a used chunk
func (s *DetailedStatistics) FreeBytes() int {
	return s.AllocationBytes - s.ChunkBytes
}

func (s *DetailedStatistics) AddFreeChunk(size int) {
	s.FreeChunkCount++

	if size < s.FreeChunkSizeMin {
		s.FreeChunkSizeMin = size
	}

	if size > s.FreeChunkSizeMax {
		s.FreeChunkSizeMax = size
	}
}

func (s *DetailedStatistics) AddChunk(size int) {
	s.ChunkCount++
	s.ChunkBytes += size

	if size < s.ChunkSizeMin {
		s.ChunkSizeMin = size
	}

	if size > s.ChunkSizeMax {
		s.ChunkSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.SlabCount += other.SlabCount
	s.DedicatedCount += other.DedicatedCount
	s.FreeChunkCount += other.FreeChunkCount

	if other.FreeChunkSizeMin < s.FreeChunkSizeMin {
		s.FreeChunkSizeMin = other.FreeChunkSizeMin
	}

	if other.FreeChunkSizeMax > s.FreeChunkSizeMax {
		s.FreeChunkSizeMax = other.FreeChunkSizeMax
	}

	if other.ChunkSizeMin < s.ChunkSizeMin {
		s.ChunkSizeMin = other.ChunkSizeMin
	}

	if other.ChunkSizeMax > s.ChunkSizeMax {
		s.ChunkSizeMax = other.ChunkSizeMax
	}
}
