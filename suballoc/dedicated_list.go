package suballoc

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/slab/memutils"
)

// dedicatedAllocationList tracks the one-off allocations a family makes for requests that do
// not fit in a slab
type dedicatedAllocationList struct {
	count              int
	allocationListHead *Allocation
	allocationListTail *Allocation
}

func (l *dedicatedAllocationList) Validate() error {
	declaredCount := l.count
	actualCount := 0

	for alloc := l.allocationListHead; alloc != nil; alloc = alloc.nextDedicated {
		actualCount++

		if !alloc.dedicated {
			return errors.Newf("allocation %d is in the dedicated list but is not dedicated", alloc.id)
		}

		err := alloc.Validate()
		if err != nil {
			return errors.Wrapf(err, "dedicated allocation %d", alloc.id)
		}
	}

	if declaredCount != actualCount {
		return errors.Newf("the listed number of dedicated allocations in the list (%d) does not match the actual number of allocations (%d)", declaredCount, actualCount)
	}

	return nil
}

func (l *dedicatedAllocationList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for alloc := l.allocationListHead; alloc != nil; alloc = alloc.nextDedicated {
		alloc.AddDetailedStatistics(stats)
	}
}

func (l *dedicatedAllocationList) printDetailedMap(json *jwriter.ObjectState) {
	for alloc := l.allocationListHead; alloc != nil; alloc = alloc.nextDedicated {
		obj := json.Name(strconv.Itoa(alloc.id)).Object()
		alloc.printDetailedMap(&obj)
		obj.End()
	}
}

func (l *dedicatedAllocationList) IsEmpty() bool {
	return l.count == 0
}

func (l *dedicatedAllocationList) Count() int {
	return l.count
}

// find returns the dedicated allocation that owns the provided chunk, if any
func (l *dedicatedAllocationList) find(chunk *Chunk) *Allocation {
	for alloc := l.allocationListHead; alloc != nil; alloc = alloc.nextDedicated {
		if alloc.memory == chunk.memory {
			return alloc
		}
	}

	return nil
}

func (l *dedicatedAllocationList) Register(alloc *Allocation) {
	if l.count == 0 {
		l.allocationListHead = alloc
		l.allocationListTail = alloc
		l.count = 1
		return
	}

	alloc.prevDedicated = l.allocationListTail
	l.allocationListTail.nextDedicated = alloc

	l.allocationListTail = alloc
	l.count++
}

func (l *dedicatedAllocationList) Unregister(alloc *Allocation) {
	prev := alloc.prevDedicated
	next := alloc.nextDedicated

	if prev != nil {
		prev.nextDedicated = next
	} else {
		l.allocationListHead = next
	}

	if next != nil {
		next.prevDedicated = prev
	} else {
		l.allocationListTail = prev
	}

	alloc.prevDedicated = nil
	alloc.nextDedicated = nil

	l.count--
}
