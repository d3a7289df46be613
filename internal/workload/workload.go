// Package workload drives an allocator with a reproducible stream of allocations, frees, shared
// references and host writes, checking the allocator's structure along the way.
package workload

import (
	"context"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/slab/simdevice"
	"github.com/vkngwrapper/slab/suballoc"
	"golang.org/x/exp/slog"
)

type Options struct {
	Seed  int64
	Steps int
	// MaxSize is the largest request the workload makes. Requests larger than the allocator's
	// slab size exercise the oversized path.
	MaxSize int
	// Validate checks the allocator's structure after every step
	Validate bool
	// KeepLive skips the final release of outstanding handles, so that the allocator's state
	// can be inspected afterward
	KeepLive bool
}

func DefaultOptions() Options {
	return Options{
		Seed:     1,
		Steps:    1000,
		MaxSize:  256 * 1024,
		Validate: true,
	}
}

type Report struct {
	Allocations      int
	BoundResources   int
	Releases         int
	SharedReferences int
	Maps             int
	FailedMaps       int
	Oversized        int
	Rejected         int

	PeakNativeAllocations int
	PeakChunkBytes        int
	LiveHandles           int
}

type liveHandle struct {
	handle     *suballoc.MemoryHandle
	references int
	pattern    byte
	written    bool
}

// Run executes the workload against allocator, which must allocate from dev. It stops early if
// ctx is canceled. Unless KeepLive is set, every handle is released before returning.
func Run(ctx context.Context, logger *slog.Logger, allocator *suballoc.Allocator, dev *simdevice.Device, options Options) (Report, error) {
	if options.Steps < 0 || options.MaxSize < 1 {
		return Report{}, errors.Newf("invalid workload options: %d steps, max size %d", options.Steps, options.MaxSize)
	}

	random := rand.New(rand.NewSource(options.Seed))
	var report Report
	var live []*liveHandle

	releaseAt := func(index int) error {
		entry := live[index]
		err := entry.handle.Release()
		if err != nil {
			return err
		}
		report.Releases++

		entry.references--
		if entry.references == 0 {
			live = append(live[:index], live[index+1:]...)
		}
		return nil
	}

	for step := 0; step < options.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var err error
		switch roll := random.Intn(10); {
		case roll < 4 || len(live) == 0:
			var entry *liveHandle
			entry, err = allocate(random, allocator, dev, options, &report)
			if entry != nil {
				live = append(live, entry)
			}
		case roll < 7:
			err = releaseAt(random.Intn(len(live)))
		case roll < 8:
			entry := live[random.Intn(len(live))]
			entry.handle.Retain()
			entry.references++
			report.SharedReferences++
		default:
			err = writeAndVerify(allocator, live[random.Intn(len(live))], &report)
		}
		if err != nil {
			return report, errors.Wrapf(err, "step %d", step)
		}

		if options.Validate {
			err = allocator.Validate()
			if err != nil {
				return report, errors.Wrapf(err, "validation failed after step %d", step)
			}
		}

		if count := allocator.NativeAllocationCount(); count > report.PeakNativeAllocations {
			report.PeakNativeAllocations = count
		}
		if chunkBytes := allocator.CalculateStatistics().Total.ChunkBytes; chunkBytes > report.PeakChunkBytes {
			report.PeakChunkBytes = chunkBytes
		}
	}

	if !options.KeepLive {
		for len(live) > 0 {
			err := releaseAt(len(live) - 1)
			if err != nil {
				return report, err
			}
		}
	}
	report.LiveHandles = len(live)

	logger.Info("workload complete",
		slog.Int64("Seed", options.Seed),
		slog.Int("Steps", options.Steps),
		slog.Int("Allocations", report.Allocations),
		slog.Int("PeakNativeAllocations", report.PeakNativeAllocations),
	)

	return report, nil
}

func allocate(random *rand.Rand, allocator *suballoc.Allocator, dev *simdevice.Device, options Options, report *Report) (*liveHandle, error) {
	size := 1 + random.Intn(options.MaxSize)
	if random.Intn(50) == 0 {
		// Occasionally ask for more than a slab
		size = allocator.SlabSize() + 1 + random.Intn(allocator.SlabSize())
	}

	var flags core1_0.MemoryPropertyFlags
	switch random.Intn(3) {
	case 0:
		flags = core1_0.MemoryPropertyDeviceLocal
	case 1:
		flags = core1_0.MemoryPropertyHostVisible
	case 2:
		flags = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCached
	}

	requirements := core1_0.MemoryRequirements{
		Size:           size,
		Alignment:      1 << random.Intn(9),
		MemoryTypeBits: ^uint32(0),
	}

	var handle *suballoc.MemoryHandle
	var err error
	if random.Intn(4) == 0 {
		handle, _, err = allocator.AllocateAndBind(dev.NewBuffer(requirements), flags)
		if err == nil {
			report.BoundResources++
		}
	} else {
		handle, _, err = allocator.Allocate(&requirements, flags)
	}

	if errors.Is(err, suballoc.ErrAllocationExceedsSlab) {
		report.Rejected++
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	report.Allocations++
	if size > allocator.SlabSize() {
		report.Oversized++
	}

	return &liveHandle{
		handle:     handle,
		references: 1,
		pattern:    byte(random.Intn(256)),
	}, nil
}

// writeAndVerify fills a host-visible chunk with its pattern, flushes it, and checks that what
// was written previously survived
func writeAndVerify(allocator *suballoc.Allocator, entry *liveHandle, report *Report) (err error) {
	memType := allocator.MemoryTypeProperties(entry.handle.MemoryTypeIndex())
	if memType.PropertyFlags&core1_0.MemoryPropertyHostVisible == 0 {
		return nil
	}

	mapping, _, err := entry.handle.Map(0, common.WholeSize)
	if err != nil {
		if mapping != nil && !mapping.Ok() {
			// The device refused the map. The chunk is still valid, so the workload carries on.
			report.FailedMaps++
			return nil
		}
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, mapping.Close())
	}()
	report.Maps++

	data := mapping.Bytes()
	if entry.written {
		_, err = entry.handle.Invalidate(0, common.WholeSize)
		if err != nil {
			return err
		}

		for i := 0; i < len(data); i += 997 {
			if data[i] != entry.pattern {
				return errors.Newf("chunk at offset %d lost its contents at byte %d", entry.handle.Offset(), i)
			}
		}
	}

	for i := range data {
		data[i] = entry.pattern
	}
	entry.written = true

	_, err = entry.handle.Flush(0, common.WholeSize)
	return err
}
