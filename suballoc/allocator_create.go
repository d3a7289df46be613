package suballoc

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/slab/device"
	"github.com/vkngwrapper/slab/memutils"
	"github.com/vkngwrapper/slab/suballoc/internal/vulkan"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateRejectOversized causes requests larger than the slab size to fail with
	// ErrAllocationExceedsSlab. By default, such requests receive a dedicated native allocation
	// of exactly the requested size, which is returned to the device as soon as it is freed.
	AllocatorCreateRejectOversized CreateFlags = 1 << iota
)

func init() {
	AllocatorCreateRejectOversized.Register("AllocatorCreateRejectOversized")
}

const (
	// DefaultSlabSize is the value that is used as the SlabSize when none is provided via
	// CreateOptions. It is equal to 64Mb.
	DefaultSlabSize int = 64 * 1024 * 1024
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// SlabSize is the size of every native allocation a family creates. It is fixed for the
	// lifetime of the allocator and must be a power of two.
	SlabSize int

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when native
	// memory is allocated or freed by this allocator
	MemoryCallbackOptions *MemoryCallbackOptions

	// HeapSizeLimits can be left empty. If it is provided, though, it must be a slice
	// with a number of entries corresponding to the number of heaps in the device. Each entry
	// must be either the maximum number of bytes that should be allocated from the corresponding
	// device memory heap, or -1 indicating no limit.
	HeapSizeLimits []int
}

// New creates a new Allocator
//
// logger - Receives debug tracing for allocator entry points and error reports for leaked chunks
//
// dev - The device that native memory will be allocated from. Its memory type table is read once,
// here.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, dev device.Device, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		return nil, errors.New("attempted to create an allocator with a nil logger")
	}

	allocator := &Allocator{
		logger:      logger,
		device:      dev,
		createFlags: options.Flags,
		slabSize:    options.SlabSize,
		families:    swiss.NewMap[int, *Family](uint32(common.MaxMemoryTypes)),
	}

	if allocator.slabSize == 0 {
		allocator.slabSize = DefaultSlabSize
	}

	err := memutils.CheckPow2(allocator.slabSize, "slab size")
	if err != nil {
		return nil, err
	}

	allocator.deviceMemory, err = vulkan.NewDeviceMemoryProperties(
		&memoryCallbacks{
			Callbacks: options.MemoryCallbackOptions,
			Allocator: allocator,
		},
		dev,
		options.HeapSizeLimits,
	)
	if err != nil {
		return nil, err
	}

	logger.Debug("Allocator::New",
		slog.Int("SlabSize", allocator.slabSize),
		slog.String("Flags", options.Flags.String()),
		slog.Int("MemoryTypeCount", allocator.deviceMemory.MemoryTypeCount()),
	)

	return allocator, nil
}
