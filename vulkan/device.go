// Package vulkan adapts vkngwrapper's core1_0 objects to the interfaces in the device package so
// that a suballoc.Allocator can run against a real Vulkan device.
package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/slab/device"
)

// Device implements device.Device over a vkngwrapper logical device
type Device struct {
	device              core1_0.Device
	allocationCallbacks *driver.AllocationCallbacks

	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
	limits           *core1_0.PhysicalDeviceLimits
}

var _ device.Device = &Device{}

// NewDevice queries the physical device's memory table and limits once and wraps the logical
// device. allocationCallbacks may be nil.
func NewDevice(
	physicalDevice core1_0.PhysicalDevice,
	logicalDevice core1_0.Device,
	allocationCallbacks *driver.AllocationCallbacks,
) (*Device, error) {
	if physicalDevice == nil {
		return nil, errors.New("attempted to wrap a device with a nil physical device")
	}
	if logicalDevice == nil {
		return nil, errors.New("attempted to wrap a nil device")
	}

	properties, err := physicalDevice.Properties()
	if err != nil {
		return nil, errors.Wrap(err, "could not query physical device properties")
	}

	memoryProperties := physicalDevice.MemoryProperties()
	if memoryProperties == nil {
		return nil, errors.New("physical device returned nil memory properties")
	}

	limits := properties.Limits
	if limits == nil {
		limits = &core1_0.PhysicalDeviceLimits{}
	}

	return &Device{
		device:              logicalDevice,
		allocationCallbacks: allocationCallbacks,
		memoryProperties:    memoryProperties,
		limits:              limits,
	}, nil
}

func (d *Device) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return d.memoryProperties
}

func (d *Device) Limits() *core1_0.PhysicalDeviceLimits {
	return d.limits
}

func (d *Device) AllocateMemory(memoryTypeIndex int, size int) (device.Memory, common.VkResult, error) {
	memory, res, err := d.device.AllocateMemory(d.allocationCallbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return nil, res, err
	}

	return &Memory{memory: memory}, res, nil
}

func (d *Device) FreeMemory(memory device.Memory) {
	unwrapped, ok := memory.(*Memory)
	if !ok {
		panic(errors.Newf("attempted to free memory of type %T with a vulkan device", memory))
	}

	unwrapped.memory.Free(d.allocationCallbacks)
}

func (d *Device) FlushMappedMemoryRanges(ranges []device.MappedRange) (common.VkResult, error) {
	vkRanges, err := convertRanges(ranges)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return d.device.FlushMappedMemoryRanges(vkRanges)
}

func (d *Device) InvalidateMappedMemoryRanges(ranges []device.MappedRange) (common.VkResult, error) {
	vkRanges, err := convertRanges(ranges)
	if err != nil {
		return core1_0.VKErrorUnknown, err
	}

	return d.device.InvalidateMappedMemoryRanges(vkRanges)
}

func convertRanges(ranges []device.MappedRange) ([]core1_0.MappedMemoryRange, error) {
	vkRanges := make([]core1_0.MappedMemoryRange, 0, len(ranges))
	for _, memRange := range ranges {
		memory, err := unwrap(memRange.Memory)
		if err != nil {
			return nil, err
		}

		vkRanges = append(vkRanges, core1_0.MappedMemoryRange{
			Memory: memory,
			Offset: memRange.Offset,
			Size:   memRange.Size,
		})
	}

	return vkRanges, nil
}

func unwrap(memory device.Memory) (core1_0.DeviceMemory, error) {
	unwrapped, ok := memory.(*Memory)
	if !ok || unwrapped == nil {
		return nil, errors.Newf("memory of type %T was not allocated by a vulkan device", memory)
	}

	return unwrapped.memory, nil
}
