package vulkan

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/slab/device"
)

type fakePhysicalDevice struct {
	core1_0.PhysicalDevice
	properties       core1_0.PhysicalDeviceProperties
	memoryProperties core1_0.PhysicalDeviceMemoryProperties
}

func (d *fakePhysicalDevice) Properties() (*core1_0.PhysicalDeviceProperties, error) {
	return &d.properties, nil
}

func (d *fakePhysicalDevice) MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &d.memoryProperties
}

type fakeDeviceMemory struct {
	core1_0.DeviceMemory
	data  []byte
	freed bool
}

func (m *fakeDeviceMemory) Map(offset int, size int, flags core1_0.MemoryMapFlags) (unsafe.Pointer, common.VkResult, error) {
	return unsafe.Pointer(&m.data[offset]), core1_0.VKSuccess, nil
}

func (m *fakeDeviceMemory) Unmap() {}

func (m *fakeDeviceMemory) Free(callbacks *driver.AllocationCallbacks) {
	m.freed = true
}

type fakeDevice struct {
	core1_0.Device
	allocateInfo []core1_0.MemoryAllocateInfo
	flushed      []core1_0.MappedMemoryRange
}

func (d *fakeDevice) AllocateMemory(callbacks *driver.AllocationCallbacks, o core1_0.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error) {
	d.allocateInfo = append(d.allocateInfo, o)
	return &fakeDeviceMemory{data: make([]byte, o.AllocationSize)}, core1_0.VKSuccess, nil
}

func (d *fakeDevice) FlushMappedMemoryRanges(ranges []core1_0.MappedMemoryRange) (common.VkResult, error) {
	d.flushed = append(d.flushed, ranges...)
	return core1_0.VKSuccess, nil
}

type fakeBuffer struct {
	core1_0.Buffer
	boundMemory core1_0.DeviceMemory
	boundOffset int
}

func (b *fakeBuffer) MemoryRequirements() *core1_0.MemoryRequirements {
	return &core1_0.MemoryRequirements{Size: 256, Alignment: 64, MemoryTypeBits: 1}
}

func (b *fakeBuffer) BindBufferMemory(memory core1_0.DeviceMemory, offset int) (common.VkResult, error) {
	b.boundMemory = memory
	b.boundOffset = offset
	return core1_0.VKSuccess, nil
}

type foreignMemory struct{}

func (foreignMemory) Map(offset, size int) (unsafe.Pointer, common.VkResult, error) {
	return nil, core1_0.VKErrorMemoryMapFailed, core1_0.VKErrorMemoryMapFailed.ToError()
}
func (foreignMemory) Unmap() {}

func newTestDevice(t *testing.T) (*fakeDevice, *Device) {
	physicalDevice := &fakePhysicalDevice{
		properties: core1_0.PhysicalDeviceProperties{
			Limits: &core1_0.PhysicalDeviceLimits{
				NonCoherentAtomSize:      64,
				MaxMemoryAllocationCount: 4096,
			},
		},
		memoryProperties: core1_0.PhysicalDeviceMemoryProperties{
			MemoryTypes: []core1_0.MemoryType{
				{PropertyFlags: core1_0.MemoryPropertyHostVisible, HeapIndex: 0},
			},
			MemoryHeaps: []core1_0.MemoryHeap{
				{Size: 1 << 20},
			},
		},
	}
	logicalDevice := &fakeDevice{}

	dev, err := NewDevice(physicalDevice, logicalDevice, nil)
	require.NoError(t, err)

	return logicalDevice, dev
}

func TestNewDeviceCachesProperties(t *testing.T) {
	_, dev := newTestDevice(t)

	require.Len(t, dev.MemoryProperties().MemoryTypes, 1)
	require.Equal(t, 64, dev.Limits().NonCoherentAtomSize)
	require.Equal(t, 4096, dev.Limits().MaxMemoryAllocationCount)
}

func TestNewDeviceNilArguments(t *testing.T) {
	_, err := NewDevice(nil, &fakeDevice{}, nil)
	require.Error(t, err)

	_, err = NewDevice(&fakePhysicalDevice{}, nil, nil)
	require.Error(t, err)
}

func TestAllocateMapAndFree(t *testing.T) {
	logicalDevice, dev := newTestDevice(t)

	memory, res, err := dev.AllocateMemory(0, 1024)
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	require.Equal(t, []core1_0.MemoryAllocateInfo{{AllocationSize: 1024, MemoryTypeIndex: 0}}, logicalDevice.allocateInfo)

	ptr, _, err := memory.Map(0, common.WholeSize)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	memory.Unmap()

	wrapped := memory.(*Memory).DeviceMemory().(*fakeDeviceMemory)
	dev.FreeMemory(memory)
	require.True(t, wrapped.freed)
}

func TestFlushConvertsRanges(t *testing.T) {
	logicalDevice, dev := newTestDevice(t)

	memory, _, err := dev.AllocateMemory(0, 1024)
	require.NoError(t, err)

	_, err = dev.FlushMappedMemoryRanges([]device.MappedRange{{Memory: memory, Offset: 128, Size: 64}})
	require.NoError(t, err)
	require.Equal(t, []core1_0.MappedMemoryRange{
		{Memory: memory.(*Memory).DeviceMemory(), Offset: 128, Size: 64},
	}, logicalDevice.flushed)

	_, err = dev.FlushMappedMemoryRanges([]device.MappedRange{{Memory: foreignMemory{}, Offset: 0, Size: 64}})
	require.Error(t, err)
}

func TestFreeForeignMemoryPanics(t *testing.T) {
	_, dev := newTestDevice(t)

	require.Panics(t, func() {
		dev.FreeMemory(foreignMemory{})
	})
}

func TestBufferBindsAtOffset(t *testing.T) {
	_, dev := newTestDevice(t)

	memory, _, err := dev.AllocateMemory(0, 1024)
	require.NoError(t, err)

	buffer := &fakeBuffer{}
	resource := Buffer(buffer)
	require.Equal(t, 256, resource.MemoryRequirements().Size)

	_, err = resource.BindMemory(memory, 512)
	require.NoError(t, err)
	require.Equal(t, memory.(*Memory).DeviceMemory(), buffer.boundMemory)
	require.Equal(t, 512, buffer.boundOffset)

	_, err = resource.BindMemory(foreignMemory{}, 0)
	require.Error(t, err)
}
