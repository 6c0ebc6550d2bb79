package vulkan

import (
	"io"
	"log/slog"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/mocks"
	"github.com/vkngwrapper/extensions/v2/ext_memory_budget"
	"github.com/vkngwrapper/gpumem/native"
	"github.com/golang/mock/gomock"
)

type DeviceSetup struct {
	MemoryProperties *core1_0.PhysicalDeviceMemoryProperties
	DeviceProperties core1_0.PhysicalDeviceProperties
	Extensions       extensionData
	Options          CreateOptions
}

func readyDevice(t *testing.T, device core1_0.Device, setup DeviceSetup) *Device {
	if setup.MemoryProperties == nil {
		setup.MemoryProperties = &discreteMemoryProperties
	}
	if setup.DeviceProperties.Limits == nil {
		setup.DeviceProperties.Limits = &core1_0.PhysicalDeviceLimits{
			BufferImageGranularity:   1,
			NonCoherentAtomSize:      64,
			MaxMemoryAllocationCount: 4096,
		}
	}
	if setup.DeviceProperties.DriverType == 0 {
		setup.DeviceProperties.DriverType = core1_0.PhysicalDeviceTypeDiscreteGPU
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	vkDevice, err := newDevice(logger, device, &setup.DeviceProperties, setup.MemoryProperties, &setup.Extensions, setup.Options)
	require.NoError(t, err)

	return vkDevice
}

type budgetSource struct {
	calls int
}

func (s *budgetSource) MemoryProperties2(out *core1_1.PhysicalDeviceMemoryProperties2) error {
	s.calls++

	budget := out.Next.(*ext_memory_budget.PhysicalDeviceMemoryBudgetProperties)
	budget.HeapBudget[0] = 6000
	budget.HeapUsage[0] = 1000
	budget.HeapBudget[1] = 12000
	budget.HeapUsage[1] = 500
	budget.HeapBudget[2] = 200
	budget.HeapUsage[2] = 20
	return nil
}

func TestNewDevice(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, mockDevice := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})
	device := readyDevice(t, mockDevice, DeviceSetup{})

	require.Equal(t, native.HeapTier2, device.HeapTier())
	require.Equal(t, 0, device.MemoryTypeIndex(native.HeapTypeDefault))
	require.Equal(t, 1, device.MemoryTypeIndex(native.HeapTypeUpload))
	require.Equal(t, 2, device.MemoryTypeIndex(native.HeapTypeReadback))
	require.Equal(t, -1, device.MemoryTypeIndex(native.HeapType(9)))
	require.False(t, device.AdapterMemoryInfo().UnifiedMemoryArchitecture)

	tier1 := readyDevice(t, mockDevice, DeviceSetup{
		DeviceProperties: core1_0.PhysicalDeviceProperties{
			Limits: &core1_0.PhysicalDeviceLimits{BufferImageGranularity: 1024},
		},
	})
	require.Equal(t, native.HeapTier1, tier1.HeapTier())

	forced := readyDevice(t, mockDevice, DeviceSetup{
		DeviceProperties: core1_0.PhysicalDeviceProperties{
			Limits: &core1_0.PhysicalDeviceLimits{BufferImageGranularity: 1024},
		},
		Options: CreateOptions{ForceHeapTier: native.HeapTier2},
	})
	require.Equal(t, native.HeapTier2, forced.HeapTier())

	integrated := readyDevice(t, mockDevice, DeviceSetup{
		MemoryProperties: &integratedMemoryProperties,
		DeviceProperties: core1_0.PhysicalDeviceProperties{DriverType: core1_0.PhysicalDeviceTypeIntegratedGPU},
	})
	require.True(t, integrated.AdapterMemoryInfo().UnifiedMemoryArchitecture)
}

func TestNewDeviceRejectsBadProperties(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, mockDevice := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := newDevice(logger, mockDevice, &core1_0.PhysicalDeviceProperties{
		Limits: &core1_0.PhysicalDeviceLimits{BufferImageGranularity: 3},
	}, &discreteMemoryProperties, &extensionData{}, CreateOptions{})
	require.Error(t, err)

	_, err = newDevice(logger, mockDevice, &core1_0.PhysicalDeviceProperties{
		Limits: &core1_0.PhysicalDeviceLimits{},
	}, &discreteMemoryProperties, &extensionData{}, CreateOptions{HeapSizeLimits: []int{0}})
	require.Error(t, err)

	// A device without device local memory cannot back default heaps
	_, err = newDevice(logger, mockDevice, &core1_0.PhysicalDeviceProperties{
		Limits: &core1_0.PhysicalDeviceLimits{},
	}, &core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{{PropertyFlags: core1_0.MemoryPropertyHostVisible}},
		MemoryHeaps: []core1_0.MemoryHeap{{Size: 1024}},
	}, &extensionData{}, CreateOptions{})
	require.True(t, errors.Is(err, native.ErrUnsupported))
}

func TestCreateHeap(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, mockDevice := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})
	device := readyDevice(t, mockDevice, DeviceSetup{})

	memory := mocks.EasyMockDeviceMemory(ctrl)
	mockDevice.EXPECT().AllocateMemory(gomock.Any(), core1_0.MemoryAllocateInfo{
		AllocationSize:  64 * 1024,
		MemoryTypeIndex: 1,
	}).Return(memory, core1_0.VKSuccess, nil)

	heap, err := device.CreateHeap(64*1024, native.HeapTypeUpload, native.HeapFlagsAllowOnlyBuffers)
	require.NoError(t, err)

	vkHeap := heap.(*Heap)
	require.Same(t, memory, vkHeap.DeviceMemory())
	require.Equal(t, 1, vkHeap.MemoryTypeIndex())
	require.Equal(t, 64*1024, vkHeap.ByteLength())
	require.Equal(t, 64*1024, device.AllocatedBytes(1))
	require.Zero(t, device.AllocatedBytes(0))

	memory.EXPECT().Free(gomock.Any())
	heap.Release()
	require.Zero(t, device.AllocatedBytes(1))

	require.Panics(t, func() {
		heap.Release()
	})
}

func TestCreateHeapFailures(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, mockDevice := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})
	device := readyDevice(t, mockDevice, DeviceSetup{})

	mockDevice.EXPECT().AllocateMemory(gomock.Any(), gomock.Any()).Return(nil, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())

	_, err := device.CreateHeap(1024*1024, native.HeapTypeDefault, native.HeapFlagsAllowAll)
	require.True(t, errors.Is(err, native.ErrOutOfMemory))

	var nativeErr *native.Error
	require.True(t, errors.As(err, &nativeErr))
	require.Equal(t, int32(core1_0.VKErrorOutOfDeviceMemory), nativeErr.Code)
	require.Equal(t, "vkAllocateMemory", nativeErr.Op)

	// Failed allocations leave no accounting behind
	require.Zero(t, device.AllocatedBytes(0))

	_, err = device.CreateHeap(0, native.HeapTypeDefault, native.HeapFlagsAllowAll)
	require.Error(t, err)
	_, err = device.CreateHeap(1024, native.HeapType(5), native.HeapFlagsAllowAll)
	require.Error(t, err)
}

func TestCreateHeapSizeLimit(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, mockDevice := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})
	device := readyDevice(t, mockDevice, DeviceSetup{
		Options: CreateOptions{HeapSizeLimits: []int{0, 100 * 1024, 0}},
	})

	memory := mocks.EasyMockDeviceMemory(ctrl)
	mockDevice.EXPECT().AllocateMemory(gomock.Any(), gomock.Any()).Return(memory, core1_0.VKSuccess, nil)

	_, err := device.CreateHeap(64*1024, native.HeapTypeUpload, native.HeapFlagsAllowAll)
	require.NoError(t, err)

	_, err = device.CreateHeap(64*1024, native.HeapTypeUpload, native.HeapFlagsAllowAll)
	require.True(t, errors.Is(err, native.ErrOutOfMemory))
	require.Equal(t, 64*1024, device.AllocatedBytes(1))
}

func TestCreateHeapAllocationCount(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, mockDevice := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})
	device := readyDevice(t, mockDevice, DeviceSetup{
		DeviceProperties: core1_0.PhysicalDeviceProperties{
			Limits: &core1_0.PhysicalDeviceLimits{
				BufferImageGranularity:   1,
				NonCoherentAtomSize:      1,
				MaxMemoryAllocationCount: 1,
			},
		},
	})

	memory := mocks.EasyMockDeviceMemory(ctrl)
	mockDevice.EXPECT().AllocateMemory(gomock.Any(), gomock.Any()).Return(memory, core1_0.VKSuccess, nil)

	heap, err := device.CreateHeap(1024, native.HeapTypeDefault, native.HeapFlagsAllowAll)
	require.NoError(t, err)

	_, err = device.CreateHeap(1024, native.HeapTypeDefault, native.HeapFlagsAllowAll)
	require.Error(t, err)
	require.False(t, errors.Is(err, native.ErrOutOfMemory))

	var nativeErr *native.Error
	require.True(t, errors.As(err, &nativeErr))
	require.Equal(t, int32(core1_0.VKErrorTooManyObjects), nativeErr.Code)

	// Releasing the first heap frees up the slot
	memory.EXPECT().Free(gomock.Any())
	heap.Release()

	mockDevice.EXPECT().AllocateMemory(gomock.Any(), gomock.Any()).Return(memory, core1_0.VKSuccess, nil)
	_, err = device.CreateHeap(1024, native.HeapTypeDefault, native.HeapFlagsAllowAll)
	require.NoError(t, err)
}

func TestQueryVideoMemoryInfo(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, mockDevice := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})
	withoutBudget := readyDevice(t, mockDevice, DeviceSetup{})

	_, err := withoutBudget.QueryVideoMemoryInfo(native.MemorySegmentGroupLocal)
	require.True(t, errors.Is(err, native.ErrUnsupported))

	source := &budgetSource{}
	device := readyDevice(t, mockDevice, DeviceSetup{
		Extensions: extensionData{
			MemoryProperties2: source,
			UseMemoryBudget:   true,
		},
	})

	local, err := device.QueryVideoMemoryInfo(native.MemorySegmentGroupLocal)
	require.NoError(t, err)
	require.Equal(t, native.VideoMemoryInfo{Budget: 6200, CurrentUsage: 1020}, local)

	nonLocal, err := device.QueryVideoMemoryInfo(native.MemorySegmentGroupNonLocal)
	require.NoError(t, err)
	require.Equal(t, native.VideoMemoryInfo{Budget: 12000, CurrentUsage: 500}, nonLocal)
	require.Equal(t, 2, source.calls)
}

func TestGetCopyableFootprints(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, mockDevice := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})
	device := readyDevice(t, mockDevice, DeviceSetup{})

	desc := native.ResourceDescription{
		Dimension:        native.ResourceDimensionTexture2D,
		Width:            64,
		Height:           64,
		DepthOrArraySize: 1,
		MipLevels:        3,
		Format:           native.FormatR8G8B8A8UNorm,
	}

	footprint, err := device.GetCopyableFootprints(desc, 1, 1)
	require.NoError(t, err)

	expected, err := native.CalculateFootprint(desc, 1, 1)
	require.NoError(t, err)
	require.Equal(t, expected, footprint)
}

func TestHeapMappingIsShared(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, mockDevice := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})
	device := readyDevice(t, mockDevice, DeviceSetup{})

	memory := mocks.EasyMockDeviceMemory(ctrl)
	mockDevice.EXPECT().AllocateMemory(gomock.Any(), gomock.Any()).Return(memory, core1_0.VKSuccess, nil)

	heap, err := device.CreateHeap(4096, native.HeapTypeUpload, native.HeapFlagsAllowAll)
	require.NoError(t, err)
	vkHeap := heap.(*Heap)

	first := &Resource{heap: vkHeap, byteOffset: 0, byteLength: 1024}
	second := &Resource{heap: vkHeap, byteOffset: 2048, byteLength: 1024}

	data := make([]byte, 4096)
	memory.EXPECT().Map(0, common.WholeSize, core1_0.MemoryMapFlags(0)).Return(unsafe.Pointer(&data[0]), core1_0.VKSuccess, nil)

	firstPtr, err := first.Map(0, native.Range{})
	require.NoError(t, err)
	require.Equal(t, unsafe.Pointer(&data[0]), firstPtr)

	secondPtr, err := second.Map(0, native.Range{Begin: 0, End: 16})
	require.NoError(t, err)
	require.Equal(t, unsafe.Pointer(&data[2048]), secondPtr)
	require.Equal(t, 2, vkHeap.MapReferences())

	first.Unmap(0, native.Range{Begin: 0, End: 1024})
	require.Equal(t, 1, vkHeap.MapReferences())

	memory.EXPECT().Unmap()
	second.Unmap(0, native.Range{})
	require.Zero(t, vkHeap.MapReferences())

	require.Panics(t, func() {
		second.Unmap(0, native.Range{})
	})

	_, err = first.Map(1, native.Range{})
	require.True(t, errors.Is(err, native.ErrUnsupported))
	_, err = first.Map(0, native.Range{Begin: 1000, End: 1100})
	require.Error(t, err)
	require.Zero(t, vkHeap.MapReferences())
}

func TestNonCoherentHeapFlushesAndInvalidates(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, mockDevice := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})
	device := readyDevice(t, mockDevice, DeviceSetup{
		MemoryProperties: &core1_0.PhysicalDeviceMemoryProperties{
			MemoryTypes: []core1_0.MemoryType{
				{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
				{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCached, HeapIndex: 1},
			},
			MemoryHeaps: []core1_0.MemoryHeap{
				{Size: 1024 * 1024, Flags: core1_0.MemoryHeapDeviceLocal},
				{Size: 1024 * 1024},
			},
		},
	})

	memory := mocks.EasyMockDeviceMemory(ctrl)
	mockDevice.EXPECT().AllocateMemory(gomock.Any(), core1_0.MemoryAllocateInfo{
		AllocationSize:  4000,
		MemoryTypeIndex: 1,
	}).Return(memory, core1_0.VKSuccess, nil)

	heap, err := device.CreateHeap(4000, native.HeapTypeReadback, native.HeapFlagsAllowAll)
	require.NoError(t, err)

	resource := &Resource{heap: heap.(*Heap), byteOffset: 1000, byteLength: 3000}

	data := make([]byte, 4096)
	memory.EXPECT().Map(0, common.WholeSize, core1_0.MemoryMapFlags(0)).Return(unsafe.Pointer(&data[0]), core1_0.VKSuccess, nil)

	// Ranges widen to the 64 byte atom size and stop at the end of the heap
	mockDevice.EXPECT().InvalidateMappedMemoryRanges([]core1_0.MappedMemoryRange{
		{
			Memory: memory,
			Offset: 960,
			Size:   128,
		},
	}).Return(core1_0.VKSuccess, nil)

	ptr, err := resource.Map(0, native.Range{Begin: 10, End: 70})
	require.NoError(t, err)
	require.Equal(t, unsafe.Pointer(&data[1000]), ptr)

	mockDevice.EXPECT().FlushMappedMemoryRanges([]core1_0.MappedMemoryRange{
		{
			Memory: memory,
			Offset: 3968,
			Size:   32,
		},
	}).Return(core1_0.VKSuccess, nil)
	memory.EXPECT().Unmap()

	resource.Unmap(0, native.Range{Begin: 2990, End: 3000})
}

func TestCreatePlacedBuffer(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, mockDevice := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})
	device := readyDevice(t, mockDevice, DeviceSetup{})

	memory := mocks.EasyMockDeviceMemory(ctrl)
	mockDevice.EXPECT().AllocateMemory(gomock.Any(), gomock.Any()).Return(memory, core1_0.VKSuccess, nil)

	heap, err := device.CreateHeap(64*1024, native.HeapTypeDefault, native.HeapFlagsAllowOnlyBuffers)
	require.NoError(t, err)

	desc := native.ResourceDescription{
		Dimension: native.ResourceDimensionBuffer,
		Width:     1000,
	}

	buffer := mocks.EasyMockBuffer(ctrl)
	mockDevice.EXPECT().CreateBuffer(gomock.Any(), bufferCreateInfo(desc)).Return(buffer, core1_0.VKSuccess, nil).Times(2)
	buffer.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{
		Size:           1024,
		Alignment:      256,
		MemoryTypeBits: 0xffffffff,
	}).AnyTimes()
	buffer.EXPECT().BindBufferMemory(memory, 512).Return(core1_0.VKSuccess, nil)

	resource, err := device.CreatePlacedResource(heap, 512, desc)
	require.NoError(t, err)
	require.Same(t, buffer, resource.(*Resource).Buffer())
	require.Nil(t, resource.(*Resource).Image())
	require.Equal(t, 512, resource.(*Resource).ByteOffset())

	// Misaligned placements destroy the buffer before failing
	buffer.EXPECT().Destroy(gomock.Any()).Times(2)
	_, err = device.CreatePlacedResource(heap, 100, desc)
	require.Error(t, err)

	resource.Release()
	require.Panics(t, func() {
		resource.Release()
	})

	// Buffers never land in texture-only heaps
	_, err = device.CreatePlacedResource(&Heap{device: device, flags: native.HeapFlagsAllowOnlyNonRTDSTextures}, 0, desc)
	require.Error(t, err)
}

func TestGetResourceAllocationInfo(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, mockDevice := mocks.MockRig1_0(ctrl, common.Vulkan1_0, []string{}, []string{})
	device := readyDevice(t, mockDevice, DeviceSetup{})

	desc := native.ResourceDescription{
		Dimension: native.ResourceDimensionBuffer,
		Width:     1000,
	}

	buffer := mocks.EasyMockBuffer(ctrl)
	mockDevice.EXPECT().CreateBuffer(gomock.Any(), bufferCreateInfo(desc)).Return(buffer, core1_0.VKSuccess, nil)
	buffer.EXPECT().MemoryRequirements().Return(&core1_0.MemoryRequirements{
		Size:           1024,
		Alignment:      256,
		MemoryTypeBits: 0xffffffff,
	})
	buffer.EXPECT().Destroy(gomock.Any())

	info, err := device.GetResourceAllocationInfo(desc)
	require.NoError(t, err)
	require.Equal(t, native.AllocationInfo{ByteLength: 1024, Alignment: 256}, info)

	mockDevice.EXPECT().CreateBuffer(gomock.Any(), gomock.Any()).Return(nil, core1_0.VKErrorOutOfHostMemory, core1_0.VKErrorOutOfHostMemory.ToError())
	_, err = device.GetResourceAllocationInfo(desc)
	require.True(t, errors.Is(err, native.ErrOutOfMemory))
}
