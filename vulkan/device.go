// Package vulkan implements the native device gpumem consumes on top of vkngwrapper. Heaps are
// VkDeviceMemory objects, placed resources are VkBuffer and VkImage objects bound at an offset
// within them, and budgets come from VK_EXT_memory_budget when it is active.
package vulkan

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/ext_memory_budget"
	"github.com/vkngwrapper/gpumem/memutils"
	"github.com/vkngwrapper/gpumem/native"
)

// Device adapts a Vulkan device to native.Device
type Device struct {
	logger          *slog.Logger
	useMutex        bool
	callbacks       *driver.AllocationCallbacks
	device          core1_0.Device
	extensionData   *extensionData
	integratedGPU   bool
	heapTier        native.HeapTier
	heapLimits      []int
	nonCoherentAtom uint

	deviceProperties  *core1_0.PhysicalDeviceProperties
	memoryProperties  *core1_0.PhysicalDeviceMemoryProperties
	memoryTypeIndices [native.HeapTypeCount]int

	// Number of live VkDeviceMemory objects
	memoryCount uint32
	// Bytes and objects allocated from each Vulkan memory heap
	blockCount [common.MaxMemoryHeaps]int32
	blockBytes [common.MaxMemoryHeaps]int64
}

var _ native.Device = &Device{}

// New creates a Device
//
// instance - The instance that owns the provided Device
//
// physicalDevice - The PhysicalDevice that owns the provided Device
//
// device - The Device that heaps and resources will be created from
func New(logger *slog.Logger, instance core1_0.Instance, physicalDevice core1_0.PhysicalDevice, device core1_0.Device, options CreateOptions) (*Device, error) {
	deviceProperties, err := physicalDevice.Properties()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read physical device properties")
	}

	return newDevice(
		logger,
		device,
		deviceProperties,
		physicalDevice.MemoryProperties(),
		newExtensionData(instance, physicalDevice, device),
		options,
	)
}

func newDevice(
	logger *slog.Logger,
	device core1_0.Device,
	deviceProperties *core1_0.PhysicalDeviceProperties,
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties,
	extensions *extensionData,
	options CreateOptions,
) (*Device, error) {
	if deviceProperties.Limits == nil {
		return nil, errors.New("physical device properties carry no limits")
	}

	heapCount := len(memoryProperties.MemoryHeaps)
	if len(options.HeapSizeLimits) > 0 && len(options.HeapSizeLimits) != heapCount {
		return nil, errors.Newf("vulkan.CreateOptions.HeapSizeLimits has %d entries, but the physical device has %d memory heaps", len(options.HeapSizeLimits), heapCount)
	}

	granularity := max(1, deviceProperties.Limits.BufferImageGranularity)
	if err := memutils.CheckPow2(granularity, "device bufferImageGranularity"); err != nil {
		return nil, err
	}
	atomSize := max(1, deviceProperties.Limits.NonCoherentAtomSize)
	if err := memutils.CheckPow2(atomSize, "device nonCoherentAtomSize"); err != nil {
		return nil, err
	}

	d := &Device{
		logger:           logger,
		useMutex:         options.Flags&CreateExternallySynchronized == 0,
		callbacks:        options.VulkanCallbacks,
		device:           device,
		extensionData:    extensions,
		integratedGPU:    deviceProperties.DriverType == core1_0.PhysicalDeviceTypeIntegratedGPU,
		heapTier:         heapTierFor(deviceProperties.Limits),
		heapLimits:       make([]int, heapCount),
		nonCoherentAtom:  uint(atomSize),
		deviceProperties: deviceProperties,
		memoryProperties: memoryProperties,
	}
	copy(d.heapLimits, options.HeapSizeLimits)

	if options.ForceHeapTier != 0 {
		d.heapTier = options.ForceHeapTier
	}

	for heapType := native.HeapType(0); heapType < native.HeapTypeCount; heapType++ {
		index, err := findMemoryTypeIndex(memoryProperties, heapType, d.integratedGPU)
		if err != nil && heapType == native.HeapTypeDefault {
			return nil, err
		}
		d.memoryTypeIndices[heapType] = index
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Created vulkan device",
		slog.String("heap.tier", d.heapTier.String()),
		slog.Bool("memory.budget", extensions.UseMemoryBudget),
		slog.Bool("integrated", d.integratedGPU),
		slog.Int("memory.type.default", d.memoryTypeIndices[native.HeapTypeDefault]),
		slog.Int("memory.type.upload", d.memoryTypeIndices[native.HeapTypeUpload]),
		slog.Int("memory.type.readback", d.memoryTypeIndices[native.HeapTypeReadback]),
	)

	return d, nil
}

func vulkanError(op string, res common.VkResult, err error) error {
	outOfMemory := res == core1_0.VKErrorOutOfDeviceMemory || res == core1_0.VKErrorOutOfHostMemory
	nativeErr := native.NewError(op, int32(res), outOfMemory)
	if err == nil {
		return nativeErr
	}
	return errors.WithSecondaryError(nativeErr, err)
}

func (d *Device) HeapTier() native.HeapTier { return d.heapTier }

func (d *Device) AdapterMemoryInfo() native.AdapterMemoryInfo {
	return adapterMemoryInfo(d.memoryProperties, d.integratedGPU)
}

// MemoryTypeIndex returns the Vulkan memory type heaps of heapType are allocated from, or -1
// when the device has no suitable type
func (d *Device) MemoryTypeIndex(heapType native.HeapType) int {
	if !heapType.IsValid() {
		return -1
	}
	return d.memoryTypeIndices[heapType]
}

func (d *Device) isHostCoherent(memoryTypeIndex int) bool {
	flags := d.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags
	return flags&core1_0.MemoryPropertyHostCoherent != 0
}

func (d *Device) addBlockAllocation(heapIndex, allocationSize int) error {
	heapLimit := d.heapLimits[heapIndex]
	if heapLimit == 0 {
		atomic.AddInt64(&d.blockBytes[heapIndex], int64(allocationSize))
		atomic.AddInt32(&d.blockCount[heapIndex], 1)
		return nil
	}

	maxSize := heapLimit
	heapSize := d.memoryProperties.MemoryHeaps[heapIndex].Size
	if heapSize < maxSize {
		maxSize = heapSize
	}

	for {
		currentVal := atomic.LoadInt64(&d.blockBytes[heapIndex])
		targetVal := currentVal + int64(allocationSize)

		if targetVal > int64(maxSize) {
			return errors.Wrapf(native.NewError("vkAllocateMemory", int32(core1_0.VKErrorOutOfDeviceMemory), true),
				"memory heap %d limit of %s reached", heapIndex, humanize.IBytes(uint64(maxSize)))
		}

		if atomic.CompareAndSwapInt64(&d.blockBytes[heapIndex], currentVal, targetVal) {
			break
		}
	}

	atomic.AddInt32(&d.blockCount[heapIndex], 1)
	return nil
}

func (d *Device) removeBlockAllocation(heapIndex, allocationSize int) {
	newVal := atomic.AddInt64(&d.blockBytes[heapIndex], int64(-allocationSize))
	if newVal < 0 {
		panic(fmt.Sprintf("block bytes for memory heap %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&d.blockCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("block count for memory heap %d went negative", heapIndex))
	}
}

// AllocatedBytes returns the bytes of VkDeviceMemory currently allocated from a Vulkan memory heap
func (d *Device) AllocatedBytes(heapIndex int) int {
	return int(atomic.LoadInt64(&d.blockBytes[heapIndex]))
}

// CreateHeap allocates one VkDeviceMemory object of the memory type chosen for heapType
func (d *Device) CreateHeap(byteLength int, heapType native.HeapType, flags native.HeapFlags) (heap native.Heap, err error) {
	if byteLength <= 0 || !heapType.IsValid() {
		return nil, errors.Newf("cannot create a %d byte %s heap", byteLength, heapType)
	}

	memoryTypeIndex := d.memoryTypeIndices[heapType]
	if memoryTypeIndex < 0 {
		return nil, errors.Wrapf(native.ErrUnsupported, "no memory type can back %s heaps", heapType)
	}
	heapIndex := d.memoryProperties.MemoryTypes[memoryTypeIndex].HeapIndex

	newDeviceCount := atomic.AddUint32(&d.memoryCount, 1)
	defer func() {
		// If we failed out, roll back the device increment
		if err != nil {
			atomic.AddUint32(&d.memoryCount, ^uint32(0))
		}
	}()

	if int(newDeviceCount) > d.deviceProperties.Limits.MaxMemoryAllocationCount {
		return nil, vulkanError("vkAllocateMemory", core1_0.VKErrorTooManyObjects, nil)
	}

	err = d.addBlockAllocation(heapIndex, byteLength)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			d.removeBlockAllocation(heapIndex, byteLength)
		}
	}()

	memory, res, err := d.device.AllocateMemory(d.callbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  byteLength,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return nil, vulkanError("vkAllocateMemory", res, err)
	}

	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocated device memory",
		slog.String("heap.type", heapType.String()),
		slog.Int("memory.type", memoryTypeIndex),
		slog.Int("memory.heap", heapIndex),
		slog.String("size", humanize.IBytes(uint64(byteLength))),
	)

	return newHeap(d, memory, byteLength, memoryTypeIndex, heapType, flags), nil
}

func (d *Device) releaseHeap(heap *Heap) {
	heap.memory.Free(d.callbacks)

	heapIndex := d.memoryProperties.MemoryTypes[heap.memoryTypeIndex].HeapIndex
	d.removeBlockAllocation(heapIndex, heap.byteLength)
	// Decrement
	atomic.AddUint32(&d.memoryCount, ^uint32(0))

	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Freed device memory",
		slog.Int("memory.type", heap.memoryTypeIndex),
		slog.String("size", humanize.IBytes(uint64(heap.byteLength))),
	)
}

// GetResourceAllocationInfo reads the memory requirements of a temporary buffer or image. Texture
// requirements are raised to the linear footprint so the same region can also hold the linearly
// tiled image created in host visible heaps.
func (d *Device) GetResourceAllocationInfo(desc native.ResourceDescription) (native.AllocationInfo, error) {
	requirements, err := d.temporaryMemoryRequirements(desc)
	if err != nil {
		return native.AllocationInfo{}, err
	}

	info := native.AllocationInfo{
		ByteLength: requirements.Size,
		Alignment:  uint(max(1, requirements.Alignment)),
	}

	if desc.Dimension != native.ResourceDimensionBuffer {
		footprint, err := native.CalculateFootprint(desc, 0, max(1, desc.MipLevels))
		if err != nil {
			return native.AllocationInfo{}, err
		}
		info.ByteLength = max(info.ByteLength, footprint.ByteLength)
		info.Alignment = max(info.Alignment, native.PlacementAlignment)
	}

	return info, nil
}

func (d *Device) temporaryMemoryRequirements(desc native.ResourceDescription) (*core1_0.MemoryRequirements, error) {
	if desc.Dimension == native.ResourceDimensionBuffer {
		buffer, res, err := d.device.CreateBuffer(d.callbacks, bufferCreateInfo(desc))
		if err != nil {
			return nil, vulkanError("vkCreateBuffer", res, err)
		}
		defer buffer.Destroy(d.callbacks)

		return buffer.MemoryRequirements(), nil
	}

	imageInfo, err := imageCreateInfo(desc, false)
	if err != nil {
		return nil, err
	}

	image, res, err := d.device.CreateImage(d.callbacks, imageInfo)
	if err != nil {
		return nil, vulkanError("vkCreateImage", res, err)
	}
	defer image.Destroy(d.callbacks)

	return image.MemoryRequirements(), nil
}

// GetCopyableFootprints returns the linear layout gpumem maps textures with. Vulkan has no
// footprint query, so every backend resource uses the same layout rules.
func (d *Device) GetCopyableFootprints(desc native.ResourceDescription, firstMipLevel, mipLevelCount int) (native.Footprint, error) {
	return native.CalculateFootprint(desc, firstMipLevel, mipLevelCount)
}

// QueryVideoMemoryInfo sums VK_EXT_memory_budget's per heap budget and usage over the Vulkan
// memory heaps belonging to group
func (d *Device) QueryVideoMemoryInfo(group native.MemorySegmentGroup) (native.VideoMemoryInfo, error) {
	if !d.extensionData.UseMemoryBudget {
		return native.VideoMemoryInfo{}, errors.Wrap(native.ErrUnsupported, "VK_EXT_memory_budget is not active")
	}

	budget := ext_memory_budget.PhysicalDeviceMemoryBudgetProperties{}
	properties := core1_1.PhysicalDeviceMemoryProperties2{
		NextOutData: common.NextOutData{Next: &budget},
	}

	err := d.extensionData.MemoryProperties2.MemoryProperties2(&properties)
	if err != nil {
		return native.VideoMemoryInfo{}, errors.Wrap(err, "failed to query memory budget")
	}

	var info native.VideoMemoryInfo
	for heapIndex, heap := range d.memoryProperties.MemoryHeaps {
		if !heapInSegmentGroup(heap, group, d.integratedGPU) {
			continue
		}

		info.Budget += int(budget.HeapBudget[heapIndex])
		info.CurrentUsage += int(budget.HeapUsage[heapIndex])
	}

	return info, nil
}

// CreatePlacedResource creates a buffer or image and binds it to heap's memory at byteOffset.
// Images in host visible heaps use linear tiling.
func (d *Device) CreatePlacedResource(heap native.Heap, byteOffset int, desc native.ResourceDescription) (native.Resource, error) {
	vkHeap, ok := heap.(*Heap)
	if !ok || vkHeap.device != d {
		return nil, errors.Newf("heap %v was not created by this device", heap)
	}
	if !vkHeap.flags.Allows(desc) {
		return nil, errors.Newf("a %s heap with flags %s cannot hold a %s resource", vkHeap.heapType, vkHeap.flags, desc.Dimension)
	}

	if desc.Dimension == native.ResourceDimensionBuffer {
		return d.createPlacedBuffer(vkHeap, byteOffset, desc)
	}
	return d.createPlacedImage(vkHeap, byteOffset, desc)
}

func (d *Device) checkPlacement(heap *Heap, byteOffset int, requirements *core1_0.MemoryRequirements) error {
	if requirements.MemoryTypeBits&(1<<heap.memoryTypeIndex) == 0 {
		return errors.Wrapf(native.ErrUnsupported, "resource cannot use memory type %d", heap.memoryTypeIndex)
	}
	if requirements.Alignment > 1 && !memutils.IsAligned(byteOffset, uint(requirements.Alignment)) {
		return errors.Newf("offset %d does not satisfy the resource alignment of %d", byteOffset, requirements.Alignment)
	}
	if byteOffset < 0 || byteOffset+requirements.Size > heap.byteLength {
		return errors.Newf("resource of %d bytes at offset %d overruns a %d byte heap", requirements.Size, byteOffset, heap.byteLength)
	}
	return nil
}

func (d *Device) createPlacedBuffer(heap *Heap, byteOffset int, desc native.ResourceDescription) (native.Resource, error) {
	buffer, res, err := d.device.CreateBuffer(d.callbacks, bufferCreateInfo(desc))
	if err != nil {
		return nil, vulkanError("vkCreateBuffer", res, err)
	}

	err = d.checkPlacement(heap, byteOffset, buffer.MemoryRequirements())
	if err != nil {
		buffer.Destroy(d.callbacks)
		return nil, err
	}

	res, err = buffer.BindBufferMemory(heap.memory, byteOffset)
	if err != nil {
		buffer.Destroy(d.callbacks)
		return nil, vulkanError("vkBindBufferMemory", res, err)
	}

	return &Resource{
		heap:       heap,
		byteOffset: byteOffset,
		byteLength: desc.Width,
		buffer:     buffer,
	}, nil
}

func (d *Device) createPlacedImage(heap *Heap, byteOffset int, desc native.ResourceDescription) (native.Resource, error) {
	imageInfo, err := imageCreateInfo(desc, heap.heapType != native.HeapTypeDefault)
	if err != nil {
		return nil, err
	}

	image, res, err := d.device.CreateImage(d.callbacks, imageInfo)
	if err != nil {
		return nil, vulkanError("vkCreateImage", res, err)
	}

	requirements := image.MemoryRequirements()
	err = d.checkPlacement(heap, byteOffset, requirements)
	if err != nil {
		image.Destroy(d.callbacks)
		return nil, err
	}

	res, err = image.BindImageMemory(heap.memory, byteOffset)
	if err != nil {
		image.Destroy(d.callbacks)
		return nil, vulkanError("vkBindImageMemory", res, err)
	}

	return &Resource{
		heap:       heap,
		byteOffset: byteOffset,
		byteLength: requirements.Size,
		image:      image,
	}, nil
}
