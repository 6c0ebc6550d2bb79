package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/gpumem/internal/utils"
	"github.com/vkngwrapper/gpumem/memutils"
	"github.com/vkngwrapper/gpumem/native"
)

// Heap is one VkDeviceMemory object. Vulkan allows a single mapping per memory object, so
// the whole object is mapped once and shared by every resource placed in it, counting
// references.
type Heap struct {
	device          *Device
	memory          core1_0.DeviceMemory
	byteLength      int
	memoryTypeIndex int
	heapType        native.HeapType
	flags           native.HeapFlags
	coherent        bool

	mapMutex      utils.OptionalMutex
	mapReferences int
	mapData       unsafe.Pointer
	released      bool
}

var _ native.Heap = &Heap{}

func newHeap(device *Device, memory core1_0.DeviceMemory, byteLength, memoryTypeIndex int, heapType native.HeapType, flags native.HeapFlags) *Heap {
	return &Heap{
		device:          device,
		memory:          memory,
		byteLength:      byteLength,
		memoryTypeIndex: memoryTypeIndex,
		heapType:        heapType,
		flags:           flags,
		coherent:        device.isHostCoherent(memoryTypeIndex),
		mapMutex: utils.OptionalMutex{
			UseMutex: device.useMutex,
		},
	}
}

// DeviceMemory returns the memory object backing the heap
func (h *Heap) DeviceMemory() core1_0.DeviceMemory { return h.memory }

func (h *Heap) MemoryTypeIndex() int { return h.memoryTypeIndex }
func (h *Heap) ByteLength() int      { return h.byteLength }

// MapReferences returns the number of outstanding mappings of the memory object
func (h *Heap) MapReferences() int {
	h.mapMutex.Lock()
	defer h.mapMutex.Unlock()

	return h.mapReferences
}

func (h *Heap) mapMemory() (unsafe.Pointer, error) {
	if h.heapType == native.HeapTypeDefault {
		return nil, errors.Wrapf(native.ErrUnsupported, "%s heaps cannot be mapped", h.heapType)
	}

	h.mapMutex.Lock()
	defer h.mapMutex.Unlock()

	if h.mapReferences > 0 {
		if h.mapData == nil {
			return nil, errors.New("the heap is showing existing memory mapping references, but no mapped memory")
		}

		h.mapReferences++
		return h.mapData, nil
	}

	mappedData, res, err := h.memory.Map(0, common.WholeSize, 0)
	if err != nil {
		return nil, vulkanError("vkMapMemory", res, err)
	}

	h.mapData = mappedData
	h.mapReferences = 1
	return mappedData, nil
}

func (h *Heap) unmapMemory() {
	h.mapMutex.Lock()
	defer h.mapMutex.Unlock()

	if h.mapReferences == 0 {
		panic("heap has more references being unmapped than are currently mapped")
	}

	h.mapReferences--
	if h.mapReferences == 0 {
		h.memory.Unmap()
		h.mapData = nil
	}
}

// atomRange widens [offset, offset+size) to the device's nonCoherentAtomSize, clamped to
// the end of the heap
func (h *Heap) atomRange(offset, size int) core1_0.MappedMemoryRange {
	atom := h.device.nonCoherentAtom
	begin := memutils.AlignDown(offset, atom)
	end := min(memutils.AlignUp(offset+size, atom), h.byteLength)

	return core1_0.MappedMemoryRange{
		Memory: h.memory,
		Offset: begin,
		Size:   end - begin,
	}
}

// invalidate makes GPU writes to a byte range visible to the CPU. Coherent memory needs nothing.
func (h *Heap) invalidate(offset, size int) error {
	if h.coherent || size <= 0 {
		return nil
	}

	res, err := h.device.device.InvalidateMappedMemoryRanges([]core1_0.MappedMemoryRange{h.atomRange(offset, size)})
	if err != nil {
		return vulkanError("vkInvalidateMappedMemoryRanges", res, err)
	}
	return nil
}

// flush makes CPU writes to a byte range visible to the GPU. Coherent memory needs nothing.
func (h *Heap) flush(offset, size int) error {
	if h.coherent || size <= 0 {
		return nil
	}

	res, err := h.device.device.FlushMappedMemoryRanges([]core1_0.MappedMemoryRange{h.atomRange(offset, size)})
	if err != nil {
		return vulkanError("vkFlushMappedMemoryRanges", res, err)
	}
	return nil
}

// Release frees the memory object. Resources placed in the heap must already be released.
func (h *Heap) Release() {
	h.mapMutex.Lock()
	defer h.mapMutex.Unlock()

	if h.released {
		panic("attempting to release a heap that has already been released")
	}
	if h.mapReferences > 0 {
		h.memory.Unmap()
		h.mapData = nil
		h.mapReferences = 0
	}

	h.released = true
	h.device.releaseHeap(h)
}
