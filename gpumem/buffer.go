package gpumem

import (
	"context"
	"log/slog"

	"github.com/vkngwrapper/gpumem/memutils"
	"github.com/vkngwrapper/gpumem/native"
)

// ConstantBufferViewAlignment is the alignment of views into constant buffers
const ConstantBufferViewAlignment uint = 256

// BufferCreateInfo describes a buffer to create
type BufferCreateInfo struct {
	Kind       BufferKind
	ByteLength int
	CPUAccess  CPUAccess
	Flags      AllocationFlags
	// Name is used in logs and statistics
	Name string
}

// Buffer is a linear GPU resource. Views into a buffer are packed into its memory by a
// nested MemoryAllocator, created the first time a view is.
type Buffer struct {
	resource

	kind            BufferKind
	debugValidation bool
	viewAllocator   *MemoryAllocator
}

// CreateBuffer allocates memory for a buffer and places the buffer in it
func (d *Device) CreateBuffer(info BufferCreateInfo) (*Buffer, error) {
	if !info.Kind.IsValid() {
		return nil, invalidArgument("undefined buffer kind %d", int32(info.Kind))
	}
	if info.ByteLength <= 0 {
		return nil, invalidArgument("buffer byte length must be positive, but was %d", info.ByteLength)
	}
	if !info.CPUAccess.IsValid() {
		return nil, invalidArgument("undefined cpu access %d", int32(info.CPUAccess))
	}

	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Device::CreateBuffer",
		slog.String("name", info.Name),
		slog.String("kind", info.Kind.String()),
		slog.Int("size", info.ByteLength),
		slog.String("cpuAccess", info.CPUAccess.String()),
	)

	desc := native.ResourceDescription{
		Dimension:        native.ResourceDimensionBuffer,
		Width:            info.ByteLength,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
	}
	if info.Kind == BufferKindStorage {
		desc.Flags |= native.ResourceFlagAllowUnorderedAccess
	}

	buffer := &Buffer{
		kind:            info.Kind,
		debugValidation: d.options.DebugValidation,
	}

	manager := d.managers[d.managerIndex(info.CPUAccess, ResourceCategoryBuffer)]
	err := d.placeResource(&buffer.resource, manager, desc, ResourceCategoryBuffer, info.CPUAccess, info.Flags, info.Name)
	if err != nil {
		return nil, err
	}
	buffer.byteLength = info.ByteLength

	return buffer, nil
}

func (b *Buffer) Kind() BufferKind { return b.kind }

// CreateView reserves elementCount elements of bytesPerElement bytes each within the buffer.
// Views of constant buffers are aligned to ConstantBufferViewAlignment, others to the
// element size rounded up to a power of two. ErrOutOfMemory is returned when the buffer has
// no free range large enough.
func (b *Buffer) CreateView(elementCount, bytesPerElement int) (*BufferView, error) {
	if elementCount <= 0 {
		return nil, invalidArgument("view element count must be positive, but was %d", elementCount)
	}
	if bytesPerElement <= 0 {
		return nil, invalidArgument("view bytes per element must be positive, but was %d", bytesPerElement)
	}
	if elementCount > b.byteLength/bytesPerElement {
		return nil, invalidArgument("a view of %d elements of %d bytes does not fit in buffer %q of %d bytes", elementCount, bytesPerElement, b.name, b.byteLength)
	}

	byteLength := elementCount * bytesPerElement
	alignment := memutils.NextPow2(bytesPerElement)
	if b.kind == BufferKindConstant {
		alignment = ConstantBufferViewAlignment
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.destroyed {
		return nil, invalidArgument("buffer %q has been destroyed", b.name)
	}

	if b.viewAllocator == nil {
		b.viewAllocator = newMemoryAllocator(b.byteLength, AllocatorOptions{
			DebugValidation: b.debugValidation,
		})
	}

	region, success, err := b.viewAllocator.TryAllocate(byteLength, alignment, 0)
	if err != nil {
		return nil, err
	} else if !success {
		return nil, outOfMemory("buffer %q has no room for a view of %d bytes aligned to %d", b.name, byteLength, alignment)
	}
	b.viewCount++

	return &BufferView{
		buffer:          b,
		region:          region,
		elementCount:    elementCount,
		bytesPerElement: bytesPerElement,
	}, nil
}

func (b *Buffer) freeView(region MemoryRegion) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.viewCount <= 0 {
		panic("buffer released more views than it created")
	}

	err := b.viewAllocator.Free(region)
	if err != nil {
		return err
	}
	b.viewCount--
	return nil
}

// Destroy releases the buffer and returns its memory to its heap. It fails with
// ErrResourceInUse while views are alive.
func (b *Buffer) Destroy() error {
	return b.destroy()
}
