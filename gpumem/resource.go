package gpumem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gpumem/native"
)

// resource is the part of Buffer and Texture that owns memory. The native resource is
// placed at the region's offset within the region's heap and is released before the region
// is returned to the heap.
type resource struct {
	logger     *slog.Logger
	manager    *MemoryManager
	region     MemoryRegion
	native     native.Resource
	desc       native.ResourceDescription
	name       string
	byteLength int
	cpuAccess  CPUAccess

	mutex      sync.Mutex
	mapCount   int
	mappedData unsafe.Pointer
	written    bool
	viewCount  int
	destroyed  bool
}

// placeResource allocates memory for desc from manager, places a native resource in it and
// fills r. Nothing remains allocated when an error is returned.
func (d *Device) placeResource(r *resource, manager *MemoryManager, desc native.ResourceDescription, category ResourceCategory, cpuAccess CPUAccess, flags AllocationFlags, name string) error {
	info, err := d.native.GetResourceAllocationInfo(desc)
	if err != nil {
		return wrapNative(err, "failed to get allocation info for %s", desc.Dimension)
	}
	if info.ByteLength <= 0 {
		return errors.Newf("device reported an allocation size of %d for %s", info.ByteLength, desc.Dimension)
	}
	if info.Alignment == 0 {
		info.Alignment = 1
	}

	region, err := manager.allocate(info.ByteLength, info.Alignment, flags, uint32(category)+1, name)
	if err != nil {
		return err
	}

	heap, ok := manager.Heap(region.HeapID())
	if !ok {
		panic(fmt.Sprintf("allocated %s from a heap the manager does not hold", region))
	}

	nativeResource, err := d.native.CreatePlacedResource(heap.Native(), region.Offset(), desc)
	if err != nil {
		freeErr := manager.Free(region)
		if freeErr != nil {
			panic(fmt.Sprintf("unexpected error when freeing a region after failed resource placement: %+v", freeErr))
		}
		return wrapNative(err, "failed to place %s at offset %d of heap %d", desc.Dimension, region.Offset(), heap.ID())
	}

	r.logger = d.logger
	r.manager = manager
	r.region = region
	r.native = nativeResource
	r.desc = desc
	r.name = name
	r.byteLength = info.ByteLength
	r.cpuAccess = cpuAccess
	return nil
}

// Name is the debug name the resource was created with
func (r *resource) Name() string { return r.name }

// ByteLength is the number of bytes the resource occupies
func (r *resource) ByteLength() int { return r.byteLength }

// CPUAccess is how the CPU may reach the resource's memory
func (r *resource) CPUAccess() CPUAccess { return r.cpuAccess }

// Region is the memory region backing the resource
func (r *resource) Region() MemoryRegion { return r.region }

// Manager is the memory manager the resource's memory came from
func (r *resource) Manager() *MemoryManager { return r.manager }

// Native returns the native resource. It is nil once the resource has been destroyed.
func (r *resource) Native() native.Resource { return r.native }

// Description is the native description the resource was created from
func (r *resource) Description() native.ResourceDescription { return r.desc }

// Map returns a pointer to the start of the resource's memory. The first Map performs the
// native map; later calls reuse the same address until every Map has been matched by Unmap or
// UnmapAndWrite. Readback resources are always mapped for reading, since a later MapForRead
// reuses the same mapping.
func (r *resource) Map() (unsafe.Pointer, error) {
	if r.cpuAccess == CPUAccessNone {
		return nil, invalidArgument("resource %q has no CPU access and cannot be mapped", r.name)
	}

	return r.mapMemory()
}

// MapForRead is Map for resources the CPU reads back. It requires CPUAccessRead.
func (r *resource) MapForRead() (unsafe.Pointer, error) {
	if r.cpuAccess != CPUAccessRead {
		return nil, invalidArgument("resource %q has %s CPU access and cannot be mapped for reading", r.name, r.cpuAccess)
	}

	return r.mapMemory()
}

func (r *resource) readRange() native.Range {
	if r.cpuAccess != CPUAccessRead {
		return native.Range{}
	}
	return native.Range{Begin: 0, End: r.byteLength}
}

func (r *resource) mapMemory() (unsafe.Pointer, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.destroyed {
		return nil, invalidArgument("resource %q has been destroyed", r.name)
	}

	if r.mapCount == 0 {
		data, err := r.native.Map(0, r.readRange())
		if err != nil {
			return nil, wrapNative(err, "failed to map resource %q", r.name)
		}
		r.mappedData = data
		r.written = false
	}

	r.mapCount++
	return r.mappedData, nil
}

// Unmap releases one Map. The native unmap happens when the last Map is released. Calling
// Unmap more often than Map panics.
func (r *resource) Unmap() {
	r.unmap(false)
}

// UnmapAndWrite is Unmap for callers that wrote through the mapped pointer. It requires
// CPUAccessWrite.
func (r *resource) UnmapAndWrite() error {
	if r.cpuAccess != CPUAccessWrite {
		return invalidArgument("resource %q has %s CPU access and cannot be written", r.name, r.cpuAccess)
	}

	r.unmap(true)
	return nil
}

func (r *resource) unmap(written bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.mapCount <= 0 {
		panic(fmt.Sprintf("resource %q was unmapped more times than it was mapped", r.name))
	}

	r.written = r.written || written
	r.mapCount--
	if r.mapCount > 0 {
		return
	}

	var writtenRange native.Range
	if r.written {
		writtenRange = native.Range{Begin: 0, End: r.byteLength}
	}
	r.native.Unmap(0, writtenRange)
	r.mappedData = nil
	r.written = false
}

// MapCount returns the number of outstanding Map calls
func (r *resource) MapCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.mapCount
}

func (r *resource) acquireView() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.destroyed {
		return invalidArgument("resource %q has been destroyed", r.name)
	}
	r.viewCount++
	return nil
}

func (r *resource) releaseView() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.viewCount <= 0 {
		panic(fmt.Sprintf("resource %q released more views than it created", r.name))
	}
	r.viewCount--
}

// ViewCount returns the number of live views of the resource
func (r *resource) ViewCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.viewCount
}

func (r *resource) destroy() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.destroyed {
		return invalidArgument("resource %q has already been destroyed", r.name)
	}
	if r.viewCount > 0 {
		return errors.Wrapf(ErrResourceInUse, "resource %q has %d live views", r.name, r.viewCount)
	}

	if r.mapCount > 0 {
		r.logger.LogAttrs(context.Background(), slog.LevelWarn, "Destroying a mapped resource",
			slog.String("name", r.name),
			slog.Int("mapCount", r.mapCount),
		)
		r.native.Unmap(0, native.Range{})
		r.mapCount = 0
		r.mappedData = nil
	}

	r.native.Release()
	r.native = nil
	r.destroyed = true

	return r.manager.Free(r.region)
}
