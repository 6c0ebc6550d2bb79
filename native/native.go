// Package native describes the slice of a low-level GPU API that gpumem consumes. Each native
// object kind is an interface, implemented once per backend by an adapter that owns the native
// handle. gpumem never sees a backend's own types.
package native

import "unsafe"

//go:generate mockgen -source native.go -destination ./mocks/native.go -package mocks

// Device is the native device that heaps and placed resources are created from
type Device interface {
	// HeapTier reports which resource categories may share one heap on this device. It is
	// queried once, when gpumem.Device is created.
	HeapTier() HeapTier
	// AdapterMemoryInfo reports the adapter's memory sizes, used to estimate budgets when
	// QueryVideoMemoryInfo is unavailable
	AdapterMemoryInfo() AdapterMemoryInfo

	// CreateHeap allocates one contiguous block of device memory
	CreateHeap(byteLength int, heapType HeapType, flags HeapFlags) (Heap, error)
	// CreatePlacedResource creates a resource whose memory begins at byteOffset within heap
	CreatePlacedResource(heap Heap, byteOffset int, desc ResourceDescription) (Resource, error)
	// GetResourceAllocationInfo returns the size and alignment a resource requires
	GetResourceAllocationInfo(desc ResourceDescription) (AllocationInfo, error)
	// GetCopyableFootprints returns where a range of mip levels lives within a resource
	GetCopyableFootprints(desc ResourceDescription, firstMipLevel, mipLevelCount int) (Footprint, error)
	// QueryVideoMemoryInfo returns the driver's budget for a memory segment group. Backends
	// without budget support return an error wrapping ErrUnsupported.
	QueryVideoMemoryInfo(group MemorySegmentGroup) (VideoMemoryInfo, error)
}

// Heap is a native heap. It must be released exactly once, after every resource placed in it
// has been released.
type Heap interface {
	Release()
}

// Resource is a native placed resource. It must be released exactly once.
type Resource interface {
	// Map returns a CPU pointer to the start of the subresource. readRange lists the bytes
	// the CPU intends to read, an empty range meaning none.
	Map(subresource int, readRange Range) (unsafe.Pointer, error)
	// Unmap invalidates the pointer returned by Map. writtenRange lists the bytes the CPU
	// wrote, an empty range meaning none.
	Unmap(subresource int, writtenRange Range)
	Release()
}

// AllocationInfo is the size and alignment a resource requires from a heap
type AllocationInfo struct {
	ByteLength int
	Alignment  uint
}

// VideoMemoryInfo is the driver's view of one memory segment group
type VideoMemoryInfo struct {
	Budget       int
	CurrentUsage int
}

// AdapterMemoryInfo describes the memory an adapter reports at creation time
type AdapterMemoryInfo struct {
	DedicatedVideoMemory int
	SharedSystemMemory   int
	// UnifiedMemoryArchitecture is true when CPU and GPU share one physical memory pool
	UnifiedMemoryArchitecture bool
}

// Range is a half-open byte range [Begin, End)
type Range struct {
	Begin int
	End   int
}

// IsEmpty reports whether the range contains no bytes
func (r Range) IsEmpty() bool {
	return r.End <= r.Begin
}

// Length returns the number of bytes in the range
func (r Range) Length() int {
	if r.IsEmpty() {
		return 0
	}
	return r.End - r.Begin
}

// Footprint locates a range of mip levels within a resource's linear layout
type Footprint struct {
	Offset     int
	ByteLength int
	// RowPitch is the byte distance between rows of the first mip level in the range
	RowPitch int
}
