package gpumem

import (
	"fmt"

	"github.com/vkngwrapper/gpumem/memutils/metadata"
)

// NoHeap is the heap id of regions from allocators that do not belong to a MemoryHeap
const NoHeap = -1

// MemoryRegion is a byte range handed out by a MemoryAllocator. It is a plain value: copies
// refer to the same range, and the range remains reserved until exactly one copy is passed
// back to Free.
//
// Regions refer back to their allocator and heap by id rather than by pointer.
type MemoryRegion struct {
	offset      int
	size        int
	handle      metadata.BlockAllocationHandle
	allocatorID uint64
	heapID      int
}

// Offset is the byte offset of the region within its heap
func (r MemoryRegion) Offset() int { return r.offset }

// Size is the byte length of the region
func (r MemoryRegion) Size() int { return r.size }

// End is the offset just past the region's last byte
func (r MemoryRegion) End() int { return r.offset + r.size }

// AllocatorID identifies the MemoryAllocator that produced the region
func (r MemoryRegion) AllocatorID() uint64 { return r.allocatorID }

// HeapID identifies the MemoryHeap the region lives in within its manager, or NoHeap
func (r MemoryRegion) HeapID() int { return r.heapID }

// IsValid reports whether the region was produced by an allocator. The zero MemoryRegion is
// not valid.
func (r MemoryRegion) IsValid() bool { return r.allocatorID != 0 }

// Overlaps reports whether the two regions share any byte. Regions from different
// allocators never overlap.
func (r MemoryRegion) Overlaps(other MemoryRegion) bool {
	if r.allocatorID != other.allocatorID {
		return false
	}
	return r.offset < other.End() && other.offset < r.End()
}

func (r MemoryRegion) String() string {
	return fmt.Sprintf("MemoryRegion{heap: %d, offset: %d, size: %d}", r.heapID, r.offset, r.size)
}
