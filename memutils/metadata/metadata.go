package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gpumem/memutils"
)

// RegionVisitor is called once per region by BlockMetadata.VisitAllRegions. free is true for
// unused ranges, in which case userData is nil.
type RegionVisitor func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error

// BlockMetadata tracks which parts of a single contiguous block of memory are in use. It does not
// touch the memory itself: consumers ask it where a new region should go, commit that decision,
// and later hand the region's handle back to free it.
//
// BlockMetadata implementations are not safe for concurrent use.
type BlockMetadata interface {
	// Init must be called once before the metadata is used. size is the size in bytes of the
	// block being managed.
	Init(size int)
	// Size returns the size in bytes the metadata was initialized with
	Size() int

	// Validate performs internal consistency checks, which may be expensive. A correct
	// implementation never returns an error from this method.
	Validate() error
	// AllocationCount returns the number of live regions
	AllocationCount() int
	// FreeRegionsCount returns the number of contiguous free ranges
	FreeRegionsCount() int
	// SumFreeSize returns the number of unused bytes in the block
	SumFreeSize() int
	// IsEmpty returns true if the block has no live regions
	IsEmpty() bool

	// VisitAllRegions calls the visitor once for each live region and each free range, in no
	// particular order. Meant for diagnostics.
	VisitAllRegions(visitor RegionVisitor) error
	// AllocationOffset returns the offset in bytes of the region identified by the handle
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)
	// AllocationSize returns the size in bytes of the region identified by the handle
	AllocationSize(allocHandle BlockAllocationHandle) (int, error)
	// AllocationUserData returns the value passed to Alloc for a live region
	AllocationUserData(allocHandle BlockAllocationHandle) (any, error)

	// AddDetailedStatistics sums this block's usage into stats
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's usage into stats
	AddStatistics(stats *memutils.Statistics)

	// Clear frees every region at once
	Clear()
	// BlockJsonData writes summary fields for this block into an open json object
	BlockJsonData(json *jwriter.ObjectState)

	// CreateAllocationRequest finds a place for a new region without committing it. The bool
	// return is false when no free range can hold the region, which is not an error. Errors are
	// returned for invalid arguments only.
	//
	// allocType is an opaque consumer value that is stored alongside the region.
	CreateAllocationRequest(
		allocSize int, allocAlignment uint,
		allocType uint32,
		strategy AllocationStrategy,
	) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest returned by CreateAllocationRequest. No other mutation
	// may happen between the two calls.
	Alloc(request AllocationRequest, userData any) error
	// Free returns a live region to the free ranges of the block
	Free(allocHandle BlockAllocationHandle) error
}
