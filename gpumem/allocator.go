package gpumem

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gpumem/internal/utils"
	"github.com/vkngwrapper/gpumem/memutils"
	"github.com/vkngwrapper/gpumem/memutils/metadata"
)

var nextAllocatorID atomic.Uint64

// AllocatorOptions configures a MemoryAllocator
type AllocatorOptions struct {
	// ExternallySynchronized skips the allocator's internal lock
	ExternallySynchronized bool
	// DebugValidation validates the metadata after every mutation and panics on corruption
	DebugValidation bool
}

// MemoryAllocator carves regions out of a fixed range of bytes. It does not touch memory:
// the range may be a native heap or a sub-range of a buffer.
//
// Every successful allocation and every free advances OperationCount, which drives budget
// refresh cadence.
type MemoryAllocator struct {
	id              uint64
	heapID          int
	debugValidation bool

	mutex          utils.OptionalMutex
	metadata       *metadata.TLSFBlockMetadata
	operationCount atomic.Uint64
}

// NewMemoryAllocator creates an allocator managing byteLength bytes starting at offset 0
func NewMemoryAllocator(byteLength int, options AllocatorOptions) (*MemoryAllocator, error) {
	if byteLength <= 0 {
		return nil, invalidArgument("allocator byte length must be positive, but was %d", byteLength)
	}

	return newMemoryAllocator(byteLength, options), nil
}

func newMemoryAllocator(byteLength int, options AllocatorOptions) *MemoryAllocator {
	allocator := &MemoryAllocator{}
	allocator.init(byteLength, NoHeap, options)
	return allocator
}

func (a *MemoryAllocator) init(byteLength int, heapID int, options AllocatorOptions) {
	a.id = nextAllocatorID.Add(1)
	a.heapID = heapID
	a.debugValidation = options.DebugValidation
	a.mutex = utils.OptionalMutex{
		UseMutex: !options.ExternallySynchronized,
	}
	a.metadata = metadata.NewTLSFBlockMetadata()
	a.metadata.Init(byteLength)
}

// ID uniquely identifies the allocator within the process
func (a *MemoryAllocator) ID() uint64 { return a.id }

// TryAllocate reserves byteLength bytes at a multiple of byteAlignment. The bool return is
// false when no free range can hold the region, which leaves the allocator untouched and is
// not an error. Errors are returned only for invalid arguments.
func (a *MemoryAllocator) TryAllocate(byteLength int, byteAlignment uint, flags AllocationFlags) (MemoryRegion, bool, error) {
	return a.allocate(byteLength, byteAlignment, flags, 0, nil)
}

func (a *MemoryAllocator) allocate(byteLength int, byteAlignment uint, flags AllocationFlags, allocType uint32, userData any) (MemoryRegion, bool, error) {
	if byteLength <= 0 {
		return MemoryRegion{}, false, invalidArgument("region byte length must be positive, but was %d", byteLength)
	}
	err := memutils.CheckPow2(byteAlignment, "region byte alignment")
	if err != nil {
		return MemoryRegion{}, false, errors.Mark(err, ErrInvalidArgument)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if byteLength > a.metadata.SumFreeSize() {
		return MemoryRegion{}, false, nil
	}

	// Dedicated regions take the whole range, so only an empty allocator can serve them
	if flags.IsDedicated() {
		if !a.metadata.IsEmpty() {
			return MemoryRegion{}, false, nil
		}
		byteLength = a.metadata.Size()
	}

	success, request, err := a.metadata.CreateAllocationRequest(byteLength, byteAlignment, allocType, flags.Strategy())
	if err != nil {
		return MemoryRegion{}, false, errors.Mark(err, ErrInvalidArgument)
	} else if !success {
		return MemoryRegion{}, false, nil
	}

	err = a.metadata.Alloc(request, userData)
	if err != nil {
		return MemoryRegion{}, false, err
	}
	memutils.DebugValidate(a.debugValidation, a.metadata)
	a.operationCount.Add(1)

	return MemoryRegion{
		offset:      request.Offset,
		size:        request.Size,
		handle:      request.BlockAllocationHandle,
		allocatorID: a.id,
		heapID:      a.heapID,
	}, true, nil
}

// Free returns a region to the allocator. Regions produced by another allocator and regions
// that were already freed are rejected.
func (a *MemoryAllocator) Free(region MemoryRegion) error {
	if region.allocatorID != a.id {
		return invalidArgument("region from allocator %d was freed to allocator %d", region.allocatorID, a.id)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	err := a.metadata.Free(region.handle)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to free %s", region), ErrInvalidArgument)
	}
	memutils.DebugValidate(a.debugValidation, a.metadata)
	a.operationCount.Add(1)

	return nil
}

// Clear releases every region at once. Each released region counts as one operation.
func (a *MemoryAllocator) Clear() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	released := a.metadata.AllocationCount()
	a.metadata.Clear()
	memutils.DebugValidate(a.debugValidation, a.metadata)
	a.operationCount.Add(uint64(released))
}

// OperationCount returns the number of allocations and frees performed so far
func (a *MemoryAllocator) OperationCount() uint64 {
	return a.operationCount.Load()
}

// TotalBytes returns the size of the managed range
func (a *MemoryAllocator) TotalBytes() int {
	return a.metadata.Size()
}

// FreeBytes returns the number of bytes not covered by a live region
func (a *MemoryAllocator) FreeBytes() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.metadata.SumFreeSize()
}

// RegionCount returns the number of live regions
func (a *MemoryAllocator) RegionCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.metadata.AllocationCount()
}

// IsEmpty reports whether the allocator has no live regions
func (a *MemoryAllocator) IsEmpty() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.metadata.IsEmpty()
}

// Validate checks the allocator's bookkeeping for internal consistency
func (a *MemoryAllocator) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.metadata.Validate()
}

func (a *MemoryAllocator) AddStatistics(stats *memutils.Statistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.metadata.AddStatistics(stats)
}

func (a *MemoryAllocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.metadata.AddDetailedStatistics(stats)
}

// VisitRegions calls visitor for every live region and free range
func (a *MemoryAllocator) VisitRegions(visitor metadata.RegionVisitor) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.metadata.VisitAllRegions(visitor)
}

func (a *MemoryAllocator) printDetailedMap(json *jwriter.ObjectState) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.metadata.BlockJsonData(json)

	regions := json.Name("Map").Array()
	a.metadata.PrintDetailedMap(&regions, regionTypeName)
	regions.End()
}

func regionTypeName(allocType uint32) string {
	if allocType == 0 {
		return "REGION"
	}
	return ResourceCategory(allocType - 1).String()
}
