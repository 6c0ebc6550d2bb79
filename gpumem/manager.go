package gpumem

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gpumem/internal/utils"
	"github.com/vkngwrapper/gpumem/memutils"
	"github.com/vkngwrapper/gpumem/native"
)

// MemoryManager owns the heaps for one heap type and placement restriction. Requests are
// served from existing heaps in creation order, and a new heap is created only when none of
// them has room.
type MemoryManager struct {
	logger  *slog.Logger
	device  native.Device
	budget  *BudgetTracker
	index   int
	segment native.MemorySegmentGroup

	heapType          native.HeapType
	heapFlags         native.HeapFlags
	heapByteLength    int
	minimumHeapCount  int
	releaseEmptyHeaps bool
	allocatorOptions  AllocatorOptions

	mutex      utils.OptionalRWMutex
	heaps      []*MemoryHeap
	heapsByID  *swiss.Map[int, *MemoryHeap]
	nextHeapID int

	// retiredOperations holds the operation counts of released heaps, so OperationCount
	// never goes backward
	retiredOperations atomic.Uint64
	committedBytes    atomic.Int64
}

type memoryManagerOptions struct {
	index             int
	segment           native.MemorySegmentGroup
	heapType          native.HeapType
	heapFlags         native.HeapFlags
	heapByteLength    int
	minimumHeapCount  int
	releaseEmptyHeaps bool
	useMutex          bool
	debugValidation   bool
}

func newMemoryManager(logger *slog.Logger, device native.Device, budget *BudgetTracker, options memoryManagerOptions) *MemoryManager {
	return &MemoryManager{
		logger:            logger,
		device:            device,
		budget:            budget,
		index:             options.index,
		segment:           options.segment,
		heapType:          options.heapType,
		heapFlags:         options.heapFlags,
		heapByteLength:    options.heapByteLength,
		minimumHeapCount:  options.minimumHeapCount,
		releaseEmptyHeaps: options.releaseEmptyHeaps,
		allocatorOptions: AllocatorOptions{
			ExternallySynchronized: !options.useMutex,
			DebugValidation:        options.debugValidation,
		},
		mutex: utils.OptionalRWMutex{
			UseMutex: options.useMutex,
		},
		heapsByID: swiss.NewMap[int, *MemoryHeap](8),
	}
}

// Index is the manager's position in its device's manager list
func (m *MemoryManager) Index() int { return m.index }

func (m *MemoryManager) HeapType() native.HeapType   { return m.heapType }
func (m *MemoryManager) HeapFlags() native.HeapFlags { return m.heapFlags }

// MemorySegmentGroup is the budget segment the manager's heaps draw from
func (m *MemoryManager) MemorySegmentGroup() native.MemorySegmentGroup { return m.segment }

// DefaultHeapByteLength is the size of heaps created for requests smaller than it
func (m *MemoryManager) DefaultHeapByteLength() int { return m.heapByteLength }

func (m *MemoryManager) String() string {
	return fmt.Sprintf("MemoryManager{index: %d, type: %s, flags: %s}", m.index, m.heapType, m.heapFlags)
}

func (m *MemoryManager) createMinimumHeaps() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for len(m.heaps) < m.minimumHeapCount {
		_, err := m.createHeap(m.heapByteLength)
		if err != nil {
			return err
		}
	}

	return nil
}

// Allocate reserves byteLength bytes at a multiple of byteAlignment in one of the manager's
// heaps, creating a heap if no existing one has room. It fails with ErrOutOfMemory when a
// heap is needed and AllocationNeverAllocate is set, when AllocationWithinBudget is set and
// a new heap would exceed the segment's budget, or when the device cannot create the heap.
func (m *MemoryManager) Allocate(byteLength int, byteAlignment uint, flags AllocationFlags) (MemoryRegion, error) {
	return m.allocate(byteLength, byteAlignment, flags, 0, nil)
}

func (m *MemoryManager) allocate(byteLength int, byteAlignment uint, flags AllocationFlags, allocType uint32, userData any) (MemoryRegion, error) {
	if byteLength <= 0 {
		return MemoryRegion{}, invalidArgument("region byte length must be positive, but was %d", byteLength)
	}
	err := memutils.CheckPow2(byteAlignment, "region byte alignment")
	if err != nil {
		return MemoryRegion{}, errors.Mark(err, ErrInvalidArgument)
	}

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "MemoryManager::Allocate",
		slog.Int("manager.index", m.index),
		slog.Int("size", byteLength),
		slog.Uint64("alignment", uint64(byteAlignment)),
		slog.String("flags", flags.String()),
	)

	region, success, err := m.allocateFromExistingHeaps(byteLength, byteAlignment, flags, allocType, userData)
	if err != nil || success {
		return region, err
	}

	if flags&AllocationNeverAllocate != 0 {
		return MemoryRegion{}, outOfMemory("no %s heap can hold %d bytes and heap creation is forbidden", m.heapType, byteLength)
	}

	heapByteLength := m.newHeapByteLength(byteLength, flags)
	if flags&AllocationWithinBudget != 0 {
		budget, err := m.budget.GetBudget(m)
		if err != nil {
			return MemoryRegion{}, err
		}

		if budget.EstimatedUsage+heapByteLength > budget.EstimatedBudget {
			return MemoryRegion{}, outOfMemory("creating a %s heap would exceed the %s memory budget: usage %s, budget %s",
				humanize.IBytes(uint64(heapByteLength)), m.segment, humanize.IBytes(uint64(budget.EstimatedUsage)), humanize.IBytes(uint64(budget.EstimatedBudget)))
		}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Another caller may have grown the manager while we waited for the lock
	region, success, err = m.probeHeaps(byteLength, byteAlignment, flags, allocType, userData)
	if err != nil || success {
		return region, err
	}

	heap, err := m.createHeap(heapByteLength)
	if err != nil {
		return MemoryRegion{}, err
	}

	region, success, err = heap.allocate(byteLength, byteAlignment, flags, allocType, userData)
	if err != nil {
		return MemoryRegion{}, err
	} else if !success {
		panic(fmt.Sprintf("created heap %d of size %d to hold a region of size %d, but the region did not fit", heap.id, heap.TotalBytes(), byteLength))
	}

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from new heap", slog.Int("heap.id", heap.id))
	return region, nil
}

func (m *MemoryManager) newHeapByteLength(byteLength int, flags AllocationFlags) int {
	alignedLength := memutils.AlignUp(byteLength, HeapAlignment)
	if flags.IsDedicated() {
		return alignedLength
	}
	return max(m.heapByteLength, alignedLength)
}

func (m *MemoryManager) allocateFromExistingHeaps(byteLength int, byteAlignment uint, flags AllocationFlags, allocType uint32, userData any) (MemoryRegion, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.probeHeaps(byteLength, byteAlignment, flags, allocType, userData)
}

func (m *MemoryManager) probeHeaps(byteLength int, byteAlignment uint, flags AllocationFlags, allocType uint32, userData any) (MemoryRegion, bool, error) {
	for _, heap := range m.heaps {
		if heap == nil {
			panic("a nil heap was found in this memory manager")
		}

		region, success, err := heap.allocate(byteLength, byteAlignment, flags, allocType, userData)
		if err != nil {
			return MemoryRegion{}, false, err
		} else if success {
			m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from existing heap", slog.Int("heap.id", heap.id))
			return region, true, nil
		}
	}

	return MemoryRegion{}, false, nil
}

// createHeap must be called with the write lock held
func (m *MemoryManager) createHeap(byteLength int) (*MemoryHeap, error) {
	nativeHeap, err := m.device.CreateHeap(byteLength, m.heapType, m.heapFlags)
	if err != nil {
		return nil, wrapNative(err, "failed to create a %s %s heap", humanize.IBytes(uint64(byteLength)), m.heapType)
	}

	heap := newMemoryHeap(m.logger, nativeHeap, m.nextHeapID, byteLength, m.heapType, m.heapFlags, m.allocatorOptions)
	m.nextHeapID++

	m.heaps = append(m.heaps, heap)
	m.heapsByID.Put(heap.id, heap)
	m.committedBytes.Add(int64(byteLength))

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "Created heap",
		slog.Int("manager.index", m.index),
		slog.Int("heap.id", heap.id),
		slog.String("heap.type", m.heapType.String()),
		slog.String("heap.flags", m.heapFlags.String()),
		slog.String("heap.size", humanize.IBytes(uint64(byteLength))),
	)
	return heap, nil
}

// releaseHeap must be called with the write lock held
func (m *MemoryManager) releaseHeap(heap *MemoryHeap) error {
	err := heap.Destroy()
	if err != nil {
		return err
	}

	for heapIndex := 0; heapIndex < len(m.heaps); heapIndex++ {
		if m.heaps[heapIndex] == heap {
			m.heaps = append(m.heaps[:heapIndex], m.heaps[heapIndex+1:]...)
			break
		}
	}
	m.heapsByID.Delete(heap.id)
	m.retiredOperations.Add(heap.OperationCount())
	m.committedBytes.Add(-int64(heap.TotalBytes()))

	return nil
}

// Heap looks up one of the manager's heaps by id
func (m *MemoryManager) Heap(id int) (*MemoryHeap, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.heapsByID.Get(id)
}

func (m *MemoryManager) heapForRegion(region MemoryRegion) (*MemoryHeap, error) {
	if !region.IsValid() {
		return nil, invalidArgument("region was not produced by an allocator")
	}

	heap, ok := m.heapsByID.Get(region.heapID)
	if !ok || heap.id != region.heapID || heap.MemoryAllocator.id != region.allocatorID {
		return nil, invalidArgument("%s does not belong to %s", region, m)
	}

	return heap, nil
}

// Free returns a region to the heap it came from. When ReleaseEmptyHeaps is set and the
// heap becomes empty, surplus empty heaps are released, keeping one spare.
func (m *MemoryManager) Free(region MemoryRegion) error {
	m.mutex.RLock()
	heap, err := m.heapForRegion(region)
	if err == nil {
		err = heap.Free(region)
	}
	m.mutex.RUnlock()

	if err != nil {
		return err
	}

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Freed from heap",
		slog.Int("manager.index", m.index),
		slog.Int("heap.id", region.heapID),
	)

	if m.releaseEmptyHeaps && heap.IsEmpty() {
		m.releaseSurplusHeaps()
	}

	return nil
}

func (m *MemoryManager) releaseSurplusHeaps() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	emptyCount := 0
	for _, heap := range m.heaps {
		if heap.IsEmpty() {
			emptyCount++
		}
	}

	// Release from the back, so the oldest heaps stay put
	for heapIndex := len(m.heaps) - 1; heapIndex >= 0 && emptyCount > 1 && len(m.heaps) > m.minimumHeapCount; heapIndex-- {
		heap := m.heaps[heapIndex]
		if !heap.IsEmpty() {
			continue
		}

		err := m.releaseHeap(heap)
		if err != nil {
			panic(fmt.Sprintf("unexpected failure when releasing empty heap %d: %+v", heap.id, err))
		}
		emptyCount--

		m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Deleted empty heap", slog.Int("heap.id", heap.id))
	}
}

// OperationCount returns the number of allocations and frees performed by every heap this
// manager has ever held
func (m *MemoryManager) OperationCount() uint64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	count := m.retiredOperations.Load()
	for _, heap := range m.heaps {
		count += heap.OperationCount()
	}
	return count
}

// CommittedBytes returns the total size of the manager's heaps
func (m *MemoryManager) CommittedBytes() int {
	return int(m.committedBytes.Load())
}

// FreeBytes returns the number of bytes in the manager's heaps not covered by a live region
func (m *MemoryManager) FreeBytes() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	free := 0
	for _, heap := range m.heaps {
		free += heap.FreeBytes()
	}
	return free
}

// HeapCount returns the number of heaps the manager currently holds
func (m *MemoryManager) HeapCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.heaps)
}

func (m *MemoryManager) AddStatistics(stats *memutils.Statistics) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, heap := range m.heaps {
		heap.AddStatistics(stats)
	}
}

func (m *MemoryManager) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, heap := range m.heaps {
		heap.AddDetailedStatistics(stats)
	}
}

func (m *MemoryManager) printDetailedMap(json *jwriter.ObjectState) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	heaps := json.Name("Heaps").Array()
	defer heaps.End()

	for _, heap := range m.heaps {
		heapObj := heaps.Object()
		heapObj.Name("Id").Int(heap.id)
		heap.printDetailedMap(&heapObj)
		heapObj.End()
	}
}

// Destroy releases every heap. Heaps that still hold live regions are kept and reported in
// the returned error.
func (m *MemoryManager) Destroy() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var result *multierror.Error
	for _, heap := range append([]*MemoryHeap(nil), m.heaps...) {
		err := m.releaseHeap(heap)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to destroy %s", m))
		}
	}

	return result.ErrorOrNil()
}
