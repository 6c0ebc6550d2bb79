package gpumem

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/vkngwrapper/gpumem/native"
)

// BudgetSnapshot is an estimate of how much of a memory segment is in use
type BudgetSnapshot struct {
	// EstimatedBudget is the number of bytes the process may use in the segment
	EstimatedBudget int
	// EstimatedUsage is the number of bytes the process is using in the segment, including
	// memory not allocated through this device
	EstimatedUsage int
	// TotalCommitted is the total size of the segment's heaps
	TotalCommitted int
	// TotalFree is the number of bytes in the segment's heaps not covered by a live region,
	// as of the last refresh
	TotalFree int
	// OperationCount is the segment's allocate and free operation count at the last refresh
	OperationCount uint64
}

// Available returns the budget left over after usage, which is never negative
func (s BudgetSnapshot) Available() int {
	return max(0, s.EstimatedBudget-s.EstimatedUsage)
}

// BudgetTracker caches the budget of each memory segment. The device is queried again once
// the segment's managers have performed a set number of operations since the last query;
// in between, usage is extrapolated from the change in committed bytes.
type BudgetTracker struct {
	logger            *slog.Logger
	device            native.Device
	adapter           native.AdapterMemoryInfo
	refreshOperations uint64
	fallbackPercent   int

	managers [native.MemorySegmentGroupCount][]*MemoryManager

	mutex     sync.RWMutex
	snapshots [native.MemorySegmentGroupCount]*BudgetSnapshot
}

func newBudgetTracker(logger *slog.Logger, device native.Device, adapter native.AdapterMemoryInfo, options CreateOptions) *BudgetTracker {
	return &BudgetTracker{
		logger:            logger,
		device:            device,
		adapter:           adapter,
		refreshOperations: options.budgetRefreshOperations(),
		fallbackPercent:   options.budgetFallbackPercent(),
	}
}

func (t *BudgetTracker) addManager(manager *MemoryManager) {
	t.managers[manager.segment] = append(t.managers[manager.segment], manager)
}

func (t *BudgetTracker) tracks(manager *MemoryManager) bool {
	if manager.segment < 0 || manager.segment >= native.MemorySegmentGroupCount {
		return false
	}

	for _, tracked := range t.managers[manager.segment] {
		if tracked == manager {
			return true
		}
	}
	return false
}

// GetBudget returns the budget of the memory segment the manager's heaps draw from. Failure
// to query the device is not an error: the budget is then estimated from the adapter's
// memory sizes.
func (t *BudgetTracker) GetBudget(manager *MemoryManager) (BudgetSnapshot, error) {
	if manager == nil || !t.tracks(manager) {
		return BudgetSnapshot{}, invalidArgument("memory manager is not tracked by this budget tracker")
	}
	segment := manager.segment

	operations := t.operationCount(segment)
	committed := t.committedBytes(segment)

	t.mutex.RLock()
	snapshot := t.snapshots[segment]
	if !t.isStale(snapshot, operations) {
		result := extrapolate(*snapshot, committed)
		t.mutex.RUnlock()
		return result, nil
	}
	t.mutex.RUnlock()

	t.mutex.Lock()
	defer t.mutex.Unlock()

	// Another caller may have refreshed while we waited for the lock
	snapshot = t.snapshots[segment]
	if !t.isStale(snapshot, operations) {
		return extrapolate(*snapshot, committed), nil
	}

	refreshed := t.refresh(segment, operations)
	t.snapshots[segment] = &refreshed
	return refreshed, nil
}

func (t *BudgetTracker) isStale(snapshot *BudgetSnapshot, operations uint64) bool {
	return snapshot == nil || operations >= snapshot.OperationCount+t.refreshOperations
}

func extrapolate(snapshot BudgetSnapshot, committed int) BudgetSnapshot {
	snapshot.EstimatedUsage = max(0, snapshot.EstimatedUsage+committed-snapshot.TotalCommitted)
	snapshot.TotalCommitted = committed
	return snapshot
}

func (t *BudgetTracker) operationCount(segment native.MemorySegmentGroup) uint64 {
	var count uint64
	for _, manager := range t.managers[segment] {
		count += manager.OperationCount()
	}
	return count
}

func (t *BudgetTracker) committedBytes(segment native.MemorySegmentGroup) int {
	committed := 0
	for _, manager := range t.managers[segment] {
		committed += manager.CommittedBytes()
	}
	return committed
}

// refresh must be called with the write lock held
func (t *BudgetTracker) refresh(segment native.MemorySegmentGroup, operations uint64) BudgetSnapshot {
	snapshot := BudgetSnapshot{
		OperationCount: operations,
	}
	for _, manager := range t.managers[segment] {
		snapshot.TotalCommitted += manager.CommittedBytes()
		snapshot.TotalFree += manager.FreeBytes()
	}

	info, err := t.device.QueryVideoMemoryInfo(segment)
	if err != nil {
		t.logger.LogAttrs(context.Background(), slog.LevelDebug, "Video memory query failed, estimating budget",
			slog.String("segment", segment.String()),
			slog.Any("error", err),
		)

		info = native.VideoMemoryInfo{
			Budget:       t.fallbackBudget(segment),
			CurrentUsage: snapshot.TotalCommitted,
		}
	}

	snapshot.EstimatedBudget = info.Budget
	snapshot.EstimatedUsage = max(0, info.CurrentUsage)

	t.logger.LogAttrs(context.Background(), slog.LevelDebug, "Refreshed memory budget",
		slog.String("segment", segment.String()),
		slog.String("budget", humanize.IBytes(uint64(snapshot.EstimatedBudget))),
		slog.String("usage", humanize.IBytes(uint64(snapshot.EstimatedUsage))),
		slog.Int("committed", snapshot.TotalCommitted),
		slog.Int("free", snapshot.TotalFree),
		slog.Uint64("operations", operations),
	)
	return snapshot
}

func (t *BudgetTracker) fallbackBudget(segment native.MemorySegmentGroup) int {
	var available int
	switch {
	case t.adapter.UnifiedMemoryArchitecture && segment == native.MemorySegmentGroupLocal:
		available = t.adapter.DedicatedVideoMemory + t.adapter.SharedSystemMemory
	case t.adapter.UnifiedMemoryArchitecture:
		available = 0
	case segment == native.MemorySegmentGroupLocal:
		available = t.adapter.DedicatedVideoMemory
	default:
		available = t.adapter.SharedSystemMemory
	}

	return available * t.fallbackPercent / 100
}
