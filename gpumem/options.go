package gpumem

import (
	"github.com/vkngwrapper/gpumem/native"
)

const (
	// DefaultHeapByteLength is the size of heaps created when CreateOptions does not say otherwise
	DefaultHeapByteLength = 64 * 1024 * 1024
	// HeapAlignment is the granularity that heap sizes are rounded up to
	HeapAlignment uint = 64 * 1024
	// DefaultBudgetRefreshOperations is the number of allocate and free operations after which
	// the budget is queried from the device again
	DefaultBudgetRefreshOperations = 30
	// DefaultBudgetFallbackPercent is the share of adapter memory assumed to be available when
	// the device cannot report a budget
	DefaultBudgetFallbackPercent = 80
)

// CreateOptions configures a Device. The zero value is usable: every zero field takes its
// documented default.
type CreateOptions struct {
	Flags CreateFlags

	// DefaultHeapByteLength is the size of heaps created to hold regions smaller than it.
	// Zero means DefaultHeapByteLength.
	DefaultHeapByteLength int
	// HeapByteLengths overrides DefaultHeapByteLength for individual heap types
	HeapByteLengths map[native.HeapType]int
	// MinimumHeapCount heaps are created in every manager when the device is created, and
	// empty heap reclamation never takes a manager below this count
	MinimumHeapCount int
	// ReleaseEmptyHeaps releases heaps that become empty while another empty heap is already
	// held by the same manager
	ReleaseEmptyHeaps bool

	// BudgetRefreshOperations is the number of operations between budget queries. Zero
	// means DefaultBudgetRefreshOperations.
	BudgetRefreshOperations int
	// BudgetFallbackPercent is the share of adapter memory used as the budget when the device
	// cannot report one. Zero means DefaultBudgetFallbackPercent.
	BudgetFallbackPercent int

	// DebugValidation validates heap metadata after every mutation and panics on corruption
	DebugValidation bool
}

func (o CreateOptions) validate() error {
	if o.DefaultHeapByteLength < 0 {
		return invalidArgument("default heap byte length is negative: %d", o.DefaultHeapByteLength)
	}
	for heapType, byteLength := range o.HeapByteLengths {
		if !heapType.IsValid() {
			return invalidArgument("heap byte length provided for undefined heap type %s", heapType)
		}
		if byteLength <= 0 {
			return invalidArgument("heap byte length for %s heaps must be positive, but was %d", heapType, byteLength)
		}
	}
	if o.MinimumHeapCount < 0 {
		return invalidArgument("minimum heap count is negative: %d", o.MinimumHeapCount)
	}
	if o.BudgetRefreshOperations < 0 {
		return invalidArgument("budget refresh operations is negative: %d", o.BudgetRefreshOperations)
	}
	if o.BudgetFallbackPercent < 0 || o.BudgetFallbackPercent > 100 {
		return invalidArgument("budget fallback percent must be between 0 and 100, but was %d", o.BudgetFallbackPercent)
	}
	return nil
}

func (o CreateOptions) heapByteLength(heapType native.HeapType) int {
	if byteLength, ok := o.HeapByteLengths[heapType]; ok {
		return byteLength
	}
	if o.DefaultHeapByteLength > 0 {
		return o.DefaultHeapByteLength
	}
	return DefaultHeapByteLength
}

func (o CreateOptions) budgetRefreshOperations() uint64 {
	if o.BudgetRefreshOperations > 0 {
		return uint64(o.BudgetRefreshOperations)
	}
	return DefaultBudgetRefreshOperations
}

func (o CreateOptions) budgetFallbackPercent() int {
	if o.BudgetFallbackPercent > 0 {
		return o.BudgetFallbackPercent
	}
	return DefaultBudgetFallbackPercent
}

func (o CreateOptions) useMutex() bool {
	return o.Flags&CreateExternallySynchronized == 0
}
