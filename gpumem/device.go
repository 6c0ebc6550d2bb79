package gpumem

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/vkngwrapper/gpumem/native"
)

// Device is the entry point of the package: it owns one memory manager per class of heap the
// native device requires and the budget tracker they share.
type Device struct {
	logger   *slog.Logger
	native   native.Device
	options  CreateOptions
	heapTier native.HeapTier
	adapter  native.AdapterMemoryInfo

	managers []*MemoryManager
	budget   *BudgetTracker
}

// New creates a Device allocating from dev
//
// logger - Receives debug traces of every allocation and warnings about leaked memory
//
// dev - The native device that heaps and resources are created from
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, dev native.Device, options CreateOptions) (*Device, error) {
	if logger == nil {
		return nil, invalidArgument("logger must not be nil")
	}
	if dev == nil {
		return nil, invalidArgument("native device must not be nil")
	}
	err := options.validate()
	if err != nil {
		return nil, err
	}

	device := &Device{
		logger:   logger,
		native:   dev,
		options:  options,
		heapTier: dev.HeapTier(),
		adapter:  dev.AdapterMemoryInfo(),
	}
	if device.heapTier != native.HeapTier1 && device.heapTier != native.HeapTier2 {
		return nil, invalidArgument("unsupported heap tier %s", device.heapTier)
	}

	device.budget = newBudgetTracker(logger, dev, device.adapter, options)

	// Tier 1 devices get one manager per category and heap type, indexed by
	// category*HeapTypeCount + heapType
	categoryCount := 1
	if device.heapTier == native.HeapTier1 {
		categoryCount = ResourceCategoryCount
	}

	for category := 0; category < categoryCount; category++ {
		for heapType := native.HeapType(0); heapType < native.HeapTypeCount; heapType++ {
			heapFlags := native.HeapFlagsAllowAll
			if device.heapTier == native.HeapTier1 {
				heapFlags = ResourceCategory(category).HeapFlags()
			}

			segment := heapType.MemorySegmentGroup()
			if device.adapter.UnifiedMemoryArchitecture {
				segment = native.MemorySegmentGroupLocal
			}

			manager := newMemoryManager(logger, dev, device.budget, memoryManagerOptions{
				index:             len(device.managers),
				segment:           segment,
				heapType:          heapType,
				heapFlags:         heapFlags,
				heapByteLength:    options.heapByteLength(heapType),
				minimumHeapCount:  options.MinimumHeapCount,
				releaseEmptyHeaps: options.ReleaseEmptyHeaps,
				useMutex:          options.useMutex(),
				debugValidation:   options.DebugValidation,
			})
			device.managers = append(device.managers, manager)
			device.budget.addManager(manager)
		}
	}

	for _, manager := range device.managers {
		err = manager.createMinimumHeaps()
		if err != nil {
			destroyErr := device.Destroy()
			if destroyErr != nil {
				err = multierror.Append(err, destroyErr)
			}
			return nil, err
		}
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Created device",
		slog.String("heapTier", device.heapTier.String()),
		slog.Int("managers", len(device.managers)),
		slog.Bool("uma", device.adapter.UnifiedMemoryArchitecture),
	)
	return device, nil
}

// HeapTier is the heap tier the native device reported at creation
func (d *Device) HeapTier() native.HeapTier { return d.heapTier }

// Native returns the native device
func (d *Device) Native() native.Device { return d.native }

// MemoryManagers returns every manager owned by the device, in index order
func (d *Device) MemoryManagers() []*MemoryManager {
	return append([]*MemoryManager(nil), d.managers...)
}

// managerIndex maps an access mode and resource category to a manager. It panics for
// values outside the defined enums.
func (d *Device) managerIndex(cpuAccess CPUAccess, category ResourceCategory) int {
	heapType := cpuAccess.HeapType()
	if !category.IsValid() {
		panic(fmt.Sprintf("resource category %d has no memory manager", int32(category)))
	}

	if d.heapTier == native.HeapTier1 {
		return int(category)*native.HeapTypeCount + int(heapType)
	}
	return int(heapType)
}

// MemoryManager returns the manager that serves resources of the given category and CPU
// access mode
func (d *Device) MemoryManager(cpuAccess CPUAccess, category ResourceCategory) (*MemoryManager, error) {
	if !cpuAccess.IsValid() {
		return nil, invalidArgument("undefined cpu access %d", int32(cpuAccess))
	}
	if !category.IsValid() {
		return nil, invalidArgument("undefined resource category %d", int32(category))
	}

	return d.managers[d.managerIndex(cpuAccess, category)], nil
}

func (d *Device) owns(manager *MemoryManager) bool {
	return manager != nil && manager.index >= 0 && manager.index < len(d.managers) && d.managers[manager.index] == manager
}

// GetMemoryBudget returns the budget of the memory segment the manager draws from. Managers
// owned by another device are rejected.
func (d *Device) GetMemoryBudget(manager *MemoryManager) (BudgetSnapshot, error) {
	if !d.owns(manager) {
		return BudgetSnapshot{}, invalidArgument("memory manager does not belong to this device")
	}

	return d.budget.GetBudget(manager)
}

// Destroy releases every heap of every manager. Heaps that still hold live regions are
// logged and kept, and every such failure is reported in the returned error.
func (d *Device) Destroy() error {
	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Device::Destroy")

	var result *multierror.Error
	for _, manager := range d.managers {
		err := manager.Destroy()
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "manager %d", manager.index))
		}
	}

	return result.ErrorOrNil()
}
