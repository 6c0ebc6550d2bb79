package vulkan

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/gpumem/native"
)

type memoryPreferences struct {
	required     core1_0.MemoryPropertyFlags
	preferred    core1_0.MemoryPropertyFlags
	notPreferred core1_0.MemoryPropertyFlags
}

func heapTypePreferences(heapType native.HeapType, integratedGPU bool) (memoryPreferences, error) {
	switch heapType {
	case native.HeapTypeDefault:
		prefs := memoryPreferences{
			required:     core1_0.MemoryPropertyDeviceLocal,
			notPreferred: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCached,
		}
		if integratedGPU {
			// Everything is device local on an integrated GPU, and some drivers expose no
			// type without host visibility
			prefs.notPreferred = core1_0.MemoryPropertyHostCached
		}
		return prefs, nil
	case native.HeapTypeUpload:
		prefs := memoryPreferences{
			required:     core1_0.MemoryPropertyHostVisible,
			preferred:    core1_0.MemoryPropertyHostCoherent,
			notPreferred: core1_0.MemoryPropertyHostCached | core1_0.MemoryPropertyDeviceLocal,
		}
		if integratedGPU {
			prefs.notPreferred = core1_0.MemoryPropertyHostCached
		}
		return prefs, nil
	case native.HeapTypeReadback:
		prefs := memoryPreferences{
			required:     core1_0.MemoryPropertyHostVisible,
			preferred:    core1_0.MemoryPropertyHostCached | core1_0.MemoryPropertyHostCoherent,
			notPreferred: core1_0.MemoryPropertyDeviceLocal,
		}
		if integratedGPU {
			prefs.notPreferred = 0
		}
		return prefs, nil
	}

	return memoryPreferences{}, errors.Newf("unknown heap type %s", heapType)
}

// findMemoryTypeIndex picks the memory type whose property flags cost the least against the
// heap type's preferences. Types missing a required flag and lazily allocated types are never
// chosen.
func findMemoryTypeIndex(memoryProperties *core1_0.PhysicalDeviceMemoryProperties, heapType native.HeapType, integratedGPU bool) (int, error) {
	prefs, err := heapTypePreferences(heapType, integratedGPU)
	if err != nil {
		return -1, err
	}

	bestMemoryTypeIndex := -1
	minCost := 100000

	for memTypeIndex, memType := range memoryProperties.MemoryTypes {
		flags := memType.PropertyFlags
		if prefs.required & ^flags != 0 {
			// This memory type is missing required flags
			continue
		}
		if flags&core1_0.MemoryPropertyLazilyAllocated != 0 {
			continue
		}

		missingPreferredFlags := prefs.preferred & ^flags
		presentNotPreferredFlags := prefs.notPreferred & flags
		cost := bits.OnesCount32(uint32(missingPreferredFlags)) + bits.OnesCount32(uint32(presentNotPreferredFlags))
		if cost == 0 {
			return memTypeIndex, nil
		} else if cost < minCost {
			bestMemoryTypeIndex = memTypeIndex
			minCost = cost
		}
	}

	if bestMemoryTypeIndex < 0 {
		return -1, errors.Wrapf(native.ErrUnsupported, "no memory type can back %s heaps", heapType)
	}

	return bestMemoryTypeIndex, nil
}

// heapTierFor maps bufferImageGranularity to a heap tier. Devices that need linear and optimal
// resources kept apart on a granularity page cannot mix buffers and textures in one heap.
func heapTierFor(limits *core1_0.PhysicalDeviceLimits) native.HeapTier {
	if limits != nil && limits.BufferImageGranularity > 1 {
		return native.HeapTier1
	}
	return native.HeapTier2
}

func adapterMemoryInfo(memoryProperties *core1_0.PhysicalDeviceMemoryProperties, integratedGPU bool) native.AdapterMemoryInfo {
	info := native.AdapterMemoryInfo{
		UnifiedMemoryArchitecture: integratedGPU,
	}

	for _, heap := range memoryProperties.MemoryHeaps {
		if heap.Flags&core1_0.MemoryHeapDeviceLocal != 0 {
			info.DedicatedVideoMemory += heap.Size
		} else {
			info.SharedSystemMemory += heap.Size
		}
	}

	return info
}

// heapInSegmentGroup reports whether a Vulkan memory heap contributes to a budget segment group
func heapInSegmentGroup(heap core1_0.MemoryHeap, group native.MemorySegmentGroup, integratedGPU bool) bool {
	if integratedGPU {
		return group == native.MemorySegmentGroupLocal
	}

	deviceLocal := heap.Flags&core1_0.MemoryHeapDeviceLocal != 0
	return deviceLocal == (group == native.MemorySegmentGroupLocal)
}
