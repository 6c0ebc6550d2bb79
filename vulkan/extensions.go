package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/extensions/v2/ext_memory_budget"
	"github.com/vkngwrapper/extensions/v2/khr_get_physical_device_properties2"
	khr_get_physical_device_properties2_shim "github.com/vkngwrapper/extensions/v2/khr_get_physical_device_properties2/shim"
)

// memoryPropertiesSource is the part of the physical device used to read heap budgets
type memoryPropertiesSource interface {
	MemoryProperties2(out *core1_1.PhysicalDeviceMemoryProperties2) error
}

type extensionData struct {
	// MemoryProperties2 is the core 1.1 or khr_get_physical_device_properties2 query, nil when
	// neither is active
	MemoryProperties2 memoryPropertiesSource
	UseMemoryBudget   bool
}

func newExtensionData(instance core1_0.Instance, physicalDevice core1_0.PhysicalDevice, device core1_0.Device) *extensionData {
	data := &extensionData{}

	physicalDevice11 := core1_1.PromoteInstanceScopedPhysicalDevice(physicalDevice)
	if physicalDevice11 != nil {
		// Core 1.1 active on the instance side, so MemoryProperties2 is available without the extension
		data.MemoryProperties2 = physicalDevice11
	}

	if data.MemoryProperties2 == nil && instance.IsInstanceExtensionActive(khr_get_physical_device_properties2.ExtensionName) {
		extension := khr_get_physical_device_properties2.CreateExtensionFromInstance(instance)
		data.MemoryProperties2 = khr_get_physical_device_properties2_shim.NewShim(extension, physicalDevice)
	}

	// ext_memory_budget reports through MemoryProperties2, so it is useless without it
	if data.MemoryProperties2 != nil && device.IsDeviceExtensionActive(ext_memory_budget.ExtensionName) {
		data.UseMemoryBudget = true
	}

	return data
}
