package vulkan

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/gpumem/native"
)

// CreateFlags indicate specific backend behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized removes the mutex around each heap's mapping state. Only set
	// it when the caller already serializes every Map and Unmap on resources sharing a heap.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
}

// CreateOptions configures a Device
type CreateOptions struct {
	// Flags indicates specific backend behaviors to activate or deactivate
	Flags CreateFlags

	// VulkanCallbacks is an optional set of host allocation callbacks passed to every Vulkan
	// call that creates or destroys an object
	VulkanCallbacks *driver.AllocationCallbacks

	// ForceHeapTier overrides the heap tier derived from the physical device's
	// bufferImageGranularity. Leave it zero to use the derived tier.
	ForceHeapTier native.HeapTier

	// HeapSizeLimits can be left empty. If it is provided, it must have one entry per
	// PhysicalDevice memory heap, each either the maximum number of bytes to allocate from that
	// heap or 0 for no limit. Heaps that would exceed a limit fail with an out of memory error.
	HeapSizeLimits []int
}
