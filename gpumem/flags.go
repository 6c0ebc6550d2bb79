package gpumem

import (
	"fmt"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/gpumem/memutils/metadata"
	"github.com/vkngwrapper/gpumem/native"
)

// CPUAccess is how the CPU may reach a resource's memory
type CPUAccess int32

const (
	// CPUAccessNone resources live in GPU-local memory and cannot be mapped
	CPUAccessNone CPUAccess = iota
	// CPUAccessWrite resources are mapped for upload
	CPUAccessWrite
	// CPUAccessRead resources are mapped for readback
	CPUAccessRead
)

var cpuAccessMapping = map[CPUAccess]string{
	CPUAccessNone:  "None",
	CPUAccessWrite: "Write",
	CPUAccessRead:  "Read",
}

func (a CPUAccess) String() string {
	str, ok := cpuAccessMapping[a]
	if !ok {
		return fmt.Sprintf("CPUAccess(%d)", int32(a))
	}
	return str
}

// IsValid reports whether a is one of the defined access modes
func (a CPUAccess) IsValid() bool {
	_, ok := cpuAccessMapping[a]
	return ok
}

// HeapType returns the native heap type that serves this access mode. It panics for
// undefined access modes.
func (a CPUAccess) HeapType() native.HeapType {
	switch a {
	case CPUAccessNone:
		return native.HeapTypeDefault
	case CPUAccessWrite:
		return native.HeapTypeUpload
	case CPUAccessRead:
		return native.HeapTypeReadback
	}

	panic(fmt.Sprintf("cpu access %d has no heap type", int32(a)))
}

// ResourceCategory is the class of resource a heap restriction is concerned with. Tier 1
// devices keep each category in its own heaps.
type ResourceCategory int32

const (
	ResourceCategoryBuffer ResourceCategory = iota
	// ResourceCategoryTexture is every texture that is neither a render target nor a depth
	// stencil target
	ResourceCategoryTexture
	// ResourceCategoryRenderTarget is render target and depth stencil textures
	ResourceCategoryRenderTarget

	// ResourceCategoryCount is the number of resource categories
	ResourceCategoryCount = 3
)

var resourceCategoryMapping = map[ResourceCategory]string{
	ResourceCategoryBuffer:       "Buffer",
	ResourceCategoryTexture:      "Texture",
	ResourceCategoryRenderTarget: "RenderTarget",
}

func (c ResourceCategory) String() string {
	str, ok := resourceCategoryMapping[c]
	if !ok {
		return fmt.Sprintf("ResourceCategory(%d)", int32(c))
	}
	return str
}

// IsValid reports whether c is one of the defined categories
func (c ResourceCategory) IsValid() bool {
	_, ok := resourceCategoryMapping[c]
	return ok
}

// HeapFlags returns the Tier 1 placement restriction for heaps holding this category
func (c ResourceCategory) HeapFlags() native.HeapFlags {
	switch c {
	case ResourceCategoryBuffer:
		return native.HeapFlagsAllowOnlyBuffers
	case ResourceCategoryTexture:
		return native.HeapFlagsAllowOnlyNonRTDSTextures
	case ResourceCategoryRenderTarget:
		return native.HeapFlagsAllowOnlyRTDSTextures
	}

	panic(fmt.Sprintf("resource category %d has no heap flags", int32(c)))
}

// AllocationFlags modify how a region is allocated
type AllocationFlags int32

var allocationFlagsMapping = common.NewFlagStringMapping[AllocationFlags]()

func (f AllocationFlags) Register(str string) {
	allocationFlagsMapping.Register(f, str)
}
func (f AllocationFlags) String() string {
	return allocationFlagsMapping.FlagsToString(f)
}

const (
	// AllocationDedicated requests a region that takes up an entire heap. Managers create a
	// heap sized to the request when no empty heap can hold it.
	AllocationDedicated AllocationFlags = 1 << iota
	// AllocationNeverAllocate forbids the manager from creating a new heap for the request
	AllocationNeverAllocate
	// AllocationWithinBudget fails the request rather than create a heap that would take the
	// memory segment over its budget
	AllocationWithinBudget
	// AllocationStrategyMinMemory prefers the tightest fitting free range
	AllocationStrategyMinMemory
	// AllocationStrategyMinTime prefers the first free range found
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset prefers the lowest offset
	AllocationStrategyMinOffset

	// AllocationStrategyMask covers every strategy flag
	AllocationStrategyMask = AllocationStrategyMinMemory | AllocationStrategyMinTime | AllocationStrategyMinOffset
)

func init() {
	AllocationDedicated.Register("Dedicated")
	AllocationNeverAllocate.Register("NeverAllocate")
	AllocationWithinBudget.Register("WithinBudget")
	AllocationStrategyMinMemory.Register("StrategyMinMemory")
	AllocationStrategyMinTime.Register("StrategyMinTime")
	AllocationStrategyMinOffset.Register("StrategyMinOffset")

	CreateExternallySynchronized.Register("ExternallySynchronized")

	TextureUsageShaderRead.Register("ShaderRead")
	TextureUsageShaderWrite.Register("ShaderWrite")
	TextureUsageRenderTarget.Register("RenderTarget")
	TextureUsageDepthStencil.Register("DepthStencil")
}

var strategyMapping = map[AllocationFlags]metadata.AllocationStrategy{
	AllocationStrategyMinMemory: metadata.AllocationStrategyMinMemory,
	AllocationStrategyMinTime:   metadata.AllocationStrategyMinTime,
	AllocationStrategyMinOffset: metadata.AllocationStrategyMinOffset,
}

// Strategy returns the block metadata search strategy selected by the flags. Flags outside
// AllocationStrategyMask are ignored.
func (f AllocationFlags) Strategy() metadata.AllocationStrategy {
	var strategy metadata.AllocationStrategy
	strategyFlags := f & AllocationStrategyMask
	for flag, mapped := range strategyMapping {
		if strategyFlags&flag != 0 {
			strategy |= mapped
		}
	}
	return strategy
}

// IsDedicated reports whether AllocationDedicated is set
func (f AllocationFlags) IsDedicated() bool {
	return f&AllocationDedicated != 0
}

// CreateFlags modify how a Device is created
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized promises that the caller serializes all calls on the
	// device, so managers and allocators skip their internal locks. Resource map counts and the
	// budget tracker stay locked.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

// BufferKind is the intended use of a buffer
type BufferKind int32

const (
	BufferKindVertex BufferKind = iota
	BufferKindIndex
	// BufferKindConstant buffers hold shader constants. Their views are 256-byte aligned.
	BufferKindConstant
	// BufferKindStorage buffers may be written by shaders
	BufferKindStorage
	BufferKindIndirect
)

var bufferKindMapping = map[BufferKind]string{
	BufferKindVertex:   "Vertex",
	BufferKindIndex:    "Index",
	BufferKindConstant: "Constant",
	BufferKindStorage:  "Storage",
	BufferKindIndirect: "Indirect",
}

func (k BufferKind) String() string {
	str, ok := bufferKindMapping[k]
	if !ok {
		return fmt.Sprintf("BufferKind(%d)", int32(k))
	}
	return str
}

// IsValid reports whether k is one of the defined buffer kinds
func (k BufferKind) IsValid() bool {
	_, ok := bufferKindMapping[k]
	return ok
}

// TextureKind is the dimensionality of a texture
type TextureKind int32

const (
	TextureKind1D TextureKind = iota
	TextureKind2D
	TextureKind3D
)

var textureKindMapping = map[TextureKind]native.ResourceDimension{
	TextureKind1D: native.ResourceDimensionTexture1D,
	TextureKind2D: native.ResourceDimensionTexture2D,
	TextureKind3D: native.ResourceDimensionTexture3D,
}

func (k TextureKind) String() string {
	dimension, ok := textureKindMapping[k]
	if !ok {
		return fmt.Sprintf("TextureKind(%d)", int32(k))
	}
	return dimension.String()
}

// IsValid reports whether k is one of the defined texture kinds
func (k TextureKind) IsValid() bool {
	_, ok := textureKindMapping[k]
	return ok
}

// TextureUsage describes how a texture will be bound
type TextureUsage int32

var textureUsageMapping = common.NewFlagStringMapping[TextureUsage]()

func (u TextureUsage) Register(str string) {
	textureUsageMapping.Register(u, str)
}
func (u TextureUsage) String() string {
	return textureUsageMapping.FlagsToString(u)
}

const (
	TextureUsageShaderRead TextureUsage = 1 << iota
	TextureUsageShaderWrite
	TextureUsageRenderTarget
	TextureUsageDepthStencil
)

// IsRenderTarget reports whether the texture will be bound as a render or depth target
func (u TextureUsage) IsRenderTarget() bool {
	return u&(TextureUsageRenderTarget|TextureUsageDepthStencil) != 0
}

// Category returns the resource category of textures with this usage
func (u TextureUsage) Category() ResourceCategory {
	if u.IsRenderTarget() {
		return ResourceCategoryRenderTarget
	}
	return ResourceCategoryTexture
}

func (u TextureUsage) resourceFlags() native.ResourceFlags {
	var flags native.ResourceFlags
	if u&TextureUsageRenderTarget != 0 {
		flags |= native.ResourceFlagAllowRenderTarget
	}
	if u&TextureUsageDepthStencil != 0 {
		flags |= native.ResourceFlagAllowDepthStencil
	}
	if u&TextureUsageShaderWrite != 0 {
		flags |= native.ResourceFlagAllowUnorderedAccess
	}
	return flags
}
