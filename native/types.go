package native

import (
	"fmt"

	"github.com/vkngwrapper/core/v2/common"
)

// HeapTier is a hardware capability level determining which resource categories may
// share one heap
type HeapTier int32

const (
	// HeapTier1 devices keep buffers, non render target textures, and render target or depth
	// stencil textures in separate heaps
	HeapTier1 HeapTier = iota + 1
	// HeapTier2 devices allow every resource category in one heap
	HeapTier2
)

var heapTierMapping = map[HeapTier]string{
	HeapTier1: "Tier1",
	HeapTier2: "Tier2",
}

func (t HeapTier) String() string {
	str, ok := heapTierMapping[t]
	if !ok {
		return fmt.Sprintf("HeapTier(%d)", int32(t))
	}
	return str
}

// HeapType identifies where a heap lives and how the CPU may reach it
type HeapType int32

const (
	// HeapTypeDefault is GPU-local memory with no CPU access
	HeapTypeDefault HeapType = iota
	// HeapTypeUpload is CPU-writable memory the GPU reads from
	HeapTypeUpload
	// HeapTypeReadback is CPU-readable memory the GPU writes to
	HeapTypeReadback

	// HeapTypeCount is the number of heap types
	HeapTypeCount = 3
)

var heapTypeMapping = map[HeapType]string{
	HeapTypeDefault:  "Default",
	HeapTypeUpload:   "Upload",
	HeapTypeReadback: "Readback",
}

func (t HeapType) String() string {
	str, ok := heapTypeMapping[t]
	if !ok {
		return fmt.Sprintf("HeapType(%d)", int32(t))
	}
	return str
}

// IsValid reports whether t is one of the defined heap types
func (t HeapType) IsValid() bool {
	_, ok := heapTypeMapping[t]
	return ok
}

// MemorySegmentGroup returns the budget segment the heap type draws from. On UMA devices every
// heap is local and callers should not use this.
func (t HeapType) MemorySegmentGroup() MemorySegmentGroup {
	if t == HeapTypeDefault {
		return MemorySegmentGroupLocal
	}
	return MemorySegmentGroupNonLocal
}

// HeapFlags restrict which resource categories may be placed in a heap
type HeapFlags int32

var heapFlagsMapping = common.NewFlagStringMapping[HeapFlags]()

func (f HeapFlags) Register(str string) {
	heapFlagsMapping.Register(f, str)
}
func (f HeapFlags) String() string {
	return heapFlagsMapping.FlagsToString(f)
}

const (
	// HeapFlagDenyBuffers forbids buffers in the heap
	HeapFlagDenyBuffers HeapFlags = 1 << iota
	// HeapFlagDenyRTDSTextures forbids render target and depth stencil textures in the heap
	HeapFlagDenyRTDSTextures
	// HeapFlagDenyNonRTDSTextures forbids textures that are neither render targets nor depth
	// stencil targets in the heap
	HeapFlagDenyNonRTDSTextures

	// HeapFlagsAllowAll places no restriction on the heap
	HeapFlagsAllowAll HeapFlags = 0
	// HeapFlagsAllowOnlyBuffers is the Tier 1 buffer heap restriction
	HeapFlagsAllowOnlyBuffers = HeapFlagDenyRTDSTextures | HeapFlagDenyNonRTDSTextures
	// HeapFlagsAllowOnlyNonRTDSTextures is the Tier 1 plain texture heap restriction
	HeapFlagsAllowOnlyNonRTDSTextures = HeapFlagDenyBuffers | HeapFlagDenyRTDSTextures
	// HeapFlagsAllowOnlyRTDSTextures is the Tier 1 render target heap restriction
	HeapFlagsAllowOnlyRTDSTextures = HeapFlagDenyBuffers | HeapFlagDenyNonRTDSTextures
)

func init() {
	HeapFlagDenyBuffers.Register("DenyBuffers")
	HeapFlagDenyRTDSTextures.Register("DenyRTDSTextures")
	HeapFlagDenyNonRTDSTextures.Register("DenyNonRTDSTextures")

	ResourceFlagAllowRenderTarget.Register("AllowRenderTarget")
	ResourceFlagAllowDepthStencil.Register("AllowDepthStencil")
	ResourceFlagAllowUnorderedAccess.Register("AllowUnorderedAccess")
}

// AllowsBuffers reports whether buffers may be placed in a heap with these flags
func (f HeapFlags) AllowsBuffers() bool {
	return f&HeapFlagDenyBuffers == 0
}

// AllowsTextures reports whether non render target textures may be placed in a heap with these flags
func (f HeapFlags) AllowsTextures() bool {
	return f&HeapFlagDenyNonRTDSTextures == 0
}

// AllowsRenderTargets reports whether render target and depth stencil textures may be placed
// in a heap with these flags
func (f HeapFlags) AllowsRenderTargets() bool {
	return f&HeapFlagDenyRTDSTextures == 0
}

// Allows reports whether a resource with the given description may be placed in a heap with
// these flags
func (f HeapFlags) Allows(desc ResourceDescription) bool {
	switch {
	case desc.Dimension == ResourceDimensionBuffer:
		return f.AllowsBuffers()
	case desc.Flags.IsRenderTargetOrDepthStencil():
		return f.AllowsRenderTargets()
	default:
		return f.AllowsTextures()
	}
}

// MemorySegmentGroup names the budget segment a heap draws from
type MemorySegmentGroup int32

const (
	// MemorySegmentGroupLocal is memory close to the GPU (VRAM, or all memory on UMA)
	MemorySegmentGroupLocal MemorySegmentGroup = iota
	// MemorySegmentGroupNonLocal is system memory reached over the bus
	MemorySegmentGroupNonLocal

	// MemorySegmentGroupCount is the number of segment groups
	MemorySegmentGroupCount = 2
)

var segmentGroupMapping = map[MemorySegmentGroup]string{
	MemorySegmentGroupLocal:    "Local",
	MemorySegmentGroupNonLocal: "NonLocal",
}

func (g MemorySegmentGroup) String() string {
	str, ok := segmentGroupMapping[g]
	if !ok {
		return fmt.Sprintf("MemorySegmentGroup(%d)", int32(g))
	}
	return str
}

// ResourceDimension identifies the shape of a resource
type ResourceDimension int32

const (
	ResourceDimensionBuffer ResourceDimension = iota
	ResourceDimensionTexture1D
	ResourceDimensionTexture2D
	ResourceDimensionTexture3D
)

var resourceDimensionMapping = map[ResourceDimension]string{
	ResourceDimensionBuffer:    "Buffer",
	ResourceDimensionTexture1D: "Texture1D",
	ResourceDimensionTexture2D: "Texture2D",
	ResourceDimensionTexture3D: "Texture3D",
}

func (d ResourceDimension) String() string {
	str, ok := resourceDimensionMapping[d]
	if !ok {
		return fmt.Sprintf("ResourceDimension(%d)", int32(d))
	}
	return str
}

// ResourceFlags describe how a resource will be bound
type ResourceFlags int32

var resourceFlagsMapping = common.NewFlagStringMapping[ResourceFlags]()

func (f ResourceFlags) Register(str string) {
	resourceFlagsMapping.Register(f, str)
}
func (f ResourceFlags) String() string {
	return resourceFlagsMapping.FlagsToString(f)
}

const (
	ResourceFlagAllowRenderTarget ResourceFlags = 1 << iota
	ResourceFlagAllowDepthStencil
	ResourceFlagAllowUnorderedAccess
)

// IsRenderTargetOrDepthStencil reports whether the resource may be a render or depth target
func (f ResourceFlags) IsRenderTargetOrDepthStencil() bool {
	return f&(ResourceFlagAllowRenderTarget|ResourceFlagAllowDepthStencil) != 0
}

// Format is a texel format
type Format int32

const (
	FormatUnknown Format = iota
	FormatR8UNorm
	FormatR8G8B8A8UNorm
	FormatB8G8R8A8UNorm
	FormatR16G16B16A16Float
	FormatR32Float
	FormatR32G32B32A32Float
	FormatD32Float
	FormatD24UNormS8UInt
)

type formatInfo struct {
	name          string
	bytesPerPixel int
	depthStencil  bool
}

var formatMapping = map[Format]formatInfo{
	FormatUnknown:           {name: "Unknown"},
	FormatR8UNorm:           {name: "R8UNorm", bytesPerPixel: 1},
	FormatR8G8B8A8UNorm:     {name: "R8G8B8A8UNorm", bytesPerPixel: 4},
	FormatB8G8R8A8UNorm:     {name: "B8G8R8A8UNorm", bytesPerPixel: 4},
	FormatR16G16B16A16Float: {name: "R16G16B16A16Float", bytesPerPixel: 8},
	FormatR32Float:          {name: "R32Float", bytesPerPixel: 4},
	FormatR32G32B32A32Float: {name: "R32G32B32A32Float", bytesPerPixel: 16},
	FormatD32Float:          {name: "D32Float", bytesPerPixel: 4, depthStencil: true},
	FormatD24UNormS8UInt:    {name: "D24UNormS8UInt", bytesPerPixel: 4, depthStencil: true},
}

func (f Format) String() string {
	info, ok := formatMapping[f]
	if !ok {
		return fmt.Sprintf("Format(%d)", int32(f))
	}
	return info.name
}

// IsValid reports whether f is a defined, concrete format
func (f Format) IsValid() bool {
	info, ok := formatMapping[f]
	return ok && info.bytesPerPixel > 0
}

// BytesPerPixel returns the size of one texel, or 0 for unknown formats
func (f Format) BytesPerPixel() int {
	return formatMapping[f].bytesPerPixel
}

// IsDepthStencil reports whether the format holds depth or stencil data
func (f Format) IsDepthStencil() bool {
	return formatMapping[f].depthStencil
}

// ResourceDescription is the logical description of a buffer or texture
type ResourceDescription struct {
	Dimension ResourceDimension
	// Width is the size in bytes for buffers and in pixels for textures
	Width  int
	Height int
	// DepthOrArraySize is the depth of 3D textures and the array size of others
	DepthOrArraySize int
	MipLevels        int
	Format           Format
	Flags            ResourceFlags
}
