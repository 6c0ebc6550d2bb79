package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/gpumem/native"
)

var formatMapping = map[native.Format]core1_0.Format{
	native.FormatR8UNorm:           core1_0.FormatR8UnsignedNormalized,
	native.FormatR8G8B8A8UNorm:     core1_0.FormatR8G8B8A8UnsignedNormalized,
	native.FormatB8G8R8A8UNorm:     core1_0.FormatB8G8R8A8UnsignedNormalized,
	native.FormatR16G16B16A16Float: core1_0.FormatR16G16B16A16SignedFloat,
	native.FormatR32Float:          core1_0.FormatR32SignedFloat,
	native.FormatR32G32B32A32Float: core1_0.FormatR32G32B32A32SignedFloat,
	native.FormatD32Float:          core1_0.FormatD32SignedFloat,
	native.FormatD24UNormS8UInt:    core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
}

var imageTypeMapping = map[native.ResourceDimension]core1_0.ImageType{
	native.ResourceDimensionTexture1D: core1_0.ImageType1D,
	native.ResourceDimensionTexture2D: core1_0.ImageType2D,
	native.ResourceDimensionTexture3D: core1_0.ImageType3D,
}

const bufferUsage = core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst |
	core1_0.BufferUsageUniformBuffer | core1_0.BufferUsageStorageBuffer

func vulkanFormat(format native.Format) (core1_0.Format, error) {
	vkFormat, ok := formatMapping[format]
	if !ok {
		return 0, errors.Wrapf(native.ErrUnsupported, "format %s has no vulkan equivalent", format)
	}
	return vkFormat, nil
}

func imageUsage(desc native.ResourceDescription) core1_0.ImageUsageFlags {
	usage := core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled

	if desc.Flags&native.ResourceFlagAllowRenderTarget != 0 {
		usage |= core1_0.ImageUsageColorAttachment
	}
	if desc.Flags&native.ResourceFlagAllowDepthStencil != 0 || desc.Format.IsDepthStencil() {
		usage |= core1_0.ImageUsageDepthStencilAttachment
	}
	if desc.Flags&native.ResourceFlagAllowUnorderedAccess != 0 {
		usage |= core1_0.ImageUsageStorage
	}

	return usage
}

func bufferCreateInfo(desc native.ResourceDescription) core1_0.BufferCreateInfo {
	return core1_0.BufferCreateInfo{
		Size:        desc.Width,
		Usage:       bufferUsage,
		SharingMode: core1_0.SharingModeExclusive,
	}
}

// imageCreateInfo describes desc as a Vulkan image. Host visible heaps need linear tiling so
// that mapped memory follows the linear footprint layout.
func imageCreateInfo(desc native.ResourceDescription, linear bool) (core1_0.ImageCreateInfo, error) {
	imageType, ok := imageTypeMapping[desc.Dimension]
	if !ok {
		return core1_0.ImageCreateInfo{}, errors.Wrapf(native.ErrUnsupported, "dimension %s is not an image", desc.Dimension)
	}

	format, err := vulkanFormat(desc.Format)
	if err != nil {
		return core1_0.ImageCreateInfo{}, err
	}

	extent := core1_0.Extent3D{
		Width:  desc.Width,
		Height: max(1, desc.Height),
		Depth:  1,
	}
	arrayLayers := max(1, desc.DepthOrArraySize)
	switch desc.Dimension {
	case native.ResourceDimensionTexture1D:
		extent.Height = 1
	case native.ResourceDimensionTexture3D:
		extent.Depth = arrayLayers
		arrayLayers = 1
	}

	tiling := core1_0.ImageTilingOptimal
	if linear {
		tiling = core1_0.ImageTilingLinear
	}

	return core1_0.ImageCreateInfo{
		ImageType:     imageType,
		Format:        format,
		Extent:        extent,
		MipLevels:     max(1, desc.MipLevels),
		ArrayLayers:   arrayLayers,
		Samples:       core1_0.Samples1,
		Tiling:        tiling,
		Usage:         imageUsage(desc),
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	}, nil
}
