package native

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gpumem/memutils"
)

const (
	// RowPitchAlignment is the alignment of each texel row in a copyable footprint
	RowPitchAlignment uint = 256
	// PlacementAlignment is the alignment of each mip level in a copyable footprint
	PlacementAlignment uint = 512
)

func mipExtent(extent, mipLevel int) int {
	return max(1, extent>>mipLevel)
}

// CalculateFootprint lays out every mip level of desc linearly and returns the location of
// the requested range. Backends without a native footprint query use it to implement
// Device.GetCopyableFootprints. Buffers have a single footprint covering Width bytes.
func CalculateFootprint(desc ResourceDescription, firstMipLevel, mipLevelCount int) (Footprint, error) {
	if desc.Dimension == ResourceDimensionBuffer {
		if firstMipLevel != 0 || mipLevelCount != 1 {
			return Footprint{}, errors.Newf("buffers have a single subresource, requested %d mips starting at %d", mipLevelCount, firstMipLevel)
		}
		return Footprint{ByteLength: desc.Width, RowPitch: desc.Width}, nil
	}

	bytesPerPixel := desc.Format.BytesPerPixel()
	if bytesPerPixel <= 0 {
		return Footprint{}, errors.Newf("format %s has no texel size", desc.Format)
	}
	if firstMipLevel < 0 || mipLevelCount < 1 || firstMipLevel >= desc.MipLevels || mipLevelCount > desc.MipLevels-firstMipLevel {
		return Footprint{}, errors.Newf("%d mip levels starting at %d are outside the texture's %d mip levels", mipLevelCount, firstMipLevel, desc.MipLevels)
	}

	var footprint Footprint
	offset := 0
	for mip := 0; mip < firstMipLevel+mipLevelCount; mip++ {
		width := mipExtent(desc.Width, mip)
		height := 1
		if desc.Dimension != ResourceDimensionTexture1D {
			height = mipExtent(desc.Height, mip)
		}
		depth := max(1, desc.DepthOrArraySize)
		if desc.Dimension == ResourceDimensionTexture3D {
			depth = mipExtent(desc.DepthOrArraySize, mip)
		}

		offset = memutils.AlignUp(offset, PlacementAlignment)
		rowPitch := memutils.AlignUp(width*bytesPerPixel, RowPitchAlignment)

		if mip == firstMipLevel {
			footprint.Offset = offset
			footprint.RowPitch = rowPitch
		}
		offset += rowPitch * height * depth
	}

	footprint.ByteLength = offset - footprint.Offset
	return footprint, nil
}
