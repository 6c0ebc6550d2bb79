package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/gpumem/native"
)

func TestEveryFormatHasVulkanEquivalent(t *testing.T) {
	seen := make(map[core1_0.Format]native.Format)

	for format := native.FormatUnknown + 1; format.IsValid(); format++ {
		vkFormat, err := vulkanFormat(format)
		require.NoError(t, err, "format %s", format)

		previous, duplicate := seen[vkFormat]
		require.False(t, duplicate, "%s and %s map to the same vulkan format", previous, format)
		seen[vkFormat] = format
	}
	require.Len(t, seen, len(formatMapping))

	_, err := vulkanFormat(native.FormatUnknown)
	require.True(t, errors.Is(err, native.ErrUnsupported))
}

func TestImageCreateInfo(t *testing.T) {
	info, err := imageCreateInfo(native.ResourceDescription{
		Dimension:        native.ResourceDimensionTexture2D,
		Width:            256,
		Height:           128,
		DepthOrArraySize: 6,
		MipLevels:        4,
		Format:           native.FormatR8G8B8A8UNorm,
		Flags:            native.ResourceFlagAllowRenderTarget,
	}, false)
	require.NoError(t, err)
	require.Equal(t, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Format:    core1_0.FormatR8G8B8A8UnsignedNormalized,
		Extent: core1_0.Extent3D{
			Width:  256,
			Height: 128,
			Depth:  1,
		},
		MipLevels:     4,
		ArrayLayers:   6,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled | core1_0.ImageUsageColorAttachment,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	}, info)
}

func TestImageCreateInfoDimensions(t *testing.T) {
	info, err := imageCreateInfo(native.ResourceDescription{
		Dimension:        native.ResourceDimensionTexture3D,
		Width:            64,
		Height:           64,
		DepthOrArraySize: 16,
		MipLevels:        1,
		Format:           native.FormatR32Float,
	}, true)
	require.NoError(t, err)
	require.Equal(t, core1_0.ImageType3D, info.ImageType)
	require.Equal(t, core1_0.Extent3D{Width: 64, Height: 64, Depth: 16}, info.Extent)
	require.Equal(t, 1, info.ArrayLayers)
	require.Equal(t, core1_0.ImageTilingLinear, info.Tiling)

	info, err = imageCreateInfo(native.ResourceDescription{
		Dimension: native.ResourceDimensionTexture1D,
		Width:     512,
		Height:    9,
		Format:    native.FormatD32Float,
		Flags:     native.ResourceFlagAllowUnorderedAccess,
	}, false)
	require.NoError(t, err)
	require.Equal(t, core1_0.ImageType1D, info.ImageType)
	require.Equal(t, core1_0.Extent3D{Width: 512, Height: 1, Depth: 1}, info.Extent)
	require.Equal(t, 1, info.ArrayLayers)
	require.Equal(t, 1, info.MipLevels)
	// Depth formats are always attachable
	require.NotZero(t, info.Usage&core1_0.ImageUsageDepthStencilAttachment)
	require.NotZero(t, info.Usage&core1_0.ImageUsageStorage)
	require.Zero(t, info.Usage&core1_0.ImageUsageColorAttachment)

	_, err = imageCreateInfo(native.ResourceDescription{
		Dimension: native.ResourceDimensionBuffer,
		Width:     512,
	}, false)
	require.True(t, errors.Is(err, native.ErrUnsupported))
}

func TestBufferCreateInfo(t *testing.T) {
	info := bufferCreateInfo(native.ResourceDescription{
		Dimension: native.ResourceDimensionBuffer,
		Width:     4096,
	})
	require.Equal(t, 4096, info.Size)
	require.Equal(t, core1_0.SharingModeExclusive, info.SharingMode)
	require.NotZero(t, info.Usage&core1_0.BufferUsageStorageBuffer)
	require.NotZero(t, info.Usage&core1_0.BufferUsageTransferDst)
}
