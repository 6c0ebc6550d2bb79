package gpumem

import (
	"context"
	"log/slog"
	"math/bits"

	"github.com/vkngwrapper/gpumem/native"
)

// TextureCreateInfo describes a texture to create
type TextureCreateInfo struct {
	Kind TextureKind
	// Width, Height and Depth are in pixels. 1D textures must have a Height of 1, and
	// Depth is the array size for 1D and 2D textures.
	Width         int
	Height        int
	Depth         int
	Format        native.Format
	MipLevelCount int
	Usage         TextureUsage
	CPUAccess     CPUAccess
	Flags         AllocationFlags
	// Name is used in logs and statistics
	Name string
}

// Texture is a GPU image resource
type Texture struct {
	resource

	device        *Device
	kind          TextureKind
	width         int
	height        int
	depth         int
	format        native.Format
	mipLevelCount int
	usage         TextureUsage
}

// MaxMipLevelCount returns the length of a full mip chain for a texture of the given extent
func MaxMipLevelCount(width, height, depth int) int {
	return bits.Len(uint(max(width, height, depth, 1)))
}

func (info TextureCreateInfo) validate() error {
	if !info.Kind.IsValid() {
		return invalidArgument("undefined texture kind %d", int32(info.Kind))
	}
	if info.Width <= 0 || info.Height <= 0 || info.Depth <= 0 {
		return invalidArgument("texture extent must be positive, but was %dx%dx%d", info.Width, info.Height, info.Depth)
	}
	if info.Kind == TextureKind1D && info.Height != 1 {
		return invalidArgument("1D textures must have a height of 1, but was %d", info.Height)
	}
	if !info.Format.IsValid() {
		return invalidArgument("undefined texture format %s", info.Format)
	}
	depthForMips := 1
	if info.Kind == TextureKind3D {
		depthForMips = info.Depth
	}
	maxMips := MaxMipLevelCount(info.Width, info.Height, depthForMips)
	if info.MipLevelCount < 1 || info.MipLevelCount > maxMips {
		return invalidArgument("texture mip level count must be between 1 and %d, but was %d", maxMips, info.MipLevelCount)
	}
	if info.Format.IsDepthStencil() && info.Usage&TextureUsageRenderTarget != 0 {
		return invalidArgument("depth stencil format %s cannot be used as a color render target", info.Format)
	}
	if !info.CPUAccess.IsValid() {
		return invalidArgument("undefined cpu access %d", int32(info.CPUAccess))
	}
	return nil
}

// CreateTexture allocates memory for a texture and places the texture in it
func (d *Device) CreateTexture(info TextureCreateInfo) (*Texture, error) {
	err := info.validate()
	if err != nil {
		return nil, err
	}

	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Device::CreateTexture",
		slog.String("name", info.Name),
		slog.String("kind", info.Kind.String()),
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.Int("depth", info.Depth),
		slog.String("format", info.Format.String()),
		slog.Int("mipLevels", info.MipLevelCount),
		slog.String("cpuAccess", info.CPUAccess.String()),
	)

	desc := native.ResourceDescription{
		Dimension:        textureKindMapping[info.Kind],
		Width:            info.Width,
		Height:           info.Height,
		DepthOrArraySize: info.Depth,
		MipLevels:        info.MipLevelCount,
		Format:           info.Format,
		Flags:            info.Usage.resourceFlags(),
	}

	texture := &Texture{
		device:        d,
		kind:          info.Kind,
		width:         info.Width,
		height:        info.Height,
		depth:         info.Depth,
		format:        info.Format,
		mipLevelCount: info.MipLevelCount,
		usage:         info.Usage,
	}

	category := info.Usage.Category()
	manager := d.managers[d.managerIndex(info.CPUAccess, category)]
	err = d.placeResource(&texture.resource, manager, desc, category, info.CPUAccess, info.Flags, info.Name)
	if err != nil {
		return nil, err
	}

	return texture, nil
}

func (t *Texture) Kind() TextureKind     { return t.kind }
func (t *Texture) Width() int            { return t.width }
func (t *Texture) Height() int           { return t.height }
func (t *Texture) Depth() int            { return t.depth }
func (t *Texture) Format() native.Format { return t.format }
func (t *Texture) MipLevelCount() int    { return t.mipLevelCount }
func (t *Texture) Usage() TextureUsage   { return t.usage }

// CreateView binds a range of the texture's mip levels. The view's offset and length come from
// the device's copyable footprint of the range.
func (t *Texture) CreateView(mipLevelStart, mipLevelCount int) (*TextureView, error) {
	if mipLevelCount < 1 {
		return nil, invalidArgument("view mip level count must be positive, but was %d", mipLevelCount)
	}
	if mipLevelStart < 0 || mipLevelStart >= t.mipLevelCount || mipLevelCount > t.mipLevelCount-mipLevelStart {
		return nil, invalidArgument("%d mip levels starting at %d are outside texture %q with %d mip levels",
			mipLevelCount, mipLevelStart, t.name, t.mipLevelCount)
	}

	footprint, err := t.device.native.GetCopyableFootprints(t.desc, mipLevelStart, mipLevelCount)
	if err != nil {
		return nil, wrapNative(err, "failed to get the footprint of mip levels %d through %d of texture %q", mipLevelStart, mipLevelStart+mipLevelCount-1, t.name)
	}
	if footprint.Offset < 0 || footprint.Offset+footprint.ByteLength > t.byteLength {
		return nil, invalidArgument("the footprint of mip levels %d through %d ends at byte %d, past the end of texture %q at %d",
			mipLevelStart, mipLevelStart+mipLevelCount-1, footprint.Offset+footprint.ByteLength, t.name, t.byteLength)
	}

	err = t.acquireView()
	if err != nil {
		return nil, err
	}

	return &TextureView{
		texture:       t,
		mipLevelStart: mipLevelStart,
		mipLevelCount: mipLevelCount,
		footprint:     footprint,
	}, nil
}

// Destroy releases the texture and returns its memory to its heap. It fails with
// ErrResourceInUse while views are alive.
func (t *Texture) Destroy() error {
	return t.destroy()
}
