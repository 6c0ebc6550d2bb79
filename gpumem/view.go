package gpumem

import (
	"sync/atomic"
	"unsafe"

	"github.com/vkngwrapper/gpumem/native"
)

// BufferView is a range of elements within a Buffer. It borrows the buffer's memory and must
// be destroyed before the buffer.
type BufferView struct {
	buffer          *Buffer
	region          MemoryRegion
	elementCount    int
	bytesPerElement int
	destroyed       atomic.Bool
}

func (v *BufferView) Buffer() *Buffer { return v.buffer }

// ByteOffset is the offset of the view's first byte within its buffer
func (v *BufferView) ByteOffset() int      { return v.region.Offset() }
func (v *BufferView) ByteLength() int      { return v.elementCount * v.bytesPerElement }
func (v *BufferView) ElementCount() int    { return v.elementCount }
func (v *BufferView) BytesPerElement() int { return v.bytesPerElement }

// Map maps the view's buffer and returns a pointer to the view's first byte
func (v *BufferView) Map() (unsafe.Pointer, error) {
	data, err := v.buffer.Map()
	if err != nil {
		return nil, err
	}
	return unsafe.Add(data, v.ByteOffset()), nil
}

// MapForRead maps the view's buffer for reading and returns a pointer to the view's first byte
func (v *BufferView) MapForRead() (unsafe.Pointer, error) {
	data, err := v.buffer.MapForRead()
	if err != nil {
		return nil, err
	}
	return unsafe.Add(data, v.ByteOffset()), nil
}

func (v *BufferView) Unmap()               { v.buffer.Unmap() }
func (v *BufferView) UnmapAndWrite() error { return v.buffer.UnmapAndWrite() }

// Destroy returns the view's range to its buffer
func (v *BufferView) Destroy() error {
	if !v.destroyed.CompareAndSwap(false, true) {
		return invalidArgument("buffer view at offset %d has already been destroyed", v.ByteOffset())
	}

	err := v.buffer.freeView(v.region)
	if err != nil {
		v.destroyed.Store(false)
		return err
	}
	return nil
}

// TextureView is a range of mip levels within a Texture. It borrows the texture's memory and
// must be destroyed before the texture.
type TextureView struct {
	texture       *Texture
	mipLevelStart int
	mipLevelCount int
	footprint     native.Footprint
	destroyed     atomic.Bool
}

func (v *TextureView) Texture() *Texture { return v.texture }

// ByteOffset is the offset of the first mip level's footprint within the texture
func (v *TextureView) ByteOffset() int    { return v.footprint.Offset }
func (v *TextureView) ByteLength() int    { return v.footprint.ByteLength }
func (v *TextureView) RowPitch() int      { return v.footprint.RowPitch }
func (v *TextureView) MipLevelStart() int { return v.mipLevelStart }
func (v *TextureView) MipLevelCount() int { return v.mipLevelCount }

// BytesPerElement is the size of one texel
func (v *TextureView) BytesPerElement() int { return v.texture.format.BytesPerPixel() }

// Map maps the view's texture and returns a pointer to the view's first byte
func (v *TextureView) Map() (unsafe.Pointer, error) {
	data, err := v.texture.Map()
	if err != nil {
		return nil, err
	}
	return unsafe.Add(data, v.ByteOffset()), nil
}

// MapForRead maps the view's texture for reading and returns a pointer to the view's first byte
func (v *TextureView) MapForRead() (unsafe.Pointer, error) {
	data, err := v.texture.MapForRead()
	if err != nil {
		return nil, err
	}
	return unsafe.Add(data, v.ByteOffset()), nil
}

func (v *TextureView) Unmap()               { v.texture.Unmap() }
func (v *TextureView) UnmapAndWrite() error { return v.texture.UnmapAndWrite() }

// Destroy releases the view's borrow of its texture
func (v *TextureView) Destroy() error {
	if !v.destroyed.CompareAndSwap(false, true) {
		return invalidArgument("view of mip levels starting at %d has already been destroyed", v.mipLevelStart)
	}
	v.texture.releaseView()
	return nil
}
