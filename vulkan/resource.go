package vulkan

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/gpumem/native"
)

// Resource is a buffer or image bound to a range of a Heap's memory. Exactly one of Buffer
// and Image is non-nil.
type Resource struct {
	heap       *Heap
	byteOffset int
	byteLength int
	buffer     core1_0.Buffer
	image      core1_0.Image
	released   bool
}

var _ native.Resource = &Resource{}

func (r *Resource) Buffer() core1_0.Buffer { return r.buffer }
func (r *Resource) Image() core1_0.Image   { return r.image }

// Heap returns the heap the resource is bound to
func (r *Resource) Heap() *Heap { return r.heap }

// ByteOffset returns where the resource's memory begins within its heap
func (r *Resource) ByteOffset() int { return r.byteOffset }

func (r *Resource) checkRange(rng native.Range) error {
	if rng.IsEmpty() {
		return nil
	}
	if rng.Begin < 0 || rng.End > r.byteLength {
		return errors.Newf("range [%d, %d) is outside the resource's %d bytes", rng.Begin, rng.End, r.byteLength)
	}
	return nil
}

// Map maps the heap's memory and returns the address of the resource within it. Only
// subresource 0 exists in the linear layout gpumem maps.
func (r *Resource) Map(subresource int, readRange native.Range) (unsafe.Pointer, error) {
	if subresource != 0 {
		return nil, errors.Wrapf(native.ErrUnsupported, "subresource %d cannot be mapped", subresource)
	}
	if err := r.checkRange(readRange); err != nil {
		return nil, err
	}

	data, err := r.heap.mapMemory()
	if err != nil {
		return nil, err
	}

	if !readRange.IsEmpty() {
		err = r.heap.invalidate(r.byteOffset+readRange.Begin, readRange.Length())
		if err != nil {
			r.heap.unmapMemory()
			return nil, err
		}
	}

	return unsafe.Add(data, r.byteOffset), nil
}

// Unmap flushes writtenRange and drops this resource's reference to the heap mapping
func (r *Resource) Unmap(subresource int, writtenRange native.Range) {
	if subresource != 0 {
		panic("only subresource 0 is ever mapped")
	}

	if !writtenRange.IsEmpty() {
		err := r.checkRange(writtenRange)
		if err == nil {
			err = r.heap.flush(r.byteOffset+writtenRange.Begin, writtenRange.Length())
		}
		if err != nil {
			r.heap.device.logger.LogAttrs(context.Background(), slog.LevelError, "Failed to flush written range",
				slog.Int("range.begin", writtenRange.Begin),
				slog.Int("range.end", writtenRange.End),
				slog.Any("error", err),
			)
		}
	}

	r.heap.unmapMemory()
}

// Release destroys the buffer or image. The heap memory is left to the heap's owner.
func (r *Resource) Release() {
	if r.released {
		panic("attempting to release a resource that has already been released")
	}
	r.released = true

	callbacks := r.heap.device.callbacks
	if r.buffer != nil {
		r.buffer.Destroy(callbacks)
	}
	if r.image != nil {
		r.image.Destroy(callbacks)
	}
}
