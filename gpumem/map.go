package gpumem

import (
	"unsafe"
)

// Mappable is implemented by every resource and view
type Mappable interface {
	Map() (unsafe.Pointer, error)
	MapForRead() (unsafe.Pointer, error)
	Unmap()
	UnmapAndWrite() error
	ByteLength() int
}

var (
	_ Mappable = &Buffer{}
	_ Mappable = &Texture{}
	_ Mappable = &BufferView{}
	_ Mappable = &TextureView{}
)

func typedSlice[T any](data unsafe.Pointer, byteLength int) ([]T, error) {
	var zero T
	elementSize := int(unsafe.Sizeof(zero))
	if elementSize == 0 {
		return nil, invalidArgument("cannot map memory as a slice of zero-sized elements")
	}

	return unsafe.Slice((*T)(data), byteLength/elementSize), nil
}

// Map maps a resource or view and returns its memory as a slice of T. The slice holds as
// many whole elements as fit and is valid until the matching Unmap.
func Map[T any](target Mappable) ([]T, error) {
	data, err := target.Map()
	if err != nil {
		return nil, err
	}

	slice, err := typedSlice[T](data, target.ByteLength())
	if err != nil {
		target.Unmap()
		return nil, err
	}
	return slice, nil
}

// MapForRead is Map for resources the CPU reads back
func MapForRead[T any](target Mappable) ([]T, error) {
	data, err := target.MapForRead()
	if err != nil {
		return nil, err
	}

	slice, err := typedSlice[T](data, target.ByteLength())
	if err != nil {
		target.Unmap()
		return nil, err
	}
	return slice, nil
}

func checkElementSize[T any](view *BufferView) error {
	var zero T
	if int(unsafe.Sizeof(zero)) != view.bytesPerElement {
		return invalidArgument("cannot map a view of %d byte elements as elements of %d bytes", view.bytesPerElement, unsafe.Sizeof(zero))
	}
	return nil
}

// MapView maps a buffer view as a slice of exactly ElementCount elements. T must be
// BytesPerElement bytes long.
func MapView[T any](view *BufferView) ([]T, error) {
	err := checkElementSize[T](view)
	if err != nil {
		return nil, err
	}
	return Map[T](view)
}

// MapViewForRead is MapView for buffers the CPU reads back
func MapViewForRead[T any](view *BufferView) ([]T, error) {
	err := checkElementSize[T](view)
	if err != nil {
		return nil, err
	}
	return MapForRead[T](view)
}
