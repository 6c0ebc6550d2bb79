package gpumem

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/vkngwrapper/gpumem/memutils/metadata"
	"github.com/vkngwrapper/gpumem/native"
)

// MemoryHeap is one native heap together with the allocator that divides it. Its size, type
// and placement restriction never change after creation.
type MemoryHeap struct {
	MemoryAllocator

	id         int
	logger     *slog.Logger
	nativeHeap native.Heap
	heapType   native.HeapType
	flags      native.HeapFlags
}

func newMemoryHeap(logger *slog.Logger, nativeHeap native.Heap, id int, byteLength int, heapType native.HeapType, flags native.HeapFlags, options AllocatorOptions) *MemoryHeap {
	heap := &MemoryHeap{
		id:         id,
		logger:     logger,
		nativeHeap: nativeHeap,
		heapType:   heapType,
		flags:      flags,
	}
	heap.MemoryAllocator.init(byteLength, id, options)

	return heap
}

// ID identifies the heap within its manager
func (h *MemoryHeap) ID() int { return h.id }

// Native returns the native heap. It is nil once the heap has been destroyed.
func (h *MemoryHeap) Native() native.Heap { return h.nativeHeap }

func (h *MemoryHeap) HeapType() native.HeapType { return h.heapType }
func (h *MemoryHeap) Flags() native.HeapFlags   { return h.flags }

// Destroy releases the native heap. A heap that still holds live regions is not released:
// each region is logged and an error wrapping ErrHeapInUse is returned.
func (h *MemoryHeap) Destroy() error {
	if h.nativeHeap == nil {
		panic("attempting to destroy a memory heap that has already been destroyed")
	}

	if !h.IsEmpty() {
		err := h.VisitRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			h.logUnreleasedMemory(offset, size, userData)
			return nil
		})
		if err != nil {
			h.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.Wrapf(ErrHeapInUse, "heap %d has %d live regions", h.id, h.RegionCount())
	}

	h.nativeHeap.Release()
	h.nativeHeap = nil

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Released heap",
		slog.Int("heap.id", h.id),
		slog.String("heap.type", h.heapType.String()),
		slog.String("heap.size", humanize.IBytes(uint64(h.TotalBytes()))),
	)
	return nil
}

func (h *MemoryHeap) logUnreleasedMemory(offset, size int, userData any) {
	name, _ := userData.(string)
	if name == "" {
		name = "empty"
	}

	h.logger.LogAttrs(context.Background(), slog.LevelWarn, "[UNRELEASED MEMORY] unfreed region",
		slog.Int("heap.id", h.id),
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.String("name", name),
	)
}
