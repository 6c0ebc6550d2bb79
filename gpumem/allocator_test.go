package gpumem

import (
	"bytes"
	"log/slog"
	"math/rand"
	"sort"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gpumem/memutils"
	"github.com/vkngwrapper/gpumem/memutils/metadata"
	"github.com/vkngwrapper/gpumem/native"
	"github.com/vkngwrapper/gpumem/native/mocks"
	"go.uber.org/mock/gomock"
)

func requireNoOverlap(t *testing.T, regions []MemoryRegion) {
	sorted := append([]MemoryRegion(nil), regions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset() < sorted[j].Offset() })

	for i := 1; i < len(sorted); i++ {
		require.False(t, sorted[i-1].Overlaps(sorted[i]), "%s overlaps %s", sorted[i-1], sorted[i])
		require.LessOrEqual(t, sorted[i-1].End(), sorted[i].Offset())
	}
}

func TestAllocatorRandomWorkload(t *testing.T) {
	const byteLength = 4 * 1024 * 1024

	for _, flags := range []AllocationFlags{0, AllocationStrategyMinMemory, AllocationStrategyMinTime, AllocationStrategyMinOffset} {
		t.Run(flags.String(), func(t *testing.T) {
			allocator, err := NewMemoryAllocator(byteLength, AllocatorOptions{DebugValidation: true})
			require.NoError(t, err)

			rng := rand.New(rand.NewSource(int64(flags) + 1))
			var live []MemoryRegion
			var operations uint64

			for op := 0; op < 1500; op++ {
				if len(live) > 0 && rng.Intn(5) < 2 {
					index := rng.Intn(len(live))
					require.NoError(t, allocator.Free(live[index]))
					live = append(live[:index], live[index+1:]...)
					operations++
				} else {
					size := 1 + rng.Intn(64*1024)
					alignment := uint(1) << rng.Intn(16)

					region, success, err := allocator.TryAllocate(size, alignment, flags)
					require.NoError(t, err)
					if success {
						require.True(t, region.IsValid())
						require.True(t, memutils.IsAligned(region.Offset(), alignment))
						require.Equal(t, size, region.Size())
						require.LessOrEqual(t, region.End(), byteLength)
						require.Equal(t, NoHeap, region.HeapID())
						require.Equal(t, allocator.ID(), region.AllocatorID())
						live = append(live, region)
						operations++
					}
				}

				liveBytes := 0
				for _, region := range live {
					liveBytes += region.Size()
				}
				require.Equal(t, byteLength, allocator.FreeBytes()+liveBytes)
				require.Equal(t, len(live), allocator.RegionCount())
				require.Equal(t, operations, allocator.OperationCount())
			}

			requireNoOverlap(t, live)
			require.NoError(t, allocator.Validate())
		})
	}
}

func TestAllocatorRoundTrip(t *testing.T) {
	allocator, err := NewMemoryAllocator(64*1024, AllocatorOptions{})
	require.NoError(t, err)

	first, success, err := allocator.TryAllocate(256, 256, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, 0, first.Offset())

	second, success, err := allocator.TryAllocate(256, 256, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.False(t, first.Overlaps(second))

	require.NoError(t, allocator.Free(first))
	require.NoError(t, allocator.Free(second))
	require.True(t, allocator.IsEmpty())
	require.Equal(t, 64*1024, allocator.FreeBytes())
	require.Equal(t, uint64(4), allocator.OperationCount())

	// With everything returned, the full range is available again
	whole, success, err := allocator.TryAllocate(64*1024, 1, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, 0, whole.Offset())
}

func TestAllocatorExhaustionLeavesStateUnchanged(t *testing.T) {
	allocator, err := NewMemoryAllocator(4096, AllocatorOptions{})
	require.NoError(t, err)

	_, success, err := allocator.TryAllocate(3000, 1, 0)
	require.NoError(t, err)
	require.True(t, success)

	_, success, err = allocator.TryAllocate(2000, 1, 0)
	require.NoError(t, err)
	require.False(t, success)

	// Fits by size, but no offset in the free range is aligned to 2048
	_, success, err = allocator.TryAllocate(1024, 2048, 0)
	require.NoError(t, err)
	require.False(t, success)

	require.Equal(t, 1096, allocator.FreeBytes())
	require.Equal(t, 1, allocator.RegionCount())
	require.Equal(t, uint64(1), allocator.OperationCount())
	require.NoError(t, allocator.Validate())
}

func TestAllocatorDedicated(t *testing.T) {
	allocator, err := NewMemoryAllocator(8192, AllocatorOptions{})
	require.NoError(t, err)

	dedicated, success, err := allocator.TryAllocate(100, 16, AllocationDedicated)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, 0, dedicated.Offset())
	require.Equal(t, 8192, dedicated.Size())
	require.Zero(t, allocator.FreeBytes())

	require.NoError(t, allocator.Free(dedicated))

	_, success, err = allocator.TryAllocate(100, 16, 0)
	require.NoError(t, err)
	require.True(t, success)

	// Any live region rules out a dedicated allocation
	_, success, err = allocator.TryAllocate(100, 16, AllocationDedicated)
	require.NoError(t, err)
	require.False(t, success)
}

func TestAllocatorRejectsForeignAndDoubleFree(t *testing.T) {
	first, err := NewMemoryAllocator(4096, AllocatorOptions{})
	require.NoError(t, err)
	second, err := NewMemoryAllocator(4096, AllocatorOptions{})
	require.NoError(t, err)
	require.NotEqual(t, first.ID(), second.ID())

	region, success, err := first.TryAllocate(128, 8, 0)
	require.NoError(t, err)
	require.True(t, success)

	err = second.Free(region)
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.Equal(t, 1, first.RegionCount())

	require.NoError(t, first.Free(region))

	err = first.Free(region)
	require.True(t, errors.Is(err, ErrInvalidArgument))

	err = first.Free(MemoryRegion{})
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.Equal(t, uint64(2), first.OperationCount())
}

func TestAllocatorInvalidArguments(t *testing.T) {
	_, err := NewMemoryAllocator(0, AllocatorOptions{})
	require.True(t, errors.Is(err, ErrInvalidArgument))

	allocator, err := NewMemoryAllocator(4096, AllocatorOptions{})
	require.NoError(t, err)

	_, _, err = allocator.TryAllocate(0, 1, 0)
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, _, err = allocator.TryAllocate(-5, 1, 0)
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, _, err = allocator.TryAllocate(64, 48, 0)
	require.True(t, errors.Is(err, ErrInvalidArgument))
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))

	_, _, err = allocator.TryAllocate(64, 0, 0)
	require.True(t, errors.Is(err, ErrInvalidArgument))

	require.Zero(t, allocator.OperationCount())
	require.True(t, allocator.IsEmpty())
}

func TestAllocatorClearCountsOperations(t *testing.T) {
	allocator, err := NewMemoryAllocator(1024*1024, AllocatorOptions{ExternallySynchronized: true})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, success, err := allocator.TryAllocate(1000, 64, 0)
		require.NoError(t, err)
		require.True(t, success)
	}
	require.Equal(t, uint64(10), allocator.OperationCount())

	allocator.Clear()
	require.True(t, allocator.IsEmpty())
	require.Equal(t, 1024*1024, allocator.FreeBytes())
	require.Equal(t, uint64(20), allocator.OperationCount())
	require.NoError(t, allocator.Validate())
}

func TestAllocatorStatistics(t *testing.T) {
	allocator, err := NewMemoryAllocator(10000, AllocatorOptions{})
	require.NoError(t, err)

	_, _, err = allocator.TryAllocate(1000, 1, 0)
	require.NoError(t, err)
	_, _, err = allocator.TryAllocate(3000, 1, 0)
	require.NoError(t, err)

	var stats memutils.Statistics
	allocator.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		HeapCount:   1,
		RegionCount: 2,
		HeapBytes:   10000,
		RegionBytes: 4000,
	}, stats)

	var detailed memutils.DetailedStatistics
	detailed.Clear()
	allocator.AddDetailedStatistics(&detailed)
	require.Equal(t, 1000, detailed.RegionSizeMin)
	require.Equal(t, 3000, detailed.RegionSizeMax)
	require.Equal(t, 1, detailed.FreeRangeCount)
	require.Equal(t, 6000, detailed.FreeRangeSizeMax)
}

func TestHeapDestroyLogsUnreleasedRegions(t *testing.T) {
	ctrl := gomock.NewController(t)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	nativeHeap := mocks.NewMockHeap(ctrl)
	heap := newMemoryHeap(logger, nativeHeap, 3, 64*1024, native.HeapTypeUpload, native.HeapFlagsAllowOnlyBuffers, AllocatorOptions{})
	require.Equal(t, 3, heap.ID())
	require.Equal(t, native.HeapTypeUpload, heap.HeapType())
	require.Equal(t, native.HeapFlagsAllowOnlyBuffers, heap.Flags())

	region, success, err := heap.allocate(512, 256, 0, uint32(ResourceCategoryBuffer)+1, "staging")
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, 3, region.HeapID())

	err = heap.Destroy()
	require.True(t, errors.Is(err, ErrHeapInUse))
	require.Contains(t, logs.String(), "[UNRELEASED MEMORY]")
	require.Contains(t, logs.String(), "name=staging")
	require.Same(t, nativeHeap, heap.Native())

	require.NoError(t, heap.Free(region))

	nativeHeap.EXPECT().Release()
	require.NoError(t, heap.Destroy())
	require.Nil(t, heap.Native())

	require.Panics(t, func() {
		_ = heap.Destroy()
	})
}

func TestAllocationFlagsStrategy(t *testing.T) {
	require.Equal(t, metadata.AllocationStrategy(0), AllocationFlags(0).Strategy())
	require.Equal(t, metadata.AllocationStrategy(0), (AllocationDedicated | AllocationWithinBudget).Strategy())
	require.Equal(t, metadata.AllocationStrategyMinMemory, (AllocationStrategyMinMemory | AllocationNeverAllocate).Strategy())
	require.Equal(t, metadata.AllocationStrategyMinTime|metadata.AllocationStrategyMinOffset,
		(AllocationStrategyMinTime | AllocationStrategyMinOffset).Strategy())
	require.Equal(t, metadata.AllocationStrategyMinMemory|metadata.AllocationStrategyMinTime|metadata.AllocationStrategyMinOffset,
		AllocationStrategyMask.Strategy())
}
