package gpumem

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gpumem/memutils"
	"github.com/vkngwrapper/gpumem/native"
	"github.com/vkngwrapper/gpumem/native/mocks"
	"go.uber.org/mock/gomock"
)

const testPlacementAlignment uint = 64 * 1024

type DeviceSetup struct {
	HeapTier native.HeapTier
	Adapter  native.AdapterMemoryInfo
	Options  CreateOptions

	// ExpectBudgetQueries leaves QueryVideoMemoryInfo without a default expectation, so the
	// test can count queries exactly
	ExpectBudgetQueries bool
	// PreNewMock installs expectations that take precedence over the defaults
	PreNewMock func(dev *mocks.MockDevice)
}

type createdHeap struct {
	heap       *mocks.MockHeap
	byteLength int
	heapType   native.HeapType
	flags      native.HeapFlags
	released   bool
}

type createdResource struct {
	resource *mocks.MockResource
	heap     native.Heap
	offset   int
	desc     native.ResourceDescription
	memory   []byte

	maps        int
	unmaps      int
	lastRead    native.Range
	lastWritten native.Range
	released    bool
}

// nativeLog records every heap and resource the mocked device hands out
type nativeLog struct {
	mutex     sync.Mutex
	heaps     []*createdHeap
	resources []*createdResource
}

func (l *nativeLog) heapSizes() []int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	sizes := make([]int, 0, len(l.heaps))
	for _, heap := range l.heaps {
		sizes = append(sizes, heap.byteLength)
	}
	return sizes
}

func (l *nativeLog) releasedHeapCount() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	count := 0
	for _, heap := range l.heaps {
		if heap.released {
			count++
		}
	}
	return count
}

func (l *nativeLog) lastResource() *createdResource {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.resources[len(l.resources)-1]
}

func testAllocationInfo(desc native.ResourceDescription) (native.AllocationInfo, error) {
	footprint, err := native.CalculateFootprint(desc, 0, desc.MipLevels)
	if err != nil {
		return native.AllocationInfo{}, err
	}

	return native.AllocationInfo{
		ByteLength: memutils.AlignUp(footprint.Offset+footprint.ByteLength, testPlacementAlignment),
		Alignment:  testPlacementAlignment,
	}, nil
}

func (l *nativeLog) createHeap(ctrl *gomock.Controller) func(int, native.HeapType, native.HeapFlags) (native.Heap, error) {
	return func(byteLength int, heapType native.HeapType, flags native.HeapFlags) (native.Heap, error) {
		heap := mocks.NewMockHeap(ctrl)
		created := &createdHeap{
			heap:       heap,
			byteLength: byteLength,
			heapType:   heapType,
			flags:      flags,
		}
		heap.EXPECT().Release().Do(func() {
			l.mutex.Lock()
			defer l.mutex.Unlock()
			created.released = true
		}).MaxTimes(1)

		l.mutex.Lock()
		l.heaps = append(l.heaps, created)
		l.mutex.Unlock()

		return heap, nil
	}
}

func (l *nativeLog) createPlacedResource(ctrl *gomock.Controller) func(native.Heap, int, native.ResourceDescription) (native.Resource, error) {
	return func(heap native.Heap, byteOffset int, desc native.ResourceDescription) (native.Resource, error) {
		info, err := testAllocationInfo(desc)
		if err != nil {
			return nil, err
		}

		resource := mocks.NewMockResource(ctrl)
		created := &createdResource{
			resource: resource,
			heap:     heap,
			offset:   byteOffset,
			desc:     desc,
			memory:   make([]byte, info.ByteLength),
		}

		// gpumem serializes map calls per resource, so the counters need no lock of their own
		resource.EXPECT().Map(0, gomock.Any()).DoAndReturn(func(subresource int, readRange native.Range) (unsafe.Pointer, error) {
			created.maps++
			created.lastRead = readRange
			return unsafe.Pointer(&created.memory[0]), nil
		}).AnyTimes()
		resource.EXPECT().Unmap(0, gomock.Any()).Do(func(subresource int, writtenRange native.Range) {
			created.unmaps++
			created.lastWritten = writtenRange
		}).AnyTimes()
		resource.EXPECT().Release().Do(func() {
			created.released = true
		}).MaxTimes(1)

		l.mutex.Lock()
		l.resources = append(l.resources, created)
		l.mutex.Unlock()

		return resource, nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readyDevice(t *testing.T, ctrl *gomock.Controller, setup DeviceSetup) (*mocks.MockDevice, *nativeLog, *Device) {
	if setup.HeapTier == 0 {
		setup.HeapTier = native.HeapTier2
	}

	dev := mocks.NewMockDevice(ctrl)
	log := &nativeLog{}

	if setup.PreNewMock != nil {
		setup.PreNewMock(dev)
	}

	dev.EXPECT().HeapTier().Return(setup.HeapTier).AnyTimes()
	dev.EXPECT().AdapterMemoryInfo().Return(setup.Adapter).AnyTimes()
	dev.EXPECT().CreateHeap(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(log.createHeap(ctrl)).AnyTimes()
	dev.EXPECT().GetResourceAllocationInfo(gomock.Any()).DoAndReturn(testAllocationInfo).AnyTimes()
	dev.EXPECT().CreatePlacedResource(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(log.createPlacedResource(ctrl)).AnyTimes()
	dev.EXPECT().GetCopyableFootprints(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(native.CalculateFootprint).AnyTimes()
	if !setup.ExpectBudgetQueries {
		dev.EXPECT().QueryVideoMemoryInfo(gomock.Any()).Return(native.VideoMemoryInfo{}, native.ErrUnsupported).AnyTimes()
	}

	device, err := New(testLogger(), dev, setup.Options)
	require.NoError(t, err)

	return dev, log, device
}

func TestNewTier2Managers(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, log, device := readyDevice(t, ctrl, DeviceSetup{
		HeapTier: native.HeapTier2,
	})

	managers := device.MemoryManagers()
	require.Len(t, managers, 3)
	require.Equal(t, native.HeapTier2, device.HeapTier())

	expectedSegments := []native.MemorySegmentGroup{
		native.MemorySegmentGroupLocal,
		native.MemorySegmentGroupNonLocal,
		native.MemorySegmentGroupNonLocal,
	}
	for index, manager := range managers {
		require.Equal(t, index, manager.Index())
		require.Equal(t, native.HeapType(index), manager.HeapType())
		require.Equal(t, native.HeapFlagsAllowAll, manager.HeapFlags())
		require.Equal(t, expectedSegments[index], manager.MemorySegmentGroup())
		require.Equal(t, DefaultHeapByteLength, manager.DefaultHeapByteLength())
		require.Zero(t, manager.HeapCount())
	}

	// Heaps are only created on demand
	require.Empty(t, log.heapSizes())
	require.NoError(t, device.Destroy())
}

func TestNewTier1Managers(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, device := readyDevice(t, ctrl, DeviceSetup{
		HeapTier: native.HeapTier1,
	})

	managers := device.MemoryManagers()
	require.Len(t, managers, 9)

	expectedFlags := []native.HeapFlags{
		native.HeapFlagsAllowOnlyBuffers,
		native.HeapFlagsAllowOnlyNonRTDSTextures,
		native.HeapFlagsAllowOnlyRTDSTextures,
	}
	for index, manager := range managers {
		require.Equal(t, index, manager.Index())
		require.Equal(t, native.HeapType(index%native.HeapTypeCount), manager.HeapType())
		require.Equal(t, expectedFlags[index/native.HeapTypeCount], manager.HeapFlags())
	}
}

func TestManagerSelectionTier1(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, device := readyDevice(t, ctrl, DeviceSetup{
		HeapTier: native.HeapTier1,
	})

	uploadTextures, err := device.MemoryManager(CPUAccessWrite, ResourceCategoryTexture)
	require.NoError(t, err)
	require.Equal(t, 4, uploadTextures.Index())
	require.Equal(t, native.HeapTypeUpload, uploadTextures.HeapType())
	require.Equal(t, native.HeapFlagsAllowOnlyNonRTDSTextures, uploadTextures.HeapFlags())

	uploadBuffers, err := device.MemoryManager(CPUAccessWrite, ResourceCategoryBuffer)
	require.NoError(t, err)
	require.Equal(t, 1, uploadBuffers.Index())
	require.Equal(t, native.HeapFlagsAllowOnlyBuffers, uploadBuffers.HeapFlags())
	require.NotSame(t, uploadTextures, uploadBuffers)

	renderTargets, err := device.MemoryManager(CPUAccessNone, ResourceCategoryRenderTarget)
	require.NoError(t, err)
	require.Equal(t, 6, renderTargets.Index())
	require.Equal(t, native.HeapTypeDefault, renderTargets.HeapType())

	readbackTextures, err := device.MemoryManager(CPUAccessRead, ResourceCategoryTexture)
	require.NoError(t, err)
	require.Equal(t, 5, readbackTextures.Index())
}

func TestManagerSelectionTier2(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, device := readyDevice(t, ctrl, DeviceSetup{
		HeapTier: native.HeapTier2,
	})

	for category := ResourceCategory(0); category < ResourceCategoryCount; category++ {
		manager, err := device.MemoryManager(CPUAccessWrite, category)
		require.NoError(t, err)
		require.Equal(t, 1, manager.Index())
		require.Equal(t, native.HeapTypeUpload, manager.HeapType())
	}
}

func TestManagerSelectionInvalid(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, device := readyDevice(t, ctrl, DeviceSetup{})

	_, err := device.MemoryManager(CPUAccess(12), ResourceCategoryBuffer)
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = device.MemoryManager(CPUAccessNone, ResourceCategory(-1))
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestUnifiedMemoryUsesLocalSegment(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, device := readyDevice(t, ctrl, DeviceSetup{
		HeapTier: native.HeapTier1,
		Adapter: native.AdapterMemoryInfo{
			DedicatedVideoMemory:      512 * 1024 * 1024,
			SharedSystemMemory:        4 * 1024 * 1024 * 1024,
			UnifiedMemoryArchitecture: true,
		},
	})

	for _, manager := range device.MemoryManagers() {
		require.Equal(t, native.MemorySegmentGroupLocal, manager.MemorySegmentGroup())
	}
}

func TestNewInvalidArguments(t *testing.T) {
	ctrl := gomock.NewController(t)
	dev := mocks.NewMockDevice(ctrl)

	_, err := New(nil, dev, CreateOptions{})
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = New(testLogger(), nil, CreateOptions{})
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = New(testLogger(), dev, CreateOptions{BudgetFallbackPercent: 101})
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = New(testLogger(), dev, CreateOptions{MinimumHeapCount: -1})
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = New(testLogger(), dev, CreateOptions{HeapByteLengths: map[native.HeapType]int{native.HeapTypeUpload: 0}})
	require.True(t, errors.Is(err, ErrInvalidArgument))

	dev.EXPECT().HeapTier().Return(native.HeapTier(7))
	dev.EXPECT().AdapterMemoryInfo().Return(native.AdapterMemoryInfo{})
	_, err = New(testLogger(), dev, CreateOptions{})
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestGetMemoryBudgetRejectsForeignManager(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, first := readyDevice(t, ctrl, DeviceSetup{})
	_, _, second := readyDevice(t, ctrl, DeviceSetup{})

	_, err := first.GetMemoryBudget(second.MemoryManagers()[0])
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = first.GetMemoryBudget(nil)
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = first.GetMemoryBudget(first.MemoryManagers()[0])
	require.NoError(t, err)
}

func TestMinimumHeapCount(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, log, device := readyDevice(t, ctrl, DeviceSetup{
		Options: CreateOptions{
			MinimumHeapCount:      2,
			DefaultHeapByteLength: 1024 * 1024,
			HeapByteLengths: map[native.HeapType]int{
				native.HeapTypeReadback: 256 * 1024,
			},
		},
	})

	require.Equal(t, []int{
		1024 * 1024, 1024 * 1024,
		1024 * 1024, 1024 * 1024,
		256 * 1024, 256 * 1024,
	}, log.heapSizes())

	for _, manager := range device.MemoryManagers() {
		require.Equal(t, 2, manager.HeapCount())
	}

	require.NoError(t, device.Destroy())
	require.Equal(t, 6, log.releasedHeapCount())
}

func TestMinimumHeapCountFailureReleasesHeaps(t *testing.T) {
	ctrl := gomock.NewController(t)

	dev := mocks.NewMockDevice(ctrl)
	dev.EXPECT().HeapTier().Return(native.HeapTier2).AnyTimes()
	dev.EXPECT().AdapterMemoryInfo().Return(native.AdapterMemoryInfo{}).AnyTimes()

	heap := mocks.NewMockHeap(ctrl)
	gomock.InOrder(
		dev.EXPECT().CreateHeap(DefaultHeapByteLength, native.HeapTypeDefault, native.HeapFlagsAllowAll).Return(heap, nil),
		dev.EXPECT().CreateHeap(DefaultHeapByteLength, native.HeapTypeUpload, native.HeapFlagsAllowAll).Return(nil, native.NewError("CreateHeap", -2, true)),
	)
	heap.EXPECT().Release()

	_, err := New(testLogger(), dev, CreateOptions{MinimumHeapCount: 1})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOutOfMemory))

	var nativeErr *native.Error
	require.True(t, errors.As(err, &nativeErr))
	require.Equal(t, int32(-2), nativeErr.Code)
}

func TestDeviceDestroyReportsLiveRegions(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, log, device := readyDevice(t, ctrl, DeviceSetup{
		Options: CreateOptions{DefaultHeapByteLength: 64 * 1024},
	})

	manager := device.MemoryManagers()[0]
	region, err := manager.Allocate(1024, 256, 0)
	require.NoError(t, err)

	err = device.Destroy()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrHeapInUse))
	require.Zero(t, log.releasedHeapCount())
	require.Equal(t, 1, manager.HeapCount())

	require.NoError(t, manager.Free(region))
	require.NoError(t, device.Destroy())
	require.Equal(t, 1, log.releasedHeapCount())
	require.Zero(t, manager.HeapCount())
}

type statsSummary struct {
	General struct {
		HeapTier                  string
		UnifiedMemoryArchitecture bool
		ManagerCount              int
	}
	Total struct {
		HeapCount   int
		RegionCount int
		RegionBytes int
	}
	Managers []struct {
		Index    int
		HeapType string
		Budget   struct {
			EstimatedBudget int
			TotalCommitted  int
		}
		Stats struct {
			HeapCount   int
			RegionCount int
		}
		Heaps []struct {
			Id         int
			TotalBytes int
			Regions    int
			Map        []struct {
				Offset int
				Size   int
				Type   string
			}
		}
	}
}


func TestBuildStatsString(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, _, device := readyDevice(t, ctrl, DeviceSetup{
		HeapTier: native.HeapTier1,
		Adapter: native.AdapterMemoryInfo{
			DedicatedVideoMemory: 1024 * 1024 * 1024,
			SharedSystemMemory:   1024 * 1024 * 1024,
		},
		Options: CreateOptions{DefaultHeapByteLength: 1024 * 1024},
	})

	buffer, err := device.CreateBuffer(BufferCreateInfo{
		Kind:       BufferKindVertex,
		ByteLength: 1000,
		Name:       "vertices",
	})
	require.NoError(t, err)

	var stats Statistics
	device.CalculateStatistics(&stats)
	require.Len(t, stats.Managers, 9)
	require.Equal(t, 1, stats.Total.HeapCount)
	require.Equal(t, 1024*1024, stats.Total.HeapBytes)
	require.Equal(t, 1, stats.Total.RegionCount)
	require.Equal(t, 64*1024, stats.Total.RegionBytes)
	require.Equal(t, 1, stats.Managers[0].RegionCount)

	var summary, detailed statsSummary
	err = json.Unmarshal([]byte(device.BuildStatsString(false)), &summary)
	require.NoError(t, err)
	require.Equal(t, 9, summary.General.ManagerCount)
	require.False(t, summary.General.UnifiedMemoryArchitecture)
	require.Equal(t, 1, summary.Total.RegionCount)
	require.Len(t, summary.Managers, 9)
	require.Equal(t, 1, summary.Managers[0].Stats.RegionCount)
	require.Equal(t, 1024*1024, summary.Managers[0].Budget.TotalCommitted)
	require.Equal(t, 1024*1024*1024*DefaultBudgetFallbackPercent/100, summary.Managers[0].Budget.EstimatedBudget)
	require.Empty(t, summary.Managers[0].Heaps)

	err = json.Unmarshal([]byte(device.BuildStatsString(true)), &detailed)
	require.NoError(t, err)
	require.Len(t, detailed.Managers[0].Heaps, 1)

	heap := detailed.Managers[0].Heaps[0]
	require.Equal(t, 1024*1024, heap.TotalBytes)
	require.Equal(t, 1, heap.Regions)
	require.Len(t, heap.Map, 2)
	require.Equal(t, "Buffer", heap.Map[0].Type)
	require.Equal(t, 64*1024, heap.Map[0].Size)
	require.Equal(t, "FREE", heap.Map[1].Type)

	require.NoError(t, buffer.Destroy())
	require.NoError(t, device.Destroy())
}
