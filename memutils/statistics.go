package memutils

import "math"

// Statistics is a cheap summary of how heap memory is being used
type Statistics struct {
	// HeapCount is the number of heaps summed into these statistics
	HeapCount int
	// RegionCount is the number of live regions carved out of those heaps
	RegionCount int
	// HeapBytes is the total size of the heaps
	HeapBytes int
	// RegionBytes is the number of bytes occupied by live regions
	RegionBytes int
}

// Clear resets every counter to zero
func (s *Statistics) Clear() {
	*s = Statistics{}
}

// FreeBytes returns the number of heap bytes not occupied by a region
func (s *Statistics) FreeBytes() int {
	return s.HeapBytes - s.RegionBytes
}

// AddStatistics sums other into s
func (s *Statistics) AddStatistics(other *Statistics) {
	s.HeapCount += other.HeapCount
	s.RegionCount += other.RegionCount
	s.HeapBytes += other.HeapBytes
	s.RegionBytes += other.RegionBytes
}

// DetailedStatistics extends Statistics with free-range counts and size extremes. It is
// more expensive to gather because every region in every heap must be visited.
type DetailedStatistics struct {
	Statistics
	FreeRangeCount   int
	RegionSizeMin    int
	RegionSizeMax    int
	FreeRangeSizeMin int
	FreeRangeSizeMax int
}

// Clear resets the statistics so that minimums are primed for the first sample
func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRangeCount = 0
	s.RegionSizeMin = math.MaxInt
	s.RegionSizeMax = 0
	s.FreeRangeSizeMin = math.MaxInt
	s.FreeRangeSizeMax = 0
}

// AddFreeRange records one contiguous free range of the given size
func (s *DetailedStatistics) AddFreeRange(size int) {
	s.FreeRangeCount++
	s.FreeRangeSizeMin = min(s.FreeRangeSizeMin, size)
	s.FreeRangeSizeMax = max(s.FreeRangeSizeMax, size)
}

// AddRegion records one live region of the given size
func (s *DetailedStatistics) AddRegion(size int) {
	s.RegionCount++
	s.RegionBytes += size
	s.RegionSizeMin = min(s.RegionSizeMin, size)
	s.RegionSizeMax = max(s.RegionSizeMax, size)
}

// AddDetailedStatistics sums other into s
func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeRangeCount += other.FreeRangeCount
	s.FreeRangeSizeMin = min(s.FreeRangeSizeMin, other.FreeRangeSizeMin)
	s.FreeRangeSizeMax = max(s.FreeRangeSizeMax, other.FreeRangeSizeMax)
	s.RegionSizeMin = min(s.RegionSizeMin, other.RegionSizeMin)
	s.RegionSizeMax = max(s.RegionSizeMax, other.RegionSizeMax)
}
