package metadata

import (
	"fmt"
	"math"
	"math/bits"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gpumem/memutils"
)

const (
	// SmallBufferSize is the largest region size that is tracked in the coarse small-size lists
	SmallBufferSize = 256
	// SecondLevelIndex is the log2 of the number of second-level lists per memory class
	SecondLevelIndex uint8 = 5
	// MemoryClassShift is the log2 of SmallBufferSize, subtracted from a size's most
	// significant bit to get its memory class
	MemoryClassShift = 7
	// MaxMemoryClasses is the number of memory classes needed to describe any 64-bit size
	MaxMemoryClasses = 65 - MemoryClassShift

	smallSizeStep      = SmallBufferSize / 4
	smallListCount     = 4
	secondLevelCount   = 1 << SecondLevelIndex
	noFreeListIndex    = -1
	initialHandleCount = 42
)

var blockPool = sync.Pool{
	New: func() any {
		return &tlsfBlock{}
	},
}

type tlsfBlock struct {
	offset       int
	size         int
	prevPhysical *tlsfBlock
	nextPhysical *tlsfBlock

	// prevFree points at the block itself while the block is taken
	prevFree *tlsfBlock
	nextFree *tlsfBlock

	allocType   uint32
	userData    any
	blockHandle BlockAllocationHandle
}

func (b *tlsfBlock) markFree() {
	b.prevFree = nil
}

func (b *tlsfBlock) markTaken() {
	b.prevFree = b
}

func (b *tlsfBlock) isFree() bool {
	return b.prevFree != b
}

// TLSFBlockMetadata is a BlockMetadata implementation using the two-level segregated fit
// algorithm. Free ranges are bucketed by size class into segregated lists, with bitmaps
// recording which lists are non-empty, so finding a fitting range is close to constant time.
//
// The trailing free range of the block is kept out of the lists as the "null block", which
// grows and shrinks as regions at the end of the block come and go.
type TLSFBlockMetadata struct {
	size int

	allocCount        int
	blocksFreeCount   int
	blocksFreeSize    int
	isFreeBitmap      uint64
	innerIsFreeBitmap [MaxMemoryClasses]uint32

	nextAllocationHandle BlockAllocationHandle
	handleKey            *swiss.Map[BlockAllocationHandle, *tlsfBlock]
	freeList             []*tlsfBlock
	nullBlock            *tlsfBlock
	firstBlock           *tlsfBlock
}

var _ BlockMetadata = &TLSFBlockMetadata{}

// NewTLSFBlockMetadata creates an uninitialized TLSFBlockMetadata. Init must be called before use.
func NewTLSFBlockMetadata() *TLSFBlockMetadata {
	return &TLSFBlockMetadata{}
}

func (m *TLSFBlockMetadata) allocateBlock() *tlsfBlock {
	b := blockPool.Get().(*tlsfBlock)
	*b = tlsfBlock{}

	m.nextAllocationHandle++
	b.blockHandle = m.nextAllocationHandle
	m.handleKey.Put(b.blockHandle, b)
	return b
}

func (m *TLSFBlockMetadata) freeBlock(b *tlsfBlock) {
	m.handleKey.Delete(b.blockHandle)
	*b = tlsfBlock{}
	blockPool.Put(b)
}

func (m *TLSFBlockMetadata) getBlock(handle BlockAllocationHandle) (*tlsfBlock, error) {
	block, ok := m.handleKey.Get(handle)
	if !ok {
		return nil, errors.Newf("handle %d does not belong to this metadata", handle)
	}
	return block, nil
}

// Init prepares the metadata to manage a block of size bytes
func (m *TLSFBlockMetadata) Init(size int) {
	m.size = size
	m.handleKey = swiss.NewMap[BlockAllocationHandle, *tlsfBlock](initialHandleCount)

	m.nullBlock = m.allocateBlock()
	m.nullBlock.size = size
	m.nullBlock.markFree()
	m.firstBlock = m.nullBlock

	memoryClass := m.sizeToMemoryClass(size)
	secondIndex := m.sizeToSecondIndex(size, memoryClass)

	listSize := 1
	if memoryClass != 0 {
		listSize = int(memoryClass-1)*secondLevelCount + int(secondIndex) + 1
	}

	m.freeList = make([]*tlsfBlock, listSize+smallListCount)
}

// Size returns the size in bytes of the managed block
func (m *TLSFBlockMetadata) Size() int { return m.size }

// AllocationCount returns the number of live regions
func (m *TLSFBlockMetadata) AllocationCount() int {
	return m.allocCount
}

// FreeRegionsCount returns the number of contiguous free ranges, including the trailing range
func (m *TLSFBlockMetadata) FreeRegionsCount() int {
	count := m.blocksFreeCount
	if m.nullBlock.size > 0 {
		count++
	}
	return count
}

// SumFreeSize returns the number of unused bytes
func (m *TLSFBlockMetadata) SumFreeSize() int {
	return m.blocksFreeSize + m.nullBlock.size
}

// IsEmpty returns true when no regions are live
func (m *TLSFBlockMetadata) IsEmpty() bool {
	return m.allocCount == 0
}

// Validate walks the physical and free lists and cross-checks every counter
func (m *TLSFBlockMetadata) Validate() error {
	if m.SumFreeSize() > m.size {
		return errors.Newf("free size %d exceeds block size %d", m.SumFreeSize(), m.size)
	}

	var freeListCount int
	for listIndex := 0; listIndex < len(m.freeList); listIndex++ {
		block := m.freeList[listIndex]
		if block == nil {
			continue
		}

		if block.prevFree != nil {
			return errors.Newf("block at offset %d is the head of a free list but has a previous block", block.offset)
		}

		for ; block != nil; block = block.nextFree {
			if !block.isFree() {
				return errors.Newf("block at offset %d is in a free list but is not free", block.offset)
			}
			if m.getListIndexFromSize(block.size) != listIndex {
				return errors.Newf("block at offset %d with size %d is in free list %d", block.offset, block.size, listIndex)
			}
			if block.nextFree != nil && block.nextFree.prevFree != block {
				return errors.Newf("block at offset %d lists the block at offset %d as its next free block, but the reverse reference is broken", block.offset, block.nextFree.offset)
			}
			freeListCount++
		}
	}

	if m.nullBlock.nextPhysical != nil {
		return errors.New("null block must be the last physical block")
	}

	if m.nullBlock.prevPhysical != nil && m.nullBlock.prevPhysical.nextPhysical != m.nullBlock {
		return errors.New("null block has a previous physical block, but the reverse reference is broken")
	}

	calculatedSize := m.nullBlock.size
	calculatedFreeSize := m.nullBlock.size
	nextOffset := m.nullBlock.offset
	var allocCount, freeCount int
	var prevWasFree bool

	for prev := m.nullBlock.prevPhysical; prev != nil; prev = prev.prevPhysical {
		if prev.offset+prev.size != nextOffset {
			return errors.Newf("physical block at offset %d does not end at the next block's offset %d", prev.offset, nextOffset)
		}

		nextOffset = prev.offset
		calculatedSize += prev.size

		if prev.isFree() {
			if prevWasFree {
				return errors.Newf("free block at offset %d was not merged with its free neighbor", prev.offset)
			}
			freeCount++
			calculatedFreeSize += prev.size
		} else {
			allocCount++
		}
		prevWasFree = prev.isFree()

		if prev.prevPhysical != nil && prev.prevPhysical.nextPhysical != prev {
			return errors.Newf("block at offset %d has a previous physical block, but the reverse reference is broken", prev.offset)
		}
		if prev.prevPhysical == nil && prev != m.firstBlock {
			return errors.Newf("block at offset %d starts the physical list but is not the first block", prev.offset)
		}
	}

	if m.nullBlock.prevPhysical == nil && m.firstBlock != m.nullBlock {
		return errors.New("null block starts the physical list but is not the first block")
	}

	if freeListCount != freeCount {
		return errors.Newf("the free lists hold %d blocks but the physical list holds %d free blocks", freeListCount, freeCount)
	}

	if nextOffset != 0 {
		return errors.Newf("the first physical block should have an offset of 0, but it has an offset of %d", nextOffset)
	}

	if calculatedSize != m.size {
		return errors.Newf("the block size is %d, but the physical blocks add up to %d", m.size, calculatedSize)
	}

	if calculatedFreeSize != m.SumFreeSize() {
		return errors.Newf("the free size is %d, but the free blocks add up to %d", m.SumFreeSize(), calculatedFreeSize)
	}

	if allocCount != m.allocCount {
		return errors.Newf("the allocation count is %d, but there are %d taken blocks", m.allocCount, allocCount)
	}

	if freeCount != m.blocksFreeCount {
		return errors.Newf("the free block count is %d, but there are %d free blocks", m.blocksFreeCount, freeCount)
	}

	if m.handleKey.Count() != allocCount+freeCount+1 {
		return errors.Newf("the handle table holds %d entries for %d blocks", m.handleKey.Count(), allocCount+freeCount+1)
	}

	return nil
}

// AddDetailedStatistics sums this block's usage into stats
func (m *TLSFBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.HeapCount++
	stats.HeapBytes += m.size
	if m.nullBlock.size > 0 {
		stats.AddFreeRange(m.nullBlock.size)
	}

	for block := m.nullBlock.prevPhysical; block != nil; block = block.prevPhysical {
		if block.isFree() {
			stats.AddFreeRange(block.size)
		} else {
			stats.AddRegion(block.size)
		}
	}
}

// AddStatistics sums this block's usage into stats
func (m *TLSFBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.HeapCount++
	stats.RegionCount += m.allocCount
	stats.HeapBytes += m.size
	stats.RegionBytes += m.size - m.SumFreeSize()
}

// BlockJsonData writes summary fields for this block into an open json object
func (m *TLSFBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	json.Name("TotalBytes").Int(m.size)
	json.Name("UnusedBytes").Int(m.SumFreeSize())
	json.Name("Regions").Int(m.allocCount)
	json.Name("UnusedRanges").Int(m.FreeRegionsCount())
}

func (m *TLSFBlockMetadata) getListIndexFromSize(size int) int {
	memoryClass := m.sizeToMemoryClass(size)
	secondIndex := m.sizeToSecondIndex(size, memoryClass)
	return m.getListIndex(memoryClass, secondIndex)
}

func (m *TLSFBlockMetadata) getListIndex(memoryClass uint8, secondIndex uint16) int {
	if memoryClass == 0 {
		return int(secondIndex)
	}

	return int(memoryClass-1)*secondLevelCount + int(secondIndex) + smallListCount
}

func (m *TLSFBlockMetadata) sizeToMemoryClass(size int) uint8 {
	if size > SmallBufferSize {
		mostSignificantBit := uint8(63 - bits.LeadingZeros64(uint64(size)))
		return mostSignificantBit - MemoryClassShift
	}

	return 0
}

func (m *TLSFBlockMetadata) sizeToSecondIndex(size int, memoryClass uint8) uint16 {
	if memoryClass != 0 {
		indexVal := uint64(size) >> (memoryClass + MemoryClassShift - SecondLevelIndex)
		return uint16(indexVal ^ secondLevelCount)
	}

	return uint16((size - 1) / smallSizeStep)
}

// CreateAllocationRequest finds a free range able to hold allocSize bytes at allocAlignment
func (m *TLSFBlockMetadata) CreateAllocationRequest(
	allocSize int, allocAlignment uint,
	allocType uint32,
	strategy AllocationStrategy,
) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	if allocSize < 1 {
		return false, allocRequest, errors.Newf("invalid allocation size: %d", allocSize)
	}

	err := memutils.CheckPow2(allocAlignment, "allocation alignment")
	if err != nil {
		return false, allocRequest, err
	}

	if allocSize > m.SumFreeSize() {
		return false, allocRequest, nil
	}

	if m.blocksFreeCount == 0 {
		success := m.checkBlock(m.nullBlock, noFreeListIndex, allocSize, allocAlignment, allocType, &allocRequest)
		return success, allocRequest, nil
	}

	// Round up to the next list so that any block found there is guaranteed to be large enough
	sizeForNextList := allocSize
	if allocSize > SmallBufferSize {
		mostSignificantBit := 63 - bits.LeadingZeros64(uint64(allocSize))
		sizeForNextList += 1 << (mostSignificantBit - int(SecondLevelIndex))
	} else if allocSize > SmallBufferSize-smallSizeStep {
		sizeForNextList = SmallBufferSize + 1
	} else {
		sizeForNextList += smallSizeStep
	}

	if strategy&AllocationStrategyMinOffset != 0 {
		if m.minOffsetCheckBlocks(allocSize, allocAlignment, allocType, &allocRequest) {
			return true, allocRequest, nil
		}

		success := m.checkBlock(m.nullBlock, noFreeListIndex, allocSize, allocAlignment, allocType, &allocRequest)
		return success, allocRequest, nil
	}

	nextListBlock, nextListIndex := m.findFreeBlock(sizeForNextList)
	prevListBlock, prevListIndex := m.findFreeBlock(allocSize)

	var searchOrder [3]func() bool
	checkNextList := func() bool {
		return m.checkList(nextListBlock, nextListIndex, allocSize, allocAlignment, allocType, &allocRequest)
	}
	checkPrevList := func() bool {
		return m.checkList(prevListBlock, prevListIndex, allocSize, allocAlignment, allocType, &allocRequest)
	}
	checkNullBlock := func() bool {
		return m.checkBlock(m.nullBlock, noFreeListIndex, allocSize, allocAlignment, allocType, &allocRequest)
	}

	switch {
	case strategy&AllocationStrategyMinTime != 0:
		searchOrder = [3]func() bool{checkNextList, checkNullBlock, checkPrevList}
	case strategy&AllocationStrategyMinMemory != 0:
		searchOrder = [3]func() bool{checkPrevList, checkNullBlock, checkNextList}
	default:
		searchOrder = [3]func() bool{checkNextList, checkNullBlock, checkPrevList}
	}

	for _, check := range searchOrder {
		if check() {
			return true, allocRequest, nil
		}
	}

	// Worst case, every list above the best fit list has to be searched
	startIndex := prevListIndex
	if startIndex == noFreeListIndex {
		return false, allocRequest, nil
	}

	for listIndex := startIndex + 1; listIndex < len(m.freeList); listIndex++ {
		if m.checkList(m.freeList[listIndex], listIndex, allocSize, allocAlignment, allocType, &allocRequest) {
			return true, allocRequest, nil
		}
	}

	return false, allocRequest, nil
}

func (m *TLSFBlockMetadata) checkList(
	block *tlsfBlock,
	listIndex int,
	allocSize int,
	allocAlignment uint,
	allocType uint32,
	allocRequest *AllocationRequest,
) bool {
	for ; block != nil; block = block.nextFree {
		if m.checkBlock(block, listIndex, allocSize, allocAlignment, allocType, allocRequest) {
			return true
		}
	}

	return false
}

func (m *TLSFBlockMetadata) minOffsetCheckBlocks(
	allocSize int,
	allocAlignment uint,
	allocType uint32,
	allocRequest *AllocationRequest,
) bool {
	for block := m.firstBlock; block != nil && block != m.nullBlock; block = block.nextPhysical {
		if block.isFree() && block.size >= allocSize {
			if m.checkBlock(block, m.getListIndexFromSize(block.size), allocSize, allocAlignment, allocType, allocRequest) {
				return true
			}
		}
	}

	return false
}

func (m *TLSFBlockMetadata) checkBlock(
	block *tlsfBlock,
	listIndex int,
	allocSize int,
	allocAlignment uint,
	allocType uint32,
	allocRequest *AllocationRequest,
) bool {
	if !block.isFree() {
		panic(fmt.Sprintf("block at offset %d is in a free list but is taken", block.offset))
	}

	alignedOffset := memutils.AlignUp(block.offset, allocAlignment)
	if block.size < allocSize+alignedOffset-block.offset {
		return false
	}

	allocRequest.BlockAllocationHandle = block.blockHandle
	allocRequest.Offset = alignedOffset
	allocRequest.Size = allocSize
	allocRequest.AllocType = allocType

	// Move the block to the head of its list so the next search finds it first
	if listIndex != noFreeListIndex && block.prevFree != nil {
		block.prevFree.nextFree = block.nextFree
		if block.nextFree != nil {
			block.nextFree.prevFree = block.prevFree
		}

		block.prevFree = nil
		block.nextFree = m.freeList[listIndex]
		m.freeList[listIndex] = block
		if block.nextFree != nil {
			block.nextFree.prevFree = block
		}
	}

	return true
}

func (m *TLSFBlockMetadata) findFreeBlock(size int) (*tlsfBlock, int) {
	memoryClass := m.sizeToMemoryClass(size)
	if int(memoryClass) >= MaxMemoryClasses {
		return nil, noFreeListIndex
	}

	innerFreeMap := m.innerIsFreeBitmap[memoryClass] & (uint32(math.MaxUint32) << m.sizeToSecondIndex(size, memoryClass))

	if innerFreeMap == 0 {
		// Check higher memory classes for available blocks
		freeMap := m.isFreeBitmap & (uint64(math.MaxUint64) << (memoryClass + 1))
		if freeMap == 0 {
			return nil, noFreeListIndex
		}

		memoryClass = uint8(bits.TrailingZeros64(freeMap))
		innerFreeMap = m.innerIsFreeBitmap[memoryClass]
		if innerFreeMap == 0 {
			panic(fmt.Sprintf("free bitmap lists memory class %d as having free blocks, but its inner bitmap is empty", memoryClass))
		}
	}

	listIndex := m.getListIndex(memoryClass, uint16(bits.TrailingZeros32(innerFreeMap)))
	if m.freeList[listIndex] == nil {
		panic(fmt.Sprintf("free list index %d was listed as having free blocks, but no blocks were in the free list", listIndex))
	}

	return m.freeList[listIndex], listIndex
}

// Alloc commits a request returned by CreateAllocationRequest
func (m *TLSFBlockMetadata) Alloc(req AllocationRequest, userData any) error {
	currentBlock, err := m.getBlock(req.BlockAllocationHandle)
	if err != nil {
		return err
	}
	if !currentBlock.isFree() {
		return errors.Newf("allocation request points at the taken block at offset %d", currentBlock.offset)
	}
	if currentBlock.offset > req.Offset || currentBlock.offset+currentBlock.size < req.Offset+req.Size {
		return errors.Newf("allocation request for %d bytes at offset %d does not fit the free block at offset %d with size %d",
			req.Size, req.Offset, currentBlock.offset, currentBlock.size)
	}

	if currentBlock != m.nullBlock {
		m.removeFreeBlock(currentBlock)
	}

	missingAlignment := req.Offset - currentBlock.offset

	// Hand the alignment padding to the previous free block or make a new free block of it
	if missingAlignment != 0 {
		prevBlock := currentBlock.prevPhysical
		if prevBlock == nil {
			panic("block at offset 0 required alignment padding")
		}

		if prevBlock.isFree() {
			oldListIndex := m.getListIndexFromSize(prevBlock.size)
			if oldListIndex != m.getListIndexFromSize(prevBlock.size+missingAlignment) {
				m.removeFreeBlock(prevBlock)
				prevBlock.size += missingAlignment
				m.insertFreeBlock(prevBlock)
			} else {
				prevBlock.size += missingAlignment
				m.blocksFreeSize += missingAlignment
			}
		} else {
			newBlock := m.allocateBlock()
			currentBlock.prevPhysical = newBlock
			prevBlock.nextPhysical = newBlock
			newBlock.prevPhysical = prevBlock
			newBlock.nextPhysical = currentBlock
			newBlock.size = missingAlignment
			newBlock.offset = currentBlock.offset
			newBlock.markTaken()

			m.insertFreeBlock(newBlock)
		}

		currentBlock.size -= missingAlignment
		currentBlock.offset += missingAlignment
	}

	size := req.Size
	if currentBlock.size == size {
		if currentBlock == m.nullBlock {
			// The null block was consumed exactly, so the block needs a new empty one
			m.nullBlock = m.allocateBlock()
			m.nullBlock.offset = currentBlock.offset + size
			m.nullBlock.prevPhysical = currentBlock
			m.nullBlock.markFree()
			currentBlock.nextPhysical = m.nullBlock
			currentBlock.markTaken()
		}
	} else {
		newBlock := m.allocateBlock()
		newBlock.size = currentBlock.size - size
		newBlock.offset = currentBlock.offset + size
		newBlock.prevPhysical = currentBlock
		newBlock.nextPhysical = currentBlock.nextPhysical
		currentBlock.nextPhysical = newBlock
		currentBlock.size = size

		if currentBlock == m.nullBlock {
			m.nullBlock = newBlock
			m.nullBlock.markFree()
			currentBlock.markTaken()
		} else {
			newBlock.nextPhysical.prevPhysical = newBlock
			newBlock.markTaken()
			m.insertFreeBlock(newBlock)
		}
	}

	currentBlock.userData = userData
	currentBlock.allocType = req.AllocType
	m.allocCount++

	return nil
}

// Free returns a live region to the free ranges, merging it with free neighbors
func (m *TLSFBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	block, err := m.getBlock(allocHandle)
	if err != nil {
		return err
	}
	if block.isFree() {
		return errors.Newf("block at offset %d is already free", block.offset)
	}

	next := block.nextPhysical
	block.userData = nil
	block.allocType = 0
	m.allocCount--

	prev := block.prevPhysical
	if prev != nil && prev.isFree() {
		m.removeFreeBlock(prev)
		m.mergeBlock(block, prev)
	}

	if !next.isFree() {
		m.insertFreeBlock(block)
	} else if next == m.nullBlock {
		m.mergeBlock(m.nullBlock, block)
	} else {
		m.removeFreeBlock(next)
		m.mergeBlock(next, block)
		m.insertFreeBlock(next)
	}

	return nil
}

func (m *TLSFBlockMetadata) removeFreeBlock(block *tlsfBlock) {
	if block == m.nullBlock {
		panic("cannot remove the null block from the free lists")
	}
	if !block.isFree() {
		panic(fmt.Sprintf("block at offset %d is not free", block.offset))
	}

	if block.nextFree != nil {
		block.nextFree.prevFree = block.prevFree
	}
	if block.prevFree != nil {
		block.prevFree.nextFree = block.nextFree
	} else {
		memClass := m.sizeToMemoryClass(block.size)
		secondIndex := m.sizeToSecondIndex(block.size, memClass)
		index := m.getListIndex(memClass, secondIndex)

		if m.freeList[index] != block {
			panic(fmt.Sprintf("block at offset %d was not at the head of free list %d", block.offset, index))
		}
		m.freeList[index] = block.nextFree
		if block.nextFree == nil {
			m.innerIsFreeBitmap[memClass] &^= 1 << secondIndex
			if m.innerIsFreeBitmap[memClass] == 0 {
				m.isFreeBitmap &^= 1 << memClass
			}
		}
	}

	block.nextFree = nil
	block.markTaken()
	block.userData = nil
	m.blocksFreeCount--
	m.blocksFreeSize -= block.size
}

func (m *TLSFBlockMetadata) insertFreeBlock(block *tlsfBlock) {
	if block == m.nullBlock {
		panic("cannot insert the null block into the free lists")
	}
	if block.isFree() {
		panic(fmt.Sprintf("block at offset %d is already free", block.offset))
	}

	memClass := m.sizeToMemoryClass(block.size)
	secondIndex := m.sizeToSecondIndex(block.size, memClass)
	index := m.getListIndex(memClass, secondIndex)

	if index >= len(m.freeList) {
		panic(fmt.Sprintf("block at offset %d with size %d maps to free list %d, past the end of the lists", block.offset, block.size, index))
	}

	block.prevFree = nil
	block.nextFree = m.freeList[index]
	m.freeList[index] = block
	if block.nextFree != nil {
		block.nextFree.prevFree = block
	} else {
		m.innerIsFreeBitmap[memClass] |= 1 << secondIndex
		m.isFreeBitmap |= 1 << memClass
	}
	m.blocksFreeCount++
	m.blocksFreeSize += block.size
}

// mergeBlock folds prev, which must be taken, into block, which directly follows it
func (m *TLSFBlockMetadata) mergeBlock(block *tlsfBlock, prev *tlsfBlock) {
	if block.prevPhysical != prev {
		panic("cannot merge separate physical regions")
	}
	if prev.isFree() {
		panic("cannot merge a block that belongs to a free list")
	}

	block.offset = prev.offset
	block.size += prev.size
	block.prevPhysical = prev.prevPhysical
	if block.prevPhysical != nil {
		block.prevPhysical.nextPhysical = block
	} else {
		m.firstBlock = block
	}

	m.freeBlock(prev)
}

// VisitAllRegions calls visitor for every block, walking from the end of the block backward
func (m *TLSFBlockMetadata) VisitAllRegions(visitor RegionVisitor) error {
	for block := m.nullBlock; block != nil; block = block.prevPhysical {
		if block == m.nullBlock && block.size == 0 {
			continue
		}

		err := visitor(block.blockHandle, block.offset, block.size, block.userData, block.isFree())
		if err != nil {
			return err
		}
	}

	return nil
}

// Clear frees every region at once
func (m *TLSFBlockMetadata) Clear() {
	m.allocCount = 0
	m.blocksFreeCount = 0
	m.blocksFreeSize = 0
	m.isFreeBitmap = 0
	m.innerIsFreeBitmap = [MaxMemoryClasses]uint32{}

	block := m.nullBlock.prevPhysical
	for block != nil {
		prev := block.prevPhysical
		m.freeBlock(block)
		block = prev
	}

	m.nullBlock.offset = 0
	m.nullBlock.size = m.size
	m.nullBlock.prevPhysical = nil
	m.firstBlock = m.nullBlock

	clear(m.freeList)
}

// AllocationOffset returns the offset of the block identified by the handle
func (m *TLSFBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	block, err := m.getBlock(allocHandle)
	if err != nil {
		return 0, err
	}

	return block.offset, nil
}

// AllocationSize returns the size of the block identified by the handle
func (m *TLSFBlockMetadata) AllocationSize(allocHandle BlockAllocationHandle) (int, error) {
	block, err := m.getBlock(allocHandle)
	if err != nil {
		return 0, err
	}

	return block.size, nil
}

// AllocationUserData returns the value passed to Alloc for a live region
func (m *TLSFBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	block, err := m.getBlock(allocHandle)
	if err != nil {
		return nil, err
	}

	if block.isFree() {
		return nil, errors.New("user data cannot be retrieved for a free block")
	}

	return block.userData, nil
}

// PrintDetailedMap writes every region and free range into an open json array, in offset order
func (m *TLSFBlockMetadata) PrintDetailedMap(json *jwriter.ArrayState, typeName func(allocType uint32) string) {
	for block := m.firstBlock; block != nil; block = block.nextPhysical {
		if block == m.nullBlock && block.size == 0 {
			continue
		}

		obj := json.Object()
		obj.Name("Offset").Int(block.offset)
		obj.Name("Size").Int(block.size)
		if block.isFree() {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String(typeName(block.allocType))
			if block.userData != nil {
				obj.Name("UserData").String(fmt.Sprintf("%v", block.userData))
			}
		}
		obj.End()
	}
}
