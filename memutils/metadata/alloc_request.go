package metadata

// AllocationRequest is returned by BlockMetadata.CreateAllocationRequest and describes where
// the metadata intends to place a new region. Pass it to BlockMetadata.Alloc to commit it.
type AllocationRequest struct {
	// BlockAllocationHandle identifies the free range the region will be carved from. After
	// Alloc succeeds it identifies the new region.
	BlockAllocationHandle BlockAllocationHandle
	// Offset is the aligned offset in bytes the region will begin at
	Offset int
	// Size is the size in bytes of the region
	Size int
	// AllocType is the consumer value passed to CreateAllocationRequest
	AllocType uint32
}
