package metadata

import "math"

// BlockAllocationHandle identifies a region or free range within one BlockMetadata
type BlockAllocationHandle uint64

// NoAllocation is a BlockAllocationHandle value that never identifies a region
const NoAllocation BlockAllocationHandle = math.MaxUint64
