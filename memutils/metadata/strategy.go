package metadata

// AllocationStrategy chooses between several ways of picking a free range for a new region.
// When no strategy bit is set, a balanced search is used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory picks the smallest free range that fits, reducing
	// fragmentation at the cost of search time
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime picks the first free range that is cheap to find
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset picks the lowest offset that fits, which packs regions
	// tightly toward the start of the block
	AllocationStrategyMinOffset
)

var strategyMapping = map[AllocationStrategy]string{
	0:                           "Balanced",
	AllocationStrategyMinMemory: "MinMemory",
	AllocationStrategyMinTime:   "MinTime",
	AllocationStrategyMinOffset: "MinOffset",
}

func (s AllocationStrategy) String() string {
	str, ok := strategyMapping[s]
	if !ok {
		return "Mixed"
	}
	return str
}
