package gpumem

import (
	"github.com/dustin/go-humanize"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gpumem/memutils"
)

// Statistics summarizes memory use across a device
type Statistics struct {
	Total memutils.DetailedStatistics
	// Managers is indexed by MemoryManager.Index
	Managers []memutils.DetailedStatistics
}

// CalculateStatistics visits every region of every heap and fills stats. It is slow and
// meant for diagnostics.
func (d *Device) CalculateStatistics(stats *Statistics) {
	stats.Total.Clear()
	stats.Managers = make([]memutils.DetailedStatistics, len(d.managers))

	for index, manager := range d.managers {
		stats.Managers[index].Clear()
		manager.AddDetailedStatistics(&stats.Managers[index])
		stats.Total.AddDetailedStatistics(&stats.Managers[index])
	}
}

func printStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("HeapCount").Int(stats.HeapCount)
	json.Name("HeapBytes").Int(stats.HeapBytes)
	json.Name("HeapSize").String(humanize.IBytes(uint64(stats.HeapBytes)))
	json.Name("RegionCount").Int(stats.RegionCount)
	json.Name("RegionBytes").Int(stats.RegionBytes)
	json.Name("FreeRangeCount").Int(stats.FreeRangeCount)

	if stats.RegionCount > 0 {
		json.Name("RegionSizeMin").Int(stats.RegionSizeMin)
		json.Name("RegionSizeMax").Int(stats.RegionSizeMax)
	}
	if stats.FreeRangeCount > 0 {
		json.Name("FreeRangeSizeMin").Int(stats.FreeRangeSizeMin)
		json.Name("FreeRangeSizeMax").Int(stats.FreeRangeSizeMax)
	}
}

func printBudget(json *jwriter.ObjectState, budget BudgetSnapshot) {
	json.Name("EstimatedBudget").Int(budget.EstimatedBudget)
	json.Name("EstimatedUsage").Int(budget.EstimatedUsage)
	json.Name("TotalCommitted").Int(budget.TotalCommitted)
	json.Name("TotalFree").Int(budget.TotalFree)
}

// BuildStatsString returns a JSON document describing the device's managers, their budgets
// and statistics. When detailed is true, every region and free range of every heap is
// listed as well.
func (d *Device) BuildStatsString(detailed bool) string {
	var stats Statistics
	d.CalculateStatistics(&stats)

	writer := jwriter.NewWriter()
	root := writer.Object()

	general := root.Name("General").Object()
	general.Name("HeapTier").String(d.heapTier.String())
	general.Name("UnifiedMemoryArchitecture").Bool(d.adapter.UnifiedMemoryArchitecture)
	general.Name("ManagerCount").Int(len(d.managers))
	general.End()

	total := root.Name("Total").Object()
	printStatistics(&total, &stats.Total)
	total.End()

	managers := root.Name("Managers").Array()
	for index, manager := range d.managers {
		managerObj := managers.Object()
		managerObj.Name("Index").Int(index)
		managerObj.Name("HeapType").String(manager.heapType.String())
		managerObj.Name("HeapFlags").String(manager.heapFlags.String())
		managerObj.Name("Segment").String(manager.segment.String())

		budget, err := d.budget.GetBudget(manager)
		if err == nil {
			budgetObj := managerObj.Name("Budget").Object()
			printBudget(&budgetObj, budget)
			budgetObj.End()
		}

		statsObj := managerObj.Name("Stats").Object()
		printStatistics(&statsObj, &stats.Managers[index])
		statsObj.End()

		if detailed {
			manager.printDetailedMap(&managerObj)
		}
		managerObj.End()
	}
	managers.End()

	root.End()
	return string(writer.Bytes())
}
