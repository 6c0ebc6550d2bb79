// Package metrics exports gpumem budgets and heap occupancy as prometheus metrics
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vkngwrapper/gpumem/gpumem"
	"github.com/vkngwrapper/gpumem/memutils"
	"github.com/vkngwrapper/gpumem/native"
)

// DeviceStatistics is the part of gpumem.Device the collector reads
type DeviceStatistics interface {
	MemoryManagers() []*gpumem.MemoryManager
	GetMemoryBudget(manager *gpumem.MemoryManager) (gpumem.BudgetSnapshot, error)
}

var _ DeviceStatistics = &gpumem.Device{}

// BudgetCollector is a prometheus.Collector reporting each memory segment's budget and each
// memory manager's heaps. Values are read from the device on every scrape.
type BudgetCollector struct {
	device DeviceStatistics

	budgetBytes     *prometheus.Desc
	usageBytes      *prometheus.Desc
	committedBytes  *prometheus.Desc
	freeBytes       *prometheus.Desc
	heaps           *prometheus.Desc
	regions         *prometheus.Desc
	regionBytes     *prometheus.Desc
	operationsTotal *prometheus.Desc
}

var _ prometheus.Collector = &BudgetCollector{}

// NewBudgetCollector creates a collector for device. namespace prefixes every metric name and
// may be empty.
func NewBudgetCollector(device DeviceStatistics, namespace string, constLabels prometheus.Labels) *BudgetCollector {
	segmentLabels := []string{"segment"}
	managerLabels := []string{"manager", "heap_type"}

	return &BudgetCollector{
		device: device,

		budgetBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "gpumem", "budget_bytes"),
			"Estimated bytes the process may use in the memory segment",
			segmentLabels,
			constLabels,
		),
		usageBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "gpumem", "usage_bytes"),
			"Estimated bytes the process is using in the memory segment",
			segmentLabels,
			constLabels,
		),
		committedBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "gpumem", "committed_bytes"),
			"Total size of the memory manager's heaps",
			managerLabels,
			constLabels,
		),
		freeBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "gpumem", "free_bytes"),
			"Bytes in the memory manager's heaps not covered by a live region",
			managerLabels,
			constLabels,
		),
		heaps: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "gpumem", "heaps"),
			"Number of heaps owned by the memory manager",
			managerLabels,
			constLabels,
		),
		regions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "gpumem", "regions"),
			"Number of live regions in the memory manager's heaps",
			managerLabels,
			constLabels,
		),
		regionBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "gpumem", "region_bytes"),
			"Bytes covered by live regions in the memory manager's heaps",
			managerLabels,
			constLabels,
		),
		operationsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "gpumem", "operations_total"),
			"Allocate and free operations performed by the memory manager",
			managerLabels,
			constLabels,
		),
	}
}

func (c *BudgetCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.budgetBytes
	ch <- c.usageBytes
	ch <- c.committedBytes
	ch <- c.freeBytes
	ch <- c.heaps
	ch <- c.regions
	ch <- c.regionBytes
	ch <- c.operationsTotal
}

func (c *BudgetCollector) Collect(ch chan<- prometheus.Metric) {
	var seenSegments [native.MemorySegmentGroupCount]bool

	for _, manager := range c.device.MemoryManagers() {
		c.collectManager(ch, manager)

		segment := manager.MemorySegmentGroup()
		if seenSegments[segment] {
			continue
		}
		seenSegments[segment] = true
		c.collectBudget(ch, manager)
	}
}

func (c *BudgetCollector) collectBudget(ch chan<- prometheus.Metric, manager *gpumem.MemoryManager) {
	budget, err := c.device.GetMemoryBudget(manager)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.budgetBytes, err)
		return
	}

	segment := manager.MemorySegmentGroup().String()
	ch <- prometheus.MustNewConstMetric(c.budgetBytes, prometheus.GaugeValue, float64(budget.EstimatedBudget), segment)
	ch <- prometheus.MustNewConstMetric(c.usageBytes, prometheus.GaugeValue, float64(budget.EstimatedUsage), segment)
}

func (c *BudgetCollector) collectManager(ch chan<- prometheus.Metric, manager *gpumem.MemoryManager) {
	index := strconv.Itoa(manager.Index())
	heapType := manager.HeapType().String()

	var stats memutils.Statistics
	manager.AddStatistics(&stats)

	ch <- prometheus.MustNewConstMetric(c.committedBytes, prometheus.GaugeValue, float64(manager.CommittedBytes()), index, heapType)
	ch <- prometheus.MustNewConstMetric(c.freeBytes, prometheus.GaugeValue, float64(manager.FreeBytes()), index, heapType)
	ch <- prometheus.MustNewConstMetric(c.heaps, prometheus.GaugeValue, float64(stats.HeapCount), index, heapType)
	ch <- prometheus.MustNewConstMetric(c.regions, prometheus.GaugeValue, float64(stats.RegionCount), index, heapType)
	ch <- prometheus.MustNewConstMetric(c.regionBytes, prometheus.GaugeValue, float64(stats.RegionBytes), index, heapType)
	ch <- prometheus.MustNewConstMetric(c.operationsTotal, prometheus.CounterValue, float64(manager.OperationCount()), index, heapType)
}
