package runcontrol

import (
	"sort"

	"github.com/terrarisk/hazardengine/internal/models"
)

// minBatchSize and maxBatchSize bound batch_size regardless of configured
// concurrency (§4.5).
const (
	minBatchSize = 15
	maxBatchSize = 40
)

// batchSize computes clamp(collector_max_concurrency * 2, 15, 40) (§4.5).
func batchSize(collectorMaxConcurrency int) int {
	n := collectorMaxConcurrency * 2
	if n < minBatchSize {
		return minBatchSize
	}
	if n > maxBatchSize {
		return maxBatchSize
	}
	return n
}

// groupByAdminPrefix groups regions by their two-character administrative
// prefix, preserving each group's internal order and producing groups in
// stable prefix order, to improve locality of scraper slug resolution
// within a batch (§4.5).
func groupByAdminPrefix(regions []models.Region) [][]models.Region {
	order := make([]string, 0)
	groups := make(map[string][]models.Region)
	for _, r := range regions {
		prefix := r.AdminPrefix(2)
		if _, ok := groups[prefix]; !ok {
			order = append(order, prefix)
		}
		groups[prefix] = append(groups[prefix], r)
	}
	sort.Strings(order)

	result := make([][]models.Region, 0, len(order))
	for _, prefix := range order {
		result = append(result, groups[prefix])
	}
	return result
}

// chunkIntoBatches flattens the admin-prefix groups back into a single
// ordered slice and chunks it into fixed-size batches. Flattening after
// grouping (rather than chunking within each group) keeps batches at a
// consistent size while still clustering same-prefix regions together in
// the flattened order.
func chunkIntoBatches(regions []models.Region, size int) [][]models.Region {
	grouped := groupByAdminPrefix(regions)
	flat := make([]models.Region, 0, len(regions))
	for _, g := range grouped {
		flat = append(flat, g...)
	}

	if size <= 0 {
		size = minBatchSize
	}
	var batches [][]models.Region
	for i := 0; i < len(flat); i += size {
		end := i + size
		if end > len(flat) {
			end = len(flat)
		}
		batches = append(batches, flat[i:end])
	}
	return batches
}
