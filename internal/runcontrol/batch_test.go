package runcontrol

import (
	"testing"

	"github.com/terrarisk/hazardengine/internal/models"
)

func TestBatchSize_Clamps(t *testing.T) {
	cases := []struct {
		concurrency int
		want        int
	}{
		{concurrency: 1, want: 15},
		{concurrency: 8, want: 16},
		{concurrency: 30, want: 40},
	}
	for _, tc := range cases {
		if got := batchSize(tc.concurrency); got != tc.want {
			t.Errorf("batchSize(%d) = %d, want %d", tc.concurrency, got, tc.want)
		}
	}
}

func TestGroupByAdminPrefix_GroupsAndOrders(t *testing.T) {
	regions := []models.Region{
		{Code: "B001"}, {Code: "A002"}, {Code: "A001"}, {Code: "B002"},
	}
	groups := groupByAdminPrefix(regions)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0][0].Code != "A002" || groups[0][1].Code != "A001" {
		t.Errorf("expected group A to preserve input order, got %+v", groups[0])
	}
}

func TestChunkIntoBatches_RespectsSize(t *testing.T) {
	regions := make([]models.Region, 37)
	for i := range regions {
		regions[i] = models.Region{Code: "A" + string(rune('0'+i%10)) + string(rune('a'+i/10))}
	}
	batches := chunkIntoBatches(regions, 15)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches (15+15+7), got %d", len(batches))
	}
	if len(batches[0]) != 15 || len(batches[2]) != 7 {
		t.Errorf("unexpected batch sizes: %d, %d, %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}
