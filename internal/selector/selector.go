// Package selector implements C7, the Region Selector: full-mode returns
// every region in stable order; fast-mode returns a fixed high-risk head
// plus a rotating window over the rest, so that across many distinct
// request IDs every region eventually gets processed (§4.7).
package selector

import (
	"hash/fnv"
	"sort"

	"github.com/terrarisk/hazardengine/internal/models"
)

// Select returns the regions a run should process for the given mode.
// For any mode other than ModeFast, and for ModeFast with limit<=0, every
// region is returned in stable code order; limit is applied only in
// ModeFast. For ModeFast with limit>0, the result is the union of
// the fixed high-risk head (up to headSize orange/red regions, ordered by
// level then code) and a rotating window of the remainder sized to fill
// limit, offset by hash(requestID) mod len(remainder).
func Select(regions []models.Region, mode string, limit, headSize int, requestID string) []models.Region {
	ordered := make([]models.Region, len(regions))
	copy(ordered, regions)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Code < ordered[j].Code })

	if mode != models.ModeFast || limit <= 0 {
		return ordered
	}

	head, rest := splitHighRiskHead(ordered, headSize)
	if limit <= len(head) {
		return head[:limit]
	}

	windowSize := limit - len(head)
	window := rotatingWindow(rest, windowSize, requestID)

	result := make([]models.Region, 0, len(head)+len(window))
	result = append(result, head...)
	result = append(result, window...)
	return result
}

// splitHighRiskHead partitions ordered regions into the fixed head (orange
// and red regions, red first, code order within each level, capped at
// headSize) and everything else in its original order.
func splitHighRiskHead(ordered []models.Region, headSize int) (head, rest []models.Region) {
	var highRisk []models.Region
	restSet := make(map[string]bool, len(ordered))

	for _, r := range ordered {
		if models.LevelRank(r.RiskLevel) >= models.LevelRank(models.LevelOrange) {
			highRisk = append(highRisk, r)
		}
	}
	sort.Slice(highRisk, func(i, j int) bool {
		ri, rj := models.LevelRank(highRisk[i].RiskLevel), models.LevelRank(highRisk[j].RiskLevel)
		if ri != rj {
			return ri > rj // red before orange
		}
		return highRisk[i].Code < highRisk[j].Code
	})

	if headSize > 0 && len(highRisk) > headSize {
		highRisk = highRisk[:headSize]
	}
	for _, r := range highRisk {
		restSet[r.Code] = true
	}

	for _, r := range ordered {
		if !restSet[r.Code] {
			rest = append(rest, r)
		}
	}
	return highRisk, rest
}

// rotatingWindow returns a contiguous, wrapping slice of size windowSize
// starting at hash(requestID) mod len(rest). Over many distinct
// requestIDs the windows collectively cover every region in rest (§4.7,
// §8 scenario 6).
func rotatingWindow(rest []models.Region, windowSize int, requestID string) []models.Region {
	if len(rest) == 0 || windowSize <= 0 {
		return nil
	}
	if windowSize > len(rest) {
		windowSize = len(rest)
	}

	offset := int(requestHash(requestID) % uint64(len(rest)))
	window := make([]models.Region, 0, windowSize)
	for i := 0; i < windowSize; i++ {
		window = append(window, rest[(offset+i)%len(rest)])
	}
	return window
}

func requestHash(requestID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(requestID))
	return h.Sum64()
}
