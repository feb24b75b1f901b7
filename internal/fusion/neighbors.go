package fusion

import (
	"math"

	"github.com/terrarisk/hazardengine/internal/models"
)

// neighborPrefixLen is the administrative-code prefix length that defines a
// stable code-prefix neighbor approximation (§4.4 stage 4, §9 Open
// Question (c)): regions sharing the first 4 characters of their code are
// treated as geographic neighbors.
const neighborPrefixLen = 4

// regionNode is the minimal per-region state the neighbor-influence stage
// needs: its code, local score, and optional centroid.
type regionNode struct {
	code       string
	localScore float64
	lat, lon   *float64
}

// neighborMean implements §4.4 stage 4. It prefers a centroid k-nearest
// search when every candidate has a known centroid (the more precise
// approximation), falling back to the code-prefix grouping otherwise, and
// is stable for the duration of one batch since it only reads frozen
// regionNode slices.
func neighborMean(target regionNode, all []regionNode, k int) (mean float64, neighborCount int) {
	var candidates []regionNode
	for _, n := range all {
		if n.code == target.code {
			continue
		}
		candidates = append(candidates, n)
	}

	if target.HasCentroid() && allHaveCentroid(candidates) {
		return centroidKNearestMean(target, candidates, k)
	}
	return codePrefixMean(target, candidates)
}

func (n regionNode) HasCentroid() bool {
	return n.lat != nil && n.lon != nil
}

func allHaveCentroid(nodes []regionNode) bool {
	for _, n := range nodes {
		if !n.HasCentroid() {
			return false
		}
	}
	return len(nodes) > 0
}

func codePrefixMean(target regionNode, candidates []regionNode) (float64, int) {
	prefix := prefixOf(target.code, neighborPrefixLen)
	var sum float64
	var count int
	for _, n := range candidates {
		if prefixOf(n.code, neighborPrefixLen) == prefix {
			sum += n.localScore
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	return sum / float64(count), count
}

func prefixOf(code string, n int) string {
	if len(code) <= n {
		return code
	}
	return code[:n]
}

func centroidKNearestMean(target regionNode, candidates []regionNode, k int) (float64, int) {
	type distNode struct {
		node regionNode
		dist float64
	}
	dn := make([]distNode, 0, len(candidates))
	for _, n := range candidates {
		dn = append(dn, distNode{node: n, dist: haversineApprox(*target.lat, *target.lon, *n.lat, *n.lon)})
	}
	// Partial selection sort for the k smallest distances; batches are small
	// (tens of regions), so O(k·n) beats pulling in a sort dependency here.
	if k > len(dn) {
		k = len(dn)
	}
	for i := 0; i < k; i++ {
		minIdx := i
		for j := i + 1; j < len(dn); j++ {
			if dn[j].dist < dn[minIdx].dist {
				minIdx = j
			}
		}
		dn[i], dn[minIdx] = dn[minIdx], dn[i]
	}

	var sum float64
	for i := 0; i < k; i++ {
		sum += dn[i].node.localScore
	}
	if k == 0 {
		return 0, 0
	}
	return sum / float64(k), k
}

// haversineApprox returns a great-circle distance in kilometers; exact
// precision is not required, only a stable ranking.
func haversineApprox(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}
