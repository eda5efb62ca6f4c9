package network

import (
	"math/rand"
	"sort"

	"github.com/auditlens/auditlens/internal/domain"
)

// detectCommunities runs weighted label propagation over the bipartite
// graph. Node visit order is reshuffled from the seeded source each sweep
// and ties resolve to the smallest label, so equal graphs and seeds yield
// equal partitions.
func detectCommunities(g *Graph, cfg domain.CommunityConfig, seed int64) []*domain.Community {
	vCount := int32(g.Vendors())
	total := int(vCount) + g.Agencies()
	if total == 0 {
		return nil
	}

	labels := make([]int32, total)
	for i := range labels {
		labels[i] = int32(i)
	}

	rng := rand.New(rand.NewSource(seed))
	order := make([]int, total)
	for i := range order {
		order[i] = i
	}

	weights := make(map[int32]float64)
	for sweep := 0; sweep < cfg.MaxIterations; sweep++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		changed := false
		for _, node := range order {
			for k := range weights {
				delete(weights, k)
			}
			if int32(node) < vCount {
				for _, e := range g.vendorAdj[node] {
					weights[labels[vCount+g.edgeAgency[e]]] += g.edgeValue[e]
				}
			} else {
				for _, e := range g.agencyAdj[int32(node)-vCount] {
					weights[labels[g.edgeVendor[e]]] += g.edgeValue[e]
				}
			}
			if len(weights) == 0 {
				continue
			}

			best := labels[node]
			bestWeight := -1.0
			for label, w := range weights {
				if w > bestWeight || (w == bestWeight && label < best) {
					best, bestWeight = label, w
				}
			}
			if best != labels[node] {
				labels[node] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	return collectCommunities(g, labels, vCount, cfg)
}

func collectCommunities(g *Graph, labels []int32, vCount int32, cfg domain.CommunityConfig) []*domain.Community {
	groups := make(map[int32][]int32)
	for node, label := range labels {
		groups[label] = append(groups[label], int32(node))
	}

	type internalAgg struct {
		count int
		value float64
	}
	internals := make(map[int32]internalAgg)
	for e := range g.edgeVendor {
		label := labels[g.edgeVendor[e]]
		if label == labels[vCount+g.edgeAgency[e]] {
			agg := internals[label]
			agg.count++
			agg.value += g.edgeValue[e]
			internals[label] = agg
		}
	}

	// Order communities by their smallest member so IDs are stable.
	labelOrder := make([]int32, 0, len(groups))
	for label := range groups {
		labelOrder = append(labelOrder, label)
	}
	sort.Slice(labelOrder, func(i, j int) bool {
		return groups[labelOrder[i]][0] < groups[labelOrder[j]][0]
	})

	var communities []*domain.Community
	for _, label := range labelOrder {
		nodes := groups[label]
		if len(nodes) < cfg.MinSize {
			continue
		}
		c := &domain.Community{ID: len(communities)}
		for _, node := range nodes {
			if node < vCount {
				c.Vendors = append(c.Vendors, g.vendors[node])
			} else {
				c.Agencies = append(c.Agencies, g.agencies[node-vCount])
			}
		}
		if len(c.Vendors) == 0 || len(c.Agencies) == 0 {
			continue
		}
		sort.Strings(c.Vendors)
		sort.Strings(c.Agencies)

		internal := internals[label]
		c.Value = internal.value
		c.Density = float64(internal.count) / float64(len(c.Vendors)*len(c.Agencies))
		communities = append(communities, c)
	}
	return communities
}
