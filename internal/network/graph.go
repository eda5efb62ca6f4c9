// Package network analyzes the bipartite vendor-agency contracting graph:
// per-agency spend concentration and community structure. The whole graph
// is rebuilt from the scoring population on every run, never updated
// incrementally.
package network

import (
	"github.com/auditlens/auditlens/internal/domain"
)

// Graph is the bipartite contracting graph held as parallel index-mapped
// arrays: node names in arenas, edges as integer pairs into them. No node
// or edge holds a pointer to another, so the structure is cycle-free and
// cheap to rebuild per run.
type Graph struct {
	vendors  []string
	agencies []string

	vendorIndex map[string]int32
	agencyIndex map[string]int32

	// Edge arrays, all parallel: edge e connects vendors[edgeVendor[e]]
	// with agencies[edgeAgency[e]].
	edgeVendor []int32
	edgeAgency []int32
	edgeValue  []float64
	edgeCount  []int32
	edgeDirect []int32

	// edgeIndex resolves a (vendor, agency) integer pair to its edge.
	edgeIndex map[int64]int32

	// Adjacency: edge positions incident to each node.
	vendorAdj [][]int32
	agencyAdj [][]int32
}

func pairKey(vendor, agency int32) int64 {
	return int64(vendor)<<32 | int64(agency)
}

// BuildGraph aggregates the population into the bipartite graph. Node and
// edge order follow first appearance in the input, so equal populations
// produce identical graphs.
func BuildGraph(contracts []*domain.Contract) *Graph {
	g := &Graph{
		vendorIndex: make(map[string]int32),
		agencyIndex: make(map[string]int32),
		edgeIndex:   make(map[int64]int32),
	}
	for _, c := range contracts {
		v, ok := g.vendorIndex[c.VendorID]
		if !ok {
			v = int32(len(g.vendors))
			g.vendorIndex[c.VendorID] = v
			g.vendors = append(g.vendors, c.VendorID)
		}
		a, ok := g.agencyIndex[c.AgencyID]
		if !ok {
			a = int32(len(g.agencies))
			g.agencyIndex[c.AgencyID] = a
			g.agencies = append(g.agencies, c.AgencyID)
		}

		key := pairKey(v, a)
		e, ok := g.edgeIndex[key]
		if !ok {
			e = int32(len(g.edgeVendor))
			g.edgeIndex[key] = e
			g.edgeVendor = append(g.edgeVendor, v)
			g.edgeAgency = append(g.edgeAgency, a)
			g.edgeValue = append(g.edgeValue, 0)
			g.edgeCount = append(g.edgeCount, 0)
			g.edgeDirect = append(g.edgeDirect, 0)
		}
		g.edgeValue[e] += c.Value
		g.edgeCount[e]++
		if c.IsDirect {
			g.edgeDirect[e]++
		}
	}

	g.vendorAdj = make([][]int32, len(g.vendors))
	g.agencyAdj = make([][]int32, len(g.agencies))
	for e := range g.edgeVendor {
		g.vendorAdj[g.edgeVendor[e]] = append(g.vendorAdj[g.edgeVendor[e]], int32(e))
		g.agencyAdj[g.edgeAgency[e]] = append(g.agencyAdj[g.edgeAgency[e]], int32(e))
	}
	return g
}

// Vendors returns the number of vendor nodes.
func (g *Graph) Vendors() int { return len(g.vendors) }

// Agencies returns the number of agency nodes.
func (g *Graph) Agencies() int { return len(g.agencies) }

// Edges returns the number of distinct vendor-agency relationships.
func (g *Graph) Edges() int { return len(g.edgeVendor) }

// Edge returns the aggregated relationship for one edge position.
func (g *Graph) Edge(e int32) domain.VendorAgencyEdge {
	return domain.VendorAgencyEdge{
		VendorID:  g.vendors[g.edgeVendor[e]],
		AgencyID:  g.agencies[g.edgeAgency[e]],
		Contracts: int(g.edgeCount[e]),
		Value:     g.edgeValue[e],
		Direct:    int(g.edgeDirect[e]),
	}
}

// agencyStats computes the concentration profile of one agency node.
func (g *Graph) agencyStats(a int32) domain.AgencyNetworkStats {
	stats := domain.AgencyNetworkStats{AgencyID: g.agencies[a]}
	var direct, contracts int32
	var best float64
	var bestVendor int32 = -1
	for _, e := range g.agencyAdj[a] {
		stats.TotalValue += g.edgeValue[e]
		contracts += g.edgeCount[e]
		direct += g.edgeDirect[e]
		if g.edgeValue[e] > best || (g.edgeValue[e] == best && bestVendor >= 0 && g.edgeVendor[e] < bestVendor) {
			best = g.edgeValue[e]
			bestVendor = g.edgeVendor[e]
		}
	}
	stats.Vendors = len(g.agencyAdj[a])
	stats.Contracts = int(contracts)
	if contracts > 0 {
		stats.DirectRate = float64(direct) / float64(contracts)
	}
	if stats.TotalValue > 0 && bestVendor >= 0 {
		stats.TopVendorID = g.vendors[bestVendor]
		stats.TopVendorShare = best / stats.TotalValue
		var sum float64
		for _, e := range g.agencyAdj[a] {
			share := g.edgeValue[e] / stats.TotalValue
			sum += share * share
		}
		stats.VendorHHI = sum
	}
	return stats
}

// vendorStats computes the dependence profile of one vendor node.
func (g *Graph) vendorStats(v int32) domain.VendorNetworkStats {
	stats := domain.VendorNetworkStats{VendorID: g.vendors[v]}
	var contracts int32
	var best float64
	var bestAgency int32 = -1
	for _, e := range g.vendorAdj[v] {
		stats.TotalValue += g.edgeValue[e]
		contracts += g.edgeCount[e]
		if g.edgeValue[e] > best || (g.edgeValue[e] == best && bestAgency >= 0 && g.edgeAgency[e] < bestAgency) {
			best = g.edgeValue[e]
			bestAgency = g.edgeAgency[e]
		}
	}
	stats.Agencies = len(g.vendorAdj[v])
	stats.Contracts = int(contracts)
	if stats.TotalValue > 0 && bestAgency >= 0 {
		stats.TopAgencyID = g.agencies[bestAgency]
		stats.AgencyDependence = best / stats.TotalValue
	}
	return stats
}
