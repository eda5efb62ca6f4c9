package network

import (
	"sort"

	"github.com/auditlens/auditlens/internal/domain"
)

// Detector computes the network concentration sub-score and community
// signal for a scoring population.
type Detector struct {
	cfg  domain.NetworkConfig
	seed int64
}

// New creates a Detector for the given configuration and run seed.
func New(cfg domain.NetworkConfig, seed int64) *Detector {
	return &Detector{cfg: cfg, seed: seed}
}

// Result holds the per-agency network analysis. Every contract inherits its
// agency's scores; lookups are by agency ID.
type Result struct {
	// AgencyScores is the network sub-score per agency: the top-vendor
	// spend share, in [0,1].
	AgencyScores map[string]float64

	// CommunitySignal is the flagged community's density per agency, or 0
	// for agencies outside any flagged community.
	CommunitySignal map[string]float64

	AgencyStats []domain.AgencyNetworkStats
	VendorStats []domain.VendorNetworkStats
	Communities []*domain.Community

	// FlaggedAgencies lists agencies at or above the concentration cutoff,
	// sorted by ID.
	FlaggedAgencies []string
}

// ContractScore returns the network sub-score and community signal a
// contract inherits from its agency.
func (r *Result) ContractScore(c *domain.Contract) (network, community float64) {
	return r.AgencyScores[c.AgencyID], r.CommunitySignal[c.AgencyID]
}

// Analyze builds the graph and computes concentration and communities.
// Batch only: any change to the population invalidates the whole result.
func (d *Detector) Analyze(contracts []*domain.Contract) *Result {
	g := BuildGraph(contracts)

	res := &Result{
		AgencyScores:    make(map[string]float64, g.Agencies()),
		CommunitySignal: make(map[string]float64),
		AgencyStats:     make([]domain.AgencyNetworkStats, 0, g.Agencies()),
		VendorStats:     make([]domain.VendorNetworkStats, 0, g.Vendors()),
	}

	for a := int32(0); a < int32(g.Agencies()); a++ {
		stats := g.agencyStats(a)
		res.AgencyStats = append(res.AgencyStats, stats)
		res.AgencyScores[stats.AgencyID] = stats.TopVendorShare
		if stats.TopVendorShare >= d.cfg.ConcentrationCutoff {
			res.FlaggedAgencies = append(res.FlaggedAgencies, stats.AgencyID)
		}
	}
	sort.Strings(res.FlaggedAgencies)
	sort.Slice(res.AgencyStats, func(i, j int) bool {
		return res.AgencyStats[i].AgencyID < res.AgencyStats[j].AgencyID
	})

	for v := int32(0); v < int32(g.Vendors()); v++ {
		res.VendorStats = append(res.VendorStats, g.vendorStats(v))
	}
	sort.Slice(res.VendorStats, func(i, j int) bool {
		return res.VendorStats[i].VendorID < res.VendorStats[j].VendorID
	})

	res.Communities = detectCommunities(g, d.cfg.Community, d.seed)
	for _, c := range res.Communities {
		if c.Density < d.cfg.Community.DensityCutoff {
			continue
		}
		for _, agencyID := range c.Agencies {
			res.CommunitySignal[agencyID] = c.Density
		}
	}
	return res
}
