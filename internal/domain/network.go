package domain

// VendorAgencyEdge is one aggregated edge of the bipartite contracting
// graph: all contracts between one vendor and one agency in the population.
type VendorAgencyEdge struct {
	VendorID  string  `json:"codigo_proveedor"`
	AgencyID  string  `json:"codigo_entidad"`
	Contracts int     `json:"contracts"`
	Value     float64 `json:"value"`
	Direct    int     `json:"direct_awards"`
}

// AgencyNetworkStats summarizes one agency's position in the contracting
// graph. Share and HHI are computed over contract value, not counts.
type AgencyNetworkStats struct {
	AgencyID       string  `json:"codigo_entidad"`
	Vendors        int     `json:"vendors"`
	Contracts      int     `json:"contracts"`
	TotalValue     float64 `json:"total_value"`
	TopVendorID    string  `json:"top_vendor_id"`
	TopVendorShare float64 `json:"top_vendor_share"`
	VendorHHI      float64 `json:"vendor_hhi"`
	DirectRate     float64 `json:"direct_rate"`
}

// VendorNetworkStats summarizes one vendor's position: breadth of agencies
// and how dependent the vendor is on its largest client.
type VendorNetworkStats struct {
	VendorID         string  `json:"codigo_proveedor"`
	Agencies         int     `json:"agencies"`
	Contracts        int     `json:"contracts"`
	TotalValue       float64 `json:"total_value"`
	TopAgencyID      string  `json:"top_agency_id"`
	AgencyDependence float64 `json:"agency_dependence"`
}

// Community is one detected cluster of vendors and agencies whose
// contracting is denser internally than toward the rest of the graph.
type Community struct {
	ID       int      `json:"community_id"`
	Vendors  []string `json:"vendors"`
	Agencies []string `json:"agencies"`
	Value    float64  `json:"value"`
	// Density is the ratio of realized to possible vendor-agency edges
	// inside the community.
	Density float64 `json:"density"`
}

// Size returns the total number of member nodes.
func (c *Community) Size() int { return len(c.Vendors) + len(c.Agencies) }
