package domain

import (
	"strings"
	"time"
)

// Contract represents one procurement transaction as published on SECOP II.
// Contracts are immutable once ingested and identified by ID. JSON tags
// follow the published column names.
type Contract struct {
	// Core identifiers
	ID      string `json:"id_contrato"`
	Dataset string `json:"dataset"`

	// Awarding entity
	AgencyID     string `json:"codigo_entidad"`
	AgencyNIT    string `json:"nit_entidad,omitempty"`
	AgencyName   string `json:"nombre_entidad,omitempty"`
	Departamento string `json:"departamento"`
	City         string `json:"ciudad,omitempty"`
	Orden        string `json:"orden,omitempty"`
	Sector       string `json:"sector"`
	Rama         string `json:"rama,omitempty"`

	// Awarded vendor
	VendorID   string `json:"codigo_proveedor"`
	VendorName string `json:"proveedor_adjudicado,omitempty"`

	// Process descriptors
	Modalidad    string `json:"modalidad_de_contratacion"`
	ContractType string `json:"tipo_de_contrato"`
	Status       string `json:"estado_contrato,omitempty"`
	CategoryCode string `json:"codigo_de_categoria_principal,omitempty"`

	// Financial and temporal details
	Value     float64   `json:"valor_del_contrato"`
	SignedAt  time.Time `json:"fecha_de_firma,omitempty"`
	StartDate time.Time `json:"fecha_de_inicio_del_contrato"`
	EndDate   time.Time `json:"fecha_de_fin_del_contrato,omitempty"`
	AddedDays float64   `json:"dias_adicionados"`
	EsPyme    bool      `json:"es_pyme,omitempty"`

	// Derived award flags, set during ingestion
	IsDirect   bool `json:"is_direct"`
	IsModified bool `json:"is_modified"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Year returns the statutory year of the contract: the signature year when
// known, otherwise the start year. Threshold lookups are keyed by this value.
func (c *Contract) Year() int {
	if !c.SignedAt.IsZero() {
		return c.SignedAt.Year()
	}
	return c.StartDate.Year()
}

// DurationDays returns the contracted duration in days, or 0 when the end
// date is unknown or precedes the start date.
func (c *Contract) DurationDays() float64 {
	if c.EndDate.IsZero() || c.EndDate.Before(c.StartDate) {
		return 0
	}
	return c.EndDate.Sub(c.StartDate).Hours() / 24
}

// PairKey returns the (vendor, agency) relationship key used by the splitting
// detector and the network graph.
func (c *Contract) PairKey() string {
	return c.VendorID + "|" + c.AgencyID
}

// DirectAwardModalities lists the modalidad values treated as direct awards.
// SECOP publishes free-text modality names; matching is case-insensitive on
// the "contratación directa" stem.
var DirectAwardModalities = []string{
	"contratación directa",
	"contratacion directa",
}

// IsDirectModality reports whether a raw modality string denotes a direct award.
func IsDirectModality(modalidad string) bool {
	m := strings.ToLower(strings.TrimSpace(modalidad))
	for _, d := range DirectAwardModalities {
		if strings.Contains(m, d) {
			return true
		}
	}
	return false
}
