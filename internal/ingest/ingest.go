// Package ingest pulls SECOP II contract pages from the Socrata open-data
// API into the repository. Requests run behind a token-bucket rate limiter
// and a circuit breaker; rows are cleaned and typed before persisting.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/auditlens/auditlens/internal/domain"
)

// selectColumns is the projection requested from the source. Only columns
// the Contract model carries are pulled.
var selectColumns = []string{
	"id_contrato",
	"codigo_entidad",
	"nit_entidad",
	"nombre_entidad",
	"departamento",
	"ciudad",
	"orden",
	"sector",
	"rama",
	"codigo_proveedor",
	"proveedor_adjudicado",
	"modalidad_de_contratacion",
	"tipo_de_contrato",
	"estado_contrato",
	"codigo_de_categoria_principal",
	"fecha_de_firma",
	"fecha_de_inicio_del_contrato",
	"fecha_de_fin_del_contrato",
	"valor_del_contrato",
	"dias_adicionados",
	"es_pyme",
}

// Socrata floating timestamps come in a few shapes depending on the field.
var dateLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// row is the wire shape of one source record. Socrata returns every field
// as a string; typing happens in toContract.
type row struct {
	IDContrato      string `json:"id_contrato"`
	CodigoEntidad   string `json:"codigo_entidad"`
	NITEntidad      string `json:"nit_entidad"`
	NombreEntidad   string `json:"nombre_entidad"`
	Departamento    string `json:"departamento"`
	Ciudad          string `json:"ciudad"`
	Orden           string `json:"orden"`
	Sector          string `json:"sector"`
	Rama            string `json:"rama"`
	CodigoProveedor string `json:"codigo_proveedor"`
	Proveedor       string `json:"proveedor_adjudicado"`
	Modalidad       string `json:"modalidad_de_contratacion"`
	TipoContrato    string `json:"tipo_de_contrato"`
	Estado          string `json:"estado_contrato"`
	CodigoCategoria string `json:"codigo_de_categoria_principal"`
	FechaFirma      string `json:"fecha_de_firma"`
	FechaInicio     string `json:"fecha_de_inicio_del_contrato"`
	FechaFin        string `json:"fecha_de_fin_del_contrato"`
	Valor           string `json:"valor_del_contrato"`
	DiasAdicionados string `json:"dias_adicionados"`
	EsPyme          string `json:"es_pyme"`
}

// Client pulls and persists contract pages.
type Client struct {
	cfg     domain.IngestConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	repo    domain.Repository
	bus     domain.EventBus
}

// NewClient wires an ingest client. The bus is optional; a nil bus
// publishes nothing.
func NewClient(cfg domain.IngestConfig, repo domain.Repository, eventBus domain.EventBus) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "secop-api",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("source circuit state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: breaker,
		repo:    repo,
		bus:     eventBus,
	}
}

// PullOptions narrow a pull. Zero dates mean unbounded; MaxRows 0 means
// fetch until the source is exhausted.
type PullOptions struct {
	MaxRows int
	From    time.Time
	To      time.Time
}

// Result summarizes one completed pull.
type Result struct {
	Pages   int `json:"pages"`
	Fetched int `json:"fetched"`
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
}

// Pull fetches pages sequentially until the source is exhausted or the row
// cap is reached, persisting each page as one batch. Rows failing cleaning
// are skipped and counted; a duplicate or empty contract ID is a schema
// violation and aborts the pull before persisting the offending page.
func (c *Client) Pull(ctx context.Context, dataset string, opts PullOptions) (*Result, error) {
	if dataset == "" {
		return nil, fmt.Errorf("dataset is required")
	}

	res := &Result{}
	seen := make(map[string]struct{})
	offset := 0

	for {
		limit := c.cfg.PageSize
		if limit <= 0 {
			limit = 50000
		}
		if opts.MaxRows > 0 {
			remaining := opts.MaxRows - res.Fetched
			if remaining <= 0 {
				break
			}
			if remaining < limit {
				limit = remaining
			}
		}
		if c.cfg.MaxPages > 0 && res.Pages >= c.cfg.MaxPages {
			break
		}

		batch, err := c.fetchPage(ctx, opts, offset, limit)
		if err != nil {
			return res, fmt.Errorf("fetch at offset %d: %w", offset, err)
		}
		if len(batch) == 0 {
			break
		}
		res.Pages++
		res.Fetched += len(batch)
		offset += len(batch)

		contracts, skipped, err := c.cleanBatch(dataset, batch, seen)
		if err != nil {
			return res, err
		}
		res.Skipped += skipped

		if len(contracts) > 0 {
			if err := c.repo.SaveContracts(ctx, dataset, contracts); err != nil {
				return res, fmt.Errorf("persist page %d: %w", res.Pages, err)
			}
			res.Saved += len(contracts)
		}

		slog.Info("page ingested",
			"dataset", dataset,
			"page", res.Pages,
			"fetched", res.Fetched,
			"saved", res.Saved,
			"skipped", res.Skipped,
		)

		if len(batch) < limit {
			break
		}
	}

	c.publishIngested(ctx, dataset, res)
	return res, nil
}

// fetchPage performs one rate-limited GET through the circuit breaker.
func (c *Client) fetchPage(ctx context.Context, opts PullOptions, offset, limit int) ([]row, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.doGet(ctx, opts, offset, limit)
	})
	if err != nil {
		return nil, err
	}
	return out.([]row), nil
}

func (c *Client) doGet(ctx context.Context, opts PullOptions, offset, limit int) ([]row, error) {
	params := url.Values{}
	params.Set("$select", strings.Join(selectColumns, ","))
	params.Set("$where", whereClause(opts))
	params.Set("$limit", strconv.Itoa(limit))
	params.Set("$offset", strconv.Itoa(offset))
	params.Set("$order", "fecha_de_inicio_del_contrato ASC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.AppToken != "" {
		req.Header.Set("X-App-Token", c.cfg.AppToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("source returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var batch []row
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return batch, nil
}

// whereClause keeps the source-side filter minimal: positive values plus
// the optional start-date bounds. Everything else is cleaned locally.
func whereClause(opts PullOptions) string {
	parts := []string{"valor_del_contrato > '0'"}
	if !opts.From.IsZero() {
		parts = append(parts,
			fmt.Sprintf("fecha_de_inicio_del_contrato >= '%sT00:00:00'", opts.From.Format(domain.DateLayout)))
	}
	if !opts.To.IsZero() {
		parts = append(parts,
			fmt.Sprintf("fecha_de_inicio_del_contrato <= '%sT23:59:59'", opts.To.Format(domain.DateLayout)))
	}
	return strings.Join(parts, " AND ")
}

// cleanBatch types and filters a page. Rows missing a value or start date
// are skipped; an empty or repeated contract ID fails the pull.
func (c *Client) cleanBatch(dataset string, batch []row, seen map[string]struct{}) ([]*domain.Contract, int, error) {
	contracts := make([]*domain.Contract, 0, len(batch))
	skipped := 0
	for i := range batch {
		contract, err := toContract(dataset, &batch[i])
		if err != nil {
			return nil, skipped, err
		}
		if contract == nil {
			skipped++
			continue
		}
		if _, dup := seen[contract.ID]; dup {
			return nil, skipped, &domain.SchemaError{ContractID: contract.ID, Field: "id_contrato",
				Reason: "duplicate contract id in source"}
		}
		seen[contract.ID] = struct{}{}
		contracts = append(contracts, contract)
	}
	return contracts, skipped, nil
}

// toContract cleans one row. A nil contract with nil error means the row
// was dropped by cleaning.
func toContract(dataset string, r *row) (*domain.Contract, error) {
	id := strings.TrimSpace(r.IDContrato)
	if id == "" {
		return nil, &domain.SchemaError{Field: "id_contrato", Reason: "missing contract id"}
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(r.Valor), 64)
	if err != nil || value <= 0 {
		return nil, nil
	}
	startDate, ok := parseDate(r.FechaInicio)
	if !ok {
		return nil, nil
	}

	addedDays, err := strconv.ParseFloat(strings.TrimSpace(r.DiasAdicionados), 64)
	if err != nil {
		addedDays = 0
	}
	signedAt, _ := parseDate(r.FechaFirma)
	endDate, _ := parseDate(r.FechaFin)

	modalidad := strings.TrimSpace(r.Modalidad)
	estado := strings.TrimSpace(r.Estado)

	return &domain.Contract{
		ID:           id,
		Dataset:      dataset,
		AgencyID:     strings.TrimSpace(r.CodigoEntidad),
		AgencyNIT:    strings.TrimSpace(r.NITEntidad),
		AgencyName:   strings.TrimSpace(r.NombreEntidad),
		Departamento: strings.TrimSpace(r.Departamento),
		City:         strings.TrimSpace(r.Ciudad),
		Orden:        strings.TrimSpace(r.Orden),
		Sector:       strings.TrimSpace(r.Sector),
		Rama:         strings.TrimSpace(r.Rama),
		VendorID:     strings.TrimSpace(r.CodigoProveedor),
		VendorName:   strings.TrimSpace(r.Proveedor),
		Modalidad:    modalidad,
		ContractType: strings.TrimSpace(r.TipoContrato),
		Status:       estado,
		CategoryCode: strings.TrimSpace(r.CodigoCategoria),
		Value:        value,
		SignedAt:     signedAt,
		StartDate:    startDate,
		EndDate:      endDate,
		AddedDays:    addedDays,
		EsPyme:       parseBool(r.EsPyme),
		IsDirect:     domain.IsDirectModality(modalidad),
		IsModified:   addedDays > 0 || strings.Contains(strings.ToLower(estado), "modificado"),
	}, nil
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "si", "sí", "true", "1":
		return true
	}
	return false
}

func (c *Client) publishIngested(ctx context.Context, dataset string, res *Result) {
	if c.bus == nil || res.Saved == 0 {
		return
	}
	payload, err := json.Marshal(domain.IngestEvent{
		Dataset:   dataset,
		Contracts: res.Saved,
		Skipped:   res.Skipped,
	})
	if err != nil {
		return
	}
	if err := c.bus.Publish(ctx, dataset, domain.TopicContractsIngested, payload); err != nil {
		slog.Warn("failed to publish ingest event", "dataset", dataset, "error", err)
	}
}
