// Package features derives the behavioral feature vectors that feed the
// anomaly detectors. All context statistics are computed once per run over
// the full contract population; vector assembly is then read-only and safe
// to parallelize across partitions.
package features

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/auditlens/auditlens/internal/domain"
)

// unknownCategory is the bucket for missing categorical codes. Blank codes
// share one frequency instead of fragmenting into empty variants.
const unknownCategory = "unknown"

func category(v string) string {
	if strings.TrimSpace(v) == "" {
		return unknownCategory
	}
	return v
}

// Builder computes feature vectors for a scoring population.
type Builder struct {
	cfg   domain.FeaturesConfig
	band  float64
	table *domain.ThresholdTable
}

// NewBuilder creates a Builder. band is the threshold proximity band used
// for the just-below indicator.
func NewBuilder(cfg domain.FeaturesConfig, band float64, table *domain.ThresholdTable) *Builder {
	return &Builder{cfg: cfg, band: band, table: table}
}

// vendorFeatures is the strictly-before vendor context for one contract.
type vendorFeatures struct {
	priorCount float64
	avgValue   float64
	agencies   float64
	dependence float64
	recent     float64
}

// agencyFeatures is the population-wide agency context, shared by every
// contract of the agency.
type agencyFeatures struct {
	volume     float64
	vendorHHI  float64
	directRate float64
	topShare   float64
}

type sectorStats struct {
	count          int
	valueMedian    float64
	durationMedian float64
}

// Context holds the read-only population context. Vector may be called
// concurrently once the context is built.
type Context struct {
	builder *Builder
	n       float64

	sectorFreq       map[string]float64
	modalidadFreq    map[string]float64
	contractTypeFreq map[string]float64
	departamentoFreq map[string]float64
	ordenFreq        map[string]float64

	sectors              map[string]sectorStats
	globalValueMedian    float64
	globalDurationMedian float64

	vendor map[string]vendorFeatures
	agency map[string]agencyFeatures

	// Column medians over rows with a known threshold year, used to impute
	// the threshold features when the year is missing from the table.
	proximityMedian float64
	justBelowMedian float64
}

// BuildContext computes every population statistic the vectors need. It is
// deterministic: equal inputs produce an identical context.
func (b *Builder) BuildContext(contracts []*domain.Contract) *Context {
	ctx := &Context{
		builder:          b,
		n:                float64(len(contracts)),
		sectorFreq:       make(map[string]float64),
		modalidadFreq:    make(map[string]float64),
		contractTypeFreq: make(map[string]float64),
		departamentoFreq: make(map[string]float64),
		ordenFreq:        make(map[string]float64),
		sectors:          make(map[string]sectorStats),
		vendor:           make(map[string]vendorFeatures, len(contracts)),
		agency:           make(map[string]agencyFeatures),
	}
	if len(contracts) == 0 {
		return ctx
	}

	b.buildFrequencies(ctx, contracts)
	b.buildSectorStats(ctx, contracts)
	b.buildVendorContext(ctx, contracts)
	b.buildAgencyContext(ctx, contracts)
	b.buildThresholdMedians(ctx, contracts)
	return ctx
}

func (b *Builder) buildFrequencies(ctx *Context, contracts []*domain.Contract) {
	for _, c := range contracts {
		ctx.sectorFreq[category(c.Sector)]++
		ctx.modalidadFreq[category(c.Modalidad)]++
		ctx.contractTypeFreq[category(c.ContractType)]++
		ctx.departamentoFreq[category(c.Departamento)]++
		ctx.ordenFreq[category(c.Orden)]++
	}
	for _, m := range []map[string]float64{
		ctx.sectorFreq, ctx.modalidadFreq, ctx.contractTypeFreq, ctx.departamentoFreq, ctx.ordenFreq,
	} {
		for k := range m {
			m[k] /= ctx.n
		}
	}
}

func (b *Builder) buildSectorStats(ctx *Context, contracts []*domain.Contract) {
	values := make(map[string][]float64)
	durations := make(map[string][]float64)
	allValues := make([]float64, 0, len(contracts))
	allDurations := make([]float64, 0, len(contracts))
	for _, c := range contracts {
		d := c.DurationDays()
		sector := category(c.Sector)
		values[sector] = append(values[sector], c.Value)
		durations[sector] = append(durations[sector], d)
		allValues = append(allValues, c.Value)
		allDurations = append(allDurations, d)
	}
	for sector, vs := range values {
		ctx.sectors[sector] = sectorStats{
			count:          len(vs),
			valueMedian:    median(vs),
			durationMedian: median(durations[sector]),
		}
	}
	ctx.globalValueMedian = median(allValues)
	ctx.globalDurationMedian = median(allDurations)
}

// buildVendorContext sweeps each vendor's contracts chronologically and
// records, for every contract, the vendor state strictly before its start
// date. Contracts sharing a start date see the same prior state.
func (b *Builder) buildVendorContext(ctx *Context, contracts []*domain.Contract) {
	byVendor := make(map[string][]*domain.Contract)
	for _, c := range contracts {
		byVendor[c.VendorID] = append(byVendor[c.VendorID], c)
	}
	window := time.Duration(b.cfg.RecentWindowDays) * 24 * time.Hour

	for _, list := range byVendor {
		sort.Slice(list, func(i, j int) bool {
			if !list[i].StartDate.Equal(list[j].StartDate) {
				return list[i].StartDate.Before(list[j].StartDate)
			}
			return list[i].ID < list[j].ID
		})

		count := 0.0
		sumValue := 0.0
		byAgency := make(map[string]float64)
		var priorStarts []time.Time
		recentHead := 0
		for i := 0; i < len(list); {
			// Process the group of contracts sharing this start date.
			j := i
			for j < len(list) && list[j].StartDate.Equal(list[i].StartDate) {
				j++
			}
			cutoff := list[i].StartDate.Add(-window)
			for recentHead < len(priorStarts) && priorStarts[recentHead].Before(cutoff) {
				recentHead++
			}

			vf := vendorFeatures{
				priorCount: count,
				agencies:   float64(len(byAgency)),
				recent:     float64(len(priorStarts) - recentHead),
			}
			if count > 0 {
				vf.avgValue = sumValue / count
			}
			for k := i; k < j; k++ {
				c := list[k]
				if sumValue > 0 {
					vf.dependence = byAgency[c.AgencyID] / sumValue
				} else {
					vf.dependence = 0
				}
				ctx.vendor[c.ID] = vf
			}

			// Fold the group into the running state.
			for k := i; k < j; k++ {
				c := list[k]
				count++
				sumValue += c.Value
				byAgency[c.AgencyID] += c.Value
				priorStarts = append(priorStarts, c.StartDate)
			}
			i = j
		}
	}
}

func (b *Builder) buildAgencyContext(ctx *Context, contracts []*domain.Contract) {
	type agg struct {
		volume   float64
		direct   float64
		byVendor map[string]float64
	}
	aggs := make(map[string]*agg)
	for _, c := range contracts {
		a := aggs[c.AgencyID]
		if a == nil {
			a = &agg{byVendor: make(map[string]float64)}
			aggs[c.AgencyID] = a
		}
		a.volume++
		if c.IsDirect {
			a.direct++
		}
		a.byVendor[c.VendorID] += c.Value
	}
	for agencyID, a := range aggs {
		_, share := topShare(a.byVendor)
		ctx.agency[agencyID] = agencyFeatures{
			volume:     a.volume,
			vendorHHI:  hhi(a.byVendor),
			directRate: a.direct / a.volume,
			topShare:   share,
		}
	}
}

func (b *Builder) buildThresholdMedians(ctx *Context, contracts []*domain.Contract) {
	var proximities, justBelows []float64
	for _, c := range contracts {
		prox, just, ok := b.thresholdFeatures(c)
		if !ok {
			continue
		}
		proximities = append(proximities, prox)
		justBelows = append(justBelows, just)
	}
	ctx.proximityMedian = median(proximities)
	ctx.justBelowMedian = median(justBelows)
}

// thresholdFeatures computes the proximity ratio and just-below indicator.
// ok is false when the contract's year is not in the threshold table.
func (b *Builder) thresholdFeatures(c *domain.Contract) (proximity, justBelow float64, ok bool) {
	year := c.Year()
	amounts, err := b.table.Amounts(year)
	if err != nil || len(amounts) == 0 {
		return 0, 0, false
	}
	below, found, _ := b.table.NearestBelow(year, c.Value)
	if found {
		proximity = c.Value / below
	} else {
		// Under the lowest threshold the ratio measures progress toward it.
		proximity = c.Value / amounts[0]
	}
	just, _ := b.table.JustBelow(year, c.Value, b.band)
	return proximity, boolFeature(just), true
}

// Vector assembles the feature vector for one contract. It only reads the
// context and may be called from multiple goroutines.
func (ctx *Context) Vector(c *domain.Contract) domain.FeatureVector {
	v := make([]float64, domain.FeatureCount)
	fv := domain.FeatureVector{ContractID: c.ID, Values: v}

	duration := c.DurationDays()
	month := float64(int(c.StartDate.Month()))

	v[0] = math.Log1p(c.Value)
	v[1] = duration
	v[2] = c.AddedDays
	v[3] = safeRatio(c.AddedDays, duration)
	v[4] = boolFeature(c.IsDirect)
	v[5] = boolFeature(c.IsModified)
	v[6] = month
	v[7] = boolFeature(month >= 10)
	v[8] = boolFeature(c.EsPyme)

	sector := category(c.Sector)
	v[9] = ctx.sectorFreq[sector]
	v[10] = ctx.modalidadFreq[category(c.Modalidad)]
	v[11] = ctx.contractTypeFreq[category(c.ContractType)]
	v[12] = ctx.departamentoFreq[category(c.Departamento)]
	v[13] = ctx.ordenFreq[category(c.Orden)]

	valueMedian, durationMedian := ctx.globalValueMedian, ctx.globalDurationMedian
	if stats, found := ctx.sectors[sector]; found && stats.count >= ctx.builder.cfg.MinPeerPopulation {
		valueMedian, durationMedian = stats.valueMedian, stats.durationMedian
	} else {
		fv.InsufficientPopulation = true
	}
	v[14] = safeRatio(c.Value, valueMedian)
	v[15] = safeRatio(duration, durationMedian)

	vf := ctx.vendor[c.ID]
	v[16] = vf.priorCount
	v[17] = vf.avgValue
	v[18] = vf.agencies
	v[19] = vf.dependence
	v[20] = vf.recent

	af := ctx.agency[c.AgencyID]
	v[21] = af.volume
	v[22] = af.vendorHHI
	v[23] = af.directRate
	v[24] = af.topShare

	prox, just, ok := ctx.builder.thresholdFeatures(c)
	if ok {
		v[25] = prox
		v[26] = just
	} else {
		v[25] = ctx.proximityMedian
		v[26] = ctx.justBelowMedian
		fv.MissingThresholdYear = true
	}

	return fv
}
