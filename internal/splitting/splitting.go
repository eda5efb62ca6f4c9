// Package splitting detects threshold evasion: bursts of contracts between
// one vendor and one agency whose combined value crosses a statutory
// threshold that each contract individually stays just below.
package splitting

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/auditlens/auditlens/internal/domain"
)

// recurrenceSaturation is the pair trigger count at which the recurrence
// component of the score saturates at 1.
const recurrenceSaturation = 5

// Score component weights. Closeness dominates: sitting deep inside the
// proximity band is the strongest single signal.
const (
	closenessWeight  = 0.5
	recurrenceWeight = 0.3
	windowsWeight    = 0.2
)

// Detector computes splitting scores over a scoring population.
type Detector struct {
	cfg        domain.SplittingConfig
	table      *domain.ThresholdTable
	maxWorkers int
}

// New creates a Detector.
func New(cfg domain.SplittingConfig, table *domain.ThresholdTable) *Detector {
	return &Detector{cfg: cfg, table: table, maxWorkers: runtime.GOMAXPROCS(0)}
}

// PairFinding is one flagged (vendor, agency) pair.
type PairFinding struct {
	VendorID  string  `json:"codigo_proveedor"`
	AgencyID  string  `json:"codigo_entidad"`
	Triggered int     `json:"triggered_contracts"`
	MaxScore  float64 `json:"max_score"`
}

// Result holds the population's splitting scores, parallel to the input
// order. Valid is false where the contract's year has no threshold entry;
// such scores are undefined and must not be read.
type Result struct {
	Scores       []float64
	Valid        []bool
	Pairs        []PairFinding
	MissingYears map[int]int
}

// Score evaluates every contract. Pairs are processed independently and in
// parallel; writes land at disjoint input indexes, so the result is
// deterministic.
func (d *Detector) Score(contracts []*domain.Contract) *Result {
	res := &Result{
		Scores:       make([]float64, len(contracts)),
		Valid:        make([]bool, len(contracts)),
		MissingYears: make(map[int]int),
	}
	if len(contracts) == 0 {
		return res
	}

	type member struct {
		pos      int // index into the input slice
		contract *domain.Contract
	}
	pairs := make(map[string][]member)
	for i, c := range contracts {
		key := c.PairKey()
		pairs[key] = append(pairs[key], member{pos: i, contract: c})
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	findings := make([]*PairFinding, len(keys))
	missing := make([]map[int]int, len(keys))

	var wg sync.WaitGroup
	sem := make(chan struct{}, d.maxWorkers)
	for i, key := range keys {
		wg.Add(1)
		go func(idx int, key string) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			members := pairs[key]
			sort.Slice(members, func(a, b int) bool {
				ma, mb := members[a].contract, members[b].contract
				if !ma.StartDate.Equal(mb.StartDate) {
					return ma.StartDate.Before(mb.StartDate)
				}
				return ma.ID < mb.ID
			})

			list := make([]*domain.Contract, len(members))
			for j, m := range members {
				list[j] = m.contract
			}
			scores, valid, miss := d.scorePair(list)
			for j, m := range members {
				res.Scores[m.pos] = scores[j]
				res.Valid[m.pos] = valid[j]
			}
			missing[idx] = miss

			triggered := 0
			maxScore := 0.0
			for j := range scores {
				if valid[j] && scores[j] > 0 {
					triggered++
					if scores[j] > maxScore {
						maxScore = scores[j]
					}
				}
			}
			if triggered > 0 {
				c := members[0].contract
				findings[idx] = &PairFinding{
					VendorID:  c.VendorID,
					AgencyID:  c.AgencyID,
					Triggered: triggered,
					MaxScore:  maxScore,
				}
			}
		}(i, key)
	}
	wg.Wait()

	for _, f := range findings {
		if f != nil {
			res.Pairs = append(res.Pairs, *f)
		}
	}
	for _, m := range missing {
		for year, count := range m {
			res.MissingYears[year] += count
		}
	}
	return res
}

// scorePair evaluates one pair's contracts, sorted chronologically. Each
// window is the half-open interval (start-L, start]: a contract exactly L
// days earlier is outside it.
func (d *Detector) scorePair(list []*domain.Contract) (scores []float64, valid []bool, missing map[int]int) {
	n := len(list)
	scores = make([]float64, n)
	valid = make([]bool, n)
	missing = make(map[int]int)

	type anchor struct {
		threshold float64
		closeness float64
		inBand    bool
	}
	anchors := make([]anchor, n)
	triggeredWindows := make([]int, n)

	for i, c := range list {
		threshold, found, err := d.table.NearestAbove(c.Year(), c.Value)
		if err != nil {
			missing[c.Year()]++
			continue
		}
		valid[i] = true
		if !found || c.Value <= 0 {
			continue
		}
		prox := (threshold - c.Value) / threshold
		if prox <= d.cfg.ProximityBand {
			anchors[i] = anchor{
				threshold: threshold,
				closeness: 1 - prox/d.cfg.ProximityBand,
				inBand:    true,
			}
		}
	}

	for _, days := range d.cfg.WindowsDays {
		span := time.Duration(days) * 24 * time.Hour
		head := 0
		sum := 0.0
		for i, c := range list {
			sum += c.Value
			cutoff := c.StartDate.Add(-span)
			for !list[head].StartDate.After(cutoff) {
				sum -= list[head].Value
				head++
			}
			if !valid[i] || !anchors[i].inBand {
				continue
			}

			th := anchors[i].threshold
			if sum <= th {
				continue
			}
			count := i - head + 1
			if count < d.cfg.MinWindowContracts {
				continue
			}
			single := false
			for j := head; j <= i; j++ {
				if list[j].Value >= th {
					single = true
					break
				}
			}
			if single {
				continue
			}
			triggeredWindows[i]++
		}
	}

	recurrence := 0
	for i := range list {
		if triggeredWindows[i] > 0 {
			recurrence++
		}
	}
	recurrenceTerm := float64(recurrence) / recurrenceSaturation
	if recurrenceTerm > 1 {
		recurrenceTerm = 1
	}

	totalWindows := float64(len(d.cfg.WindowsDays))
	for i := range list {
		if triggeredWindows[i] == 0 {
			continue
		}
		fraction := float64(triggeredWindows[i]) / totalWindows
		scores[i] = closenessWeight*anchors[i].closeness +
			recurrenceWeight*recurrenceTerm +
			windowsWeight*fraction
	}
	return scores, valid, missing
}
