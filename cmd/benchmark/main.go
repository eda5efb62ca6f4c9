// Benchmark tool for measuring AuditLens ranking quality against the
// proxy label (direct awards that were later modified).
//
// Usage:
//   go run cmd/benchmark/main.go -run <run-id> -url http://localhost:8080
//
// This tool:
//   1. Fetches every scored contract of a run from a running AuditLens server
//   2. Ranks them by calibrated risk score
//   3. Computes precision@K and lift@K against the proxy label
//   4. Computes how much label-positive contract value the top K captures
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/auditlens/auditlens/internal/domain"
)

// scoresResponse is the GET /scores payload.
type scoresResponse struct {
	RunID  string              `json:"runId"`
	Scores []*domain.RiskScore `json:"scores"`
	Count  int                 `json:"count"`
}

// Metrics holds the ranking evaluation for one run.
type Metrics struct {
	Total     int
	Positives int
	BaseRate  float64

	// Value held by label-positive rows across the whole population.
	PositiveValue float64

	PerK []KMetrics
}

// KMetrics is the evaluation at one cutoff.
type KMetrics struct {
	K            int
	Hits         int
	Precision    float64
	Lift         float64
	ValueCapture float64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "AuditLens base URL")
	dataset := flag.String("dataset", "secop", "Dataset scope for requests")
	runID := flag.String("run", "", "Run ID to evaluate (empty = latest finished run)")
	kList := flag.String("k", "50,100,500,1000", "Comma-separated cutoffs for precision@K")
	pageSize := flag.Int("page", 5000, "Rows fetched per request")
	verbose := flag.Bool("verbose", false, "Print the top rows with their labels")
	flag.Parse()

	cutoffs, err := parseCutoffs(*kList)
	if err != nil {
		fmt.Printf("ERROR: invalid -k: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         AUDITLENS BENCHMARK - Audit Ranking Quality           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nAuditLens URL: %s\n", *baseURL)
	fmt.Printf("Dataset:       %s\n", *dataset)
	if *runID != "" {
		fmt.Printf("Run:           %s\n", *runID)
	} else {
		fmt.Printf("Run:           latest finished\n")
	}
	fmt.Printf("Cutoffs:       %v\n", cutoffs)
	fmt.Println()

	// Check AuditLens is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: AuditLens not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure AuditLens is running:")
		fmt.Println("  go run cmd/auditlens/main.go serve")
		os.Exit(1)
	}
	fmt.Println("✓ AuditLens is healthy")

	fmt.Println("\nFetching scored contracts...")
	startTime := time.Now()
	resolvedRun, rows, err := fetchScores(*baseURL, *dataset, *runID, *pageSize)
	if err != nil {
		fmt.Printf("ERROR: failed to fetch scores: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("ERROR: the run has no scored contracts")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d scored contracts from run %s in %s\n",
		len(rows), resolvedRun, time.Since(startTime).Round(time.Millisecond))

	metrics := evaluate(rows, cutoffs)

	if *verbose {
		printTopRows(rows, cutoffs[0])
	}

	printResults(resolvedRun, metrics)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// fetchScores pages through GET /scores until a short page.
func fetchScores(baseURL, dataset, runID string, pageSize int) (string, []*domain.RiskScore, error) {
	client := &http.Client{Timeout: 60 * time.Second}
	if pageSize <= 0 {
		pageSize = 5000
	}

	var rows []*domain.RiskScore
	resolvedRun := runID
	offset := 0

	for {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(pageSize))
		params.Set("offset", strconv.Itoa(offset))
		if resolvedRun != "" {
			params.Set("run_id", resolvedRun)
		}

		req, err := http.NewRequest(http.MethodGet, baseURL+"/scores?"+params.Encode(), nil)
		if err != nil {
			return "", nil, err
		}
		req.Header.Set("X-Dataset", dataset)

		resp, err := client.Do(req)
		if err != nil {
			return "", nil, err
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return "", nil, fmt.Errorf("status %d at offset %d", resp.StatusCode, offset)
		}

		var page scoresResponse
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return "", nil, err
		}

		// Pin the run after the first page so pagination cannot straddle runs.
		resolvedRun = page.RunID
		rows = append(rows, page.Scores...)
		offset += len(page.Scores)

		if len(page.Scores) < pageSize {
			break
		}
	}

	return resolvedRun, rows, nil
}

// label is the proxy ground truth: a direct award that was later modified.
func label(s *domain.RiskScore) bool {
	return s.IsDirect && s.IsModified
}

// evaluate ranks rows by calibrated score and walks the ranking once,
// collecting hits and captured value at each cutoff.
func evaluate(rows []*domain.RiskScore, cutoffs []int) *Metrics {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Calibrated != rows[j].Calibrated {
			return rows[i].Calibrated > rows[j].Calibrated
		}
		return rows[i].ContractID < rows[j].ContractID
	})

	m := &Metrics{Total: len(rows)}
	for _, s := range rows {
		if label(s) {
			m.Positives++
			m.PositiveValue += s.Value
		}
	}
	m.BaseRate = float64(m.Positives) / float64(m.Total)

	sorted := append([]int(nil), cutoffs...)
	sort.Ints(sorted)

	hits := 0
	captured := float64(0)
	next := 0
	for i, s := range rows {
		if label(s) {
			hits++
			captured += s.Value
		}
		for next < len(sorted) && i+1 == min(sorted[next], len(rows)) {
			km := KMetrics{
				K:         sorted[next],
				Hits:      hits,
				Precision: float64(hits) / float64(i+1),
			}
			if m.BaseRate > 0 {
				km.Lift = km.Precision / m.BaseRate
			}
			if m.PositiveValue > 0 {
				km.ValueCapture = captured / m.PositiveValue
			}
			m.PerK = append(m.PerK, km)
			next++
		}
	}

	return m
}

func parseCutoffs(s string) ([]int, error) {
	var cutoffs []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := strconv.Atoi(part)
		if err != nil || k <= 0 {
			return nil, fmt.Errorf("cutoff %q must be a positive integer", part)
		}
		cutoffs = append(cutoffs, k)
	}
	if len(cutoffs) == 0 {
		return nil, fmt.Errorf("at least one cutoff is required")
	}
	sort.Ints(cutoffs)
	cutoffs = slices.Compact(cutoffs)
	return cutoffs, nil
}

func printTopRows(rows []*domain.RiskScore, k int) {
	if k > len(rows) {
		k = len(rows)
	}
	fmt.Printf("\nTop %d ranked contracts:\n", k)
	for i, s := range rows[:k] {
		mark := " "
		if label(s) {
			mark = "✓"
		}
		fmt.Printf("%4d %s %-24s | score %.4f | tier %-6s | $%14.0f | %s\n",
			i+1, mark, s.ContractID, s.Calibrated, s.Tier, s.Value, s.Sector)
	}
}

func printResults(runID string, m *Metrics) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 POPULATION\n")
	fmt.Printf("   Run:              %s\n", runID)
	fmt.Printf("   Scored Contracts: %d\n", m.Total)
	fmt.Printf("   Label Positives:  %d (%.2f%%)\n", m.Positives, 100*m.BaseRate)
	fmt.Printf("   Positive Value:   $%.0f\n", m.PositiveValue)

	fmt.Printf("\n🎯 RANKING METRICS\n")
	fmt.Printf("   %8s %8s %12s %8s %14s\n", "K", "Hits", "Precision@K", "Lift@K", "Value Capture")
	for _, km := range m.PerK {
		lift := "n/a"
		if m.BaseRate > 0 {
			lift = fmt.Sprintf("%.2fx", km.Lift)
		}
		fmt.Printf("   %8d %8d %12.4f %8s %13.2f%%\n",
			km.K, km.Hits, km.Precision, lift, 100*km.ValueCapture)
	}

	// Interpretation at the tightest cutoff
	fmt.Printf("\n💡 INTERPRETATION\n")
	if m.Positives == 0 {
		fmt.Println("   ❌ No label positives in this run - lift is undefined")
		fmt.Println()
		return
	}
	head := m.PerK[0]
	switch {
	case head.Lift >= 3:
		fmt.Printf("   ✅ Strong ranking - top %d is %.1fx denser in positives than random\n", head.K, head.Lift)
	case head.Lift >= 2:
		fmt.Printf("   ✅ Good ranking - top %d is %.1fx denser in positives than random\n", head.K, head.Lift)
	case head.Lift >= 1.2:
		fmt.Printf("   ⚠️  Moderate ranking - top %d is only %.1fx better than random\n", head.K, head.Lift)
	default:
		fmt.Printf("   ❌ Weak ranking - top %d is barely better than random (%.2fx)\n", head.K, head.Lift)
	}
	fmt.Printf("   Auditing the top %d contracts would cover %.1f%% of label-positive value\n",
		m.PerK[len(m.PerK)-1].K, 100*m.PerK[len(m.PerK)-1].ValueCapture)

	fmt.Println()
}
