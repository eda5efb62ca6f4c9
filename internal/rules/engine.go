// Package rules provides the CEL-Go based audit flag rule engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/auditlens/auditlens/internal/domain"
)

// Engine evaluates audit flag rules against scored contract rows. Rules are
// CEL booleans; a matching rule appends its flag to the row and never changes
// the score or tier.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.FlagRule
	Program cel.Program
}

// NewEngine creates a new flag rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := rowEnv()
	if err != nil {
		return nil, err
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// rowEnv builds the CEL environment for a scored contract row: the contract
// dimensions plus the sub-scores, the calibrated score, and the tier.
func rowEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("valor", cel.DoubleType),
		cel.Variable("year", cel.IntType),
		cel.Variable("sector", cel.StringType),
		cel.Variable("departamento", cel.StringType),
		cel.Variable("modalidad", cel.StringType),
		cel.Variable("agency_id", cel.StringType),
		cel.Variable("vendor_id", cel.StringType),
		cel.Variable("is_direct", cel.BoolType),
		cel.Variable("is_modified", cel.BoolType),
		cel.Variable("es_pyme", cel.BoolType),
		cel.Variable("dias_adicionados", cel.IntType),
		cel.Variable("start_month", cel.IntType),
		cel.Variable("process_anomaly_score", cel.DoubleType),
		cel.Variable("splitting_score", cel.DoubleType),
		cel.Variable("network_score", cel.DoubleType),
		cel.Variable("community_signal", cel.DoubleType),
		cel.Variable("risk_score_raw", cel.DoubleType),
		cel.Variable("risk_score_calibrated", cel.DoubleType),
		cel.Variable("risk_tier", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(rule *domain.FlagRule) error {
	if rule == nil {
		return fmt.Errorf("flag rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.FlagRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules. Disabled rules are skipped.
func (e *Engine) LoadRules(rules []*domain.FlagRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateAll evaluates all loaded rules against one scored row in parallel.
// The contract supplies the dimensional variables, the score supplies the
// sub-scores, calibrated score, and tier. Results come back in rule ID order
// so repeated evaluations append flags identically.
func (e *Engine) EvaluateAll(ctx context.Context, c *domain.Contract, score *domain.RiskScore) ([]domain.FlagResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()
	sort.Slice(rules, func(i, j int) bool { return rules[i].Rule.ID < rules[j].Rule.ID })

	if len(rules) == 0 {
		return nil, nil
	}

	activation := rowActivation(c, score)

	results := make([]domain.FlagResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(ctx, r, activation, c)
		}(i, rule)
	}

	wg.Wait()

	return results, nil
}

// rowActivation prepares the CEL activation variables for one scored row.
func rowActivation(c *domain.Contract, score *domain.RiskScore) map[string]any {
	activation := map[string]any{
		"row": map[string]any{
			"id":           c.ID,
			"agency_id":    c.AgencyID,
			"vendor_id":    c.VendorID,
			"valor":        c.Value,
			"sector":       c.Sector,
			"departamento": c.Departamento,
			"modalidad":    c.Modalidad,
		},
		"valor":            c.Value,
		"year":             int64(c.Year()),
		"sector":           c.Sector,
		"departamento":     c.Departamento,
		"modalidad":        c.Modalidad,
		"agency_id":        c.AgencyID,
		"vendor_id":        c.VendorID,
		"is_direct":        c.IsDirect,
		"is_modified":      c.IsModified,
		"es_pyme":          c.EsPyme,
		"dias_adicionados": int64(c.AddedDays),
		"start_month":      int64(c.StartDate.Month()),
		// Score variables default to 0 when flags run before scoring.
		"process_anomaly_score": 0.0,
		"splitting_score":       0.0,
		"network_score":         0.0,
		"community_signal":      0.0,
		"risk_score_raw":        0.0,
		"risk_score_calibrated": 0.0,
		"risk_tier":             "",
	}

	if score != nil {
		activation["process_anomaly_score"] = score.Sub.ProcessAnomaly
		activation["splitting_score"] = score.Sub.Splitting
		activation["network_score"] = score.Sub.Network
		activation["community_signal"] = score.Sub.Community
		activation["risk_score_raw"] = score.Raw
		activation["risk_score_calibrated"] = score.Calibrated
		activation["risk_tier"] = string(score.Tier)
	}

	return activation
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any, c *domain.Contract) domain.FlagResult {
	start := time.Now()

	result := domain.FlagResult{
		RuleID:     rule.Rule.ID,
		Dataset:    c.Dataset,
		ContractID: c.ID,
		Flag:       rule.Rule.Flag,
		Severity:   rule.Rule.Severity,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Err = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	if matched, ok := out.(types.Bool); ok {
		result.Matched = bool(matched)
	}
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// ReloadRules atomically replaces all loaded rules. Used for hot-reloading
// rules without dropping in-flight evaluations.
func (e *Engine) ReloadRules(rules []*domain.FlagRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// Rules returns the currently loaded rule definitions, sorted by ID.
func (e *Engine) Rules() []*domain.FlagRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.FlagRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.FlagRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}
