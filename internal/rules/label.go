package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/auditlens/auditlens/internal/domain"
)

// LabelProgram is a compiled calibration label expression. The expression is
// a CEL boolean over contract variables only; score variables are not in
// scope because labels are derived before any scoring happens.
type LabelProgram struct {
	expr    string
	program cel.Program
}

// CompileLabel compiles a proxy-label expression such as
// "is_direct && is_modified".
func CompileLabel(expr string) (*LabelProgram, error) {
	env, err := cel.NewEnv(
		cel.Variable("valor", cel.DoubleType),
		cel.Variable("year", cel.IntType),
		cel.Variable("sector", cel.StringType),
		cel.Variable("departamento", cel.StringType),
		cel.Variable("modalidad", cel.StringType),
		cel.Variable("is_direct", cel.BoolType),
		cel.Variable("is_modified", cel.BoolType),
		cel.Variable("es_pyme", cel.BoolType),
		cel.Variable("dias_adicionados", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile label expression %q: %w", expr, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("label expression %q: must return bool, got %s", expr, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create label program: %w", err)
	}

	return &LabelProgram{expr: expr, program: program}, nil
}

// Expression returns the source expression.
func (p *LabelProgram) Expression() string {
	return p.expr
}

// Evaluate returns the proxy label for one contract.
func (p *LabelProgram) Evaluate(c *domain.Contract) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		"valor":            c.Value,
		"year":             int64(c.Year()),
		"sector":           c.Sector,
		"departamento":     c.Departamento,
		"modalidad":        c.Modalidad,
		"is_direct":        c.IsDirect,
		"is_modified":      c.IsModified,
		"es_pyme":          c.EsPyme,
		"dias_adicionados": int64(c.AddedDays),
	})
	if err != nil {
		return false, fmt.Errorf("label evaluation for contract %s: %w", c.ID, err)
	}

	matched, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("label evaluation for contract %s: non-bool result", c.ID)
	}
	return bool(matched), nil
}
