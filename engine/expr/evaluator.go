package expr

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// ErrValue is the sentinel result a formula degrades to on any parse or
// evaluation failure. A single bad formula never aborts an addon run.
const ErrValue = "#ERROR"

// Evaluator compiles and evaluates calculation formulas using CEL. Formulas
// see only the supplied scope variables; no ambient state is reachable.
type Evaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewEvaluator creates a new formula evaluator with caching
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]cel.Program),
	}
}

// Parse compiles a formula against the given variable names without
// evaluating it. Used by the validator to catch syntax errors at publish
// time.
func (e *Evaluator) Parse(formula string, variables []string) error {
	_, err := e.program(formula, variables)
	return err
}

// Evaluate runs a formula against the scope. Any failure degrades to
// ErrValue rather than an error so callers can record it per-row.
func (e *Evaluator) Evaluate(formula string, scope map[string]interface{}) interface{} {
	variables := make([]string, 0, len(scope))
	for name := range scope {
		variables = append(variables, name)
	}

	prg, err := e.program(formula, variables)
	if err != nil {
		return ErrValue
	}

	out, _, err := prg.Eval(scope)
	if err != nil {
		return ErrValue
	}

	return out.Value()
}

// program returns a compiled program from cache, compiling on miss
func (e *Evaluator) program(formula string, variables []string) (cel.Program, error) {
	key := cacheKey(formula, variables)

	e.mu.RLock()
	prg, exists := e.cache[key]
	e.mu.RUnlock()
	if exists {
		return prg, nil
	}

	opts := make([]cel.EnvOption, 0, len(variables))
	for _, name := range variables {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(formula)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("formula compilation error: %w", issues.Err())
	}

	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	e.mu.Lock()
	e.cache[key] = prg
	e.mu.Unlock()

	return prg, nil
}

func cacheKey(formula string, variables []string) string {
	sorted := append([]string(nil), variables...)
	sort.Strings(sorted)
	return formula + "|" + strings.Join(sorted, ",")
}

// ClearCache clears the compiled formula cache
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize returns the number of cached formulas
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
