package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr/vm"

	"github.com/expr-lang/expr"
	"github.com/songzhibin97/transition-engine/types"
)

// Evaluator defines the interface for evaluating scripted predicates and functions.
type Evaluator interface {
	// Evaluate runs expression and requires a boolean result.
	Evaluate(expression string, env map[string]interface{}) (bool, error)

	// Run runs expression and returns whatever it produces.
	Run(expression string, env map[string]interface{}) (interface{}, error)
}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
// Expressions cannot loop, allocate unbounded memory or reach the host, so
// configuration authored outside the service can be evaluated in-process.
type ExprEvaluator struct {
	cache       map[string]*vm.Program
	mu          sync.RWMutex
	optionsFunc map[string]func(map[string]interface{}) interface{}
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache and
// the hasRole/hasPermission helpers registered.
func NewExprEvaluator() *ExprEvaluator {
	e := &ExprEvaluator{
		cache:       make(map[string]*vm.Program),
		optionsFunc: make(map[string]func(map[string]interface{}) interface{}),
	}
	e.AddOptionFunc("hasRole", func(env map[string]interface{}) interface{} {
		actor, _ := env["actor"].(map[string]interface{})
		roles, _ := actor["roles"].([]string)
		return func(role string) bool { return containsString(roles, role) }
	})
	e.AddOptionFunc("hasPermission", func(env map[string]interface{}) interface{} {
		actor, _ := env["actor"].(map[string]interface{})
		perms, _ := actor["permissions"].([]string)
		return func(perm string) bool { return containsString(perms, perm) }
	})
	return e
}

// AddOptionFunc registers a value derived from the environment under name.
// The derived value is recomputed on every evaluation.
func (e *ExprEvaluator) AddOptionFunc(name string, f func(map[string]interface{}) interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.optionsFunc[name] = f
}

// Evaluate evaluates the given expression against the provided environment.
// The expression must evaluate to a boolean; otherwise, an error is returned.
// Returns false and an error if compilation, execution, or type assertion fails.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	result, err := e.Run(expression, env)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}

// Run compiles (once) and runs expression. The caller's env is never modified.
func (e *ExprEvaluator) Run(expression string, env map[string]interface{}) (interface{}, error) {
	if expression == "" {
		return nil, fmt.Errorf("empty expression")
	}

	scope := make(map[string]interface{}, len(env)+len(e.optionsFunc))
	for k, v := range env {
		scope[k] = v
	}
	e.mu.RLock()
	for k, f := range e.optionsFunc {
		scope[k] = f(env)
	}
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		// Compile with write lock
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(scope))
			if err != nil {
				e.mu.Unlock()
				return nil, err
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	return expr.Run(program, scope)
}

// NewEnv builds the expression environment for a transition: record, actor,
// context and now.
func NewEnv(env types.Env, now time.Time) map[string]interface{} {
	record := map[string]interface{}(env.Record)
	if record == nil {
		record = map[string]interface{}{}
	}
	context := env.Context
	if context == nil {
		context = map[string]interface{}{}
	}
	roles := env.Actor.Roles
	if roles == nil {
		roles = []string{}
	}
	perms := env.Actor.Permissions
	if perms == nil {
		perms = []string{}
	}
	return map[string]interface{}{
		"record":  record,
		"context": context,
		"actor": map[string]interface{}{
			"id":          env.Actor.ID,
			"roles":       roles,
			"permissions": perms,
		},
		"now": now,
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
