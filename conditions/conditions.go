// Package conditions decides whether a transition may proceed for a record,
// actor and execution context.
package conditions

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/songzhibin97/transition-engine/clock"
	"github.com/songzhibin97/transition-engine/internal/convert"
	"github.com/songzhibin97/transition-engine/rules"
	"github.com/songzhibin97/transition-engine/types"
)

// ErrUnknownKind is reported for unrecognized kinds when strict mode is on.
var ErrUnknownKind = errors.New("unknown condition kind")

// Comparison operators for field value conditions.
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpContains       = "contains"
	OpGreaterThan    = "greater_than"
	OpLessThan       = "less_than"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessOrEqual    = "less_or_equal"
	OpIn             = "in"
	OpIsEmpty        = "is_empty"
	OpIsNotEmpty     = "is_not_empty"
)

// Outcome is the aggregated result of evaluating a list of conditions.
type Outcome struct {
	Passed   bool
	Failures []string
}

// Evaluator evaluates conditions. It holds no per-call state and is safe for
// concurrent use.
type Evaluator struct {
	rules  rules.Evaluator
	clock  clock.Clock
	strict bool
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRules sets the evaluator used for custom.script conditions.
func WithRules(r rules.Evaluator) Option {
	return func(e *Evaluator) {
		if r != nil {
			e.rules = r
		}
	}
}

// WithClock sets the clock used by time conditions.
func WithClock(c clock.Clock) Option {
	return func(e *Evaluator) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithStrictKinds makes unknown condition kinds fail instead of pass.
func WithStrictKinds(strict bool) Option {
	return func(e *Evaluator) {
		e.strict = strict
	}
}

// NewEvaluator creates an Evaluator. Unknown kinds pass unless WithStrictKinds is given.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		rules: rules.NewExprEvaluator(),
		clock: clock.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate evaluates every condition in order and collects every failure
// reason. It does not stop at the first failure.
func (e *Evaluator) Evaluate(ctx context.Context, conds []types.Condition, env types.Env) Outcome {
	failures := make([]string, 0)
	for _, cond := range conds {
		passed, err := e.Check(ctx, cond, env)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		if !passed {
			failures = append(failures, fmt.Sprintf("Condition failed: %s", cond.Kind))
		}
	}
	return Outcome{Passed: len(failures) == 0, Failures: failures}
}

// Check evaluates a single condition, applying Negate. An error means the
// condition could not be evaluated and counts as failed whatever Negate says.
func (e *Evaluator) Check(ctx context.Context, cond types.Condition, env types.Env) (passed bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer func() {
		if r := recover(); r != nil {
			passed, err = false, fmt.Errorf("condition %s panicked: %v", cond.Kind, r)
		}
	}()

	cfg := cond.Config
	switch cond.Kind {
	case types.ConditionPermission:
		passed = CheckPermission(cfg, env.Actor)
	case types.ConditionFieldRequired:
		passed = checkFieldRequired(cfg, env)
	case types.ConditionUser:
		passed = CheckUser(cfg, env)
	case types.ConditionRole:
		passed = CheckRole(cfg, env.Actor)
	case types.ConditionFieldValue, types.ConditionFieldCompare:
		passed = checkFieldValue(cfg, env.Record)
	case types.ConditionTime:
		passed, err = e.checkTime(cfg, env.Record)
	case types.ConditionScript:
		passed, err = e.checkScript(cfg, env)
	default:
		if e.strict {
			return false, fmt.Errorf("%w: %q", ErrUnknownKind, cond.Kind)
		}
		passed = true
	}
	if err != nil {
		return false, err
	}

	if cond.Negate {
		passed = !passed
	}
	return passed, nil
}

// CheckPermission requires the configured permission (permission or
// requiredPermission). No configured permission passes.
func CheckPermission(cfg map[string]interface{}, actor types.Actor) bool {
	required := convert.String(cfg["permission"])
	if required == "" {
		required = convert.String(cfg["requiredPermission"])
	}
	if required == "" {
		return true
	}
	return actor.HasPermission(required)
}

// CheckRole requires the configured role.
func CheckRole(cfg map[string]interface{}, actor types.Actor) bool {
	role := convert.String(cfg["role"])
	if role == "" {
		return true
	}
	return actor.HasRole(role)
}

// CheckUser tests the relationship between the actor and the record:
// mustBeAssignee, mustBeReporter or a specific user, in that precedence.
func CheckUser(cfg map[string]interface{}, env types.Env) bool {
	switch {
	case convert.Bool(cfg["mustBeAssignee"]):
		return env.Actor.ID != "" && env.Record.String(types.FieldAssignee) == env.Actor.ID
	case convert.Bool(cfg["mustBeReporter"]):
		if env.Actor.ID == "" {
			return false
		}
		return env.Record.String(types.FieldRequester) == env.Actor.ID ||
			env.Record.String(types.FieldReporter) == env.Actor.ID
	case convert.String(cfg["user"]) != "":
		return env.Actor.ID == convert.String(cfg["user"])
	}
	return true
}

func checkFieldRequired(cfg map[string]interface{}, env types.Env) bool {
	field := convert.String(cfg["field"])
	if field == "" {
		return true
	}
	return !types.IsEmpty(env.Lookup(field))
}

func checkFieldValue(cfg map[string]interface{}, record types.Record) bool {
	field := convert.String(cfg["field"])
	if field == "" {
		return true
	}
	operator := convert.String(cfg["operator"])
	if operator == "" {
		operator = OpEquals
	}
	actual, _ := record.Get(field)
	return Compare(operator, actual, cfg["value"])
}

// Compare applies operator to a record value and a configured value. Unknown
// operators pass.
func Compare(operator string, actual, expected interface{}) bool {
	switch operator {
	case OpEquals:
		return Equal(actual, expected)
	case OpNotEquals:
		return !Equal(actual, expected)
	case OpContains:
		return strings.Contains(convert.String(actual), convert.String(expected))
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		a, okA := convert.Float(actual)
		b, okB := convert.Float(expected)
		if !okA || !okB {
			return false
		}
		switch operator {
		case OpGreaterThan:
			return a > b
		case OpLessThan:
			return a < b
		case OpGreaterOrEqual:
			return a >= b
		default:
			return a <= b
		}
	case OpIn:
		list, ok := expected.([]interface{})
		if !ok {
			for _, s := range convert.Strings(expected) {
				list = append(list, s)
			}
		}
		for _, item := range list {
			if Equal(actual, item) {
				return true
			}
		}
		return false
	case OpIsEmpty:
		return types.IsEmpty(actual)
	case OpIsNotEmpty:
		return !types.IsEmpty(actual)
	default:
		return true
	}
}

// Equal compares two loosely typed values. Numbers compare by value whatever
// their Go type; strings never equal numbers.
func Equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	if !aStr && !bStr {
		fa, okA := convert.Float(a)
		fb, okB := convert.Float(b)
		if okA && okB {
			return fa == fb
		}
	}
	if aStr && bStr {
		return a.(string) == b.(string)
	}
	return reflect.DeepEqual(a, b)
}

func (e *Evaluator) checkTime(cfg map[string]interface{}, record types.Record) (bool, error) {
	now := e.clock.Now()

	if v := cfg["beforeDate"]; !types.IsEmpty(v) {
		before, err := convert.Time(v)
		if err != nil {
			return false, fmt.Errorf("time condition beforeDate: %w", err)
		}
		if now.After(before) {
			return false, nil
		}
	}

	if v := cfg["afterDate"]; !types.IsEmpty(v) {
		after, err := convert.Time(v)
		if err != nil {
			return false, fmt.Errorf("time condition afterDate: %w", err)
		}
		if now.Before(after) {
			return false, nil
		}
	}

	// withinHours only limits records with a readable creation time.
	if hours, ok := convert.Float(cfg["withinHours"]); ok && hours > 0 {
		raw, _ := record.Get(types.FieldCreatedAt)
		if created, err := convert.Time(raw); err == nil {
			if now.Sub(created) > time.Duration(hours*float64(time.Hour)) {
				return false, nil
			}
		}
	}

	return true, nil
}

func (e *Evaluator) checkScript(cfg map[string]interface{}, env types.Env) (bool, error) {
	script := convert.String(cfg["script"])
	passed, err := e.rules.Evaluate(script, rules.NewEnv(env, e.clock.Now()))
	if err != nil {
		return false, fmt.Errorf("custom script: %w", err)
	}
	return passed, nil
}
