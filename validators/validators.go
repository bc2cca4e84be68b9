// Package validators checks the data supplied for a transition and reports
// structured, field addressable errors.
package validators

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/songzhibin97/transition-engine/clock"
	"github.com/songzhibin97/transition-engine/conditions"
	"github.com/songzhibin97/transition-engine/internal/convert"
	"github.com/songzhibin97/transition-engine/rules"
	"github.com/songzhibin97/transition-engine/types"
)

// CodeError is the code reported when a validator could not run at all.
const CodeError = "ERROR"

// ErrUnknownKind is reported for unrecognized kinds when strict mode is on.
var ErrUnknownKind = errors.New("unknown validator kind")

var defaultMessages = map[types.ValidatorKind]string{
	types.ValidatorField:      "Field validation failed: {field}",
	types.ValidatorPermission: "Permission check failed",
	types.ValidatorRegex:      "Pattern validation failed",
	types.ValidatorDate:       "Date validation failed",
	types.ValidatorUser:       "User validation failed",
	types.ValidatorScript:     "Custom validation failed",
}

// Runner runs validators. It is safe for concurrent use.
type Runner struct {
	rules  rules.Evaluator
	clock  clock.Clock
	strict bool

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// Option configures a Runner.
type Option func(*Runner)

// WithRules sets the evaluator used for custom.validator scripts.
func WithRules(r rules.Evaluator) Option {
	return func(rn *Runner) {
		if r != nil {
			rn.rules = r
		}
	}
}

// WithClock sets the clock used by date validators.
func WithClock(c clock.Clock) Option {
	return func(rn *Runner) {
		if c != nil {
			rn.clock = c
		}
	}
}

// WithStrictKinds makes unknown validator kinds report an error.
func WithStrictKinds(strict bool) Option {
	return func(rn *Runner) {
		rn.strict = strict
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	rn := &Runner{
		rules:    rules.NewExprEvaluator(),
		clock:    clock.NewRealClock(),
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, opt := range opts {
		opt(rn)
	}
	return rn
}

// Run runs every validator in order and returns all errors. An empty result
// means the data is acceptable.
func (rn *Runner) Run(ctx context.Context, vals []types.Validator, env types.Env) []types.ValidationError {
	errs := make([]types.ValidationError, 0)
	for _, v := range vals {
		if verr := rn.Validate(ctx, v, env); verr != nil {
			errs = append(errs, *verr)
		}
	}
	return errs
}

// Validate runs a single validator. It returns nil when the validator passes.
func (rn *Runner) Validate(ctx context.Context, v types.Validator, env types.Env) (verr *types.ValidationError) {
	if err := ctx.Err(); err != nil {
		return rn.errorOf(v, err)
	}
	defer func() {
		if r := recover(); r != nil {
			verr = rn.errorOf(v, fmt.Errorf("validator %s panicked: %v", v.Kind, r))
		}
	}()

	var (
		valid bool
		err   error
	)
	cfg := v.Config
	switch v.Kind {
	case types.ValidatorField:
		valid, err = rn.validateField(cfg, env)
	case types.ValidatorPermission:
		valid = conditions.CheckPermission(cfg, env.Actor)
		if role := convert.String(cfg["mustHaveRole"]); role != "" {
			valid = valid && env.Actor.HasRole(role)
		}
	case types.ValidatorRegex:
		valid, err = rn.validateRegex(cfg, env.Record)
	case types.ValidatorDate:
		valid, err = rn.validateDate(cfg, env.Record)
	case types.ValidatorUser:
		valid = validateUser(cfg, env)
	case types.ValidatorScript:
		valid, err = rn.rules.Evaluate(convert.String(cfg["validatorScript"]), rules.NewEnv(env, rn.clock.Now()))
		if err != nil {
			err = fmt.Errorf("custom validator: %w", err)
		}
	default:
		if rn.strict {
			err = fmt.Errorf("%w: %q", ErrUnknownKind, v.Kind)
		} else {
			valid = true
		}
	}

	if err != nil {
		return rn.errorOf(v, err)
	}
	if valid {
		return nil
	}
	return &types.ValidationError{
		Field:     fieldOf(cfg),
		Validator: string(v.Kind),
		Message:   message(v, env),
		Code:      string(v.Kind),
	}
}

func (rn *Runner) errorOf(v types.Validator, err error) *types.ValidationError {
	return &types.ValidationError{
		Field:     fieldOf(v.Config),
		Validator: string(v.Kind),
		Message:   err.Error(),
		Code:      CodeError,
	}
}

func fieldOf(cfg map[string]interface{}) string {
	if f := convert.String(cfg["field"]); f != "" {
		return f
	}
	return convert.String(cfg["dateField"])
}

// message renders the validator's message template. {field} and {value} are
// substituted.
func message(v types.Validator, env types.Env) string {
	tmpl := v.ErrorMessage
	if tmpl == "" {
		tmpl = defaultMessages[v.Kind]
	}
	if tmpl == "" {
		tmpl = "Validation failed"
	}
	field := fieldOf(v.Config)
	return strings.NewReplacer(
		"{field}", field,
		"{value}", convert.String(env.Lookup(field)),
	).Replace(tmpl)
}

func (rn *Runner) validateField(cfg map[string]interface{}, env types.Env) (bool, error) {
	field := convert.String(cfg["field"])
	if field == "" {
		return true, nil
	}
	value := env.Lookup(field)
	empty := types.IsEmpty(value)

	if convert.Bool(cfg["required"]) && empty {
		return false, nil
	}
	if empty {
		// Optional and absent: length and pattern rules only apply to supplied values.
		return true, nil
	}

	s := convert.String(value)
	if minLen, ok := convert.Int(cfg["minLength"]); ok && minLen > 0 && len([]rune(s)) < minLen {
		return false, nil
	}
	if maxLen, ok := convert.Int(cfg["maxLength"]); ok && maxLen > 0 && len([]rune(s)) > maxLen {
		return false, nil
	}
	if pattern := convert.String(cfg["pattern"]); pattern != "" {
		re, err := rn.compile(pattern)
		if err != nil {
			return false, err
		}
		if !re.MatchString(s) {
			return false, nil
		}
	}
	return true, nil
}

func (rn *Runner) validateRegex(cfg map[string]interface{}, record types.Record) (bool, error) {
	field := convert.String(cfg["field"])
	pattern := convert.String(cfg["pattern"])
	if field == "" || pattern == "" {
		return true, nil
	}
	re, err := rn.compile(pattern)
	if err != nil {
		return false, err
	}
	value, _ := record.Get(field)
	return re.MatchString(convert.String(value)), nil
}

func (rn *Runner) validateDate(cfg map[string]interface{}, record types.Record) (bool, error) {
	field := convert.String(cfg["dateField"])
	if field == "" {
		field = convert.String(cfg["field"])
	}
	if field == "" {
		return true, nil
	}

	raw, _ := record.Get(field)
	if types.IsEmpty(raw) {
		return !convert.Bool(cfg["required"]), nil
	}
	date, err := convert.Time(raw)
	if err != nil {
		return false, fmt.Errorf("date validator %s: %w", field, err)
	}
	now := rn.clock.Now()

	if convert.Bool(cfg["mustBeFuture"]) && !date.After(now) {
		return false, nil
	}
	if convert.Bool(cfg["mustBePast"]) && !date.Before(now) {
		return false, nil
	}
	if days, ok := convert.Int(cfg["maxDaysFromNow"]); ok && days > 0 {
		if date.After(now.Add(time.Duration(days) * 24 * time.Hour)) {
			return false, nil
		}
	}
	return true, nil
}

func validateUser(cfg map[string]interface{}, env types.Env) bool {
	if !conditions.CheckUser(cfg, env) {
		return false
	}
	if convert.Bool(cfg["mustBeAssigned"]) && env.Record.String(types.FieldAssignee) == "" {
		return false
	}
	if allowed := convert.Strings(cfg["allowedUsers"]); len(allowed) > 0 {
		for _, id := range allowed {
			if id == env.Actor.ID {
				return true
			}
		}
		return false
	}
	return true
}

func (rn *Runner) compile(pattern string) (*regexp.Regexp, error) {
	rn.mu.RLock()
	re, ok := rn.patterns[pattern]
	rn.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	rn.mu.Lock()
	rn.patterns[pattern] = re
	rn.mu.Unlock()
	return re, nil
}
