// Package postfunctions computes the mutations, notifications and webhook
// calls implied by an approved transition. Nothing here performs I/O: the
// results describe what the caller must apply or deliver.
package postfunctions

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/songzhibin97/transition-engine/clock"
	"github.com/songzhibin97/transition-engine/internal/convert"
	"github.com/songzhibin97/transition-engine/rules"
	"github.com/songzhibin97/transition-engine/types"
)

const defaultResolution = "done"

var (
	ErrInvalidWebhook  = errors.New("invalid webhook url")
	ErrInvalidUpdates  = errors.New("fieldUpdates must be a map")
	ErrScriptResult    = errors.New("custom function must return a map or a bool")
	ErrScriptFalse     = errors.New("custom function returned false")
	ErrHandlerRequired = errors.New("kind and handler are required")
)

// Input is what a post-function sees.
type Input struct {
	Env    types.Env
	Target types.Step
	Now    time.Time
}

// Handler computes the mutation descriptor of one post-function.
type Handler interface {
	Execute(ctx context.Context, fn types.PostFunction, in Input) (map[string]interface{}, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, fn types.PostFunction, in Input) (map[string]interface{}, error)

// Execute implements the Handler interface.
func (f HandlerFunc) Execute(ctx context.Context, fn types.PostFunction, in Input) (map[string]interface{}, error) {
	return f(ctx, fn, in)
}

// Executor runs post-functions in order, each inside its own failure boundary.
type Executor struct {
	rules    rules.Evaluator
	clock    clock.Clock
	handlers map[types.PostFunctionKind]Handler
	mu       sync.RWMutex
}

// Option configures an Executor.
type Option func(*Executor)

// WithRules sets the evaluator used for custom.function scripts.
func WithRules(r rules.Evaluator) Option {
	return func(e *Executor) {
		if r != nil {
			e.rules = r
		}
	}
}

// WithClock sets the clock passed to handlers.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) {
		if c != nil {
			e.clock = c
		}
	}
}

// NewExecutor creates an Executor with the built-in handlers.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		rules:    rules.NewExprEvaluator(),
		clock:    clock.NewRealClock(),
		handlers: make(map[types.PostFunctionKind]Handler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterHandler installs a handler for kind, replacing the built-in one if any.
func (e *Executor) RegisterHandler(kind types.PostFunctionKind, h Handler) error {
	if kind == "" || h == nil {
		return ErrHandlerRequired
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
	return nil
}

// Sorted returns fns ordered by Order. Ties keep authoring order.
func Sorted(fns []types.PostFunction) []types.PostFunction {
	sorted := make([]types.PostFunction, len(fns))
	copy(sorted, fns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}

// Execute runs every post-function exactly once in ascending Order. A failing
// function is reported in its result and does not stop the ones after it.
func (e *Executor) Execute(ctx context.Context, fns []types.PostFunction, env types.Env, target types.Step) []types.PostFunctionResult {
	in := Input{Env: env, Target: target, Now: e.clock.Now()}
	results := make([]types.PostFunctionResult, 0, len(fns))
	for _, fn := range Sorted(fns) {
		mutation, err := e.ExecuteOne(ctx, fn, in)
		res := types.PostFunctionResult{Function: fn.Kind, Order: fn.Order}
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Mutation = mutation
		}
		results = append(results, res)
	}
	return results
}

// ExecuteOne runs a single post-function, converting panics into errors.
func (e *Executor) ExecuteOne(ctx context.Context, fn types.PostFunction, in Input) (mutation map[string]interface{}, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			mutation, err = nil, fmt.Errorf("post-function %s panicked: %v", fn.Kind, r)
		}
	}()

	e.mu.RLock()
	h, ok := e.handlers[fn.Kind]
	e.mu.RUnlock()
	if ok {
		return h.Execute(ctx, fn, in)
	}
	return e.builtin(fn, in)
}

func (e *Executor) builtin(fn types.PostFunction, in Input) (map[string]interface{}, error) {
	cfg := fn.Config
	switch fn.Kind {
	case types.FunctionUpdateStatus:
		status := convert.String(cfg["newStatus"])
		if status == "" {
			status = in.Target.Status
		}
		return map[string]interface{}{types.MutationStatus: status}, nil
	case types.FunctionUpdateAssignee:
		return assignee(cfg, in.Env), nil
	case types.FunctionSetResolution:
		resolution := convert.String(cfg["resolution"])
		if resolution == "" {
			resolution = defaultResolution
		}
		return map[string]interface{}{types.MutationResolution: resolution}, nil
	case types.FunctionClearResolution:
		return map[string]interface{}{types.MutationResolution: nil}, nil
	case types.FunctionAddComment:
		return comment(cfg)
	case types.FunctionUpdateField:
		return fieldUpdates(cfg)
	case types.FunctionNotify, types.FunctionNotifyReviewer, types.FunctionNotifyReporter:
		return notification(fn.Kind, cfg, in.Env)
	case types.FunctionTriggerWebhook:
		return webhook(cfg, in)
	case types.FunctionScript:
		return e.script(cfg, in)
	default:
		return map[string]interface{}{}, nil
	}
}

func assignee(cfg map[string]interface{}, env types.Env) map[string]interface{} {
	switch {
	case convert.Bool(cfg["assignToCurrentUser"]):
		return map[string]interface{}{types.MutationAssignee: env.Actor.ID}
	case convert.Bool(cfg["assignToReporter"]):
		reporter := env.Record.String(types.FieldRequester)
		if reporter == "" {
			reporter = env.Record.String(types.FieldReporter)
		}
		return map[string]interface{}{types.MutationAssignee: reporter}
	case convert.String(cfg["assignTo"]) != "":
		return map[string]interface{}{types.MutationAssignee: convert.String(cfg["assignTo"])}
	case convert.Bool(cfg["unassign"]):
		return map[string]interface{}{types.MutationAssignee: nil}
	}
	return map[string]interface{}{}
}

// comment describes the comment to add. An empty comment yields an empty
// mutation rather than an error.
func comment(cfg map[string]interface{}) (map[string]interface{}, error) {
	text := convert.String(cfg["comment"])
	if text == "" {
		return map[string]interface{}{}, nil
	}
	visibility := convert.String(cfg["commentVisibility"])
	if visibility == "" {
		visibility = "public"
	}
	return map[string]interface{}{
		types.MutationComment: text,
		"commentVisibility":   visibility,
	}, nil
}

func fieldUpdates(cfg map[string]interface{}) (map[string]interface{}, error) {
	raw, ok := cfg["fieldUpdates"]
	if !ok || raw == nil {
		return map[string]interface{}{}, nil
	}
	updates, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w, got %T", ErrInvalidUpdates, raw)
	}
	out := make(map[string]interface{}, len(updates))
	for k, v := range updates {
		out[k] = v
	}
	return out, nil
}

// notification resolves recipients in order without duplicates. A
// notification nobody resolves to is still reported as sent with no recipients.
func notification(kind types.PostFunctionKind, cfg map[string]interface{}, env types.Env) (map[string]interface{}, error) {
	var recipients []string
	seen := make(map[string]bool)
	add := func(ids ...string) {
		for _, id := range ids {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			recipients = append(recipients, id)
		}
	}
	reporter := func() string {
		if r := env.Record.String(types.FieldRequester); r != "" {
			return r
		}
		return env.Record.String(types.FieldReporter)
	}

	switch kind {
	case types.FunctionNotifyReviewer:
		reviewer := convert.String(cfg["reviewer"])
		if reviewer == "" {
			reviewer = env.Record.String(types.FieldReviewer)
		}
		add(reviewer)
	case types.FunctionNotifyReporter:
		add(reporter())
	}
	add(convert.Strings(cfg["notifyUsers"])...)
	if convert.Bool(cfg["notifyAssignee"]) {
		add(env.Record.String(types.FieldAssignee))
	}
	if convert.Bool(cfg["notifyReporter"]) {
		add(reporter())
	}
	if convert.Bool(cfg["notifyActor"]) {
		add(env.Actor.ID)
	}
	if recipients == nil {
		recipients = []string{}
	}
	out := map[string]interface{}{
		types.MutationNotificationSent: true,
		"recipients":                   recipients,
	}
	roles := convert.Strings(cfg["notifyRoles"])
	if len(roles) > 0 {
		out["roles"] = roles
	}
	if tmpl := convert.String(cfg["emailTemplate"]); tmpl != "" {
		out["template"] = tmpl
	}
	return out, nil
}

func webhook(cfg map[string]interface{}, in Input) (map[string]interface{}, error) {
	raw := convert.String(cfg["webhookUrl"])
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWebhook, raw)
	}
	method := convert.String(cfg["method"])
	if method == "" {
		method = "POST"
	}

	payload := map[string]interface{}{}
	if custom, ok := cfg["webhookPayload"].(map[string]interface{}); ok {
		for k, v := range custom {
			payload[k] = v
		}
	} else {
		payload["targetStep"] = in.Target.ID
		payload["status"] = in.Target.Status
		payload["actorId"] = in.Env.Actor.ID
		payload["timestamp"] = in.Now.UTC().Format(time.RFC3339)
	}

	return map[string]interface{}{
		types.MutationWebhookTriggered: true,
		"url":                          u.String(),
		"method":                       method,
		"payload":                      payload,
	}, nil
}

func (e *Executor) script(cfg map[string]interface{}, in Input) (map[string]interface{}, error) {
	out, err := e.rules.Run(convert.String(cfg["functionScript"]), rules.NewEnv(in.Env, in.Now))
	if err != nil {
		return nil, fmt.Errorf("custom function: %w", err)
	}
	switch t := out.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return t, nil
	case bool:
		if !t {
			return nil, ErrScriptFalse
		}
		return map[string]interface{}{}, nil
	default:
		return nil, fmt.Errorf("%w, got %T", ErrScriptResult, out)
	}
}
