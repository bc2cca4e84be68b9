package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/transition-engine/clock"
	"github.com/songzhibin97/transition-engine/conditions"
	"github.com/songzhibin97/transition-engine/events"
	"github.com/songzhibin97/transition-engine/internal/convert"
	"github.com/songzhibin97/transition-engine/postfunctions"
	"github.com/songzhibin97/transition-engine/rules"
	"github.com/songzhibin97/transition-engine/types"
	"github.com/songzhibin97/transition-engine/validators"
)

// Standard error definitions
var (
	ErrStepNotFound       = errors.New("step not found")
	ErrActionNotFound     = errors.New("action not found")
	ErrTargetStepNotFound = errors.New("target step not found")
)

// Execution log actions.
const (
	LogTransitionStarted   = "Transition started"
	LogEvaluating          = "Evaluating transition"
	LogConditionsPassed    = "Conditions passed"
	LogConditionsFailed    = "Conditions failed"
	LogValidationSkipped   = "Validation skipped"
	LogValidationPassed    = "Validation passed"
	LogValidationFailed    = "Validation failed"
	LogPostFunction        = "Post-function"
	LogPostFunctionsSkip   = "Post-functions skipped"
	LogPostFunctionsDone   = "Post-functions executed"
	LogTransitionCompleted = "Transition completed"
	LogTransitionFailed    = "Transition failed"
)

// Engine drives one transition through conditions, validators and
// post-functions. It holds no per-call state and is safe for concurrent use.
type Engine struct {
	conditions *conditions.Evaluator
	validators *validators.Runner
	functions  *postfunctions.Executor
	rules      rules.Evaluator
	clock      clock.Clock
	logger     *slog.Logger
	generate   generator.Generator
	eventBus   *events.EventBus
	strict     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the clock used for log timestamps, time checks and durations.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithRules sets the script evaluator shared by all stages.
func WithRules(r rules.Evaluator) Option {
	return func(e *Engine) {
		if r != nil {
			e.rules = r
		}
	}
}

// WithStrictKinds makes unknown condition and validator kinds fail.
func WithStrictKinds(strict bool) Option {
	return func(e *Engine) {
		e.strict = strict
	}
}

// WithGenerator sets the execution id generator.
func WithGenerator(g generator.Generator) Option {
	return func(e *Engine) {
		e.generate = g
	}
}

// WithEventBus publishes transition events to eb.
func WithEventBus(eb *events.EventBus) Option {
	return func(e *Engine) {
		e.eventBus = eb
	}
}

// WithConditionEvaluator replaces the default condition evaluator.
func WithConditionEvaluator(c *conditions.Evaluator) Option {
	return func(e *Engine) {
		e.conditions = c
	}
}

// WithValidatorRunner replaces the default validator runner.
func WithValidatorRunner(r *validators.Runner) Option {
	return func(e *Engine) {
		e.validators = r
	}
}

// WithPostFunctionExecutor replaces the default post-function executor.
func WithPostFunctionExecutor(x *postfunctions.Executor) Option {
	return func(e *Engine) {
		e.functions = x
	}
}

// NewEngine creates an Engine. Stages not supplied through options are built
// from the shared rules evaluator, clock and strictness.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:  clock.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rules == nil {
		e.rules = rules.NewExprEvaluator()
	}
	if e.conditions == nil {
		e.conditions = conditions.NewEvaluator(
			conditions.WithRules(e.rules),
			conditions.WithClock(e.clock),
			conditions.WithStrictKinds(e.strict),
		)
	}
	if e.validators == nil {
		e.validators = validators.NewRunner(
			validators.WithRules(e.rules),
			validators.WithClock(e.clock),
			validators.WithStrictKinds(e.strict),
		)
	}
	if e.functions == nil {
		e.functions = postfunctions.NewExecutor(
			postfunctions.WithRules(e.rules),
			postfunctions.WithClock(e.clock),
		)
	}
	return e
}

// RegisterPostFunction installs a handler for a post-function kind.
func (e *Engine) RegisterPostFunction(kind types.PostFunctionKind, h postfunctions.Handler) error {
	return e.functions.RegisterHandler(kind, h)
}

// SubscribeEvent subscribes a handler to an event type and returns the
// subscription id for UnsubscribeEvent. Without an event bus it does nothing
// and returns 0.
func (e *Engine) SubscribeEvent(eventType string, handler events.EventHandler) uint64 {
	if e.eventBus == nil {
		return 0
	}
	return e.eventBus.Subscribe(eventType, handler)
}

// UnsubscribeEvent removes a subscription made with SubscribeEvent.
func (e *Engine) UnsubscribeEvent(eventType string, id uint64) bool {
	if e.eventBus == nil {
		return false
	}
	return e.eventBus.Unsubscribe(eventType, id)
}

// GenerateID returns a new execution id.
func (e *Engine) GenerateID() string {
	if e.generate != nil {
		id, err := e.generate.NextID()
		if err == nil {
			return strconv.FormatUint(id, 10)
		}
		e.logger.Warn("execution id generator failed, falling back to uuid", "error", err)
	}
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// execution accumulates the result of one ExecuteTransition call.
type execution struct {
	result *types.TransitionResult
	clock  clock.Clock
	start  time.Time
}

func (x *execution) log(action string, status types.LogStatus, message string, details map[string]interface{}) {
	x.result.Logs = append(x.result.Logs, types.LogEntry{
		Timestamp: x.clock.Now(),
		Action:    action,
		Status:    status,
		Message:   message,
		Details:   details,
	})
}

func (x *execution) fail(err error) {
	x.result.Success = false
	x.result.NewStepID = ""
	x.result.NewStatus = ""
	x.result.Errors = append(x.result.Errors, err.Error())
	x.result.Duration = x.clock.Now().Sub(x.start)
	x.log(LogTransitionFailed, types.LogFailed, err.Error(), map[string]interface{}{
		"error":       err.Error(),
		"duration_ms": x.result.Duration.Milliseconds(),
	})
}

// ExecuteTransition fires req.ActionID on a record sitting in req.CurrentStepID.
// It never mutates record and never panics; every outcome is reported in the
// returned result together with its execution log.
func (e *Engine) ExecuteTransition(ctx context.Context, req types.TransitionRequest, graph types.ProcessGraph, record types.Record, actor types.Actor) (result *types.TransitionResult) {
	x := &execution{
		result: &types.TransitionResult{ExecutionID: e.GenerateID(), Logs: []types.LogEntry{}},
		clock:  e.clock,
		start:  e.clock.Now(),
	}
	result = x.result
	logger := e.logger.With("execution_id", result.ExecutionID, "graph_id", graph.ID, "action_id", req.ActionID)

	var eventType string
	defer func() {
		if r := recover(); r != nil {
			logger.Error("transition panicked", "panic", r)
			x.fail(fmt.Errorf("transition panicked: %v", r))
			eventType = events.TypeTransitionFailed
		}
		e.publish(ctx, eventType, graph.ID, req, result)
	}()

	x.log(LogTransitionStarted, types.LogStarted, "", map[string]interface{}{
		"action":      req.ActionID,
		"currentStep": req.CurrentStepID,
	})

	current, action, target, err := resolve(graph, req)
	if err != nil {
		logger.Warn("transition configuration error", "error", err)
		x.fail(err)
		eventType = events.TypeTransitionFailed
		return result
	}

	x.log(LogEvaluating, types.LogStarted, action.Name, map[string]interface{}{
		"from": current.Name,
		"to":   target.Name,
	})

	execCtx := req.Context
	if execCtx == nil {
		execCtx = map[string]interface{}{}
	}
	env := types.Env{Record: record, Actor: actor, Context: execCtx}

	if err := ctx.Err(); err != nil {
		x.fail(err)
		eventType = events.TypeTransitionFailed
		return result
	}

	outcome := e.conditions.Evaluate(ctx, action.Conditions, env)
	if !outcome.Passed {
		result.Errors = outcome.Failures
		result.Duration = x.clock.Now().Sub(x.start)
		x.log(LogConditionsFailed, types.LogFailed, "", map[string]interface{}{"failures": outcome.Failures})
		x.log(LogValidationSkipped, types.LogSkipped, "", nil)
		x.log(LogPostFunctionsSkip, types.LogSkipped, "", nil)
		logger.Info("transition rejected by conditions", "failures", len(outcome.Failures))
		eventType = events.TypeTransitionRejected
		return result
	}
	x.log(LogConditionsPassed, types.LogCompleted, "", nil)

	if err := ctx.Err(); err != nil {
		x.fail(err)
		eventType = events.TypeTransitionFailed
		return result
	}

	if verrs := e.validators.Run(ctx, action.Validators, env); len(verrs) > 0 {
		result.ValidationErrors = verrs
		result.Duration = x.clock.Now().Sub(x.start)
		x.log(LogValidationFailed, types.LogFailed, "", map[string]interface{}{"errors": verrs})
		x.log(LogPostFunctionsSkip, types.LogSkipped, "", nil)
		logger.Info("transition rejected by validators", "errors", len(verrs))
		eventType = events.TypeTransitionRejected
		return result
	}
	x.log(LogValidationPassed, types.LogCompleted, "", nil)

	if err := ctx.Err(); err != nil {
		x.fail(err)
		eventType = events.TypeTransitionFailed
		return result
	}

	results := e.functions.Execute(ctx, action.PostFunctions, env, target)
	failed := 0
	for _, r := range results {
		details := map[string]interface{}{"order": r.Order}
		if r.Failed() {
			failed++
			details["error"] = r.Error
			x.log(LogPostFunction, types.LogFailed, string(r.Function), details)
			logger.Warn("post-function failed", "function", r.Function, "error", r.Error)
			continue
		}
		x.log(LogPostFunction, types.LogCompleted, string(r.Function), details)
	}
	result.PostFunctionResults = results
	x.log(LogPostFunctionsDone, types.LogCompleted, "", map[string]interface{}{
		"count":  len(results),
		"failed": failed,
	})

	result.Success = true
	result.NewStepID = target.ID
	result.NewStatus = target.Status
	result.Duration = x.clock.Now().Sub(x.start)
	x.log(LogTransitionCompleted, types.LogCompleted, "", map[string]interface{}{
		"duration_ms": result.Duration.Milliseconds(),
		"newStep":     target.Name,
		"newStatus":   target.Status,
	})
	logger.Info("transition completed", "new_step", target.ID, "post_function_failures", failed)
	eventType = events.TypeTransitionCompleted
	return result
}

// publish sends the outcome event and one delivery request per successful
// notification or webhook post-function. Nobody listening is not an error.
// Event data never shares slices or maps with result.
func (e *Engine) publish(ctx context.Context, eventType, graphID string, req types.TransitionRequest, result *types.TransitionResult) {
	if e.eventBus == nil || eventType == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)

	data := map[string]interface{}{
		"graph_id":  graphID,
		"from_step": req.CurrentStepID,
		"action_id": req.ActionID,
		"success":   result.Success,
	}
	switch eventType {
	case events.TypeTransitionCompleted:
		data["new_step"] = result.NewStepID
		data["new_status"] = result.NewStatus
		data["mutations"] = convert.CloneMap(types.MergeMutations(result.PostFunctionResults))
	case events.TypeTransitionRejected:
		data["errors"] = append([]string(nil), result.Errors...)
		data["validation_errors"] = append([]types.ValidationError(nil), result.ValidationErrors...)
	case events.TypeTransitionFailed:
		data["errors"] = append([]string(nil), result.Errors...)
	}
	now := e.clock.Now()
	e.send(ctx, events.Event{Type: eventType, ExecutionID: result.ExecutionID, GraphID: graphID, OccurredAt: now, Data: data})

	if !result.Success {
		return
	}
	for _, r := range result.PostFunctionResults {
		if r.Failed() {
			continue
		}
		var t string
		switch {
		case r.Function.IsNotification():
			t = events.TypeNotificationRequested
		case r.Function == types.FunctionTriggerWebhook:
			t = events.TypeWebhookRequested
		default:
			continue
		}
		payload := convert.CloneMap(r.Mutation)
		if payload == nil {
			payload = make(map[string]interface{}, 2)
		}
		payload["function"] = string(r.Function)
		payload["graph_id"] = graphID
		ev := events.Event{Type: t, ExecutionID: result.ExecutionID, GraphID: graphID, OccurredAt: now, Data: payload}
		if n, ok := ev.Notification(); ok && len(n.Recipients) == 0 && len(n.Roles) == 0 {
			// nobody to address
			continue
		}
		e.send(ctx, ev)
	}
}

func (e *Engine) send(ctx context.Context, ev events.Event) {
	if err := e.eventBus.Publish(ctx, ev); err != nil && !errors.Is(err, events.ErrNoHandler) {
		e.logger.Warn("failed to publish event", "type", ev.Type, "execution_id", ev.ExecutionID, "error", err)
	}
}
