package workflow

import (
	"context"
	"fmt"

	"github.com/songzhibin97/transition-engine/types"
)

// resolve finds the current step, the requested action and its target step.
func resolve(graph types.ProcessGraph, req types.TransitionRequest) (types.Step, types.Action, types.Step, error) {
	current, ok := graph.FindStep(req.CurrentStepID)
	if !ok {
		return types.Step{}, types.Action{}, types.Step{}, fmt.Errorf("%w: current step %s", ErrStepNotFound, req.CurrentStepID)
	}
	action, ok := current.FindAction(req.ActionID)
	if !ok {
		return types.Step{}, types.Action{}, types.Step{}, fmt.Errorf("%w: action %s in step %s", ErrActionNotFound, req.ActionID, req.CurrentStepID)
	}
	target, ok := graph.FindStep(action.To)
	if !ok {
		return types.Step{}, types.Action{}, types.Step{}, fmt.Errorf("%w: %s", ErrTargetStepNotFound, action.To)
	}
	return current, action, target, nil
}

// AvailableTransitions returns the actions leaving stepID without checking
// any condition. An unknown step has none.
func (e *Engine) AvailableTransitions(graph types.ProcessGraph, stepID string) []types.Action {
	step, ok := graph.FindStep(stepID)
	if !ok {
		return nil
	}
	return step.Actions
}

// PermittedTransitions returns the actions leaving stepID whose conditions
// all pass for the record and actor. Validators are not run.
func (e *Engine) PermittedTransitions(ctx context.Context, graph types.ProcessGraph, stepID string, record types.Record, actor types.Actor, execCtx map[string]interface{}) []types.Action {
	if execCtx == nil {
		execCtx = map[string]interface{}{}
	}
	env := types.Env{Record: record, Actor: actor, Context: execCtx}
	var permitted []types.Action
	for _, a := range e.AvailableTransitions(graph, stepID) {
		if ctx.Err() != nil {
			break
		}
		if e.conditions.Evaluate(ctx, a.Conditions, env).Passed {
			permitted = append(permitted, a)
		}
	}
	return permitted
}
