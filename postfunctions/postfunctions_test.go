package postfunctions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/songzhibin97/transition-engine/clock"
	"github.com/songzhibin97/transition-engine/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 9, 24, 12, 0, 0, 0, time.UTC)

var resolvedStep = types.Step{ID: "resolved_step", Name: "Resolved", Status: "resolved"}

func newTestExecutor() *Executor {
	return NewExecutor(WithClock(clock.NewFixedClock(testNow)))
}

func testEnv() types.Env {
	return types.Env{
		Record: types.Record{
			"assignee_id":  "agent-1",
			"requester_id": "customer-1",
			"reviewerId":   "lead-1",
		},
		Actor:   types.Actor{ID: "agent-2"},
		Context: map[string]interface{}{},
	}
}

func TestBuiltinFunctions(t *testing.T) {
	e := newTestExecutor()

	tests := []struct {
		name string
		fn   types.PostFunction
		want map[string]interface{}
	}{
		{"status from target", types.PostFunction{Kind: types.FunctionUpdateStatus}, map[string]interface{}{"status": "resolved"}},
		{"status override", types.PostFunction{Kind: types.FunctionUpdateStatus, Config: map[string]interface{}{"newStatus": "done"}}, map[string]interface{}{"status": "done"}},
		{"assign to current user", types.PostFunction{Kind: types.FunctionUpdateAssignee, Config: map[string]interface{}{"assignToCurrentUser": true}}, map[string]interface{}{"assigneeId": "agent-2"}},
		{"assign to reporter", types.PostFunction{Kind: types.FunctionUpdateAssignee, Config: map[string]interface{}{"assignToReporter": true}}, map[string]interface{}{"assigneeId": "customer-1"}},
		{"assign to user", types.PostFunction{Kind: types.FunctionUpdateAssignee, Config: map[string]interface{}{"assignTo": "lead-1"}}, map[string]interface{}{"assigneeId": "lead-1"}},
		{"unassign", types.PostFunction{Kind: types.FunctionUpdateAssignee, Config: map[string]interface{}{"unassign": true}}, map[string]interface{}{"assigneeId": nil}},
		{"assignee unconfigured", types.PostFunction{Kind: types.FunctionUpdateAssignee}, map[string]interface{}{}},
		{"set resolution default", types.PostFunction{Kind: types.FunctionSetResolution}, map[string]interface{}{"resolution": "done"}},
		{"set resolution", types.PostFunction{Kind: types.FunctionSetResolution, Config: map[string]interface{}{"resolution": "fixed"}}, map[string]interface{}{"resolution": "fixed"}},
		{"clear resolution", types.PostFunction{Kind: types.FunctionClearResolution}, map[string]interface{}{"resolution": nil}},
		{"comment", types.PostFunction{Kind: types.FunctionAddComment, Config: map[string]interface{}{"comment": "Resolved by automation", "commentVisibility": "internal"}}, map[string]interface{}{"comment": "Resolved by automation", "commentVisibility": "internal"}},
		{"field updates", types.PostFunction{Kind: types.FunctionUpdateField, Config: map[string]interface{}{"fieldUpdates": map[string]interface{}{"priority": 1}}}, map[string]interface{}{"priority": 1}},
		{"notify reviewer", types.PostFunction{Kind: types.FunctionNotifyReviewer}, map[string]interface{}{"notificationSent": true, "recipients": []string{"lead-1"}}},
		{"notify reporter", types.PostFunction{Kind: types.FunctionNotifyReporter, Config: map[string]interface{}{"emailTemplate": "resolved"}}, map[string]interface{}{"notificationSent": true, "recipients": []string{"customer-1"}, "template": "resolved"}},
		{"notify users", types.PostFunction{Kind: types.FunctionNotify, Config: map[string]interface{}{"notifyUsers": []interface{}{"ops-1"}, "notifyAssignee": true, "notifyActor": true}}, map[string]interface{}{"notificationSent": true, "recipients": []string{"ops-1", "agent-1", "agent-2"}}},
		{"notify roles only", types.PostFunction{Kind: types.FunctionNotify, Config: map[string]interface{}{"notifyRoles": []interface{}{"manager"}}}, map[string]interface{}{"notificationSent": true, "recipients": []string{}, "roles": []string{"manager"}}},
		{"notify nobody", types.PostFunction{Kind: types.FunctionNotify}, map[string]interface{}{"notificationSent": true, "recipients": []string{}}},
		{"empty comment", types.PostFunction{Kind: types.FunctionAddComment}, map[string]interface{}{}},
		{"script map", types.PostFunction{Kind: types.FunctionScript, Config: map[string]interface{}{"functionScript": `{"escalated": record.reviewerId != ""}`}}, map[string]interface{}{"escalated": true}},
		{"unknown kind", types.PostFunction{Kind: "jira.mystery.function"}, map[string]interface{}{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ExecuteOne(context.Background(), tt.fn, Input{Env: testEnv(), Target: resolvedStep, Now: testNow})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWebhook(t *testing.T) {
	e := newTestExecutor()

	got, err := e.ExecuteOne(context.Background(), types.PostFunction{
		Kind:   types.FunctionTriggerWebhook,
		Config: map[string]interface{}{"webhookUrl": "https://hooks.example.com/tickets"},
	}, Input{Env: testEnv(), Target: resolvedStep, Now: testNow})
	require.NoError(t, err)
	assert.Equal(t, true, got["webhookTriggered"])
	assert.Equal(t, "https://hooks.example.com/tickets", got["url"])
	assert.Equal(t, "POST", got["method"])
	assert.Equal(t, map[string]interface{}{
		"targetStep": "resolved_step",
		"status":     "resolved",
		"actorId":    "agent-2",
		"timestamp":  "2025-09-24T12:00:00Z",
	}, got["payload"])

	got, err = e.ExecuteOne(context.Background(), types.PostFunction{
		Kind: types.FunctionTriggerWebhook,
		Config: map[string]interface{}{
			"webhookUrl":     "http://hooks.example.com/x",
			"webhookPayload": map[string]interface{}{"event": "resolved"},
		},
	}, Input{Env: testEnv(), Target: resolvedStep, Now: testNow})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"event": "resolved"}, got["payload"])
}

func TestFunctionErrors(t *testing.T) {
	e := newTestExecutor()
	in := Input{Env: testEnv(), Target: resolvedStep, Now: testNow}

	tests := []struct {
		name    string
		fn      types.PostFunction
		wantErr error
	}{
		{"bad updates", types.PostFunction{Kind: types.FunctionUpdateField, Config: map[string]interface{}{"fieldUpdates": "priority=1"}}, ErrInvalidUpdates},
		{"missing webhook", types.PostFunction{Kind: types.FunctionTriggerWebhook}, ErrInvalidWebhook},
		{"relative webhook", types.PostFunction{Kind: types.FunctionTriggerWebhook, Config: map[string]interface{}{"webhookUrl": "/hooks"}}, ErrInvalidWebhook},
		{"script false", types.PostFunction{Kind: types.FunctionScript, Config: map[string]interface{}{"functionScript": "1 > 2"}}, ErrScriptFalse},
		{"script string", types.PostFunction{Kind: types.FunctionScript, Config: map[string]interface{}{"functionScript": `"text"`}}, ErrScriptResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ExecuteOne(context.Background(), tt.fn, in)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
		})
	}
}

func TestExecuteOrderAndIsolation(t *testing.T) {
	e := newTestExecutor()

	var calls []string
	record := func(name string, err error) Handler {
		return HandlerFunc(func(ctx context.Context, fn types.PostFunction, in Input) (map[string]interface{}, error) {
			calls = append(calls, name+":"+fn.ID)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"by": fn.ID}, nil
		})
	}
	require.NoError(t, e.RegisterHandler("test.ok", record("ok", nil)))
	require.NoError(t, e.RegisterHandler("test.fail", record("fail", errors.New("smtp down"))))
	require.NoError(t, e.RegisterHandler("test.panic", HandlerFunc(func(ctx context.Context, fn types.PostFunction, in Input) (map[string]interface{}, error) {
		calls = append(calls, "panic:"+fn.ID)
		panic("boom")
	})))

	fns := []types.PostFunction{
		{ID: "c", Kind: "test.ok", Order: 3},
		{ID: "a1", Kind: "test.fail", Order: 1},
		{ID: "b", Kind: "test.panic", Order: 2},
		{ID: "a2", Kind: "test.ok", Order: 1},
	}

	results := e.Execute(context.Background(), fns, testEnv(), resolvedStep)
	assert.Equal(t, []string{"fail:a1", "ok:a2", "panic:b", "ok:c"}, calls)
	require.Len(t, results, 4)
	assert.Equal(t, "smtp down", results[0].Error)
	assert.Equal(t, map[string]interface{}{"by": "a2"}, results[1].Mutation)
	assert.Contains(t, results[2].Error, "panicked: boom")
	assert.False(t, results[3].Failed())
	assert.Equal(t, 3, results[3].Order)
}

func TestRegisterHandlerValidation(t *testing.T) {
	e := newTestExecutor()
	assert.ErrorIs(t, e.RegisterHandler("", HandlerFunc(nil)), ErrHandlerRequired)
	assert.ErrorIs(t, e.RegisterHandler("x", nil), ErrHandlerRequired)
}

func TestSortedDoesNotMutate(t *testing.T) {
	fns := []types.PostFunction{{ID: "b", Order: 2}, {ID: "a", Order: 1}}
	sorted := Sorted(fns)
	assert.Equal(t, "a", sorted[0].ID)
	assert.Equal(t, "b", fns[0].ID)
}

func TestMergeMutations(t *testing.T) {
	e := newTestExecutor()
	results := e.Execute(context.Background(), []types.PostFunction{
		{Kind: types.FunctionUpdateStatus, Order: 1},
		{Kind: types.FunctionSetResolution, Order: 2, Config: map[string]interface{}{"resolution": "fixed"}},
		{Kind: types.FunctionAddComment, Order: 3, Config: map[string]interface{}{"comment": "done"}},
		{Kind: types.FunctionNotifyReporter, Order: 4},
		{Kind: types.FunctionUpdateField, Order: 5, Config: map[string]interface{}{"fieldUpdates": map[string]interface{}{"status": "closed"}}},
		{Kind: types.FunctionTriggerWebhook, Order: 6},
	}, testEnv(), resolvedStep)

	assert.Equal(t, map[string]interface{}{
		"status":     "closed",
		"resolution": "fixed",
	}, types.MergeMutations(results))
}
