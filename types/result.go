package types

import "time"

// LogStatus is the outcome recorded for one stage of a transition.
type LogStatus string

const (
	LogStarted   LogStatus = "started"
	LogCompleted LogStatus = "completed"
	LogFailed    LogStatus = "failed"
	LogSkipped   LogStatus = "skipped"
)

// LogEntry is one timestamped line of the execution log.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	Status    LogStatus              `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ValidationError is a field addressable validator failure.
type ValidationError struct {
	Field     string `json:"field,omitempty"`
	Validator string `json:"validator"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
}

// PostFunctionResult describes what one post-function computed. Exactly one of
// Mutation and Error is meaningful.
type PostFunctionResult struct {
	Function PostFunctionKind       `json:"function"`
	Order    int                    `json:"order"`
	Mutation map[string]interface{} `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Failed reports whether the function errored.
func (r PostFunctionResult) Failed() bool {
	return r.Error != ""
}

// TransitionResult is the sole output of a transition call.
type TransitionResult struct {
	ExecutionID         string               `json:"execution_id"`
	Success             bool                 `json:"success"`
	NewStepID           string               `json:"new_step_id,omitempty"`
	NewStatus           string               `json:"new_status,omitempty"`
	Errors              []string             `json:"errors,omitempty"`
	ValidationErrors    []ValidationError    `json:"validation_errors,omitempty"`
	PostFunctionResults []PostFunctionResult `json:"post_function_results,omitempty"`
	Logs                []LogEntry           `json:"logs"`
	Duration            time.Duration        `json:"duration"`
}

// Mutation keys produced by the built-in post-functions.
const (
	MutationStatus           = "status"
	MutationAssignee         = "assigneeId"
	MutationResolution       = "resolution"
	MutationComment          = "comment"
	MutationNotificationSent = "notificationSent"
	MutationWebhookTriggered = "webhookTriggered"
)

// effectKinds compute descriptors of effects rather than record fields.
var effectKinds = map[PostFunctionKind]bool{
	FunctionAddComment:     true,
	FunctionNotify:         true,
	FunctionNotifyReviewer: true,
	FunctionNotifyReporter: true,
	FunctionTriggerWebhook: true,
}

// MergeMutations flattens the field level mutations of the successful results
// in execution order. Later functions win on conflicting keys. Comment,
// notification and webhook descriptors are not record fields and are left out.
func MergeMutations(results []PostFunctionResult) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, r := range results {
		if r.Failed() || effectKinds[r.Function] {
			continue
		}
		for k, v := range r.Mutation {
			merged[k] = v
		}
	}
	return merged
}
