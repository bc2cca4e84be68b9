package types

// ConditionKind enumerates the supported condition types.
type ConditionKind string

const (
	ConditionPermission    ConditionKind = "jira.permission.condition"
	ConditionFieldRequired ConditionKind = "jira.field.required"
	ConditionUser          ConditionKind = "jira.user.condition"
	ConditionRole          ConditionKind = "jira.role.condition"
	ConditionFieldValue    ConditionKind = "jira.field.value"
	ConditionFieldCompare  ConditionKind = "jira.field.comparison"
	ConditionTime          ConditionKind = "jira.time.condition"
	ConditionScript        ConditionKind = "custom.script"
)

// ConditionKinds lists every known condition kind.
var ConditionKinds = []ConditionKind{
	ConditionPermission,
	ConditionFieldRequired,
	ConditionUser,
	ConditionRole,
	ConditionFieldValue,
	ConditionFieldCompare,
	ConditionTime,
	ConditionScript,
}

// Valid reports whether k is a known condition kind.
func (k ConditionKind) Valid() bool {
	for _, known := range ConditionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ValidatorKind enumerates the supported validator types.
type ValidatorKind string

const (
	ValidatorField      ValidatorKind = "jira.field.validator"
	ValidatorPermission ValidatorKind = "jira.permission.validator"
	ValidatorRegex      ValidatorKind = "jira.regex.validator"
	ValidatorDate       ValidatorKind = "jira.date.validator"
	ValidatorUser       ValidatorKind = "jira.user.validator"
	ValidatorScript     ValidatorKind = "custom.validator"
)

// ValidatorKinds lists every known validator kind.
var ValidatorKinds = []ValidatorKind{
	ValidatorField,
	ValidatorPermission,
	ValidatorRegex,
	ValidatorDate,
	ValidatorUser,
	ValidatorScript,
}

// Valid reports whether k is a known validator kind.
func (k ValidatorKind) Valid() bool {
	for _, known := range ValidatorKinds {
		if k == known {
			return true
		}
	}
	return false
}

// PostFunctionKind enumerates the supported post-function types.
type PostFunctionKind string

const (
	FunctionUpdateStatus    PostFunctionKind = "jira.update.status.function"
	FunctionUpdateAssignee  PostFunctionKind = "jira.update.assignee.function"
	FunctionSetResolution   PostFunctionKind = "jira.set.resolution.function"
	FunctionClearResolution PostFunctionKind = "jira.clear.resolution.function"
	FunctionAddComment      PostFunctionKind = "jira.add.comment.function"
	FunctionUpdateField     PostFunctionKind = "jira.update.field.function"
	FunctionNotify          PostFunctionKind = "jira.notify.function"
	FunctionNotifyReviewer  PostFunctionKind = "jira.notify.reviewer.function"
	FunctionNotifyReporter  PostFunctionKind = "jira.notify.reporter.function"
	FunctionTriggerWebhook  PostFunctionKind = "jira.trigger.webhook.function"
	FunctionScript          PostFunctionKind = "custom.function"
)

// PostFunctionKinds lists every known post-function kind.
var PostFunctionKinds = []PostFunctionKind{
	FunctionUpdateStatus,
	FunctionUpdateAssignee,
	FunctionSetResolution,
	FunctionClearResolution,
	FunctionAddComment,
	FunctionUpdateField,
	FunctionNotify,
	FunctionNotifyReviewer,
	FunctionNotifyReporter,
	FunctionTriggerWebhook,
	FunctionScript,
}

// Valid reports whether k is a known post-function kind.
func (k PostFunctionKind) Valid() bool {
	for _, known := range PostFunctionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsNotification reports whether k computes a notification descriptor.
func (k PostFunctionKind) IsNotification() bool {
	return k == FunctionNotify || k == FunctionNotifyReviewer || k == FunctionNotifyReporter
}
