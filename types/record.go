package types

// Record is the caller's snapshot of the business entity. The engine only reads it.
type Record map[string]interface{}

// Well-known record fields.
const (
	FieldAssignee  = "assigneeId"
	FieldRequester = "requesterId"
	FieldReporter  = "reporterId"
	FieldReviewer  = "reviewerId"
	FieldCreatedAt = "createdAt"
	FieldStatus    = "status"
)

var fieldAliases = map[string]string{
	FieldAssignee:  "assignee_id",
	FieldRequester: "requester_id",
	FieldReporter:  "reporter_id",
	FieldReviewer:  "reviewer_id",
	FieldCreatedAt: "created_at",
}

// Get returns the value of field, falling back to the snake_case spelling of
// the well-known fields.
func (r Record) Get(field string) (interface{}, bool) {
	if v, ok := r[field]; ok {
		return v, true
	}
	if alias, ok := fieldAliases[field]; ok {
		v, ok := r[alias]
		return v, ok
	}
	return nil, false
}

// String returns field as a string, or "" when absent or not a string.
func (r Record) String(field string) string {
	v, _ := r.Get(field)
	s, _ := v.(string)
	return s
}

// Actor is the user requesting the transition.
type Actor struct {
	ID          string   `json:"id" yaml:"id"`
	Roles       []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// HasRole reports whether the actor holds role.
func (a Actor) HasRole(role string) bool {
	return contains(a.Roles, role)
}

// HasPermission reports whether the actor holds permission.
func (a Actor) HasPermission(permission string) bool {
	return contains(a.Permissions, permission)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Env bundles the inputs every condition, validator and post-function sees.
type Env struct {
	Record  Record
	Actor   Actor
	Context map[string]interface{}
}

// Lookup returns field from the record, or from the execution context when the
// record value is empty.
func (e Env) Lookup(field string) interface{} {
	if v, ok := e.Record.Get(field); ok && !IsEmpty(v) {
		return v
	}
	if v, ok := e.Context[field]; ok {
		return v
	}
	return nil
}

// IsEmpty reports whether v is nil or the empty string.
func IsEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}
