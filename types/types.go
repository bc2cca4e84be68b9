package types

// ProcessGraph defines the structure of a workflow: its steps and the actions between them.
// Keys follow the definition documents produced by the workflow editor.
type ProcessGraph struct {
	ID            string                 `json:"id" yaml:"id"`
	Name          string                 `json:"name" yaml:"name"`
	Description   string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Version       int64                  `json:"version" yaml:"version"`
	Meta          map[string]interface{} `json:"meta,omitempty" yaml:"meta,omitempty"`
	InitialStepID string                 `json:"initialStepId" yaml:"initialStepId"`
	Steps         []Step                 `json:"steps" yaml:"steps"`
	Variables     map[string]interface{} `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// Position is where the editor draws a step. The engine ignores it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Step represents a state in the graph. A step without actions is terminal.
type Step struct {
	ID         string                 `json:"id" yaml:"id"`
	Name       string                 `json:"name" yaml:"name"`
	Status     string                 `json:"status" yaml:"status"`
	Category   string                 `json:"category,omitempty" yaml:"category,omitempty"` // "New", "In Progress", "Review", "Complete", "Blocked", "Cancelled"
	Type       string                 `json:"type,omitempty" yaml:"type,omitempty"`         // "start", "intermediate", "end"
	Position   *Position              `json:"position,omitempty" yaml:"position,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty" yaml:"properties,omitempty"`
	Actions    []Action               `json:"actions" yaml:"actions"`
}

// Terminal reports whether no action leaves the step.
func (s Step) Terminal() bool {
	return len(s.Actions) == 0
}

// Action defines a guarded transition from the owning step to the step identified by To.
// From and View are editor hints; the owning step is authoritative.
type Action struct {
	ID            string                 `json:"id" yaml:"id"`
	Name          string                 `json:"name" yaml:"name"`
	View          string                 `json:"view,omitempty" yaml:"view,omitempty"`
	From          string                 `json:"from,omitempty" yaml:"from,omitempty"`
	To            string                 `json:"to" yaml:"to"`
	Conditions    []Condition            `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Validators    []Validator            `json:"validators,omitempty" yaml:"validators,omitempty"`
	PostFunctions []PostFunction         `json:"postFunctions,omitempty" yaml:"postFunctions,omitempty"`
	Properties    map[string]interface{} `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Condition guards an action. Negate inverts the evaluated result. Operator is
// kept for round trips only: conditions of an action are always combined with AND.
type Condition struct {
	ID       string                 `json:"id,omitempty" yaml:"id,omitempty"`
	Kind     ConditionKind          `json:"type" yaml:"type"`
	Config   map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Operator string                 `json:"operator,omitempty" yaml:"operator,omitempty"`
	Negate   bool                   `json:"negate,omitempty" yaml:"negate,omitempty"`
}

// Validator checks the data supplied for a transition and reports field level errors.
type Validator struct {
	ID           string                 `json:"id,omitempty" yaml:"id,omitempty"`
	Kind         ValidatorKind          `json:"type" yaml:"type"`
	Config       map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
}

// PostFunction computes a side effect of an approved transition. Functions run in
// ascending Order; ties keep authoring order.
type PostFunction struct {
	ID     string                 `json:"id,omitempty" yaml:"id,omitempty"`
	Kind   PostFunctionKind       `json:"type" yaml:"type"`
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Order  int                    `json:"order,omitempty" yaml:"order,omitempty"`
}

// FindStep returns the step with the given id.
func (g ProcessGraph) FindStep(id string) (Step, bool) {
	for _, s := range g.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// FindAction returns the action with the given id among the step's actions.
func (s Step) FindAction(id string) (Action, bool) {
	for _, a := range s.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// TransitionRequest asks to fire ActionID on a record sitting in CurrentStepID.
type TransitionRequest struct {
	CurrentStepID string                 `json:"current_step_id"`
	ActionID      string                 `json:"action_id"`
	Context       map[string]interface{} `json:"context,omitempty"`
}
