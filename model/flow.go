package model

// Statement types as produced by the upstream flow definition parser.
const STATEMENT_MATCH string = "match"
const STATEMENT_SEND string = "send"
const STATEMENT_START string = "start"
const STATEMENT_AWAIT string = "await"
const STATEMENT_ACTIVATE string = "activate"
const STATEMENT_DEACTIVATE string = "deactivate"
const STATEMENT_ASSIGN string = "assign"
const STATEMENT_RETURN string = "return"
const STATEMENT_ABORT string = "abort"
const STATEMENT_LABEL string = "label"
const STATEMENT_GROUP string = "group"

const GROUP_AND string = "and"
const GROUP_OR string = "or"

// Label understood by the lifecycle manager for mid-life restarts of
// activated flows.
const LABEL_START_NEW_INSTANCE string = "start_new_flow_instance"

// FlowDef is the serialized form of a flow template as emitted by the
// external parser. The runtime never parses flow source text.
type FlowDef struct {
	Name     string         `json:"name" yaml:"name"`
	Params   []ParamDef     `json:"params,omitempty" yaml:"params,omitempty"`
	Loop     *LoopDef       `json:"loop,omitempty" yaml:"loop,omitempty"`
	Active   bool           `json:"active,omitempty" yaml:"active,omitempty"`
	Priority float64        `json:"priority,omitempty" yaml:"priority,omitempty"`
	Body     []StatementDef `json:"body" yaml:"body"`
}

type ParamDef struct {
	Name    string `json:"name" yaml:"name"`
	Default *any   `json:"default,omitempty" yaml:"default,omitempty"`
}

// LoopDef declares an interaction loop membership. Flows without one inherit
// the loop of their parent instance.
type LoopDef struct {
	Name     string `json:"name" yaml:"name"`
	Priority int    `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// EventDef describes an event to match or to send. For match statements the
// parameter values are patterns (literals, $regex / $set operator maps, lists
// matched as prefixes, maps matched by key); for send statements they are
// expressions resolved against the instance scope.
type EventDef struct {
	Name   string         `json:"name" yaml:"name"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

type StatementDef struct {
	Type     string           `json:"type" yaml:"type"`
	Event    *EventDef        `json:"event,omitempty" yaml:"event,omitempty"`
	Flow     string           `json:"flow,omitempty" yaml:"flow,omitempty"`
	Action   string           `json:"action,omitempty" yaml:"action,omitempty"`
	Args     map[string]any   `json:"args,omitempty" yaml:"args,omitempty"`
	As       string           `json:"as,omitempty" yaml:"as,omitempty"`
	Var      string           `json:"var,omitempty" yaml:"var,omitempty"`
	Expr     string           `json:"expr,omitempty" yaml:"expr,omitempty"`
	Global   bool             `json:"global,omitempty" yaml:"global,omitempty"`
	Value    string           `json:"value,omitempty" yaml:"value,omitempty"`
	Label    string           `json:"label,omitempty" yaml:"label,omitempty"`
	Op       string           `json:"op,omitempty" yaml:"op,omitempty"`
	Branches [][]StatementDef `json:"branches,omitempty" yaml:"branches,omitempty"`
}
