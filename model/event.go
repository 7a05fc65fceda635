package model

import (
	"github.com/google/uuid"
)

// Internal control event names. Everything else is treated as an external
// event exchanged with collaborators.
const START_FLOW_EVENT string = "StartFlow"
const STOP_FLOW_EVENT string = "StopFlow"
const FINISH_FLOW_EVENT string = "FinishFlow"
const FLOW_STARTED_EVENT string = "FlowStarted"
const FLOW_FINISHED_EVENT string = "FlowFinished"
const FLOW_FAILED_EVENT string = "FlowFailed"
const UNHANDLED_EVENT string = "UnhandledEvent"
const EXECUTION_ERROR_EVENT string = "ExecutionError"

// Well known parameter keys on control events.
const PARAM_FLOW_ID string = "flow_id"
const PARAM_INSTANCE_UID string = "flow_instance_uid"
const PARAM_ACTION_UID string = "action_uid"
const PARAM_PARENT_UID string = "parent_uid"
const PARAM_PARAMS string = "params"
const PARAM_RETURN_VALUE string = "return_value"
const PARAM_REASON string = "reason"
const PARAM_ACTIVATED string = "activated"
const PARAM_ERROR_TYPE string = "error_type"
const PARAM_EVENT_NAME string = "event"

// Event is the unit of communication between the runtime, its flow instances
// and external collaborators. Identity is a flat (name, parameter-map) tuple;
// once constructed an event is treated as immutable.
type Event struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
	UID    string         `json:"uid,omitempty"`
	Source string         `json:"source,omitempty"`
}

func NewEvent(name string, params map[string]any) Event {
	if params == nil {
		params = map[string]any{}
	}
	return Event{
		Name:   name,
		Params: params,
		UID:    uuid.New().String(),
	}
}

func (e Event) Param(name string) (any, bool) {
	v, ok := e.Params[name]
	return v, ok
}

func (e Event) StringParam(name string) string {
	if v, ok := e.Params[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (e Event) IsControl() bool {
	switch e.Name {
	case START_FLOW_EVENT, STOP_FLOW_EVENT, FINISH_FLOW_EVENT:
		return true
	}
	return false
}

func NewStartFlowEvent(flowName string, params map[string]any, parentUID string, activated bool) Event {
	return NewEvent(START_FLOW_EVENT, map[string]any{
		PARAM_FLOW_ID:    flowName,
		PARAM_PARAMS:     params,
		PARAM_PARENT_UID: parentUID,
		PARAM_ACTIVATED:  activated,
	})
}

func NewFlowStartedEvent(flowName string, instanceUID string) Event {
	return NewEvent(FLOW_STARTED_EVENT, map[string]any{
		PARAM_FLOW_ID:      flowName,
		PARAM_INSTANCE_UID: instanceUID,
	})
}

func NewFlowFinishedEvent(flowName string, instanceUID string, returnValue any) Event {
	return NewEvent(FLOW_FINISHED_EVENT, map[string]any{
		PARAM_FLOW_ID:      flowName,
		PARAM_INSTANCE_UID: instanceUID,
		PARAM_RETURN_VALUE: returnValue,
	})
}

func NewFlowFailedEvent(flowName string, instanceUID string, reason string) Event {
	return NewEvent(FLOW_FAILED_EVENT, map[string]any{
		PARAM_FLOW_ID:      flowName,
		PARAM_INSTANCE_UID: instanceUID,
		PARAM_REASON:       reason,
	})
}

func NewUnhandledEvent(original Event, reason string) Event {
	return NewEvent(UNHANDLED_EVENT, map[string]any{
		PARAM_EVENT_NAME: original.Name,
		PARAM_PARAMS:     original.Params,
		PARAM_REASON:     reason,
	})
}

func NewExecutionErrorEvent(errorType string, message string, instanceUID string) Event {
	return NewEvent(EXECUTION_ERROR_EVENT, map[string]any{
		PARAM_ERROR_TYPE:   errorType,
		PARAM_REASON:       message,
		PARAM_INSTANCE_UID: instanceUID,
	})
}

// Action protocol event names, correlated by the action_uid parameter.
func StartActionEvent(actionName string) string {
	return "Start" + actionName + "Action"
}

func StopActionEvent(actionName string) string {
	return "Stop" + actionName + "Action"
}

func ActionStartedEvent(actionName string) string {
	return actionName + "ActionStarted"
}

func ActionFinishedEvent(actionName string) string {
	return actionName + "ActionFinished"
}
