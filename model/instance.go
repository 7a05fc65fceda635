package model

type FlowStatus string

const STATUS_STARTING FlowStatus = "STARTING"
const STATUS_RUNNING FlowStatus = "RUNNING"
const STATUS_STOPPING FlowStatus = "STOPPING"
const STATUS_FINISHED FlowStatus = "FINISHED"
const STATUS_FAILED FlowStatus = "FAILED"

func (s FlowStatus) Terminal() bool {
	return s == STATUS_FINISHED || s == STATUS_FAILED
}

type ActionState string

const ACTION_STARTING ActionState = "STARTING"
const ACTION_RUNNING ActionState = "RUNNING"
const ACTION_STOPPING ActionState = "STOPPING"
const ACTION_FINISHED ActionState = "FINISHED"
