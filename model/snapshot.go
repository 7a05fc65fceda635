package model

// Snapshot is the opaque serializable state of a runtime: every instance,
// head, binding and loop membership plus the RNG position, sufficient to
// restore the runtime and replay the remaining event stream identically.
type Snapshot struct {
	Name           string                `json:"name"`
	Seed           int64                 `json:"seed"`
	Draws          uint64                `json:"draws"`
	NextInstanceID int                   `json:"nextInstanceId"`
	NextHeadID     int                   `json:"nextHeadId"`
	NextGroupID    int                   `json:"nextGroupId"`
	LoopSeq        int                   `json:"loopSeq"`
	Globals        map[string]any        `json:"globals,omitempty"`
	Instances      []InstanceSnapshot    `json:"instances,omitempty"`
	Actions        []ActionSnapshot      `json:"actions,omitempty"`
	Loops          []LoopSnapshot        `json:"loops,omitempty"`
	Activations    map[string]int        `json:"activations,omitempty"`
	Terminal       map[string]FlowStatus `json:"terminal,omitempty"`
}

type InstanceSnapshot struct {
	ID                int             `json:"id"`
	UID               string          `json:"uid"`
	Flow              string          `json:"flow"`
	Status            FlowStatus      `json:"status"`
	Parent            int             `json:"parent"`
	Children          []int           `json:"children,omitempty"`
	Args              map[string]any  `json:"args,omitempty"`
	Scope             map[string]any  `json:"scope,omitempty"`
	Loop              string          `json:"loop"`
	Activated         bool            `json:"activated,omitempty"`
	EverWaited        bool            `json:"everWaited,omitempty"`
	RestartSuppressed bool            `json:"restartSuppressed,omitempty"`
	Heads             []HeadSnapshot  `json:"heads,omitempty"`
	Groups            []GroupSnapshot `json:"groups,omitempty"`
}

type HeadSnapshot struct {
	ID      int       `json:"id"`
	Path    [][2]int  `json:"path,omitempty"`
	PC      int       `json:"pc"`
	Scores  []float64 `json:"scores,omitempty"`
	Group   int       `json:"group,omitempty"`
	Waiting *EventDef `json:"waiting,omitempty"`
}

type GroupSnapshot struct {
	ID      int      `json:"id"`
	Op      string   `json:"op"`
	Path    [][2]int `json:"path,omitempty"`
	Stmt    int      `json:"stmt"`
	Pending []int    `json:"pending,omitempty"`
	Decided bool     `json:"decided,omitempty"`
}

type ActionSnapshot struct {
	UID    string         `json:"uid"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
	State  ActionState    `json:"state"`
	Owners []int          `json:"owners,omitempty"`
}

type LoopSnapshot struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Seq      int    `json:"seq"`
	Members  []int  `json:"members,omitempty"`
}
