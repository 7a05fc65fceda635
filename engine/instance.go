package engine

import (
	"encoding/json"

	"github.com/parley-run/parley/flow"
	"github.com/parley-run/parley/model"
)

// Instance is one running instantiation of a flow template. Instances live in
// the engine's arena and reference each other by integer id only, never by
// pointer, so teardown can never chase a cycle.
type Instance struct {
	ID                int
	UID               string
	Template          *flow.Template
	Status            model.FlowStatus
	Parent            int
	Children          []int
	Args              map[string]any
	Scope             map[string]any
	Loop              string
	Activated         bool
	EverWaited        bool
	RestartSuppressed bool
	Heads             map[int]*Head
	Groups            map[int]*group
}

// Head is a statement cursor: the chain of group-branch descents from the
// template body plus the index of the next statement in the addressed branch.
// Waiting holds the pattern the head is parked on, nil while the head is
// runnable. Scores records the matching scores produced during the current
// tick; the conflict resolver compares these sequences.
type Head struct {
	ID      int
	Path    [][2]int
	PC      int
	Scores  []float64
	Group   int
	Waiting *model.EventDef
}

// group coordinates the forked heads of an and/or statement. Pending lists
// the head ids still working their branch; for or-groups Decided marks that a
// branch has won the race and the siblings were retracted.
type group struct {
	ID      int
	Op      string
	Path    [][2]int
	Stmt    int
	Parent  int
	Pending []int
	Decided bool
}

// scopeView merges the instance scope with the process-wide variable map for
// expression evaluation and pattern resolution.
func (i *Instance) scopeView(globals map[string]any) map[string]any {
	view := make(map[string]any, len(i.Scope)+1)
	for k, v := range i.Scope {
		view[k] = v
	}
	view["global"] = globals
	return view
}

// activationKey identifies an activation configuration. encoding/json sorts
// map keys, so equal argument maps produce equal keys.
func activationKey(flowName string, args map[string]any) string {
	data, _ := json.Marshal(args)
	return flowName + "|" + string(data)
}

// normalizeArgs maps nil to an empty argument map. Keys must not depend on
// whether the caller passed nil or {}, or a snapshot round trip would change
// them.
func normalizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
