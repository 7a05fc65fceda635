package engine

import (
	"sort"

	"github.com/parley-run/parley/model"
	"github.com/parley-run/parley/util"
)

// actionInstance tracks an action started by one or more flow instances. A
// handle may be shared when structurally identical starts were merged by the
// conflict resolver. emitted flips once the Start event actually left the
// runtime; a provisional action that lost arbitration is discarded silently.
type actionInstance struct {
	UID     string
	Name    string
	Params  map[string]any
	State   model.ActionState
	Owners  []int
	emitted bool
}

// startAction creates a provisional action and a start candidate for the
// conflict resolver. The handle is bound into the instance scope right away;
// a later merge rebinds it.
func (e *Engine) startAction(inst *Instance, head *Head, actionName string, params map[string]any, as string) string {
	uid := e.newUID()
	e.actions[uid] = &actionInstance{
		UID:    uid,
		Name:   actionName,
		Params: params,
		State:  model.ACTION_STARTING,
		Owners: []int{inst.ID},
	}
	if len(as) > 0 {
		inst.Scope[as] = map[string]any{"uid": uid, "action": actionName}
	}

	eventParams := make(map[string]any, len(params)+1)
	for k, v := range params {
		eventParams[k] = v
	}
	eventParams[model.PARAM_ACTION_UID] = uid
	e.addCandidate(candidate{
		instanceID: inst.ID,
		headID:     head.ID,
		event:      e.stamp(model.NewEvent(model.StartActionEvent(actionName), eventParams)),
		scores:     append([]float64(nil), head.Scores...),
		actionUID:  uid,
		bindVar:    as,
	})
	return uid
}

// observeAction applies action lifecycle events from collaborators.
func (e *Engine) observeAction(event model.Event) {
	actionUID := event.StringParam(model.PARAM_ACTION_UID)
	if len(actionUID) == 0 {
		return
	}
	a, ok := e.actions[actionUID]
	if !ok {
		return
	}
	switch event.Name {
	case model.ActionStartedEvent(a.Name):
		if a.State == model.ACTION_STARTING {
			a.State = model.ACTION_RUNNING
		}
	case model.ActionFinishedEvent(a.Name):
		a.State = model.ACTION_FINISHED
		delete(e.actions, actionUID)
	}
}

// releaseActions stops actions whose owners have all terminated. Called after
// the terminated instance left the arena, so an action shared with a live
// sibling subtree keeps running until the last owner goes.
func (e *Engine) releaseActions(inst *Instance) {
	uids := make([]string, 0, len(e.actions))
	for uid := range e.actions {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	for _, uid := range uids {
		a := e.actions[uid]
		if !util.Contains(a.Owners, inst.ID) {
			continue
		}
		if e.anyOwnerAlive(a) {
			continue
		}
		delete(e.actions, uid)
		if !a.emitted {
			continue
		}
		if a.State == model.ACTION_STARTING || a.State == model.ACTION_RUNNING {
			a.State = model.ACTION_STOPPING
			e.emitExternal(e.stamp(model.NewEvent(model.StopActionEvent(a.Name), map[string]any{
				model.PARAM_ACTION_UID: a.UID,
			})))
		}
	}
}

func (e *Engine) anyOwnerAlive(a *actionInstance) bool {
	for _, owner := range a.Owners {
		if _, ok := e.arena[owner]; ok {
			return true
		}
	}
	return false
}
