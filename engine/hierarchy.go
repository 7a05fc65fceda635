package engine

import (
	"fmt"

	"github.com/parley-run/parley/logger"
	"github.com/parley-run/parley/model"
	"github.com/parley-run/parley/util"
	"go.uber.org/zap"
)

// startFlow creates an instance and synchronously runs it to its first wait
// point (or straight to a terminal state). The returned instance may already
// be gone from the arena when the body finished immediately.
func (e *Engine) startFlow(flowName string, args map[string]any, parent int, activated bool) (*Instance, error) {
	tpl, err := e.meta.GetFlow(flowName)
	if err != nil {
		e.enqueue(e.stamp(model.NewUnhandledEvent(model.NewEvent(model.START_FLOW_EVENT, map[string]any{
			model.PARAM_FLOW_ID: flowName,
		}), err.Error())))
		return nil, err
	}

	if tpl.Active && !activated {
		// templates flagged active always run under activation semantics,
		// even when started plainly
		args = normalizeArgs(args)
		e.activate(flowName, args, parent)
		if id, ok := e.activations[activationKey(flowName, args)]; ok && id > 0 {
			return e.arena[id], nil
		}
		return nil, nil
	}

	scope := make(map[string]any)
	for _, param := range tpl.Params {
		if param.Default != nil {
			scope[param.Name] = *param.Default
		}
	}
	for k, v := range args {
		scope[k] = v
	}

	e.nextInstanceID++
	inst := &Instance{
		ID:        e.nextInstanceID,
		UID:       e.newUID(),
		Template:  tpl,
		Status:    model.STATUS_STARTING,
		Parent:    parent,
		Args:      args,
		Scope:     scope,
		Activated: activated,
		Heads:     make(map[int]*Head),
		Groups:    make(map[int]*group),
	}
	e.arena[inst.ID] = inst
	e.byUID[inst.UID] = inst.ID

	loopName, loopPriority := e.loopFor(inst)
	inst.Loop = e.loops.join(inst.ID, loopName, loopPriority)

	if p, ok := e.arena[parent]; ok {
		p.Children = append(p.Children, inst.ID)
	}

	e.enqueue(e.stamp(model.NewFlowStartedEvent(flowName, inst.UID)))
	logger.Debug("flow instance started", zap.String("flow", flowName), zap.String("uid", inst.UID), zap.Int("id", inst.ID))

	inst.Status = model.STATUS_RUNNING
	e.nextHeadID++
	head := &Head{ID: e.nextHeadID}
	inst.Heads[head.ID] = head
	e.runHead(inst, head)
	return inst, nil
}

// loopFor resolves the interaction loop an instance belongs to: the declared
// loop of its template, otherwise the parent's loop, otherwise the default.
func (e *Engine) loopFor(inst *Instance) (string, int) {
	if inst.Template.Loop != nil {
		return inst.Template.Loop.Name, inst.Template.Loop.Priority
	}
	if p, ok := e.arena[inst.Parent]; ok {
		return p.Loop, 0
	}
	return DEFAULT_LOOP, 0
}

// activate starts a flagged instance unless the configuration already has a
// live one; re-activation is a no-op.
func (e *Engine) activate(flowName string, args map[string]any, parent int) {
	args = normalizeArgs(args)
	key := activationKey(flowName, args)
	if _, ok := e.activations[key]; ok {
		return
	}
	inst, err := e.startFlow(flowName, args, parent, true)
	if err != nil {
		return
	}
	if _, live := e.arena[inst.ID]; live {
		e.activations[key] = inst.ID
	} else {
		// the body never waited and already terminated: activate exactly
		// once, keep the configuration marked live
		e.activations[key] = -1
	}
}

func (e *Engine) deactivate(flowName string, args map[string]any) {
	key := activationKey(flowName, normalizeArgs(args))
	id, ok := e.activations[key]
	delete(e.activations, key)
	if !ok || id < 0 {
		return
	}
	if inst, live := e.arena[id]; live {
		inst.Activated = false
		e.failInstance(inst, "deactivated")
	}
}

func (e *Engine) finishInstance(inst *Instance, returnValue any) {
	if inst.Status.Terminal() || inst.Status == model.STATUS_STOPPING {
		return
	}
	inst.Status = model.STATUS_STOPPING
	e.stopChildren(inst)
	e.finalize(inst, model.STATUS_FINISHED, returnValue, "")
}

func (e *Engine) failInstance(inst *Instance, reason string) {
	if inst.Status.Terminal() || inst.Status == model.STATUS_STOPPING {
		return
	}
	inst.Status = model.STATUS_STOPPING
	e.stopChildren(inst)
	e.finalize(inst, model.STATUS_FAILED, nil, reason)
}

// stopChildren forces every descendant to a terminal state, depth first. The
// parent's own transition completes only after this returns.
func (e *Engine) stopChildren(inst *Instance) {
	children := append([]int(nil), inst.Children...)
	for _, childID := range children {
		child, ok := e.arena[childID]
		if !ok {
			continue
		}
		e.failInstance(child, "parent stopped")
	}
}

// finalize completes a terminal transition: the instance leaves every index,
// its terminal event is queued, exclusively-owned actions are stopped and an
// activated configuration is restarted when applicable.
func (e *Engine) finalize(inst *Instance, status model.FlowStatus, returnValue any, reason string) {
	if len(inst.Children) > 0 {
		// stopChildren must have emptied this; anything else is a bug in the
		// runtime's own bookkeeping
		panic(fmt.Sprintf("instance %d finalized with %d live children", inst.ID, len(inst.Children)))
	}
	inst.Status = status
	inst.Heads = nil
	inst.Groups = nil

	e.loops.leave(inst.ID, inst.Loop)
	if p, ok := e.arena[inst.Parent]; ok {
		p.Children = util.Remove(p.Children, inst.ID)
	}
	delete(e.arena, inst.ID)
	delete(e.byUID, inst.UID)
	e.terminal[inst.UID] = status

	if status == model.STATUS_FINISHED {
		e.returns[inst.UID] = returnValue
		e.enqueue(e.stamp(model.NewFlowFinishedEvent(inst.Template.Name, inst.UID, returnValue)))
	} else {
		e.enqueue(e.stamp(model.NewFlowFailedEvent(inst.Template.Name, inst.UID, reason)))
	}
	logger.Debug("flow instance terminated",
		zap.String("flow", inst.Template.Name),
		zap.String("uid", inst.UID),
		zap.String("status", string(status)),
		zap.String("reason", reason))

	e.releaseActions(inst)
	e.maybeRestart(inst)
}

// maybeRestart implements activation semantics: a flagged instance restarts
// fresh on terminal, unless its body never waited on any event (one-shot) or
// a start_new_flow_instance label already produced a successor.
func (e *Engine) maybeRestart(inst *Instance) {
	if !inst.Activated {
		return
	}
	key := activationKey(inst.Template.Name, inst.Args)
	if e.activations[key] != inst.ID {
		return
	}
	if !inst.EverWaited || inst.RestartSuppressed {
		e.activations[key] = -1
		return
	}
	delete(e.activations, key)
	parent := 0
	if _, ok := e.arena[inst.Parent]; ok {
		parent = inst.Parent
	}
	e.activate(inst.Template.Name, inst.Args, parent)
}

// restartNewInstance handles the start_new_flow_instance label: a fresh
// sibling takes over matching immediately and the current instance no longer
// restarts on terminal.
func (e *Engine) restartNewInstance(inst *Instance) {
	if !inst.Activated || inst.RestartSuppressed {
		return
	}
	inst.RestartSuppressed = true
	key := activationKey(inst.Template.Name, inst.Args)
	if e.activations[key] == inst.ID {
		delete(e.activations, key)
	}
	parent := 0
	if _, ok := e.arena[inst.Parent]; ok {
		parent = inst.Parent
	}
	e.activate(inst.Template.Name, inst.Args, parent)
}
