package engine

import (
	"github.com/parley-run/parley/expr"
	"github.com/parley-run/parley/flow"
	"github.com/parley-run/parley/logger"
	"github.com/parley-run/parley/model"
	"github.com/parley-run/parley/util"
	"go.uber.org/zap"
)

// resolvePattern substitutes scope references in a wait pattern's parameters
// just before matching, so heads parked on e.g. an action uid always see the
// current bindings.
func (e *Engine) resolvePattern(inst *Instance, pattern *model.EventDef) model.EventDef {
	if len(pattern.Params) == 0 {
		return *pattern
	}
	return model.EventDef{
		Name:   pattern.Name,
		Params: expr.ResolveParams(inst.scopeView(e.globals), pattern.Params),
	}
}

// advanceOnMatch consumes the event for a parked head: record the score,
// decide a racing or-group, bind the event and move past the match statement.
func (e *Engine) advanceOnMatch(inst *Instance, head *Head, event model.Event, score float64) {
	head.Scores = append(head.Scores, score)
	head.Waiting = nil

	if head.Group != 0 {
		if g, ok := inst.Groups[head.Group]; ok && g.Op == model.GROUP_OR && !g.Decided {
			g.Decided = true
			e.retractSiblings(inst, g, head.ID)
		}
	}

	stmts, err := inst.Template.StatementsAt(head.Path)
	if err != nil {
		panic(err.Error())
	}
	if head.PC < len(stmts) {
		st := stmts[head.PC]
		e.bindMatched(inst, st, event)
	}
	head.PC++
	e.runHead(inst, head)
}

func (e *Engine) bindMatched(inst *Instance, st flow.Statement, event model.Event) {
	inst.Scope["event"] = map[string]any{
		"name":   event.Name,
		"params": event.Params,
		"uid":    event.UID,
	}
	if len(st.As) == 0 {
		return
	}
	switch st.Type {
	case model.STATEMENT_AWAIT:
		// awaited flow completed: the binding is its return value
		inst.Scope[st.As] = event.Params[model.PARAM_RETURN_VALUE]
	default:
		inst.Scope[st.As] = map[string]any{
			"name":   event.Name,
			"params": event.Params,
			"uid":    event.UID,
		}
	}
}

// runHead executes statements until the head parks at a match, the branch
// ends or the instance reaches a terminal state.
func (e *Engine) runHead(inst *Instance, head *Head) {
	for {
		if _, alive := e.arena[inst.ID]; !alive {
			return
		}
		if _, ok := inst.Heads[head.ID]; !ok {
			// retracted by an or-group decision
			return
		}
		stmts, err := inst.Template.StatementsAt(head.Path)
		if err != nil {
			panic(err.Error())
		}
		if head.PC >= len(stmts) {
			e.completeBranch(inst, head)
			return
		}
		st := stmts[head.PC]
		switch st.Type {
		case model.STATEMENT_MATCH:
			head.Waiting = st.Event
			inst.EverWaited = true
			return
		case model.STATEMENT_SEND:
			e.execSend(inst, head, st)
			head.PC++
		case model.STATEMENT_START:
			e.execStart(inst, head, st)
			head.PC++
		case model.STATEMENT_AWAIT:
			e.execAwait(inst, head, st)
			return
		case model.STATEMENT_ACTIVATE:
			args := expr.ResolveParams(inst.scopeView(e.globals), st.Args)
			e.activate(st.Flow, args, inst.ID)
			head.PC++
		case model.STATEMENT_DEACTIVATE:
			args := expr.ResolveParams(inst.scopeView(e.globals), st.Args)
			e.deactivate(st.Flow, args)
			head.PC++
		case model.STATEMENT_ASSIGN:
			if !e.execAssign(inst, st) {
				return
			}
			head.PC++
		case model.STATEMENT_RETURN:
			var value any
			if len(st.Value) > 0 {
				v, err := expr.Eval(st.Value, inst.scopeView(e.globals), e.globals)
				if err != nil {
					e.execError(inst, err)
					return
				}
				value = v
			}
			e.finishInstance(inst, value)
			return
		case model.STATEMENT_ABORT:
			e.failInstance(inst, "abort")
			return
		case model.STATEMENT_LABEL:
			if st.Label == model.LABEL_START_NEW_INSTANCE {
				e.restartNewInstance(inst)
			}
			head.PC++
		case model.STATEMENT_GROUP:
			e.forkGroup(inst, head, st)
			return
		default:
			panic("unreachable statement type " + st.Type)
		}
	}
}

func (e *Engine) execSend(inst *Instance, head *Head, st flow.Statement) {
	params := expr.ResolveParams(inst.scopeView(e.globals), st.Event.Params)
	event := e.stamp(model.NewEvent(st.Event.Name, params))
	if event.IsControl() || event.Name == model.FLOW_STARTED_EVENT ||
		event.Name == model.FLOW_FINISHED_EVENT || event.Name == model.FLOW_FAILED_EVENT {
		e.enqueue(event)
		return
	}
	e.addCandidate(candidate{
		instanceID: inst.ID,
		headID:     head.ID,
		event:      event,
		scores:     append([]float64(nil), head.Scores...),
	})
}

// execStart handles non-awaited starts. The head advances either way; an
// unknown reference is surfaced but inert for this instance.
func (e *Engine) execStart(inst *Instance, head *Head, st flow.Statement) {
	args := expr.ResolveParams(inst.scopeView(e.globals), st.Args)
	if len(st.Action) > 0 {
		e.startAction(inst, head, st.Action, args, st.As)
		return
	}
	child, err := e.startFlow(st.Flow, args, inst.ID, false)
	if err != nil {
		// undefined reference: surfaced as UnhandledEvent by startFlow
		logger.Debug("start of unknown flow", zap.String("flow", st.Flow), zap.Error(err))
		return
	}
	if child != nil && len(st.As) > 0 {
		inst.Scope[st.As] = map[string]any{"uid": child.UID, "flow_id": child.Template.Name}
	}
}

// execAwait starts the target and parks the head on its terminal event. A
// child that already terminated synchronously is resolved on the spot.
func (e *Engine) execAwait(inst *Instance, head *Head, st flow.Statement) {
	args := expr.ResolveParams(inst.scopeView(e.globals), st.Args)
	if len(st.Action) > 0 {
		uid := e.startAction(inst, head, st.Action, args, st.As)
		head.Waiting = &model.EventDef{
			Name:   model.ActionFinishedEvent(st.Action),
			Params: map[string]any{model.PARAM_ACTION_UID: uid},
		}
		inst.EverWaited = true
		return
	}
	child, err := e.startFlow(st.Flow, args, inst.ID, false)
	if err != nil {
		e.failInstance(inst, "await of unknown flow "+st.Flow)
		return
	}
	if child == nil {
		// activation shortcut: the configuration already ran to completion
		head.PC++
		e.runHead(inst, head)
		return
	}
	if status, done := e.terminal[child.UID]; done {
		// started flow ran to a terminal state within this instant
		if status == model.STATUS_FAILED {
			e.failInstance(inst, "awaited flow "+st.Flow+" failed")
			return
		}
		if len(st.As) > 0 {
			inst.Scope[st.As] = e.returns[child.UID]
		}
		head.PC++
		e.runHead(inst, head)
		return
	}
	if len(st.As) > 0 {
		inst.Scope[st.As] = map[string]any{"uid": child.UID, "flow_id": child.Template.Name}
	}
	head.Waiting = &model.EventDef{
		Name:   model.FLOW_FINISHED_EVENT,
		Params: map[string]any{model.PARAM_INSTANCE_UID: child.UID},
	}
	inst.EverWaited = true
}

func (e *Engine) execAssign(inst *Instance, st flow.Statement) bool {
	v, err := expr.Eval(st.Expr, inst.scopeView(e.globals), e.globals)
	if err != nil {
		e.execError(inst, err)
		return false
	}
	if st.Global {
		e.globals[st.Var] = v
	} else {
		inst.Scope[st.Var] = v
	}
	return true
}

// execError surfaces an evaluation failure as a distinguished internal event
// and fails only the offending instance.
func (e *Engine) execError(inst *Instance, err error) {
	errorType := "ExpressionError"
	if evalErr, ok := err.(expr.EvalError); ok {
		errorType = evalErr.Type
	}
	e.enqueue(e.stamp(model.NewExecutionErrorEvent(errorType, err.Error(), inst.UID)))
	e.failInstance(inst, err.Error())
}

// forkGroup replaces the current head with one racing or cooperating head per
// branch.
func (e *Engine) forkGroup(inst *Instance, head *Head, st flow.Statement) {
	e.nextGroupID++
	g := &group{
		ID:     e.nextGroupID,
		Op:     st.Op,
		Path:   head.Path,
		Stmt:   head.PC,
		Parent: head.Group,
	}
	inst.Groups[g.ID] = g
	delete(inst.Heads, head.ID)

	forked := make([]*Head, 0, len(st.Branches))
	for branch := range st.Branches {
		e.nextHeadID++
		child := &Head{
			ID:     e.nextHeadID,
			Path:   append(append([][2]int(nil), head.Path...), [2]int{head.PC, branch}),
			Scores: append([]float64(nil), head.Scores...),
			Group:  g.ID,
		}
		inst.Heads[child.ID] = child
		g.Pending = append(g.Pending, child.ID)
		forked = append(forked, child)
	}
	for _, child := range forked {
		if _, alive := e.arena[inst.ID]; !alive {
			return
		}
		if _, ok := inst.Heads[child.ID]; !ok {
			continue
		}
		e.runHead(inst, child)
	}
}

// completeBranch resolves a head reaching the end of its statement list: the
// whole body for a root head, otherwise its group branch.
func (e *Engine) completeBranch(inst *Instance, head *Head) {
	if len(head.Path) == 0 {
		e.finishInstance(inst, nil)
		return
	}
	g, ok := inst.Groups[head.Group]
	if !ok {
		panic("head completed a branch of an unknown group")
	}
	delete(inst.Heads, head.ID)
	g.Pending = util.Remove(g.Pending, head.ID)

	done := false
	switch g.Op {
	case model.GROUP_AND:
		done = len(g.Pending) == 0
	case model.GROUP_OR:
		e.retractSiblings(inst, g, -1)
		done = true
	}
	if !done {
		return
	}
	delete(inst.Groups, g.ID)
	e.nextHeadID++
	cont := &Head{
		ID:     e.nextHeadID,
		Path:   g.Path,
		PC:     g.Stmt + 1,
		Scores: append([]float64(nil), head.Scores...),
		Group:  g.Parent,
	}
	inst.Heads[cont.ID] = cont
	e.runHead(inst, cont)
}

// retractSiblings removes the losing heads of a decided or-group. Retraction
// is not failure: the instance continues on the winning branch.
func (e *Engine) retractSiblings(inst *Instance, g *group, winner int) {
	for _, hid := range append([]int(nil), g.Pending...) {
		if hid == winner {
			continue
		}
		delete(inst.Heads, hid)
		g.Pending = util.Remove(g.Pending, hid)
	}
}
