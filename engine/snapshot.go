package engine

import (
	"encoding/json"
	"math/rand"
	"sort"

	"github.com/parley-run/parley/model"
	"github.com/parley-run/parley/util"
)

// Snapshot captures the full runtime state. The returned value shares nothing
// with the live engine and can be serialized, inspected and later restored.
func (e *Engine) Snapshot() *model.Snapshot {
	snap := &model.Snapshot{
		Name:           e.name,
		Seed:           e.seed,
		Draws:          e.draws,
		NextInstanceID: e.nextInstanceID,
		NextHeadID:     e.nextHeadID,
		NextGroupID:    e.nextGroupID,
		LoopSeq:        e.loops.seq,
		Globals:        cloneMap(e.globals),
		Activations:    make(map[string]int, len(e.activations)),
		Terminal:       make(map[string]model.FlowStatus, len(e.terminal)),
	}
	for k, v := range e.activations {
		snap.Activations[k] = v
	}
	for k, v := range e.terminal {
		snap.Terminal[k] = v
	}

	for _, id := range util.SortedKeys(e.arena) {
		inst := e.arena[id]
		is := model.InstanceSnapshot{
			ID:                inst.ID,
			UID:               inst.UID,
			Flow:              inst.Template.Name,
			Status:            inst.Status,
			Parent:            inst.Parent,
			Children:          append([]int(nil), inst.Children...),
			Args:              cloneMap(inst.Args),
			Scope:             cloneMap(inst.Scope),
			Loop:              inst.Loop,
			Activated:         inst.Activated,
			EverWaited:        inst.EverWaited,
			RestartSuppressed: inst.RestartSuppressed,
		}
		for _, hid := range util.SortedKeys(inst.Heads) {
			h := inst.Heads[hid]
			hs := model.HeadSnapshot{
				ID:     h.ID,
				Path:   append([][2]int(nil), h.Path...),
				PC:     h.PC,
				Scores: append([]float64(nil), h.Scores...),
				Group:  h.Group,
			}
			if h.Waiting != nil {
				hs.Waiting = &model.EventDef{Name: h.Waiting.Name, Params: cloneMap(h.Waiting.Params)}
			}
			is.Heads = append(is.Heads, hs)
		}
		for _, gid := range util.SortedKeys(inst.Groups) {
			g := inst.Groups[gid]
			is.Groups = append(is.Groups, model.GroupSnapshot{
				ID:      g.ID,
				Op:      g.Op,
				Path:    append([][2]int(nil), g.Path...),
				Stmt:    g.Stmt,
				Pending: append([]int(nil), g.Pending...),
				Decided: g.Decided,
			})
		}
		snap.Instances = append(snap.Instances, is)
	}

	uids := make([]string, 0, len(e.actions))
	for uid := range e.actions {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	for _, uid := range uids {
		a := e.actions[uid]
		snap.Actions = append(snap.Actions, model.ActionSnapshot{
			UID:    a.UID,
			Name:   a.Name,
			Params: cloneMap(a.Params),
			State:  a.State,
			Owners: append([]int(nil), a.Owners...),
		})
	}

	for _, lp := range e.loops.ordered() {
		snap.Loops = append(snap.Loops, model.LoopSnapshot{
			Name:     lp.Name,
			Priority: lp.Priority,
			Seq:      lp.Seq,
			Members:  append([]int(nil), lp.Members...),
		})
	}
	return snap
}

// Restore replaces the engine state with a snapshot. Templates are fetched
// from the metadata service, which must contain every flow the snapshot
// references. The RNG is reseeded and fast-forwarded to the recorded draw
// position, so a restored engine replays the remaining stream identically.
func (e *Engine) Restore(snap *model.Snapshot) error {
	arena := make(map[int]*Instance, len(snap.Instances))
	byUID := make(map[string]int, len(snap.Instances))
	for _, is := range snap.Instances {
		tpl, err := e.meta.GetFlow(is.Flow)
		if err != nil {
			return err
		}
		inst := &Instance{
			ID:                is.ID,
			UID:               is.UID,
			Template:          tpl,
			Status:            is.Status,
			Parent:            is.Parent,
			Children:          append([]int(nil), is.Children...),
			Args:              cloneMap(is.Args),
			Scope:             cloneMap(is.Scope),
			Loop:              is.Loop,
			Activated:         is.Activated,
			EverWaited:        is.EverWaited,
			RestartSuppressed: is.RestartSuppressed,
			Heads:             make(map[int]*Head, len(is.Heads)),
			Groups:            make(map[int]*group, len(is.Groups)),
		}
		for _, hs := range is.Heads {
			h := &Head{
				ID:     hs.ID,
				Path:   append([][2]int(nil), hs.Path...),
				PC:     hs.PC,
				Scores: append([]float64(nil), hs.Scores...),
				Group:  hs.Group,
			}
			if hs.Waiting != nil {
				h.Waiting = &model.EventDef{Name: hs.Waiting.Name, Params: cloneMap(hs.Waiting.Params)}
			}
			inst.Heads[h.ID] = h
		}
		for _, gs := range is.Groups {
			inst.Groups[gs.ID] = &group{
				ID:      gs.ID,
				Op:      gs.Op,
				Path:    append([][2]int(nil), gs.Path...),
				Stmt:    gs.Stmt,
				Pending: append([]int(nil), gs.Pending...),
				Decided: gs.Decided,
			}
		}
		arena[inst.ID] = inst
		byUID[inst.UID] = inst.ID
	}

	loops := newLoopSet()
	loops.seq = snap.LoopSeq
	for _, ls := range snap.Loops {
		loops.loops[ls.Name] = &interactionLoop{
			Name:     ls.Name,
			Priority: ls.Priority,
			Seq:      ls.Seq,
			Members:  append([]int(nil), ls.Members...),
		}
	}

	actions := make(map[string]*actionInstance, len(snap.Actions))
	for _, as := range snap.Actions {
		actions[as.UID] = &actionInstance{
			UID:    as.UID,
			Name:   as.Name,
			Params: cloneMap(as.Params),
			State:  as.State,
			Owners: append([]int(nil), as.Owners...),
			// only resolved emissions survive a tick
			emitted: true,
		}
	}

	e.name = snap.Name
	e.seed = snap.Seed
	e.rng = rand.New(rand.NewSource(snap.Seed))
	for i := uint64(0); i < snap.Draws; i++ {
		e.rng.Int63()
	}
	e.draws = snap.Draws
	e.nextInstanceID = snap.NextInstanceID
	e.nextHeadID = snap.NextHeadID
	e.nextGroupID = snap.NextGroupID
	e.arena = arena
	e.byUID = byUID
	e.loops = loops
	e.globals = cloneMap(snap.Globals)
	e.actions = actions
	e.activations = make(map[string]int, len(snap.Activations))
	for k, v := range snap.Activations {
		e.activations[k] = v
	}
	e.terminal = make(map[string]model.FlowStatus, len(snap.Terminal))
	for k, v := range snap.Terminal {
		e.terminal[k] = v
	}
	e.returns = make(map[string]any)
	e.queue = nil
	e.candidates = nil
	e.out = nil
	return nil
}

// cloneMap detaches a value map through a JSON round trip, matching the
// normalization applied by expression evaluation.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		panic("unserializable scope: " + err.Error())
	}
	out := make(map[string]any, len(m))
	if err := json.Unmarshal(data, &out); err != nil {
		panic("unserializable scope: " + err.Error())
	}
	return out
}
