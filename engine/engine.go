package engine

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/parley-run/parley/logger"
	"github.com/parley-run/parley/match"
	"github.com/parley-run/parley/metadata"
	"github.com/parley-run/parley/model"
	"github.com/parley-run/parley/util"
	"go.uber.org/zap"
)

// EventCollector receives every event the engine consumes and emits; used for
// trace logging above the core.
type EventCollector interface {
	RecordConsumed(event model.Event)
	RecordEmitted(event model.Event)
}

// Engine is the flow interpretation runtime. One external event at a time is
// processed to a fixed point over an internal event queue; "concurrency" is
// many instances holding parked heads, not parallel execution. All state
// mutation happens on the goroutine calling Step (or the service goroutine
// started by Start), so no locking is needed inside the tick.
type Engine struct {
	name string
	meta metadata.MetadataService

	seed  int64
	rng   *rand.Rand
	draws uint64

	nextInstanceID int
	nextHeadID     int
	nextGroupID    int

	arena       map[int]*Instance
	byUID       map[string]int
	loops       *loopSet
	globals     map[string]any
	actions     map[string]*actionInstance
	activations map[string]int
	terminal    map[string]model.FlowStatus
	returns     map[string]any

	queue      []model.Event
	candidates []candidate
	out        []model.Event

	collector EventCollector

	executionChannel chan model.Event
	emit             func(model.Event)
	stop             chan struct{}
	wg               *sync.WaitGroup
}

func New(name string, meta metadata.MetadataService, seed int64) *Engine {
	return &Engine{
		name:             name,
		meta:             meta,
		seed:             seed,
		rng:              rand.New(rand.NewSource(seed)),
		arena:            make(map[int]*Instance),
		byUID:            make(map[string]int),
		loops:            newLoopSet(),
		globals:          make(map[string]any),
		actions:          make(map[string]*actionInstance),
		activations:      make(map[string]int),
		terminal:         make(map[string]model.FlowStatus),
		returns:          make(map[string]any),
		executionChannel: make(chan model.Event, 1000),
		stop:             make(chan struct{}),
	}
}

func (e *Engine) SetCollector(collector EventCollector) {
	e.collector = collector
}

// Boot starts the root instance. Only the root has no parent.
func (e *Engine) Boot(mainFlow string, args map[string]any) error {
	if _, err := e.startFlow(mainFlow, args, 0, false); err != nil {
		return err
	}
	e.drain()
	e.endTick()
	return nil
}

// Step ingests one external event, drives all instances to a fixed point and
// returns the external events emitted during the tick.
func (e *Engine) Step(event model.Event) []model.Event {
	if e.collector != nil {
		e.collector.RecordConsumed(event)
	}
	e.out = nil
	e.enqueue(event)
	e.drain()
	e.endTick()
	return e.out
}

func (e *Engine) enqueue(event model.Event) {
	e.queue = append(e.queue, event)
}

func (e *Engine) drain() {
	for len(e.queue) > 0 {
		event := e.queue[0]
		e.queue = e.queue[1:]
		e.processOne(event)
		e.resolveCandidates()
	}
}

// endTick resets per-tick bookkeeping once the queue reached its fixed point:
// match scores collected this tick, and the return values of instances that
// terminated during it.
func (e *Engine) endTick() {
	for _, inst := range e.arena {
		for _, h := range inst.Heads {
			h.Scores = nil
		}
	}
	e.returns = make(map[string]any)
}

func (e *Engine) processOne(event model.Event) {
	switch event.Name {
	case model.START_FLOW_EVENT:
		e.handleStartFlow(event)
		return
	case model.STOP_FLOW_EVENT:
		e.handleStopFlow(event)
		return
	case model.FINISH_FLOW_EVENT:
		e.handleFinishFlow(event)
		return
	}

	e.observeAction(event)
	e.matchPhase(event)
}

// matchPhase offers the event to every parked head, one interaction loop at a
// time in priority order. All heads of a loop are advanced before the next
// loop is visited, so higher-priority side effects are visible to same-tick
// matches in lower-priority loops.
func (e *Engine) matchPhase(event model.Event) {
	for _, lp := range e.loops.ordered() {
		members := append([]int(nil), lp.Members...)
		sort.Ints(members)
		for _, id := range members {
			inst, ok := e.arena[id]
			if !ok || inst.Status != model.STATUS_RUNNING {
				continue
			}
			e.matchInstance(inst, event)
		}
	}
}

func (e *Engine) matchInstance(inst *Instance, event model.Event) {
	headIDs := util.SortedKeys(inst.Heads)
	for _, hid := range headIDs {
		if _, alive := e.arena[inst.ID]; !alive {
			return
		}
		h, ok := inst.Heads[hid]
		if !ok || h.Waiting == nil {
			continue
		}
		pattern := e.resolvePattern(inst, h.Waiting)
		if e.impossibleWait(pattern, event) {
			e.failInstance(inst, "waiting on an impossible event")
			return
		}
		score, ok := match.Score(pattern, event, inst.Template.Priority)
		if !ok {
			continue
		}
		e.advanceOnMatch(inst, h, event, score)
	}
}

// impossibleWait reports whether the arriving terminal event proves the
// parked pattern can never match: the referenced instance has reached the
// opposite terminal state.
func (e *Engine) impossibleWait(pattern model.EventDef, event model.Event) bool {
	var opposite string
	switch pattern.Name {
	case model.FLOW_FINISHED_EVENT:
		opposite = model.FLOW_FAILED_EVENT
	case model.FLOW_FAILED_EVENT:
		opposite = model.FLOW_FINISHED_EVENT
	default:
		return false
	}
	if event.Name != opposite {
		return false
	}
	wantUID, ok := pattern.Params[model.PARAM_INSTANCE_UID].(string)
	if !ok || len(wantUID) == 0 {
		return false
	}
	return wantUID == event.StringParam(model.PARAM_INSTANCE_UID)
}

func (e *Engine) handleStartFlow(event model.Event) {
	flowName := event.StringParam(model.PARAM_FLOW_ID)
	args, _ := event.Params[model.PARAM_PARAMS].(map[string]any)
	parent := 0
	if parentUID := event.StringParam(model.PARAM_PARENT_UID); len(parentUID) > 0 {
		if id, ok := e.byUID[parentUID]; ok {
			parent = id
		}
	}
	activated, _ := event.Params[model.PARAM_ACTIVATED].(bool)
	if activated {
		e.activate(flowName, args, parent)
		return
	}
	if _, err := e.startFlow(flowName, args, parent, false); err != nil {
		logger.Debug("start flow rejected", zap.String("flow", flowName), zap.Error(err))
	}
}

func (e *Engine) handleStopFlow(event model.Event) {
	for _, inst := range e.targetInstances(event) {
		e.failInstance(inst, "stopped")
	}
}

func (e *Engine) handleFinishFlow(event model.Event) {
	retval := event.Params[model.PARAM_RETURN_VALUE]
	for _, inst := range e.targetInstances(event) {
		e.finishInstance(inst, retval)
	}
}

// targetInstances resolves a control event's target: a single instance by
// uid, or every live instance of a template by flow name.
func (e *Engine) targetInstances(event model.Event) []*Instance {
	if uid := event.StringParam(model.PARAM_INSTANCE_UID); len(uid) > 0 {
		if id, ok := e.byUID[uid]; ok {
			return []*Instance{e.arena[id]}
		}
		return nil
	}
	flowName := event.StringParam(model.PARAM_FLOW_ID)
	if len(flowName) == 0 {
		return nil
	}
	var out []*Instance
	for _, id := range util.SortedKeys(e.arena) {
		inst := e.arena[id]
		if inst.Template.Name == flowName {
			out = append(out, inst)
		}
	}
	return out
}

// emitExternal appends an event to the tick output.
func (e *Engine) emitExternal(event model.Event) {
	if e.collector != nil {
		e.collector.RecordEmitted(event)
	}
	e.out = append(e.out, event)
}

// intn draws from the seeded RNG. Each draw consumes exactly one Int63 and is
// counted, so a restored snapshot can fast-forward to the same position.
func (e *Engine) intn(n int) int {
	e.draws++
	return int(e.rng.Int63() % int64(n))
}

// newUID generates uids for instances, actions and runtime-created events
// from the seeded RNG, so replaying an event stream against a fresh engine
// reproduces the emitted events bit for bit.
func (e *Engine) newUID() string {
	hi := e.rng.Int63()
	lo := e.rng.Int63()
	e.draws += 2
	return fmt.Sprintf("%016x-%016x", uint64(hi), uint64(lo))
}

// stamp replaces an event's uid with a deterministic one.
func (e *Engine) stamp(event model.Event) model.Event {
	event.UID = e.newUID()
	return event
}

// Start runs the engine as a service consuming submitted events, in the
// manner of a long-running execution loop. emit receives every external event
// produced by a tick.
func (e *Engine) Start(emit func(model.Event), wg *sync.WaitGroup) {
	e.emit = emit
	e.wg = wg
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case event := <-e.executionChannel:
				for _, out := range e.Step(event) {
					if e.emit != nil {
						e.emit(out)
					}
				}
			case <-e.stop:
				logger.Info("stopping flow engine", zap.String("engine", e.name))
				return
			}
		}
	}()
}

func (e *Engine) Submit(event model.Event) {
	e.executionChannel <- event
}

func (e *Engine) Stop() error {
	e.stop <- struct{}{}
	return nil
}
