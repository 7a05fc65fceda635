package engine

import (
	"encoding/json"
	"testing"

	"github.com/parley-run/parley/metadata"
	"github.com/parley-run/parley/model"
	"github.com/stretchr/testify/require"
)

func testService(t *testing.T, defs ...model.FlowDef) metadata.MetadataService {
	svc := metadata.NewMetadataService(metadata.NewInMemoryMetadataStorage())
	for _, def := range defs {
		require.NoError(t, svc.Register(def))
	}
	return svc
}

func flowDef(name string, body ...model.StatementDef) model.FlowDef {
	return model.FlowDef{Name: name, Body: body}
}

func matchStmt(event string, params map[string]any) model.StatementDef {
	return model.StatementDef{Type: model.STATEMENT_MATCH, Event: &model.EventDef{Name: event, Params: params}}
}

func sendStmt(event string, params map[string]any) model.StatementDef {
	return model.StatementDef{Type: model.STATEMENT_SEND, Event: &model.EventDef{Name: event, Params: params}}
}

func startFlowStmt(name string) model.StatementDef {
	return model.StatementDef{Type: model.STATEMENT_START, Flow: name}
}

func awaitFlowStmt(name string) model.StatementDef {
	return model.StatementDef{Type: model.STATEMENT_AWAIT, Flow: name}
}

func startActionStmt(action string, args map[string]any, as string) model.StatementDef {
	return model.StatementDef{Type: model.STATEMENT_START, Action: action, Args: args, As: as}
}

// ext builds an external input event with a fixed uid so replay comparisons
// see byte-identical inputs.
func ext(name string, params map[string]any) model.Event {
	ev := model.NewEvent(name, params)
	ev.UID = "ext-" + name
	return ev
}

func eventNames(events []model.Event) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	return names
}

func TestMatchAndSend(t *testing.T) {
	svc := testService(t,
		flowDef("main",
			startFlowStmt("greet"),
			matchStmt("Never", nil),
		),
		flowDef("greet",
			matchStmt("UserGreeted", nil),
			sendStmt("BotGreeted", map[string]any{"style": "warm"}),
			matchStmt("Never", nil),
		),
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	out := e.Step(ext("UserGreeted", nil))
	require.Equal(t, []string{"BotGreeted"}, eventNames(out))
	require.Equal(t, "warm", out[0].StringParam("style"))

	// inert event: nothing matches, nothing is emitted
	out = e.Step(ext("SomethingElse", nil))
	require.Empty(t, out)
}

func TestConflictSpecificityWins(t *testing.T) {
	// Scenario: one pattern names the transcript, one matches generically.
	svc := testService(t,
		flowDef("main",
			startFlowStmt("specific"),
			startFlowStmt("generic"),
			matchStmt("Never", nil),
		),
		flowDef("specific",
			matchStmt("UtteranceUserActionFinished", map[string]any{"final_transcript": "Hi"}),
			startActionStmt("UtteranceBot", map[string]any{"script": "Hello!"}, ""),
			matchStmt("Never", nil),
		),
		flowDef("generic",
			matchStmt("UtteranceUserActionFinished", nil),
			startActionStmt("UtteranceBot", map[string]any{"script": "Mhm"}, ""),
			matchStmt("Never", nil),
		),
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	out := e.Step(ext("UtteranceUserActionFinished", map[string]any{"final_transcript": "Hi"}))
	require.Equal(t, []string{"StartUtteranceBotAction"}, eventNames(out))
	require.Equal(t, "Hello!", out[0].StringParam("script"))

	// the generic instance lost the conflict and failed
	snap := e.Snapshot()
	flows := liveFlows(snap)
	require.Contains(t, flows, "specific")
	require.NotContains(t, flows, "generic")
	require.Len(t, snap.Terminal, 1)
	for _, status := range snap.Terminal {
		require.Equal(t, model.STATUS_FAILED, status)
	}
}

func TestAwaitedAbortFailsParent(t *testing.T) {
	// Scenario: awaiting a flow that immediately aborts.
	svc := testService(t,
		flowDef("main",
			awaitFlowStmt("doomed"),
			sendStmt("NeverSent", nil),
		),
		flowDef("doomed",
			model.StatementDef{Type: model.STATEMENT_ABORT},
		),
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	snap := e.Snapshot()
	require.Empty(t, snap.Instances)
	statuses := make([]model.FlowStatus, 0, len(snap.Terminal))
	for _, st := range snap.Terminal {
		statuses = append(statuses, st)
	}
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		require.Equal(t, model.STATUS_FAILED, st)
	}
}

func TestActivationRestartsFreshInstances(t *testing.T) {
	// Scenario: activated [match A; send B] receiving A three times.
	svc := testService(t,
		flowDef("main",
			model.StatementDef{Type: model.STATEMENT_ACTIVATE, Flow: "responder"},
			matchStmt("Never", nil),
		),
		model.FlowDef{
			Name:   "responder",
			Active: true,
			Body: []model.StatementDef{
				matchStmt("A", nil),
				sendStmt("B", nil),
			},
		},
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	seenUIDs := map[string]bool{}
	for i := 0; i < 3; i++ {
		out := e.Step(ext("A", nil))
		require.Equal(t, []string{"B"}, eventNames(out), "round %d", i)
	}
	// each round was served by a distinct, freshly restarted instance
	snap := e.Snapshot()
	require.Len(t, snap.Terminal, 3, "three responder terminations")
	for uid := range snap.Terminal {
		require.False(t, seenUIDs[uid])
		seenUIDs[uid] = true
	}
	require.Contains(t, liveFlows(snap), "responder")
}

func TestActivationIdempotent(t *testing.T) {
	svc := testService(t,
		flowDef("main",
			model.StatementDef{Type: model.STATEMENT_ACTIVATE, Flow: "watcher"},
			model.StatementDef{Type: model.STATEMENT_ACTIVATE, Flow: "watcher"},
			matchStmt("Never", nil),
		),
		model.FlowDef{Name: "watcher", Active: true, Body: []model.StatementDef{
			matchStmt("Never", nil),
		}},
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	count := 0
	for _, inst := range e.Snapshot().Instances {
		if inst.Flow == "watcher" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestOneShotActivationDoesNotLoop(t *testing.T) {
	// a body that terminates without ever waiting activates exactly once
	svc := testService(t,
		flowDef("main",
			model.StatementDef{Type: model.STATEMENT_ACTIVATE, Flow: "oneshot"},
			matchStmt("Never", nil),
		),
		model.FlowDef{Name: "oneshot", Active: true, Body: []model.StatementDef{
			sendStmt("Pulse", nil),
		}},
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	snap := e.Snapshot()
	require.NotContains(t, liveFlows(snap), "oneshot")
	// the configuration stays registered as active
	require.Len(t, snap.Activations, 1)
	for _, id := range snap.Activations {
		require.Equal(t, -1, id)
	}
}

func TestSharedActionStoppedOnce(t *testing.T) {
	// Scenario: an action shared between a stopped subtree and a live
	// sibling subtree stops only when both owners are gone.
	svc := testService(t,
		flowDef("main",
			startFlowStmt("p"),
			startFlowStmt("s"),
			matchStmt("Never", nil),
		),
		flowDef("p",
			startFlowStmt("c1"),
			startFlowStmt("c2"),
			matchStmt("Never", nil),
		),
		flowDef("c1",
			matchStmt("Go", nil),
			startActionStmt("TV", map[string]any{"channel": 7.0}, "a"),
			matchStmt("Never", nil),
		),
		flowDef("c2",
			matchStmt("Never", nil),
		),
		flowDef("s",
			matchStmt("Go", nil),
			startActionStmt("TV", map[string]any{"channel": 7.0}, "a"),
			matchStmt("Never", nil),
		),
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	out := e.Step(ext("Go", nil))
	// identical payloads merge into a single emission
	require.Equal(t, []string{"StartTVAction"}, eventNames(out))
	sharedUID := out[0].StringParam(model.PARAM_ACTION_UID)
	require.NotEmpty(t, sharedUID)

	// both owners hold the same handle
	snap := e.Snapshot()
	handles := map[string]bool{}
	for _, inst := range snap.Instances {
		if inst.Flow == "c1" || inst.Flow == "s" {
			handle := inst.Scope["a"].(map[string]any)
			handles[handle["uid"].(string)] = true
		}
	}
	require.Len(t, handles, 1)
	require.True(t, handles[sharedUID])

	// stopping p kills c1 and c2 but the action survives via s
	out = e.Step(ext(model.STOP_FLOW_EVENT, map[string]any{model.PARAM_FLOW_ID: "p"}))
	require.NotContains(t, eventNames(out), "StopTVAction")

	// stopping s releases the last owner; the stop is issued exactly once
	out = e.Step(ext(model.STOP_FLOW_EVENT, map[string]any{model.PARAM_FLOW_ID: "s"}))
	require.Equal(t, []string{"StopTVAction"}, eventNames(out))
	require.Equal(t, sharedUID, out[0].StringParam(model.PARAM_ACTION_UID))
}

func TestParentStopContainsChildren(t *testing.T) {
	svc := testService(t,
		flowDef("main",
			startFlowStmt("parent"),
			matchStmt("Never", nil),
		),
		flowDef("parent",
			startFlowStmt("child"),
			matchStmt("Never", nil),
		),
		flowDef("child",
			startFlowStmt("grandchild"),
			matchStmt("Never", nil),
		),
		flowDef("grandchild",
			matchStmt("Never", nil),
		),
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))
	require.Len(t, e.Snapshot().Instances, 4)

	e.Step(ext(model.STOP_FLOW_EVENT, map[string]any{model.PARAM_FLOW_ID: "parent"}))

	// the whole subtree reached a terminal state within the same tick
	snap := e.Snapshot()
	require.Equal(t, []string{"main"}, liveFlowNames(snap))
	require.Len(t, snap.Terminal, 3)
}

func TestAndGroupNeedsAllBranches(t *testing.T) {
	svc := testService(t,
		flowDef("main",
			model.StatementDef{Type: model.STATEMENT_GROUP, Op: model.GROUP_AND, Branches: [][]model.StatementDef{
				{matchStmt("A", nil)},
				{matchStmt("B", nil)},
			}},
			sendStmt("C", nil),
			matchStmt("Never", nil),
		),
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	require.Empty(t, e.Step(ext("A", nil)))
	out := e.Step(ext("B", nil))
	require.Equal(t, []string{"C"}, eventNames(out))
}

func TestOrGroupFirstBranchWins(t *testing.T) {
	svc := testService(t,
		flowDef("main",
			model.StatementDef{Type: model.STATEMENT_GROUP, Op: model.GROUP_OR, Branches: [][]model.StatementDef{
				{matchStmt("A", nil), sendStmt("X", nil)},
				{matchStmt("B", nil), sendStmt("Y", nil)},
			}},
			sendStmt("C", nil),
			matchStmt("Never", nil),
		),
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	out := e.Step(ext("A", nil))
	require.Equal(t, []string{"X", "C"}, eventNames(out))

	// the losing branch was retracted, not failed: B is now inert
	require.Empty(t, e.Step(ext("B", nil)))
	require.Contains(t, liveFlows(e.Snapshot()), "main")
}

func TestUnhandledEventSurfaced(t *testing.T) {
	svc := testService(t,
		flowDef("main",
			startFlowStmt("notifier"),
			startFlowStmt("ghost"),
			matchStmt("Never", nil),
		),
		flowDef("notifier",
			matchStmt(model.UNHANDLED_EVENT, nil),
			sendStmt("Alert", nil),
			matchStmt("Never", nil),
		),
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	// the undefined reference surfaced as an internal event the notifier
	// flow opted into; the starting instance itself carried on
	snap := e.Snapshot()
	require.Contains(t, liveFlows(snap), "main")
	require.Contains(t, liveFlows(snap), "notifier")
}

func TestExecutionErrorFailsOnlyOffender(t *testing.T) {
	svc := testService(t,
		flowDef("main",
			startFlowStmt("broken"),
			startFlowStmt("healthy"),
			matchStmt("Never", nil),
		),
		flowDef("broken",
			matchStmt("Trigger", nil),
			model.StatementDef{Type: model.STATEMENT_ASSIGN, Var: "x", Expr: "$.missing.deep.prop"},
			sendStmt("NeverSent", nil),
		),
		flowDef("healthy",
			matchStmt("Trigger", nil),
			sendStmt("StillAlive", nil),
			matchStmt("Never", nil),
		),
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	out := e.Step(ext("Trigger", nil))
	require.Equal(t, []string{"StillAlive"}, eventNames(out))

	snap := e.Snapshot()
	require.NotContains(t, liveFlows(snap), "broken")
	require.Contains(t, liveFlows(snap), "healthy")
}

func TestLoopPriorityOrdersSameTickEffects(t *testing.T) {
	// a global written in a higher-priority loop must be visible to a
	// same-tick read in a lower-priority loop
	svc := testService(t,
		flowDef("main",
			startFlowStmt("writer"),
			startFlowStmt("reader"),
			matchStmt("Never", nil),
		),
		model.FlowDef{
			Name: "writer",
			Loop: &model.LoopDef{Name: "sensor", Priority: 10},
			Body: []model.StatementDef{
				matchStmt("Tick", nil),
				{Type: model.STATEMENT_ASSIGN, Var: "mood", Expr: "'cheerful'", Global: true},
				matchStmt("Never", nil),
			},
		},
		model.FlowDef{
			Name: "reader",
			Loop: &model.LoopDef{Name: "ui", Priority: 1},
			Body: []model.StatementDef{
				matchStmt("Tick", nil),
				sendStmt("MoodReport", map[string]any{"mood": "{$.global.mood}"}),
				matchStmt("Never", nil),
			},
		},
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	out := e.Step(ext("Tick", nil))
	require.Equal(t, []string{"MoodReport"}, eventNames(out))
	require.Equal(t, "cheerful", out[0].StringParam("mood"))
}

func TestDeterministicReplay(t *testing.T) {
	defs := []model.FlowDef{
		flowDef("main",
			startFlowStmt("left"),
			startFlowStmt("right"),
			matchStmt("Never", nil),
		),
		// equally specific patterns force tie-breaking through the RNG
		flowDef("left",
			matchStmt("Poke", nil),
			startActionStmt("Speak", map[string]any{"script": "ping"}, ""),
			matchStmt("Never", nil),
		),
		flowDef("right",
			matchStmt("Poke", nil),
			startActionStmt("Speak", map[string]any{"script": "pong"}, ""),
			matchStmt("Never", nil),
		),
	}
	inputs := []model.Event{
		ext("Poke", nil),
		ext("Hum", map[string]any{"n": 1.0}),
	}

	run := func(seed int64) ([]model.Event, *model.Snapshot) {
		e := New("replay", testService(t, defs...), seed)
		require.NoError(t, e.Boot("main", nil))
		var emitted []model.Event
		for _, in := range inputs {
			emitted = append(emitted, e.Step(in)...)
		}
		return emitted, e.Snapshot()
	}

	out1, snap1 := run(7)
	out2, snap2 := run(7)
	require.Equal(t, out1, out2)
	require.Equal(t, mustJSON(t, snap1), mustJSON(t, snap2))
}

func TestSnapshotRestoreContinuesIdentically(t *testing.T) {
	defs := []model.FlowDef{
		flowDef("main",
			startFlowStmt("greet"),
			matchStmt("Never", nil),
		),
		flowDef("greet",
			matchStmt("UserGreeted", nil),
			sendStmt("BotGreeted", nil),
			matchStmt("UserLeft", nil),
			sendStmt("BotWaved", nil),
			matchStmt("Never", nil),
		),
	}
	svc := testService(t, defs...)

	e1 := New("snap", svc, 3)
	require.NoError(t, e1.Boot("main", nil))
	e1.Step(ext("UserGreeted", nil))

	// serialize, restore into a second engine, continue both
	data := mustJSON(t, e1.Snapshot())
	var snap model.Snapshot
	require.NoError(t, json.Unmarshal([]byte(data), &snap))

	e2 := New("other", svc, 99)
	require.NoError(t, e2.Restore(&snap))

	out1 := e1.Step(ext("UserLeft", nil))
	out2 := e2.Step(ext("UserLeft", nil))
	require.Equal(t, out1, out2)
	require.Equal(t, mustJSON(t, e1.Snapshot()), mustJSON(t, e2.Snapshot()))
}

func TestAwaitAction(t *testing.T) {
	svc := testService(t,
		flowDef("main",
			model.StatementDef{Type: model.STATEMENT_AWAIT, Action: "TV", Args: map[string]any{"channel": 3.0}},
			sendStmt("Done", nil),
			matchStmt("Never", nil),
		),
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	snap := e.Snapshot()
	require.Len(t, snap.Actions, 1)
	uid := snap.Actions[0].UID

	require.Empty(t, e.Step(ext("TVActionStarted", map[string]any{model.PARAM_ACTION_UID: uid})))
	out := e.Step(ext("TVActionFinished", map[string]any{model.PARAM_ACTION_UID: uid}))
	require.Equal(t, []string{"Done"}, eventNames(out))
}

func liveFlows(snap *model.Snapshot) map[string]bool {
	flows := map[string]bool{}
	for _, inst := range snap.Instances {
		flows[inst.Flow] = true
	}
	return flows
}

func liveFlowNames(snap *model.Snapshot) []string {
	seen := map[string]bool{}
	var names []string
	for _, inst := range snap.Instances {
		if !seen[inst.Flow] {
			seen[inst.Flow] = true
			names = append(names, inst.Flow)
		}
	}
	return names
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestAwaitBindsImmediateReturnValue(t *testing.T) {
	// Scenario: the awaited body returns without ever parking, so the await
	// completes within the same instant. The bound variable must still carry
	// the return value.
	svc := testService(t,
		flowDef("main",
			matchStmt("Go", nil),
			model.StatementDef{Type: model.STATEMENT_AWAIT, Flow: "quick", As: "x"},
			sendStmt("Got", map[string]any{"value": "{$.x}"}),
			matchStmt("Never", nil),
		),
		flowDef("quick",
			model.StatementDef{Type: model.STATEMENT_RETURN, Value: "'hello'"},
		),
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	out := e.Step(ext("Go", nil))
	require.Equal(t, []string{"Got"}, eventNames(out))
	require.Equal(t, "hello", out[0].StringParam("value"))
}

func TestActiveTemplatePlainStartRestarts(t *testing.T) {
	// Scenario: a template flagged active is started plainly; the start must
	// register the activation, so the instance restarts on terminal.
	svc := testService(t,
		flowDef("main",
			startFlowStmt("responder"),
			matchStmt("Never", nil),
		),
		model.FlowDef{Name: "responder", Active: true, Body: []model.StatementDef{
			matchStmt("A", nil),
			sendStmt("B", nil),
		}},
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	for i := 0; i < 3; i++ {
		out := e.Step(ext("A", nil))
		require.Equal(t, []string{"B"}, eventNames(out), "round %d", i)
	}
	snap := e.Snapshot()
	require.Contains(t, liveFlows(snap), "responder")
	require.Len(t, snap.Activations, 1)
}

func TestConflictLoserEmissionsSuppressed(t *testing.T) {
	// Scenario: the losing reaction also buffered an emission on an
	// uncontested channel; failing the instance must retract that one too.
	svc := testService(t,
		flowDef("main",
			startFlowStmt("winner"),
			startFlowStmt("loser"),
			matchStmt("Never", nil),
		),
		flowDef("winner",
			matchStmt("Poke", map[string]any{"mode": "loud"}),
			startActionStmt("Speak", map[string]any{"script": "ping"}, ""),
			matchStmt("Never", nil),
		),
		flowDef("loser",
			matchStmt("Poke", nil),
			startActionStmt("Speak", map[string]any{"script": "pong"}, ""),
			sendStmt("Aside", nil),
			matchStmt("Never", nil),
		),
	)
	e := New("test", svc, 1)
	require.NoError(t, e.Boot("main", nil))

	out := e.Step(ext("Poke", map[string]any{"mode": "loud"}))
	require.Equal(t, []string{"StartSpeakAction"}, eventNames(out))
	require.Equal(t, "ping", out[0].StringParam("script"))

	snap := e.Snapshot()
	require.NotContains(t, liveFlows(snap), "loser")
	require.Len(t, snap.Actions, 1)
}

func TestActivationSurvivesRestoreWithoutArgs(t *testing.T) {
	// Scenario: a configuration activated with no arguments must keep
	// restarting after a snapshot round trip.
	defs := []model.FlowDef{
		flowDef("main",
			matchStmt("Never", nil),
		),
		model.FlowDef{Name: "responder", Active: true, Body: []model.StatementDef{
			matchStmt("A", nil),
			sendStmt("B", nil),
		}},
	}
	svc := testService(t, defs...)

	e1 := New("test", svc, 1)
	require.NoError(t, e1.Boot("main", nil))
	e1.Step(ext(model.START_FLOW_EVENT, map[string]any{
		model.PARAM_FLOW_ID:   "responder",
		model.PARAM_ACTIVATED: true,
	}))

	data := mustJSON(t, e1.Snapshot())
	var snap model.Snapshot
	require.NoError(t, json.Unmarshal([]byte(data), &snap))
	e2 := New("test", svc, 1)
	require.NoError(t, e2.Restore(&snap))

	for i := 0; i < 2; i++ {
		out := e2.Step(ext("A", nil))
		require.Equal(t, []string{"B"}, eventNames(out), "round %d", i)
	}
}
