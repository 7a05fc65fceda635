package match

import (
	"testing"

	"github.com/parley-run/parley/model"
	"github.com/stretchr/testify/require"
)

func TestScoreExactAndDecay(t *testing.T) {
	ev := model.NewEvent("UtteranceUserActionFinished", map[string]any{
		"final_transcript": "Hi",
		"confidence":       0.93,
	})

	full := model.EventDef{Name: "UtteranceUserActionFinished", Params: map[string]any{
		"final_transcript": "Hi",
		"confidence":       0.93,
	}}
	partial := model.EventDef{Name: "UtteranceUserActionFinished", Params: map[string]any{
		"final_transcript": "Hi",
	}}
	empty := model.EventDef{Name: "UtteranceUserActionFinished"}

	sFull, ok := Score(full, ev, 1)
	require.True(t, ok)
	require.Equal(t, 1.0, sFull)

	sPartial, ok := Score(partial, ev, 1)
	require.True(t, ok)
	require.Equal(t, UNNAMED_PARAM_DECAY, sPartial)

	sEmpty, ok := Score(empty, ev, 1)
	require.True(t, ok)
	require.Equal(t, UNNAMED_PARAM_DECAY*UNNAMED_PARAM_DECAY, sEmpty)

	// score monotonicity: subsets score lower or equal
	require.GreaterOrEqual(t, sFull, sPartial)
	require.GreaterOrEqual(t, sPartial, sEmpty)
}

func TestScoreNoMatch(t *testing.T) {
	ev := model.NewEvent("UserIntent", map[string]any{"intent": "greet"})

	_, ok := Score(model.EventDef{Name: "BotIntent"}, ev, 1)
	require.False(t, ok)

	_, ok = Score(model.EventDef{Name: "UserIntent", Params: map[string]any{"intent": "bye"}}, ev, 1)
	require.False(t, ok)

	// parameter named by the pattern but missing on the event
	_, ok = Score(model.EventDef{Name: "UserIntent", Params: map[string]any{"speed": 1.0}}, ev, 1)
	require.False(t, ok)
}

func TestScoreFlowPriority(t *testing.T) {
	ev := model.NewEvent("UserIntent", map[string]any{"intent": "greet"})
	pattern := model.EventDef{Name: "UserIntent", Params: map[string]any{"intent": "greet"}}

	s, ok := Score(pattern, ev, 0.5)
	require.True(t, ok)
	require.Equal(t, 0.5, s)

	// out-of-range priority is ignored, never raises a score
	s, ok = Score(pattern, ev, 2.0)
	require.True(t, ok)
	require.Equal(t, 1.0, s)
}

func TestMatchValueContainers(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"regex substring": func(t *testing.T) {
			ev := model.NewEvent("Ev", map[string]any{"text": "hello there"})
			pattern := model.EventDef{Name: "Ev", Params: map[string]any{
				"text": map[string]any{OP_REGEX: "hel+o"},
			}}
			_, ok := Score(pattern, ev, 1)
			require.True(t, ok)
		},
		"list prefix": func(t *testing.T) {
			ev := model.NewEvent("Ev", map[string]any{"steps": []any{"a", "b", "c"}})
			ok1 := matchValue([]any{"a", "b"}, ev.Params["steps"])
			require.True(t, ok1)
			require.False(t, matchValue([]any{"b"}, ev.Params["steps"]))
			require.False(t, matchValue([]any{"a", "b", "c", "d"}, ev.Params["steps"]))
		},
		"set membership": func(t *testing.T) {
			actual := []any{"red", "green", "blue"}
			require.True(t, matchValue(map[string]any{OP_SET: []any{"blue", "red"}}, actual))
			require.False(t, matchValue(map[string]any{OP_SET: []any{"blue", "blue"}}, []any{"blue"}))
		},
		"dict by key": func(t *testing.T) {
			actual := map[string]any{"user": map[string]any{"name": "ann", "age": 12}}
			expected := map[string]any{"user": map[string]any{"name": "ann"}}
			require.True(t, matchValue(expected, actual))
			require.False(t, matchValue(map[string]any{"user": map[string]any{"name": "bob"}}, actual))
		},
		"numeric normalization": func(t *testing.T) {
			require.True(t, matchValue(1, 1.0))
			require.True(t, matchValue(int64(3), 3))
			require.False(t, matchValue(1, "1"))
		},
	} {
		t.Run(scenario, fn)
	}
}
