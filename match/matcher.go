package match

import (
	"fmt"
	"regexp"

	"github.com/parley-run/parley/model"
)

// Score applied for every parameter present on the event but not named by the
// pattern: a pattern that pins down fewer parameters describes the event less
// specifically.
const UNNAMED_PARAM_DECAY float64 = 0.9

// Operator keys recognized inside pattern parameter values.
const OP_REGEX string = "$regex"
const OP_SET string = "$set"

// Score computes the matching score of a pattern against an event. The second
// return value is false when the pattern does not match at all; otherwise the
// score is in (0, 1]. priority is the flow-level multiplier; values outside
// (0, 1] are treated as 1.
func Score(pattern model.EventDef, event model.Event, priority float64) (float64, bool) {
	if pattern.Name != event.Name {
		return 0, false
	}
	for name, expected := range pattern.Params {
		actual, ok := event.Params[name]
		if !ok {
			return 0, false
		}
		if !matchValue(expected, actual) {
			return 0, false
		}
	}
	score := 1.0
	for name := range event.Params {
		if _, ok := pattern.Params[name]; !ok {
			score *= UNNAMED_PARAM_DECAY
		}
	}
	if priority > 0 && priority <= 1 {
		score *= priority
	}
	return score, true
}

func matchValue(expected any, actual any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		if pat, ok := exp[OP_REGEX]; ok && len(exp) == 1 {
			return matchRegex(fmt.Sprintf("%v", pat), actual)
		}
		if elems, ok := exp[OP_SET]; ok && len(exp) == 1 {
			return matchSet(elems, actual)
		}
		actualMap, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, ok := actualMap[k]
			if !ok {
				return false
			}
			if !matchValue(v, av) {
				return false
			}
		}
		return true
	case []any:
		actualList, ok := actual.([]any)
		if !ok {
			return false
		}
		// expected list may be a prefix of the actual one
		if len(exp) > len(actualList) {
			return false
		}
		for i, v := range exp {
			if !matchValue(v, actualList[i]) {
				return false
			}
		}
		return true
	default:
		return scalarEqual(expected, actual)
	}
}

// matchRegex performs a substring search of the pattern in the stringified
// actual value.
func matchRegex(pattern string, actual any) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(fmt.Sprintf("%v", actual))
}

// matchSet requires every expected element to find some distinct matching
// element of the actual list, in any order.
func matchSet(elems any, actual any) bool {
	expList, ok := elems.([]any)
	if !ok {
		return false
	}
	actualList, ok := actual.([]any)
	if !ok {
		return false
	}
	used := make([]bool, len(actualList))
	for _, exp := range expList {
		found := false
		for i, av := range actualList {
			if used[i] {
				continue
			}
			if matchValue(exp, av) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func scalarEqual(expected any, actual any) bool {
	if ef, ok := toFloat(expected); ok {
		if af, ok := toFloat(actual); ok {
			return ef == af
		}
		return false
	}
	return expected == actual
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
