package expr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile("{(.*?)}")

// ResolveParams substitutes `{$.path}` tokens in parameter values with values
// looked up in the instance scope. A string consisting of exactly one token
// keeps the type of the looked-up value; mixed strings interpolate.
func ResolveParams(scope map[string]any, params map[string]any) map[string]any {
	output := make(map[string]any)
	resolveParams(scope, params, output)
	return output
}

func resolveParams(scope map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		switch v := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			output[k] = out
			resolveParams(scope, v, out)
		case string:
			output[k] = resolveString(scope, v)
		case []any:
			output[k] = resolveList(scope, v)
		default:
			output[k] = v
		}
	}
}

func resolveList(scope map[string]any, list []any) []any {
	output := make([]any, 0, len(list))
	for _, v := range list {
		switch v := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			resolveParams(scope, v, out)
			output = append(output, out)
		case string:
			output = append(output, resolveString(scope, v))
		case []any:
			output = append(output, resolveList(scope, v))
		default:
			output = append(output, v)
		}
	}
	return output
}

func resolveString(scope map[string]any, s string) any {
	tokens := tokenPattern.FindAllString(s, -1)
	if len(tokens) == 0 {
		return s
	}
	if len(tokens) == 1 && strings.TrimSpace(s) == tokens[0] {
		path := strings.TrimSuffix(strings.TrimPrefix(tokens[0], "{"), "}")
		if strings.HasPrefix(path, "$") {
			value, err := jsonpath.JsonPathLookup(map[string]any(scope), path)
			if err != nil {
				return nil
			}
			return value
		}
		return s
	}
	newStr := s
	for _, token := range tokens {
		path := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if !strings.HasPrefix(path, "$") {
			continue
		}
		value, _ := jsonpath.JsonPathLookup(map[string]any(scope), path)
		newStr = strings.ReplaceAll(newStr, token, fmt.Sprintf("%v", value))
	}
	return newStr
}
