package expr

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

// EvalError is a pattern-level evaluation failure. It fails the offending
// instance's current statement chain, never the whole runtime.
type EvalError struct {
	Type    string
	Message string
}

func (e EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Eval evaluates a javascript expression with the instance scope bound to `$`
// and the process-wide variable map bound to `global`. The result is
// normalized through JSON so downstream code only ever sees nil, bool,
// float64, string, []any and map[string]any.
func Eval(expression string, scope map[string]any, globals map[string]any) (any, error) {
	if scope == nil {
		scope = map[string]any{}
	}
	if globals == nil {
		globals = map[string]any{}
	}
	scopeData, err := json.Marshal(scope)
	if err != nil {
		return nil, EvalError{Type: "ScopeError", Message: err.Error()}
	}
	globalData, err := json.Marshal(globals)
	if err != nil {
		return nil, EvalError{Type: "ScopeError", Message: err.Error()}
	}
	vm := goja.New()
	preamble := fmt.Sprintf("var $ = %s;\nvar global = %s;\n", scopeData, globalData)
	if _, err := vm.RunString(preamble); err != nil {
		return nil, EvalError{Type: "ScopeError", Message: err.Error()}
	}
	val, err := vm.RunString(expression)
	if err != nil {
		return nil, EvalError{Type: "ExpressionError", Message: err.Error()}
	}
	return normalize(val.Export())
}

func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, EvalError{Type: "ExpressionError", Message: err.Error()}
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, EvalError{Type: "ExpressionError", Message: err.Error()}
	}
	return out, nil
}
