package flow

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/parley-run/parley/model"
)

// Template is the executable form of a flow definition. Templates are
// immutable; all mutable interpretation state lives on flow instances.
type Template struct {
	Name     string
	Params   []model.ParamDef
	Loop     *model.LoopDef
	Active   bool
	Priority float64
	Body     []Statement
}

// Statement mirrors model.StatementDef with validated fields. Group branches
// hold compiled statements so a head position addresses the same tree shape
// as the definition.
type Statement struct {
	Type     string
	Event    *model.EventDef
	Flow     string
	Action   string
	Args     map[string]any
	As       string
	Var      string
	Expr     string
	Global   bool
	Value    string
	Label    string
	Op       string
	Branches [][]Statement
}

func Compile(def model.FlowDef) (*Template, error) {
	if len(def.Name) == 0 {
		return nil, fmt.Errorf("flow definition without a name")
	}
	priority := def.Priority
	if priority == 0 {
		priority = 1.0
	}
	if priority <= 0 || priority > 1 {
		return nil, fmt.Errorf("flow %s: priority %v outside (0,1]", def.Name, def.Priority)
	}
	body, err := compileBody(def.Name, def.Body)
	if err != nil {
		return nil, err
	}
	return &Template{
		Name:     def.Name,
		Params:   def.Params,
		Loop:     def.Loop,
		Active:   def.Active,
		Priority: priority,
		Body:     body,
	}, nil
}

func compileBody(flowName string, defs []model.StatementDef) ([]Statement, error) {
	stmts := make([]Statement, 0, len(defs))
	for i, def := range defs {
		st, err := compileStatement(flowName, def)
		if err != nil {
			return nil, fmt.Errorf("flow %s statement %d: %w", flowName, i, err)
		}
		stmts = append(stmts, st)
	}
	return stmts, nil
}

func compileStatement(flowName string, def model.StatementDef) (Statement, error) {
	st := Statement{
		Type:   def.Type,
		Event:  def.Event,
		Flow:   def.Flow,
		Action: def.Action,
		Args:   def.Args,
		As:     def.As,
		Var:    def.Var,
		Expr:   def.Expr,
		Global: def.Global,
		Value:  def.Value,
		Label:  def.Label,
		Op:     def.Op,
	}
	switch def.Type {
	case model.STATEMENT_MATCH:
		if def.Event == nil || len(def.Event.Name) == 0 {
			return st, fmt.Errorf("match statement without an event")
		}
	case model.STATEMENT_SEND:
		if def.Event == nil || len(def.Event.Name) == 0 {
			return st, fmt.Errorf("send statement without an event")
		}
	case model.STATEMENT_START, model.STATEMENT_AWAIT:
		if len(def.Flow) == 0 && len(def.Action) == 0 {
			return st, fmt.Errorf("%s statement needs a flow or action target", def.Type)
		}
		if len(def.Flow) > 0 && len(def.Action) > 0 {
			return st, fmt.Errorf("%s statement targets both a flow and an action", def.Type)
		}
	case model.STATEMENT_ACTIVATE, model.STATEMENT_DEACTIVATE:
		if len(def.Flow) == 0 {
			return st, fmt.Errorf("%s statement needs a flow target", def.Type)
		}
	case model.STATEMENT_ASSIGN:
		if len(def.Var) == 0 {
			return st, fmt.Errorf("assign statement without a variable")
		}
		if err := checkExpr(def.Expr); err != nil {
			return st, err
		}
	case model.STATEMENT_RETURN:
		if len(def.Value) > 0 {
			if err := checkExpr(def.Value); err != nil {
				return st, err
			}
		}
	case model.STATEMENT_ABORT:
	case model.STATEMENT_LABEL:
		if len(def.Label) == 0 {
			return st, fmt.Errorf("label statement without a name")
		}
	case model.STATEMENT_GROUP:
		if def.Op != model.GROUP_AND && def.Op != model.GROUP_OR {
			return st, fmt.Errorf("group statement with op %q", def.Op)
		}
		if len(def.Branches) < 2 {
			return st, fmt.Errorf("group statement needs at least two branches")
		}
		st.Branches = make([][]Statement, 0, len(def.Branches))
		for _, branch := range def.Branches {
			compiled, err := compileBody(flowName, branch)
			if err != nil {
				return st, err
			}
			st.Branches = append(st.Branches, compiled)
		}
	default:
		return st, fmt.Errorf("unknown statement type %q", def.Type)
	}
	return st, nil
}

func checkExpr(expression string) error {
	if len(expression) == 0 {
		return fmt.Errorf("empty expression")
	}
	if _, err := goja.Compile("", expression, false); err != nil {
		return fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	return nil
}

// StatementsAt resolves a head path to the statement list it addresses: the
// root body for an empty path, otherwise the chain of group branch descents.
func (t *Template) StatementsAt(path [][2]int) ([]Statement, error) {
	body := t.Body
	for _, step := range path {
		stmt, branch := step[0], step[1]
		if stmt < 0 || stmt >= len(body) {
			return nil, fmt.Errorf("flow %s: head path statement %d out of range", t.Name, stmt)
		}
		if body[stmt].Type != model.STATEMENT_GROUP || branch < 0 || branch >= len(body[stmt].Branches) {
			return nil, fmt.Errorf("flow %s: head path branch %d invalid", t.Name, branch)
		}
		body = body[stmt].Branches[branch]
	}
	return body, nil
}
