package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/execution-hub/moldwatch/internal/domain/controller"
)

var (
	ErrInvalidCondition = errors.New("invalid condition")
	ErrNotBoolean       = errors.New("condition did not evaluate to boolean")
)

// Condition is a compiled boolean expression over a controller state.
// Variables are the state's JSON field names; nested fields are joined with
// dots and must be bracketed, e.g. "opMode == 'Automatic' && [alarms.E01]".
type Condition struct {
	expr  *govaluate.EvaluableExpression
	fixed *bool
}

// Compile parses condition. Empty condition matches everything. Supports
// "true"/"false" literals.
func Compile(condition string) (*Condition, error) {
	cond := strings.TrimSpace(condition)
	switch strings.ToLower(cond) {
	case "", "true":
		v := true
		return &Condition{fixed: &v}, nil
	case "false":
		v := false
		return &Condition{fixed: &v}, nil
	}

	expr, err := govaluate.NewEvaluableExpression(cond)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	return &Condition{expr: expr}, nil
}

// Match evaluates the condition against one state.
func (c *Condition) Match(state controller.State) (bool, error) {
	if c.fixed != nil {
		return *c.fixed, nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return false, err
	}
	result, err := c.expr.Evaluate(buildContextParams(raw))
	if err != nil {
		return false, err
	}
	switch v := result.(type) {
	case bool:
		return v, nil
	default:
		return false, ErrNotBoolean
	}
}

// Filter returns the states matching condition, preserving order. States the
// expression cannot be evaluated against (missing fields, type mismatches)
// do not match.
func Filter(condition string, states []controller.State) ([]controller.State, error) {
	c, err := Compile(condition)
	if err != nil {
		return nil, err
	}
	out := make([]controller.State, 0, len(states))
	for _, st := range states {
		ok, err := c.Match(st)
		if err != nil || !ok {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func buildContextParams(contextJSON json.RawMessage) map[string]interface{} {
	params := map[string]interface{}{}
	if len(contextJSON) == 0 {
		return params
	}
	var raw interface{}
	if err := json.Unmarshal(contextJSON, &raw); err != nil {
		return params
	}
	if m, ok := raw.(map[string]interface{}); ok {
		for k, v := range m {
			params[k] = v
		}
		flattenContext("", m, params)
	}
	return params
}

func flattenContext(prefix string, m map[string]interface{}, out map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case map[string]interface{}:
			flattenContext(key, vv, out)
		default:
			out[key] = vv
		}
	}
}
