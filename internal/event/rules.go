package event

import (
	"fmt"

	"github.com/google/cel-go/cel"
	json "github.com/goccy/go-json"
)

// rule is a compiled CEL gate predicate.
type rule struct {
	expr string
	prog cel.Program
}

func compileRule(expr string) (rule, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("timestamp", cel.IntType),
		cel.Variable("payload", cel.DynType),
	)
	if err != nil {
		return rule{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return rule{}, iss.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return rule{}, err
	}
	return rule{expr: expr, prog: prog}, nil
}

// check returns a SchemaViolation when the rule does not evaluate to true.
func (r rule) check(e Event) error {
	var payload any
	_ = json.Unmarshal(e.Payload, &payload)
	out, _, err := r.prog.Eval(map[string]any{
		"id":        e.ID,
		"type":      e.Type,
		"timestamp": e.Timestamp,
		"payload":   payload,
	})
	if err != nil {
		return violation("", fmt.Sprintf("rule %q: %v", r.expr, err))
	}
	if ok, _ := out.Value().(bool); !ok {
		return violation("", fmt.Sprintf("rule %q rejected event", r.expr))
	}
	return nil
}
