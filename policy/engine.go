package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by a command policy.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Engine is the OPA policy engine deciding which programs may be spawned.
type Engine struct {
	query rego.PreparedEvalQuery
}

// CommandInput is the document a command policy is evaluated against.
type CommandInput struct {
	Program string   `json:"program"`
	Args    []string `json:"args"`
	Allowed []string `json:"allowed"`
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.command_policy.decision"),
		rego.Module("command_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the policy decision for a proposed command.
// Anything other than a string result is treated as a deny.
func (e *Engine) Evaluate(ctx context.Context, input CommandInput) (string, error) {
	if input.Args == nil {
		input.Args = []string{}
	}
	if input.Allowed == nil {
		input.Allowed = []string{}
	}
	doc := map[string]interface{}{
		"program": input.Program,
		"args":    toInterfaces(input.Args),
		"allowed": toInterfaces(input.Allowed),
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionDeny, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionDeny, nil
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// DefaultPolicy allows exactly the configured allow-list.
const DefaultPolicy = `
package command_policy

default decision = "deny"

decision = "allow" {
	input.program == input.allowed[_]
}
`
