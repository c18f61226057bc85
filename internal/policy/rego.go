package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// RegoPredicate is an optional advanced-mode admission predicate evaluated
// after the built-in module admission rules (see AdmitModuleWithRego); it
// is not applied to target, event-type, budget or depth admission. It is
// additive: the built-in
// Go rules are always authoritative on their own; a configured Rego module
// only adds a second, richer predicate (§ DOMAIN STACK).
type RegoPredicate struct {
	query rego.PreparedEvalQuery
}

// NewRegoPredicate compiles module (a Rego policy body) against the query
// `data.osint.policy.allow`, returning a reusable prepared query.
func NewRegoPredicate(ctx context.Context, module string) (*RegoPredicate, error) {
	query, err := rego.New(
		rego.Query("data.osint.policy.allow"),
		rego.Module("scan_policy.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy: compile rego module: %w", err)
	}

	return &RegoPredicate{query: query}, nil
}

// Evaluate runs the compiled policy against input (typically a map with
// "module", "event_type", "depth" keys) and reports whether any result set
// evaluated to true.
func (r *RegoPredicate) Evaluate(ctx context.Context, input map[string]interface{}) (bool, error) {
	results, err := r.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("policy: evaluate rego predicate: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, nil
	}

	return allowed, nil
}

// AdmitModuleWithRego combines the built-in module admission decision with
// an optional Rego predicate: the module is admitted only if both agree
// (built-in rules remain authoritative; Rego can only narrow, never widen,
// admission).
func (p Policy) AdmitModuleWithRego(ctx context.Context, predicate *RegoPredicate, moduleName string) (Decision, error) {
	decision := p.AdmitModule(moduleName)
	if !decision.Allowed || predicate == nil {
		return decision, nil
	}

	allowed, err := predicate.Evaluate(ctx, map[string]interface{}{"module": moduleName})
	if err != nil {
		return Decision{}, err
	}

	if !allowed {
		return Deny(fmt.Sprintf("module %q rejected by rego policy", moduleName)), nil
	}

	return Allow(), nil
}
