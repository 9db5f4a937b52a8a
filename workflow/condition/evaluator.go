// Package condition implements the router condition evaluator (§4.3): a
// restricted expression language evaluated with CEL, grounded on the
// teacher's cmd/workflow-runner/condition.Evaluator. The teacher lets any
// CEL expression through against two fixed variables ("output", "ctx");
// this core instead substitutes every $... reference into a fresh CEL
// variable before compiling, then walks the compiled AST to reject any
// construct outside a small allowlist of operators, since the spec's
// grammar is strictly narrower than CEL's.
package condition

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"

	"github.com/flowforge/workflow-core/workflow/resolver"
	"github.com/flowforge/workflow-core/workflow/sdk"
)

// referencePattern finds every $... reference embedded in a condition
// expression, the same token shape resolver.ParseReference accepts.
var referencePattern = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*`)

// allowedOperators is the safe subset of §4.3: boolean logic, comparisons,
// and numeric arithmetic. Everything else CEL can express as a CallExpr
// (string functions, size(), in, macros like has()/all()) is rejected.
var allowedOperators = map[string]bool{
	operators.LogicalAnd:    true,
	operators.LogicalOr:     true,
	operators.LogicalNot:    true,
	operators.Equals:        true,
	operators.NotEquals:     true,
	operators.Less:          true,
	operators.LessEquals:    true,
	operators.Greater:       true,
	operators.GreaterEquals: true,
	operators.Add:           true,
	operators.Subtract:      true,
	operators.Multiply:      true,
	operators.Divide:        true,
	operators.Negate:        true,
}

// elseLiteral is the special condition string that always evaluates true
// (§4.3 "Special label"), distinct from the `default` field.
const elseLiteral = "else"

type refBinding struct {
	name string
	ref  *resolver.Reference
}

type compiledCondition struct {
	program cel.Program
	refs    []refBinding
}

// Evaluator evaluates router conditions, caching the compiled CEL program
// per distinct expression text the way the teacher's Evaluator does.
type Evaluator struct {
	resolver *resolver.Resolver

	mu    sync.RWMutex
	cache map[string]*compiledCondition
}

// NewEvaluator creates a condition evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		resolver: resolver.New(),
		cache:    make(map[string]*compiledCondition),
	}
}

// CheckSyntax compiles expr and rejects any forbidden construct, without
// evaluating it. The compiler calls this for every case condition at
// compile time (§4.3 "Any forbidden syntactic construct MUST cause a
// compile-time rejection"); it does not need a runtime state because
// syntax validity doesn't depend on what a reference resolves to.
func (e *Evaluator) CheckSyntax(expr string) error {
	if strings.TrimSpace(expr) == elseLiteral {
		return nil
	}
	_, err := e.getOrCompile(expr)
	return err
}

// Evaluate resolves expr's references against state (non-strictly, per
// §4.1's table entry for router conditions) and evaluates it. A runtime
// evaluation error is returned as a *sdk.ConditionError; per §4.3 this is
// non-fatal for the router as a whole, it just makes this one case false,
// which is why callers should treat a non-nil error as "false, but noted".
func (e *Evaluator) Evaluate(expr string, state *sdk.State) (bool, error) {
	if strings.TrimSpace(expr) == elseLiteral {
		return true, nil
	}

	cc, err := e.getOrCompile(expr)
	if err != nil {
		return false, &sdk.ConditionError{Expression: expr, Cause: err}
	}

	activation := make(map[string]interface{}, len(cc.refs))
	for _, b := range cc.refs {
		val, err := e.resolver.Resolve(b.ref, state, false)
		if err != nil {
			return false, &sdk.ConditionError{Expression: expr, Cause: err}
		}
		activation[b.name] = val
	}

	out, _, err := cc.program.Eval(activation)
	if err != nil {
		return false, &sdk.ConditionError{Expression: expr, Cause: fmt.Errorf("CEL evaluation error: %w", err)}
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, &sdk.ConditionError{Expression: expr, Cause: fmt.Errorf("condition did not evaluate to a boolean, got %T", out.Value())}
	}
	return result, nil
}

func (e *Evaluator) getOrCompile(expr string) (*compiledCondition, error) {
	e.mu.RLock()
	cc, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return cc, nil
	}

	rewritten, refs, err := substitute(expr)
	if err != nil {
		return nil, err
	}

	opts := make([]cel.EnvOption, len(refs))
	for i, b := range refs {
		opts[i] = cel.Variable(b.name, cel.DynType)
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}

	checked, issues := env.Compile(rewritten)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile condition %q: %w", expr, issues.Err())
	}

	if err := checkSyntax(checked); err != nil {
		return nil, fmt.Errorf("condition %q: %w", expr, err)
	}

	program, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("create CEL program: %w", err)
	}

	cc = &compiledCondition{program: program, refs: refs}
	e.mu.Lock()
	e.cache[expr] = cc
	e.mu.Unlock()
	return cc, nil
}

// substitute finds every $... reference in expr, assigns each distinct
// one a fresh local variable name in order of first appearance, and
// rewrites expr so the reference text never reaches the CEL parser
// (§4.3 "the reference text in the source is rewritten to that name").
func substitute(expr string) (string, []refBinding, error) {
	matches := referencePattern.FindAllString(expr, -1)

	order := make([]string, 0, len(matches))
	names := make(map[string]string, len(matches))
	for _, m := range matches {
		if _, ok := names[m]; !ok {
			names[m] = fmt.Sprintf("v%d", len(order))
			order = append(order, m)
		}
	}

	rewritten := referencePattern.ReplaceAllStringFunc(expr, func(m string) string {
		return names[m]
	})

	refs := make([]refBinding, len(order))
	for i, raw := range order {
		ref, err := resolver.ParseReference(raw)
		if err != nil {
			return "", nil, fmt.Errorf("invalid reference %q: %w", raw, err)
		}
		refs[i] = refBinding{name: names[raw], ref: ref}
	}
	return rewritten, refs, nil
}

// checkSyntax walks checked's AST and rejects any node outside the
// allowed subset: operator calls from allowedOperators, identifiers
// (the substituted reference variables) and literals. Field access,
// indexing, comprehensions, and any other function call are forbidden
// (§4.3 "Forbidden: any function or method call, attribute access,
// subscript, comprehension, lambda, assignment, import").
func checkSyntax(checked *cel.Ast) error {
	return walkExpr(checked.NativeRep().Expr())
}

func walkExpr(e ast.Expr) error {
	if e == nil {
		return nil
	}

	switch e.Kind() {
	case ast.LiteralKind, ast.IdentKind:
		return nil

	case ast.CallKind:
		call := e.AsCall()
		if !allowedOperators[call.FunctionName()] {
			return fmt.Errorf("forbidden function or method call: %s", call.FunctionName())
		}
		if call.IsMemberFunction() {
			if err := walkExpr(call.Target()); err != nil {
				return err
			}
		}
		for _, arg := range call.Args() {
			if err := walkExpr(arg); err != nil {
				return err
			}
		}
		return nil

	case ast.SelectKind:
		return fmt.Errorf("attribute access is not allowed")

	case ast.ComprehensionKind:
		return fmt.Errorf("comprehensions are not allowed")

	case ast.ListKind, ast.MapKind, ast.StructKind:
		return fmt.Errorf("list, map, and struct literals are not allowed")

	default:
		return fmt.Errorf("unsupported expression construct")
	}
}
