package lang

import (
	"hash/fnv"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Reason explains which path the evaluator took to reach a Decision.
type Reason int

const (
	ReasonTargetingMatch Reason = iota
	ReasonDefault
	ReasonNotFound
	ReasonNoMatch
	ReasonRequireFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonTargetingMatch:
		return "TARGETING_MATCH"
	case ReasonDefault:
		return "DEFAULT"
	case ReasonNotFound:
		return "NOT_FOUND"
	case ReasonNoMatch:
		return "NO_MATCH"
	case ReasonRequireFailed:
		return "REQUIRE_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Decision is the result of evaluating a single flag.
type Decision struct {
	Value  FlagReturn
	Reason Reason
}

// EvalError wraps failures that occur while evaluating an expression, kept
// distinct from ParseError per the taxonomy in spec.md §7.
type EvalError struct {
	Flag string
	Err  error
}

func (e *EvalError) Error() string {
	return errors.Wrapf(e.Err, "evaluating flag %q", e.Flag).Error()
}

func (e *EvalError) Unwrap() error { return e.Err }

// Context is the caller-supplied attribute bag used to resolve Variable
// references. Values are coerced lazily on lookup via CoerceContextValue so
// callers can pass plain strings.
type Context map[string]string

// Clock supplies the evaluating node's wall clock to now(); evaluate's wiring
// defaults to the real clock but tests can substitute a fixed one. Each node
// reads its own clock with no cross-node sync, so rules using now() are
// best-effort and may differ between replicas within their clock skew.
type Clock func() time.Time

// Evaluator walks a ParsedFlagfile to answer evaluate(flag, ctx, ns, env).
// It carries no mutable state of its own; the flagfile and clock are
// supplied per-call so one Evaluator can serve many namespaces/versions.
type Evaluator struct {
	Now Clock
}

// NewEvaluator returns an Evaluator backed by the real wall clock.
func NewEvaluator() *Evaluator {
	return &Evaluator{Now: time.Now}
}

// Evaluate implements the algorithm of spec.md §4.2. env is empty for the
// base (no-environment-overlay) decision.
func (e *Evaluator) Evaluate(pf *ParsedFlagfile, flagName string, ctx Context, env string) (Decision, error) {
	fd, ok := pf.Flag(flagName)
	if !ok {
		return Decision{Reason: ReasonNotFound}, nil
	}

	for _, req := range fd.Metadata.Requires {
		reqDecision, err := e.Evaluate(pf, req, ctx, env)
		if err != nil {
			return Decision{}, err
		}
		if !(reqDecision.Value.Kind == ReturnOnOff && reqDecision.Value.Bool) {
			return Decision{Reason: ReasonRequireFailed}, nil
		}
	}

	return e.walkRules(pf, fd.Rules, ctx, env, flagName)
}

func (e *Evaluator) walkRules(pf *ParsedFlagfile, rules []Rule, ctx Context, env, flagName string) (Decision, error) {
	for _, r := range rules {
		switch r.Kind {
		case RuleEnv:
			if r.EnvName != env {
				continue
			}
			d, err := e.walkRules(pf, r.Sub, ctx, env, flagName)
			if err != nil {
				return Decision{}, err
			}
			if d.Reason != ReasonNoMatch {
				return d, nil
			}
		case RuleCond:
			matched, err := e.evalExpr(pf, r.Expr, ctx, flagName, map[string]bool{})
			if err != nil {
				return Decision{}, err
			}
			if matched {
				return Decision{Value: r.Return, Reason: ReasonTargetingMatch}, nil
			}
		case RuleValue:
			return Decision{Value: r.Return, Reason: ReasonDefault}, nil
		}
	}
	return Decision{Reason: ReasonNoMatch}, nil
}

// evalExpr evaluates a guard expression to a boolean. visitedSegments guards
// against a segment-reference cycle at runtime (lint is expected to reject
// cycles statically, but evaluation stays safe regardless).
func (e *Evaluator) evalExpr(pf *ParsedFlagfile, expr Expr, ctx Context, flagName string, visitedSegments map[string]bool) (bool, error) {
	switch n := expr.(type) {
	case *VoidNode:
		return true, nil
	case *ConstantNode:
		if n.Value.Kind == AtomBoolean {
			return n.Value.Bool, nil
		}
		return true, nil
	case *ScopeNode:
		inner, err := e.evalExpr(pf, n.Inner, ctx, flagName, visitedSegments)
		if err != nil {
			return false, err
		}
		if n.Negate {
			return !inner, nil
		}
		return inner, nil
	case *LogicNode:
		left, err := e.evalExpr(pf, n.Left, ctx, flagName, visitedSegments)
		if err != nil {
			return false, err
		}
		if n.Op == OpAnd && !left {
			return false, nil
		}
		if n.Op == OpOr && left {
			return true, nil
		}
		return e.evalExpr(pf, n.Right, ctx, flagName, visitedSegments)
	case *SegmentNode:
		if visitedSegments[n.Name] {
			return false, nil
		}
		segExpr, ok := pf.Segments[n.Name]
		if !ok {
			return false, &EvalError{Flag: flagName, Err: errors.Errorf("undefined segment %q", n.Name)}
		}
		visited := make(map[string]bool, len(visitedSegments)+1)
		for k := range visitedSegments {
			visited[k] = true
		}
		visited[n.Name] = true
		return e.evalExpr(pf, segExpr, ctx, flagName, visited)
	case *CompareNode:
		return e.evalCompare(pf, n, ctx, flagName, visitedSegments)
	case *MatchNode:
		return e.evalMatch(pf, n, ctx, flagName, visitedSegments)
	case *ArrayNode:
		return e.evalArray(pf, n, ctx, flagName, visitedSegments)
	case *PercentageNode:
		return e.evalPercentage(pf, n, ctx, flagName, visitedSegments)
	default:
		return false, &EvalError{Flag: flagName, Err: errors.Errorf("%T is not a boolean guard expression", expr)}
	}
}

func (e *Evaluator) evalCompare(pf *ParsedFlagfile, n *CompareNode, ctx Context, flagName string, visited map[string]bool) (bool, error) {
	left, lok, err := e.resolveAtom(pf, n.Left, ctx, flagName, visited)
	if err != nil {
		return false, err
	}
	right, rok, err := e.resolveAtom(pf, n.Right, ctx, flagName, visited)
	if err != nil {
		return false, err
	}
	if !lok || !rok {
		return false, nil
	}
	if n.Op == OpEq {
		return left.Equal(right), nil
	}
	if n.Op == OpNotEq {
		return !left.Equal(right), nil
	}
	cmp, ok := left.Compare(right)
	if !ok {
		return false, nil
	}
	switch n.Op {
	case OpLt:
		return cmp < 0, nil
	case OpLte:
		return cmp <= 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpGte:
		return cmp >= 0, nil
	}
	return false, nil
}

func (e *Evaluator) evalMatch(pf *ParsedFlagfile, n *MatchNode, ctx Context, flagName string, visited map[string]bool) (bool, error) {
	left, lok, err := e.resolveAtom(pf, n.Left, ctx, flagName, visited)
	if err != nil {
		return false, err
	}
	if !lok {
		return false, nil
	}
	leftStr := left.String()

	if n.Op == OpRegex || n.Op == OpNotRegex {
		re, err := regexp.Compile(n.Pattern)
		if err != nil {
			return false, nil // an unparseable regex makes the rule false, per §4.2
		}
		matched := re.MatchString(leftStr)
		if n.Op == OpNotRegex {
			return !matched, nil
		}
		return matched, nil
	}

	right, rok, err := e.resolveAtom(pf, n.Right, ctx, flagName, visited)
	if err != nil {
		return false, err
	}
	if !rok {
		return false, nil
	}
	rightStr := right.String()

	switch n.Op {
	case OpContains:
		return strings.Contains(leftStr, rightStr), nil
	case OpNotContains:
		return !strings.Contains(leftStr, rightStr), nil
	case OpStartsWith:
		return strings.HasPrefix(leftStr, rightStr), nil
	case OpNotStartsWith:
		return !strings.HasPrefix(leftStr, rightStr), nil
	case OpEndsWith:
		return strings.HasSuffix(leftStr, rightStr), nil
	case OpNotEndsWith:
		return !strings.HasSuffix(leftStr, rightStr), nil
	}
	return false, nil
}

func (e *Evaluator) evalArray(pf *ParsedFlagfile, n *ArrayNode, ctx Context, flagName string, visited map[string]bool) (bool, error) {
	left, lok, err := e.resolveAtom(pf, n.Left, ctx, flagName, visited)
	if err != nil {
		return false, err
	}
	if !lok {
		return false, nil
	}
	found := false
	for _, item := range n.List.Items {
		if left.Equal(item) {
			found = true
			break
		}
	}
	if n.Negate {
		return !found, nil
	}
	return found, nil
}

func (e *Evaluator) evalPercentage(pf *ParsedFlagfile, n *PercentageNode, ctx Context, flagName string, visited map[string]bool) (bool, error) {
	field, ok, err := e.resolveAtom(pf, n.Field, ctx, flagName, visited)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return percentageHash(field.String()) < n.Rate, nil
}

// percentageHash maps s to [0, 100) deterministically across nodes and
// versions: 64-bit FNV-1a of the UTF-8 bytes, then (h mod 10_000) / 100.0,
// per spec.md §4.2/§9(a).
func percentageHash(s string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return float64(h.Sum64()%10000) / 100.0
}

// resolveAtom evaluates an expression down to an Atom value. Functions
// (lower/upper/now), constants, variables and coalesce all produce atoms;
// boolean-only nodes (Logic, Compare, ...) cannot appear here and are a
// programmer error caught by the parser's grammar, not a runtime case.
func (e *Evaluator) resolveAtom(pf *ParsedFlagfile, expr Expr, ctx Context, flagName string, visited map[string]bool) (Atom, bool, error) {
	switch n := expr.(type) {
	case *ConstantNode:
		return n.Value, true, nil
	case *VariableNode:
		raw, present := ctx[n.Name]
		if !present {
			return Atom{}, false, nil
		}
		return CoerceContextValue(raw), true, nil
	case *FunctionNode:
		return e.resolveFunction(pf, n, ctx, flagName, visited)
	case *CoalesceNode:
		return e.resolveCoalesce(pf, n, ctx, flagName, visited)
	default:
		return Atom{}, false, &EvalError{Flag: flagName, Err: errors.Errorf("%T is not a value expression", expr)}
	}
}

func (e *Evaluator) resolveFunction(pf *ParsedFlagfile, n *FunctionNode, ctx Context, flagName string, visited map[string]bool) (Atom, bool, error) {
	switch n.Kind {
	case FuncNow:
		return NewDateTimeAtom(e.clock()), true, nil
	case FuncLower, FuncUpper:
		arg, ok, err := e.resolveAtom(pf, n.Arg, ctx, flagName, visited)
		if err != nil || !ok {
			return Atom{}, ok, err
		}
		s := arg.String()
		if n.Kind == FuncLower {
			s = strings.ToLower(s)
		} else {
			s = strings.ToUpper(s)
		}
		return NewStringAtom(s), true, nil
	default:
		return Atom{}, false, &EvalError{Flag: flagName, Err: errors.Errorf("unknown function kind %v", n.Kind)}
	}
}

// resolveCoalesce returns the first argument whose underlying variable is
// present in the context; if none are, it returns the last argument's raw
// value regardless of presence, per spec.md §4.2.
func (e *Evaluator) resolveCoalesce(pf *ParsedFlagfile, n *CoalesceNode, ctx Context, flagName string, visited map[string]bool) (Atom, bool, error) {
	var last Atom
	for i, arg := range n.Args {
		a, ok, err := e.resolveAtom(pf, arg, ctx, flagName, visited)
		if err != nil {
			return Atom{}, false, err
		}
		if ok {
			return a, true, nil
		}
		if i == len(n.Args)-1 {
			last = a
		}
	}
	return last, true, nil
}

func (e *Evaluator) clock() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

