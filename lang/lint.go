package lang

import (
	"fmt"
	"time"
)

// LintLevel is the severity of a single finding.
type LintLevel int

const (
	LintWarn LintLevel = iota
	LintError
)

func (l LintLevel) String() string {
	if l == LintError {
		return "error"
	}
	return "warn"
}

// LintFinding is one entry of a lint run, in the order the rule discovered it.
type LintFinding struct {
	Level   LintLevel
	Message string
}

// Lint runs the required rules of spec.md §4.3 over a parsed flagfile and
// returns an ordered list of findings. It never mutates pf.
func Lint(pf *ParsedFlagfile) []LintFinding {
	l := &linter{pf: pf}
	l.checkDuplicateFlagNames()
	l.checkRequiresGraph()
	l.checkSegmentGraph()
	l.checkUnusedSegments()
	for _, fd := range pf.Flags {
		l.checkFlag(fd)
	}
	return l.findings
}

type linter struct {
	pf              *ParsedFlagfile
	findings        []LintFinding
	usedSegments    map[string]bool
}

func (l *linter) warn(format string, args ...interface{}) {
	l.findings = append(l.findings, LintFinding{LintWarn, fmt.Sprintf(format, args...)})
}

func (l *linter) err(format string, args ...interface{}) {
	l.findings = append(l.findings, LintFinding{LintError, fmt.Sprintf(format, args...)})
}

func (l *linter) checkDuplicateFlagNames() {
	seen := map[string]bool{}
	for _, fd := range l.pf.Flags {
		if seen[fd.Name] {
			l.err("duplicate flag name %q", fd.Name)
		}
		seen[fd.Name] = true
	}
}

// checkRequiresGraph reports undefined @requires targets and any cycle in
// the requires graph (a flag transitively requiring itself).
func (l *linter) checkRequiresGraph() {
	for _, fd := range l.pf.Flags {
		for _, req := range fd.Metadata.Requires {
			if !l.pf.HasFlag(req) {
				l.err("flag %q requires undefined flag %q", fd.Name, req)
			}
		}
	}
	seen := map[string]bool{}
	for _, fd := range l.pf.Flags {
		if seen[fd.Name] {
			continue
		}
		l.walkRequires(fd.Name, map[string]bool{}, seen)
	}
}

func (l *linter) walkRequires(name string, path map[string]bool, globallySeen map[string]bool) {
	if path[name] {
		l.err("circular requires involving flag %q", name)
		return
	}
	fd, ok := l.pf.Flag(name)
	if !ok {
		return
	}
	path[name] = true
	globallySeen[name] = true
	for _, req := range fd.Metadata.Requires {
		l.walkRequires(req, path, globallySeen)
	}
	delete(path, name)
}

// checkSegmentGraph reports undefined segment references and cycles among
// segment definitions themselves (a segment expression referencing a
// segment that, transitively, references it back).
func (l *linter) checkSegmentGraph() {
	l.usedSegments = map[string]bool{}
	for name, expr := range l.pf.Segments {
		l.walkSegmentRefs(name, expr, map[string]bool{name: true}, true)
	}
	for _, fd := range l.pf.Flags {
		for _, r := range fd.Rules {
			l.checkSegmentRefsInRule(r)
		}
	}
}

func (l *linter) checkSegmentRefsInRule(r Rule) {
	if r.Kind == RuleCond {
		l.walkSegmentRefs("", r.Expr, map[string]bool{}, false)
	}
	for _, sub := range r.Sub {
		l.checkSegmentRefsInRule(sub)
	}
}

// walkSegmentRefs recurses into expr looking for SegmentNode references.
// When fromSegment is true, path carries the segments visited so far from
// the defining segment's own body, so a cycle back to the origin is caught;
// every reference found also marks that segment as used.
func (l *linter) walkSegmentRefs(originSegment string, expr Expr, path map[string]bool, fromSegment bool) {
	switch n := expr.(type) {
	case *SegmentNode:
		l.usedSegments[n.Name] = true
		target, ok := l.pf.Segments[n.Name]
		if !ok {
			l.err("undefined segment %q", n.Name)
			return
		}
		if fromSegment {
			if path[n.Name] {
				l.err("circular segment reference involving %q", n.Name)
				return
			}
			next := make(map[string]bool, len(path)+1)
			for k := range path {
				next[k] = true
			}
			next[n.Name] = true
			l.walkSegmentRefs(originSegment, target, next, true)
		}
	case *LogicNode:
		l.walkSegmentRefs(originSegment, n.Left, path, fromSegment)
		l.walkSegmentRefs(originSegment, n.Right, path, fromSegment)
	case *ScopeNode:
		l.walkSegmentRefs(originSegment, n.Inner, path, fromSegment)
	case *CompareNode:
		l.walkSegmentRefs(originSegment, n.Left, path, fromSegment)
		l.walkSegmentRefs(originSegment, n.Right, path, fromSegment)
	case *MatchNode:
		l.walkSegmentRefs(originSegment, n.Left, path, fromSegment)
		if n.Right != nil {
			l.walkSegmentRefs(originSegment, n.Right, path, fromSegment)
		}
	case *ArrayNode:
		l.walkSegmentRefs(originSegment, n.Left, path, fromSegment)
	}
}

func (l *linter) checkUnusedSegments() {
	for name := range l.pf.Segments {
		if !l.usedSegments[name] {
			l.warn("unused segment %q", name)
		}
	}
}

func (l *linter) checkFlag(fd FlagDefinition) {
	l.checkEmptyFlag(fd)
	l.checkCatchAll(fd)
	l.checkEnvMissingDefault(fd)
	l.checkDeprecatedAndExpiry(fd)
	l.checkExperimentType(fd)
	l.checkOwnerPresence(fd)
	l.checkDuplicateEnvAndRequires(fd)
	l.checkReturnTypeConsistency(fd)
	for _, r := range fd.Rules {
		l.checkRulePercentage(fd.Name, r)
		l.checkTautology(fd.Name, r)
		l.checkRedundantNestedFunction(fd.Name, r.Expr)
	}
}

// checkEmptyFlag warns on a flag with no rules at all, which always
// evaluates to ReasonNoMatch.
func (l *linter) checkEmptyFlag(fd FlagDefinition) {
	if len(fd.Rules) == 0 {
		l.warn("flag %q has no rules (will always evaluate to none)", fd.Name)
	}
}

// checkEnvMissingDefault warns specifically on the @env case of
// checkCatchAll's broader rule: a flag with an @env rule block but no
// trailing plain-Value fallback for environments not listed there. This
// overlaps with checkCatchAll (which already errors whenever any guarded
// rule lacks a trailing catch-all) but is kept as its own check to surface
// the @env-specific wording.
func (l *linter) checkEnvMissingDefault(fd FlagDefinition) {
	if len(fd.Rules) == 0 {
		return
	}
	hasEnvRule := false
	for _, r := range fd.Rules {
		if r.Kind == RuleEnv {
			hasEnvRule = true
			break
		}
	}
	if !hasEnvRule {
		return
	}
	if last := fd.Rules[len(fd.Rules)-1]; last.Kind != RuleValue {
		l.warn("flag %q has @env rules but no fallback for unlisted environments", fd.Name)
	}
}

// checkCatchAll enforces invariant 4: if a flag has any Cond/EnvRule, its
// last rule must be a plain Value catch-all, and flags no rules are allowed
// ("no match"); it also flags unreachable rules that follow a catch-all.
func (l *linter) checkCatchAll(fd FlagDefinition) {
	if len(fd.Rules) == 0 {
		return
	}
	hasGuarded := false
	for _, r := range fd.Rules {
		if r.Kind == RuleCond || r.Kind == RuleEnv {
			hasGuarded = true
		}
	}
	last := fd.Rules[len(fd.Rules)-1]
	if hasGuarded && last.Kind != RuleValue {
		l.err("flag %q has conditional rules but no trailing catch-all", fd.Name)
	}
	for i, r := range fd.Rules {
		if r.Kind == RuleValue && i != len(fd.Rules)-1 {
			l.err("flag %q has unreachable rules after a catch-all", fd.Name)
			break
		}
	}
}

func (l *linter) checkDeprecatedAndExpiry(fd FlagDefinition) {
	if fd.Metadata.HasDeprecated {
		if fd.Metadata.Expires == nil {
			l.warn("flag %q is deprecated without @expires", fd.Name)
		}
	}
	if fd.Metadata.Expires != nil && fd.Metadata.Expires.Date.Before(time.Now()) {
		l.err("flag %q has an @expires date in the past", fd.Name)
	}
}

func (l *linter) checkExperimentType(fd FlagDefinition) {
	if fd.Metadata.FlagType == "experiment" && fd.Metadata.Expires == nil {
		l.err("flag %q is @type experiment without @expires", fd.Name)
	}
}

func (l *linter) checkOwnerPresence(fd FlagDefinition) {
	hasLifecycleMetadata := fd.Metadata.HasDeprecated || fd.Metadata.Expires != nil || fd.Metadata.FlagType != ""
	if hasLifecycleMetadata && !fd.Metadata.HasOwner {
		l.warn("flag %q has lifecycle metadata but no @owner", fd.Name)
	}
}

func (l *linter) checkDuplicateEnvAndRequires(fd FlagDefinition) {
	seenEnv := map[string]bool{}
	for _, r := range fd.Rules {
		if r.Kind != RuleEnv {
			continue
		}
		if seenEnv[r.EnvName] {
			l.err("flag %q has duplicate @env %q", fd.Name, r.EnvName)
		}
		seenEnv[r.EnvName] = true
	}
	seenReq := map[string]bool{}
	for _, req := range fd.Metadata.Requires {
		if seenReq[req] {
			l.err("flag %q has duplicate @requires %q", fd.Name, req)
		}
		seenReq[req] = true
	}
}

// checkReturnTypeConsistency flags a flag whose rules return more than one
// FlagReturnKind, walking into @env overlays too.
func (l *linter) checkReturnTypeConsistency(fd FlagDefinition) {
	kinds := map[FlagReturnKind]bool{}
	var walk func(rs []Rule)
	walk = func(rs []Rule) {
		for _, r := range rs {
			switch r.Kind {
			case RuleValue, RuleCond:
				kinds[r.Return.Kind] = true
			case RuleEnv:
				walk(r.Sub)
			}
		}
	}
	walk(fd.Rules)
	if len(kinds) > 1 {
		l.err("flag %q mixes return types across its rules", fd.Name)
	}
}

func (l *linter) checkRulePercentage(flagName string, r Rule) {
	forEachPercentage(r.Expr, func(p *PercentageNode) {
		if p.Rate < 0 || p.Rate > 100 {
			l.err("flag %q has a percentage() rate %.2f outside [0,100]", flagName, p.Rate)
		}
	})
	for _, sub := range r.Sub {
		l.checkRulePercentage(flagName, sub)
	}
}

func forEachPercentage(expr Expr, visit func(*PercentageNode)) {
	switch n := expr.(type) {
	case *PercentageNode:
		visit(n)
	case *LogicNode:
		forEachPercentage(n.Left, visit)
		forEachPercentage(n.Right, visit)
	case *ScopeNode:
		forEachPercentage(n.Inner, visit)
	case *CoalesceNode:
		for _, a := range n.Args {
			forEachPercentage(a, visit)
		}
	}
}

// checkTautology warns on a bare `TRUE -> ...` guard, which always matches
// and makes any following rules unreachable.
func (l *linter) checkTautology(flagName string, r Rule) {
	if r.Kind != RuleCond {
		return
	}
	if c, ok := r.Expr.(*ConstantNode); ok && c.Value.Kind == AtomBoolean && c.Value.Bool {
		l.warn("flag %q has a tautological `TRUE ->` guard", flagName)
	}
	for _, sub := range r.Sub {
		l.checkTautology(flagName, sub)
	}
}

// checkRedundantNestedFunction warns on lower(lower(x)) / upper(upper(x)).
func (l *linter) checkRedundantNestedFunction(flagName string, expr Expr) {
	switch n := expr.(type) {
	case *FunctionNode:
		if inner, ok := n.Arg.(*FunctionNode); ok && inner.Kind == n.Kind && (n.Kind == FuncLower || n.Kind == FuncUpper) {
			l.warn("flag %q has a redundant nested %s(%s(...))", flagName, n.Kind, n.Kind)
		}
		l.checkRedundantNestedFunction(flagName, n.Arg)
	case *LogicNode:
		l.checkRedundantNestedFunction(flagName, n.Left)
		l.checkRedundantNestedFunction(flagName, n.Right)
	case *ScopeNode:
		l.checkRedundantNestedFunction(flagName, n.Inner)
	case *CompareNode:
		l.checkRedundantNestedFunction(flagName, n.Left)
		l.checkRedundantNestedFunction(flagName, n.Right)
	case *MatchNode:
		l.checkRedundantNestedFunction(flagName, n.Left)
		if n.Right != nil {
			l.checkRedundantNestedFunction(flagName, n.Right)
		}
	case *CoalesceNode:
		for _, a := range n.Args {
			l.checkRedundantNestedFunction(flagName, a)
		}
	}
}
