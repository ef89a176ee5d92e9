package lang

import "encoding/json"

// FuncKind identifies a built-in function call in the expression grammar.
type FuncKind int

const (
	FuncLower FuncKind = iota
	FuncUpper
	FuncNow
)

func (k FuncKind) String() string {
	switch k {
	case FuncLower:
		return "lower"
	case FuncUpper:
		return "upper"
	case FuncNow:
		return "now"
	default:
		return "unknown"
	}
}

// CompareOp is the operator of a Compare node.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNotEq
	OpLt
	OpLte
	OpGt
	OpGte
)

func (o CompareOp) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNotEq:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	default:
		return "?"
	}
}

// MatchOp is the operator of a Match node.
type MatchOp int

const (
	OpContains MatchOp = iota
	OpNotContains
	OpStartsWith
	OpNotStartsWith
	OpEndsWith
	OpNotEndsWith
	OpRegex
	OpNotRegex
)

func (o MatchOp) String() string {
	switch o {
	case OpContains:
		return "~"
	case OpNotContains:
		return "!~"
	case OpStartsWith:
		return "^~"
	case OpNotStartsWith:
		return "!^~"
	case OpEndsWith:
		return "~$"
	case OpNotEndsWith:
		return "!~$"
	case OpRegex:
		return "~/.../"
	case OpNotRegex:
		return "!~/.../"
	default:
		return "?"
	}
}

// LogicOp is the operator of a Logic node.
type LogicOp int

const (
	OpAnd LogicOp = iota
	OpOr
)

// Expr is a node in a rule's guard expression. Concrete types below
// implement it; evaluation and formatting both dispatch over them with a
// type switch rather than reflection.
type Expr interface {
	Position() int
	exprNode()
}

type exprBase struct {
	Pos int
}

func (e exprBase) Position() int { return e.Pos }
func (exprBase) exprNode()       {}

// VoidNode is the empty expression — a catch-all Value rule has no guard.
type VoidNode struct{ exprBase }

// VariableNode references a name looked up in the evaluation context.
type VariableNode struct {
	exprBase
	Name string
}

// ConstantNode is a literal atom.
type ConstantNode struct {
	exprBase
	Value Atom
}

// ListNode is a parenthesised literal list, the right side of `in`/`not in`.
type ListNode struct {
	exprBase
	Items []Atom
}

// FunctionNode is a built-in call; Arg is nil for now().
type FunctionNode struct {
	exprBase
	Kind FuncKind
	Arg  Expr
}

// CompareNode is a relational comparison between two expressions.
type CompareNode struct {
	exprBase
	Left  Expr
	Op    CompareOp
	Right Expr
}

// MatchNode is a string/regex match between two expressions. Pattern holds
// the raw regex source when Op is OpRegex/OpNotRegex.
type MatchNode struct {
	exprBase
	Left    Expr
	Op      MatchOp
	Right   Expr
	Pattern string
}

// ArrayNode is `lhs in (list)` / `lhs not in (list)`.
type ArrayNode struct {
	exprBase
	Left   Expr
	Negate bool
	List   ListNode
}

// LogicNode combines two expressions with `and`/`or`.
type LogicNode struct {
	exprBase
	Left  Expr
	Op    LogicOp
	Right Expr
}

// ScopeNode is a parenthesised sub-expression, optionally negated with a
// leading `!`.
type ScopeNode struct {
	exprBase
	Inner  Expr
	Negate bool
}

// PercentageNode is `percentage(rate, field)`.
type PercentageNode struct {
	exprBase
	Rate  float64
	Field Expr
}

// CoalesceNode is `coalesce(a, b, ...)`.
type CoalesceNode struct {
	exprBase
	Args []Expr
}

// NullCheckNode tests whether a variable is present/non-null in the context;
// IsNull selects the polarity. Neither the parser nor coalesce handling
// constructs it, and the evaluator does not accept it as a guard.
type NullCheckNode struct {
	exprBase
	Variable string
	IsNull   bool
}

// SegmentNode references a named segment defined with `@segment`.
type SegmentNode struct {
	exprBase
	Name string
}

// FlagReturnKind tags the variant held by a FlagReturn.
type FlagReturnKind int

const (
	ReturnOnOff FlagReturnKind = iota
	ReturnInteger
	ReturnStr
	ReturnJSON
)

// FlagReturn is the guarded value a matching rule resolves to.
type FlagReturn struct {
	Kind FlagReturnKind
	Bool bool
	Int  int64
	Str  string
	JSON interface{}
}

func BoolReturn(b bool) FlagReturn    { return FlagReturn{Kind: ReturnOnOff, Bool: b} }
func IntReturn(i int64) FlagReturn    { return FlagReturn{Kind: ReturnInteger, Int: i} }
func StrReturn(s string) FlagReturn   { return FlagReturn{Kind: ReturnStr, Str: s} }
func JSONReturn(v interface{}) FlagReturn { return FlagReturn{Kind: ReturnJSON, JSON: v} }

// Equal reports whether two returns carry the same kind and value; JSON
// values are compared by their marshalled form.
func (r FlagReturn) Equal(o FlagReturn) bool {
	if r.Kind != o.Kind {
		return false
	}
	switch r.Kind {
	case ReturnOnOff:
		return r.Bool == o.Bool
	case ReturnInteger:
		return r.Int == o.Int
	case ReturnStr:
		return r.Str == o.Str
	case ReturnJSON:
		a, _ := json.Marshal(r.JSON)
		b, _ := json.Marshal(o.JSON)
		return string(a) == string(b)
	}
	return false
}

// RuleKind tags the variant held by a Rule.
type RuleKind int

const (
	RuleValue RuleKind = iota
	RuleCond
	RuleEnv
)

// Rule is one entry of a flag's ordered rule list.
type Rule struct {
	Kind    RuleKind
	Expr    Expr       // guard, only meaningful for RuleCond
	Return  FlagReturn // only meaningful for RuleValue/RuleCond
	EnvName string     // only meaningful for RuleEnv
	Sub     []Rule     // only meaningful for RuleEnv
	Pos     int
}

// FlagMetadata carries the optional annotations attached to a flag. Each
// *Pos field records the source offset of the `@keyword` token itself, so
// Format can re-attach comments written between two annotations at their
// original position instead of dumping them all before the flag.
type FlagMetadata struct {
	Owner         string
	HasOwner      bool
	OwnerPos      int
	Expires       *Atom // AtomDate when present
	ExpiresPos    int
	Deprecated    string
	HasDeprecated bool
	DeprecatedPos int
	FlagType      string
	FlagTypePos   int
	Requires      []string
	RequiresPos   []int
	Ticket        string
	TicketPos     int
	Description   string
	DescriptionPos int
	Tests         []string
	TestsPos      []int
}

// FlagDefinition is a single `FF-...` entry: its ordered rules plus metadata.
type FlagDefinition struct {
	Name     string
	Rules    []Rule
	Metadata FlagMetadata
	Pos      int
}

// ParsedFlagfile is the top-level parse result: the ordered flag list (with
// a name index for O(1) lookup) plus the segment table.
type ParsedFlagfile struct {
	Flags    []FlagDefinition
	index    map[string]int
	Segments map[string]Expr
}

// NewParsedFlagfile returns an empty flagfile with an empty name index; add
// flags through AddFlag so the index stays in step with Flags.
func NewParsedFlagfile() *ParsedFlagfile {
	return &ParsedFlagfile{
		index:    make(map[string]int),
		Segments: make(map[string]Expr),
	}
}

// AddFlag appends a flag and indexes it by name.
func (p *ParsedFlagfile) AddFlag(f FlagDefinition) {
	p.index[f.Name] = len(p.Flags)
	p.Flags = append(p.Flags, f)
}

// Flag looks up a flag definition by name.
func (p *ParsedFlagfile) Flag(name string) (FlagDefinition, bool) {
	i, ok := p.index[name]
	if !ok {
		return FlagDefinition{}, false
	}
	return p.Flags[i], true
}

// HasFlag reports whether name is a defined flag, used by requires/DAG checks.
func (p *ParsedFlagfile) HasFlag(name string) bool {
	_, ok := p.index[name]
	return ok
}
