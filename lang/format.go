package lang

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Format canonicalizes flagfile source per spec.md §4.4: format(format(x))
// == format(x) for any x that parses. It refuses to format input that
// doesn't parse, mirroring the teacher's tick/fmt.go entry point shape
// (parse first, print the tree, never print from raw text).
func Format(input string) (string, error) {
	pf, err := Parse(input)
	if err != nil {
		return "", err
	}
	p := &printer{comments: collectComments(input)}
	return p.printFile(pf), nil
}

// comment is a lexed comment with its source offset, collected by a raw
// pass over the token stream so Format can re-attach trivia that Parse
// itself discards (the parser's scan() skips tokenComment entirely).
type comment struct {
	pos  int
	text string
}

func collectComments(input string) []comment {
	var out []comment
	l := lex(input)
	for {
		t, ok := l.nextToken()
		if !ok {
			break
		}
		if t.typ == tokenComment {
			out = append(out, comment{t.pos, t.val})
		}
		if t.typ == tokenError {
			break
		}
	}
	return out
}

type printer struct {
	comments    []comment
	nextComment int
	buf         strings.Builder
}

func (p *printer) emitCommentsBefore(pos int) {
	for p.nextComment < len(p.comments) && p.comments[p.nextComment].pos < pos {
		p.buf.WriteString(p.comments[p.nextComment].text)
		p.buf.WriteString("\n")
		p.nextComment++
	}
}

func (p *printer) emitRemainingComments() {
	for p.nextComment < len(p.comments) {
		p.buf.WriteString(p.comments[p.nextComment].text)
		p.buf.WriteString("\n")
		p.nextComment++
	}
}

func (p *printer) printFile(pf *ParsedFlagfile) string {
	type item struct {
		pos    int
		render func()
	}
	var items []item
	for name, expr := range pf.Segments {
		name, expr := name, expr
		items = append(items, item{expr.Position(), func() { p.printSegment(name, expr) }})
	}
	for _, fd := range pf.Flags {
		fd := fd
		items = append(items, item{metadataStartPos(fd), func() { p.printFlag(fd) }})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].pos < items[j].pos })

	for i, it := range items {
		p.emitCommentsBefore(it.pos)
		it.render()
		if i != len(items)-1 {
			p.buf.WriteString("\n")
		}
	}
	p.emitRemainingComments()

	return finalizeOutput(p.buf.String())
}

// finalizeOutput enforces the blank-line rules: collapsed to at most one,
// none immediately after `{` or before `}`, trailing blanks stripped, file
// ends with exactly one newline.
func finalizeOutput(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			if len(out) == 0 {
				continue
			}
			if strings.TrimSpace(out[len(out)-1]) == "" {
				continue
			}
			if strings.HasSuffix(strings.TrimSpace(out[len(out)-1]), "{") {
				continue
			}
			if i+1 < len(lines) && strings.TrimSpace(lines[i+1]) == "}" {
				continue
			}
		}
		out = append(out, line)
	}
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n") + "\n"
}

const indentUnit = "    "

func indent(level int) string {
	return strings.Repeat(indentUnit, level)
}

func (p *printer) printSegment(name string, expr Expr) {
	fmt.Fprintf(&p.buf, "@segment %s {\n", name)
	fmt.Fprintf(&p.buf, "%s%s\n", indent(1), exprString(expr))
	p.buf.WriteString("}\n")
}

func (p *printer) printFlag(fd FlagDefinition) {
	p.printMetadata(fd.Metadata)
	p.emitCommentsBefore(fd.Pos)
	if len(fd.Rules) == 1 && fd.Rules[0].Kind == RuleValue {
		fmt.Fprintf(&p.buf, "%s -> %s\n", fd.Name, valueString(fd.Rules[0].Return))
		return
	}
	fmt.Fprintf(&p.buf, "%s {\n", fd.Name)
	p.printRules(fd.Rules, 1)
	p.buf.WriteString("}\n")
}

// metadataStartPos is the position Format should treat as "where this flag's
// output begins": the earliest annotation if it has any, else the flag name
// itself. printFile uses this (rather than fd.Pos) to decide how many
// leading comments to flush before handing off to printFlag, so a comment
// written between two annotations isn't swept up early by the top-level
// pass and can instead be placed by printMetadata.
func metadataStartPos(fd FlagDefinition) int {
	pos := fd.Pos
	for _, p := range annotationPositions(fd.Metadata) {
		if p < pos {
			pos = p
		}
	}
	return pos
}

// annotationPositions lists every present annotation's source position, in
// no particular order; printMetadata sorts them before rendering.
func annotationPositions(m FlagMetadata) []int {
	var out []int
	if m.HasOwner {
		out = append(out, m.OwnerPos)
	}
	if m.Expires != nil {
		out = append(out, m.ExpiresPos)
	}
	if m.HasDeprecated {
		out = append(out, m.DeprecatedPos)
	}
	if m.FlagType != "" {
		out = append(out, m.FlagTypePos)
	}
	out = append(out, m.RequiresPos...)
	if m.Ticket != "" {
		out = append(out, m.TicketPos)
	}
	if m.Description != "" {
		out = append(out, m.DescriptionPos)
	}
	out = append(out, m.TestsPos...)
	return out
}

func (p *printer) printMetadata(m FlagMetadata) {
	type item struct {
		pos    int
		render func()
	}
	var items []item
	if m.HasOwner {
		items = append(items, item{m.OwnerPos, func() { fmt.Fprintf(&p.buf, "@owner %s\n", quoteString(m.Owner)) }})
	}
	if m.Expires != nil {
		items = append(items, item{m.ExpiresPos, func() { fmt.Fprintf(&p.buf, "@expires %s\n", m.Expires.String()) }})
	}
	if m.HasDeprecated {
		items = append(items, item{m.DeprecatedPos, func() { fmt.Fprintf(&p.buf, "@deprecated %s\n", quoteString(m.Deprecated)) }})
	}
	if m.FlagType != "" {
		items = append(items, item{m.FlagTypePos, func() { fmt.Fprintf(&p.buf, "@type %s\n", m.FlagType) }})
	}
	for i, r := range m.Requires {
		r := r
		items = append(items, item{m.RequiresPos[i], func() { fmt.Fprintf(&p.buf, "@requires %s\n", r) }})
	}
	if m.Ticket != "" {
		items = append(items, item{m.TicketPos, func() { fmt.Fprintf(&p.buf, "@ticket %s\n", m.Ticket) }})
	}
	if m.Description != "" {
		items = append(items, item{m.DescriptionPos, func() { fmt.Fprintf(&p.buf, "@description %s\n", quoteString(m.Description)) }})
	}
	for i, t := range m.Tests {
		t := t
		items = append(items, item{m.TestsPos[i], func() { fmt.Fprintf(&p.buf, "@test %s\n", quoteString(t)) }})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].pos < items[j].pos })
	for _, it := range items {
		p.emitCommentsBefore(it.pos)
		it.render()
	}
}

// printRules renders rules in source order, flushing any comment that falls
// before each rule's own position first so comments inside a flag's rule
// block (or an @env sub-block) land where they were written instead of
// being swept into the next top-level item or the end-of-file remainder.
func (p *printer) printRules(rules []Rule, level int) {
	for _, r := range rules {
		p.emitCommentsBefore(r.Pos)
		switch r.Kind {
		case RuleValue:
			fmt.Fprintf(&p.buf, "%s%s\n", indent(level), valueString(r.Return))
		case RuleCond:
			fmt.Fprintf(&p.buf, "%s%s -> %s\n", indent(level), exprString(r.Expr), valueString(r.Return))
		case RuleEnv:
			if len(r.Sub) == 1 && r.Sub[0].Kind == RuleValue {
				fmt.Fprintf(&p.buf, "%s@env %s -> %s\n", indent(level), r.EnvName, valueString(r.Sub[0].Return))
				continue
			}
			fmt.Fprintf(&p.buf, "%s@env %s {\n", indent(level), r.EnvName)
			p.printRules(r.Sub, level+1)
			fmt.Fprintf(&p.buf, "%s}\n", indent(level))
		}
	}
}

func quoteString(s string) string {
	return strconv.Quote(s)
}

// valueString renders a FlagReturn canonically: TRUE/FALSE uppercased,
// strings double-quoted, JSON re-serialised compact.
func valueString(r FlagReturn) string {
	switch r.Kind {
	case ReturnOnOff:
		if r.Bool {
			return "TRUE"
		}
		return "FALSE"
	case ReturnInteger:
		return strconv.FormatInt(r.Int, 10)
	case ReturnStr:
		return quoteString(r.Str)
	case ReturnJSON:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return "json({})"
		}
		return "json(" + string(b) + ")"
	default:
		return ""
	}
}

// exprString renders a guard expression canonically, with operators
// surrounded by single spaces and list items joined by ", ".
func exprString(e Expr) string {
	if e == nil {
		return ""
	}
	switch n := e.(type) {
	case *VoidNode:
		return ""
	case *ConstantNode:
		return atomString(n.Value)
	case *VariableNode:
		return n.Name
	case *SegmentNode:
		return fmt.Sprintf("segment(%s)", n.Name)
	case *FunctionNode:
		if n.Kind == FuncNow {
			return "now()"
		}
		return fmt.Sprintf("%s(%s)", n.Kind, exprString(n.Arg))
	case *CoalesceNode:
		parts := make([]string, len(n.Args))
		for i, a := range n.Args {
			parts[i] = exprString(a)
		}
		return fmt.Sprintf("coalesce(%s)", strings.Join(parts, ", "))
	case *PercentageNode:
		return fmt.Sprintf("percentage(%s, %s)", formatRate(n.Rate), exprString(n.Field))
	case *ScopeNode:
		if n.Negate {
			return fmt.Sprintf("!(%s)", exprString(n.Inner))
		}
		return fmt.Sprintf("(%s)", exprString(n.Inner))
	case *LogicNode:
		op := "and"
		if n.Op == OpOr {
			op = "or"
		}
		return fmt.Sprintf("%s %s %s", exprString(n.Left), op, exprString(n.Right))
	case *CompareNode:
		return fmt.Sprintf("%s %s %s", exprString(n.Left), n.Op, exprString(n.Right))
	case *MatchNode:
		if n.Op == OpRegex || n.Op == OpNotRegex {
			op := "~"
			if n.Op == OpNotRegex {
				op = "!~"
			}
			return fmt.Sprintf("%s %s /%s/", exprString(n.Left), op, n.Pattern)
		}
		return fmt.Sprintf("%s %s %s", exprString(n.Left), n.Op, exprString(n.Right))
	case *ArrayNode:
		items := make([]string, len(n.List.Items))
		for i, a := range n.List.Items {
			items[i] = atomString(a)
		}
		kw := "in"
		if n.Negate {
			kw = "not in"
		}
		return fmt.Sprintf("%s %s (%s)", exprString(n.Left), kw, strings.Join(items, ", "))
	default:
		return ""
	}
}

func atomString(a Atom) string {
	if a.Kind == AtomString {
		return quoteString(a.Str)
	}
	return a.String()
}

func formatRate(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
