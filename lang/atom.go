package lang

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AtomKind tags the variant held by an Atom.
type AtomKind int

const (
	AtomString AtomKind = iota
	AtomInteger
	AtomFloat
	AtomBoolean
	AtomDate
	AtomDateTime
	AtomSemver
	AtomVariable
)

func (k AtomKind) String() string {
	switch k {
	case AtomString:
		return "string"
	case AtomInteger:
		return "integer"
	case AtomFloat:
		return "float"
	case AtomBoolean:
		return "boolean"
	case AtomDate:
		return "date"
	case AtomDateTime:
		return "datetime"
	case AtomSemver:
		return "semver"
	case AtomVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// Semver is major.minor.patch, compared lexicographically component-wise.
type Semver struct {
	Major, Minor, Patch int
}

func (s Semver) String() string {
	return fmt.Sprintf("%d.%d.%d", s.Major, s.Minor, s.Patch)
}

// Compare returns -1, 0 or 1 the way sort.Interface-adjacent code expects.
func (s Semver) Compare(o Semver) int {
	if s.Major != o.Major {
		return cmpInt(s.Major, o.Major)
	}
	if s.Minor != o.Minor {
		return cmpInt(s.Minor, o.Minor)
	}
	return cmpInt(s.Patch, o.Patch)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Atom is a scalar value usable both in an evaluation context and inside
// rule expressions. Only one field is meaningful, selected by Kind.
type Atom struct {
	Kind     AtomKind
	Str      string
	Int      int64
	Float    float64
	Bool     bool
	Date     time.Time
	DateTime time.Time
	Semver   Semver
}

func NewStringAtom(s string) Atom   { return Atom{Kind: AtomString, Str: s} }
func NewIntegerAtom(i int64) Atom   { return Atom{Kind: AtomInteger, Int: i} }
func NewFloatAtom(f float64) Atom   { return Atom{Kind: AtomFloat, Float: f} }
func NewBoolAtom(b bool) Atom       { return Atom{Kind: AtomBoolean, Bool: b} }
func NewDateAtom(t time.Time) Atom  { return Atom{Kind: AtomDate, Date: t} }
func NewDateTimeAtom(t time.Time) Atom {
	return Atom{Kind: AtomDateTime, DateTime: t}
}
func NewSemverAtom(s Semver) Atom    { return Atom{Kind: AtomSemver, Semver: s} }
func NewVariableAtom(name string) Atom { return Atom{Kind: AtomVariable, Str: name} }

const dateLayout = "2006-01-02"

var semverLiteralRe = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)

// ParseSemver parses an "N.N.N" literal.
func ParseSemver(s string) (Semver, bool) {
	m := semverLiteralRe.FindStringSubmatch(s)
	if m == nil {
		return Semver{}, false
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Semver{major, minor, patch}, true
}

// CoerceContextValue turns a raw string supplied by a caller into the Atom
// it should be treated as, coercing values that parse as semver or a date
// into those variants so that comparisons in rules behave naturally (§9).
func CoerceContextValue(raw string) Atom {
	if sv, ok := ParseSemver(raw); ok {
		return NewSemverAtom(sv)
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return NewDateAtom(t)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return NewDateTimeAtom(t)
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return NewIntegerAtom(i)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return NewFloatAtom(f)
	}
	if raw == "true" || raw == "TRUE" {
		return NewBoolAtom(true)
	}
	if raw == "false" || raw == "FALSE" {
		return NewBoolAtom(false)
	}
	return NewStringAtom(raw)
}

// String returns the atom's textual form, used by match operators, lower/upper
// and the percentage hash input.
func (a Atom) String() string {
	switch a.Kind {
	case AtomString, AtomVariable:
		return a.Str
	case AtomInteger:
		return strconv.FormatInt(a.Int, 10)
	case AtomFloat:
		return strconv.FormatFloat(a.Float, 'f', -1, 64)
	case AtomBoolean:
		return strconv.FormatBool(a.Bool)
	case AtomDate:
		return a.Date.Format(dateLayout)
	case AtomDateTime:
		return a.DateTime.Format(time.RFC3339)
	case AtomSemver:
		return a.Semver.String()
	default:
		return ""
	}
}

// Equal reports value equality used by "in"/"not in" and comparison "==".
func (a Atom) Equal(b Atom) bool {
	if a.Kind == AtomInteger && b.Kind == AtomFloat {
		return float64(a.Int) == b.Float
	}
	if a.Kind == AtomFloat && b.Kind == AtomInteger {
		return a.Float == float64(b.Int)
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case AtomString, AtomVariable:
		return a.Str == b.Str
	case AtomInteger:
		return a.Int == b.Int
	case AtomFloat:
		return a.Float == b.Float
	case AtomBoolean:
		return a.Bool == b.Bool
	case AtomDate:
		return a.Date.Equal(b.Date)
	case AtomDateTime:
		return a.DateTime.Equal(b.DateTime)
	case AtomSemver:
		return a.Semver == b.Semver
	}
	return false
}

// Compare returns an ordering and whether the two atoms are ordered at all.
// Per spec.md §3: numeric families cross-compare, semver is lexicographic,
// date/datetime compare by time, string compares by bytes; mixed types are
// unordered.
func (a Atom) Compare(b Atom) (cmp int, ok bool) {
	switch {
	case a.Kind == AtomInteger && b.Kind == AtomInteger:
		return cmpInt64(a.Int, b.Int), true
	case a.Kind == AtomFloat && b.Kind == AtomFloat:
		return cmpFloat(a.Float, b.Float), true
	case a.Kind == AtomInteger && b.Kind == AtomFloat:
		return cmpFloat(float64(a.Int), b.Float), true
	case a.Kind == AtomFloat && b.Kind == AtomInteger:
		return cmpFloat(a.Float, float64(b.Int)), true
	case a.Kind == AtomSemver && b.Kind == AtomSemver:
		return a.Semver.Compare(b.Semver), true
	case a.Kind == AtomDate && b.Kind == AtomDate:
		return cmpTime(a.Date, b.Date), true
	case a.Kind == AtomDateTime && b.Kind == AtomDateTime:
		return cmpTime(a.DateTime, b.DateTime), true
	case a.Kind == AtomDate && b.Kind == AtomDateTime:
		return cmpTime(a.Date, b.DateTime), true
	case a.Kind == AtomDateTime && b.Kind == AtomDate:
		return cmpTime(a.DateTime, b.Date), true
	case a.Kind == AtomString && b.Kind == AtomString:
		return strings.Compare(a.Str, b.Str), true
	default:
		return 0, false
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
