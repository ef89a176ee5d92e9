package lang

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func findingMessages(findings []LintFinding, level LintLevel) []string {
	var out []string
	for _, f := range findings {
		if f.Level == level {
			out = append(out, f.Message)
		}
	}
	return out
}

func TestLintDuplicateFlagNames(t *testing.T) {
	pf := mustParse(t, "FF-a -> TRUE\nFF-a -> FALSE\n")
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintError), `duplicate flag name "FF-a"`)
}

func TestLintUndefinedRequires(t *testing.T) {
	pf := mustParse(t, "@requires FF-missing\nFF-a -> TRUE\n")
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintError), `flag "FF-a" requires undefined flag "FF-missing"`)
}

func TestLintCircularRequires(t *testing.T) {
	src := `
@requires FF-b
FF-a -> TRUE

@requires FF-a
FF-b -> TRUE
`
	pf := mustParse(t, src)
	findings := Lint(pf)
	errs := findingMessages(findings, LintError)
	require.Condition(t, func() bool {
		for _, m := range errs {
			if m == `circular requires involving flag "FF-a"` || m == `circular requires involving flag "FF-b"` {
				return true
			}
		}
		return false
	})
}

func TestLintUndefinedSegment(t *testing.T) {
	src := `
FF-a {
    segment(ghost) -> TRUE
    FALSE
}
`
	pf := mustParse(t, src)
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintError), `undefined segment "ghost"`)
}

func TestLintUnusedSegment(t *testing.T) {
	src := `
@segment unused_one {
    country == "US"
}
FF-a -> TRUE
`
	pf := mustParse(t, src)
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintWarn), `unused segment "unused_one"`)
}

func TestLintEmptyFlagBlockWarns(t *testing.T) {
	src := "FF-empty {\n}\n"
	pf := mustParse(t, src)
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintWarn), `flag "FF-empty" has no rules (will always evaluate to none)`)
}

func TestLintEnvMissingDefaultWarns(t *testing.T) {
	src := `
FF-env {
    @env staging -> TRUE
}
`
	pf := mustParse(t, src)
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintWarn), `flag "FF-env" has @env rules but no fallback for unlisted environments`)
}

func TestLintCatchAllRequiredForGuardedRules(t *testing.T) {
	src := `
FF-a {
    country == "US" -> TRUE
}
`
	pf := mustParse(t, src)
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintError), `flag "FF-a" has conditional rules but no trailing catch-all`)
}

func TestLintUnreachableRuleAfterCatchAll(t *testing.T) {
	src := `
FF-a {
    TRUE
    country == "US" -> FALSE
}
`
	pf := mustParse(t, src)
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintError), `flag "FF-a" has unreachable rules after a catch-all`)
}

func TestLintDeprecatedWithoutExpiry(t *testing.T) {
	pf := mustParse(t, `@deprecated "use FF-b instead" FF-a -> TRUE`+"\n")
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintWarn), `flag "FF-a" is deprecated without @expires`)
}

func TestLintExpiredFlag(t *testing.T) {
	pf := mustParse(t, "@expires 2000-01-01\nFF-a -> TRUE\n")
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintError), `flag "FF-a" has an @expires date in the past`)
	require.True(t, pf.Flags[0].Metadata.Expires.Date.Before(time.Now()))
}

func TestLintExperimentWithoutExpiry(t *testing.T) {
	pf := mustParse(t, "@type experiment\nFF-a -> TRUE\n")
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintError), `flag "FF-a" is @type experiment without @expires`)
}

func TestLintLifecycleMetadataWithoutOwner(t *testing.T) {
	pf := mustParse(t, "@type experiment\n@expires 2099-01-01\nFF-a -> TRUE\n")
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintWarn), `flag "FF-a" has lifecycle metadata but no @owner`)
}

func TestLintMixedReturnTypes(t *testing.T) {
	src := `
FF-a {
    country == "US" -> TRUE
    1
}
`
	pf := mustParse(t, src)
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintError), `flag "FF-a" mixes return types across its rules`)
}

func TestLintPercentageOutOfRange(t *testing.T) {
	src := `
FF-a {
    percentage(150, user_id) -> TRUE
    FALSE
}
`
	pf := mustParse(t, src)
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintError), `flag "FF-a" has a percentage() rate 150.00 outside [0,100]`)
}

func TestLintTautologicalGuard(t *testing.T) {
	src := `
FF-a {
    TRUE -> TRUE
    FALSE
}
`
	pf := mustParse(t, src)
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintWarn), `flag "FF-a" has a tautological `+"`TRUE ->`"+` guard`)
}

func TestLintRedundantNestedFunction(t *testing.T) {
	src := `
FF-a {
    lower(lower(name)) == "bob" -> TRUE
    FALSE
}
`
	pf := mustParse(t, src)
	findings := Lint(pf)
	require.Contains(t, findingMessages(findings, LintWarn), `flag "FF-a" has a redundant nested lower(lower(...))`)
}

func TestLintCleanFlagfileHasNoFindings(t *testing.T) {
	src := `
@owner "team-growth"
FF-a {
    country == "US" -> TRUE
    FALSE
}
`
	pf := mustParse(t, src)
	require.Empty(t, Lint(pf))
}
