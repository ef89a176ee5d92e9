package lang

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *ParsedFlagfile {
	t.Helper()
	pf, err := Parse(src)
	require.NoError(t, err)
	return pf
}

func TestEvaluateNotFound(t *testing.T) {
	pf := mustParse(t, "FF-a -> TRUE\n")
	ev := NewEvaluator()
	dec, err := ev.Evaluate(pf, "FF-missing", Context{}, "")
	require.NoError(t, err)
	require.Equal(t, ReasonNotFound, dec.Reason)
}

func TestEvaluateBareValue(t *testing.T) {
	pf := mustParse(t, "FF-a -> TRUE\n")
	ev := NewEvaluator()
	dec, err := ev.Evaluate(pf, "FF-a", Context{}, "")
	require.NoError(t, err)
	require.Equal(t, ReasonDefault, dec.Reason)
	require.True(t, dec.Value.Bool)
}

func TestEvaluateTargetingMatch(t *testing.T) {
	src := `
FF-country {
    country == "US" -> TRUE
    FALSE
}
`
	pf := mustParse(t, src)
	ev := NewEvaluator()

	dec, err := ev.Evaluate(pf, "FF-country", Context{"country": "US"}, "")
	require.NoError(t, err)
	require.Equal(t, ReasonTargetingMatch, dec.Reason)
	require.True(t, dec.Value.Bool)

	dec, err = ev.Evaluate(pf, "FF-country", Context{"country": "FR"}, "")
	require.NoError(t, err)
	require.Equal(t, ReasonDefault, dec.Reason)
	require.False(t, dec.Value.Bool)
}

func TestEvaluateNoMatchWithoutCatchAll(t *testing.T) {
	src := `
FF-no-catch {
    country == "US" -> TRUE
}
`
	pf := mustParse(t, src)
	ev := NewEvaluator()
	dec, err := ev.Evaluate(pf, "FF-no-catch", Context{"country": "FR"}, "")
	require.NoError(t, err)
	require.Equal(t, ReasonNoMatch, dec.Reason)
}

func TestEvaluateEnvRule(t *testing.T) {
	src := `
FF-env {
    @env staging -> TRUE
    FALSE
}
`
	pf := mustParse(t, src)
	ev := NewEvaluator()

	dec, err := ev.Evaluate(pf, "FF-env", Context{}, "staging")
	require.NoError(t, err)
	require.Equal(t, ReasonDefault, dec.Reason)
	require.True(t, dec.Value.Bool)

	dec, err = ev.Evaluate(pf, "FF-env", Context{}, "production")
	require.NoError(t, err)
	require.Equal(t, ReasonDefault, dec.Reason)
	require.False(t, dec.Value.Bool)
}

func TestEvaluateRequiresFailure(t *testing.T) {
	src := `
FF-base -> FALSE

@requires FF-base
FF-dependent -> TRUE
`
	pf := mustParse(t, src)
	ev := NewEvaluator()
	dec, err := ev.Evaluate(pf, "FF-dependent", Context{}, "")
	require.NoError(t, err)
	require.Equal(t, ReasonRequireFailed, dec.Reason)
}

func TestEvaluateRequiresSuccess(t *testing.T) {
	src := `
FF-base -> TRUE

@requires FF-base
FF-dependent -> TRUE
`
	pf := mustParse(t, src)
	ev := NewEvaluator()
	dec, err := ev.Evaluate(pf, "FF-dependent", Context{}, "")
	require.NoError(t, err)
	require.Equal(t, ReasonDefault, dec.Reason)
	require.True(t, dec.Value.Bool)
}

func TestEvaluateSegmentReference(t *testing.T) {
	src := `
@segment internal {
    email ~$ "@flagfiled.io"
}

FF-internal {
    segment(internal) -> TRUE
    FALSE
}
`
	pf := mustParse(t, src)
	ev := NewEvaluator()
	dec, err := ev.Evaluate(pf, "FF-internal", Context{"email": "a@flagfiled.io"}, "")
	require.NoError(t, err)
	require.True(t, dec.Value.Bool)

	dec, err = ev.Evaluate(pf, "FF-internal", Context{"email": "a@example.com"}, "")
	require.NoError(t, err)
	require.False(t, dec.Value.Bool)
}

func TestEvaluatePercentageIsStableForSameInput(t *testing.T) {
	src := `
FF-rollout {
    percentage(50, user_id) -> TRUE
    FALSE
}
`
	pf := mustParse(t, src)
	ev := NewEvaluator()
	dec1, err := ev.Evaluate(pf, "FF-rollout", Context{"user_id": "alice"}, "")
	require.NoError(t, err)
	dec2, err := ev.Evaluate(pf, "FF-rollout", Context{"user_id": "alice"}, "")
	require.NoError(t, err)
	require.Equal(t, dec1.Value, dec2.Value)
}

func TestEvaluateCompareAndArray(t *testing.T) {
	src := `
FF-both {
    age >= 18 and country in ("US", "CA") -> TRUE
    FALSE
}
`
	pf := mustParse(t, src)
	ev := NewEvaluator()

	dec, err := ev.Evaluate(pf, "FF-both", Context{"age": "21", "country": "US"}, "")
	require.NoError(t, err)
	require.True(t, dec.Value.Bool)

	dec, err = ev.Evaluate(pf, "FF-both", Context{"age": "16", "country": "US"}, "")
	require.NoError(t, err)
	require.False(t, dec.Value.Bool)
}

func TestEvaluateInvalidRegexIsNoMatchNotError(t *testing.T) {
	src := `
FF-bad-regex {
    name ~ /[/ -> TRUE
    FALSE
}
`
	pf := mustParse(t, src)
	ev := NewEvaluator()
	dec, err := ev.Evaluate(pf, "FF-bad-regex", Context{"name": "anything"}, "")
	require.NoError(t, err)
	require.False(t, dec.Value.Bool)
}

func TestEvaluateNowFunction(t *testing.T) {
	src := `
FF-expiry {
    now() > 2000-01-01 -> TRUE
    FALSE
}
`
	pf := mustParse(t, src)
	ev := &Evaluator{Now: func() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) }}
	dec, err := ev.Evaluate(pf, "FF-expiry", Context{}, "")
	require.NoError(t, err)
	require.True(t, dec.Value.Bool)
}
