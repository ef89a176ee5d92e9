package lang

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatIsIdempotent(t *testing.T) {
	src := `
@owner "team-growth"
@type experiment
@expires 2099-01-01
FF-rollout {
    country == "US" -> TRUE
    percentage(25, user_id) -> TRUE
    FALSE
}
`
	once, err := Format(src)
	require.NoError(t, err)
	twice, err := Format(once)
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestFormatCanonicalizesCase(t *testing.T) {
	out, err := Format("FF-a -> true\n")
	require.NoError(t, err)
	require.Equal(t, "FF-a -> TRUE\n", out)
}

func TestFormatRejectsInvalidInput(t *testing.T) {
	_, err := Format("FF-a {\n")
	require.Error(t, err)
}

func TestFormatPreservesTopLevelComment(t *testing.T) {
	src := "// about FF-a\nFF-a -> TRUE\n"
	out, err := Format(src)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "// about FF-a\n"))
}

func TestFormatPreservesCommentInsideRuleBlock(t *testing.T) {
	src := `
FF-a {
    country == "US" -> TRUE
    // fallback for everyone else
    FALSE
}
`
	out, err := Format(src)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	idx := -1
	for i, l := range lines {
		if strings.Contains(l, "fallback for everyone else") {
			idx = i
		}
	}
	require.NotEqual(t, -1, idx, "expected comment to survive formatting: %s", out)
	require.True(t, strings.Contains(lines[idx+1], "FALSE"), "comment should immediately precede the rule it was attached to, got: %s", out)
}

func TestFormatPreservesCommentBetweenAnnotations(t *testing.T) {
	src := `
@owner "team-growth"
// pending a ticket
@ticket "PLAT-1"
FF-a -> TRUE
`
	out, err := Format(src)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	commentIdx, ticketIdx := -1, -1
	for i, l := range lines {
		if strings.Contains(l, "pending a ticket") {
			commentIdx = i
		}
		if strings.HasPrefix(l, "@ticket") {
			ticketIdx = i
		}
	}
	require.NotEqual(t, -1, commentIdx)
	require.Equal(t, commentIdx+1, ticketIdx)
}

func TestFormatSortsSegmentsAndFlagsBySourcePosition(t *testing.T) {
	src := `
FF-a -> TRUE

@segment late_segment {
    country == "US"
}
`
	out, err := Format(src)
	require.NoError(t, err)
	flagIdx := strings.Index(out, "FF-a")
	segIdx := strings.Index(out, "@segment late_segment")
	require.True(t, flagIdx < segIdx)
}
