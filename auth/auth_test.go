package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dzhibas/flagfiled/internal/httperr"
)

func TestTokenSetEmptyMeansNoAuth(t *testing.T) {
	var ts TokenSet
	require.True(t, ts.Empty())
	ts.ReadTokens = []string{"r"}
	require.False(t, ts.Empty())
}

func TestGateSingleTenantRootOnly(t *testing.T) {
	g := NewGate(TokenSet{ReadTokens: []string{"read-tok"}, WriteTokens: []string{"write-tok"}}, nil)

	require.NoError(t, g.Check("", "read-tok", ReadPrivilege))
	require.NoError(t, g.Check("", "write-tok", ReadPrivilege), "write token also grants read")
	require.NoError(t, g.Check("", "write-tok", WritePrivilege))

	err := g.Check("", "read-tok", WritePrivilege)
	require.Error(t, err)
	var ae *httperr.AuthError
	require.ErrorAs(t, err, &ae)
	require.False(t, ae.Forbidden)

	require.Error(t, g.Check("", "", ReadPrivilege))
	require.Error(t, g.Check("", "wrong-tok", ReadPrivilege))
}

func TestGateEmptyTokenSetAllowsAnyone(t *testing.T) {
	g := NewGate(TokenSet{}, nil)
	require.NoError(t, g.Check("", "", ReadPrivilege))
	require.NoError(t, g.Check("", "anything", WritePrivilege))
}

func TestGateStandaloneSharesRootAcrossNamespaces(t *testing.T) {
	g := NewGate(TokenSet{ReadTokens: []string{"tok"}}, nil)
	require.False(t, g.MultiTenant())
	require.NoError(t, g.Check("some-namespace", "tok", ReadPrivilege))
}

func TestGateMultiTenantRejectsUnknownNamespace(t *testing.T) {
	g := NewGate(TokenSet{}, map[string]TokenSet{
		"billing": {ReadTokens: []string{"billing-tok"}},
	})
	require.True(t, g.MultiTenant())

	err := g.Check("billing", "billing-tok", ReadPrivilege)
	require.NoError(t, err)

	err = g.Check("unknown", "anything", ReadPrivilege)
	require.Error(t, err)
	var ae *httperr.AuthError
	require.ErrorAs(t, err, &ae)
	require.True(t, ae.Forbidden)
}

func TestGateNamespaceTokensAreIndependentOfRoot(t *testing.T) {
	g := NewGate(TokenSet{ReadTokens: []string{"root-tok"}}, map[string]TokenSet{
		"billing": {ReadTokens: []string{"billing-tok"}},
	})
	require.Error(t, g.Check("billing", "root-tok", ReadPrivilege), "root's token should not authorize another namespace")
	require.NoError(t, g.Check("billing", "billing-tok", ReadPrivilege))
}
