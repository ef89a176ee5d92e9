// Package auth is the bearer-token gate of spec.md §6 "Auth": per-namespace
// read_tokens/write_tokens sets, write implying read, an empty set meaning
// no auth required. Adapted from the teacher's privilege-bitmask idiom
// (Privilege, AuthorizeAction) but reworked around token sets instead of
// a user/password/hash model, since the spec has no notion of a user.
package auth

import "github.com/dzhibas/flagfiled/internal/httperr"

// Privilege is the access level a request needs.
type Privilege uint

const (
	ReadPrivilege Privilege = iota
	WritePrivilege
)

// TokenSet is one namespace's (or root's) accepted bearer tokens.
type TokenSet struct {
	ReadTokens  []string `toml:"read_tokens"`
	WriteTokens []string `toml:"write_tokens"`
}

// Empty reports whether both token lists are unset, meaning "no auth" for
// this namespace (spec.md §6: "single-tenant compat").
func (t TokenSet) Empty() bool {
	return len(t.ReadTokens) == 0 && len(t.WriteTokens) == 0
}

func (t TokenSet) allows(token string, priv Privilege) bool {
	for _, w := range t.WriteTokens {
		if w == token {
			return true
		}
	}
	if priv == WritePrivilege {
		return false
	}
	for _, r := range t.ReadTokens {
		if r == token {
			return true
		}
	}
	return false
}

// Gate holds root's TokenSet plus every configured namespace's, and decides
// whether a bearer token may perform a Privilege against a namespace.
type Gate struct {
	root       TokenSet
	namespaces map[string]TokenSet
}

func NewGate(root TokenSet, namespaces map[string]TokenSet) *Gate {
	return &Gate{root: root, namespaces: namespaces}
}

// MultiTenant reports whether any namespace besides root has been
// configured; the 403-on-unknown-namespace rule only applies in this mode.
func (g *Gate) MultiTenant() bool {
	return len(g.namespaces) > 0
}

// Check authorizes token for priv against ns ("" means root). It returns a
// *httperr.AuthError (401 missing/invalid token, 403 unknown namespace in
// multi-tenant mode) or nil.
func (g *Gate) Check(ns, token string, priv Privilege) error {
	set, ok := g.tokenSet(ns)
	if !ok {
		return &httperr.AuthError{Forbidden: true, Msg: "unknown namespace: " + ns}
	}

	if set.Empty() {
		return nil
	}

	if token == "" {
		return &httperr.AuthError{Msg: "missing bearer token"}
	}
	if !set.allows(token, priv) {
		return &httperr.AuthError{Msg: "invalid bearer token"}
	}
	return nil
}

// RootNamespace is the stored-namespace name spec.md §3 reserves for the
// single-tenant routes; its auth config lives under the [root] section.
const RootNamespace = "__root__"

func (g *Gate) tokenSet(ns string) (TokenSet, bool) {
	if ns == "" || ns == "root" || ns == RootNamespace {
		return g.root, true
	}
	set, ok := g.namespaces[ns]
	if !ok {
		if !g.MultiTenant() {
			// Standalone mode: every namespace shares root's token set.
			return g.root, true
		}
		return TokenSet{}, false
	}
	return set, true
}
