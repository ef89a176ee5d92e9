package httpd_test

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dzhibas/flagfiled/auth"
	"github.com/dzhibas/flagfiled/services/httpd/httpdtest"
	"github.com/dzhibas/flagfiled/store"
)

func noAuthGate() *auth.Gate {
	return auth.NewGate(auth.TokenSet{}, nil)
}

func putFlagfile(t *testing.T, base, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, base+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestPutThenGetFlagfile(t *testing.T) {
	s := httpdtest.NewServer(noAuthGate())
	defer s.Close()

	body := `FF-new-ui -> TRUE`
	resp := putFlagfile(t, s.URL(), "/flagfile", body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	getResp, err := http.Get(s.URL() + "/flagfile")
	require.NoError(t, err)
	defer getResp.Body.Close()
	b, _ := io.ReadAll(getResp.Body)
	require.Equal(t, body, string(b))
}

func TestGetFlagfileHashMatchesPutBody(t *testing.T) {
	s := httpdtest.NewServer(noAuthGate())
	defer s.Close()

	body := `FF-new-ui -> TRUE`
	putResp := putFlagfile(t, s.URL(), "/flagfile", body)
	putResp.Body.Close()

	hashResp, err := http.Get(s.URL() + "/flagfile/hash")
	require.NoError(t, err)
	defer hashResp.Body.Close()
	var meta struct {
		Hash       string `json:"hash"`
		FlagsCount int    `json:"flags_count"`
	}
	require.NoError(t, readJSON(hashResp, &meta))
	require.Equal(t, store.Hash([]byte(body)), meta.Hash)
	require.Equal(t, 1, meta.FlagsCount)
}

func TestEvalGuardedFlag(t *testing.T) {
	s := httpdtest.NewServer(noAuthGate())
	defer s.Close()

	body := `FF-f { country == "NL" -> TRUE; FALSE }`
	putResp := putFlagfile(t, s.URL(), "/flagfile", body)
	putResp.Body.Close()

	resp, err := http.Get(s.URL() + "/v1/eval/FF-f?country=NL")
	require.NoError(t, err)
	defer resp.Body.Close()
	var decision struct {
		Value  interface{} `json:"value"`
		Reason string      `json:"reason"`
	}
	require.NoError(t, readJSON(resp, &decision))
	require.Equal(t, true, decision.Value)
	require.Equal(t, "TARGETING_MATCH", decision.Reason)

	resp2, err := http.Get(s.URL() + "/v1/eval/FF-f?country=DE")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.NoError(t, readJSON(resp2, &decision))
	require.Equal(t, false, decision.Value)
	require.Equal(t, "DEFAULT", decision.Reason)
}

func TestEvalPlainOutput(t *testing.T) {
	s := httpdtest.NewServer(noAuthGate())
	defer s.Close()

	putResp := putFlagfile(t, s.URL(), "/flagfile", `FF-new-ui -> TRUE`)
	putResp.Body.Close()

	resp, err := http.Get(s.URL() + "/v1/eval/FF-new-ui?ff_output=plain")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	require.Equal(t, "true", strings.TrimSpace(string(b)))
}

func TestUnknownNamespaceReturnsNotFound(t *testing.T) {
	s := httpdtest.NewServer(noAuthGate())
	defer s.Close()

	resp, err := http.Get(s.URL() + "/flagfile")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWriteWithoutTokenIsUnauthorized(t *testing.T) {
	gate := auth.NewGate(auth.TokenSet{WriteTokens: []string{"secret"}}, nil)
	s := httpdtest.NewServer(gate)
	defer s.Close()

	resp := putFlagfile(t, s.URL(), "/flagfile", `FF-a -> TRUE`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWriteWithTokenSucceeds(t *testing.T) {
	gate := auth.NewGate(auth.TokenSet{WriteTokens: []string{"secret"}}, nil)
	s := httpdtest.NewServer(gate)
	defer s.Close()

	req, _ := http.NewRequest(http.MethodPut, s.URL()+"/flagfile", strings.NewReader(`FF-a -> TRUE`))
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNamespaceMirroredUnderNsPrefix(t *testing.T) {
	s := httpdtest.NewServer(noAuthGate())
	defer s.Close()

	body := `FF-a -> TRUE`
	resp := putFlagfile(t, s.URL(), "/ns/tenant-a/flagfile", body)
	resp.Body.Close()

	getResp, err := http.Get(s.URL() + "/ns/tenant-a/flagfile")
	require.NoError(t, err)
	defer getResp.Body.Close()
	b, _ := io.ReadAll(getResp.Body)
	require.Equal(t, body, string(b))

	// the root namespace is unaffected
	rootResp, err := http.Get(s.URL() + "/flagfile")
	require.NoError(t, err)
	defer rootResp.Body.Close()
	require.Equal(t, http.StatusNotFound, rootResp.StatusCode)
}

func TestHealthAndReadyz(t *testing.T) {
	s := httpdtest.NewServer(noAuthGate())
	defer s.Close()

	healthResp, err := http.Get(s.URL() + "/health")
	require.NoError(t, err)
	defer healthResp.Body.Close()
	require.Equal(t, http.StatusOK, healthResp.StatusCode)

	readyResp, err := http.Get(s.URL() + "/readyz")
	require.NoError(t, err)
	defer readyResp.Body.Close()
	require.Equal(t, http.StatusOK, readyResp.StatusCode)
}

func TestRequireGateFailure(t *testing.T) {
	s := httpdtest.NewServer(noAuthGate())
	defer s.Close()

	body := "FF-a -> FALSE\n" +
		"@requires FF-a\n" +
		"FF-b -> TRUE"
	putResp := putFlagfile(t, s.URL(), "/flagfile", body)
	defer putResp.Body.Close()
	require.Equal(t, http.StatusOK, putResp.StatusCode)

	resp, err := http.Get(s.URL() + "/v1/eval/FF-b")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func readJSON(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
