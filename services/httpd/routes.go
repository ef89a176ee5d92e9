package httpd

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/influxdata/httprouter"
	"github.com/pkg/errors"

	"github.com/dzhibas/flagfiled/auth"
	"github.com/dzhibas/flagfiled/internal/httperr"
	"github.com/dzhibas/flagfiled/lang"
)

// serveGetFlagfile returns a namespace's raw Flagfile bytes as
// text/plain, spec.md §4.7 GET /flagfile.
func (h *Handler) serveGetFlagfile(w http.ResponseWriter, r *http.Request, ns string) {
	if err := h.authorize(r, ns, auth.ReadPrivilege); err != nil {
		writeAPIErr(w, err)
		return
	}
	n, err := h.parseOrNotFound(ns)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(n.Raw)
}

// serveFlagfileHash returns the stored hash + metadata, spec.md §4.7
// GET /flagfile/hash.
func (h *Handler) serveFlagfileHash(w http.ResponseWriter, r *http.Request, ns string) {
	if err := h.authorize(r, ns, auth.ReadPrivilege); err != nil {
		writeAPIErr(w, err)
		return
	}
	n, err := h.parseOrNotFound(ns)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n.Meta)
}

// servePutFlagfile implements spec.md §4.6's write path: the leader
// validates locally (parse) then proposes; a follower forwards the raw
// bytes and bearer token to the current leader over ForwardPath.
func (h *Handler) servePutFlagfile(w http.ResponseWriter, r *http.Request, ns string) {
	if err := h.authorize(r, ns, auth.WritePrivilege); err != nil {
		writeAPIErr(w, err)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIErr(w, &httperr.ConfigError{Msg: "reading request body: " + err.Error()})
		return
	}

	if !h.node.IsLeader() {
		meta, err := h.node.ForwardWrite(r.Context(), ns, raw, bearerToken(r))
		if err != nil {
			writeAPIErr(w, &httperr.ReplicationError{Msg: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, meta)
		return
	}

	pf, perr := lang.Parse(string(raw))
	if perr != nil {
		writeAPIErr(w, perr)
		return
	}
	if findings := lang.Lint(pf); hasLintErrors(findings) {
		writeAPIErr(w, &httperr.ConfigError{Msg: "flagfile failed lint"})
		return
	}

	meta, err := h.node.Propose(ns, raw, len(pf.Flags))
	if err != nil {
		writeAPIErr(w, &httperr.ReplicationError{Msg: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func hasLintErrors(findings []lang.LintFinding) bool {
	for _, f := range findings {
		if f.Level == lang.LintError {
			return true
		}
	}
	return false
}

// serveRaftForward is the dedicated RPC endpoint a follower's ForwardWrite
// call hits; it only ever runs on the leader (a non-leader that somehow
// receives it still returns a ReplicationError rather than recursing).
func (h *Handler) serveRaftForward(w http.ResponseWriter, r *http.Request) {
	ns := httprouter.ParamsFromContext(r.Context()).ByName("namespace")
	if err := h.authorize(r, ns, auth.WritePrivilege); err != nil {
		writeAPIErr(w, err)
		return
	}
	if !h.node.IsLeader() {
		writeAPIErr(w, &httperr.ReplicationError{Msg: "not leader"})
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIErr(w, &httperr.ConfigError{Msg: "reading forwarded body: " + err.Error()})
		return
	}
	pf, perr := lang.Parse(string(raw))
	if perr != nil {
		writeAPIErr(w, perr)
		return
	}
	meta, err := h.node.Propose(ns, raw, len(pf.Flags))
	if err != nil {
		writeAPIErr(w, &httperr.ReplicationError{Msg: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// serveEvents is the SSE stream of spec.md §4.8, subscribing the caller to
// ns's events.Topic and writing each as a `data: ...` frame.
func (h *Handler) serveEvents(w http.ResponseWriter, r *http.Request, ns string) {
	if err := h.authorize(r, ns, auth.ReadPrivilege); err != nil {
		writeAPIErr(w, err)
		return
	}
	n, err := h.parseOrNotFound(ns)
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIErr(w, &httperr.ConfigError{Msg: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := h.events.Topic(ns).Subscribe(n.Meta.Hash, n.Meta.FlagsCount)
	defer sub.Close()

	if h.metrics != nil {
		h.metrics.EventSubscribers.WithLabelValues(ns).Inc()
		defer h.metrics.EventSubscribers.WithLabelValues(ns).Dec()
	}

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			b, _ := json.Marshal(ev)
			if _, err := w.Write([]byte("data: " + string(b) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// serveEval implements spec.md §4.7 GET /v1/eval/{flag}: query params form
// the context; `env` selects an environment overlay; `ff_output=plain`
// returns the bare value instead of the Decision envelope.
func (h *Handler) serveEval(w http.ResponseWriter, r *http.Request, ns string) {
	if err := h.authorize(r, ns, auth.ReadPrivilege); err != nil {
		writeAPIErr(w, err)
		return
	}
	n, err := h.parseOrNotFound(ns)
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	flagName := httprouter.ParamsFromContext(r.Context()).ByName("flag")
	env := r.URL.Query().Get("env")
	plain := r.URL.Query().Get("ff_output") == "plain"

	ctx := queryContext(r)

	decision, err := lang.NewEvaluator().Evaluate(n.Parsed, flagName, ctx, env)
	if err != nil {
		writeAPIErr(w, &lang.EvalError{Flag: flagName, Err: err})
		return
	}

	if h.metrics != nil {
		h.metrics.EvalRequests.WithLabelValues(ns, decision.Reason.String()).Inc()
	}

	// spec.md §7: NOT_FOUND is a 404 (unknown flag); NO_MATCH and
	// REQUIRE_FAILED are a 422 "no rule matched" EvalError, distinct from a
	// successfully resolved TARGETING_MATCH/DEFAULT decision.
	switch decision.Reason {
	case lang.ReasonNotFound:
		writeAPIErr(w, &httperr.NotFoundError{Msg: "unknown flag: " + flagName})
		return
	case lang.ReasonNoMatch, lang.ReasonRequireFailed:
		writeAPIErr(w, &lang.EvalError{Flag: flagName, Err: errors.New("no rule matched")})
		return
	}

	if plain {
		writeJSON(w, http.StatusOK, flagReturnValue(decision.Value))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Value  interface{} `json:"value"`
		Reason string      `json:"reason"`
	}{flagReturnValue(decision.Value), decision.Reason.String()})
}

// reservedQueryParams are eval-request controls, not context attributes.
var reservedQueryParams = map[string]bool{"env": true, "ff_output": true}

func queryContext(r *http.Request) lang.Context {
	ctx := make(lang.Context)
	for k, vs := range r.URL.Query() {
		if reservedQueryParams[k] || len(vs) == 0 {
			continue
		}
		ctx[k] = vs[0]
	}
	return ctx
}

func flagReturnValue(v lang.FlagReturn) interface{} {
	switch v.Kind {
	case lang.ReturnOnOff:
		return v.Bool
	case lang.ReturnInteger:
		return v.Int
	case lang.ReturnStr:
		return v.Str
	case lang.ReturnJSON:
		return v.JSON
	default:
		return nil
	}
}

// ofrepResult is the OpenFeature REST façade's single-flag result shape.
type ofrepResult struct {
	Key          string      `json:"key"`
	Value        interface{} `json:"value"`
	Reason       string      `json:"reason"`
	ErrorCode    string      `json:"errorCode,omitempty"`
	ErrorDetails string      `json:"errorDetails,omitempty"`
}

func (h *Handler) evalOne(ns, key string, ctx lang.Context, env string) ofrepResult {
	n := h.node.Namespace(ns)
	if n == nil {
		return ofrepResult{Key: key, Reason: "ERROR", ErrorCode: "FLAG_NOT_FOUND", ErrorDetails: "unknown namespace"}
	}
	decision, err := lang.NewEvaluator().Evaluate(n.Parsed, key, ctx, env)
	if err != nil {
		return ofrepResult{Key: key, Reason: "ERROR", ErrorCode: "GENERAL", ErrorDetails: err.Error()}
	}
	if decision.Reason == lang.ReasonNotFound {
		return ofrepResult{Key: key, Reason: "ERROR", ErrorCode: "FLAG_NOT_FOUND"}
	}
	return ofrepResult{Key: key, Value: flagReturnValue(decision.Value), Reason: decision.Reason.String()}
}

type ofrepRequest struct {
	Context map[string]string `json:"context"`
}

// serveOFREPSingle is POST /ofrep/v1/evaluate/flags/{key}.
func (h *Handler) serveOFREPSingle(w http.ResponseWriter, r *http.Request, ns string) {
	if err := h.authorize(r, ns, auth.ReadPrivilege); err != nil {
		writeAPIErr(w, err)
		return
	}
	key := httprouter.ParamsFromContext(r.Context()).ByName("key")
	var req ofrepRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	env := req.Context["env"]
	ctx := make(lang.Context, len(req.Context))
	for k, v := range req.Context {
		if k != "env" {
			ctx[k] = v
		}
	}
	writeJSON(w, http.StatusOK, h.evalOne(ns, key, ctx, env))
}

// serveOFREPBulk is POST /ofrep/v1/evaluate/flags: every flag in the
// namespace, evaluated against the same request context.
func (h *Handler) serveOFREPBulk(w http.ResponseWriter, r *http.Request, ns string) {
	if err := h.authorize(r, ns, auth.ReadPrivilege); err != nil {
		writeAPIErr(w, err)
		return
	}
	n, err := h.parseOrNotFound(ns)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	var req ofrepRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	env := req.Context["env"]
	ctx := make(lang.Context, len(req.Context))
	for k, v := range req.Context {
		if k != "env" {
			ctx[k] = v
		}
	}

	results := make([]ofrepResult, 0, len(n.Parsed.Flags))
	for _, fd := range n.Parsed.Flags {
		results = append(results, h.evalOne(ns, fd.Name, ctx, env))
	}
	writeJSON(w, http.StatusOK, struct {
		Flags []ofrepResult `json:"flags"`
	}{results})
}

// serveHealth always reports ok, spec.md §4.7 GET /health.
func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"ok"})
}

// serveReadyz reports ready once a leader is known, or always in
// standalone mode, spec.md §4.7 GET /readyz.
func (h *Handler) serveReadyz(w http.ResponseWriter, r *http.Request) {
	if !h.node.HasLeader() {
		writeJSON(w, http.StatusServiceUnavailable, struct {
			Status string `json:"status"`
		}{"no leader"})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"ok"})
}
