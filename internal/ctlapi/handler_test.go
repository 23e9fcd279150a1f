package ctlapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plexsphere/myfw/internal/filter"
	"github.com/plexsphere/myfw/internal/hook"
	"github.com/plexsphere/myfw/internal/rule"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClient does not pool connections, so no transport goroutines outlive
// a test.
var testClient = &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

type fakeStats struct{ st hook.Stats }

func (f fakeStats) Stats() hook.Stats { return f.st }

type testEnv struct {
	srv     *httptest.Server
	handler *Handler
	filter  *filter.Filter
}

func newTestHandler(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	f, err := filter.New(filter.Config{}, reg, discardLogger())
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	h := NewHandler(f, cfg, fakeStats{hook.Stats{Processed: 9, Accepted: 7, Dropped: 2}}, reg, discardLogger())
	srv := httptest.NewServer(h.Mux())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, handler: h, filter: f}
}

func doRequest(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := testClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

func readText(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, want, body)
	}
}

func TestHandler_StatusAndLifecycle(t *testing.T) {
	env := newTestHandler(t, Config{})

	var st StatusResponse
	resp := doRequest(t, http.MethodGet, env.srv.URL+"/v1/filter", "")
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &st)
	if st.Active || st.Default != "P" || st.Rules != 0 {
		t.Errorf("initial status = %+v", st)
	}
	if st.Queue == nil || st.Queue.Processed != 9 {
		t.Errorf("queue stats = %+v, want processed 9", st.Queue)
	}

	resp = doRequest(t, http.MethodPost, env.srv.URL+"/v1/filter/start", "")
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &st)
	if !st.Active || !env.filter.Active() {
		t.Error("filter not active after start")
	}

	resp = doRequest(t, http.MethodPost, env.srv.URL+"/v1/filter/shutdown", "")
	expectStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &st)
	if st.Active || env.filter.Active() {
		t.Error("filter still active after shutdown")
	}
}

func TestHandler_SetDefault(t *testing.T) {
	env := newTestHandler(t, Config{})

	resp := doRequest(t, http.MethodPut, env.srv.URL+"/v1/filter/default", "R\n")
	expectStatus(t, resp, http.StatusOK)
	var st StatusResponse
	decodeJSON(t, resp, &st)
	if st.Default != "R" {
		t.Errorf("Default = %q, want R", st.Default)
	}

	resp = doRequest(t, http.MethodPut, env.srv.URL+"/v1/filter/default", "drop")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestHandler_AddAndList(t *testing.T) {
	env := newTestHandler(t, Config{})

	resp := doRequest(t, http.MethodPost, env.srv.URL+"/v1/rules", "T 10.0.0.7/24:A 10.0.0.5/32:80 P")
	expectStatus(t, resp, http.StatusCreated)
	var added RuleResponse
	decodeJSON(t, resp, &added)
	if added.Rule != "T 10.0.0.0/24:A 10.0.0.5/32:80 P" {
		t.Errorf("added rule = %q", added.Rule)
	}

	resp = doRequest(t, http.MethodPost, env.srv.URL+"/v1/rules?position=front", "U A/0:A A/0:53 R")
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = doRequest(t, http.MethodPost, env.srv.URL+"/v1/rules?position=tail", "I A/0:A A/0:A R")
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = doRequest(t, http.MethodGet, env.srv.URL+"/v1/rules", "")
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	want := "U A/0:A A/0:53 R\nT 10.0.0.0/24:A 10.0.0.5/32:80 P\nI A/0:A A/0:A R\n"
	if got := readText(t, resp); got != want {
		t.Errorf("listing = %q, want %q", got, want)
	}
}

func TestHandler_AddRejects(t *testing.T) {
	env := newTestHandler(t, Config{})

	tests := []struct {
		name string
		url  string
		body string
		want int
	}{
		{"parse error", "/v1/rules", "T 10.0.0.1/33:A A/0:A P", http.StatusBadRequest},
		{"bad position", "/v1/rules?position=middle", "T A/0:A A/0:A P", http.StatusBadRequest},
		{"too large", "/v1/rules", strings.Repeat("A", maxRuleBytes+1), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, env.srv.URL+tt.url, tt.body)
			expectStatus(t, resp, tt.want)
			var body map[string]string
			decodeJSON(t, resp, &body)
			if body["error"] == "" {
				t.Error("error message missing")
			}
		})
	}
	if env.filter.Len() != 0 {
		t.Errorf("Len() = %d, want 0", env.filter.Len())
	}
}

func TestHandler_ListTruncated(t *testing.T) {
	env := newTestHandler(t, Config{ListBufferSize: 200})
	for i := 0; i < 10; i++ {
		if _, err := env.filter.AppendText("T 192.168.100.200/32:65535 192.168.100.201/32:65535 R"); err != nil {
			t.Fatal(err)
		}
	}

	resp := doRequest(t, http.MethodGet, env.srv.URL+"/v1/rules", "")
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get(TruncatedHeader) != "true" {
		t.Errorf("%s header missing", TruncatedHeader)
	}
	if got := readText(t, resp); !strings.HasSuffix(got, filter.TruncatedSentinel) {
		t.Errorf("listing does not end with sentinel: %q", got)
	}
}

func TestHandler_Batch(t *testing.T) {
	env := newTestHandler(t, Config{})

	body := "T A/0:A A/0:22 R\nnot a rule\n\n# comment\nU A/0:A A/0:53 P\n"
	resp := doRequest(t, http.MethodPost, env.srv.URL+"/v1/rules/batch", body)
	expectStatus(t, resp, http.StatusOK)
	var res BatchResponse
	decodeJSON(t, resp, &res)
	if res.Accepted != 2 || res.Rejected != 1 {
		t.Errorf("batch = %+v, want 2 accepted / 1 rejected", res)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "line 2") {
		t.Errorf("errors = %v", res.Errors)
	}

	resp = doRequest(t, http.MethodGet, env.srv.URL+"/v1/rules", "")
	if got := readText(t, resp); got != "U A/0:A A/0:53 P\nT A/0:A A/0:22 R\n" {
		t.Errorf("listing = %q", got)
	}
}

func TestHandler_BatchTooLargeLeavesRulesUnchanged(t *testing.T) {
	dir := t.TempDir()
	env := newTestHandler(t, Config{MaxBatchBytes: 4096, SnapshotDir: dir})
	if _, err := env.filter.AppendText("U A/0:A A/0:53 P"); err != nil {
		t.Fatal(err)
	}

	body := strings.Repeat("T A/0:A A/0:22 R\n", 1000)
	resp := doRequest(t, http.MethodPost, env.srv.URL+"/v1/rules/batch", body)
	expectStatus(t, resp, http.StatusRequestEntityTooLarge)
	resp.Body.Close()

	if n := env.filter.Len(); n != 1 {
		t.Errorf("Len() = %d after rejected batch, want 1", n)
	}
	if _, err := os.Stat(filepath.Join(dir, filter.SnapshotFile)); !os.IsNotExist(err) {
		t.Errorf("snapshot written for a rejected batch: %v", err)
	}
}

func TestHandler_BatchLineTooLong(t *testing.T) {
	env := newTestHandler(t, Config{})

	body := "T A/0:A A/0:22 R\n" + strings.Repeat("x", 70*1024) + "\n"
	resp := doRequest(t, http.MethodPost, env.srv.URL+"/v1/rules/batch", body)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	if n := env.filter.Len(); n != 0 {
		t.Errorf("Len() = %d after rejected batch, want 0", n)
	}
}

func TestHandler_DeleteMatching(t *testing.T) {
	env := newTestHandler(t, Config{})
	for _, text := range []string{"T A/0:A A/0:22 R", "T A/0:A A/0:80 P", "U A/0:A A/0:22 R"} {
		if _, err := env.filter.AppendText(text); err != nil {
			t.Fatal(err)
		}
	}

	resp := doRequest(t, http.MethodPost, env.srv.URL+"/v1/rules/delete", "A A/0:A A/0:22 P")
	expectStatus(t, resp, http.StatusOK)
	var res DeleteResponse
	decodeJSON(t, resp, &res)
	if res.Removed != 2 {
		t.Errorf("removed = %d, want 2", res.Removed)
	}

	resp = doRequest(t, http.MethodPost, env.srv.URL+"/v1/rules/delete", "garbage")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	if env.filter.Len() != 1 {
		t.Errorf("Len() = %d, want 1", env.filter.Len())
	}
}

func TestHandler_DeleteAt(t *testing.T) {
	env := newTestHandler(t, Config{})
	for _, text := range []string{"T A/0:A A/0:22 R", "T A/0:A A/0:80 P"} {
		if _, err := env.filter.AppendText(text); err != nil {
			t.Fatal(err)
		}
	}

	resp := doRequest(t, http.MethodDelete, env.srv.URL+"/v1/rules/2", "")
	expectStatus(t, resp, http.StatusOK)
	var removed RuleResponse
	decodeJSON(t, resp, &removed)
	if removed.Rule != "T A/0:A A/0:80 P" {
		t.Errorf("removed = %q", removed.Rule)
	}

	resp = doRequest(t, http.MethodDelete, env.srv.URL+"/v1/rules/5", "")
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doRequest(t, http.MethodDelete, env.srv.URL+"/v1/rules/0", "")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doRequest(t, http.MethodDelete, env.srv.URL+"/v1/rules/x", "")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestHandler_Clear(t *testing.T) {
	env := newTestHandler(t, Config{})
	env.filter.SetDefault(rule.Reject)
	if _, err := env.filter.AppendText("T A/0:A A/0:22 R"); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodDelete, env.srv.URL+"/v1/rules", "")
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	st := env.filter.Status()
	if st.Rules != 0 || st.Default != "P" {
		t.Errorf("status after clear = %+v", st)
	}
}

func TestHandler_SessionBusy(t *testing.T) {
	env := newTestHandler(t, Config{})

	env.handler.session.Lock()
	resp := doRequest(t, http.MethodPost, env.srv.URL+"/v1/rules", "T A/0:A A/0:22 R")
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// Reads are not gated.
	resp = doRequest(t, http.MethodGet, env.srv.URL+"/v1/rules", "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	env.handler.session.Unlock()

	resp = doRequest(t, http.MethodPost, env.srv.URL+"/v1/rules", "T A/0:A A/0:22 R")
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
}

func TestHandler_Metrics(t *testing.T) {
	env := newTestHandler(t, Config{})
	if _, err := env.filter.AppendText("T A/0:A A/0:22 R"); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodGet, env.srv.URL+"/metrics", "")
	expectStatus(t, resp, http.StatusOK)
	body := readText(t, resp)
	if !strings.Contains(body, "myfw_rules 1") {
		t.Errorf("metrics output lacks myfw_rules gauge:\n%s", body)
	}
}

func TestHandler_PersistsSnapshot(t *testing.T) {
	dir := t.TempDir()
	env := newTestHandler(t, Config{SnapshotDir: dir})

	resp := doRequest(t, http.MethodPost, env.srv.URL+"/v1/rules", "T A/0:A A/0:22 R")
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	data, err := os.ReadFile(filepath.Join(dir, filter.SnapshotFile))
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	if !strings.Contains(string(data), "T A/0:A A/0:22 R") {
		t.Errorf("snapshot lacks rule:\n%s", data)
	}
}
