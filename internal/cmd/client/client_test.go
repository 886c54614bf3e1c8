package client

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
)

type request struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// stubAPI records requests and answers from a fixed route table.
type stubAPI struct {
	mu       sync.Mutex
	requests []request
	routes   map[string]func(w http.ResponseWriter)
}

func newStubAPI(t *testing.T, routes map[string]func(w http.ResponseWriter)) (*stubAPI, BaseURLFunc) {
	t.Helper()
	s := &stubAPI{routes: routes}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &req.Body)
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		if h, ok := s.routes[r.URL.Path]; ok {
			h(w)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no route"}`))
	}))
	t.Cleanup(srv.Close)
	return s, func() string { return srv.URL }
}

func (s *stubAPI) all() []request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]request(nil), s.requests...)
}

func respond(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func execute(t *testing.T, baseURL BaseURLFunc, args ...string) (string, error) {
	t.Helper()
	root := NewRoot(baseURL)
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestProduceKeysByEventID(t *testing.T) {
	api, base := newStubAPI(t, map[string]func(http.ResponseWriter){
		"/v1/topics/publish": respond(http.StatusAccepted, `{"topic":"consume-event","partition":2,"offset":7}`),
	})
	out, err := execute(t, base, "produce", `{"eventId":"e1","timestamp":1,"type":"t","payload":{}}`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "partition=2 offset=7 key=e1") {
		t.Fatalf("unexpected output: %s", out)
	}
	reqs := api.all()
	if len(reqs) != 1 || reqs[0].Method != http.MethodPost {
		t.Fatalf("requests: %+v", reqs)
	}
	if reqs[0].Body["key"] != "e1" {
		t.Fatalf("expected key e1, got %v", reqs[0].Body["key"])
	}
	value := reqs[0].Body["value"].(map[string]any)
	if value["eventId"] != "e1" {
		t.Fatalf("value not forwarded: %v", value)
	}
}

func TestProduceDemo(t *testing.T) {
	orig := words
	words = func() string { return "quiet river" }
	t.Cleanup(func() { words = orig })
	api, base := newStubAPI(t, map[string]func(http.ResponseWriter){
		"/v1/topics/publish": respond(http.StatusAccepted, `{"topic":"consume-event","partition":0,"offset":1}`),
	})
	out, err := execute(t, base, "produce", "--demo", "3", "--type", "user.created")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n := strings.Count(out, "offset=1"); n != 3 {
		t.Fatalf("expected 3 publishes, got %d: %s", n, out)
	}
	for _, r := range api.all() {
		value := r.Body["value"].(map[string]any)
		if value["type"] != "user.created" || r.Body["key"] != value["eventId"] {
			t.Fatalf("demo event: %+v", r.Body)
		}
	}
}

func TestProduceArgumentErrors(t *testing.T) {
	_, base := newStubAPI(t, nil)
	if _, err := execute(t, base, "produce"); err == nil {
		t.Fatalf("expected error without event or --demo")
	}
	if _, err := execute(t, base, "produce", "{not json"); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
	if _, err := execute(t, base, "produce", "--demo", "1", `{}`); err == nil {
		t.Fatalf("expected error for both event and --demo")
	}
}

func TestJobsRequeueReportsAPIError(t *testing.T) {
	_, base := newStubAPI(t, map[string]func(http.ResponseWriter){
		"/v1/jobs/requeue": respond(http.StatusConflict, `{"error":"job is not failed"}`),
	})
	_, err := execute(t, base, "jobs", "requeue", "e1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "job is not failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJobsCommands(t *testing.T) {
	api, base := newStubAPI(t, map[string]func(http.ResponseWriter){
		"/v1/jobs/stats":   respond(http.StatusOK, `{"waiting":1,"active":0,"retrying":0,"completed":0,"failed":2}`),
		"/v1/jobs/failed":  respond(http.StatusOK, `{"jobs":[{"id":"e2","state":"failed"}]}`),
		"/v1/jobs/get":     respond(http.StatusOK, `{"id":"e2","state":"failed"}`),
		"/v1/jobs/requeue": func(w http.ResponseWriter) { w.WriteHeader(http.StatusNoContent) },
	})

	out, err := execute(t, base, "jobs", "stats")
	if err != nil || !strings.Contains(out, `"failed": 2`) {
		t.Fatalf("stats: %v %s", err, out)
	}
	out, err = execute(t, base, "jobs", "failed", "--limit", "5")
	if err != nil || !strings.Contains(out, `"e2"`) {
		t.Fatalf("failed: %v %s", err, out)
	}
	if _, err = execute(t, base, "jobs", "get", "e2"); err != nil {
		t.Fatalf("get: %v", err)
	}
	out, err = execute(t, base, "jobs", "requeue", "e2", "e3")
	if err != nil || strings.Count(out, "requeued:") != 2 {
		t.Fatalf("requeue: %v %s", err, out)
	}

	var sawLimit, sawID bool
	for _, r := range api.all() {
		if r.Path == "/v1/jobs/failed" && r.Query == "limit=5" {
			sawLimit = true
		}
		if r.Path == "/v1/jobs/get" && r.Query == "id=e2" {
			sawID = true
		}
	}
	if !sawLimit || !sawID {
		t.Fatalf("query parameters not sent: %+v", api.all())
	}
}

func TestTopicCreate(t *testing.T) {
	api, base := newStubAPI(t, map[string]func(http.ResponseWriter){
		"/v1/topics/create": respond(http.StatusCreated, `{"name":"orders","partitions":6,"replicationFactor":1}`),
	})
	out, err := execute(t, base, "topic", "create", "--name", "orders", "--partitions", "6")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "status: OK") {
		t.Fatalf("unexpected output: %s", out)
	}
	if got := api.all()[0].Body["partitions"]; got != float64(6) {
		t.Fatalf("partitions sent: %v", got)
	}
}
