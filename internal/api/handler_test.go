package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"releasepipe/internal/health"
	"releasepipe/internal/pipeline"
	"releasepipe/internal/runs"
	"releasepipe/internal/scheduler"
	"releasepipe/internal/testutil"
	"releasepipe/internal/trigger"
)

type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, runID string, ev trigger.Event) (*scheduler.Result, error) {
	return &scheduler.Result{RunID: runID, Event: ev, Status: pipeline.StatusSucceeded}, nil
}

type blockingRunner struct{}

func (blockingRunner) Run(ctx context.Context, runID string, ev trigger.Event) (*scheduler.Result, error) {
	<-ctx.Done()
	return &scheduler.Result{RunID: runID, Event: ev, Status: pipeline.StatusFailed, Cancelled: true}, nil
}

func newTestRouter(t *testing.T, runner runs.Runner, apiKey string) (http.Handler, *runs.Service) {
	t.Helper()
	svc := runs.NewService(runner, runs.Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	checker := health.NewChecker(map[string]health.ReadinessChecker{
		"docker": health.ReadyFunc(func(context.Context) error { return nil }),
	})
	return NewRouter(RouterConfig{Runs: svc, HealthChecker: checker, APIKey: apiKey}), svc
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_CreateAndGetRun(t *testing.T) {
	t.Parallel()
	h, _ := newTestRouter(t, stubRunner{}, "")

	w := do(t, h, http.MethodPost, "/v1/runs", `{"event":"push","ref":"refs/heads/develop","sha":"abc"}`, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var created runs.Response
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.State != runs.StateQueued {
		t.Fatalf("Unexpected response: %+v", created)
	}
	if loc := w.Header().Get("Location"); loc != "/v1/runs/"+created.ID {
		t.Errorf("Unexpected Location %q", loc)
	}

	var run runs.Run
	testutil.MustWaitFor(t, func() bool {
		w := do(t, h, http.MethodGet, "/v1/runs/"+created.ID, "", nil)
		if w.Code != http.StatusOK {
			return false
		}
		_ = json.NewDecoder(w.Body).Decode(&run)
		return run.State.IsTerminal()
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(10*time.Millisecond))

	if run.State != runs.StateSucceeded || run.Version != "latest" {
		t.Errorf("Unexpected run: state=%s version=%s", run.State, run.Version)
	}

	w = do(t, h, http.MethodGet, "/v1/runs", "", nil)
	var list runs.ListResponse
	_ = json.NewDecoder(w.Body).Decode(&list)
	if len(list.Runs) != 1 {
		t.Errorf("Expected 1 run in list, got %d", len(list.Runs))
	}
}

func TestRouter_CreateRunErrors(t *testing.T) {
	t.Parallel()
	h, _ := newTestRouter(t, stubRunner{}, "")

	tests := []struct {
		name        string
		body        string
		contentType string
		want        int
	}{
		{"malformed JSON", `{"event": push}`, "application/json", http.StatusBadRequest},
		{"empty body", "", "application/json", http.StatusBadRequest},
		{"unknown field", `{"event":"push","ref":"refs/heads/main","sha":"a","image":"x"}`, "application/json", http.StatusBadRequest},
		{"invalid event", `{"event":"release","ref":"refs/heads/main","sha":"a"}`, "application/json", http.StatusBadRequest},
		{"tag push without tag ref", `{"event":"tag","ref":"refs/heads/main","sha":"a"}`, "", http.StatusBadRequest},
		{"wrong content type", `{}`, "text/plain", http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			header := map[string]string{}
			if tt.contentType != "" {
				header["Content-Type"] = tt.contentType
			}
			w := do(t, h, http.MethodPost, "/v1/runs", tt.body, header)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestRouter_CancelRun(t *testing.T) {
	t.Parallel()
	h, svc := newTestRouter(t, blockingRunner{}, "")

	resp, err := svc.Create(context.Background(), &runs.Request{Event: "push", Ref: "refs/heads/main", SHA: "a"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if w := do(t, h, http.MethodDelete, "/v1/runs/"+resp.ID, "", nil); w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := svc.Wait(ctx, resp.ID); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if w := do(t, h, http.MethodDelete, "/v1/runs/"+resp.ID, "", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for finished run, got %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/v1/runs/missing", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/v1/runs/missing", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestRouter_ResolveVersion(t *testing.T) {
	t.Parallel()
	h, _ := newTestRouter(t, stubRunner{}, "")

	tests := []struct {
		ref      string
		want     int
		version  string
		artifact string
	}{
		{"refs/tags/v2.1.0", http.StatusOK, "2.1.0", "image-2.1.0.tar"},
		{"refs/heads/develop", http.StatusOK, "latest", "image-latest.tar"},
		{"refs/heads/main", http.StatusOK, "main", "image-main.tar"},
		{"", http.StatusBadRequest, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			t.Parallel()
			w := do(t, h, http.MethodGet, "/v1/versions?ref="+tt.ref, "", nil)
			if w.Code != tt.want {
				t.Fatalf("Expected %d, got %d", tt.want, w.Code)
			}
			if tt.want != http.StatusOK {
				return
			}
			var resp VersionResponse
			_ = json.NewDecoder(w.Body).Decode(&resp)
			if resp.Version != tt.version || resp.Artifact != tt.artifact {
				t.Errorf("Unexpected response: %+v", resp)
			}
		})
	}
}

func TestRouter_Auth(t *testing.T) {
	t.Parallel()
	h, _ := newTestRouter(t, stubRunner{}, "s3cret")

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing header", nil, http.StatusUnauthorized},
		{"wrong scheme", map[string]string{"Authorization": "Basic s3cret"}, http.StatusUnauthorized},
		{"wrong key", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"valid key", map[string]string{"Authorization": "bearer s3cret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if w := do(t, h, http.MethodGet, "/v1/runs", "", tt.header); w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
		})
	}

	if w := do(t, h, http.MethodGet, "/livez", "", nil); w.Code != http.StatusOK {
		t.Errorf("Probes must not require auth, got %d", w.Code)
	}
}

func TestHandler_Probes(t *testing.T) {
	t.Parallel()

	h := NewHandler(nil, health.NewChecker(nil), nil)

	w := httptest.NewRecorder()
	h.Livez(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 from livez, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.Readyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without dependencies, got %d", w.Code)
	}
	var resp health.Response
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != health.StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", resp.Status)
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	t.Parallel()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	w := httptest.NewRecorder()
	RecoveryMiddleware(testutil.DiscardLogger())(inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestMiddleware_ContentType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		method      string
		contentType string
		called      bool
	}{
		{"json", http.MethodPost, "application/json", true},
		{"json with charset", http.MethodPost, "application/json; charset=utf-8", true},
		{"no content type", http.MethodPost, "", true},
		{"text", http.MethodPost, "text/plain", false},
		{"get ignores content type", http.MethodGet, "text/plain", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			called := false
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

			req := httptest.NewRequest(tt.method, "/test", bytes.NewBufferString("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			ContentTypeMiddleware()(inner).ServeHTTP(httptest.NewRecorder(), req)

			if called != tt.called {
				t.Errorf("Expected called=%v, got %v", tt.called, called)
			}
		})
	}
}
