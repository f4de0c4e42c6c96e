package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wellspring/api/internal/store"
)

func newTestHTTPServer(fd *fakeData) *HTTPServer {
	svc := newTestService(fd, &fakeExec{}, &fakeBoardSync{}, &fakeHistoryStore{}, &fakeSearch{})
	return NewHTTPServer(svc, "*", "test-token")
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestHTTPServer(&fakeData{})

	rr := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if ok := response["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpointDatabaseFailure(t *testing.T) {
	fd := &fakeData{
		pingFn: func(context.Context) error {
			return errors.New("connection refused")
		},
	}
	server := newTestHTTPServer(fd)

	rr := doRequest(t, server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if status := response["status"]; status != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", status)
	}
	checks := response["checks"].(map[string]any)
	database := checks["database"].(map[string]any)
	if database["error"] != "connection refused" {
		t.Errorf("got database check %v", database)
	}
}

func TestMutationsRequireSyncToken(t *testing.T) {
	server := newTestHTTPServer(&fakeData{})

	rr := doRequest(t, server, http.MethodPost, "/api/chapters", "", `{"reportState":"new_mexico","chapterType":"voting_rights"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/chapters", "wrong-token", `{"reportState":"new_mexico","chapterType":"voting_rights"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/chapters", "test-token", `{"reportState":"new_mexico","chapterType":"voting_rights","workflowType":"author_agreement"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 with valid token, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSyncTokenAcceptedInHeader(t *testing.T) {
	server := newTestHTTPServer(&fakeData{})

	req := httptest.NewRequest(http.MethodPost, "/api/chapters",
		strings.NewReader(`{"reportState":"new_mexico","chapterType":"voting_rights","workflowType":"author_agreement"}`))
	req.Header.Set("X-Sync-Token", "test-token")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
}

func TestGetChapterNotFound(t *testing.T) {
	server := newTestHTTPServer(&fakeData{})

	rr := doRequest(t, server, http.MethodGet, "/api/chapters/new_mexico:voting_rights", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if response["code"] != "NOT_FOUND" {
		t.Errorf("got code %v", response["code"])
	}
}

func TestAdvanceEndpointReturnsMilestone(t *testing.T) {
	chapter := testChapter()
	fd := &fakeData{
		advanceStepFn: func(_ context.Context, chapterID, targetStep string) (store.StepTransition, error) {
			return store.StepTransition{ChapterID: chapterID, CompletedStep: "contract_drafted", NewStep: targetStep}, nil
		},
		getChapterFn: func(context.Context, string) (store.Chapter, error) {
			return chapter, nil
		},
		getContributorMappingFn: func(context.Context, string, string, string) (store.ContributorMapping, error) {
			return store.ContributorMapping{BoardItemID: "item-42"}, nil
		},
	}
	server := newTestHTTPServer(fd)

	rr := doRequest(t, server, http.MethodPost, "/api/chapters/new_mexico:voting_rights/advance",
		"test-token", `{"targetStep":"contract_sent_review"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var result AdvanceResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if result.Milestone != "drafted" {
		t.Errorf("got milestone %q", result.Milestone)
	}
	if result.Transition.NewStep != "contract_sent_review" {
		t.Errorf("got new step %q", result.Transition.NewStep)
	}
}

func TestAdvanceEndpointRequiresTargetStep(t *testing.T) {
	server := newTestHTTPServer(&fakeData{})

	rr := doRequest(t, server, http.MethodPost, "/api/chapters/new_mexico:voting_rights/advance",
		"test-token", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestIllegalTransitionReturnsConflict(t *testing.T) {
	fd := &fakeData{
		advanceStepFn: func(context.Context, string, string) (store.StepTransition, error) {
			return store.StepTransition{}, store.ErrIllegalTransition
		},
	}
	server := newTestHTTPServer(fd)

	rr := doRequest(t, server, http.MethodPost, "/api/chapters/new_mexico:voting_rights/advance",
		"test-token", `{"targetStep":"onboarded"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestTimelineEndpointValidatesSigningDate(t *testing.T) {
	chapter := testChapter()
	deadline := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fd := &fakeData{
		getChapterFn: func(context.Context, string) (store.Chapter, error) {
			return chapter, nil
		},
		getJurisdictionDeadlineFn: func(context.Context, string) (time.Time, error) {
			return deadline, nil
		},
	}
	server := newTestHTTPServer(fd)

	rr := doRequest(t, server, http.MethodGet, "/api/chapters/new_mexico:voting_rights/timeline?signing=not-a-date", "", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodGet, "/api/chapters/new_mexico:voting_rights/timeline?signing=2025-01-01", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if response["Pace"] != "medium" {
		t.Errorf("expected medium pace 21 weeks out, got %v", response["Pace"])
	}
}

func TestSetDeadlineEndpoint(t *testing.T) {
	var savedState string
	var savedDeadline time.Time
	fd := &fakeData{
		setJurisdictionDeadlineFn: func(_ context.Context, reportState string, deadline time.Time) error {
			savedState = reportState
			savedDeadline = deadline
			return nil
		},
	}
	server := newTestHTTPServer(fd)

	rr := doRequest(t, server, http.MethodPut, "/api/deadlines/new_mexico", "test-token", `{"deadline":"2025-06-01"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if savedState != "new_mexico" {
		t.Errorf("saved state %q", savedState)
	}
	if savedDeadline.Format("2006-01-02") != "2025-06-01" {
		t.Errorf("saved deadline %v", savedDeadline)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server := newTestHTTPServer(&fakeData{})

	rr := doRequest(t, server, http.MethodGet, "/api/nope", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCORSHeadersAndRequestID(t *testing.T) {
	server := newTestHTTPServer(&fakeData{})

	rr := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("got CORS origin %q", origin)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
	if cache := rr.Header().Get("Cache-Control"); cache != "no-store" {
		t.Errorf("got Cache-Control %q", cache)
	}
}
