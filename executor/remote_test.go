package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// jobServer fakes a remote provider's job endpoint.
type jobServer struct {
	mu        sync.Mutex
	submitted submitJobRequest
	polls     int
	cancelled bool

	// status returned once polls pass pending.
	final jobStatusResponse
	// pendingPolls is how many polls report running before final.
	pendingPolls int
	submitCode   int
}

func (s *jobServer) handler() http.Handler {
	// Method-based patterns ("POST /jobs") need go1.22's ServeMux; dispatch
	// manually so the fake server also works on go1.21.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			s.mu.Lock()
			defer s.mu.Unlock()
			json.NewDecoder(r.Body).Decode(&s.submitted)
			if s.submitCode != 0 {
				w.WriteHeader(s.submitCode)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(submitJobResponse{JobID: "job-1"})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/jobs/"):
			s.mu.Lock()
			defer s.mu.Unlock()
			s.polls++
			if s.polls <= s.pendingPolls {
				json.NewEncoder(w).Encode(jobStatusResponse{Status: jobRunning})
				return
			}
			json.NewEncoder(w).Encode(s.final)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/jobs/"):
			s.mu.Lock()
			defer s.mu.Unlock()
			s.cancelled = true
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	})
}

func (s *jobServer) wasCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func newRemote(t *testing.T, srv *jobServer) *RemoteAdapter {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	a := NewRemoteAdapter(ProviderAWSLambda, ts.URL, "secret", testLogger())
	a.pollInterval = 5 * time.Millisecond
	return a
}

func TestRemoteExecuteCompletes(t *testing.T) {
	srv := &jobServer{
		pendingPolls: 2,
		final:        jobStatusResponse{Status: jobCompleted, Output: "42\n", ExitCode: 0},
	}
	a := newRemote(t, srv)

	res, err := a.Execute(context.Background(), Request{
		ID:       "exec-1",
		Language: "python",
		Code:     "print(42)",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Output != "42\n" || res.Provider != ProviderAWSLambda {
		t.Fatalf("result = %+v", res)
	}
	if srv.submitted.ExecutionID != "exec-1" || srv.submitted.TimeoutMS != 5000 {
		t.Fatalf("submitted = %+v", srv.submitted)
	}
}

func TestRemoteExecuteUserCodeFailure(t *testing.T) {
	srv := &jobServer{
		final: jobStatusResponse{Status: jobCompleted, Output: "boom\n", ExitCode: 2},
	}
	a := newRemote(t, srv)

	res, err := a.Execute(context.Background(), Request{ID: "x", Timeout: time.Second})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || res.Error != "exit status 2" {
		t.Fatalf("result = %+v, want user code failure", res)
	}
}

func TestRemoteDeadlineCancelsJob(t *testing.T) {
	srv := &jobServer{pendingPolls: 1 << 30}
	a := newRemote(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := a.Execute(ctx, Request{ID: "x", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("result = %+v, want timeout", res)
	}
	if !srv.wasCancelled() {
		t.Fatal("remote job was not cancelled on deadline")
	}
}

func TestRemoteSubmitFailureIsProviderFailure(t *testing.T) {
	srv := &jobServer{submitCode: http.StatusInternalServerError}
	a := newRemote(t, srv)

	_, err := a.Execute(context.Background(), Request{ID: "x", Timeout: time.Second})
	if !IsProviderFailure(err) {
		t.Fatalf("err = %v, want provider failure", err)
	}
	if !strings.Contains(err.Error(), "aws_lambda") {
		t.Fatalf("err %q does not name the provider", err)
	}
}

func TestRemoteJobFailureIsProviderFailure(t *testing.T) {
	srv := &jobServer{
		final: jobStatusResponse{Status: jobFailed, Error: "sandbox pod lost"},
	}
	a := newRemote(t, srv)

	_, err := a.Execute(context.Background(), Request{ID: "x", Timeout: time.Second})
	if !IsProviderFailure(err) {
		t.Fatalf("err = %v, want provider failure", err)
	}
}
