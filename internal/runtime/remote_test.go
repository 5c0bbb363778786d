package runtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRemoteIsAliveNeverErrors(t *testing.T) {
	r := NewRemote(RemoteConfig{Host: "http://127.0.0.1:1"})
	resp, err := r.IsAlive(newCtx())
	if err != nil {
		t.Fatalf("IsAlive must never return an error, got: %v", err)
	}
	if resp.IsAlive {
		t.Fatal("expected IsAlive to be false for an unreachable host")
	}
	if resp.Message == "" {
		t.Fatal("expected a diagnostic message for an unreachable host")
	}
}

func TestRemoteAttachesAPIKeyHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotKey = req.Header.Get("X-API-Key")
		json.NewEncoder(w).Encode(IsAliveResponse{IsAlive: true})
	}))
	defer srv.Close()

	r := NewRemote(RemoteConfig{Host: srv.URL, AuthToken: "secret-token"})
	if _, err := r.IsAlive(newCtx()); err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if gotKey != "secret-token" {
		t.Fatalf("expected X-API-Key %q, got %q", "secret-token", gotKey)
	}
}

func TestRemoteReconstructsTypedException(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(511)
		json.NewEncoder(w).Encode(map[string]any{
			"swerexception": map[string]any{
				"class_path": "swerex.exceptions.SessionDoesNotExistError",
				"message":    "session \"x\" does not exist",
				"traceback":  "...",
			},
		})
	}))
	defer srv.Close()

	r := NewRemote(RemoteConfig{Host: srv.URL})
	_, err := r.RunInSession(newCtx(), Action{Session: "x", Command: "echo hi"})
	if err == nil {
		t.Fatal("expected an error")
	}
	var target *SessionDoesNotExistError
	if !asTarget(err, &target) {
		t.Fatalf("expected *SessionDoesNotExistError, got %T: %v", err, err)
	}
}

func TestRemoteUnknownExceptionFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(511)
		json.NewEncoder(w).Encode(map[string]any{
			"swerexception": map[string]any{
				"class_path": "swerex.exceptions.SomeBrandNewError",
				"message":    "unexpected",
			},
		})
	}))
	defer srv.Close()

	r := NewRemote(RemoteConfig{Host: srv.URL})
	_, err := r.Execute(newCtx(), Command{Command: "echo hi", Shell: true})
	if err == nil {
		t.Fatal("expected an error")
	}
	var target *RemoteRuntimeError
	if !asTarget(err, &target) {
		t.Fatalf("expected fallback *RemoteRuntimeError, got %T: %v", err, err)
	}
}

func TestRemoteNonTransferErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	r := NewRemote(RemoteConfig{Host: srv.URL})
	_, err := r.Execute(newCtx(), Command{Command: "echo hi", Shell: true})
	var target *TransportError
	if !asTarget(err, &target) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	if target.StatusCode != 500 {
		t.Fatalf("expected status 500, got %d", target.StatusCode)
	}
}
