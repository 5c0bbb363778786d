package rpcserver

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/samuelreed/swerex-go/internal/runtime"
)

func newTestServer(t *testing.T, token string) (*httptest.Server, *runtime.Local) {
	t.Helper()
	rt := runtime.NewLocal()
	t.Cleanup(func() { rt.Close(context.Background()) })
	srv := httptest.NewServer(New(rt, token))
	t.Cleanup(srv.Close)
	return srv, rt
}

func doJSON(t *testing.T, srv *httptest.Server, token, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set(apiKeyHeader, token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestIsAlive(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp := doJSON(t, srv, "", http.MethodGet, "/is_alive", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out runtime.IsAliveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.IsAlive {
		t.Fatal("expected is_alive=true for a Local runtime")
	}
}

func TestExecuteRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp := doJSON(t, srv, "", http.MethodPost, "/execute", runtime.Command{
		Command: "echo 'hello world'",
		Shell:   true,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out runtime.CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Stdout != "hello world\n" {
		t.Fatalf("stdout = %q, want %q", out.Stdout, "hello world\n")
	}
	if out.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", out.ExitCode)
	}
}

func TestReadWriteFileRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, "")
	dir := t.TempDir()
	path := dir + "/nested/file.txt"

	resp := doJSON(t, srv, "", http.MethodPost, "/write_file", runtime.WriteFileRequest{
		Path:    path,
		Content: "payload",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("write status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, srv, "", http.MethodPost, "/read_file", runtime.ReadFileRequest{Path: path})
	defer resp.Body.Close()
	var out runtime.ReadFileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Content != "payload" {
		t.Fatalf("content = %q, want %q", out.Content, "payload")
	}
}

func TestRunInUnknownSessionReturns312(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp := doJSON(t, srv, "", http.MethodPost, "/run_in_session", runtime.Action{
		Session: "nope",
		Command: "echo hi",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (structured failure, not a transport error)", resp.StatusCode)
	}
	var obs runtime.Observation
	if err := json.NewDecoder(resp.Body).Decode(&obs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if obs.ExitCodeRaw != "-312" {
		t.Fatalf("exit_code_raw = %q, want -312", obs.ExitCodeRaw)
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret-token")
	resp := doJSON(t, srv, "", http.MethodGet, "/is_alive", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAuthAcceptsMatchingToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret-token")
	resp := doJSON(t, srv, "secret-token", http.MethodGet, "/is_alive", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCloseSessionUnknownReportsFailure(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp := doJSON(t, srv, "", http.MethodPost, "/close_session", runtime.CloseSessionRequest{Session: "nope"})
	defer resp.Body.Close()
	var out runtime.CloseSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Success {
		t.Fatal("expected closing an unknown session to fail")
	}
	if out.FailureReason == "" {
		t.Fatal("expected a failure reason")
	}
}

func TestUploadSingleFile(t *testing.T) {
	srv, _ := newTestServer(t, "")
	dir := t.TempDir()
	target := dir + "/uploaded/file.txt"

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("target_path", target); err != nil {
		t.Fatal(err)
	}
	if err := writer.WriteField("unzip", "false"); err != nil {
		t.Fatal(err)
	}
	part, err := writer.CreateFormFile("file", "file.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/upload", &body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading uploaded file: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("content = %q, want %q", string(data), "payload")
	}
}

func TestUploadZipIsExpanded(t *testing.T) {
	srv, _ := newTestServer(t, "")
	dir := t.TempDir()
	target := dir + "/expanded"

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	for name, content := range map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	zw.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	writer.WriteField("target_path", target)
	writer.WriteField("unzip", "true")
	part, err := writer.CreateFormFile("file", "archive.zip")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(archive.Bytes())
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/upload", &body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	for name, content := range map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"} {
		data, err := os.ReadFile(target + "/" + name)
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if string(data) != content {
			t.Fatalf("%s = %q, want %q", name, string(data), content)
		}
	}
}

// The Remote client and this server speak the same wire format; drive the
// client against a real server to make sure the two halves agree on
// auth, method, and body shapes.
func TestRemoteClientAgainstServer(t *testing.T) {
	srv, _ := newTestServer(t, "tok")
	r := runtime.NewRemote(runtime.RemoteConfig{Host: srv.URL, AuthToken: "tok"})
	ctx := context.Background()

	alive, err := r.IsAlive(ctx)
	if err != nil {
		t.Fatalf("IsAlive: %v", err)
	}
	if !alive.IsAlive {
		t.Fatal("expected is_alive=true")
	}

	execResp, err := r.Execute(ctx, runtime.Command{Command: "echo 'hello world'", Shell: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if execResp.Stdout != "hello world\n" || execResp.ExitCode != 0 {
		t.Fatalf("unexpected execute result: %+v", execResp)
	}

	dir := t.TempDir()
	path := dir + "/roundtrip.txt"
	if _, err := r.WriteFile(ctx, runtime.WriteFileRequest{Path: path, Content: "over the wire"}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	readResp, err := r.ReadFile(ctx, runtime.ReadFileRequest{Path: path})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !readResp.Success || readResp.Content != "over the wire" {
		t.Fatalf("unexpected read result: %+v", readResp)
	}

	src := t.TempDir()
	if err := os.MkdirAll(src+"/sub", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src+"/a.txt", []byte("alpha"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src+"/sub/b.txt", []byte("beta"), 0o644); err != nil {
		t.Fatal(err)
	}
	target := dir + "/uploaded-dir"
	if err := r.Upload(ctx, src, target); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	for name, content := range map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"} {
		data, err := os.ReadFile(target + "/" + name)
		if err != nil {
			t.Fatalf("reading %s: %v", name, err)
		}
		if string(data) != content {
			t.Fatalf("%s = %q, want %q", name, string(data), content)
		}
	}
}
