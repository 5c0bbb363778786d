package runtime

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// apiKeyTransferStatus is the HTTP status a remote swerex-style server
// uses to carry a typed exception back to the client instead of a plain
// error body.
const apiKeyTransferStatus = 511

// RemoteConfig configures a Remote runtime client.
type RemoteConfig struct {
	Host       string
	Port       int
	AuthToken  string
	HTTPClient *http.Client
}

// Remote is a Runtime implementation that talks to a deployment's HTTP
// server, reconstructing typed errors from the 511 transfer envelope and
// never panicking on a dead or unreachable remote.
type Remote struct {
	baseURL   string
	authToken string
	client    *http.Client
}

var _ Runtime = (*Remote)(nil)

// NewRemote builds a Remote client for the given host/port/token. The
// default client carries no global timeout: a run-in-session call blocks
// server-side for up to the action's own timeout, which can be far longer
// than any sane transport deadline. Callers bound individual requests
// through the context instead.
func NewRemote(cfg RemoteConfig) *Remote {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	base := cfg.Host
	if cfg.Port != 0 {
		base = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}
	return &Remote{baseURL: base, authToken: cfg.AuthToken, client: client}
}

func (r *Remote) headers(req *http.Request) {
	if r.authToken != "" {
		req.Header.Set("X-API-Key", r.authToken)
	}
	req.Header.Set("Content-Type", "application/json")
}

// request sends body (JSON-encoded, unless nil) to endpoint and decodes
// the JSON response into out. Every endpoint is a POST except is_alive,
// which is a plain GET probe.
func (r *Remote) request(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("runtime: marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, r.baseURL+"/"+endpoint, reader)
	if err != nil {
		return fmt.Errorf("runtime: building request: %w", err)
	}
	r.headers(httpReq)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("runtime: request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("runtime: reading response from %s: %w", endpoint, err)
	}

	if err := r.handleStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("runtime: decoding response from %s: %w", endpoint, err)
	}
	return nil
}

func (r *Remote) handleStatus(status int, body []byte) error {
	if status == apiKeyTransferStatus {
		var envelope struct {
			SweRexException exceptionTransfer `json:"swerexception"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return &RemoteRuntimeError{Message: string(body)}
		}
		return envelope.SweRexException.reconstruct()
	}
	if status < 200 || status >= 300 {
		return &TransportError{StatusCode: status, Body: string(body)}
	}
	return nil
}

// IsAlive never returns an error: an unreachable remote is reported as
// IsAlive: false with the failure captured in Message, so callers can
// poll it in a retry loop without special-casing transport failures.
func (r *Remote) IsAlive(ctx context.Context) (IsAliveResponse, error) {
	var out IsAliveResponse
	if err := r.request(ctx, http.MethodGet, "is_alive", nil, &out); err != nil {
		return IsAliveResponse{IsAlive: false, Message: err.Error()}, nil
	}
	return out, nil
}

func (r *Remote) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, error) {
	var out CreateSessionResponse
	err := r.request(ctx, http.MethodPost, "create_session", req, &out)
	return out, err
}

func (r *Remote) RunInSession(ctx context.Context, action Action) (Observation, error) {
	var out Observation
	err := r.request(ctx, http.MethodPost, "run_in_session", action, &out)
	return out, err
}

func (r *Remote) CloseSession(ctx context.Context, req CloseSessionRequest) (CloseSessionResponse, error) {
	var out CloseSessionResponse
	err := r.request(ctx, http.MethodPost, "close_session", req, &out)
	return out, err
}

func (r *Remote) Execute(ctx context.Context, cmd Command) (CommandResponse, error) {
	var out CommandResponse
	err := r.request(ctx, http.MethodPost, "execute", cmd, &out)
	return out, err
}

func (r *Remote) ReadFile(ctx context.Context, req ReadFileRequest) (ReadFileResponse, error) {
	var out ReadFileResponse
	err := r.request(ctx, http.MethodPost, "read_file", req, &out)
	return out, err
}

func (r *Remote) WriteFile(ctx context.Context, req WriteFileRequest) (WriteFileResponse, error) {
	var out WriteFileResponse
	err := r.request(ctx, http.MethodPost, "write_file", req, &out)
	return out, err
}

func (r *Remote) Close(ctx context.Context) (CloseResponse, error) {
	var out CloseResponse
	err := r.request(ctx, http.MethodPost, "close", nil, &out)
	return out, err
}

// Upload sends sourcePath to the remote runtime at targetPath. A directory
// is first zipped to a temp file and uploaded with unzip=true so the
// server expands it on arrival; a single file is uploaded as-is with
// unzip=false.
func (r *Remote) Upload(ctx context.Context, sourcePath, targetPath string) error {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("runtime: stat %s: %w", sourcePath, err)
	}

	uploadPath := sourcePath
	unzip := "false"
	if info.IsDir() {
		tmp, err := os.CreateTemp("", "swerex-upload-*.zip")
		if err != nil {
			return fmt.Errorf("runtime: creating temp archive: %w", err)
		}
		tmp.Close()
		defer os.Remove(tmp.Name())

		if err := zipDir(sourcePath, tmp.Name()); err != nil {
			return fmt.Errorf("runtime: zipping %s: %w", sourcePath, err)
		}
		uploadPath = tmp.Name()
		unzip = "true"
	}

	file, err := os.Open(uploadPath)
	if err != nil {
		return fmt.Errorf("runtime: opening %s: %w", uploadPath, err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("target_path", targetPath); err != nil {
		return err
	}
	if err := writer.WriteField("unzip", unzip); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("file", filepath.Base(uploadPath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/upload", &body)
	if err != nil {
		return err
	}
	r.headers(httpReq)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("runtime: upload request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	return r.handleStatus(resp.StatusCode, respBody)
}

func zipDir(src, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
}
