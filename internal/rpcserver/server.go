// Package rpcserver is the HTTP glue between a runtime.Runtime and the
// network: thin JSON-in/JSON-out handlers, one per endpoint, plus auth
// checking and the error-transfer envelope. Nine fixed endpoints need
// no router library; a plain http.ServeMux carries them.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/samuelreed/swerex-go/internal/runtime"
)

const apiKeyHeader = "X-API-Key"

// apiKeyTransferStatus is the status used to carry a typed remote
// exception back to the client instead of a plain error body.
const apiKeyTransferStatus = 511

// Server exposes a runtime.Runtime over HTTP.
type Server struct {
	rt        runtime.Runtime
	authToken string
	mux       *http.ServeMux
}

// New builds a Server backed by rt. When authToken is non-empty, every
// request must carry it in the X-API-Key header or be rejected.
func New(rt runtime.Runtime, authToken string) *Server {
	s := &Server{rt: rt, authToken: authToken, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /is_alive", s.withAuth(s.handleIsAlive))
	s.mux.HandleFunc("POST /create_session", s.withAuth(jsonHandler(s.rt.CreateSession)))
	s.mux.HandleFunc("POST /run_in_session", s.withAuth(jsonHandler(s.rt.RunInSession)))
	s.mux.HandleFunc("POST /close_session", s.withAuth(jsonHandler(s.rt.CloseSession)))
	s.mux.HandleFunc("POST /execute", s.withAuth(jsonHandler(s.rt.Execute)))
	s.mux.HandleFunc("POST /read_file", s.withAuth(jsonHandler(s.rt.ReadFile)))
	s.mux.HandleFunc("POST /write_file", s.withAuth(jsonHandler(s.rt.WriteFile)))
	s.mux.HandleFunc("POST /upload", s.withAuth(s.handleUpload))
	s.mux.HandleFunc("POST /close", s.withAuth(s.handleClose))
}

// withAuth rejects requests missing or carrying the wrong token. When no
// token is configured the server accepts any caller.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" && r.Header.Get(apiKeyHeader) != s.authToken {
			http.Error(w, "invalid or missing API key", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// jsonHandler adapts a (ctx, Req) (Resp, error) runtime method into an
// http.HandlerFunc: decode the JSON body into Req, call fn, encode Resp
// (or translate the error per writeError).
func jsonHandler[Req, Resp any](fn func(context.Context, Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
				return
			}
		}
		resp, err := fn(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleIsAlive(w http.ResponseWriter, r *http.Request) {
	resp, err := s.rt.IsAlive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	resp, err := s.rt.Close(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpload accepts a multipart file plus target_path/unzip fields.
// This server only ever fronts a Local runtime (a remote server embeds
// its own copy of this same handler), so the target path is resolved
// directly against the local filesystem rather than round-tripping
// through the Runtime interface, which has no raw-upload method.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, fmt.Sprintf("parsing multipart form: %v", err), http.StatusBadRequest)
		return
	}
	targetPath := r.FormValue("target_path")
	unzip := r.FormValue("unzip") == "true"

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("reading uploaded file: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := saveUpload(file, header, targetPath, unzip); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func saveUpload(file multipart.File, header *multipart.FileHeader, targetPath string, unzip bool) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return err
	}
	if !unzip {
		out, err := os.Create(targetPath)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, file)
		return err
	}

	tmp, err := os.CreateTemp("", "swerex-upload-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	return unzipInto(tmp.Name(), targetPath)
}

// writeJSON encodes v as the response body. Handler errors writing the
// body are logged, not surfaced: the status line has already been sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[rpcserver] encoding response: %v", err)
	}
}

// writeError translates err into the swerexception transfer envelope
// when it is one of the known typed errors, and a plain 500 otherwise.
func writeError(w http.ResponseWriter, err error) {
	classPath, ok := classPathFor(err)
	if !ok {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, apiKeyTransferStatus, map[string]any{
		"swerexception": map[string]string{
			"class_path": classPath,
			"message":    err.Error(),
			"traceback":  "",
		},
	})
}

// classPathFor maps a known runtime error kind to the dotted class path
// the client's reconstruction table (internal/runtime/errors.go) expects.
func classPathFor(err error) (string, bool) {
	var (
		sessionExists       *runtime.SessionExistsError
		sessionNotInit      *runtime.SessionNotInitializedError
		sessionDoesNotExist *runtime.SessionDoesNotExistError
		commandTimeout      *runtime.CommandTimeoutError
		notStarted          *runtime.DeploymentNotStartedError
	)
	switch {
	case errors.As(err, &sessionExists):
		return "swerex.exceptions.SessionExistsError", true
	case errors.As(err, &sessionNotInit):
		return "swerex.exceptions.SessionNotInitializedError", true
	case errors.As(err, &sessionDoesNotExist):
		return "swerex.exceptions.SessionDoesNotExistError", true
	case errors.As(err, &commandTimeout):
		return "swerex.exceptions.CommandTimeoutError", true
	case errors.As(err, &notStarted):
		return "swerex.exceptions.DeploymentNotStartedError", true
	default:
		return "", false
	}
}
