// Package server exposes the chat over HTTP. The API is deliberately
// plain: message bodies travel as text, everything else as JSON.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"gitchat/internal/archive"
	"gitchat/internal/chat"
	"gitchat/internal/identity"
)

// maxMessageBytes bounds a posted message body.
const maxMessageBytes = 64 << 10

// Puller refreshes the local repository from its origin before reads.
type Puller interface {
	PullFromOrigin() error
}

// Server handles the HTTP API. The archiver and puller are optional;
// nil disables the corresponding behavior.
type Server struct {
	backend      chat.StorageBackend
	ids          *identity.Store
	archiver     *archive.Archiver
	puller       Puller
	verification bool
	logger       chat.Logger
}

func New(backend chat.StorageBackend, ids *identity.Store, archiver *archive.Archiver, puller Puller, verification bool, logger chat.Logger) *Server {
	return &Server{
		backend:      backend,
		ids:          ids,
		archiver:     archiver,
		puller:       puller,
		verification: verification,
		logger:       logger,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/messages", s.handleListMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages", s.handlePostMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}", s.handleGetMessage).Methods(http.MethodGet)
	r.HandleFunc("/verify_username", s.handleVerifyUsername).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/change_username", s.handleChangeUsername).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/identity/public_keys/{name}", s.handlePublicKey).Methods(http.MethodGet)
	return r
}

// ListenAndServe binds the first free port at or above preferred and
// serves until the listener fails. The bound port is logged, so a
// caller starting on a busy machine can find where it landed.
func (s *Server) ListenAndServe(preferred int) error {
	ln, port, err := listen(preferred)
	if err != nil {
		return err
	}
	s.logger.Info("http server listening", "port", port)
	srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	return srv.Serve(ln)
}

// listen tries successive ports starting at preferred.
func listen(preferred int) (net.Listener, int, error) {
	for port := preferred; port < preferred+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return ln, port, nil
		}
	}
	return nil, 0, fmt.Errorf("no free port in [%d, %d)", preferred, preferred+100)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	s.pull()

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httpError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := s.backend.List(limit)
	if err != nil {
		s.logger.Error("listing messages", "error", err)
		httpError(w, http.StatusInternalServerError, "listing messages")
		return
	}
	s.applyVerification(msgs)
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		httpError(w, http.StatusBadRequest, "reading body")
		return
	}

	id, err := s.backend.Save(chat.SaveRequest{
		Author:  s.requestAuthor(r),
		Content: string(body),
		Parent:  r.URL.Query().Get("parent"),
		Sign:    true,
	})
	switch {
	case errors.Is(err, chat.ErrEmptyContent), errors.Is(err, chat.ErrInvalidUsername):
		httpError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("saving message", "error", err)
		httpError(w, http.StatusInternalServerError, "saving message")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.backend.Read(mux.Vars(r)["id"])
	if err != nil {
		s.logger.Error("reading message", "error", err)
		httpError(w, http.StatusInternalServerError, "reading message")
		return
	}
	if msg == nil {
		httpError(w, http.StatusNotFound, "message not found")
		return
	}
	s.applyVerification([]*chat.Message{msg})
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleVerifyUsername(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		r.ParseForm()
		username = r.PostFormValue("username")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":  username,
		"valid":     chat.ValidUsernameFormat(username),
		"available": !s.ids.HasKeyPair(username),
	})
}

// changeRequest mirrors the content of a username_change message.
type changeRequest struct {
	NewUsername string `json:"new_username"`
}

func (s *Server) handleChangeUsername(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !chat.ValidUsernameFormat(req.NewUsername) {
		httpError(w, http.StatusBadRequest, "invalid username format")
		return
	}
	if s.ids.HasKeyPair(req.NewUsername) {
		httpError(w, http.StatusConflict, "username already exists")
		return
	}

	content, _ := json.Marshal(req)
	author := s.requestAuthor(r)
	id, err := s.backend.Save(chat.SaveRequest{
		Author:  author,
		Content: string(content),
		Sign:    true,
		Type:    chat.TypeUsernameChange,
	})
	if err != nil {
		s.logger.Error("saving username change", "error", err)
		httpError(w, http.StatusInternalServerError, "saving username change")
		return
	}

	// The rename either minted the new key pair or produced an error
	// record; the key's existence is the outcome.
	if !s.ids.HasKeyPair(req.NewUsername) {
		writeJSON(w, http.StatusConflict, map[string]string{"id": id, "status": "rejected"})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "username", Value: req.NewUsername, Path: "/"})
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "changed", "username": req.NewUsername})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"message_verification": s.verification,
	}
	if s.archiver != nil {
		status["archive_metrics"] = s.archiver.Metrics()
		if infos, err := s.archiver.ListArchives(); err == nil {
			names := make([]string, 0, len(infos))
			for _, info := range infos {
				names = append(names, info.Filename)
			}
			status["archives"] = names
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	key, err := s.ids.PublicKey(strings.TrimSuffix(name, ".pub"))
	if err != nil {
		s.logger.Error("reading public key", "name", name, "error", err)
		httpError(w, http.StatusInternalServerError, "reading public key")
		return
	}
	if key == nil {
		httpError(w, http.StatusNotFound, "no such key")
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(key)
}

// requestAuthor reads the username cookie, falling back to anonymous.
func (s *Server) requestAuthor(r *http.Request) string {
	c, err := r.Cookie("username")
	if err != nil || c.Value == "" {
		return "anonymous"
	}
	return c.Value
}

// applyVerification marks every message verified when verification is
// switched off. Readers then render all messages alike.
func (s *Server) applyVerification(msgs []*chat.Message) {
	if s.verification {
		return
	}
	for _, m := range msgs {
		m.Verified = chat.VerifyPassed
	}
}

func (s *Server) pull() {
	if s.puller == nil {
		return
	}
	if err := s.puller.PullFromOrigin(); err != nil {
		s.logger.Warn("pull before read failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
