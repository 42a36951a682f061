package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/msgvault/internal/storage"
)

// MaxObjectSize bounds a single upload body.
const MaxObjectSize = 4 << 30

// Server exposes a storage.Storage as the remote object API. It stands in
// for the messaging platform during development and tests.
type Server struct {
	store storage.Storage
	log   logrus.FieldLogger
	http  *http.Server
}

// New creates a server for store.
func New(store storage.Storage, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{store: store, log: log}
}

// Handler returns the routes of the object API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+storage.ObjectsPath, s.handlePut)
	mux.HandleFunc("GET "+storage.ObjectsPath, s.handleList)
	mux.HandleFunc("GET "+storage.ObjectsPath+"/{ref...}", s.handleGet)
	mux.HandleFunc("DELETE "+storage.ObjectsPath+"/{ref...}", s.handleDelete)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("🚀 Object server listening on %s", addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxObjectSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read object data")
		return
	}

	ref, err := s.store.Put(r.Context(), data)
	if err != nil {
		s.log.WithError(err).Warn("put failed")
		writeStoreError(w, err)
		return
	}

	s.log.WithFields(logrus.Fields{"ref": ref, "size": len(data)}).Debug("object stored")
	writeJSON(w, http.StatusCreated, storage.PutResponse{Ref: ref, Size: len(data)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ref := storage.RemoteRef(r.PathValue("ref"))
	data, err := s.store.Get(r.Context(), ref)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.store.(storage.Lister)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store cannot list objects")
		return
	}
	refs, err := lister.List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if refs == nil {
		refs = []storage.RemoteRef{}
	}
	writeJSON(w, http.StatusOK, storage.ListResponse{Refs: refs})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	deleter, ok := s.store.(storage.Deleter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store cannot delete objects")
		return
	}
	if err := deleter.Delete(r.Context(), storage.RemoteRef(r.PathValue("ref"))); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case storage.IsFatal(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	}
}

func writeError(w http.ResponseWriter, statusCode int, msg string) {
	writeJSON(w, statusCode, storage.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: msg,
		Code:    statusCode,
	})
}
