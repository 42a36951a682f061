package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ObjectsPath is the route of the remote object API.
const ObjectsPath = "/api/v1/objects"

// PutResponse is returned by the object server after a successful upload.
type PutResponse struct {
	Ref  RemoteRef `json:"ref"`
	Size int       `json:"size"`
}

// ListResponse is returned by the object server for a listing.
type ListResponse struct {
	Refs []RemoteRef `json:"refs"`
}

// ErrorResponse is the body of every non-2xx answer from the object server.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HTTPStorage talks to a remote object server over HTTP. Retrying is left to
// the caller: every failure is returned once, classified.
type HTTPStorage struct {
	baseURL    string
	httpClient *http.Client
}

var (
	_ Storage = (*HTTPStorage)(nil)
	_ Lister  = (*HTTPStorage)(nil)
	_ Deleter = (*HTTPStorage)(nil)
)

// NewHTTPStorage creates a client for the server at baseURL. A timeout of
// zero leaves every call bounded only by its context.
func NewHTTPStorage(baseURL string, timeout time.Duration) *HTTPStorage {
	if timeout < 0 {
		timeout = 0
	}
	return &HTTPStorage{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *HTTPStorage) objectURL(ref RemoteRef) string {
	return s.baseURL + ObjectsPath + "/" + url.PathEscape(string(ref))
}

// Put uploads data as a new object.
func (s *HTTPStorage) Put(ctx context.Context, data []byte) (RemoteRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+ObjectsPath, bytes.NewReader(data))
	if err != nil {
		return "", Fatal("put", "", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.do(req, "put", "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out PutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Transient("put", "", fmt.Errorf("decode response: %w", err))
	}
	if out.Ref == "" {
		return "", Transient("put", "", errors.New("server returned empty reference"))
	}
	return out.Ref, nil
}

// Get downloads the object stored under ref.
func (s *HTTPStorage) Get(ctx context.Context, ref RemoteRef) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(ref), nil)
	if err != nil {
		return nil, Fatal("get", ref, err)
	}
	resp, err := s.do(req, "get", ref)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient("get", ref, err)
	}
	return data, nil
}

// List returns every reference the server holds.
func (s *HTTPStorage) List(ctx context.Context) ([]RemoteRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+ObjectsPath, nil)
	if err != nil {
		return nil, Fatal("list", "", err)
	}
	resp, err := s.do(req, "list", "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Transient("list", "", fmt.Errorf("decode response: %w", err))
	}
	return out.Refs, nil
}

// Delete removes the object stored under ref.
func (s *HTTPStorage) Delete(ctx context.Context, ref RemoteRef) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(ref), nil)
	if err != nil {
		return Fatal("delete", ref, err)
	}
	resp, err := s.do(req, "delete", ref)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// do sends req and classifies transport failures and status codes.
func (s *HTTPStorage) do(req *http.Request, op string, ref RemoteRef) (*http.Response, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, Transient(op, ref, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	statusErr := fmt.Errorf("%s - %s", resp.Status, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, Fatal(op, ref, fmt.Errorf("%w: %v", ErrNotFound, statusErr))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return nil, Transient(op, ref, statusErr)
	case resp.StatusCode >= 500:
		return nil, Transient(op, ref, statusErr)
	default:
		return nil, Fatal(op, ref, statusErr)
	}
}
