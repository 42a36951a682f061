package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// LocalStorage keeps objects in a directory, named by the SHA-256 of their content.
type LocalStorage struct {
	basePath string
}

var (
	_ Storage = (*LocalStorage)(nil)
	_ Lister  = (*LocalStorage)(nil)
	_ Deleter = (*LocalStorage)(nil)
)

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Put writes data under its content hash. The write goes through a temp file
// so a crash never leaves a truncated object behind a valid name.
func (s *LocalStorage) Put(ctx context.Context, data []byte) (RemoteRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	ref := RemoteRef(hex.EncodeToString(hash[:]))
	path := filepath.Join(s.basePath, string(ref))

	tmp, err := os.CreateTemp(s.basePath, ".put-*")
	if err != nil {
		return "", Transient("put", "", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", Transient("put", "", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", Transient("put", "", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", Transient("put", "", err)
	}
	return ref, nil
}

// Get reads the object stored under ref.
func (s *LocalStorage) Get(ctx context.Context, ref RemoteRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.Path(ref)
	if err != nil {
		return nil, Fatal("get", ref, err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, Fatal("get", ref, ErrNotFound)
	}
	if err != nil {
		return nil, Transient("get", ref, err)
	}
	return data, nil
}

// List returns every stored reference in lexical order.
func (s *LocalStorage) List(ctx context.Context) ([]RemoteRef, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, Transient("list", "", err)
	}
	refs := make([]RemoteRef, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !validRef(entry.Name()) {
			continue
		}
		refs = append(refs, RemoteRef(entry.Name()))
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs, nil
}

// Delete removes the object stored under ref.
func (s *LocalStorage) Delete(ctx context.Context, ref RemoteRef) error {
	path, err := s.Path(ref)
	if err != nil {
		return Fatal("delete", ref, err)
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Fatal("delete", ref, ErrNotFound)
		}
		return Transient("delete", ref, err)
	}
	return nil
}

// Path returns the file path for a given reference.
func (s *LocalStorage) Path(ref RemoteRef) (string, error) {
	if !validRef(string(ref)) {
		return "", fmt.Errorf("invalid reference %q", ref)
	}
	return filepath.Join(s.basePath, string(ref)), nil
}

func validRef(name string) bool {
	if len(name) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}
