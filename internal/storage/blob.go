package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// BlobStorage stores each part as one object in a gocloud.dev bucket.
type BlobStorage struct {
	bucket *blob.Bucket
	prefix string
}

var (
	_ Storage = (*BlobStorage)(nil)
	_ Lister  = (*BlobStorage)(nil)
	_ Deleter = (*BlobStorage)(nil)
)

// OpenBlobStorage opens the bucket at url (mem://, file:///dir, s3://, gs://, ...).
func OpenBlobStorage(ctx context.Context, url, prefix string) (*BlobStorage, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}
	return NewBlobStorage(bucket, prefix), nil
}

// NewBlobStorage wraps an open bucket. Objects are written under prefix.
func NewBlobStorage(bucket *blob.Bucket, prefix string) *BlobStorage {
	return &BlobStorage{bucket: bucket, prefix: prefix}
}

// Put writes data under a fresh key.
func (s *BlobStorage) Put(ctx context.Context, data []byte) (RemoteRef, error) {
	ref := RemoteRef(s.prefix + uuid.NewString())
	if err := s.bucket.WriteAll(ctx, string(ref), data, &blob.WriterOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return "", classify("put", ref, err)
	}
	return ref, nil
}

// Get reads the object stored under ref.
func (s *BlobStorage) Get(ctx context.Context, ref RemoteRef) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, string(ref))
	if err != nil {
		return nil, classify("get", ref, err)
	}
	return data, nil
}

// List returns every object key under the prefix.
func (s *BlobStorage) List(ctx context.Context) ([]RemoteRef, error) {
	var refs []RemoteRef
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, classify("list", "", err)
		}
		if obj.IsDir || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		refs = append(refs, RemoteRef(obj.Key))
	}
	return refs, nil
}

// Delete removes the object stored under ref.
func (s *BlobStorage) Delete(ctx context.Context, ref RemoteRef) error {
	if err := s.bucket.Delete(ctx, string(ref)); err != nil {
		return classify("delete", ref, err)
	}
	return nil
}

// Close releases the bucket.
func (s *BlobStorage) Close() error {
	return s.bucket.Close()
}

// classify maps gocloud error codes onto the transient/fatal split.
func classify(op string, ref RemoteRef, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return Fatal(op, ref, fmt.Errorf("%w: %v", ErrNotFound, err))
	case gcerrors.InvalidArgument, gcerrors.PermissionDenied, gcerrors.FailedPrecondition, gcerrors.Unimplemented:
		return Fatal(op, ref, err)
	default:
		return Transient(op, ref, err)
	}
}
