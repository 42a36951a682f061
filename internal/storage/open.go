package storage

import (
	"context"
	"io"
	"strings"
)

// blobPrefix is the key prefix used for parts in bucket-backed stores.
const blobPrefix = "parts/"

// Open picks an implementation from the location string:
//
//	http://host:port, https://...  remote object server
//	local:///path or a plain path  content-addressed directory
//	anything else                  a gocloud.dev bucket URL (mem://, file:///, s3://, gs://)
func Open(ctx context.Context, location string) (Storage, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return NewHTTPStorage(location, 0), nil
	case strings.HasPrefix(location, "local://"):
		return NewLocalStorage(strings.TrimPrefix(location, "local://"))
	case !strings.Contains(location, "://"):
		return NewLocalStorage(location)
	default:
		return OpenBlobStorage(ctx, location, blobPrefix)
	}
}

// Close releases s if it holds resources.
func Close(s Storage) error {
	if closer, ok := s.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
