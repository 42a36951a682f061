package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaywantadh/msgvault/internal/storage"
)

var (
	// ErrNotFound is returned when a file or part record does not exist.
	ErrNotFound = errors.New("metadata: record not found")
	// ErrExists is returned by CreateFile when the id is already taken.
	ErrExists = errors.New("metadata: record already exists")
)

// FileStatus is the lifecycle state of a stored file.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileInProgress FileStatus = "in_progress"
	FileComplete   FileStatus = "complete"
	FileFailed     FileStatus = "failed"
	FileCancelled  FileStatus = "cancelled"
)

// Terminal reports whether no session is expected to move the file further.
func (s FileStatus) Terminal() bool {
	return s == FileComplete || s == FileFailed || s == FileCancelled
}

// PartStatus is the lifecycle state of a single part.
type PartStatus string

const (
	PartPending  PartStatus = "pending"
	PartUploaded PartStatus = "uploaded"
	PartVerified PartStatus = "verified"
	PartFailed   PartStatus = "failed"
)

// FileRecord is the durable identity of a stored file.
type FileRecord struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Size       int64      `json:"size" yaml:"size"`
	TotalParts int        `json:"total_parts" yaml:"total_parts"`
	PartSize   int64      `json:"part_size" yaml:"part_size"`
	Checksum   string     `json:"checksum" yaml:"checksum"`
	Status     FileStatus `json:"status" yaml:"status"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"updated_at"`
}

// PartRecord is the durable state of one part of a file.
type PartRecord struct {
	FileID    string            `json:"file_id" yaml:"-"`
	Index     int               `json:"index" yaml:"index"`
	Length    int64             `json:"length" yaml:"length"`
	Checksum  string            `json:"checksum" yaml:"checksum"`
	RemoteRef storage.RemoteRef `json:"remote_ref,omitempty" yaml:"remote_ref,omitempty"`
	Status    PartStatus        `json:"status" yaml:"status"`
	Attempts  int               `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	UpdatedAt time.Time         `json:"updated_at" yaml:"-"`
}

// Ledger is the durable store of file and part records. Every method is
// atomic for the record it touches.
type Ledger interface {
	CreateFile(ctx context.Context, rec FileRecord) error
	GetFile(ctx context.Context, id string) (FileRecord, error)
	UpdateFile(ctx context.Context, rec FileRecord) error
	// ListFiles returns every file, newest first.
	ListFiles(ctx context.Context) ([]FileRecord, error)
	DeleteFile(ctx context.Context, id string) error

	PutPart(ctx context.Context, part PartRecord) error
	GetPart(ctx context.Context, fileID string, index int) (PartRecord, error)
	// ListParts returns the parts of a file in ascending index order.
	ListParts(ctx context.Context, fileID string) ([]PartRecord, error)
	// MarkPartVerified stores the remote reference and the verified status
	// in a single write.
	MarkPartVerified(ctx context.Context, fileID string, index int, ref storage.RemoteRef) error
}

// LedgerError reports that the durable store could not serve a request.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}
