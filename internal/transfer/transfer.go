package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/msgvault/internal/metadata"
)

// Engine is the set of transfer operations a front end drives.
type Engine interface {
	// Upload stores a new file.
	Upload(ctx context.Context, path string) (metadata.FileRecord, error)
	// Resume continues an interrupted upload of fileID from path.
	Resume(ctx context.Context, fileID, path string) (metadata.FileRecord, error)
	// Download writes a stored file to w.
	Download(ctx context.Context, fileID string, w io.Writer) error
	// Cancel stops the running session of fileID.
	Cancel(fileID string) error
}

var _ Engine = (*Controller)(nil)

// CommandKind names an operation sent to Serve.
type CommandKind string

const (
	CmdUpload   CommandKind = "upload"
	CmdResume   CommandKind = "resume"
	CmdDownload CommandKind = "download"
	CmdCancel   CommandKind = "cancel"
)

// Command asks Serve to start or stop a session. Path is the source for
// upload and resume and the destination for download.
type Command struct {
	Kind   CommandKind
	FileID string
	Path   string
}

// Serve executes commands until cmds is closed or ctx ends, then waits for
// the sessions it started. Outcomes are reported as progress events; failures
// that happen before a session starts get a failed event of their own.
func (c *Controller) Serve(ctx context.Context, cmds <-chan Command) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			c.dispatch(ctx, &wg, cmd)
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, wg *sync.WaitGroup, cmd Command) {
	log := c.log.WithFields(logrus.Fields{"command": cmd.Kind, "file_id": cmd.FileID})

	switch cmd.Kind {
	case CmdCancel:
		if err := c.Cancel(cmd.FileID); err != nil {
			log.Warnf("⚠️ %v", err)
		}
		return
	case CmdUpload, CmdResume, CmdDownload:
	default:
		err := fmt.Errorf("unknown command %q", cmd.Kind)
		log.Warnf("⚠️ %v", err)
		c.reject(ctx, cmd, err)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		var err error
		switch cmd.Kind {
		case CmdUpload:
			_, err = c.Upload(ctx, cmd.Path)
		case CmdResume:
			_, err = c.Resume(ctx, cmd.FileID, cmd.Path)
		case CmdDownload:
			err = c.DownloadTo(ctx, cmd.FileID, cmd.Path)
		}
		var setup *setupError
		if errors.As(err, &setup) {
			log.Warnf("⚠️ Command rejected: %v", err)
			c.reject(ctx, cmd, err)
		}
	}()
}

func (c *Controller) reject(ctx context.Context, cmd Command, err error) {
	dir := DirectionUpload
	if cmd.Kind == CmdDownload {
		dir = DirectionDownload
	}
	emit(ctx, c.progress, Event{
		FileID:    cmd.FileID,
		Name:      cmd.Path,
		Direction: dir,
		Status:    metadata.FileFailed,
		Err:       err,
	})
}
