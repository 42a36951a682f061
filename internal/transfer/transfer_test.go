package transfer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jaywantadh/msgvault/internal/metadata"
)

// nextFinal waits for the next final event.
func nextFinal(t *testing.T, events <-chan Event) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Final() {
				return ev
			}
		case <-timeout:
			t.Fatal("no final event")
		}
	}
}

func TestServeRunsCommands(t *testing.T) {
	ledger := newLedger(t)
	events := make(chan Event, 128)
	c := newTestController(t, ledger, newFakeStore(), WithProgress(events))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmds := make(chan Command)
	served := make(chan error, 1)
	go func() { served <- c.Serve(ctx, cmds) }()

	path, data := writeRandomFile(t, 250)
	cmds <- Command{Kind: CmdUpload, Path: path}
	ev := nextFinal(t, events)
	require.NoError(t, ev.Err)
	require.Equal(t, metadata.FileComplete, ev.Status)
	require.Equal(t, DirectionUpload, ev.Direction)

	dst := filepath.Join(t.TempDir(), "out.bin")
	cmds <- Command{Kind: CmdDownload, FileID: ev.FileID, Path: dst}
	dl := nextFinal(t, events)
	require.NoError(t, dl.Err)
	require.Equal(t, DirectionDownload, dl.Direction)
	require.Eventually(t, func() bool {
		got, err := os.ReadFile(dst)
		return err == nil && bytes.Equal(got, data)
	}, time.Second, 5*time.Millisecond)

	cmds <- Command{Kind: CmdResume, FileID: ev.FileID, Path: path}
	require.Equal(t, metadata.FileComplete, nextFinal(t, events).Status)

	close(cmds)
	require.NoError(t, <-served)
}

func TestServeReportsRejectedCommands(t *testing.T) {
	ledger := newLedger(t)
	events := make(chan Event, 16)
	c := newTestController(t, ledger, newFakeStore(), WithProgress(events))

	cmds := make(chan Command, 4)
	cmds <- Command{Kind: CmdUpload, Path: filepath.Join(t.TempDir(), "missing.bin")}
	cmds <- Command{Kind: CmdCancel, FileID: "nothing-running"}
	cmds <- Command{Kind: "rename", FileID: "x"}
	close(cmds)
	require.NoError(t, c.Serve(context.Background(), cmds))

	got := drain(events)
	require.Len(t, got, 2)
	for _, ev := range got {
		require.Equal(t, metadata.FileFailed, ev.Status)
		require.Error(t, ev.Err)
	}
}

func TestServeStopsWithContext(t *testing.T) {
	c := newTestController(t, newLedger(t), newFakeStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.Serve(ctx, make(chan Command)), context.Canceled)
}
