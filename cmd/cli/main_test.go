package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// runCLI runs the app against a workspace configured through config.yaml.
func runCLI(t *testing.T, dir string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	require.NoError(t, app.Run(append([]string{"msgvault", "-q", "-c", dir}, args...)))
	return out.String()
}

func TestCLIUploadListDownload(t *testing.T) {
	dir := t.TempDir()
	cfg := "part_size: 1KiB\n" +
		"ledger_path: " + filepath.Join(dir, "ledger") + "\n" +
		"storage_url: " + filepath.Join(dir, "objects") + "\n" +
		"compression: lz4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0o644))

	src := filepath.Join(dir, "report.txt")
	data := bytes.Repeat([]byte("quarterly numbers\n"), 300)
	require.NoError(t, os.WriteFile(src, data, 0o644))

	out := runCLI(t, dir, "upload", src)
	fields := strings.Fields(out)
	require.GreaterOrEqual(t, len(fields), 2)
	id := fields[0]
	require.Equal(t, "report.txt", fields[1])

	list := runCLI(t, dir, "list")
	require.Contains(t, list, id)
	require.Contains(t, list, "complete")

	status := runCLI(t, dir, "status", id)
	require.Contains(t, status, "verified")

	dst := filepath.Join(dir, "copy.txt")
	runCLI(t, dir, "download", id, dst)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, data, got)

	require.Contains(t, runCLI(t, dir, "verify", id), "ok")

	manifest := runCLI(t, dir, "export")
	require.Contains(t, manifest, id)

	recovered := filepath.Join(dir, "recovered.txt")
	runCLI(t, dir, "recover", id, recovered)
	got, err = os.ReadFile(recovered)
	require.NoError(t, err)
	require.Equal(t, data, got)

	runCLI(t, dir, "delete", id)
	require.NotContains(t, runCLI(t, dir, "list"), id)
}
