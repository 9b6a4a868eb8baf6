package certs

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/picklr-io/zitadelhost/internal/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stub writes an executable shell script and returns its path.
func stub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "export-tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

// countingArgs passes the cert and key path plus a call counter file to the stub.
func countingArgs(counter string) func(string, string) []string {
	return func(cert, key string) []string { return []string{cert, key, counter} }
}

const writePair = `echo cert > "$1"; echo key > "$2"; echo x >> "$3"`

func TestCacheDir_IsStablePerApp(t *testing.T) {
	a := CacheDir("/tmp", "app")
	assert.Equal(t, a, CacheDir("/tmp", "app"))
	assert.NotEqual(t, a, CacheDir("/tmp", "other"))
	assert.True(t, strings.HasPrefix(filepath.Base(a), "zitadelhost."))
	assert.Len(t, filepath.Base(a), len("zitadelhost.")+16)
}

func TestExport_SecondCallUsesCache(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "calls")
	e := &Exporter{
		BaseDir: t.TempDir(),
		Command: stub(t, writePair),
		Args:    countingArgs(counter),
	}

	first, err := e.ExportDevCertificate(context.Background(), "app")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.FileExists(t, first.CertPath)
	assert.FileExists(t, first.KeyPath)

	second, err := e.ExportDevCertificate(context.Background(), "app")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.CertPath, second.CertPath)
	assert.Equal(t, first.KeyPath, second.KeyPath)

	calls, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(calls), "x"))
}

func TestExport_PrepopulatedCacheSkipsTool(t *testing.T) {
	base := t.TempDir()
	dir := CacheDir(base, "app")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, CertFileName), []byte("cert"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, KeyFileName), []byte("key"), 0600))

	e := &Exporter{BaseDir: base, Command: filepath.Join(t.TempDir(), "does-not-exist")}
	for i := 0; i < 2; i++ {
		cert, err := e.ExportDevCertificate(context.Background(), "app")
		require.NoError(t, err)
		assert.True(t, cert.Cached)
		assert.Equal(t, filepath.Join(dir, CertFileName), cert.CertPath)
	}
}

func TestExport_PartialCacheIsCleared(t *testing.T) {
	base := t.TempDir()
	dir := CacheDir(base, "app")
	require.NoError(t, os.MkdirAll(dir, 0700))
	stale := filepath.Join(dir, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, CertFileName), []byte("cert"), 0600))

	e := &Exporter{
		BaseDir: base,
		Command: stub(t, writePair),
		Args:    countingArgs(filepath.Join(t.TempDir(), "calls")),
	}
	cert, err := e.ExportDevCertificate(context.Background(), "app")
	require.NoError(t, err)
	assert.False(t, cert.Cached)
	assert.NoFileExists(t, stale)
}

func TestExport_NonZeroExit(t *testing.T) {
	e := &Exporter{BaseDir: t.TempDir(), Command: stub(t, "exit 3")}

	_, err := e.ExportDevCertificate(context.Background(), "app")
	require.Error(t, err)

	var serr *errdefs.SubprocessError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, errdefs.ReasonNonZeroExit, serr.Reason)
	assert.Equal(t, 3, serr.ExitCode)
}

func TestExport_SuccessWithoutFilesIsUnknown(t *testing.T) {
	e := &Exporter{BaseDir: t.TempDir(), Command: stub(t, "exit 0")}

	_, err := e.ExportDevCertificate(context.Background(), "app")
	assert.Equal(t, errdefs.ReasonUnknown, errdefs.SubprocessReasonOf(err))
}

func TestExport_MissingToolIsUnknown(t *testing.T) {
	e := &Exporter{BaseDir: t.TempDir(), Command: filepath.Join(t.TempDir(), "missing")}

	_, err := e.ExportDevCertificate(context.Background(), "app")
	assert.Equal(t, errdefs.ReasonUnknown, errdefs.SubprocessReasonOf(err))
}

func TestExport_TimeoutKillsProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	e := &Exporter{
		BaseDir: t.TempDir(),
		Command: stub(t, `echo $$ > "$3"; exec sleep 30`),
		Args:    func(cert, key string) []string { return []string{cert, key, pidFile} },
		Timeout: 300 * time.Millisecond,
	}

	start := time.Now()
	_, err := e.ExportDevCertificate(context.Background(), "app")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, errdefs.ReasonTimeout, errdefs.SubprocessReasonOf(err))
	assert.Less(t, elapsed, 5*time.Second)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	assert.False(t, processAlive(pid), "export tool %d survived the timeout", pid)
}

func TestExporter_Defaults(t *testing.T) {
	assert.Equal(t, 5*time.Second, DefaultTimeout)
	assert.Equal(t,
		[]string{"dev-certs", "https", "--export-path", "/c/dev-cert.pem", "--format", "Pem", "--no-password"},
		DotnetArgs("/c/dev-cert.pem", "/c/dev-cert.key"))
}
