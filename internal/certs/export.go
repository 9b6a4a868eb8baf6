// Package certs exports a local development TLS certificate for https endpoints.
package certs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/picklr-io/zitadelhost/internal/errdefs"
	"github.com/picklr-io/zitadelhost/internal/logging"
)

const (
	// DefaultTimeout bounds a single export tool invocation.
	DefaultTimeout = 5 * time.Second

	CertFileName = "dev-cert.pem"
	KeyFileName  = "dev-cert.key"
)

// DotnetArgs exports the ASP.NET Core development certificate as unencrypted PEM.
// The key is written next to certPath with a .key extension.
func DotnetArgs(certPath, _ string) []string {
	return []string{"dev-certs", "https", "--export-path", certPath, "--format", "Pem", "--no-password"}
}

// MkcertArgs issues a certificate for localhost from the local mkcert CA.
func MkcertArgs(certPath, keyPath string) []string {
	return []string{"-cert-file", certPath, "-key-file", keyPath, "localhost", "127.0.0.1", "::1"}
}

// Certificate is an exported certificate and key pair.
type Certificate struct {
	CertPath string
	KeyPath  string
	// Cached is true when the pair was already present and no tool was run.
	Cached bool
}

// Exporter runs an external tool to export a development certificate into a per-app
// cache directory.
type Exporter struct {
	// BaseDir holds the cache directories. Defaults to os.TempDir().
	BaseDir string
	// Command is the export tool. Defaults to dotnet.
	Command string
	// Args builds the tool arguments. Defaults to DotnetArgs.
	Args func(certPath, keyPath string) []string
	// Timeout bounds the tool. Defaults to DefaultTimeout.
	Timeout time.Duration
	Log     *slog.Logger
}

// CacheDir is the cache directory of appIdentity under base.
func CacheDir(base, appIdentity string) string {
	return filepath.Join(base, fmt.Sprintf("zitadelhost.%016x", xxhash.Sum64String(appIdentity)))
}

// ExportDevCertificate returns the certificate of appIdentity, exporting it when the
// cache directory does not hold both files yet. There is no retry.
func (e *Exporter) ExportDevCertificate(ctx context.Context, appIdentity string) (Certificate, error) {
	log := logging.OrDefault(e.Log).With("app", appIdentity)

	base := e.BaseDir
	if base == "" {
		base = os.TempDir()
	}
	dir := CacheDir(base, appIdentity)
	cert := Certificate{
		CertPath: filepath.Join(dir, CertFileName),
		KeyPath:  filepath.Join(dir, KeyFileName),
	}

	if exists(cert.CertPath) && exists(cert.KeyPath) {
		log.Debug("using cached development certificate", "dir", dir)
		cert.Cached = true
		return cert, nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return Certificate{}, fmt.Errorf("failed to clear certificate cache %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return Certificate{}, fmt.Errorf("failed to create certificate cache %s: %w", dir, err)
	}

	command := e.Command
	if command == "" {
		command = "dotnet"
	}
	argsFn := e.Args
	if argsFn == nil {
		argsFn = DotnetArgs
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	args := argsFn(cert.CertPath, cert.KeyPath)
	display := strings.Join(append([]string{command}, args...), " ")

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	configureProcessGroup(cmd)
	cmd.WaitDelay = time.Second

	log.Info("exporting development certificate", "command", display, "timeout", timeout)
	runErr := cmd.Run()

	if runErr == nil && exists(cert.CertPath) && exists(cert.KeyPath) {
		return cert, nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return Certificate{}, &errdefs.SubprocessError{
			Command:  display,
			Reason:   errdefs.ReasonTimeout,
			ExitCode: -1,
			Err:      fmt.Errorf("still running after %s", timeout),
		}
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && exitErr.ExitCode() > 0 {
		return Certificate{}, &errdefs.SubprocessError{
			Command:  display,
			Reason:   errdefs.ReasonNonZeroExit,
			ExitCode: exitErr.ExitCode(),
			Err:      runErr,
		}
	}

	if runErr == nil {
		runErr = fmt.Errorf("tool exited without writing %s and %s", CertFileName, KeyFileName)
	}
	return Certificate{}, &errdefs.SubprocessError{
		Command:  display,
		Reason:   errdefs.ReasonUnknown,
		ExitCode: -1,
		Err:      runErr,
	}
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
