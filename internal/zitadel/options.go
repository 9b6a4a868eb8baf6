package zitadel

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

// Options are the credentials and endpoint for one readiness cycle. They are built once
// and only read afterwards; every hook and provisioning step of the cycle shares them.
type Options struct {
	Endpoint string
	// Tokens authenticates every call. Nil sends no Authorization header.
	Tokens     oauth2.TokenSource
	HTTPClient *http.Client
}

// OptionsConfig describes how to build Options.
type OptionsConfig struct {
	// Endpoint is the external URL of the instance, e.g. https://localhost:8501.
	Endpoint string
	// KeyPath is the machine-user key file.
	KeyPath string
	// RootCAFile is an optional PEM bundle trusted in addition to the system roots.
	RootCAFile string
}

// NewOptions loads the machine-user key and prepares an HTTP client for the instance.
func NewOptions(cfg OptionsConfig) (Options, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return Options{}, fmt.Errorf("instance endpoint is empty")
	}

	account, err := LoadServiceAccount(cfg.KeyPath)
	if err != nil {
		return Options{}, err
	}

	client, err := newHTTPClient(cfg.RootCAFile)
	if err != nil {
		return Options{}, err
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	return Options{
		Endpoint:   endpoint,
		Tokens:     JWTProfileTokenSource(endpoint, account, client),
		HTTPClient: client,
	}, nil
}

func newHTTPClient(rootCAFile string) (*http.Client, error) {
	client := cleanhttp.DefaultPooledClient()
	if rootCAFile == "" {
		return client, nil
	}

	pem, err := os.ReadFile(rootCAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read root CA %s: %w", rootCAFile, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", rootCAFile)
	}

	transport := client.Transport.(*http.Transport)
	transport.TLSClientConfig = &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	return client, nil
}
