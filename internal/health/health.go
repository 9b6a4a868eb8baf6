// Package health provides readiness checks for started containers.
package health

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/picklr-io/zitadelhost/internal/connstr"
	"github.com/picklr-io/zitadelhost/internal/resource"
)

// HTTPCheck passes once GET <endpoint url>/<Path> answers with a 2xx status.
type HTTPCheck struct {
	Endpoint resource.EndpointReference
	Path     string
	// RootCAFile is trusted in addition to the system roots.
	RootCAFile string
	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool

	client *http.Client
}

var _ resource.HealthCheck = (*HTTPCheck)(nil)

// NewHTTPCheck returns a check against path on ep.
func NewHTTPCheck(ep resource.EndpointReference, path string) *HTTPCheck {
	return &HTTPCheck{Endpoint: ep, Path: path}
}

func (c *HTTPCheck) httpClient() (*http.Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	client := cleanhttp.DefaultClient()
	if c.RootCAFile != "" || c.InsecureSkipVerify {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.InsecureSkipVerify} //nolint:gosec
		if c.RootCAFile != "" {
			pem, err := os.ReadFile(c.RootCAFile)
			if err != nil {
				return nil, fmt.Errorf("read root CA: %w", err)
			}
			pool, err := x509.SystemCertPool()
			if err != nil || pool == nil {
				pool = x509.NewCertPool()
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", c.RootCAFile)
			}
			tlsConfig.RootCAs = pool
		}
		client.Transport.(*http.Transport).TLSClientConfig = tlsConfig
	}
	c.client = client
	return client, nil
}

func (c *HTTPCheck) Check(ctx context.Context) error {
	base, err := c.Endpoint.URL().Value(ctx)
	if err != nil {
		return err
	}
	client, err := c.httpClient()
	if err != nil {
		return err
	}

	url := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(c.Path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// PostgresCheck passes once the server behind Resource accepts logins.
type PostgresCheck struct {
	Resource resource.ConnectionStringResource
}

var _ resource.HealthCheck = PostgresCheck{}

func (c PostgresCheck) Check(ctx context.Context) error {
	conn, err := c.Resource.ConnectionStringExpression().Value(ctx)
	if err != nil {
		return err
	}
	dsn, err := connstr.PostgresURL(conn, "postgres")
	if err != nil {
		return err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()
	return pool.Ping(ctx)
}
