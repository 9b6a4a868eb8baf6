package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/picklr-io/zitadelhost/internal/resource"
)

func endpointFor(t *testing.T, srv *httptest.Server, scheme string) resource.EndpointReference {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := resource.NewContainer("zitadel", "zitadel", "v3")
	ep := &resource.Endpoint{Name: scheme, Scheme: scheme, TargetPort: 8080}
	require.NoError(t, c.AddEndpoint(ep))
	ep.Allocate(host, port)
	return c.GetEndpoint(scheme)
}

func TestHTTPCheck(t *testing.T) {
	healthy := atomic.NewBool(false)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/debug/healthz" {
			http.NotFound(w, r)
			return
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	check := NewHTTPCheck(endpointFor(t, srv, "http"), "debug/healthz")
	err := check.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	healthy.Store(true)
	require.NoError(t, check.Check(context.Background()))
}

func TestHTTPCheck_TLSWithSkipVerify(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ref := endpointFor(t, srv, "https")
	require.Error(t, NewHTTPCheck(ref, "/debug/healthz").Check(context.Background()))

	check := NewHTTPCheck(ref, "/debug/healthz")
	check.InsecureSkipVerify = true
	require.NoError(t, check.Check(context.Background()))
}

func TestHTTPCheck_UnallocatedEndpoint(t *testing.T) {
	c := resource.NewContainer("zitadel", "zitadel", "v3")
	require.NoError(t, c.AddEndpoint(&resource.Endpoint{Name: "http", Scheme: "http", TargetPort: 8080}))

	err := NewHTTPCheck(c.GetEndpoint("http"), "debug/healthz").Check(context.Background())
	require.Error(t, err)
}

func TestHTTPCheck_MissingRootCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	check := NewHTTPCheck(endpointFor(t, srv, "https"), "/")
	check.RootCAFile = "/nonexistent/ca.pem"
	err := check.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root CA")
}

func TestPostgresCheck_BadConnectionString(t *testing.T) {
	pg := resource.NewPostgresServer("postgres", nil, resource.NewParameter("pw", "pw", true), 0)
	// The endpoint is not allocated, so the connection string cannot be rendered.
	err := PostgresCheck{Resource: pg}.Check(context.Background())
	require.Error(t, err)
}
