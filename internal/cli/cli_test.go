package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/statusserver"
)

const stackYAML = `
name: demo
postgres:
  - name: postgres
    databases:
      - name: zitadel-db
        databaseName: zitadel
zitadel:
  - name: zitadel
    port: ${zitadelPort}
    database: zitadel-db
    loginClient:
      port: 3000
    projects:
      - name: api
        apps:
          - name: web
            redirectUris: ["http://localhost:5000/signin-oidc"]
containers:
  - name: webapp
    image: ghcr.io/acme/web
    tag: latest
    endpoints:
      - name: http
        targetPort: 8080
    env:
      OIDC__CLIENTID: ref://api/apps.web.clientId
      OIDC__AUTHORITY: ref://zitadel/endpoints.http.url
`

func writeStack(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidate(t *testing.T) {
	path := writeStack(t, stackYAML)
	out, err := execute(t, "validate", "-f", path, "-D", "zitadelPort=8080")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Checking stack... OK")
	assert.Contains(t, out, "resource(s) declared")
}

func TestValidateFindsDeclarationInDirectory(t *testing.T) {
	path := writeStack(t, stackYAML)
	out, err := execute(t, "validate", "-f", filepath.Dir(path), "-D", "zitadelPort=8080")
	require.NoError(t, err, out)
}

func TestValidateReportsBrokenReferences(t *testing.T) {
	path := writeStack(t, stackYAML+"    waitFor: [cache]\n")
	out, err := execute(t, "validate", "-f", path, "-D", "zitadelPort=8080")
	require.Error(t, err)
	assert.Contains(t, out, "FAILED")
	assert.ErrorContains(t, err, `undeclared resource "cache"`)
}

func TestValidateRejectsUnknownFields(t *testing.T) {
	path := writeStack(t, "name: demo\nzitadels: []\n")
	_, err := execute(t, "validate", "-f", path)
	assert.ErrorContains(t, err, "validation failed")
}

func TestValidateWithoutDeclaration(t *testing.T) {
	_, err := execute(t, "validate", "-f", t.TempDir())
	assert.ErrorContains(t, err, "no stack declaration found")
}

func TestGraph(t *testing.T) {
	path := writeStack(t, stackYAML)
	out, err := execute(t, "graph", "-f", path, "-D", "zitadelPort=8080")
	require.NoError(t, err, out)

	assert.Contains(t, out, "digraph zitadelhost {")
	assert.Contains(t, out, `"zitadel-db" -> "postgres";`)
	assert.Contains(t, out, `"zitadel" -> "zitadel-db";`)
	assert.Contains(t, out, `"api" -> "zitadel";`)
	assert.Contains(t, out, `"webapp" -> "api";`)
	assert.Contains(t, out, `"zitadel-login" -> "zitadel";`)
}

func TestManifest(t *testing.T) {
	path := writeStack(t, stackYAML)
	out, err := execute(t, "manifest", "-f", path, "-D", "zitadelPort=8080")
	require.NoError(t, err, out)

	assert.Contains(t, out, "name: demo")
	assert.Contains(t, out, "{api.outputs.apps.web.clientId}")
	assert.NotContains(t, out, "\n  api:\n")

	target := filepath.Join(t.TempDir(), "manifest.yaml")
	_, err = execute(t, "manifest", "-f", path, "-D", "zitadelPort=8080", "-o", target)
	require.NoError(t, err)
	written, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(written), "zitadel-db:")
}

func TestStatus(t *testing.T) {
	notifier := resource.NewNotifier()
	notifier.Publish("zitadel", func(s resource.Snapshot) resource.Snapshot {
		s.Type = "zitadel"
		s.State = resource.StateRunning
		return s
	})
	notifier.PublishFailure("api", assert.AnError)

	srv, err := statusserver.New(statusserver.Config{Notifier: notifier})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	out, err := execute(t, "status", "--addr", ts.URL, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "RESOURCE")
	assert.Regexp(t, `zitadel\s+zitadel\s+Running`, out)
	assert.Regexp(t, `api\s+FailedToStart\s+`+assert.AnError.Error(), out)
	assert.NotContains(t, out, colorGreen)

	out, err = execute(t, "status", "zitadel", "--addr", ts.URL, "--no-color")
	require.NoError(t, err)
	assert.NotContains(t, out, "api")

	_, err = execute(t, "status", "nothing", "--addr", ts.URL)
	assert.ErrorContains(t, err, "unknown resource nothing")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "zitadelhost version dev")
}

func TestCertRejectsUnknownTool(t *testing.T) {
	_, err := execute(t, "cert", "--tool", "openssl")
	assert.ErrorContains(t, err, `unknown certificate tool "openssl"`)
}

func TestFormatText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "trailing whitespace",
			input:    "name = \"test\"   \ntype = \"foo\"  \n",
			expected: "name = \"test\"\ntype = \"foo\"\n",
		},
		{
			name:     "ensure trailing newline",
			input:    "name = \"test\"",
			expected: "name = \"test\"\n",
		},
		{
			name:     "collapse blank lines",
			input:    "a = 1\n\n\n\nb = 2\n",
			expected: "a = 1\n\nb = 2\n",
		},
		{
			name:     "already formatted",
			input:    "a = 1\nb = 2\n",
			expected: "a = 1\nb = 2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatText(tt.input))
		})
	}
}

func TestFormatYAML(t *testing.T) {
	in := "name: demo\nzitadel:\n    - name: zitadel   \n      # fixed port\n      port: 8080\n"
	out, err := formatYAML([]byte(in))
	require.NoError(t, err)
	assert.Contains(t, string(out), "\n  - name: zitadel\n")
	assert.Contains(t, string(out), "# fixed port")
	assert.NotContains(t, string(out), "zitadel   ")

	_, err = formatYAML([]byte("name: [unclosed"))
	assert.Error(t, err)
}

func TestFmtCheckAndWrite(t *testing.T) {
	dir := t.TempDir()
	pkl := filepath.Join(dir, "stack.pkl")
	require.NoError(t, os.WriteFile(pkl, []byte("name = \"demo\"   \n\n\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x  \n"), 0o644))

	out, err := execute(t, "fmt", "--check", dir)
	assert.ErrorContains(t, err, "1 file(s) not formatted")
	assert.Contains(t, out, "stack.pkl: not formatted")

	out, err = execute(t, "fmt", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Formatted 1 file(s).")
	data, err := os.ReadFile(pkl)
	require.NoError(t, err)
	assert.Equal(t, "name = \"demo\"\n", string(data))

	out, err = execute(t, "fmt", "--check", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "All 1 file(s) are properly formatted.")
}

func TestColorize(t *testing.T) {
	assert.Equal(t, colorRed, colorize(false, colorRed))
	assert.Equal(t, "", colorize(true, colorRed))
	assert.Equal(t, colorGreen, stateColor(resource.StateRunning))
	assert.Equal(t, colorRed, stateColor(resource.StateFailedToStart))
	assert.Equal(t, colorYellow, stateColor(resource.StateWaiting))
}
