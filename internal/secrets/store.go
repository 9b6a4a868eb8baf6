// Package secrets persists generated values and issued client secrets between runs.
//
// The administrative API only reveals an OIDC client secret once, when the application
// is created. Every value that cannot be recovered from the remote side is therefore kept
// in a Store and read back on later runs.
package secrets

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/picklr-io/zitadelhost/internal/resource"
)

// Store is a key/value store for secrets. Keys are slash-separated paths.
type Store interface {
	Load(ctx context.Context, key string) (string, bool, error)
	Save(ctx context.Context, key, value string) error
}

// Locker is implemented by stores that can be held exclusively by one process.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

var _ resource.ValueStore = Store(nil)

// Config selects and configures a Store.
type Config struct {
	Type   string            `json:"type" yaml:"type" pkl:"type"` // "file", "s3", "secretsmanager"
	Config map[string]string `json:"config" yaml:"config" pkl:"config"`
}

// NewStore creates a Store from cfg. dir is the default directory of the file store.
func NewStore(ctx context.Context, cfg Config, dir string) (Store, error) {
	switch cfg.Type {
	case "file", "":
		if d := cfg.Config["dir"]; d != "" {
			dir = d
		}
		return NewFileStore(dir, CipherFromEnv())
	case "s3":
		return newS3Store(ctx, cfg.Config)
	case "secretsmanager":
		return newSecretsManagerStore(ctx, cfg.Config)
	default:
		return nil, fmt.Errorf("unknown secret store type: %s", cfg.Type)
	}
}

// cleanKey validates key and returns it in canonical form.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("secret key is empty")
	}
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != strings.Trim(key, "/") {
		return "", fmt.Errorf("invalid secret key %q", key)
	}
	return clean, nil
}

// OIDCClientSecretKey is the key under which the client secret of an application is kept.
func OIDCClientSecretKey(project, app string) string {
	return "oidc/" + strings.ToLower(project) + "/" + strings.ToLower(app)
}
