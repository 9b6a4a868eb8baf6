package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/picklr-io/zitadelhost/internal/eval"
	"github.com/picklr-io/zitadelhost/internal/ir"
	"github.com/picklr-io/zitadelhost/internal/logging"
	"github.com/picklr-io/zitadelhost/internal/provision"
	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/secrets"
	"github.com/picklr-io/zitadelhost/internal/stack"
)

var defaultStackFiles = []string{"stack.pkl", "stack.yaml", "stack.yml"}

// stackFile resolves the declaration to load and the directory it lives in.
func (o *globalOptions) stackFile() (dir, entryPoint string, err error) {
	if o.file == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", "", fmt.Errorf("failed to get working directory: %w", err)
		}
		for _, name := range defaultStackFiles {
			if _, err := os.Stat(filepath.Join(wd, name)); err == nil {
				return wd, name, nil
			}
		}
		return "", "", fmt.Errorf("no stack declaration found in %s (looked for %v)", wd, defaultStackFiles)
	}

	absPath, err := filepath.Abs(o.file)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve path %s: %w", o.file, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to stat path %s: %w", o.file, err)
	}
	if info.IsDir() {
		for _, name := range defaultStackFiles {
			if _, err := os.Stat(filepath.Join(absPath, name)); err == nil {
				return absPath, name, nil
			}
		}
		return "", "", fmt.Errorf("no stack declaration found in %s (looked for %v)", absPath, defaultStackFiles)
	}
	return filepath.Dir(absPath), filepath.Base(absPath), nil
}

func (o *globalOptions) stateDirIn(dir string) string {
	if filepath.IsAbs(o.stateDir) {
		return o.stateDir
	}
	return filepath.Join(dir, o.stateDir)
}

// loadedStack is a declaration turned into a resource graph.
type loadedStack struct {
	dir     string
	decl    *ir.Stack
	builder *stack.Builder
	secrets secrets.Store
}

// loadStack evaluates the declaration and declares its resources. A nil store keeps
// generated values in memory only.
func (o *globalOptions) loadStack(ctx context.Context, mode resource.Mode, store func(dir string, decl *ir.Stack) (secrets.Store, error), extra stack.Options) (*loadedStack, error) {
	dir, entryPoint, err := o.stackFile()
	if err != nil {
		return nil, err
	}

	decl, err := eval.NewEvaluator(dir).LoadStack(ctx, entryPoint, o.properties)
	if err != nil {
		return nil, fmt.Errorf("failed to load stack: %w", err)
	}

	ls := &loadedStack{dir: dir, decl: decl}
	if store != nil {
		if ls.secrets, err = store(dir, decl); err != nil {
			return nil, err
		}
	}

	name := decl.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	extra.Name = name
	extra.Mode = mode
	extra.BaseDir = dir
	extra.Secrets = ls.secrets

	b, err := stack.New(extra)
	if err != nil {
		return nil, err
	}
	if err := stack.Load(ctx, b, decl); err != nil {
		return nil, err
	}
	ls.builder = b
	return ls, nil
}

// openSecrets opens the secret store the declaration selects. The file store defaults to
// <state-dir>/secrets.
func (o *globalOptions) openSecrets(ctx context.Context) func(dir string, decl *ir.Stack) (secrets.Store, error) {
	return func(dir string, decl *ir.Stack) (secrets.Store, error) {
		store, err := secrets.NewStore(ctx, stack.SecretsConfig(decl), filepath.Join(o.stateDirIn(dir), "secrets"))
		if err != nil {
			return nil, fmt.Errorf("failed to open secret store: %w", err)
		}
		return store, nil
	}
}

func stackOptions(m *provision.Metrics) stack.Options {
	return stack.Options{Metrics: m, Log: logging.Logger()}
}
