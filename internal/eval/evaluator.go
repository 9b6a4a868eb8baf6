package eval

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apple/pkl-go/pkl"
	"gopkg.in/yaml.v3"

	"github.com/picklr-io/zitadelhost/internal/ir"
)

// Evaluator loads stack declarations into IR types.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadStack evaluates the declaration at entryPoint, relative to the project directory.
// .pkl files are evaluated with PKL; .yaml and .yml files are decoded as YAML after
// ${name} placeholders are replaced with properties.
func (e *Evaluator) LoadStack(ctx context.Context, entryPoint string, properties map[string]string) (*ir.Stack, error) {
	path := entryPoint
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.projectDir, entryPoint)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pkl":
		return e.loadPkl(ctx, path, properties)
	case ".yaml", ".yml":
		return loadYAML(path, properties)
	default:
		return nil, fmt.Errorf("unsupported stack file %s: expected .pkl, .yaml or .yml", entryPoint)
	}
}

func (e *Evaluator) loadPkl(ctx context.Context, path string, properties map[string]string) (*ir.Stack, error) {
	u, err := url.Parse("file://" + e.projectDir + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
	}

	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	var evaluator pkl.Evaluator
	if _, statErr := os.Stat(filepath.Join(e.projectDir, "PklProject")); statErr == nil {
		evaluator, err = pkl.NewProjectEvaluator(ctx, u, opts...)
	} else {
		evaluator, err = pkl.NewEvaluator(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var stack ir.Stack
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(path), &stack); err != nil {
		return nil, fmt.Errorf("failed to evaluate stack: %w", err)
	}
	return &stack, nil
}

func loadYAML(path string, properties map[string]string) (*ir.Stack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stack file: %w", err)
	}
	raw = expandProperties(raw, properties)

	var stack ir.Stack
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&stack); err != nil {
		return nil, fmt.Errorf("failed to decode stack %s: %w", path, err)
	}
	return &stack, nil
}

// expandProperties replaces ${name} with the value of property name. Unknown
// placeholders are left as they are.
func expandProperties(raw []byte, properties map[string]string) []byte {
	if len(properties) == 0 {
		return raw
	}
	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "${"+k+"}", properties[k])
	}
	return []byte(strings.NewReplacer(pairs...).Replace(string(raw)))
}
