// Package stack declares the resources of a local identity stack and wires their
// provisioning.
package stack

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/picklr-io/zitadelhost/internal/certs"
	"github.com/picklr-io/zitadelhost/internal/dispatch"
	"github.com/picklr-io/zitadelhost/internal/hooks"
	"github.com/picklr-io/zitadelhost/internal/logging"
	"github.com/picklr-io/zitadelhost/internal/provision"
	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/secrets"
)

// Options configures a Builder.
type Options struct {
	// Name identifies the stack. It keys the development certificate cache.
	Name string
	Mode resource.Mode
	// BaseDir is where host-side key directories are created. Defaults to the working
	// directory.
	BaseDir string
	// Secrets persists generated parameters and OIDC client secrets.
	Secrets   secrets.Store
	Certs     *certs.Exporter
	Metrics   *provision.Metrics
	NewClient provision.ClientFactory
	// Options builds the credentials of a readiness cycle. Defaults to the machine user key.
	Options dispatch.OptionsBuilder
	Log     *slog.Logger
}

// Builder collects resources and the handlers that provision them.
type Builder struct {
	Graph      *resource.Graph
	Events     *resource.Events
	Notifier   *resource.Notifier
	Hooks      *hooks.Registry
	Engine     *provision.Engine
	Dispatcher *dispatch.Dispatcher

	name    string
	ec      resource.ExecutionContext
	baseDir string
	secrets secrets.Store
	certs   *certs.Exporter
	log     *slog.Logger
}

// New returns an empty Builder.
func New(opts Options) (*Builder, error) {
	baseDir := opts.BaseDir
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		baseDir = wd
	}
	if opts.Name == "" {
		opts.Name = "zitadelhost"
	}
	log := logging.OrDefault(opts.Log)

	b := &Builder{
		Graph:    resource.NewGraph(),
		Events:   resource.NewEvents(),
		Notifier: resource.NewNotifier(),
		Hooks:    hooks.NewRegistry(),
		name:     opts.Name,
		ec:       resource.ExecutionContext{Mode: opts.Mode},
		baseDir:  baseDir,
		secrets:  opts.Secrets,
		certs:    opts.Certs,
		log:      log.With("component", "stack"),
	}
	if b.certs == nil {
		b.certs = &certs.Exporter{Log: log}
	}
	b.Engine = provision.New(provision.Config{
		Notifier:  b.Notifier,
		Hooks:     b.Hooks,
		Secrets:   opts.Secrets,
		NewClient: opts.NewClient,
		Metrics:   opts.Metrics,
		Log:       log,
	})
	b.Dispatcher = dispatch.New(dispatch.Config{
		Graph:    b.Graph,
		Hooks:    b.Hooks,
		Engine:   b.Engine,
		Notifier: b.Notifier,
		Options:  opts.Options,
		Log:      log,
	})
	return b, nil
}

func (b *Builder) Name() string                                { return b.name }
func (b *Builder) ExecutionContext() resource.ExecutionContext { return b.ec }
func (b *Builder) BaseDir() string                             { return b.baseDir }

// add registers r and publishes its initial NotStarted snapshot.
func (b *Builder) add(r resource.Resource) error {
	if err := b.Graph.Add(r); err != nil {
		return err
	}
	b.Notifier.Publish(r.Name(), func(s resource.Snapshot) resource.Snapshot {
		s.Type = resource.TypeName(r)
		s.State = resource.StateNotStarted
		return s
	})
	return nil
}

// ensure registers r unless that same resource is already registered.
func (b *Builder) ensure(r resource.Resource) error {
	if existing, ok := b.Graph.Lookup(r.Name()); ok && existing == r {
		return nil
	}
	return b.add(r)
}

// track registers p and makes a generated value survive restarts.
func (b *Builder) track(p *resource.Parameter) error {
	if b.secrets != nil {
		p.UseStore(b.secrets)
	}
	return b.ensure(p)
}

// AddParameter declares a parameter with a fixed value.
func (b *Builder) AddParameter(name, value string, secret bool) (*resource.Parameter, error) {
	p := resource.NewParameter(name, value, secret)
	if err := b.add(p); err != nil {
		return nil, err
	}
	return p, nil
}

// AddGeneratedParameter declares a secret generated on first use.
func (b *Builder) AddGeneratedParameter(name string, length int) (*resource.Parameter, error) {
	p := resource.GeneratedParameter(name, length)
	if err := b.track(p); err != nil {
		return nil, err
	}
	return p, nil
}
