// Package dispatch runs the readiness cycle of a ZITADEL service: it builds the cycle's
// credentials, runs the service hooks and provisions the declared child projects.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/picklr-io/zitadelhost/internal/errdefs"
	"github.com/picklr-io/zitadelhost/internal/hooks"
	"github.com/picklr-io/zitadelhost/internal/logging"
	"github.com/picklr-io/zitadelhost/internal/provision"
	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/zitadel"
	"go.uber.org/atomic"
)

// OptionsBuilder builds the credentials of a readiness cycle.
type OptionsBuilder func(ctx context.Context, svc *resource.Service) (zitadel.Options, error)

// Config wires a Dispatcher.
type Config struct {
	Graph    *resource.Graph
	Hooks    *hooks.Registry
	Engine   *provision.Engine
	Notifier *resource.Notifier
	// Options defaults to MachineUserOptions.
	Options OptionsBuilder
	Log     *slog.Logger
}

// Dispatcher reacts to service ready events. Each service is handled at most once per
// process, however often its ready event fires.
type Dispatcher struct {
	graph    *resource.Graph
	hooks    *hooks.Registry
	engine   *provision.Engine
	notifier *resource.Notifier
	options  OptionsBuilder
	log      *slog.Logger

	mu    sync.Mutex
	fired map[string]*atomic.Bool
}

func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		graph:    cfg.Graph,
		hooks:    cfg.Hooks,
		engine:   cfg.Engine,
		notifier: cfg.Notifier,
		options:  cfg.Options,
		log:      logging.OrDefault(cfg.Log).With("component", "dispatch"),
		fired:    map[string]*atomic.Bool{},
	}
	if d.options == nil {
		d.options = MachineUserOptions
	}
	if d.hooks == nil {
		d.hooks = hooks.NewRegistry()
	}
	if d.notifier == nil {
		d.notifier = resource.NewNotifier()
	}
	if d.graph == nil {
		d.graph = resource.NewGraph()
	}
	return d
}

// MachineUserOptions authenticates with the machine-user key of svc against its primary
// endpoint.
func MachineUserOptions(ctx context.Context, svc *resource.Service) (zitadel.Options, error) {
	if svc.MachineUserKeyPath == "" {
		return zitadel.Options{}, errdefs.Configuration(svc.Name(), "no machine user is configured", nil)
	}
	endpoint, err := svc.PrimaryEndpoint().URL().Value(ctx)
	if err != nil {
		return zitadel.Options{}, errdefs.Configuration(svc.Name(), "endpoint is not available", err)
	}
	opts, err := zitadel.NewOptions(zitadel.OptionsConfig{
		Endpoint:   endpoint,
		KeyPath:    svc.MachineUserKeyPath,
		RootCAFile: svc.RootCAFile,
	})
	if err != nil {
		return zitadel.Options{}, errdefs.Configuration(svc.Name(), "failed to load machine user credentials", err)
	}
	return opts, nil
}

// Attach subscribes the dispatcher to the ready event of svc.
func (d *Dispatcher) Attach(events *resource.Events, svc *resource.Service) {
	events.OnReady(svc, func(ctx context.Context, _ resource.Resource) error {
		return d.OnReady(ctx, svc)
	})
}

func (d *Dispatcher) guard(svc *resource.Service) *atomic.Bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := strings.ToLower(svc.Name())
	b, ok := d.fired[key]
	if !ok {
		b = atomic.NewBool(false)
		d.fired[key] = b
	}
	return b
}

// OnReady runs the readiness cycle of svc. Every step is sequential and the first failure
// ends the cycle; the service and every project not yet provisioned are then reported as
// FailedToStart.
func (d *Dispatcher) OnReady(ctx context.Context, svc *resource.Service) error {
	if !d.guard(svc).CompareAndSwap(false, true) {
		d.log.Debug("readiness cycle already ran", "resource", svc.Name())
		return nil
	}

	log := d.log.With("resource", svc.Name(), "cycle", uuid.NewString())
	log.Info("service is ready, starting initialization")

	if err := d.run(ctx, svc, log); err != nil {
		log.Error("initialization failed", "error", err)
		d.notifier.PublishFailure(svc.Name(), err)
		d.failPending(svc, err)
		return err
	}

	log.Info("initialization finished")
	return nil
}

func (d *Dispatcher) run(ctx context.Context, svc *resource.Service, log *slog.Logger) error {
	// Credentials are built on first use so a service with nothing to provision needs
	// no machine user.
	var (
		opts  zitadel.Options
		built bool
	)
	credentials := func() (zitadel.Options, error) {
		if built {
			return opts, nil
		}
		o, err := d.options(ctx, svc)
		if err != nil {
			return zitadel.Options{}, err
		}
		opts, built = o, true
		return opts, nil
	}

	for i, h := range d.hooks.ServiceHooks(svc) {
		o, err := credentials()
		if err != nil {
			return err
		}
		log.Debug("running service hook", "index", i)
		if err := h(ctx, o, svc); err != nil {
			return err
		}
	}

	for _, decl := range svc.Projects() {
		project, ok := d.graph.Project(decl.Name)
		if !ok {
			log.Debug("skipping undeclared project", "project", decl.Name)
			continue
		}
		if d.engine == nil {
			return errors.New("no provisioning engine configured")
		}
		o, err := credentials()
		if err != nil {
			return err
		}
		if _, err := d.engine.EnsureProject(ctx, o, project); err != nil {
			return err
		}
	}
	if !built {
		log.Debug("nothing to initialize")
	}
	return nil
}

// failPending marks projects of svc that never got an id as failed so that resources
// waiting on them stop waiting.
func (d *Dispatcher) failPending(svc *resource.Service, cause error) {
	for _, decl := range svc.Projects() {
		project, ok := d.graph.Project(decl.Name)
		if !ok {
			continue
		}
		if _, provisioned := project.ID(); provisioned {
			continue
		}
		if snap, ok := d.notifier.Get(project.Name()); ok && snap.State == resource.StateFailedToStart {
			continue
		}
		d.notifier.PublishFailure(project.Name(), fmt.Errorf("initialization of %s failed: %w", svc.Name(), cause))
	}
}
