// Package runtime starts a resource graph locally and publishes readiness as each
// resource becomes healthy.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/picklr-io/zitadelhost/internal/logging"
	"github.com/picklr-io/zitadelhost/internal/resource"
)

const (
	defaultParallelism = 10
	defaultNetwork     = "zitadelhost"
	defaultHost        = "localhost"

	// LabelManaged marks containers started by the runtime.
	LabelManaged = "io.zitadelhost.managed"
	// LabelResource carries the resource name of a container.
	LabelResource = "io.zitadelhost.resource"
)

var errDependencyFailed = errors.New("a dependency failed to start")

// Options configures a Runtime.
type Options struct {
	Graph     *resource.Graph
	Events    *resource.Events
	Notifier  *resource.Notifier
	Runner    ContainerRunner
	Databases DatabaseCreator

	// Network is the container network every container joins.
	Network string
	// FilesDir is where container files are staged before being mounted.
	FilesDir string
	// BaseDir resolves relative bind mount sources.
	BaseDir string
	// Host is the address allocated endpoints are reachable at.
	Host string

	StartTimeout time.Duration
	Poll         *PollPolicy
	Parallelism  int
	Callback     Callback
	Log          *slog.Logger
}

// Runtime runs a resource graph.
type Runtime struct {
	opts Options
	dag  *DAG
	ec   resource.ExecutionContext
	log  *slog.Logger

	mu        sync.Mutex
	running   []string // containers in start sequence
	networkUp bool
}

// New validates opts and orders the graph.
func New(opts Options) (*Runtime, error) {
	if opts.Graph == nil {
		return nil, fmt.Errorf("runtime: graph is required")
	}
	dag, err := BuildDAG(opts.Graph)
	if err != nil {
		return nil, err
	}
	if opts.Events == nil {
		opts.Events = resource.NewEvents()
	}
	if opts.Notifier == nil {
		opts.Notifier = resource.NewNotifier()
	}
	if opts.Network == "" {
		opts.Network = defaultNetwork
	}
	if opts.Host == "" {
		opts.Host = defaultHost
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	if opts.FilesDir == "" {
		opts.FilesDir = filepath.Join(os.TempDir(), "zitadelhost-files")
	}

	rt := &Runtime{
		opts: opts,
		dag:  dag,
		ec:   resource.ExecutionContext{Mode: resource.ModeRun},
		log:  logging.OrDefault(opts.Log).With("component", "runtime"),
	}
	if rt.hasContainers() && opts.Runner == nil {
		return nil, fmt.Errorf("runtime: a container runner is required to start containers")
	}
	return rt, nil
}

func (r *Runtime) DAG() *DAG { return r.dag }

func (r *Runtime) hasContainers() bool {
	for _, name := range r.dag.StartOrder() {
		res, _ := r.dag.Resource(name)
		if _, ok := res.(resource.ContainerResource); ok {
			return true
		}
	}
	return false
}

func (r *Runtime) emit(e Event) {
	if r.opts.Callback != nil {
		r.opts.Callback(e)
	}
}

func (r *Runtime) publish(res resource.Resource, state resource.State, err error) {
	r.opts.Notifier.Publish(res.Name(), func(s resource.Snapshot) resource.Snapshot {
		s.Type = resource.TypeName(res)
		s.State = state
		s.Error = ""
		if err != nil {
			s.Error = err.Error()
		}
		return s
	})
}

// AllocateEndpoints assigns a host port to every container endpoint. Endpoints with a
// fixed port keep it; the rest get a free port.
func (r *Runtime) AllocateEndpoints() error {
	for _, name := range r.dag.StartOrder() {
		res, _ := r.dag.Resource(name)
		cr, ok := res.(resource.ContainerResource)
		if !ok {
			continue
		}
		for _, ep := range cr.AsContainer().Endpoints() {
			if _, _, ok := ep.Allocated(); ok {
				continue
			}
			port := ep.Port
			if port == 0 {
				free, err := freePort()
				if err != nil {
					return fmt.Errorf("allocate endpoint %s/%s: %w", name, ep.Name, err)
				}
				port = free
			}
			ep.Allocate(r.opts.Host, port)
		}
	}
	return nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Start brings up every resource in dependency order. Independent resources start
// concurrently; a resource whose dependency failed is marked failed without starting.
// Start returns once every resource is running or failed.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.AllocateEndpoints(); err != nil {
		return err
	}

	if r.hasContainers() {
		if err := r.opts.Runner.CreateNetwork(ctx, r.opts.Network); err != nil {
			return fmt.Errorf("create network %s: %w", r.opts.Network, err)
		}
		r.mu.Lock()
		r.networkUp = true
		r.mu.Unlock()
	}

	order := r.dag.StartOrder()
	for _, name := range order {
		res, _ := r.dag.Resource(name)
		if len(r.dag.Dependencies(name)) > 0 {
			r.publish(res, resource.StateWaiting, nil)
		}
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	var completedMu sync.Mutex
	completedCond := sync.NewCond(&completedMu)
	var allErrs []error
	sem := make(chan struct{}, r.opts.Parallelism)

	var g errgroup.Group
	for _, name := range order {
		name := name
		g.Go(func() error {
			res, _ := r.dag.Resource(name)
			deps := r.dag.Dependencies(name)

			completedMu.Lock()
			for {
				allDepsReady := true
				depFailed := false
				for _, dep := range deps {
					if failed[dep] {
						depFailed = true
						break
					}
					if !completed[dep] {
						allDepsReady = false
						break
					}
				}
				if depFailed {
					failed[name] = true
					completedMu.Unlock()
					completedCond.Broadcast()
					r.skip(res)
					return nil
				}
				if allDepsReady {
					break
				}
				completedCond.Wait()
			}
			completedMu.Unlock()

			sem <- struct{}{}
			err := r.startResource(ctx, res)
			<-sem

			completedMu.Lock()
			if err != nil {
				failed[name] = true
				allErrs = append(allErrs, err)
			} else {
				completed[name] = true
			}
			completedMu.Unlock()
			completedCond.Broadcast()
			return err
		})
	}
	// Wait reports only the first failure; every failure is joined into the result.
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%d resource(s) failed to start: %w", len(allErrs), errors.Join(allErrs...))
	}
	return nil
}

// skip marks res failed because a dependency failed. A failure published by someone
// else, such as the readiness dispatcher, is kept.
func (r *Runtime) skip(res resource.Resource) {
	r.emit(Event{Resource: res.Name(), Type: resource.TypeName(res), Action: ActionStart, Status: "skipped", Error: errDependencyFailed})
	if s, ok := r.opts.Notifier.Get(res.Name()); ok && s.State == resource.StateFailedToStart {
		return
	}
	r.publish(res, resource.StateFailedToStart, errDependencyFailed)
}

func (r *Runtime) startResource(ctx context.Context, res resource.Resource) error {
	start := time.Now()
	typ := resource.TypeName(res)
	log := r.log.With("resource", res.Name(), "type", typ)
	r.emit(Event{Resource: res.Name(), Type: typ, Action: ActionStart, Status: "started"})

	err := r.bringUp(ctx, res, log)
	if err == nil {
		// Ready handlers run before dependents are released.
		if perr := r.opts.Events.PublishReady(ctx, res); perr != nil {
			err = perr
		}
	}

	if err != nil {
		err = fmt.Errorf("%s: %w", res.Name(), err)
		if s, ok := r.opts.Notifier.Get(res.Name()); !ok || s.State != resource.StateFailedToStart {
			r.publish(res, resource.StateFailedToStart, err)
		}
		log.Error("resource failed to start", "error", err)
		r.emit(Event{Resource: res.Name(), Type: typ, Action: ActionStart, Status: "failed", Duration: time.Since(start), Error: err})
		return err
	}

	log.Info("resource ready", "duration", time.Since(start).Round(time.Millisecond))
	r.emit(Event{Resource: res.Name(), Type: typ, Action: ActionStart, Status: "completed", Duration: time.Since(start)})
	return nil
}

// bringUp starts res and waits until it is healthy.
func (r *Runtime) bringUp(ctx context.Context, res resource.Resource, log *slog.Logger) error {
	switch v := res.(type) {
	case *resource.Project:
		// Projects are provisioned by the readiness handlers of their service.
		ctx, cancel := WithTimeout(ctx, r.opts.StartTimeout)
		defer cancel()
		snap, err := r.opts.Notifier.WaitForState(ctx, v.Name(), resource.StateRunning, resource.StateFailedToStart)
		if err != nil {
			return err
		}
		if snap.State == resource.StateFailedToStart {
			return fmt.Errorf("provisioning failed: %s", snap.Error)
		}
		return nil

	case *resource.Parameter:
		if _, err := v.Value(ctx); err != nil {
			return err
		}
		r.publish(res, resource.StateRunning, nil)
		return nil

	case *resource.PostgresDatabase:
		r.publish(res, resource.StateStarting, nil)
		if r.opts.Databases != nil {
			ctx, cancel := WithTimeout(ctx, r.opts.StartTimeout)
			defer cancel()
			if err := r.opts.Databases.EnsureDatabase(ctx, v); err != nil {
				return err
			}
		}
		r.publish(res, resource.StateRunning, nil)
		return nil

	case resource.ContainerResource:
		r.publish(res, resource.StateStarting, nil)
		if err := r.runContainer(ctx, v.AsContainer(), log); err != nil {
			return err
		}
		if err := r.waitHealthy(ctx, v.AsContainer()); err != nil {
			return err
		}
		r.publish(res, resource.StateRunning, nil)
		return nil

	default:
		r.publish(res, resource.StateRunning, nil)
		return nil
	}
}

func (r *Runtime) runContainer(ctx context.Context, c *resource.Container, log *slog.Logger) error {
	env, err := c.Environment(ctx, r.ec)
	if err != nil {
		return err
	}

	mounts, err := r.mounts(c)
	if err != nil {
		return err
	}

	var ports []PortBinding
	for _, ep := range c.Endpoints() {
		_, port, ok := ep.Allocated()
		if !ok || ep.TargetPort == 0 {
			continue
		}
		ports = append(ports, PortBinding{HostPort: port, ContainerPort: ep.TargetPort})
	}

	spec := ContainerSpec{
		Name:    c.Name(),
		Image:   c.ImageRef(),
		Args:    c.Args,
		Env:     env,
		Ports:   ports,
		Mounts:  mounts,
		Network: r.opts.Network,
		Aliases: []string{c.Name()},
		Labels:  map[string]string{LabelManaged: "true", LabelResource: c.Name()},
	}

	id, err := r.opts.Runner.Run(ctx, spec)
	if err != nil {
		return fmt.Errorf("run container: %w", err)
	}
	r.mu.Lock()
	r.running = append(r.running, c.Name())
	r.mu.Unlock()
	log.Debug("container started", "id", id, "image", spec.Image)
	return nil
}

// mounts resolves bind mounts and stages container files on the host. Staged files are
// mounted read-only.
func (r *Runtime) mounts(c *resource.Container) ([]resource.Mount, error) {
	var out []resource.Mount
	for _, m := range c.Mounts() {
		src := m.Source
		if !filepath.IsAbs(src) {
			src = filepath.Join(r.opts.BaseDir, src)
		}
		if !m.ReadOnly {
			if err := prepareWritableDir(src); err != nil {
				return nil, fmt.Errorf("prepare mount %s: %w", src, err)
			}
		}
		out = append(out, resource.Mount{Source: src, Target: m.Target, ReadOnly: m.ReadOnly})
	}

	staged := map[string]string{}
	var targets []string
	for _, set := range c.Files() {
		dir, ok := staged[set.Destination]
		if !ok {
			dir = filepath.Join(r.opts.FilesDir, c.Name(), fmt.Sprintf("%d", len(staged)))
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("stage files for %s: %w", set.Destination, err)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("stage files for %s: %w", set.Destination, err)
			}
			staged[set.Destination] = dir
			targets = append(targets, set.Destination)
		}
		for _, f := range set.Files {
			name := filepath.Base(f.Name)
			if name == "." || name == string(filepath.Separator) || strings.TrimSpace(name) == "" {
				return nil, fmt.Errorf("invalid container file name %q", f.Name)
			}
			if err := os.WriteFile(filepath.Join(dir, name), []byte(f.Contents), 0o644); err != nil {
				return nil, fmt.Errorf("stage file %s: %w", f.Name, err)
			}
		}
	}
	for _, t := range targets {
		out = append(out, resource.Mount{Source: staged[t], Target: t, ReadOnly: true})
	}
	return out, nil
}

// prepareWritableDir creates dir so that containers running under another uid can
// write to it. Existing directories are left alone.
func prepareWritableDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.Chmod(dir, 0o777)
}

func (r *Runtime) waitHealthy(ctx context.Context, c *resource.Container) error {
	checks := c.HealthChecks()
	if len(checks) == 0 {
		return nil
	}
	ctx, cancel := WithTimeout(ctx, r.opts.StartTimeout)
	defer cancel()

	for _, hc := range checks {
		if err := PollUntil(ctx, r.opts.Poll, hc.Check); err != nil {
			return fmt.Errorf("health check: %w", err)
		}
	}
	return nil
}

// Stop removes the containers started by Start in reverse dependency order, then the
// network. Every container is attempted; failures are joined.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	running := map[string]bool{}
	for _, name := range r.running {
		running[strings.ToLower(name)] = true
	}
	networkUp := r.networkUp
	r.running = nil
	r.networkUp = false
	r.mu.Unlock()

	var errs []error
	for _, name := range r.dag.StopOrder() {
		if !running[strings.ToLower(name)] {
			continue
		}
		res, _ := r.dag.Resource(name)
		typ := resource.TypeName(res)
		start := time.Now()
		r.emit(Event{Resource: name, Type: typ, Action: ActionStop, Status: "started"})
		if err := r.opts.Runner.Stop(ctx, name); err != nil {
			err = fmt.Errorf("stop %s: %w", name, err)
			errs = append(errs, err)
			r.emit(Event{Resource: name, Type: typ, Action: ActionStop, Status: "failed", Duration: time.Since(start), Error: err})
			continue
		}
		r.opts.Notifier.PublishState(name, resource.StateExited)
		r.emit(Event{Resource: name, Type: typ, Action: ActionStop, Status: "completed", Duration: time.Since(start)})
	}

	if networkUp {
		if err := r.opts.Runner.RemoveNetwork(ctx, r.opts.Network); err != nil {
			errs = append(errs, fmt.Errorf("remove network %s: %w", r.opts.Network, err))
		}
	}
	return errors.Join(errs...)
}
