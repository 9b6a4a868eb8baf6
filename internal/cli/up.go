package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/picklr-io/zitadelhost/internal/logging"
	"github.com/picklr-io/zitadelhost/internal/provision"
	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/runtime"
	"github.com/picklr-io/zitadelhost/internal/secrets"
	"github.com/picklr-io/zitadelhost/internal/statusserver"
	"github.com/picklr-io/zitadelhost/providers/docker"
)

type upOptions struct {
	statusAddr   string
	platform     string
	network      string
	startTimeout time.Duration
	parallelism  int
	detachAfter  bool
}

func newUpCmd(g *globalOptions) *cobra.Command {
	opts := &upOptions{}
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the stack and keep it running until interrupted",
		Long: `Starts every declared resource in dependency order. ZITADEL instances are
provisioned as soon as they are ready; containers that reference project outputs start
afterwards. The stack is stopped in reverse order on Ctrl+C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd, g, opts)
		},
	}
	cmd.Flags().StringVar(&opts.statusAddr, "status-addr", defaultStatusAddr, "Listen address of the status server (empty disables it)")
	cmd.Flags().StringVar(&opts.platform, "platform", "", "Pull images for this platform, e.g. linux/amd64")
	cmd.Flags().StringVar(&opts.network, "network", "", "Container network name (defaults to zitadelhost)")
	cmd.Flags().DurationVar(&opts.startTimeout, "start-timeout", runtime.DefaultStartTimeout, "How long a resource may take to become healthy")
	cmd.Flags().IntVar(&opts.parallelism, "parallelism", 0, "Maximum number of resources started concurrently")
	cmd.Flags().BoolVar(&opts.detachAfter, "exit-when-ready", false, "Stop the stack and exit once everything is running")
	return cmd
}

func runUp(cmd *cobra.Command, g *globalOptions, opts *upOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()
	log := logging.Logger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := provision.NewMetrics(reg)

	fmt.Fprint(out, "Loading stack... ")
	ls, err := g.loadStack(ctx, resource.ModeRun, g.openSecrets(ctx), stackOptions(metrics))
	if err != nil {
		fmt.Fprintln(out, "FAILED")
		return err
	}
	fmt.Fprintln(out, "OK")

	if locker, ok := ls.secrets.(secrets.Locker); ok {
		if err := locker.Lock(ctx); err != nil {
			return fmt.Errorf("failed to lock secret store: %w", err)
		}
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				log.Warn("failed to unlock secret store", "err", err)
			}
		}()
	}

	runner, err := docker.New(docker.Options{Platform: opts.platform, Progress: io.Discard, Log: log})
	if err != nil {
		return err
	}

	b := ls.builder
	rt, err := runtime.New(runtime.Options{
		Graph:        b.Graph,
		Events:       b.Events,
		Notifier:     b.Notifier,
		Runner:       runner,
		Databases:    runtime.PostgresDatabases{},
		Network:      opts.network,
		FilesDir:     filepath.Join(g.stateDirIn(ls.dir), "files"),
		BaseDir:      ls.dir,
		StartTimeout: opts.startTimeout,
		Parallelism:  opts.parallelism,
		Callback:     progressPrinter(out, g.noColor),
		Log:          log,
	})
	if err != nil {
		return err
	}

	var status *statusserver.Server
	if opts.statusAddr != "" {
		status, err = statusserver.New(statusserver.Config{
			ListenAddr: opts.statusAddr,
			Notifier:   b.Notifier,
			Gatherer:   reg,
			Log:        log,
		})
		if err != nil {
			return err
		}
		status.RunInBackground()
		defer status.Shutdown()
	}

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		fmt.Fprintln(out, "\nStopping stack...")
		if err := rt.Stop(stopCtx); err != nil {
			log.Error("failed to stop stack", "err", err)
		}
	}()

	fmt.Fprintf(out, "\nStarting %d resource(s)...\n", len(rt.DAG().StartOrder()))
	startErr := rt.Start(ctx)
	if status != nil {
		status.MarkStarted(startErr == nil)
	}

	fmt.Fprintln(out)
	printSnapshots(out, b.Notifier.All(), g.noColor)
	printEndpoints(out, b.Graph)

	if startErr != nil {
		return startErr
	}
	if opts.detachAfter {
		return nil
	}

	fmt.Fprintln(out, "\nStack is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	return nil
}

// progressPrinter prints one line per finished resource. Events arrive from several
// goroutines.
func progressPrinter(out io.Writer, noColor bool) runtime.Callback {
	var mu sync.Mutex
	return func(e runtime.Event) {
		if e.Status == "started" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch e.Status {
		case "completed":
			fmt.Fprintf(out, "  %s✓%s %s %s (%s)\n", colorize(noColor, colorGreen), colorize(noColor, colorReset), e.Action, e.Resource, e.Duration.Round(time.Millisecond))
		case "failed":
			fmt.Fprintf(out, "  %s✗%s %s %s: %v\n", colorize(noColor, colorRed), colorize(noColor, colorReset), e.Action, e.Resource, e.Error)
		case "skipped":
			fmt.Fprintf(out, "  %s-%s %s %s skipped\n", colorize(noColor, colorYellow), colorize(noColor, colorReset), e.Action, e.Resource)
		}
	}
}

func printEndpoints(out io.Writer, g *resource.Graph) {
	header := false
	for _, r := range g.Resources() {
		cr, ok := r.(resource.ContainerResource)
		if !ok {
			continue
		}
		for _, ep := range cr.AsContainer().Endpoints() {
			host, port, ok := ep.Allocated()
			if !ok {
				continue
			}
			if !header {
				fmt.Fprintln(out, "\nEndpoints:")
				header = true
			}
			fmt.Fprintf(out, "  %s/%s = %s://%s:%d\n", r.Name(), ep.Name, ep.Scheme, host, port)
		}
	}
}
