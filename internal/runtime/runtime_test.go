package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/zitadel"
)

type fakeRunner struct {
	mu       sync.Mutex
	runs     []ContainerSpec
	stopped  []string
	networks []string
	removed  []string
	failOn   map[string]error
}

func newFakeRunner() *fakeRunner { return &fakeRunner{failOn: map[string]error{}} }

func (f *fakeRunner) CreateNetwork(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = append(f.networks, name)
	return nil
}

func (f *fakeRunner) RemoveNetwork(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeRunner) Run(_ context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[spec.Name]; err != nil {
		return "", err
	}
	f.runs = append(f.runs, spec)
	return "id-" + spec.Name, nil
}

func (f *fakeRunner) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeRunner) ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.runs {
		out = append(out, s.Name)
	}
	return out
}

func (f *fakeRunner) spec(name string) (ContainerSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.runs {
		if s.Name == name {
			return s, true
		}
	}
	return ContainerSpec{}, false
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) Check(ctx context.Context) error { return f(ctx) }

type fixture struct {
	graph    *resource.Graph
	events   *resource.Events
	notifier *resource.Notifier
	runner   *fakeRunner
	recorded []Event
	mu       sync.Mutex
}

func newFixture() *fixture {
	return &fixture{
		graph:    resource.NewGraph(),
		events:   resource.NewEvents(),
		notifier: resource.NewNotifier(),
		runner:   newFakeRunner(),
	}
}

func (f *fixture) add(t *testing.T, rs ...resource.Resource) {
	t.Helper()
	for _, r := range rs {
		require.NoError(t, f.graph.Add(r))
	}
}

func (f *fixture) runtime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(Options{
		Graph:        f.graph,
		Events:       f.events,
		Notifier:     f.notifier,
		Runner:       f.runner,
		Network:      "test-net",
		FilesDir:     t.TempDir(),
		BaseDir:      t.TempDir(),
		StartTimeout: time.Second,
		Poll:         fastPoll(),
		Callback: func(e Event) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.recorded = append(f.recorded, e)
		},
	})
	require.NoError(t, err)
	return rt
}

func (f *fixture) state(t *testing.T, name string) resource.State {
	t.Helper()
	s, ok := f.notifier.Get(name)
	require.True(t, ok, "no snapshot for %s", name)
	return s.State
}

func TestNew_RequiresRunnerForContainers(t *testing.T) {
	g := resource.NewGraph()
	require.NoError(t, g.Add(resource.NewContainer("app", "img", "1")))
	_, err := New(Options{Graph: g})
	require.Error(t, err)

	_, err = New(Options{Graph: resource.NewGraph()})
	require.NoError(t, err)
}

func TestStart_RunsContainersInDependencyOrder(t *testing.T) {
	f := newFixture()
	db := resource.NewContainer("db", "postgres", "17")
	api := resource.NewContainer("api", "api", "1")
	web := resource.NewContainer("web", "web", "1")
	api.WaitFor(db)
	web.WaitFor(api)
	f.add(t, web, api, db)

	rt := f.runtime(t)
	require.NoError(t, rt.Start(context.Background()))

	assert.Equal(t, []string{"db", "api", "web"}, f.runner.ran())
	assert.Equal(t, []string{"test-net"}, f.runner.networks)
	for _, name := range []string{"db", "api", "web"} {
		assert.Equal(t, resource.StateRunning, f.state(t, name))
	}

	spec, ok := f.runner.spec("api")
	require.True(t, ok)
	assert.Equal(t, "api:1", spec.Image)
	assert.Equal(t, "test-net", spec.Network)
	assert.Equal(t, []string{"api"}, spec.Aliases)
	assert.Equal(t, "true", spec.Labels[LabelManaged])
	assert.Equal(t, "api", spec.Labels[LabelResource])
}

func TestStart_AllocatesEndpointsAndMaterializesEnvironment(t *testing.T) {
	f := newFixture()
	db := resource.NewContainer("db", "postgres", "17")
	require.NoError(t, db.AddEndpoint(&resource.Endpoint{Name: "tcp", Scheme: "tcp", Port: 15432, TargetPort: 5432}))
	app := resource.NewContainer("app", "app", "1")
	require.NoError(t, app.AddEndpoint(&resource.Endpoint{Name: "http", Scheme: "http", TargetPort: 8080}))
	app.SetEnv("DB_URL", db.GetEndpoint("tcp").URL())
	app.SetEnvLiteral("MODE", "dev")
	app.WaitFor(db)
	f.add(t, db, app)

	rt := f.runtime(t)
	require.NoError(t, rt.Start(context.Background()))

	ep, _ := db.Endpoint("tcp")
	host, port, ok := ep.Allocated()
	require.True(t, ok)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 15432, port)

	appEP, _ := app.Endpoint("http")
	_, appPort, ok := appEP.Allocated()
	require.True(t, ok)
	assert.NotZero(t, appPort)

	spec, ok := f.runner.spec("app")
	require.True(t, ok)
	assert.Equal(t, "tcp://localhost:15432", spec.Env["DB_URL"])
	assert.Equal(t, "dev", spec.Env["MODE"])
	assert.Equal(t, []PortBinding{{HostPort: appPort, ContainerPort: 8080}}, spec.Ports)
}

func TestStart_StagesContainerFilesReadOnly(t *testing.T) {
	f := newFixture()
	c := resource.NewContainer("zitadel", "zitadel", "v3")
	c.WithContainerFiles("/certificate",
		resource.ContainerFile{Name: "cert.pem", Contents: "CERT"},
		resource.ContainerFile{Name: "cert.key", Contents: "KEY"},
	)
	c.WithBindMount("keys", "/keys", false)
	f.add(t, c)

	rt := f.runtime(t)
	require.NoError(t, rt.Start(context.Background()))

	spec, ok := f.runner.spec("zitadel")
	require.True(t, ok)
	require.Len(t, spec.Mounts, 2)

	keys := spec.Mounts[0]
	assert.True(t, filepath.IsAbs(keys.Source))
	assert.Equal(t, "/keys", keys.Target)
	assert.False(t, keys.ReadOnly)
	assert.DirExists(t, keys.Source)

	certs := spec.Mounts[1]
	assert.Equal(t, "/certificate", certs.Target)
	assert.True(t, certs.ReadOnly)
	b, err := os.ReadFile(filepath.Join(certs.Source, "cert.pem"))
	require.NoError(t, err)
	assert.Equal(t, "CERT", string(b))
	b, err = os.ReadFile(filepath.Join(certs.Source, "cert.key"))
	require.NoError(t, err)
	assert.Equal(t, "KEY", string(b))
}

func TestStart_WaitsForHealthChecks(t *testing.T) {
	f := newFixture()
	calls := 0
	c := resource.NewContainer("app", "app", "1")
	c.WithHealthCheck(checkFunc(func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("starting")
		}
		return nil
	}))
	f.add(t, c)

	require.NoError(t, f.runtime(t).Start(context.Background()))
	assert.Equal(t, 3, calls)
	assert.Equal(t, resource.StateRunning, f.state(t, "app"))
}

func TestStart_UnhealthyContainerFails(t *testing.T) {
	f := newFixture()
	c := resource.NewContainer("app", "app", "1")
	c.WithHealthCheck(checkFunc(func(context.Context) error { return errors.New("never") }))
	f.add(t, c)

	rt := f.runtime(t)
	rt.opts.StartTimeout = 50 * time.Millisecond
	err := rt.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never")
	assert.Equal(t, resource.StateFailedToStart, f.state(t, "app"))
}

func TestStart_FailurePropagatesToDependentsOnly(t *testing.T) {
	f := newFixture()
	db := resource.NewContainer("db", "postgres", "17")
	api := resource.NewContainer("api", "api", "1")
	api.WaitFor(db)
	other := resource.NewContainer("other", "other", "1")
	f.add(t, db, api, other)
	f.runner.failOn["db"] = errors.New("image not found")

	err := f.runtime(t).Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image not found")

	assert.Equal(t, resource.StateFailedToStart, f.state(t, "db"))
	assert.Equal(t, resource.StateFailedToStart, f.state(t, "api"))
	assert.Equal(t, resource.StateRunning, f.state(t, "other"))
	assert.Equal(t, []string{"other"}, f.runner.ran())

	s, _ := f.notifier.Get("api")
	assert.Equal(t, errDependencyFailed.Error(), s.Error)

	var skipped bool
	for _, e := range f.recorded {
		if e.Resource == "api" && e.Status == "skipped" {
			skipped = true
		}
	}
	assert.True(t, skipped)
}

func TestStart_PublishesReadyBeforeReleasingDependents(t *testing.T) {
	f := newFixture()
	svc := resource.NewService("zitadel", nil, resource.NewParameter("pw", "pw", true), resource.NewParameter("mk", strings.Repeat("k", 32), true))
	proj := resource.NewProject("webapp", svc, zitadel.AddProjectRequest{})
	app := resource.NewContainer("app", "app", "1")
	app.WaitFor(proj)
	f.add(t, svc, proj, app)

	var readyOrder []string
	var mu sync.Mutex
	f.events.OnReady(svc, func(_ context.Context, r resource.Resource) error {
		mu.Lock()
		readyOrder = append(readyOrder, r.Name())
		mu.Unlock()
		_, started := f.runner.spec("app")
		assert.False(t, started, "app started before zitadel was ready")
		f.notifier.PublishState("webapp", resource.StateRunning)
		return nil
	})
	f.events.OnReady(proj, func(_ context.Context, r resource.Resource) error {
		mu.Lock()
		readyOrder = append(readyOrder, r.Name())
		mu.Unlock()
		return nil
	})

	require.NoError(t, f.runtime(t).Start(context.Background()))
	assert.Equal(t, []string{"zitadel", "webapp"}, readyOrder)
	assert.Equal(t, []string{"zitadel", "app"}, f.runner.ran())
	assert.Equal(t, resource.StateRunning, f.state(t, "webapp"))
}

func TestStart_ReadyHandlerFailureKeepsPublishedError(t *testing.T) {
	f := newFixture()
	svc := resource.NewService("zitadel", nil, resource.NewParameter("pw", "pw", true), resource.NewParameter("mk", strings.Repeat("k", 32), true))
	proj := resource.NewProject("webapp", svc, zitadel.AddProjectRequest{})
	f.add(t, svc, proj)

	f.events.OnReady(svc, func(_ context.Context, _ resource.Resource) error {
		f.notifier.PublishFailure("zitadel", errors.New("machine key missing"))
		f.notifier.PublishFailure("webapp", errors.New("machine key missing"))
		return errors.New("machine key missing")
	})

	err := f.runtime(t).Start(context.Background())
	require.Error(t, err)

	s, _ := f.notifier.Get("zitadel")
	assert.Equal(t, resource.StateFailedToStart, s.State)
	assert.Equal(t, "machine key missing", s.Error)

	p, _ := f.notifier.Get("webapp")
	assert.Equal(t, resource.StateFailedToStart, p.State)
	assert.Equal(t, "machine key missing", p.Error)
}

func TestStart_ProjectFailureIsReported(t *testing.T) {
	f := newFixture()
	svc := resource.NewService("zitadel", nil, resource.NewParameter("pw", "pw", true), resource.NewParameter("mk", strings.Repeat("k", 32), true))
	proj := resource.NewProject("webapp", svc, zitadel.AddProjectRequest{})
	f.add(t, svc, proj)

	f.events.OnReady(svc, func(_ context.Context, _ resource.Resource) error {
		f.notifier.PublishFailure("webapp", errors.New("quota exceeded"))
		return nil
	})

	err := f.runtime(t).Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, resource.StateRunning, f.state(t, "zitadel"))
	assert.Equal(t, resource.StateFailedToStart, f.state(t, "webapp"))
}

func TestStart_ResolvesParameters(t *testing.T) {
	f := newFixture()
	p := resource.GeneratedParameter("secret", 16)
	f.add(t, p)

	require.NoError(t, f.runtime(t).Start(context.Background()))
	assert.Equal(t, resource.StateRunning, f.state(t, "secret"))
	v, err := p.Value(context.Background())
	require.NoError(t, err)
	assert.Len(t, v, 16)
	assert.Empty(t, f.runner.networks)
}

type fakeDatabases struct {
	mu      sync.Mutex
	created []string
}

func (f *fakeDatabases) EnsureDatabase(_ context.Context, db *resource.PostgresDatabase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, db.DatabaseName)
	return nil
}

func TestStart_EnsuresDatabases(t *testing.T) {
	f := newFixture()
	pg := resource.NewPostgresServer("postgres", nil, resource.NewParameter("pw", "pw", true), 0)
	db := pg.AddDatabase("zitadel-db", "zitadel")
	f.add(t, pg, db)

	dbs := &fakeDatabases{}
	rt := f.runtime(t)
	rt.opts.Databases = dbs
	require.NoError(t, rt.Start(context.Background()))

	assert.Equal(t, []string{"zitadel"}, dbs.created)
	assert.Equal(t, resource.StateRunning, f.state(t, "zitadel-db"))
}

type stuckDatabases struct{}

func (stuckDatabases) EnsureDatabase(ctx context.Context, _ *resource.PostgresDatabase) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestStart_DatabaseCreationIsBoundedByStartTimeout(t *testing.T) {
	f := newFixture()
	pg := resource.NewPostgresServer("postgres", nil, resource.NewParameter("pw", "pw", true), 0)
	db := pg.AddDatabase("zitadel-db", "zitadel")
	f.add(t, pg, db)

	rt := f.runtime(t)
	rt.opts.Databases = stuckDatabases{}
	rt.opts.StartTimeout = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- rt.Start(context.Background()) }()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("database creation was not bounded by the start timeout")
	}
	assert.Equal(t, resource.StateFailedToStart, f.state(t, "zitadel-db"))
}

func TestStart_ReportsEveryFailure(t *testing.T) {
	f := newFixture()
	f.add(t, resource.NewContainer("a", "a", "1"), resource.NewContainer("b", "b", "1"))
	f.runner.failOn["a"] = errors.New("a is broken")
	f.runner.failOn["b"] = errors.New("b is broken")

	err := f.runtime(t).Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 resource(s) failed to start")
	assert.Contains(t, err.Error(), "a is broken")
	assert.Contains(t, err.Error(), "b is broken")
}

func TestStop_ReverseOrderAndRemovesNetwork(t *testing.T) {
	f := newFixture()
	db := resource.NewContainer("db", "postgres", "17")
	api := resource.NewContainer("api", "api", "1")
	api.WaitFor(db)
	f.add(t, db, api)

	rt := f.runtime(t)
	require.NoError(t, rt.Start(context.Background()))
	require.NoError(t, rt.Stop(context.Background()))

	assert.Equal(t, []string{"api", "db"}, f.runner.stopped)
	assert.Equal(t, []string{"test-net"}, f.runner.removed)
	assert.Equal(t, resource.StateExited, f.state(t, "api"))

	// A second Stop has nothing left to do.
	require.NoError(t, rt.Stop(context.Background()))
	assert.Len(t, f.runner.stopped, 2)
}
