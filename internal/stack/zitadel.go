package stack

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/picklr-io/zitadelhost/internal/connstr"
	"github.com/picklr-io/zitadelhost/internal/health"
	"github.com/picklr-io/zitadelhost/internal/hooks"
	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/zitadel"
)

const (
	containerPort = 8080
	keysTarget    = "/keys"
	healthPath    = "debug/healthz"

	// DefaultMachineUser is the IAM owner machine user created on first start.
	DefaultMachineUser = "admin"
	// DefaultLoginClientUser is the machine user the login UI authenticates as.
	DefaultLoginClientUser = "login-client"
	// DefaultCertificateDestination is where TLS files are placed in the container.
	DefaultCertificateDestination = "/certificate"

	loginClientTokenFile = "login-client.pat"
)

// ZitadelOptions are the optional inputs of AddZitadel.
type ZitadelOptions struct {
	AdminUsername resource.ValueProvider
	AdminPassword *resource.Parameter
	MasterKey     *resource.Parameter
	// Port is the host port of the http endpoint. Zero allocates one.
	Port int
	// Tag overrides the image tag.
	Tag string
}

// ZitadelBuilder configures a ZITADEL service.
type ZitadelBuilder struct {
	b      *Builder
	svc    *resource.Service
	health *health.HTTPCheck

	keysMounted bool
}

// AddZitadel declares a ZITADEL instance served over http on container port 8080. Its
// readiness triggers the provisioning of every project declared on it.
func (b *Builder) AddZitadel(name string, opts ZitadelOptions) (*ZitadelBuilder, error) {
	if name == "" {
		return nil, fmt.Errorf("zitadel name is empty")
	}
	masterKey := opts.MasterKey
	if masterKey == nil {
		masterKey = resource.GeneratedParameter(name+"-masterkey", 32)
	}

	svc := resource.NewService(name, opts.AdminUsername, opts.AdminPassword, masterKey)
	if opts.Tag != "" {
		svc.Tag = opts.Tag
	}
	if err := svc.AddEndpoint(&resource.Endpoint{Name: "http", Scheme: "http", Port: opts.Port, TargetPort: containerPort}); err != nil {
		return nil, err
	}
	http := svc.GetEndpoint("http")
	svc.SetEnvLiteral("ZITADEL_TLS_ENABLED", "false")
	svc.SetEnvLiteral("ZITADEL_EXTERNALSECURE", "false")
	svc.SetEnv("ZITADEL_EXTERNALPORT", http.Port())
	svc.SetEnv("ZITADEL_EXTERNALDOMAIN", http.Host())

	check := health.NewHTTPCheck(http, healthPath)
	svc.WithHealthCheck(check)

	if err := b.track(svc.AdminPassword); err != nil {
		return nil, err
	}
	if err := b.track(svc.MasterKey); err != nil {
		return nil, err
	}
	if err := b.add(svc); err != nil {
		return nil, err
	}
	b.Dispatcher.Attach(b.Events, svc)

	return &ZitadelBuilder{b: b, svc: svc, health: check}, nil
}

func (z *ZitadelBuilder) Resource() *resource.Service { return z.svc }

// WithPostgresDatabase stores the instance data in db. The connection details are
// resolved when the container starts; in run mode the server is reached over the
// container network by its resource name. A nil userPassword is generated.
func (z *ZitadelBuilder) WithPostgresDatabase(db resource.ConnectionStringResource, userPassword *resource.Parameter, sslMode bool) error {
	if userPassword == nil {
		userPassword = resource.GeneratedParameter(db.Name()+"-user-password", resource.DefaultPasswordLength)
	}
	if err := z.b.track(userPassword); err != nil {
		return err
	}

	ssl := "disable"
	if sslMode {
		ssl = "enable"
	}
	z.svc.WithEnvironment(connstr.EnvironmentCallback(db, func(env *resource.EnvironmentContext, d connstr.Descriptor) {
		env.SetLiteral("ZITADEL_DATABASE_POSTGRES_HOST", d.Host)
		env.SetLiteral("ZITADEL_DATABASE_POSTGRES_PORT", d.Port)
		env.SetLiteral("ZITADEL_DATABASE_POSTGRES_DATABASE", d.Database)
		env.SetLiteral("ZITADEL_DATABASE_POSTGRES_USER_USERNAME", "zitadel-user")
		env.Set("ZITADEL_DATABASE_POSTGRES_USER_PASSWORD", userPassword)
		env.SetLiteral("ZITADEL_DATABASE_POSTGRES_USER_SSL_MODE", ssl)
		env.SetLiteral("ZITADEL_DATABASE_POSTGRES_ADMIN_USERNAME", d.AdminUser)
		env.SetLiteral("ZITADEL_DATABASE_POSTGRES_ADMIN_PASSWORD", d.AdminPassword)
		env.SetLiteral("ZITADEL_DATABASE_POSTGRES_ADMIN_SSL_MODE", ssl)
	}))
	z.svc.WaitFor(db)
	return nil
}

// keysDir is the host directory bind-mounted at /keys.
func (z *ZitadelBuilder) keysDir() string {
	return filepath.Join(z.b.baseDir, z.svc.Name()+"-keys")
}

func (z *ZitadelBuilder) mountKeys() {
	if z.keysMounted {
		return
	}
	z.svc.WithBindMount(z.keysDir(), keysTarget, false)
	z.keysMounted = true
}

// WithMachineUser creates an IAM owner machine user on first start whose key is written
// to <base>/<name>-keys/<user>.json. The key authenticates every readiness cycle.
func (z *ZitadelBuilder) WithMachineUser(user string) *ZitadelBuilder {
	if user == "" {
		user = DefaultMachineUser
	}
	z.mountKeys()
	z.svc.SetEnvLiteral("ZITADEL_FIRSTINSTANCE_MACHINEKEYPATH", path.Join(keysTarget, user+".json"))
	z.svc.SetEnvLiteral("ZITADEL_FIRSTINSTANCE_ORG_MACHINE_MACHINE_USERNAME", user)
	z.svc.SetEnvLiteral("ZITADEL_FIRSTINSTANCE_ORG_MACHINE_MACHINE_NAME", "Automatically Initialized IAM_OWNER")
	z.svc.SetEnvLiteral("ZITADEL_FIRSTINSTANCE_ORG_MACHINE_MACHINEKEY_TYPE", "1")
	z.svc.MachineUserKeyPath = filepath.Join(z.keysDir(), user+".json")
	return z
}

// WithLoginClientKey creates the machine user of the login UI on first start and writes
// its personal access token next to the machine user key.
func (z *ZitadelBuilder) WithLoginClientKey(user string) *ZitadelBuilder {
	if user == "" {
		user = DefaultLoginClientUser
	}
	z.mountKeys()
	z.svc.SetEnvLiteral("ZITADEL_FIRSTINSTANCE_LOGINCLIENTPATH", path.Join(keysTarget, loginClientTokenFile))
	z.svc.SetEnvLiteral("ZITADEL_FIRSTINSTANCE_ORG_LOGINCLIENT_MACHINE_USERNAME", user)
	z.svc.SetEnvLiteral("ZITADEL_FIRSTINSTANCE_ORG_LOGINCLIENT_MACHINE_NAME", "Automatically Initialized IAM_LOGIN_CLIENT")
	z.svc.SetEnvLiteral("ZITADEL_FIRSTINSTANCE_ORG_LOGINCLIENT_PAT_EXPIRATIONDATE", "2099-01-01T00:00:00Z")
	z.svc.LoginClientKeyPath = filepath.Join(z.keysDir(), loginClientTokenFile)
	return z
}

// AddLoginClient declares the standalone login UI and points the instance at it. A login
// client key is configured when missing.
func (z *ZitadelBuilder) AddLoginClient(name string, port int) (*resource.LoginClient, error) {
	if z.svc.LoginClientKeyPath == "" {
		z.WithLoginClientKey("")
	}

	login := resource.NewLoginClient(name, z.svc, port)
	login.SetEnvLiteral("ZITADEL_SERVICE_USER_TOKEN_FILE", path.Join(keysTarget, loginClientTokenFile))
	// The primary endpoint may still switch to https after this call.
	login.WithEnvironment(func(_ context.Context, env *resource.EnvironmentContext) error {
		primary := z.svc.PrimaryEndpoint()
		scheme := primary.Name
		env.SetLiteral("ZITADEL_API_URL", fmt.Sprintf("%s://%s:%d", scheme, z.svc.Name(), containerPort))
		env.Set("CUSTOM_REQUEST_HEADERS", resource.Expr("Host:{0}", primary.Host()))
		if scheme == "https" {
			// The development certificate is not issued for the container network name.
			env.SetLiteral("NODE_TLS_REJECT_UNAUTHORIZED", "0")
		}
		return nil
	})
	login.WithBindMount(z.keysDir(), keysTarget, true)
	login.WithHealthCheck(health.NewHTTPCheck(login.GetEndpoint("http"), resource.LoginBasePath+"/healthy"))

	z.svc.SetEnvLiteral("ZITADEL_DEFAULTINSTANCE_FEATURES_LOGINV2_REQUIRED", "true")
	z.svc.SetEnv("ZITADEL_DEFAULTINSTANCE_FEATURES_LOGINV2_BASEURI", resource.Expr("{0}/", login.URL()))
	z.svc.SetEnv("ZITADEL_OIDC_DEFAULTLOGINURLV2", login.OIDCLoginEndpoint())
	z.svc.SetEnv("ZITADEL_OIDC_DEFAULTLOGOUTURLV2", login.OIDCLogoutEndpoint())
	z.svc.SetEnv("ZITADEL_SAMLV2_DEFAULTLOGINURLV2", login.SAMLLoginEndpoint())

	if err := z.b.add(login); err != nil {
		return nil, err
	}
	return login, nil
}

// WithHTTPSEndpoint serves the instance over TLS with certPath and keyPath. In run mode
// both files are placed into the container under destination; in publish mode the
// certificate directory is bind-mounted there. The http endpoint is dropped.
func (z *ZitadelBuilder) WithHTTPSEndpoint(certPath, keyPath string, port int, destination string) error {
	if destination == "" {
		destination = DefaultCertificateDestination
	}
	certName := filepath.Base(certPath)
	keyName := filepath.Base(keyPath)

	if z.b.ec.IsRunMode() {
		cert, err := os.ReadFile(certPath)
		if err != nil {
			return fmt.Errorf("failed to read certificate: %w", err)
		}
		key, err := os.ReadFile(keyPath)
		if err != nil {
			return fmt.Errorf("failed to read certificate key: %w", err)
		}
		z.svc.WithContainerFiles(destination,
			resource.ContainerFile{Name: certName, Contents: string(cert)},
			resource.ContainerFile{Name: keyName, Contents: string(key)},
		)
	} else {
		dir := filepath.Dir(certPath)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(z.b.baseDir, dir)
		}
		z.svc.WithBindMount(dir, destination, true)
	}

	z.svc.RemoveEndpoint("http")
	if err := z.svc.AddEndpoint(&resource.Endpoint{Name: "https", Scheme: "https", Port: port, TargetPort: containerPort}); err != nil {
		return err
	}
	https := z.svc.GetEndpoint("https")
	z.svc.SetEnvLiteral("ZITADEL_TLS_CERTPATH", path.Join(destination, certName))
	z.svc.SetEnvLiteral("ZITADEL_TLS_KEYPATH", path.Join(destination, keyName))
	z.svc.SetEnvLiteral("ZITADEL_TLS_ENABLED", "true")
	z.svc.SetEnvLiteral("ZITADEL_EXTERNALSECURE", "true")
	z.svc.SetEnv("ZITADEL_EXTERNALPORT", https.Port())
	z.svc.SetEnv("ZITADEL_EXTERNALDOMAIN", https.Host())

	z.svc.RootCAFile = certPath
	z.health.Endpoint = https
	z.health.RootCAFile = certPath
	return nil
}

// WithHTTPSEndpointUsingDevCertificate exports the local development certificate and
// serves the instance over TLS with it.
func (z *ZitadelBuilder) WithHTTPSEndpointUsingDevCertificate(ctx context.Context, port int) error {
	cert, err := z.b.certs.ExportDevCertificate(ctx, z.b.name)
	if err != nil {
		return err
	}
	return z.WithHTTPSEndpoint(cert.CertPath, cert.KeyPath, port, DefaultCertificateDestination)
}

// WithOrganizationName names the first-instance organization.
func (z *ZitadelBuilder) WithOrganizationName(name string) *ZitadelBuilder {
	z.svc.OrganizationName = name
	z.svc.SetEnvLiteral("ZITADEL_FIRSTINSTANCE_ORG_NAME", name)
	return z
}

// WithInitialization runs h once per process after the instance is ready, before any
// project is provisioned.
func (z *ZitadelBuilder) WithInitialization(h hooks.ServiceHook) *ZitadelBuilder {
	z.b.Hooks.RegisterService(z.svc, h)
	return z
}

// WithOrganizationLogging looks the organization up when the instance is ready and logs
// its id.
func (z *ZitadelBuilder) WithOrganizationLogging() *ZitadelBuilder {
	engine := z.b.Engine
	log := z.b.log
	return z.WithInitialization(func(ctx context.Context, opts zitadel.Options, svc *resource.Service) error {
		org, err := engine.LookupOrganization(ctx, engine.Client(opts), svc.OrganizationName)
		if err != nil {
			return err
		}
		log.Info("organization ready", "resource", svc.Name(), "organization", org.Name, "id", org.ID)
		return nil
	})
}

// AddProject declares a project named projectName on the instance.
func (z *ZitadelBuilder) AddProject(name, projectName string) (*ProjectBuilder, error) {
	return z.AddProjectWithRequest(name, zitadel.AddProjectRequest{Name: projectName})
}

// AddProjectWithRequest declares a project created with req. The request name defaults
// to name.
func (z *ZitadelBuilder) AddProjectWithRequest(name string, req zitadel.AddProjectRequest) (*ProjectBuilder, error) {
	if name == "" {
		return nil, fmt.Errorf("project name is empty")
	}
	project := resource.NewProject(name, z.svc, req)
	if err := z.b.add(project); err != nil {
		return nil, err
	}
	z.svc.DeclareProject(name, project.Request.Name)
	return &ProjectBuilder{b: z.b, project: project}, nil
}
