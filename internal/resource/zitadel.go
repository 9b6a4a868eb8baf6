package resource

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/picklr-io/zitadelhost/internal/zitadel"
)

const (
	ZitadelImage = "ghcr.io/zitadel/zitadel"
	ZitadelTag   = "v3.3.1"

	// DefaultOrganizationName is the first-instance organization created by ZITADEL.
	DefaultOrganizationName = "ZITADEL"
	// DefaultAdminUsername is the first-instance human administrator.
	DefaultAdminUsername = "root"
)

// ProjectDeclaration is a child project declared on a Service.
type ProjectDeclaration struct {
	Name        string
	DisplayName string
}

// Service is a ZITADEL instance.
type Service struct {
	*Container

	AdminUsername ValueProvider
	AdminPassword *Parameter
	MasterKey     *Parameter

	// MachineUserKeyPath is the host path of the machine-user key written on first start.
	MachineUserKeyPath string
	// LoginClientKeyPath is the host path of the login client's personal access token.
	LoginClientKeyPath string
	// RootCAFile is trusted when calling the instance over https.
	RootCAFile string

	OrganizationName string

	mu       sync.Mutex
	projects []ProjectDeclaration
	index    map[string]int
}

// NewService declares a ZITADEL container. Nil parameters are generated.
func NewService(name string, adminUsername ValueProvider, adminPassword, masterKey *Parameter) *Service {
	if adminUsername == nil {
		adminUsername = Literal(DefaultAdminUsername)
	}
	if adminPassword == nil {
		adminPassword = GeneratedParameter(name+"-password", DefaultPasswordLength)
	}
	if masterKey == nil {
		masterKey = GeneratedParameter(name+"-masterkey", 32)
	}

	c := NewContainer(name, ZitadelImage, ZitadelTag)
	c.Args = []string{"start-from-init", "--masterkeyFromEnv"}
	c.SetEnvLiteral("ZITADEL_FIRSTINSTANCE_ORG_HUMAN_PASSWORDCHANGEREQUIRED", "false")
	c.SetEnv("ZITADEL_FIRSTINSTANCE_ORG_HUMAN_USERNAME", adminUsername)
	c.SetEnv("ZITADEL_FIRSTINSTANCE_ORG_HUMAN_PASSWORD", adminPassword)
	c.SetEnv("ZITADEL_MASTERKEY", masterKey)

	return &Service{
		Container:        c,
		AdminUsername:    adminUsername,
		AdminPassword:    adminPassword,
		MasterKey:        masterKey,
		OrganizationName: DefaultOrganizationName,
		index:            map[string]int{},
	}
}

// PrimaryEndpoint is https when configured, http otherwise.
func (s *Service) PrimaryEndpoint() EndpointReference {
	if _, ok := s.Endpoint("https"); ok {
		return s.GetEndpoint("https")
	}
	return s.GetEndpoint("http")
}

// DeclareProject records a child project. Names are case-insensitive and the first
// declaration wins; it reports whether name was new.
func (s *Service) DeclareProject(name, displayName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(name)
	if _, ok := s.index[key]; ok {
		return false
	}
	s.index[key] = len(s.projects)
	s.projects = append(s.projects, ProjectDeclaration{Name: name, DisplayName: displayName})
	return true
}

// Projects returns the declared child projects in declaration order.
func (s *Service) Projects() []ProjectDeclaration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProjectDeclaration(nil), s.projects...)
}

// AppCredentials are the identifiers of a provisioned OIDC application.
type AppCredentials struct {
	AppID        string
	ClientID     string
	ClientSecret string
}

// Project is a ZITADEL project provisioned on its parent Service.
type Project struct {
	name    string
	parent  *Service
	Request zitadel.AddProjectRequest

	mu    sync.RWMutex
	id    string
	apps  map[string]AppCredentials
	roles []string
}

// NewProject declares a project under parent. The request name defaults to name.
func NewProject(name string, parent *Service, req zitadel.AddProjectRequest) *Project {
	if req.Name == "" {
		req.Name = name
	}
	return &Project{name: name, parent: parent, Request: req, apps: map[string]AppCredentials{}}
}

func (p *Project) Name() string      { return p.name }
func (p *Project) Parent() Resource  { return p.parent }
func (p *Project) Service() *Service { return p.parent }
func (p *Project) Waits() []Resource { return []Resource{p.parent} }

// SetID assigns the provisioned id. It may be set once; setting the same id again is a no-op.
func (p *Project) SetID(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id == "" {
		return fmt.Errorf("project %s: empty id", p.name)
	}
	if p.id != "" && p.id != id {
		return fmt.Errorf("project %s already has id %s, refusing %s", p.name, p.id, id)
	}
	p.id = id
	return nil
}

// ID returns the provisioned id, if any.
func (p *Project) ID() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id, p.id != ""
}

// SetApp records the credentials of the application called name.
func (p *Project) SetApp(name string, creds AppCredentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apps[name] = creds
}

func (p *Project) App(name string) (AppCredentials, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	creds, ok := p.apps[name]
	return creds, ok
}

// AddRole records a provisioned role key.
func (p *Project) AddRole(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.roles {
		if r == key {
			return
		}
	}
	p.roles = append(p.roles, key)
}

func (p *Project) Roles() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.roles...)
}

// IDRef resolves to the project id once provisioned.
func (p *Project) IDRef() ValueProvider {
	return projectValue{p: p, path: "id", get: func() (string, bool) { return p.ID() }}
}

// ClientIDRef resolves to the client id of app once provisioned.
func (p *Project) ClientIDRef(app string) ValueProvider {
	return projectValue{p: p, path: "apps." + app + ".clientId", get: func() (string, bool) {
		c, ok := p.App(app)
		return c.ClientID, ok && c.ClientID != ""
	}}
}

// ClientSecretRef resolves to the client secret of app once provisioned.
func (p *Project) ClientSecretRef(app string) ValueProvider {
	return projectValue{p: p, path: "apps." + app + ".clientSecret", get: func() (string, bool) {
		c, ok := p.App(app)
		return c.ClientSecret, ok && c.ClientSecret != ""
	}}
}

// Output resolves a path such as id, apps.<name>.clientId or apps.<name>.clientSecret.
func (p *Project) Output(path string) (ValueProvider, error) {
	parts := strings.Split(path, ".")
	switch {
	case len(parts) == 1 && parts[0] == "id":
		return p.IDRef(), nil
	case len(parts) == 3 && parts[0] == "apps" && parts[2] == "clientId":
		return p.ClientIDRef(parts[1]), nil
	case len(parts) == 3 && parts[0] == "apps" && parts[2] == "clientSecret":
		return p.ClientSecretRef(parts[1]), nil
	default:
		return nil, fmt.Errorf("project %s has no output %q", p.name, path)
	}
}

type projectValue struct {
	p    *Project
	path string
	get  func() (string, bool)
}

func (v projectValue) Value(context.Context) (string, error) {
	s, ok := v.get()
	if !ok {
		return "", fmt.Errorf("project %s: %s is not provisioned yet", v.p.name, v.path)
	}
	return s, nil
}

func (v projectValue) ManifestExpression() string {
	return "{" + v.p.name + ".outputs." + v.path + "}"
}

const (
	LoginClientImage = "ghcr.io/zitadel/zitadel-login"
	// LoginBasePath is where the login UI is served.
	LoginBasePath = "/ui/v2/login"
)

// LoginClient is the standalone ZITADEL login UI.
type LoginClient struct {
	*Container
	Service *Service
}

// NewLoginClient declares a login UI container for svc.
func NewLoginClient(name string, svc *Service, port int) *LoginClient {
	c := NewContainer(name, LoginClientImage, svc.Tag)
	_ = c.AddEndpoint(&Endpoint{Name: "http", Scheme: "http", Port: port, TargetPort: 3000})
	c.SetEnvLiteral("NEXT_PUBLIC_BASE_PATH", LoginBasePath)
	c.WaitFor(svc)
	return &LoginClient{Container: c, Service: svc}
}

// URL is the external login UI base URL.
func (l *LoginClient) URL() *ReferenceExpression {
	return Expr("{0}"+LoginBasePath, l.GetEndpoint("http").URL())
}

func (l *LoginClient) OIDCLoginEndpoint() *ReferenceExpression {
	return Expr("{0}/login?authRequest=", l.URL())
}

func (l *LoginClient) OIDCLogoutEndpoint() *ReferenceExpression {
	return Expr("{0}/logout?post_logout_redirect=", l.URL())
}

func (l *LoginClient) SAMLLoginEndpoint() *ReferenceExpression {
	return Expr("{0}/login?samlRequest=", l.URL())
}
