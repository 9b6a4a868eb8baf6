package stack

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/picklr-io/zitadelhost/internal/errdefs"
	"github.com/picklr-io/zitadelhost/internal/ir"
	"github.com/picklr-io/zitadelhost/internal/resource"
	"github.com/picklr-io/zitadelhost/internal/secrets"
	"github.com/picklr-io/zitadelhost/internal/zitadel"
)

// SecretsConfig returns the secret store configuration of s, defaulting to local files.
func SecretsConfig(s *ir.Stack) secrets.Config {
	if s == nil || s.Secrets == nil {
		return secrets.Config{Type: "file"}
	}
	return secrets.Config{Type: s.Secrets.Type, Config: s.Secrets.Config}
}

// Load declares every resource of s on b. Postgres servers come first, then ZITADEL
// instances and finally containers, whose references may point at anything declared
// before or alongside them.
func Load(ctx context.Context, b *Builder, s *ir.Stack) error {
	for _, pg := range s.Postgres {
		if err := loadPostgres(b, pg); err != nil {
			return err
		}
	}
	for _, z := range s.Zitadel {
		if err := loadZitadel(ctx, b, z); err != nil {
			return err
		}
	}

	// Endpoints of every container exist before any reference is resolved.
	declared := make(map[*ir.Container]*ContainerBuilder, len(s.Containers))
	for _, c := range s.Containers {
		if c == nil {
			continue
		}
		cb, err := declareContainer(b, c)
		if err != nil {
			return err
		}
		declared[c] = cb
	}
	for _, c := range s.Containers {
		if c == nil {
			continue
		}
		if err := wireContainer(declared[c], c); err != nil {
			return err
		}
	}
	return nil
}

func loadPostgres(b *Builder, pg *ir.Postgres) error {
	if pg == nil {
		return nil
	}
	var user, password *resource.Parameter
	if pg.UserName != "" {
		user = resource.NewParameter(pg.Name+"-username", pg.UserName, false)
	}
	if pg.Password != "" {
		password = resource.NewParameter(pg.Name+"-password", pg.Password, true)
	}
	pb, err := b.AddPostgres(pg.Name, pg.Port, user, password)
	if err != nil {
		return err
	}
	for _, db := range pg.Databases {
		if db == nil {
			continue
		}
		if _, err := pb.AddDatabase(db.Name, db.DatabaseName); err != nil {
			return err
		}
	}
	return nil
}

func loadZitadel(ctx context.Context, b *Builder, z *ir.Zitadel) error {
	if z == nil {
		return nil
	}
	opts := ZitadelOptions{Port: z.Port, Tag: z.Tag}
	if z.AdminUsername != "" {
		opts.AdminUsername = resource.Literal(z.AdminUsername)
	}
	if z.AdminPassword != "" {
		opts.AdminPassword = resource.NewParameter(z.Name+"-password", z.AdminPassword, true)
	}
	if z.MasterKey != "" {
		if len(z.MasterKey) != 32 {
			return errdefs.Configuration(z.Name, "master key must be exactly 32 characters", nil)
		}
		opts.MasterKey = resource.NewParameter(z.Name+"-masterkey", z.MasterKey, true)
	}

	zb, err := b.AddZitadel(z.Name, opts)
	if err != nil {
		return err
	}

	if z.Database != "" {
		r, ok := b.Graph.Lookup(z.Database)
		if !ok {
			return errdefs.Configuration(z.Name, fmt.Sprintf("database %q is not declared", z.Database), nil)
		}
		db, ok := r.(resource.ConnectionStringResource)
		if !ok {
			return errdefs.Configuration(z.Name, fmt.Sprintf("%q is not a database", z.Database), nil)
		}
		var userPassword *resource.Parameter
		if z.DBPassword != "" {
			userPassword = resource.NewParameter(db.Name()+"-user-password", z.DBPassword, true)
		}
		if err := zb.WithPostgresDatabase(db, userPassword, z.SSLMode); err != nil {
			return err
		}
	}

	machineUser := z.MachineUser
	if machineUser == "" && (len(z.Projects) > 0 || (z.Organization != nil && z.Organization.Log)) {
		machineUser = DefaultMachineUser
	}
	if machineUser != "" {
		zb.WithMachineUser(machineUser)
	}
	if z.LoginClientKey != "" {
		zb.WithLoginClientKey(z.LoginClientKey)
	}

	if h := z.HTTPS; h != nil {
		switch {
		case h.DevCertificate:
			if err := zb.WithHTTPSEndpointUsingDevCertificate(ctx, h.Port); err != nil {
				return err
			}
		case h.CertFile != "" && h.KeyFile != "":
			cert, key := h.CertFile, h.KeyFile
			if !filepath.IsAbs(cert) {
				cert = filepath.Join(b.baseDir, cert)
			}
			if !filepath.IsAbs(key) {
				key = filepath.Join(b.baseDir, key)
			}
			if err := zb.WithHTTPSEndpoint(cert, key, h.Port, h.Destination); err != nil {
				return err
			}
		default:
			return errdefs.Configuration(z.Name, "https needs certFile and keyFile or devCertificate", nil)
		}
	}

	if lc := z.LoginClient; lc != nil {
		name := lc.Name
		if name == "" {
			name = z.Name + "-login"
		}
		if _, err := zb.AddLoginClient(name, lc.Port); err != nil {
			return err
		}
	}

	if org := z.Organization; org != nil {
		if org.Name != "" {
			zb.WithOrganizationName(org.Name)
		}
		if org.Log {
			zb.WithOrganizationLogging()
		}
	}

	for _, p := range z.Projects {
		if p == nil {
			continue
		}
		if err := loadProject(zb, p); err != nil {
			return err
		}
	}
	return nil
}

func loadProject(zb *ZitadelBuilder, p *ir.Project) error {
	displayName := p.DisplayName
	if displayName == "" {
		displayName = p.Name
	}
	pb, err := zb.AddProjectWithRequest(p.Name, zitadel.AddProjectRequest{
		Name:                   displayName,
		ProjectRoleAssertion:   p.ProjectRoleAssertion,
		ProjectRoleCheck:       p.ProjectRoleCheck,
		HasProjectCheck:        p.HasProjectCheck,
		PrivateLabelingSetting: p.PrivateLabelingSetting,
	})
	if err != nil {
		return err
	}

	for _, app := range p.Apps {
		if app == nil {
			continue
		}
		req, err := oidcAppRequest(p.Name, app)
		if err != nil {
			return err
		}
		pb.WithOIDCApp(req)
	}
	for _, role := range p.Roles {
		if role == nil {
			continue
		}
		if role.Key == "" {
			return errdefs.Configuration(p.Name, "role key is empty", nil)
		}
		displayName := role.DisplayName
		if displayName == "" {
			displayName = role.Key
		}
		pb.WithRole(zitadel.AddProjectRoleRequest{RoleKey: role.Key, DisplayName: displayName, Group: role.Group})
	}
	return nil
}

var (
	appTypes = map[string]zitadel.OIDCAppType{
		"":          zitadel.OIDCAppTypeWeb,
		"web":       zitadel.OIDCAppTypeWeb,
		"useragent": zitadel.OIDCAppTypeUserAgent,
		"native":    zitadel.OIDCAppTypeNative,
	}
	authMethods = map[string]zitadel.OIDCAuthMethodType{
		"":              zitadel.OIDCAuthMethodBasic,
		"basic":         zitadel.OIDCAuthMethodBasic,
		"post":          zitadel.OIDCAuthMethodPost,
		"none":          zitadel.OIDCAuthMethodNone,
		"privatekeyjwt": zitadel.OIDCAuthMethodPrivateKeyJWT,
	}
	tokenTypes = map[string]zitadel.OIDCTokenType{
		"":       zitadel.OIDCTokenTypeBearer,
		"bearer": zitadel.OIDCTokenTypeBearer,
		"jwt":    zitadel.OIDCTokenTypeJWT,
	}
)

func oidcAppRequest(project string, app *ir.OIDCApp) (zitadel.AddOIDCAppRequest, error) {
	if app.Name == "" {
		return zitadel.AddOIDCAppRequest{}, errdefs.Configuration(project, "application name is empty", nil)
	}
	appType, ok := appTypes[strings.ToLower(app.AppType)]
	if !ok {
		return zitadel.AddOIDCAppRequest{}, errdefs.Configuration(project, fmt.Sprintf("application %s: unknown appType %q", app.Name, app.AppType), nil)
	}
	auth, ok := authMethods[strings.ToLower(app.AuthMethod)]
	if !ok {
		return zitadel.AddOIDCAppRequest{}, errdefs.Configuration(project, fmt.Sprintf("application %s: unknown authMethod %q", app.Name, app.AuthMethod), nil)
	}
	token, ok := tokenTypes[strings.ToLower(app.AccessTokenType)]
	if !ok {
		return zitadel.AddOIDCAppRequest{}, errdefs.Configuration(project, fmt.Sprintf("application %s: unknown accessTokenType %q", app.Name, app.AccessTokenType), nil)
	}

	responseTypes := app.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"OIDC_RESPONSE_TYPE_CODE"}
	}
	grantTypes := app.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"OIDC_GRANT_TYPE_AUTHORIZATION_CODE"}
	}
	return zitadel.AddOIDCAppRequest{
		Name:                   app.Name,
		RedirectURIs:           app.RedirectURIs,
		PostLogoutRedirectURIs: app.PostLogoutRedirectURIs,
		ResponseTypes:          responseTypes,
		GrantTypes:             grantTypes,
		AppType:                appType,
		AuthMethodType:         auth,
		AccessTokenType:        token,
		DevMode:                app.DevMode,
	}, nil
}

func declareContainer(b *Builder, c *ir.Container) (*ContainerBuilder, error) {
	cb, err := b.AddContainer(c.Name, c.Image, c.Tag)
	if err != nil {
		return nil, err
	}
	cb.WithArgs(c.Args...)
	for _, ep := range c.Endpoints {
		if ep == nil {
			continue
		}
		if err := cb.WithEndpoint(ep.Name, ep.Scheme, ep.Port, ep.TargetPort); err != nil {
			return nil, err
		}
		if ep.HealthPath != "" {
			if err := cb.WithHTTPHealthCheck(ep.Name, ep.HealthPath); err != nil {
				return nil, err
			}
		}
	}
	return cb, nil
}

func wireContainer(cb *ContainerBuilder, c *ir.Container) error {
	keys := make([]string, 0, len(c.Env))
	for key := range c.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := c.Env[key]
		if IsRef(value) {
			if err := cb.WithReference(key, value); err != nil {
				return err
			}
			continue
		}
		cb.WithEnv(key, resource.Literal(value))
	}
	for _, name := range c.WaitFor {
		if err := cb.WaitFor(name); err != nil {
			return err
		}
	}
	return nil
}
