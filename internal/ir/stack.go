// Package ir holds the declarative form of a stack as read from a PKL or YAML file.
package ir

// Stack is the top-level declaration.
type Stack struct {
	Name       string       `pkl:"name" yaml:"name"`
	Secrets    *SecretStore `pkl:"secrets" yaml:"secrets"`
	Postgres   []*Postgres  `pkl:"postgres" yaml:"postgres"`
	Zitadel    []*Zitadel   `pkl:"zitadel" yaml:"zitadel"`
	Containers []*Container `pkl:"containers" yaml:"containers"`
}

// SecretStore selects where generated values and client secrets are kept.
type SecretStore struct {
	Type   string            `pkl:"type" yaml:"type"` // "file", "s3", "secretsmanager"
	Config map[string]string `pkl:"config" yaml:"config"`
}

type Postgres struct {
	Name      string      `pkl:"name" yaml:"name"`
	Port      int         `pkl:"port" yaml:"port"`
	UserName  string      `pkl:"userName" yaml:"userName"`
	Password  string      `pkl:"password" yaml:"password"`
	Databases []*Database `pkl:"databases" yaml:"databases"`
}

type Database struct {
	Name         string `pkl:"name" yaml:"name"`
	DatabaseName string `pkl:"databaseName" yaml:"databaseName"`
}

type Zitadel struct {
	Name          string `pkl:"name" yaml:"name"`
	Tag           string `pkl:"tag" yaml:"tag"`
	Port          int    `pkl:"port" yaml:"port"`
	AdminUsername string `pkl:"adminUsername" yaml:"adminUsername"`
	AdminPassword string `pkl:"adminPassword" yaml:"adminPassword"`
	MasterKey     string `pkl:"masterKey" yaml:"masterKey"`

	// Database names a database declared under postgres.
	Database   string `pkl:"database" yaml:"database"`
	SSLMode    bool   `pkl:"sslMode" yaml:"sslMode"`
	DBPassword string `pkl:"databasePassword" yaml:"databasePassword"`

	MachineUser    string        `pkl:"machineUser" yaml:"machineUser"`
	LoginClientKey string        `pkl:"loginClientKey" yaml:"loginClientKey"`
	LoginClient    *LoginClient  `pkl:"loginClient" yaml:"loginClient"`
	HTTPS          *HTTPS        `pkl:"https" yaml:"https"`
	Organization   *Organization `pkl:"organization" yaml:"organization"`
	Projects       []*Project    `pkl:"projects" yaml:"projects"`
}

type LoginClient struct {
	Name string `pkl:"name" yaml:"name"`
	Port int    `pkl:"port" yaml:"port"`
}

// HTTPS enables TLS on the instance, either with the given files or a development
// certificate.
type HTTPS struct {
	Port           int    `pkl:"port" yaml:"port"`
	CertFile       string `pkl:"certFile" yaml:"certFile"`
	KeyFile        string `pkl:"keyFile" yaml:"keyFile"`
	DevCertificate bool   `pkl:"devCertificate" yaml:"devCertificate"`
	Destination    string `pkl:"destination" yaml:"destination"`
}

type Organization struct {
	Name string `pkl:"name" yaml:"name"`
	// Log looks the organization up once the instance is ready and logs its id.
	Log bool `pkl:"log" yaml:"log"`
}

type Project struct {
	Name                   string     `pkl:"name" yaml:"name"`
	DisplayName            string     `pkl:"displayName" yaml:"displayName"`
	ProjectRoleAssertion   bool       `pkl:"projectRoleAssertion" yaml:"projectRoleAssertion"`
	ProjectRoleCheck       bool       `pkl:"projectRoleCheck" yaml:"projectRoleCheck"`
	HasProjectCheck        bool       `pkl:"hasProjectCheck" yaml:"hasProjectCheck"`
	PrivateLabelingSetting string     `pkl:"privateLabelingSetting" yaml:"privateLabelingSetting"`
	Apps                   []*OIDCApp `pkl:"apps" yaml:"apps"`
	Roles                  []*Role    `pkl:"roles" yaml:"roles"`
}

type OIDCApp struct {
	Name                   string   `pkl:"name" yaml:"name"`
	RedirectURIs           []string `pkl:"redirectUris" yaml:"redirectUris"`
	PostLogoutRedirectURIs []string `pkl:"postLogoutRedirectUris" yaml:"postLogoutRedirectUris"`
	ResponseTypes          []string `pkl:"responseTypes" yaml:"responseTypes"`
	GrantTypes             []string `pkl:"grantTypes" yaml:"grantTypes"`
	// AppType is web, userAgent or native.
	AppType string `pkl:"appType" yaml:"appType"`
	// AuthMethod is basic, post, none or privateKeyJwt.
	AuthMethod      string `pkl:"authMethod" yaml:"authMethod"`
	AccessTokenType string `pkl:"accessTokenType" yaml:"accessTokenType"`
	DevMode         bool   `pkl:"devMode" yaml:"devMode"`
}

type Role struct {
	Key         string `pkl:"key" yaml:"key"`
	DisplayName string `pkl:"displayName" yaml:"displayName"`
	Group       string `pkl:"group" yaml:"group"`
}

// Container is a generic container. Env values of the form ref://<resource>/<path>
// are resolved against other resources when the container starts.
type Container struct {
	Name      string            `pkl:"name" yaml:"name"`
	Image     string            `pkl:"image" yaml:"image"`
	Tag       string            `pkl:"tag" yaml:"tag"`
	Args      []string          `pkl:"args" yaml:"args"`
	Endpoints []*Endpoint       `pkl:"endpoints" yaml:"endpoints"`
	Env       map[string]string `pkl:"env" yaml:"env"`
	WaitFor   []string          `pkl:"waitFor" yaml:"waitFor"`
}

type Endpoint struct {
	Name       string `pkl:"name" yaml:"name"`
	Scheme     string `pkl:"scheme" yaml:"scheme"`
	Port       int    `pkl:"port" yaml:"port"`
	TargetPort int    `pkl:"targetPort" yaml:"targetPort"`
	// HealthPath adds an HTTP health check on this endpoint.
	HealthPath string `pkl:"healthPath" yaml:"healthPath"`
}
