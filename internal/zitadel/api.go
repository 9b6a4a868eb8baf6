// Package zitadel is a small client for the ZITADEL administrative API.
//
// Only the calls the provisioning pipeline needs are implemented. They are reached over
// the REST gateway that every ZITADEL instance exposes next to its gRPC services.
package zitadel

import "context"

// TextQueryMethod selects how a name or key filter is matched.
type TextQueryMethod string

const (
	TextQueryMethodEquals           TextQueryMethod = "TEXT_QUERY_METHOD_EQUALS"
	TextQueryMethodEqualsIgnoreCase TextQueryMethod = "TEXT_QUERY_METHOD_EQUALS_IGNORE_CASE"
	TextQueryMethodContains         TextQueryMethod = "TEXT_QUERY_METHOD_CONTAINS"
)

// TextQuery is a single text filter.
type TextQuery struct {
	Value  string
	Method TextQueryMethod
}

// Equals is an exact-match filter on value.
func Equals(value string) *TextQuery {
	return &TextQuery{Value: value, Method: TextQueryMethodEquals}
}

type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ListOrganizationsRequest struct {
	Name *TextQuery
}

type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ListProjectsRequest struct {
	Name *TextQuery
}

// AddProjectRequest carries the attributes of a new project.
type AddProjectRequest struct {
	Name                   string `json:"name" yaml:"name" pkl:"name"`
	ProjectRoleAssertion   bool   `json:"projectRoleAssertion,omitempty" yaml:"projectRoleAssertion" pkl:"projectRoleAssertion"`
	ProjectRoleCheck       bool   `json:"projectRoleCheck,omitempty" yaml:"projectRoleCheck" pkl:"projectRoleCheck"`
	HasProjectCheck        bool   `json:"hasProjectCheck,omitempty" yaml:"hasProjectCheck" pkl:"hasProjectCheck"`
	PrivateLabelingSetting string `json:"privateLabelingSetting,omitempty" yaml:"privateLabelingSetting" pkl:"privateLabelingSetting"`
}

type OIDCConfig struct {
	ClientID string `json:"clientId"`
}

type App struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	OIDCConfig *OIDCConfig `json:"oidcConfig,omitempty"`
}

type ListAppsRequest struct {
	ProjectID string
	Name      *TextQuery
}

type OIDCAppType string

const (
	OIDCAppTypeWeb       OIDCAppType = "OIDC_APP_TYPE_WEB"
	OIDCAppTypeUserAgent OIDCAppType = "OIDC_APP_TYPE_USER_AGENT"
	OIDCAppTypeNative    OIDCAppType = "OIDC_APP_TYPE_NATIVE"
)

type OIDCAuthMethodType string

const (
	OIDCAuthMethodBasic         OIDCAuthMethodType = "OIDC_AUTH_METHOD_TYPE_BASIC"
	OIDCAuthMethodPost          OIDCAuthMethodType = "OIDC_AUTH_METHOD_TYPE_POST"
	OIDCAuthMethodNone          OIDCAuthMethodType = "OIDC_AUTH_METHOD_TYPE_NONE"
	OIDCAuthMethodPrivateKeyJWT OIDCAuthMethodType = "OIDC_AUTH_METHOD_TYPE_PRIVATE_KEY_JWT"
)

type OIDCTokenType string

const (
	OIDCTokenTypeBearer OIDCTokenType = "OIDC_TOKEN_TYPE_BEARER"
	OIDCTokenTypeJWT    OIDCTokenType = "OIDC_TOKEN_TYPE_JWT"
)

type AddOIDCAppRequest struct {
	ProjectID              string             `json:"-"`
	Name                   string             `json:"name"`
	RedirectURIs           []string           `json:"redirectUris,omitempty"`
	PostLogoutRedirectURIs []string           `json:"postLogoutRedirectUris,omitempty"`
	ResponseTypes          []string           `json:"responseTypes,omitempty"`
	GrantTypes             []string           `json:"grantTypes,omitempty"`
	AppType                OIDCAppType        `json:"appType,omitempty"`
	AuthMethodType         OIDCAuthMethodType `json:"authMethodType,omitempty"`
	AccessTokenType        OIDCTokenType      `json:"accessTokenType,omitempty"`
	DevMode                bool               `json:"devMode,omitempty"`
}

type AddOIDCAppResponse struct {
	AppID        string `json:"appId"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type Role struct {
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
	Group       string `json:"group"`
}

type ListProjectRolesRequest struct {
	ProjectID string
	Key       *TextQuery
}

type AddProjectRoleRequest struct {
	ProjectID   string `json:"-"`
	RoleKey     string `json:"roleKey"`
	DisplayName string `json:"displayName"`
	Group       string `json:"group,omitempty"`
}

// AdminAPI is the subset of the administrative API used for provisioning.
type AdminAPI interface {
	ListOrganizations(ctx context.Context, req ListOrganizationsRequest) ([]Organization, error)
	ListProjects(ctx context.Context, req ListProjectsRequest) ([]Project, error)
	AddProject(ctx context.Context, req AddProjectRequest) (string, error)
	ListApps(ctx context.Context, req ListAppsRequest) ([]App, error)
	AddOIDCApp(ctx context.Context, req AddOIDCAppRequest) (AddOIDCAppResponse, error)
	ListProjectRoles(ctx context.Context, req ListProjectRolesRequest) ([]Role, error)
	AddProjectRole(ctx context.Context, req AddProjectRoleRequest) error
}
