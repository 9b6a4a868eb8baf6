package zitadeltest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/picklr-io/zitadelhost/internal/errdefs"
	"github.com/picklr-io/zitadelhost/internal/zitadel"
)

// AccessToken is the token the Server hands out and accepts.
const AccessToken = "test-access-token"

// Server exposes a Fake over the REST gateway paths used by zitadel.Client.
type Server struct {
	*httptest.Server
	Fake *Fake

	mu      sync.Mutex
	orgIDs  []string
	grants  []string
	scopes  []string
	tokenOK bool
}

// NewServer starts a TLS-less test server backed by fake.
func NewServer(fake *Fake) *Server {
	s := &Server{Fake: fake, tokenOK: true}
	s.Server = httptest.NewServer(s.routes())
	return s
}

// RejectTokens makes the token endpoint refuse every assertion.
func (s *Server) RejectTokens() {
	s.mu.Lock()
	s.tokenOK = false
	s.mu.Unlock()
}

// Scopes returns the scope parameters seen by the token endpoint.
func (s *Server) Scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scopes...)
}

// OrgHeaders returns the x-zitadel-orgid values seen so far.
func (s *Server) OrgHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.orgIDs...)
}

// Grants returns the grant types seen by the token endpoint.
func (s *Server) Grants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.grants...)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/oauth/v2/token", s.token)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v2/organizations/_search", s.listOrganizations)
		r.Post("/management/v1/projects", s.addProject)
		r.Post("/management/v1/projects/_search", s.listProjects)
		r.Post("/management/v1/projects/{projectID}/apps/_search", s.listApps)
		r.Post("/management/v1/projects/{projectID}/apps/oidc", s.addOIDCApp)
		r.Post("/management/v1/projects/{projectID}/roles/_search", s.listRoles)
		r.Post("/management/v1/projects/{projectID}/roles", s.addRole)
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+AccessToken {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		if org := r.Header.Get("x-zitadel-orgid"); org != "" {
			s.mu.Lock()
			s.orgIDs = append(s.orgIDs, org)
			s.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	s.grants = append(s.grants, r.PostForm.Get("grant_type"))
	s.scopes = append(s.scopes, r.PostForm.Get("scope"))
	ok := s.tokenOK
	s.mu.Unlock()

	if !ok || r.PostForm.Get("assertion") == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "assertion rejected",
		})
		return
	}
	writeJSON(w, map[string]any{
		"access_token": AccessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

type textQuery struct {
	Name   string                  `json:"name"`
	Key    string                  `json:"key"`
	Method zitadel.TextQueryMethod `json:"method"`
}

type searchBody struct {
	Queries []struct {
		NameQuery *textQuery `json:"nameQuery"`
		KeyQuery  *textQuery `json:"keyQuery"`
	} `json:"queries"`
}

func (b searchBody) name() *zitadel.TextQuery {
	for _, q := range b.Queries {
		if q.NameQuery != nil {
			return &zitadel.TextQuery{Value: q.NameQuery.Name, Method: q.NameQuery.Method}
		}
	}
	return nil
}

func (b searchBody) key() *zitadel.TextQuery {
	for _, q := range b.Queries {
		if q.KeyQuery != nil {
			return &zitadel.TextQuery{Value: q.KeyQuery.Key, Method: q.KeyQuery.Method}
		}
	}
	return nil
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if !decode(w, r, &body) {
		return
	}
	orgs, err := s.Fake.ListOrganizations(r.Context(), zitadel.ListOrganizationsRequest{Name: body.name()})
	respond(w, map[string]any{"result": orgs}, err)
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if !decode(w, r, &body) {
		return
	}
	projects, err := s.Fake.ListProjects(r.Context(), zitadel.ListProjectsRequest{Name: body.name()})
	respond(w, map[string]any{"result": projects}, err)
}

func (s *Server) addProject(w http.ResponseWriter, r *http.Request) {
	var req zitadel.AddProjectRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "project name is required")
		return
	}
	id, err := s.Fake.AddProject(r.Context(), req)
	respond(w, map[string]any{"id": id}, err)
}

func (s *Server) listApps(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if !decode(w, r, &body) {
		return
	}
	apps, err := s.Fake.ListApps(r.Context(), zitadel.ListAppsRequest{
		ProjectID: chi.URLParam(r, "projectID"),
		Name:      body.name(),
	})
	respond(w, map[string]any{"result": apps}, err)
}

func (s *Server) addOIDCApp(w http.ResponseWriter, r *http.Request) {
	var req zitadel.AddOIDCAppRequest
	if !decode(w, r, &req) {
		return
	}
	req.ProjectID = chi.URLParam(r, "projectID")
	resp, err := s.Fake.AddOIDCApp(r.Context(), req)
	respond(w, resp, err)
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if !decode(w, r, &body) {
		return
	}
	roles, err := s.Fake.ListProjectRoles(r.Context(), zitadel.ListProjectRolesRequest{
		ProjectID: chi.URLParam(r, "projectID"),
		Key:       body.key(),
	})
	respond(w, map[string]any{"result": roles}, err)
}

func (s *Server) addRole(w http.ResponseWriter, r *http.Request) {
	var req zitadel.AddProjectRoleRequest
	if !decode(w, r, &req) {
		return
	}
	req.ProjectID = chi.URLParam(r, "projectID")
	err := s.Fake.AddProjectRole(r.Context(), req)
	respond(w, map[string]any{}, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func respond(w http.ResponseWriter, v any, err error) {
	if err == nil {
		writeJSON(w, v)
		return
	}
	status := http.StatusInternalServerError
	var perr *errdefs.ProvisioningError
	if errors.As(err, &perr) && perr.StatusCode != 0 {
		status = perr.StatusCode
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": status, "message": msg})
}
