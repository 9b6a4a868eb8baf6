package zitadel

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

// ScopeZitadelAPI grants access to the ZITADEL APIs of the instance.
const ScopeZitadelAPI = "urn:zitadel:iam:org:project:id:zitadel:aud"

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// ServiceAccount is a machine-user key as written by ZITADEL on first instance setup.
type ServiceAccount struct {
	Type   string `json:"type"`
	KeyID  string `json:"keyId"`
	Key    string `json:"key"`
	UserID string `json:"userId"`
}

// LoadServiceAccount reads a machine-user key file.
func LoadServiceAccount(path string) (*ServiceAccount, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("machine user key path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read machine user key %s: %w", path, err)
	}
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("failed to parse machine user key %s: %w", path, err)
	}
	if sa.UserID == "" || sa.KeyID == "" || sa.Key == "" {
		return nil, fmt.Errorf("machine user key %s is incomplete", path)
	}
	return &sa, nil
}

func (sa *ServiceAccount) privateKey() (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.Key))
	if err != nil {
		return nil, fmt.Errorf("failed to parse machine user private key: %w", err)
	}
	return key, nil
}

// Assertion signs a JWT-profile assertion for audience.
func (sa *ServiceAccount) Assertion(audience string, now time.Time) (string, error) {
	key, err := sa.privateKey()
	if err != nil {
		return "", err
	}
	claims := jwt.RegisteredClaims{
		Issuer:    sa.UserID,
		Subject:   sa.UserID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = sa.KeyID
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return signed, nil
}

// JWTProfileTokenSource exchanges JWT-profile assertions signed with account for access
// tokens at issuer. Each token is reused until shortly before it expires.
func JWTProfileTokenSource(issuer string, account *ServiceAccount, client *http.Client, scopes ...string) oauth2.TokenSource {
	if len(scopes) == 0 {
		scopes = []string{"openid", ScopeZitadelAPI}
	}
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	exchange := *client
	if exchange.Timeout == 0 {
		exchange.Timeout = tokenTimeout
	}
	return oauth2.ReuseTokenSource(nil, &jwtProfileSource{
		issuer:  strings.TrimRight(issuer, "/"),
		account: account,
		client:  &exchange,
		scopes:  scopes,
		now:     time.Now,
	})
}

const tokenTimeout = 30 * time.Second

type jwtProfileSource struct {
	issuer  string
	account *ServiceAccount
	client  *http.Client
	scopes  []string
	now     func() time.Time
}

// Token implements the RFC 7523 jwt-bearer grant. The token endpoint authenticates the
// assertion, so no client credentials are sent.
func (s *jwtProfileSource) Token() (*oauth2.Token, error) {
	assertion, err := s.account.Assertion(s.issuer, s.now())
	if err != nil {
		return nil, err
	}

	cfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  s.issuer + "/oauth/v2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.client)
	token, err := cfg.Exchange(ctx, "",
		oauth2.SetAuthURLParam("grant_type", jwtBearerGrant),
		oauth2.SetAuthURLParam("assertion", assertion),
		oauth2.SetAuthURLParam("scope", strings.Join(s.scopes, " ")),
	)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	return token, nil
}
