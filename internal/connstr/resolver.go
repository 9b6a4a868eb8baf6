// Package connstr resolves how a container reaches a dependent data store.
package connstr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/picklr-io/zitadelhost/internal/errdefs"
	"github.com/picklr-io/zitadelhost/internal/resource"
)

// serverEndpoint is the endpoint name data-store containers expose.
const serverEndpoint = "tcp"

// Descriptor is how to reach a database and administer it.
type Descriptor struct {
	Host          string
	Port          string
	Database      string
	AdminUser     string
	AdminPassword string
}

// Resolve builds the Descriptor of db for a container that runs next to it.
//
// In run mode, when the server is a container, the server's resource name and the target
// port of its tcp endpoint are used: the caller shares the container network and the
// published host port is not reachable from there. Otherwise host and port are the first
// two value parts of the server's connection expression. Admin user and password are value
// parts three and four, and the database name comes from the Database key of the rendered
// connection string.
func Resolve(ctx context.Context, ec resource.ExecutionContext, db resource.ConnectionStringResource) (Descriptor, error) {
	server := serverOf(db)

	parts := server.ConnectionStringExpression().ValueProviders()
	if len(parts) < 4 {
		return Descriptor{}, errdefs.Configuration(db.Name(), "unsupported connection string shape: expected host, port, user and password parts", nil)
	}

	conn, err := resource.Render(ctx, ec, db.ConnectionStringExpression())
	if err != nil {
		return Descriptor{}, errdefs.Configuration(db.Name(), "failed to resolve connection string", err)
	}
	database, err := Database(conn)
	if err != nil {
		return Descriptor{}, errdefs.Configuration(db.Name(), err.Error(), nil)
	}

	var d Descriptor
	d.Database = database

	container, isContainer := server.(resource.ContainerResource)
	if ec.IsRunMode() && isContainer {
		target, err := resource.Render(ctx, ec, container.AsContainer().GetEndpoint(serverEndpoint).Property(resource.PropertyTargetPort))
		if err != nil {
			return Descriptor{}, errdefs.Configuration(db.Name(), "failed to resolve server endpoint", err)
		}
		d.Host = server.Name()
		d.Port = target
	} else {
		if d.Host, err = render(ctx, ec, db, parts[0], "host"); err != nil {
			return Descriptor{}, err
		}
		if d.Port, err = render(ctx, ec, db, parts[1], "port"); err != nil {
			return Descriptor{}, err
		}
	}

	if d.AdminUser, err = render(ctx, ec, db, parts[2], "admin user"); err != nil {
		return Descriptor{}, err
	}
	if d.AdminPassword, err = render(ctx, ec, db, parts[3], "admin password"); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// EnvironmentCallback resolves db when the environment is materialized and hands the
// Descriptor to apply.
func EnvironmentCallback(db resource.ConnectionStringResource, apply func(env *resource.EnvironmentContext, d Descriptor)) resource.EnvironmentCallback {
	return func(ctx context.Context, env *resource.EnvironmentContext) error {
		d, err := Resolve(ctx, env.Execution, db)
		if err != nil {
			return err
		}
		apply(env, d)
		return nil
	}
}

func render(ctx context.Context, ec resource.ExecutionContext, db resource.Resource, v resource.ValueProvider, what string) (string, error) {
	s, err := resource.Render(ctx, ec, v)
	if err != nil {
		return "", errdefs.Configuration(db.Name(), "failed to resolve "+what, err)
	}
	return s, nil
}

// serverOf returns the parent of db when the parent carries a connection string.
func serverOf(db resource.ConnectionStringResource) resource.ConnectionStringResource {
	if child, ok := db.(resource.ResourceWithParent); ok {
		if parent, ok := child.Parent().(resource.ConnectionStringResource); ok {
			return parent
		}
	}
	return db
}

// Database returns the value of the Database key in a Key=Value;Key=Value string. Keys
// are case-insensitive.
func Database(conn string) (string, error) {
	v, ok := Lookup(conn, "Database")
	if !ok || v == "" {
		return "", errMissingDatabase
	}
	return v, nil
}

// Lookup returns the value of key in conn. It reports false when key is absent or conn
// cannot be parsed.
func Lookup(conn, key string) (string, bool) {
	pairs, err := Parse(conn)
	if err != nil {
		return "", false
	}
	return pairs.Get(key)
}

var errMissingDatabase = errors.New("connection string has no Database key")

// Pairs are the Key=Value entries of a connection string in the order they appear.
type Pairs []Pair

type Pair struct {
	Key   string
	Value string
}

// Get returns the value of the first entry whose key matches key case-insensitively.
func (p Pairs) Get(key string) (string, bool) {
	for _, kv := range p {
		if strings.EqualFold(kv.Key, key) {
			return kv.Value, true
		}
	}
	return "", false
}

// Parse splits a Key=Value;Key=Value connection string.
//
// A value wrapped in double or single quotes may contain ; and = and keeps its inner
// whitespace. Inside quotes the quote character is written twice. Unquoted values are
// trimmed. Segments without = are skipped.
func Parse(conn string) (Pairs, error) {
	var out Pairs
	rest := conn
	for rest != "" {
		i := strings.IndexAny(rest, "=;")
		if i < 0 {
			break
		}
		if rest[i] == ';' {
			rest = rest[i+1:]
			continue
		}
		key := strings.TrimSpace(rest[:i])
		rest = strings.TrimLeft(rest[i+1:], " \t")

		var value string
		if rest != "" && (rest[0] == '"' || rest[0] == '\'') {
			var err error
			if value, rest, err = unquote(rest); err != nil {
				return nil, fmt.Errorf("value of %s: %w", key, err)
			}
			rest = strings.TrimLeft(rest, " \t")
			if rest != "" && rest[0] != ';' {
				return nil, fmt.Errorf("value of %s: unexpected text after closing quote", key)
			}
		} else {
			end := strings.IndexByte(rest, ';')
			if end < 0 {
				end = len(rest)
			}
			value = strings.TrimSpace(rest[:end])
			rest = rest[end:]
		}
		out = append(out, Pair{Key: key, Value: value})
		rest = strings.TrimPrefix(rest, ";")
	}
	return out, nil
}

// unquote reads the quoted value at the start of s and returns it with the remainder.
func unquote(s string) (string, string, error) {
	q := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != q {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			b.WriteByte(q)
			i++
			continue
		}
		return b.String(), s[i+1:], nil
	}
	return "", "", errUnterminatedQuote
}

var errUnterminatedQuote = errors.New("unterminated quote")

// PostgresURL converts a Host=...;Port=...;Username=...;Password=... connection string
// into a postgres:// URL. database overrides the Database key when set.
func PostgresURL(conn, database string) (string, error) {
	pairs, err := Parse(conn)
	if err != nil {
		return "", fmt.Errorf("failed to parse connection string: %w", err)
	}
	host, ok := pairs.Get("Host")
	if !ok || host == "" {
		return "", fmt.Errorf("connection string has no Host key")
	}
	port, ok := pairs.Get("Port")
	if !ok || port == "" {
		port = "5432"
	}
	if database == "" {
		database, _ = pairs.Get("Database")
	}
	if database == "" {
		database = "postgres"
	}
	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + database,
		RawQuery: "sslmode=disable",
	}
	user, _ := pairs.Get("Username")
	password, hasPassword := pairs.Get("Password")
	switch {
	case user != "" && hasPassword:
		u.User = url.UserPassword(user, password)
	case user != "":
		u.User = url.User(user)
	}
	return u.String(), nil
}
