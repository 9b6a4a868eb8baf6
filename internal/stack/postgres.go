package stack

import (
	"fmt"

	"github.com/picklr-io/zitadelhost/internal/health"
	"github.com/picklr-io/zitadelhost/internal/resource"
)

// PostgresBuilder configures a Postgres server.
type PostgresBuilder struct {
	b      *Builder
	server *resource.PostgresServer
}

// AddPostgres declares a Postgres server. Nil parameters get defaults: the user name is
// postgres and the password is generated.
func (b *Builder) AddPostgres(name string, port int, userName, password *resource.Parameter) (*PostgresBuilder, error) {
	if name == "" {
		return nil, fmt.Errorf("postgres name is empty")
	}
	server := resource.NewPostgresServer(name, userName, password, port)
	server.WithHealthCheck(health.PostgresCheck{Resource: server})

	if err := b.track(server.UserName); err != nil {
		return nil, err
	}
	if err := b.track(server.Password); err != nil {
		return nil, err
	}
	if err := b.add(server); err != nil {
		return nil, err
	}
	return &PostgresBuilder{b: b, server: server}, nil
}

func (p *PostgresBuilder) Resource() *resource.PostgresServer { return p.server }

// AddDatabase declares a database on the server. It is created when the server is ready.
func (p *PostgresBuilder) AddDatabase(name, databaseName string) (*resource.PostgresDatabase, error) {
	db := p.server.AddDatabase(name, databaseName)
	if err := p.b.add(db); err != nil {
		return nil, err
	}
	return db, nil
}
