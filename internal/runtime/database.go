package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/picklr-io/zitadelhost/internal/connstr"
	"github.com/picklr-io/zitadelhost/internal/resource"
)

// PostgresDatabases creates databases through the admin connection of their server.
type PostgresDatabases struct {
	Poll *PollPolicy
}

var _ DatabaseCreator = PostgresDatabases{}

// EnsureDatabase creates db unless it already exists. The server is reached from the host.
func (p PostgresDatabases) EnsureDatabase(ctx context.Context, db *resource.PostgresDatabase) error {
	ec := resource.ExecutionContext{Mode: resource.ModeRun}
	conn, err := resource.Render(ctx, ec, db.Server().ConnectionStringExpression())
	if err != nil {
		return fmt.Errorf("resolve server connection: %w", err)
	}
	dsn, err := connstr.PostgresURL(conn, "postgres")
	if err != nil {
		return err
	}

	// The server may accept TCP before it accepts logins.
	var pg *pgx.Conn
	err = PollUntil(ctx, p.Poll, func(ctx context.Context) error {
		c, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		pg = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", db.Server().Name(), err)
	}
	defer pg.Close(context.Background())

	var one int
	err = pg.QueryRow(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", db.DatabaseName).Scan(&one)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("look up database %s: %w", db.DatabaseName, err)
	}

	if _, err := pg.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{db.DatabaseName}.Sanitize()); err != nil {
		return fmt.Errorf("create database %s: %w", db.DatabaseName, err)
	}
	return nil
}
