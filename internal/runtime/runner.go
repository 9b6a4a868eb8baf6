package runtime

import (
	"context"

	"github.com/picklr-io/zitadelhost/internal/resource"
)

// PortBinding publishes ContainerPort on HostPort of the host.
type PortBinding struct {
	HostPort      int
	ContainerPort int
}

// ContainerSpec describes one container to run.
type ContainerSpec struct {
	Name    string
	Image   string
	Args    []string
	Env     map[string]string
	Ports   []PortBinding
	Mounts  []resource.Mount
	Network string
	Aliases []string
	Labels  map[string]string
}

// ContainerRunner runs containers on a single network.
type ContainerRunner interface {
	CreateNetwork(ctx context.Context, name string) error
	RemoveNetwork(ctx context.Context, name string) error
	Run(ctx context.Context, spec ContainerSpec) (string, error)
	Stop(ctx context.Context, name string) error
}

// DatabaseCreator creates a database on its server if it does not exist yet.
type DatabaseCreator interface {
	EnsureDatabase(ctx context.Context, db *resource.PostgresDatabase) error
}
