package resource

const (
	PostgresImage = "docker.io/library/postgres"
	PostgresTag   = "17.4"
	postgresPort  = 5432
)

// PostgresServer is a Postgres container.
type PostgresServer struct {
	*Container
	UserName *Parameter
	Password *Parameter

	databases []*PostgresDatabase
}

// NewPostgresServer declares a Postgres server. A nil password is generated.
func NewPostgresServer(name string, userName, password *Parameter, port int) *PostgresServer {
	if userName == nil {
		userName = NewParameter(name+"-username", "postgres", false)
	}
	if password == nil {
		password = GeneratedParameter(name+"-password", DefaultPasswordLength)
	}

	c := NewContainer(name, PostgresImage, PostgresTag)
	_ = c.AddEndpoint(&Endpoint{Name: "tcp", Scheme: "tcp", Port: port, TargetPort: postgresPort})
	c.SetEnv("POSTGRES_USER", userName)
	c.SetEnv("POSTGRES_PASSWORD", password)
	c.SetEnvLiteral("POSTGRES_HOST_AUTH_METHOD", "scram-sha-256")
	c.SetEnvLiteral("POSTGRES_INITDB_ARGS", "--auth-host=scram-sha-256 --auth-local=scram-sha-256")

	return &PostgresServer{Container: c, UserName: userName, Password: password}
}

// ConnectionStringExpression is Host=...;Port=...;Username=...;Password=... as seen from the host.
// Values containing ; or quotes are rendered quoted.
func (s *PostgresServer) ConnectionStringExpression() *ReferenceExpression {
	ep := s.GetEndpoint("tcp")
	return ConnectionStringExpr("Host={0};Port={1};Username={2};Password={3}", ep.Host(), ep.Port(), s.UserName, s.Password)
}

// AddDatabase declares a database on s.
func (s *PostgresServer) AddDatabase(name, databaseName string) *PostgresDatabase {
	if databaseName == "" {
		databaseName = name
	}
	db := &PostgresDatabase{name: name, DatabaseName: databaseName, server: s}
	s.databases = append(s.databases, db)
	return db
}

func (s *PostgresServer) Databases() []*PostgresDatabase { return s.databases }

// PostgresDatabase is a logical database on a PostgresServer.
type PostgresDatabase struct {
	name         string
	DatabaseName string
	server       *PostgresServer
}

func (d *PostgresDatabase) Name() string            { return d.name }
func (d *PostgresDatabase) Parent() Resource        { return d.server }
func (d *PostgresDatabase) Server() *PostgresServer { return d.server }
func (d *PostgresDatabase) Waits() []Resource       { return []Resource{d.server} }

func (d *PostgresDatabase) ConnectionStringExpression() *ReferenceExpression {
	return Expr("{0};Database={1}", d.server.ConnectionStringExpression(), Literal(d.DatabaseName))
}
