// Package fixgres boots one disposable Postgres container per test binary
// and hands each test its own schema inside it.
package fixgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// SetupFunc prepares a fresh sandbox, typically by running migrations.
type SetupFunc func(ctx context.Context, db *sql.DB) error

type config struct {
	image    string
	dbName   string
	user     string
	password string
	setup    SetupFunc
}

type Option func(*config)

func WithImage(i string) Option    { return func(c *config) { c.image = i } }
func WithDBName(n string) Option   { return func(c *config) { c.dbName = n } }
func WithUser(u string) Option     { return func(c *config) { c.user = u } }
func WithPassword(p string) Option { return func(c *config) { c.password = p } }

// WithSetup runs fn against every new sandbox before the test sees it.
func WithSetup(fn SetupFunc) Option { return func(c *config) { c.setup = fn } }

var (
	mu         sync.Mutex
	pg         *postgres.PostgresContainer
	connString string
	setup      SetupFunc
)

func boot(ctx context.Context, c *config) error {
	if c.image == "" {
		c.image = "docker.io/postgres:16-alpine"
	}
	if c.dbName == "" {
		c.dbName = "parking"
	}
	if c.user == "" {
		c.user = "postgres"
	}
	if c.password == "" {
		c.password = "pass"
	}

	container, err := postgres.Run(ctx,
		c.image,
		postgres.WithDatabase(c.dbName),
		postgres.WithUsername(c.user),
		postgres.WithPassword(c.password),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	pg = container
	setup = c.setup
	connString = fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.user, c.password, host, port.Port(), c.dbName,
	)

	// Fail fast if the server accepts TCP but not queries yet.
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}

// ShutdownNow terminates the container, if one was started.
func ShutdownNow() error {
	mu.Lock()
	defer mu.Unlock()
	if pg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := pg.Terminate(ctx)
	pg = nil
	return err
}
