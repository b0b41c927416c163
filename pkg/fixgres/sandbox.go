package fixgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

// Sandbox is a schema private to one test. DB has that schema first on its
// search_path.
type Sandbox struct {
	DB     *sql.DB
	DSN    string
	Schema string
	Close  func()
}

var (
	bootOnce sync.Once
	booted   bool
	bootErr  error
)

// BootOnce starts the shared container. Tests are skipped, not failed,
// when no container provider is available.
func BootOnce(t *testing.T, opts ...Option) {
	t.Helper()
	if testing.Short() {
		t.Skip("fixgres: skipping container tests in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	bootOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
		defer cancel()

		cfg := &config{}
		for _, o := range opts {
			o(cfg)
		}
		bootErr = boot(ctx, cfg)
		booted = bootErr == nil
	})
	if bootErr != nil {
		t.Fatalf("fixgres boot failed: %v", bootErr)
	}
}

func NewSandbox(t *testing.T) *Sandbox {
	t.Helper()
	if !booted {
		t.Fatalf("fixgres not booted. Call fixgres.BootOnce(...) first.")
	}

	mu.Lock()
	base, fn := connString, setup
	mu.Unlock()

	admin, err := sql.Open("pgx", base)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := fmt.Sprintf("t_%x", time.Now().UnixNano())
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA "`+schema+`"`); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	dsn := withSearchPath(base, schema)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}

	sbx := &Sandbox{DB: db, DSN: dsn, Schema: schema}
	sbx.Close = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.ExecContext(ctx, `DROP SCHEMA IF EXISTS "`+schema+`" CASCADE`)
		_ = db.Close()
		_ = admin.Close()
	}
	t.Cleanup(sbx.Close)

	if fn != nil {
		if err := fn(ctx, db); err != nil {
			t.Fatalf("sandbox setup: %v", err)
		}
	}
	return sbx
}

func withSearchPath(base, schema string) string {
	u, _ := url.Parse(base)
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String()
}
