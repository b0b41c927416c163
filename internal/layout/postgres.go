package layout

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Database/sql driver names accepted by OpenDB.
const (
	DriverPgx = "pgx"      // jackc/pgx stdlib
	DriverPq  = "postgres" // lib/pq
)

// OpenDB opens and pings a Postgres handle with the given driver.
func OpenDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverPgx, DriverPq:
	default:
		return nil, fmt.Errorf("unknown postgres driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate brings the layout tables up to date.
func Migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate layouts: %w", err)
	}
	return nil
}

// PostgresStore keeps one row per space. Write replaces every row in one
// transaction, so readers of the table never see half a save.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore expects Migrate to have run against db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context) (map[string]Document, error) {
	var initialized bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM layout_store_meta WHERE id = 1)`,
	).Scan(&initialized)
	if err != nil {
		return nil, fmt.Errorf("read store marker: %w", err)
	}
	if !initialized {
		return nil, ErrStoreNotExist
	}

	rows, err := s.db.QueryContext(ctx, `SELECT space_id, document FROM layouts ORDER BY space_id`)
	if err != nil {
		return nil, fmt.Errorf("query layouts: %w", err)
	}
	defer rows.Close()

	docs := map[string]Document{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan layout: %w", err)
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode layout %q: %w", id, err)
		}
		docs[id] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate layouts: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) Write(ctx context.Context, docs map[string]Document) error {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM layouts`); err != nil {
		return fmt.Errorf("clear layouts: %w", err)
	}
	for _, id := range ids {
		data, err := json.Marshal(docs[id])
		if err != nil {
			return fmt.Errorf("encode layout %q: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO layouts (space_id, document) VALUES ($1, $2::jsonb)`,
			id, string(data),
		); err != nil {
			return fmt.Errorf("insert layout %q: %w", id, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO layout_store_meta (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	); err != nil {
		return fmt.Errorf("mark store: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
