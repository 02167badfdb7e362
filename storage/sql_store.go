package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"showtime-api/models"
	"showtime-api/utils"
)

const insertBatchSize = 50

// Dialect captures the differences between the supported SQL backends.
type Dialect struct {
	Name         string
	DriverName   string
	MaxOpenConns int
	Pragmas      []string
	dollar       bool
}

var (
	// Postgres uses lib/pq.
	Postgres = Dialect{Name: "postgres", DriverName: "postgres", dollar: true}
	// PGX uses the pgx stdlib driver against the same schema.
	PGX = Dialect{Name: "pgx", DriverName: "pgx", dollar: true}
	// SQLite uses modernc.org/sqlite. A single connection serializes writers.
	SQLite = Dialect{
		Name:         "sqlite",
		DriverName:   "sqlite",
		MaxOpenConns: 1,
		Pragmas: []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
		},
	}
)

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "", "postgres", "pq":
		return Postgres, nil
	case "pgx":
		return PGX, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("storage: unknown driver %q", name)
}

// arg returns the placeholder for the n-th (1-based) bind argument.
func (d Dialect) arg(n int) string {
	if d.dollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// captured_at is stored as unix milliseconds so both backends compare it numerically.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		city        TEXT   PRIMARY KEY,
		captured_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS movies (
		city        TEXT    NOT NULL,
		position    INTEGER NOT NULL,
		title       TEXT    NOT NULL,
		href        TEXT    NOT NULL,
		captured_at BIGINT  NOT NULL,
		UNIQUE (city, href)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_movies_city        ON movies(city)`,
	`CREATE INDEX IF NOT EXISTS idx_movies_captured_at ON movies(captured_at)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_captured_at ON snapshots(captured_at)`,
}

// SQLStore persists one snapshot per city in a SQL database.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *utils.Logger
}

// Open connects to the database, retrying the initial ping, and runs schema
// migrations.
func Open(ctx context.Context, d Dialect, dsn string, retry *utils.RetryConfig, logger *utils.Logger) (*SQLStore, error) {
	if d.Name == SQLite.Name {
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("%s: create data dir: %w", d.Name, err)
			}
		}
	}

	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.Name, err)
	}

	if retry != nil {
		err = retry.Do(ctx, d.Name+"-ping", func(ctx context.Context) error {
			return db.PingContext(ctx)
		})
	} else {
		err = db.PingContext(ctx)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", d.Name, err)
	}

	s, err := NewSQLStore(ctx, db, d, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open handle and runs schema migrations.
func NewSQLStore(ctx context.Context, db *sql.DB, d Dialect, logger *utils.Logger) (*SQLStore, error) {
	if d.MaxOpenConns > 0 {
		db.SetMaxOpenConns(d.MaxOpenConns)
	}
	for _, p := range d.Pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", d.Name, p, err)
		}
	}

	s := &SQLStore{db: db, dialect: d, logger: logger}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("%s: migrate: %w", d.Name, err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the city's snapshot when it was captured after notBefore.
// Snapshot row and movie rows come from a single statement so a concurrent
// Replace is never observed half applied.
func (s *SQLStore) Read(ctx context.Context, city string, notBefore time.Time) (*models.Snapshot, error) {
	query := fmt.Sprintf(`
		SELECT s.captured_at, m.title, m.href
		FROM snapshots s
		LEFT JOIN movies m ON m.city = s.city
		WHERE s.city = %s AND s.captured_at > %s
		ORDER BY m.position
	`, s.dialect.arg(1), s.dialect.arg(2))

	rows, err := s.db.QueryContext(ctx, query, city, notBefore.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrStoreRead, city, err)
	}
	defer rows.Close()

	var snap *models.Snapshot
	for rows.Next() {
		var (
			capturedMs  int64
			title, href sql.NullString
		)
		if err := rows.Scan(&capturedMs, &title, &href); err != nil {
			return nil, fmt.Errorf("%w: %s: scan row: %w", models.ErrStoreRead, city, err)
		}
		if snap == nil {
			snap = &models.Snapshot{
				City:       city,
				Movies:     []models.Movie{},
				CapturedAt: time.UnixMilli(capturedMs).UTC(),
			}
		}
		if href.Valid {
			snap.Movies = append(snap.Movies, models.Movie{Title: title.String, Href: href.String})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrStoreRead, city, err)
	}
	return snap, nil
}

// Replace deletes the city's movies and inserts the new set in one
// transaction. Any failure rolls back and leaves the previous snapshot intact.
func (s *SQLStore) Replace(ctx context.Context, city string, movies []models.Movie, capturedAt time.Time) error {
	if err := s.replace(ctx, city, movies, capturedAt.UnixMilli()); err != nil {
		if IsConstraintViolation(err) {
			return fmt.Errorf("%w: %s: constraint violation: %w", models.ErrStorePersist, city, err)
		}
		return fmt.Errorf("%w: %s: %w", models.ErrStorePersist, city, err)
	}
	s.logger.Debug("[%s] Replaced snapshot for %s with %d movies", s.dialect.Name, city, len(movies))
	return nil
}

func (s *SQLStore) replace(ctx context.Context, city string, movies []models.Movie, capturedMs int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	upsert := fmt.Sprintf(`
		INSERT INTO snapshots (city, captured_at) VALUES (%s, %s)
		ON CONFLICT (city) DO UPDATE SET captured_at = excluded.captured_at
	`, s.dialect.arg(1), s.dialect.arg(2))
	if _, err := tx.ExecContext(ctx, upsert, city, capturedMs); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	del := fmt.Sprintf(`DELETE FROM movies WHERE city = %s`, s.dialect.arg(1))
	if _, err := tx.ExecContext(ctx, del, city); err != nil {
		return fmt.Errorf("delete movies: %w", err)
	}

	for i := 0; i < len(movies); i += insertBatchSize {
		end := i + insertBatchSize
		if end > len(movies) {
			end = len(movies)
		}
		if err := s.insertBatch(ctx, tx, city, i, movies[i:end], capturedMs); err != nil {
			return fmt.Errorf("insert movies %d-%d: %w", i, end-1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) insertBatch(ctx context.Context, tx *sql.Tx, city string, offset int, batch []models.Movie, capturedMs int64) error {
	const cols = 5
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*cols)

	for idx, m := range batch {
		base := idx * cols
		valueStrings = append(valueStrings, fmt.Sprintf("(%s,%s,%s,%s,%s)",
			s.dialect.arg(base+1), s.dialect.arg(base+2), s.dialect.arg(base+3),
			s.dialect.arg(base+4), s.dialect.arg(base+5)))
		valueArgs = append(valueArgs, city, offset+idx, m.Title, m.Href, capturedMs)
	}

	query := fmt.Sprintf(`
		INSERT INTO movies (city, position, title, href, captured_at)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	_, err := tx.ExecContext(ctx, query, valueArgs...)
	return err
}

// Purge physically removes snapshots captured at or before cutoff. Reads
// already ignore them, so this only reclaims space.
func (s *SQLStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	ms := cutoff.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: purge: begin: %w", s.dialect.Name, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM movies WHERE city IN (SELECT city FROM snapshots WHERE captured_at <= %s)`, s.dialect.arg(1)), ms)
	if err != nil {
		return 0, fmt.Errorf("%s: purge movies: %w", s.dialect.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM snapshots WHERE captured_at <= %s`, s.dialect.arg(1)), ms); err != nil {
		return 0, fmt.Errorf("%s: purge snapshots: %w", s.dialect.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: purge: commit: %w", s.dialect.Name, err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
