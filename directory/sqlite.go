package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema. Parent directories are created.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	logger = logger.With().Str("component", "directory").Logger()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("client directory opened")
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT,
			api_key_digest TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			rate_limit INTEGER,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_clients_api_key_digest
			ON clients(api_key_digest);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_clients_email
			ON clients(email);
	`
	_, err := s.db.Exec(schema)
	return err
}

const clientColumns = `id, name, email, api_key_digest, active, rate_limit, created_at, updated_at`

func (s *SQLiteStore) LookupActive(ctx context.Context, apiKey string) (*Client, error) {
	return s.queryOne(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE api_key_digest = ? AND active = 1`,
		Digest(apiKey))
}

func (s *SQLiteStore) LookupActiveByEmail(ctx context.Context, email string) (*Client, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	return s.queryOne(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE email = ? AND active = 1`,
		email)
}

func (s *SQLiteStore) FindByEmail(ctx context.Context, email string) (*Client, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	return s.queryOne(ctx, `SELECT `+clientColumns+` FROM clients WHERE email = ?`, email)
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	defer rows.Close()

	var out []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Upsert(ctx context.Context, c *Client, apiKey string) (*Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(time.RFC3339Nano)
	var rateLimit sql.NullInt64
	if c.RateLimit != nil {
		rateLimit = sql.NullInt64{Int64: int64(*c.RateLimit), Valid: true}
	}

	var id int64
	found := false
	if c.Email != "" {
		err := tx.QueryRowContext(ctx, `SELECT id FROM clients WHERE email = ?`, c.Email).Scan(&id)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("finding client: %w", err)
		}
	}

	switch {
	case found && apiKey == "":
		_, err = tx.ExecContext(ctx,
			`UPDATE clients SET name = ?, active = ?, rate_limit = ?, updated_at = ? WHERE id = ?`,
			c.Name, c.Active, rateLimit, now, id)
	case found:
		_, err = tx.ExecContext(ctx,
			`UPDATE clients SET name = ?, active = ?, rate_limit = ?, api_key_digest = ?, updated_at = ? WHERE id = ?`,
			c.Name, c.Active, rateLimit, Digest(apiKey), now, id)
	case apiKey == "":
		return nil, ErrKeyRequired
	default:
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			`INSERT INTO clients (name, email, api_key_digest, active, rate_limit, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.Name, nullString(c.Email), Digest(apiKey), c.Active, rateLimit, now, now)
		if err == nil {
			id, err = res.LastInsertId()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("saving client: %w", err)
	}

	saved, err := scanClient(tx.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing client: %w", err)
	}
	return saved, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (*Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*Client, error) {
	var (
		c                    Client
		email                sql.NullString
		rateLimit            sql.NullInt64
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.ID, &c.Name, &email, &c.KeyDigest, &c.Active, &rateLimit, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning client: %w", err)
	}
	c.Email = email.String
	if rateLimit.Valid {
		rl := int(rateLimit.Int64)
		c.RateLimit = &rl
	}
	var err error
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*SQLiteStore)(nil)
