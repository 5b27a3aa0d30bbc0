package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/facegate/internal/embedding"
	"github.com/andresmejia3/facegate/internal/registry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

var (
	ErrNotFound   = errors.New("identity not found")
	ErrLabelTaken = errors.New("label already in use")
)

// uniqueViolation is the SQLSTATE for a primary key collision.
const uniqueViolation = "23505"

// Identity is an enrolled label as listed by the store.
type Identity struct {
	Label     string
	Dim       int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store manages the PostgreSQL connection and pgvector operations.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the identities table and vector extension if they don't exist (Auto-Migration).
// The vector column is unsized so models with different embedding sizes can share a database;
// the matcher skips entries whose size does not match the probe.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identities (
			label TEXT PRIMARY KEY,
			embedding VECTOR NOT NULL,
			dim INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// SaveIdentity inserts a label or overwrites its embedding.
func (s *Store) SaveIdentity(ctx context.Context, label string, vec embedding.Vector) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO identities (label, embedding, dim)
		VALUES ($1, $2, $3)
		ON CONFLICT (label) DO UPDATE
		SET embedding = EXCLUDED.embedding, dim = EXCLUDED.dim, updated_at = NOW()
	`, label, pgvector.NewVector(vec), vec.Dim())
	return err
}

// DeleteIdentity removes a label and reports whether it existed.
func (s *Store) DeleteIdentity(ctx context.Context, label string) (bool, error) {
	tag, err := s.conn.Exec(ctx, "DELETE FROM identities WHERE label = $1", label)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RenameIdentity moves an embedding to a new label.
func (s *Store) RenameIdentity(ctx context.Context, oldLabel, newLabel string) error {
	tag, err := s.conn.Exec(ctx,
		"UPDATE identities SET label = $1, updated_at = NOW() WHERE label = $2",
		newLabel, oldLabel)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrLabelTaken, newLabel)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, oldLabel)
	}
	return nil
}

// LoadIdentities returns every stored embedding, ready for registry.Replace.
func (s *Store) LoadIdentities(ctx context.Context) ([]registry.Record, error) {
	rows, err := s.conn.Query(ctx, "SELECT label, embedding FROM identities ORDER BY label")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []registry.Record
	for rows.Next() {
		var (
			label string
			vec   pgvector.Vector
		)
		if err := rows.Scan(&label, &vec); err != nil {
			return nil, err
		}
		records = append(records, registry.Record{Label: label, Embedding: embedding.Vector(vec.Slice())})
	}
	return records, rows.Err()
}

// ListIdentities returns the enrolled labels without their embeddings.
func (s *Store) ListIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := s.conn.Query(ctx, "SELECT label, dim, created_at, updated_at FROM identities ORDER BY label")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var identities []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.Label, &id.Dim, &id.CreatedAt, &id.UpdatedAt); err != nil {
			return nil, err
		}
		identities = append(identities, id)
	}
	return identities, rows.Err()
}

// Reset drops the identities table and recreates it empty.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, "DROP TABLE IF EXISTS identities CASCADE"); err != nil {
		return err
	}
	return initSchema(ctx, s.conn)
}
