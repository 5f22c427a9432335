package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"

	"sos/internal/registry/models"
	"sos/pkg/domain"
	"sos/pkg/platform/sentinel"
	txcontext "sos/pkg/platform/tx"
)

// Store persists registry entries in the registry_entries table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// RunInTx runs fn in one database transaction. Registry reads and writes made
// with its context, and outbox appends sharing the database, commit together.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.RunInSQLTx(ctx, s.db, fn)
}

func (s *Store) conn(ctx context.Context) txcontext.Conn {
	return txcontext.ConnFrom(ctx, s.db)
}

func (s *Store) Find(ctx context.Context, name domain.Name) (common.Address, error) {
	var addr string
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT address FROM registry_entries WHERE name = $1`, name[:]).Scan(&addr)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Address{}, sentinel.ErrNotFound
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("find registry entry: %w", err)
	}
	return common.HexToAddress(addr), nil
}

func (s *Store) FindMany(ctx context.Context, names []domain.Name) ([]common.Address, error) {
	out := make([]common.Address, len(names))
	if len(names) == 0 {
		return out, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT name, address FROM registry_entries WHERE name = ANY($1)`, nameKeys(names))
	if err != nil {
		return nil, fmt.Errorf("find registry entries: %w", err)
	}
	defer rows.Close()

	found := make(map[domain.Name]common.Address, len(names))
	for rows.Next() {
		var (
			raw  []byte
			addr string
		)
		if err := rows.Scan(&raw, &addr); err != nil {
			return nil, fmt.Errorf("scan registry entry: %w", err)
		}
		var n domain.Name
		copy(n[:], raw)
		found[n] = common.HexToAddress(addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry entries: %w", err)
	}
	for i, n := range names {
		out[i] = found[n]
	}
	return out, nil
}

// Save upserts the batch in a single transaction, joining one already in ctx.
func (s *Store) Save(ctx context.Context, entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		stmt, err := s.conn(ctx).PrepareContext(ctx, `
			INSERT INTO registry_entries (name, address, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (name) DO UPDATE
			SET address = EXCLUDED.address, updated_at = EXCLUDED.updated_at`)
		if err != nil {
			return fmt.Errorf("prepare registry upsert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.Name[:], e.Address.Hex()); err != nil {
				return fmt.Errorf("upsert registry entry %s: %w", e.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save registry entries: %w", err)
	}
	return nil
}

// Delete removes names. Unmapped names are ignored.
func (s *Store) Delete(ctx context.Context, names []domain.Name) error {
	if len(names) == 0 {
		return nil
	}
	_, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM registry_entries WHERE name = ANY($1)`, nameKeys(names))
	if err != nil {
		return fmt.Errorf("delete registry entries: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]models.Entry, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT name, address FROM registry_entries ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		var (
			raw  []byte
			addr string
			e    models.Entry
		)
		if err := rows.Scan(&raw, &addr); err != nil {
			return nil, fmt.Errorf("scan registry entry: %w", err)
		}
		copy(e.Name[:], raw)
		e.Address = common.HexToAddress(addr)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nameKeys(names []domain.Name) pq.ByteaArray {
	keys := make(pq.ByteaArray, len(names))
	for i, n := range names {
		keys[i] = append([]byte(nil), n[:]...)
	}
	return keys
}
