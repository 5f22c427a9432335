// Package postgres stores fund snapshots as JSONB rows through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sos/internal/fund/models"
	"sos/pkg/domain"
	"sos/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Create(ctx context.Context, f *models.Fund) error {
	snapshot, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal fund: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO funds (id, address, snapshot) VALUES ($1, $2, $3)`,
		int64(f.ID), f.Address.Hex(), snapshot)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert fund: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, f *models.Fund) error {
	snapshot, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal fund: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE funds SET snapshot = $2, updated_at = now() WHERE id = $1`,
		int64(f.ID), snapshot)
	if err != nil {
		return fmt.Errorf("update fund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id domain.FundID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM funds WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("delete fund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id domain.FundID) (*models.Fund, error) {
	var snapshot []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM funds WHERE id = $1`, int64(id)).Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find fund: %w", err)
	}
	return decode(snapshot)
}

func (s *Store) List(ctx context.Context) ([]*models.Fund, error) {
	rows, err := s.pool.Query(ctx, `SELECT snapshot FROM funds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list funds: %w", err)
	}
	snapshots, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan funds: %w", err)
	}
	out := make([]*models.Fund, 0, len(snapshots))
	for _, snap := range snapshots {
		f, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM funds`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count funds: %w", err)
	}
	return n, nil
}

func decode(snapshot []byte) (*models.Fund, error) {
	var f models.Fund
	if err := json.Unmarshal(snapshot, &f); err != nil {
		return nil, fmt.Errorf("decode fund: %w", err)
	}
	if f.Donated == nil {
		f.Donated = make(map[common.Address]*big.Int)
	}
	return &f, nil
}
