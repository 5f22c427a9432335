// Package postgres stores Governor requests as JSONB snapshots through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sos/internal/governor/models"
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

func (s *Store) Create(ctx context.Context, r *models.Request) error {
	snapshot, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO governor_requests (id, fund_id, snapshot) VALUES ($1, $2, $3)`,
		int64(r.ID), int64(r.FundID), snapshot)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, r *models.Request) error {
	snapshot, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE governor_requests SET snapshot = $2, updated_at = now() WHERE id = $1`,
		int64(r.ID), snapshot)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id domain.RequestID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM governor_requests WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id domain.RequestID) (*models.Request, error) {
	var snapshot []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM governor_requests WHERE id = $1`, int64(id)).Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find request: %w", err)
	}
	return decode(snapshot)
}

func (s *Store) List(ctx context.Context, fund *domain.FundID) ([]*models.Request, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if fund != nil {
		rows, err = s.pool.Query(ctx, `SELECT snapshot FROM governor_requests WHERE fund_id = $1 ORDER BY id`, int64(*fund))
	} else {
		rows, err = s.pool.Query(ctx, `SELECT snapshot FROM governor_requests ORDER BY id`)
	}
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	snapshots, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan requests: %w", err)
	}
	out := make([]*models.Request, 0, len(snapshots))
	for _, snap := range snapshots {
		r, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM governor_requests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return n, nil
}

func decode(snapshot []byte) (*models.Request, error) {
	var r models.Request
	if err := json.Unmarshal(snapshot, &r); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &r, nil
}
