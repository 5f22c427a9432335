//go:build integration

package postgres_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"sos/internal/fund/models"
	fundpg "sos/internal/fund/store/postgres"
	"sos/pkg/domain"
	"sos/pkg/platform/sentinel"
	"sos/pkg/testutil"
	"sos/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *fundpg.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = fundpg.New(s.postgres.DB.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "funds"))
}

func (s *PostgresStoreSuite) newFund(id domain.FundID) *models.Fund {
	f, err := models.NewFund(id, testutil.Account(byte(0xf0+id)), testutil.Account(0x01), models.Params{
		Meta:          models.Meta{Name: "Relief"},
		Safe:          testutil.Account(0x5a),
		AllowedTokens: []common.Address{testutil.Account(0xe1)},
		Checks:        []models.Check{{Name: domain.MustName("KYC"), JobID: domain.MustName("JOB")}},
	}, time.Now().UTC())
	s.Require().NoError(err)
	return f
}

func (s *PostgresStoreSuite) TestSnapshotRoundTrip() {
	ctx := context.Background()
	f := s.newFund(0)
	f.Roles.Grant(domain.RoleDonation, testutil.Account(0xd0))
	f.ApplyUpdateBalance(testutil.Account(0xe1), big.NewInt(12))

	s.Require().NoError(s.store.Create(ctx, f))
	s.ErrorIs(s.store.Create(ctx, f), sentinel.ErrConflict)

	got, err := s.store.FindByID(ctx, 0)
	s.Require().NoError(err)
	s.Equal(f.Address, got.Address)
	s.Equal(f.Checks, got.Checks)
	s.True(got.Roles.Has(domain.RoleDonation, testutil.Account(0xd0)))
	s.True(got.Roles.Has(domain.RoleApprover, testutil.Account(0x01)))
	s.Equal(int64(12), got.DonatedTotal(testutil.Account(0xe1)).Int64())

	got.ApplyPause()
	s.Require().NoError(s.store.Save(ctx, got))
	again, err := s.store.FindByID(ctx, 0)
	s.Require().NoError(err)
	s.Equal(models.StatusPaused, again.Status)

	s.ErrorIs(s.store.Save(ctx, s.newFund(5)), sentinel.ErrNotFound)
	_, err = s.store.FindByID(ctx, 9)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.Create(ctx, s.newFund(1)))
	n, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	all, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Equal(domain.FundID(1), all[1].ID)
}

func (s *PostgresStoreSuite) TestDelete() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.newFund(0)))

	s.Require().NoError(s.store.Delete(ctx, 0))
	_, err := s.store.FindByID(ctx, 0)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, 0), sentinel.ErrNotFound)
}
