//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"sos/internal/registry/models"
	registrypg "sos/internal/registry/store/postgres"
	"sos/pkg/domain"
	audit "sos/pkg/platform/audit"
	auditpg "sos/pkg/platform/audit/store/postgres"
	"sos/pkg/platform/sentinel"
	"sos/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *registrypg.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = registrypg.New(s.postgres.DB.SQL)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "registry_entries", "outbox"))
}

func (s *PostgresStoreSuite) TestUpsertAndLookup() {
	ctx := context.Background()
	a := common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	b := common.HexToAddress("0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2")

	_, err := s.store.Find(ctx, domain.NameDonation)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.Save(ctx, []models.Entry{{Name: domain.NameDonation, Address: a}}))
	s.Require().NoError(s.store.Save(ctx, []models.Entry{
		{Name: domain.NameDonation, Address: b},
		{Name: domain.NameFundManager, Address: a},
	}))

	got, err := s.store.Find(ctx, domain.NameDonation)
	s.Require().NoError(err)
	s.Equal(b, got)

	many, err := s.store.FindMany(ctx, []domain.Name{domain.NameFundManager, domain.NameSOS})
	s.Require().NoError(err)
	s.Equal([]common.Address{a, {}}, many)

	all, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *PostgresStoreSuite) TestDelete() {
	ctx := context.Background()
	a := common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	s.Require().NoError(s.store.Save(ctx, []models.Entry{
		{Name: domain.NameDonation, Address: a},
		{Name: domain.NameSOS, Address: a},
	}))

	s.Require().NoError(s.store.Delete(ctx, []domain.Name{domain.NameDonation, domain.NameOracle}))
	_, err := s.store.Find(ctx, domain.NameDonation)
	s.ErrorIs(err, sentinel.ErrNotFound)
	all, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *PostgresStoreSuite) TestRunInTxCarriesOutboxWrites() {
	ctx := context.Background()
	outbox := auditpg.New(s.postgres.DB.SQL)
	a := common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	boom := errors.New("boom")
	write := func(ctx context.Context) error {
		if err := s.store.Save(ctx, []models.Entry{{Name: domain.NameGovernor, Address: a}}); err != nil {
			return err
		}
		return outbox.Append(ctx, audit.Event{
			Subject: domain.NameGovernor.String(),
			Action:  string(audit.EventRegistered),
		})
	}
	outboxRows := func() int {
		var n int
		s.Require().NoError(s.postgres.DB.SQL.QueryRowContext(ctx, `SELECT count(*) FROM outbox`).Scan(&n))
		return n
	}

	s.Run("a failed batch leaves neither the entry nor its event", func() {
		err := s.store.RunInTx(ctx, func(ctx context.Context) error {
			if err := write(ctx); err != nil {
				return err
			}
			return boom
		})
		s.ErrorIs(err, boom)
		_, err = s.store.Find(ctx, domain.NameGovernor)
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.Zero(outboxRows())
	})

	s.Run("a committed batch lands with its event", func() {
		s.Require().NoError(s.store.RunInTx(ctx, write))
		got, err := s.store.Find(ctx, domain.NameGovernor)
		s.Require().NoError(err)
		s.Equal(a, got)
		s.Equal(1, outboxRows())
	})
}
