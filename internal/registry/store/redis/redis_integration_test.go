//go:build integration

package redis_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"sos/internal/registry/models"
	registryredis "sos/internal/registry/store/redis"
	"sos/pkg/domain"
	"sos/pkg/platform/sentinel"
	"sos/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *registryredis.Store
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = registryredis.New(s.redis.Client, "sos:registry:test")
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	a := common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	b := common.HexToAddress("0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2")

	s.Run("missing names are not found", func() {
		_, err := s.store.Find(ctx, domain.NameSOS)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("batch save is visible to every read path", func() {
		s.Require().NoError(s.store.Save(ctx, []models.Entry{
			{Name: domain.NameSOS, Address: a},
			{Name: domain.NameGovernor, Address: b},
		}))

		got, err := s.store.Find(ctx, domain.NameSOS)
		s.Require().NoError(err)
		s.Equal(a, got)

		many, err := s.store.FindMany(ctx, []domain.Name{domain.NameGovernor, domain.NameOracle, domain.NameSOS})
		s.Require().NoError(err)
		s.Equal([]common.Address{b, {}, a}, many)

		all, err := s.store.List(ctx)
		s.Require().NoError(err)
		s.Len(all, 2)
		s.Equal(domain.NameGovernor, all[0].Name)
	})

	s.Run("delete drops only the named entries", func() {
		s.Require().NoError(s.store.Delete(ctx, []domain.Name{domain.NameSOS, domain.NameOracle}))

		_, err := s.store.Find(ctx, domain.NameSOS)
		s.ErrorIs(err, sentinel.ErrNotFound)
		got, err := s.store.Find(ctx, domain.NameGovernor)
		s.Require().NoError(err)
		s.Equal(b, got)
	})
}
