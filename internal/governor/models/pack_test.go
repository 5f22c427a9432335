package models

import (
	"bytes"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fundmodels "sos/internal/fund/models"
	"sos/pkg/domain"
)

var (
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	token     = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

func defaultChecks() []fundmodels.Check {
	return []fundmodels.Check{
		{Name: domain.MustName("TEST_CHECK_001")},
		{Name: domain.MustName("TEST_CHECK_002")},
		{Name: domain.MustName("TEST_CHECK_003"), JobID: domain.MustName("JOB_1")},
	}
}

func sampleRequest(lat, lon int64) *Request {
	return NewRequest(7, Input{
		FundID:      0,
		Amount:      domain.MustParseUnits("1000", 18),
		Token:       token,
		Recipient:   recipient,
		RequestType: 1,
		Location:    Location{Lat: big.NewInt(lat), Lon: big.NewInt(lon)},
	}, defaultChecks(), time.Unix(0, 0))
}

func TestPackRequestWithCheck(t *testing.T) {
	t.Run("round trips every field", func(t *testing.T) {
		r := sampleRequest(2561290300000, 1234833000000)

		data, err := PackRequestWithCheck(r, 2)
		require.NoError(t, err)
		require.Len(t, data, PackedSize)

		got, err := UnpackRequestWithCheck(data)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), got.RequestID.Uint64())
		assert.Equal(t, int64(2), got.CheckIndex.Int64())
		assert.Equal(t, uint8(1), got.RequestType)
		assert.Equal(t, int64(2561290300000), got.Lat.Int64())
		assert.Equal(t, int64(1234833000000), got.Lon.Int64())
		assert.Equal(t, recipient, got.Recipient)
		assert.Zero(t, got.Reserved.Sign())
		assert.Equal(t, 0, got.Amount.Cmp(domain.MustParseUnits("1000", 18)))
		assert.Equal(t, token, got.Token)
	})

	t.Run("is deterministic", func(t *testing.T) {
		a, err := PackRequestWithCheck(sampleRequest(1, 2), 0)
		require.NoError(t, err)
		b, err := PackRequestWithCheck(sampleRequest(1, 2), 0)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(a, b))
	})

	t.Run("lays out one value per word", func(t *testing.T) {
		data, err := PackRequestWithCheck(sampleRequest(1, 2), 1)
		require.NoError(t, err)
		word := func(i int) []byte { return data[i*32 : (i+1)*32] }
		assert.Equal(t, byte(7), word(0)[31])
		assert.Equal(t, byte(1), word(1)[31])
		assert.Equal(t, byte(1), word(2)[31])
		assert.Equal(t, recipient.Bytes(), word(5)[12:])
		assert.Equal(t, make([]byte, 32), word(6))
		assert.Equal(t, token.Bytes(), word(8)[12:])
	})

	t.Run("negative coordinates use two's complement", func(t *testing.T) {
		data, err := PackRequestWithCheck(sampleRequest(-2561290300000, -1), 0)
		require.NoError(t, err)
		assert.Equal(t, byte(0xff), data[3*32])

		got, err := UnpackRequestWithCheck(data)
		require.NoError(t, err)
		assert.Equal(t, int64(-2561290300000), got.Lat.Int64())
		assert.Equal(t, int64(-1), got.Lon.Int64())
	})

	t.Run("rejects unknown check index", func(t *testing.T) {
		_, err := PackRequestWithCheck(sampleRequest(1, 2), 3)
		assert.Error(t, err)
	})

	t.Run("rejects short input", func(t *testing.T) {
		_, err := UnpackRequestWithCheck(make([]byte, 64))
		assert.Error(t, err)
	})
}
