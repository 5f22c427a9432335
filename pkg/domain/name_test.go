package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "sos/pkg/domain-errors"
)

func TestNameFromString(t *testing.T) {
	t.Run("right pads with zero bytes", func(t *testing.T) {
		n, err := NameFromString("TEST")
		require.NoError(t, err)
		assert.Equal(t, "0x5445535400000000000000000000000000000000000000000000000000000000", n.Hex())
		assert.Equal(t, "TEST", n.String())
	})

	t.Run("empty string is the zero name", func(t *testing.T) {
		n, err := NameFromString("")
		require.NoError(t, err)
		assert.True(t, n.IsZero())
	})

	t.Run("rejects names longer than 31 bytes", func(t *testing.T) {
		_, err := NameFromString("THIS_NAME_IS_DEFINITELY_TOO_LONG")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts exactly 31 bytes", func(t *testing.T) {
		_, err := NameFromString("GNOSIS_SAFE_PROXY_FACTORY_12345")
		require.NoError(t, err)
	})
}

func TestParseName(t *testing.T) {
	t.Run("parses hex words", func(t *testing.T) {
		n, err := ParseName("0x5445535400000000000000000000000000000000000000000000000000000000")
		require.NoError(t, err)
		assert.Equal(t, MustName("TEST"), n)
	})

	t.Run("falls back to plain text", func(t *testing.T) {
		n, err := ParseName("FUND_MANAGER")
		require.NoError(t, err)
		assert.Equal(t, NameFundManager, n)
	})
}

func TestNameJSON(t *testing.T) {
	raw, err := json.Marshal(MustName("TEST_CHECK_001"))
	require.NoError(t, err)
	assert.JSONEq(t, `"TEST_CHECK_001"`, string(raw))

	var decoded Name
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, MustName("TEST_CHECK_001"), decoded)
}
