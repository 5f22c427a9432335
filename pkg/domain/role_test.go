package domain

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "sos/pkg/domain-errors"
)

func TestRoles(t *testing.T) {
	t.Run("roles are keccak of their name", func(t *testing.T) {
		assert.Equal(t, common.Hash(RoleApprover), crypto.Keccak256Hash([]byte("APPROVER_ROLE")))
		assert.Equal(t, common.Hash(RoleDonation), crypto.Keccak256Hash([]byte("DONATION_ROLE")))
	})

	t.Run("default admin is the zero hash", func(t *testing.T) {
		assert.Equal(t, common.Hash{}, common.Hash(RoleDefaultAdmin))
	})

	t.Run("parses names and hashes", func(t *testing.T) {
		r, err := ParseRole("MINTER_ROLE")
		require.NoError(t, err)
		assert.Equal(t, RoleMinter, r)

		r, err = ParseRole(RoleAuditor.Hex())
		require.NoError(t, err)
		assert.Equal(t, RoleAuditor, r)

		_, err = ParseRole("SUPERUSER")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestMissingRoleError(t *testing.T) {
	account := common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	var err error = NewMissingRole(RoleApprover, account)

	assert.True(t, dErrors.HasCode(err, dErrors.CodeMissingRole))

	var mre *MissingRoleError
	require.True(t, errors.As(err, &mre))
	assert.Equal(t, RoleApprover, mre.Role)
	assert.Contains(t, err.Error(), "AccessControl")
}
