package access

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	approver = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func TestTable(t *testing.T) {
	t.Run("admin holds default admin role", func(t *testing.T) {
		tbl := NewTable(admin)
		assert.True(t, tbl.Has(domain.RoleDefaultAdmin, admin))
		assert.False(t, tbl.Has(domain.RoleDefaultAdmin, stranger))
	})

	t.Run("zero admin yields empty table", func(t *testing.T) {
		tbl := NewTable(common.Address{})
		assert.Empty(t, tbl.Members(domain.RoleDefaultAdmin))
	})

	t.Run("grant and revoke report changes", func(t *testing.T) {
		tbl := NewTable(admin)
		assert.True(t, tbl.Grant(domain.RoleApprover, approver))
		assert.False(t, tbl.Grant(domain.RoleApprover, approver))
		assert.True(t, tbl.Revoke(domain.RoleApprover, approver))
		assert.False(t, tbl.Revoke(domain.RoleApprover, approver))
	})

	t.Run("require returns missing role carrying the role", func(t *testing.T) {
		tbl := NewTable(admin)
		err := tbl.Require(domain.RoleDonation, stranger)
		require.Error(t, err)

		var missing *domain.MissingRoleError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, domain.RoleDonation, missing.Role)
		assert.Equal(t, stranger, missing.Account)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeMissingRole))
	})

	t.Run("grantAs requires default admin", func(t *testing.T) {
		tbl := NewTable(admin)
		_, err := tbl.GrantAs(stranger, domain.RoleApprover, stranger)
		var missing *domain.MissingRoleError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, domain.RoleDefaultAdmin, missing.Role)
		assert.False(t, tbl.Has(domain.RoleApprover, stranger))

		changed, err := tbl.GrantAs(admin, domain.RoleApprover, approver)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = tbl.RevokeAs(admin, domain.RoleApprover, approver)
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("clone is independent", func(t *testing.T) {
		tbl := NewTable(admin)
		c := tbl.Clone()
		c.Grant(domain.RoleApprover, approver)
		assert.False(t, tbl.Has(domain.RoleApprover, approver))
		assert.True(t, c.Has(domain.RoleDefaultAdmin, admin))
	})

	t.Run("json round trip", func(t *testing.T) {
		tbl := NewTable(admin)
		tbl.Grant(domain.RoleApprover, approver)
		tbl.Grant(domain.RoleApprover, admin)

		raw, err := json.Marshal(tbl)
		require.NoError(t, err)

		decoded := &Table{}
		require.NoError(t, json.Unmarshal(raw, decoded))
		assert.Equal(t, tbl.Members(domain.RoleApprover), decoded.Members(domain.RoleApprover))
		assert.True(t, decoded.Has(domain.RoleDefaultAdmin, admin))
	})
}
