package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	dErrors "sos/pkg/domain-errors"
)

// Role is keccak256 of the role's ASCII name.
type Role common.Hash

var (
	// RoleDefaultAdmin is the zero hash. It administers every other role.
	RoleDefaultAdmin = Role{}
	RoleApprover     = NewRole("APPROVER_ROLE")
	RoleAuditor      = NewRole("AUDITOR_ROLE")
	RoleStore        = NewRole("STORE_ROLE")
	RoleDonation     = NewRole("DONATION_ROLE")
	RoleMinter       = NewRole("MINTER_ROLE")
)

var roleNames = map[Role]string{
	RoleDefaultAdmin: "DEFAULT_ADMIN_ROLE",
	RoleApprover:     "APPROVER_ROLE",
	RoleAuditor:      "AUDITOR_ROLE",
	RoleStore:        "STORE_ROLE",
	RoleDonation:     "DONATION_ROLE",
	RoleMinter:       "MINTER_ROLE",
}

// NewRole hashes name into a Role.
func NewRole(name string) Role {
	return Role(crypto.Keccak256Hash([]byte(name)))
}

// ParseRole accepts a known role name or a 0x-prefixed hash.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	if strings.HasPrefix(s, "0x") && len(s) == 66 {
		if raw, err := hexutil.Decode(s); err == nil {
			return Role(common.BytesToHash(raw)), nil
		}
	}
	return Role{}, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown role %q", s))
}

func (r Role) Hex() string {
	return common.Hash(r).Hex()
}

// String returns the well known name when there is one.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return r.Hex()
}

// MissingRoleError reports an access control failure. It carries the role
// that was required so callers can assert on the exact hash.
type MissingRoleError struct {
	Role    Role
	Account common.Address
}

// NewMissingRole builds the error for account lacking role.
func NewMissingRole(role Role, account common.Address) *MissingRoleError {
	return &MissingRoleError{Role: role, Account: account}
}

func (e *MissingRoleError) Error() string {
	return fmt.Sprintf("AccessControl: account %s is missing role %s", e.Account.Hex(), e.Role.Hex())
}

// Unwrap exposes the coded form so dErrors.HasCode(err, CodeMissingRole) holds.
func (e *MissingRoleError) Unwrap() error {
	return dErrors.New(dErrors.CodeMissingRole, "missing role "+e.Role.String())
}
