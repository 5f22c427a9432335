// Package access implements role based access control for ledger components.
// Every role is administered by DEFAULT_ADMIN_ROLE.
package access

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"sos/pkg/domain"
)

// Table maps roles to the accounts holding them.
type Table struct {
	mu      sync.RWMutex
	members map[domain.Role]map[common.Address]struct{}
}

// NewTable returns a table where admin holds DEFAULT_ADMIN_ROLE. A zero admin
// yields an empty table.
func NewTable(admin common.Address) *Table {
	t := &Table{members: make(map[domain.Role]map[common.Address]struct{})}
	if admin != (common.Address{}) {
		t.grant(domain.RoleDefaultAdmin, admin)
	}
	return t
}

func (t *Table) Has(role domain.Role, account common.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.members[role][account]
	return ok
}

// Require fails with a MissingRoleError unless account holds role.
func (t *Table) Require(role domain.Role, account common.Address) error {
	if !t.Has(role, account) {
		return domain.NewMissingRole(role, account)
	}
	return nil
}

// Grant adds account to role and reports whether membership changed.
// Callers are expected to have checked admin rights, see GrantAs.
func (t *Table) Grant(role domain.Role, account common.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.grant(role, account)
}

// Revoke removes account from role and reports whether membership changed.
func (t *Table) Revoke(role domain.Role, account common.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.members[role]
	if !ok {
		return false
	}
	if _, ok := set[account]; !ok {
		return false
	}
	delete(set, account)
	if len(set) == 0 {
		delete(t.members, role)
	}
	return true
}

// GrantAs grants role to account on behalf of caller, who must hold
// DEFAULT_ADMIN_ROLE.
func (t *Table) GrantAs(caller common.Address, role domain.Role, account common.Address) (bool, error) {
	if err := t.Require(domain.RoleDefaultAdmin, caller); err != nil {
		return false, err
	}
	return t.Grant(role, account), nil
}

// RevokeAs revokes role from account on behalf of caller, who must hold
// DEFAULT_ADMIN_ROLE.
func (t *Table) RevokeAs(caller common.Address, role domain.Role, account common.Address) (bool, error) {
	if err := t.Require(domain.RoleDefaultAdmin, caller); err != nil {
		return false, err
	}
	return t.Revoke(role, account), nil
}

// Members lists the holders of role in byte order.
func (t *Table) Members(role domain.Role) []common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]common.Address, 0, len(t.members[role]))
	for a := range t.members[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Clone returns an independent copy.
func (t *Table) Clone() *Table {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c := &Table{members: make(map[domain.Role]map[common.Address]struct{}, len(t.members))}
	for role, set := range t.members {
		for a := range set {
			c.grant(role, a)
		}
	}
	return c
}

// MarshalJSON encodes the table as role hash -> sorted member list.
func (t *Table) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	roles := make([]domain.Role, 0, len(t.members))
	for r := range t.members {
		roles = append(roles, r)
	}
	t.mu.RUnlock()

	out := make(map[string][]common.Address, len(roles))
	for _, r := range roles {
		out[r.Hex()] = t.Members(r)
	}
	return json.Marshal(out)
}

func (t *Table) UnmarshalJSON(data []byte) error {
	var raw map[string][]common.Address
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members = make(map[domain.Role]map[common.Address]struct{}, len(raw))
	for hex, accounts := range raw {
		role := domain.Role(common.HexToHash(hex))
		for _, a := range accounts {
			t.grant(role, a)
		}
	}
	return nil
}

func (t *Table) grant(role domain.Role, account common.Address) bool {
	set, ok := t.members[role]
	if !ok {
		set = make(map[common.Address]struct{})
		t.members[role] = set
	}
	if _, ok := set[account]; ok {
		return false
	}
	set[account] = struct{}{}
	return true
}
