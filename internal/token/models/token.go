package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	dErrors "sos/pkg/domain-errors"
)

// Token is an ERC-20 balance sheet.
type Token struct {
	Address     common.Address
	Name        string
	Symbol      string
	Decimals    uint8
	Owner       common.Address
	TotalSupply *big.Int

	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewToken returns a token with initialSupply credited to owner.
func NewToken(addr common.Address, name, symbol string, decimals uint8, owner common.Address, initialSupply *big.Int) (*Token, error) {
	if name == "" || symbol == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token name and symbol are required")
	}
	t := &Token{
		Address:     addr,
		Name:        name,
		Symbol:      symbol,
		Decimals:    decimals,
		Owner:       owner,
		TotalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
	}
	if initialSupply != nil && initialSupply.Sign() > 0 {
		t.ApplyMint(owner, initialSupply)
	}
	return t, nil
}

func (t *Token) BalanceOf(holder common.Address) *big.Int {
	if b, ok := t.balances[holder]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// CanTransfer checks a plain transfer of amount out of from.
func (t *Token) CanTransfer(from, to common.Address, amount *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return dErrors.New(dErrors.CodeValidation, "ERC20: transfer to the zero address")
	}
	if t.BalanceOf(from).Cmp(amount) < 0 {
		return dErrors.New(dErrors.CodeInsufficientBalance, "ERC20: transfer amount exceeds balance")
	}
	return nil
}

// CanTransferFrom checks allowance before balance, matching ERC-20 revert order.
func (t *Token) CanTransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if t.Allowance(from, spender).Cmp(amount) < 0 {
		return dErrors.New(dErrors.CodeInsufficientAllowance, "ERC20: insufficient allowance")
	}
	return t.CanTransfer(from, to, amount)
}

func (t *Token) ApplyTransfer(from, to common.Address, amount *big.Int) {
	t.balances[from] = new(big.Int).Sub(t.BalanceOf(from), amount)
	t.balances[to] = new(big.Int).Add(t.BalanceOf(to), amount)
}

func (t *Token) ApplyTransferFrom(spender, from, to common.Address, amount *big.Int) {
	t.ApplyApprove(from, spender, new(big.Int).Sub(t.Allowance(from, spender), amount))
	t.ApplyTransfer(from, to, amount)
}

func (t *Token) ApplyApprove(owner, spender common.Address, amount *big.Int) {
	set, ok := t.allowances[owner]
	if !ok {
		set = make(map[common.Address]*big.Int)
		t.allowances[owner] = set
	}
	set[spender] = new(big.Int).Set(amount)
}

func (t *Token) ApplyMint(to common.Address, amount *big.Int) {
	t.balances[to] = new(big.Int).Add(t.BalanceOf(to), amount)
	t.TotalSupply = new(big.Int).Add(t.TotalSupply, amount)
}

// Clone copies the balance sheet so it can be restored later.
func (t *Token) Clone() *Token {
	c := *t
	c.TotalSupply = new(big.Int).Set(t.TotalSupply)
	c.balances = make(map[common.Address]*big.Int, len(t.balances))
	for holder, b := range t.balances {
		c.balances[holder] = new(big.Int).Set(b)
	}
	c.allowances = make(map[common.Address]map[common.Address]*big.Int, len(t.allowances))
	for owner, set := range t.allowances {
		cs := make(map[common.Address]*big.Int, len(set))
		for spender, a := range set {
			cs[spender] = new(big.Int).Set(a)
		}
		c.allowances[owner] = cs
	}
	return &c
}

func validateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be a non-negative integer")
	}
	return nil
}
