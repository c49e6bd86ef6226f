// Package ledger holds the pure balance arithmetic: wallets, affordability
// checks, and the token tariff. Nothing here touches storage; callers apply
// the returned snapshots through the store.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"docqa/pkg/domain"
)

// Wallet is an immutable balance snapshot of one user.
type Wallet struct {
	OwnerID   string
	OwnerRole domain.UserRole
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

// WalletOf snapshots the balance of u.
func WalletOf(u domain.User) Wallet {
	return Wallet{
		OwnerID:   u.ID,
		OwnerRole: u.Role,
		Balance:   u.Balance,
		UpdatedAt: u.UpdatedAt,
	}
}

func (w Wallet) exempt() bool {
	return w.OwnerRole == domain.RoleAdmin
}

// Deduct returns the wallet after removing amount.
// Administrator wallets are never debited and are returned unchanged.
func (w Wallet) Deduct(amount decimal.Decimal, now time.Time) (Wallet, error) {
	if amount.IsNegative() {
		return w, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.StringFixed(2))
	}
	if w.exempt() {
		return w, nil
	}
	if w.Balance.IsNegative() {
		return w, fmt.Errorf("%w: %s", ErrNegativeBalance, w.Balance.StringFixed(2))
	}
	if w.Balance.LessThan(amount) {
		return w, fmt.Errorf("%w: balance %s, required %s", ErrInsufficientFunds, w.Balance.StringFixed(2), amount.StringFixed(2))
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = now
	return w, nil
}

// Add returns the wallet after crediting amount.
func (w Wallet) Add(amount decimal.Decimal, now time.Time) (Wallet, error) {
	if !amount.IsPositive() {
		return w, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.StringFixed(2))
	}
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = now
	return w, nil
}

// Transfer moves amount from source to target on behalf of actor.
// Either both returned wallets reflect the move or neither changes.
func Transfer(source, target Wallet, amount decimal.Decimal, actor domain.UserRole, now time.Time) (Wallet, Wallet, error) {
	if actor != domain.RoleAdmin {
		return source, target, ErrForbidden
	}
	if !amount.IsPositive() {
		return source, target, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.StringFixed(2))
	}
	debited, err := source.Deduct(amount, now)
	if err != nil {
		return source, target, err
	}
	credited, err := target.Add(amount, now)
	if err != nil {
		return source, target, err
	}
	return debited, credited, nil
}

// AdminTopUp credits target on behalf of actor, who must be an administrator.
func AdminTopUp(target Wallet, amount decimal.Decimal, actor domain.UserRole, now time.Time) (Wallet, error) {
	if actor != domain.RoleAdmin {
		return target, ErrForbidden
	}
	return target.Add(amount, now)
}
