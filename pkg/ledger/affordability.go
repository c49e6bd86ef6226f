package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"docqa/pkg/domain"
)

type Reason string

const (
	ReasonAccountInactive   Reason = "account_inactive"
	ReasonNegativeBalance   Reason = "negative_balance"
	ReasonInsufficientFunds Reason = "insufficient_funds"
)

// AffordabilityError explains why a user cannot pay for an operation.
type AffordabilityError struct {
	Reason   Reason
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *AffordabilityError) Error() string {
	switch e.Reason {
	case ReasonAccountInactive:
		return "account is inactive"
	case ReasonNegativeBalance:
		return fmt.Sprintf("balance is negative: %s", e.Balance.StringFixed(2))
	default:
		return fmt.Sprintf("insufficient funds: balance %s, required %s", e.Balance.StringFixed(2), e.Required.StringFixed(2))
	}
}

func (e *AffordabilityError) Unwrap() error {
	switch e.Reason {
	case ReasonAccountInactive:
		return ErrAccountInactive
	case ReasonNegativeBalance:
		return ErrNegativeBalance
	default:
		return ErrInsufficientFunds
	}
}

// CheckAffordability reports whether u may pay required.
// Checks run in order: inactive account, administrator pass, negative
// balance, then insufficient balance.
func CheckAffordability(u domain.User, required decimal.Decimal) error {
	if !u.Active() {
		return &AffordabilityError{Reason: ReasonAccountInactive, Balance: u.Balance, Required: required}
	}
	if u.IsAdmin() {
		return nil
	}
	if u.Balance.IsNegative() {
		return &AffordabilityError{Reason: ReasonNegativeBalance, Balance: u.Balance, Required: required}
	}
	if u.Balance.LessThan(required) {
		return &AffordabilityError{Reason: ReasonInsufficientFunds, Balance: u.Balance, Required: required}
	}
	return nil
}
