package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"docqa/pkg/domain"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestWalletDeduct(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name    string
		wallet  Wallet
		amount  string
		want    string
		wantErr error
	}{
		{name: "sufficient", wallet: Wallet{OwnerRole: domain.RoleRegular, Balance: dec("1000")}, amount: "250", want: "750"},
		{name: "exact balance", wallet: Wallet{OwnerRole: domain.RoleRegular, Balance: dec("25.5")}, amount: "25.5", want: "0"},
		{name: "insufficient", wallet: Wallet{OwnerRole: domain.RoleRegular, Balance: dec("10")}, amount: "10.01", want: "10", wantErr: ErrInsufficientFunds},
		{name: "negative balance", wallet: Wallet{OwnerRole: domain.RoleRegular, Balance: dec("-10")}, amount: "0", want: "-10", wantErr: ErrNegativeBalance},
		{name: "admin unchanged", wallet: Wallet{OwnerRole: domain.RoleAdmin, Balance: dec("5")}, amount: "500", want: "5"},
		{name: "admin negative unchanged", wallet: Wallet{OwnerRole: domain.RoleAdmin, Balance: dec("-5")}, amount: "1", want: "-5"},
		{name: "negative amount", wallet: Wallet{OwnerRole: domain.RoleRegular, Balance: dec("5")}, amount: "-1", want: "5", wantErr: ErrInvalidAmount},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.wallet.Deduct(dec(tc.amount), now)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("deduct: %v", err)
			}
			if !got.Balance.Equal(dec(tc.want)) {
				t.Fatalf("balance mismatch: got %s want %s", got.Balance, tc.want)
			}
			changed := !got.Balance.Equal(tc.wallet.Balance)
			if changed && !got.UpdatedAt.Equal(now) {
				t.Fatalf("expected updated_at to move on mutation")
			}
			if !changed && got.UpdatedAt.Equal(now) {
				t.Fatalf("unchanged wallet should keep updated_at")
			}
		})
	}
}

func TestWalletAddRejectsNonPositive(t *testing.T) {
	w := Wallet{Balance: dec("3")}
	for _, amount := range []string{"0", "-1"} {
		got, err := w.Add(dec(amount), time.Now())
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
		if !got.Balance.Equal(dec("3")) {
			t.Fatalf("amount %s: wallet changed to %s", amount, got.Balance)
		}
	}
}

func TestDeductThenAddRestoresBalance(t *testing.T) {
	now := time.Now()
	for _, start := range []string{"1000", "0.01", "250"} {
		w := Wallet{OwnerRole: domain.RoleRegular, Balance: dec(start)}
		amount := w.Balance
		debited, err := w.Deduct(amount, now)
		if err != nil {
			t.Fatalf("deduct: %v", err)
		}
		restored, err := debited.Add(amount, now)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if !restored.Balance.Equal(w.Balance) {
			t.Fatalf("refund asymmetry: start %s got %s", w.Balance, restored.Balance)
		}
	}
}

func TestTransfer(t *testing.T) {
	now := time.Now()
	src := Wallet{OwnerID: "a", OwnerRole: domain.RoleRegular, Balance: dec("100")}
	dst := Wallet{OwnerID: "b", OwnerRole: domain.RoleRegular, Balance: dec("5")}

	if _, _, err := Transfer(src, dst, dec("10"), domain.RoleRegular, now); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for regular actor, got %v", err)
	}

	from, to, err := Transfer(src, dst, dec("40"), domain.RoleAdmin, now)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !from.Balance.Equal(dec("60")) || !to.Balance.Equal(dec("45")) {
		t.Fatalf("unexpected balances: from=%s to=%s", from.Balance, to.Balance)
	}

	from, to, err = Transfer(src, dst, dec("500"), domain.RoleAdmin, now)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !from.Balance.Equal(src.Balance) || !to.Balance.Equal(dst.Balance) {
		t.Fatalf("failed transfer changed balances: from=%s to=%s", from.Balance, to.Balance)
	}

	if _, _, err := Transfer(src, dst, dec("0"), domain.RoleAdmin, now); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestAdminTopUp(t *testing.T) {
	now := time.Now()
	target := Wallet{OwnerRole: domain.RoleRegular, Balance: dec("-10")}
	if _, err := AdminTopUp(target, dec("50"), domain.RoleRegular, now); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	got, err := AdminTopUp(target, dec("50"), domain.RoleAdmin, now)
	if err != nil {
		t.Fatalf("admin top up: %v", err)
	}
	if !got.Balance.Equal(dec("40")) {
		t.Fatalf("unexpected balance %s", got.Balance)
	}
}
