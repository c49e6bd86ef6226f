package ledger

import (
	"testing"

	"docqa/pkg/domain"
)

func TestTariffCost(t *testing.T) {
	tariff := NewTariff(DefaultRatePerThousand)
	tests := []struct {
		tokens int
		role   domain.UserRole
		want   string
	}{
		{tokens: 2500, role: domain.RoleRegular, want: "250"},
		{tokens: 250, role: domain.RoleRegular, want: "25"},
		{tokens: 1333, role: domain.RoleRegular, want: "133.3"},
		{tokens: 1, role: domain.RoleRegular, want: "0.1"},
		{tokens: 1234, role: domain.RoleRegular, want: "123.4"},
		{tokens: 0, role: domain.RoleRegular, want: "0"},
		{tokens: 2500, role: domain.RoleAdmin, want: "0"},
	}
	for _, tc := range tests {
		got := tariff.Cost(tc.tokens, tc.role)
		if !got.Equal(dec(tc.want)) {
			t.Fatalf("tokens=%d role=%s: got %s want %s", tc.tokens, tc.role, got, tc.want)
		}
	}
}

func TestTariffRoundsToCents(t *testing.T) {
	tariff := NewTariff(dec("0.333"))
	got := tariff.Cost(1000, domain.RoleRegular)
	if !got.Equal(dec("0.33")) {
		t.Fatalf("got %s want 0.33", got)
	}
}
